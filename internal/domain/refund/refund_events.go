package refund

import (
	"time"

	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event types published as refunds move through their lifecycle.
// The suffix after "refund." is the notification name.
const (
	EventTypeRefundRequested           = "refund.requested"
	EventTypeRefundApproved            = "refund.approved"
	EventTypeRefundRejected            = "refund.rejected"
	EventTypeRefundCancelled           = "refund.cancelled"
	EventTypeRefundCompletedCreditNote = "refund.completed_credit_note"
	EventTypeRefundCompletedMoney      = "refund.completed_money"
	EventTypeRefundFailed              = "refund.failed"
)

// NotificationEventTypes are the events delivered to the notification sink
var NotificationEventTypes = []string{
	EventTypeRefundRequested,
	EventTypeRefundApproved,
	EventTypeRefundRejected,
	EventTypeRefundCompletedCreditNote,
	EventTypeRefundCompletedMoney,
}

// RefundSnapshot is the refund state carried by every refund event
type RefundSnapshot struct {
	Reference  string          `json:"reference"`
	CustomerID uuid.UUID       `json:"customer_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     Method          `json:"method"`
	Status     Status          `json:"status"`
}

func snapshotOf(r *Refund) RefundSnapshot {
	return RefundSnapshot{
		Reference:  r.Reference,
		CustomerID: r.CustomerID,
		Amount:     r.Amount,
		Method:     r.Method,
		Status:     r.Status,
	}
}

// RefundEvent is implemented by every refund lifecycle event
type RefundEvent interface {
	shared.DomainEvent
	Snapshot() RefundSnapshot
}

// RefundRequestedEvent is raised when a refund request is created
type RefundRequestedEvent struct {
	shared.BaseDomainEvent
	RefundSnapshot
	Reason string `json:"reason"`
}

// Snapshot returns the refund state at the time of the event
func (e *RefundRequestedEvent) Snapshot() RefundSnapshot { return e.RefundSnapshot }

// NewRefundRequestedEvent creates a RefundRequestedEvent
func NewRefundRequestedEvent(r *Refund, now time.Time) *RefundRequestedEvent {
	return &RefundRequestedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRefundRequested, AggregateTypeRefund, r.ID, r.TenantID, now),
		RefundSnapshot:  snapshotOf(r),
		Reason:          r.Reason,
	}
}

// RefundApprovedEvent is raised when a refund is approved
type RefundApprovedEvent struct {
	shared.BaseDomainEvent
	RefundSnapshot
	ApprovedBy *uuid.UUID `json:"approved_by,omitempty"`
}

// Snapshot returns the refund state at the time of the event
func (e *RefundApprovedEvent) Snapshot() RefundSnapshot { return e.RefundSnapshot }

// NewRefundApprovedEvent creates a RefundApprovedEvent
func NewRefundApprovedEvent(r *Refund, now time.Time) *RefundApprovedEvent {
	return &RefundApprovedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRefundApproved, AggregateTypeRefund, r.ID, r.TenantID, now),
		RefundSnapshot:  snapshotOf(r),
		ApprovedBy:      r.ProcessedBy,
	}
}

// RefundRejectedEvent is raised when a refund is rejected
type RefundRejectedEvent struct {
	shared.BaseDomainEvent
	RefundSnapshot
	RejectionReason string `json:"rejection_reason"`
}

// Snapshot returns the refund state at the time of the event
func (e *RefundRejectedEvent) Snapshot() RefundSnapshot { return e.RefundSnapshot }

// NewRefundRejectedEvent creates a RefundRejectedEvent
func NewRefundRejectedEvent(r *Refund, now time.Time) *RefundRejectedEvent {
	return &RefundRejectedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRefundRejected, AggregateTypeRefund, r.ID, r.TenantID, now),
		RefundSnapshot:  snapshotOf(r),
		RejectionReason: r.RejectionReason,
	}
}

// RefundCancelledEvent is raised when a customer withdraws a pending refund
type RefundCancelledEvent struct {
	shared.BaseDomainEvent
	RefundSnapshot
}

// Snapshot returns the refund state at the time of the event
func (e *RefundCancelledEvent) Snapshot() RefundSnapshot { return e.RefundSnapshot }

// NewRefundCancelledEvent creates a RefundCancelledEvent
func NewRefundCancelledEvent(r *Refund, now time.Time) *RefundCancelledEvent {
	return &RefundCancelledEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRefundCancelled, AggregateTypeRefund, r.ID, r.TenantID, now),
		RefundSnapshot:  snapshotOf(r),
	}
}

// RefundCompletedEvent is raised when a refund settles. Its event type depends
// on the method: completed_credit_note or completed_money.
type RefundCompletedEvent struct {
	shared.BaseDomainEvent
	RefundSnapshot
	CreditNoteID *uuid.UUID `json:"credit_note_id,omitempty"`
}

// Snapshot returns the refund state at the time of the event
func (e *RefundCompletedEvent) Snapshot() RefundSnapshot { return e.RefundSnapshot }

// NewRefundCompletedEvent creates a RefundCompletedEvent
func NewRefundCompletedEvent(r *Refund, now time.Time) *RefundCompletedEvent {
	eventType := EventTypeRefundCompletedMoney
	if r.Method.IsCreditNote() {
		eventType = EventTypeRefundCompletedCreditNote
	}
	return &RefundCompletedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, AggregateTypeRefund, r.ID, r.TenantID, now),
		RefundSnapshot:  snapshotOf(r),
		CreditNoteID:    r.CreditNoteID,
	}
}

// RefundFailedEvent is raised when a gateway settlement attempt fails
type RefundFailedEvent struct {
	shared.BaseDomainEvent
	RefundSnapshot
	FailureReason string `json:"failure_reason"`
}

// Snapshot returns the refund state at the time of the event
func (e *RefundFailedEvent) Snapshot() RefundSnapshot { return e.RefundSnapshot }

// NewRefundFailedEvent creates a RefundFailedEvent
func NewRefundFailedEvent(r *Refund, now time.Time) *RefundFailedEvent {
	return &RefundFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeRefundFailed, AggregateTypeRefund, r.ID, r.TenantID, now),
		RefundSnapshot:  snapshotOf(r),
		FailureReason:   r.FailureReason,
	}
}
