package refund

import (
	"strings"
	"time"

	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// AggregateTypeRefund is the aggregate type name used on refund events
const AggregateTypeRefund = "Refund"

// Status represents the lifecycle state of a refund
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists every legal edge of the refund state machine
var transitions = map[Status][]Status{
	StatusPending:    {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:   {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
}

// IsValid checks if the status is a known refund status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for absorbing states
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusCancelled
}

// CanTransitionTo reports whether next is directly reachable from s
func (s Status) CanTransitionTo(next Status) bool {
	return lo.Contains(transitions[s], next)
}

// Method is how a refund is settled: a credit note or a named money gateway
type Method string

// MethodCreditNote settles the refund as store credit
const MethodCreditNote Method = "credit_note"

// IsCreditNote reports whether the refund settles as store credit
func (m Method) IsCreditNote() bool {
	return m == MethodCreditNote
}

// IsGateway reports whether the refund moves money through an external gateway
func (m Method) IsGateway() bool {
	return m != "" && m != MethodCreditNote
}

// String returns the string representation of Method
func (m Method) String() string {
	return string(m)
}

// Refund is the aggregate root for one refund request and its settlement
type Refund struct {
	shared.TenantAggregateRoot

	Reference    string
	SaleID       *uuid.UUID
	OrderID      *uuid.UUID
	SaleReturnID *uuid.UUID
	CustomerID   uuid.UUID
	Amount       decimal.Decimal
	Method       Method
	Status       Status

	Reason          string
	AdminNotes      string
	RejectionReason string
	FailureReason   string

	RequestedAt time.Time
	ApprovedAt  *time.Time
	ProcessedAt *time.Time
	CompletedAt *time.Time
	PaidAt      *time.Time
	ProcessedBy *uuid.UUID

	// CreditNoteID is set once the credit note instrument exists
	CreditNoteID *uuid.UUID

	Items []RefundItem
}

// NewRefundParams carries the validated request data for a new refund
type NewRefundParams struct {
	Source     SourceRef
	CustomerID uuid.UUID
	Amount     decimal.Decimal
	Method     Method
	Reason     string
	Items      []NewRefundItemParams
	ActorID    *uuid.UUID
}

// NewRefund creates a refund in the pending state
func NewRefund(tenantID uuid.UUID, params NewRefundParams, reference string, now time.Time) (*Refund, error) {
	if params.Source.IsEmpty() {
		return nil, NewValidationError("A sale, order or sale return reference is required")
	}
	if !params.Amount.IsPositive() {
		return nil, NewValidationError("Refund amount must be greater than zero")
	}
	if params.Method == "" {
		return nil, NewValidationError("Refund method is required")
	}
	if params.CustomerID == uuid.Nil {
		return nil, NewValidationError("Customer is required")
	}
	if reference == "" {
		return nil, NewValidationError("Refund reference is required")
	}

	r := &Refund{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID, now),
		Reference:           reference,
		SaleID:              params.Source.SaleID,
		OrderID:             params.Source.OrderID,
		SaleReturnID:        params.Source.SaleReturnID,
		CustomerID:          params.CustomerID,
		Amount:              RoundAmount(params.Amount),
		Method:              params.Method,
		Status:              StatusPending,
		Reason:              strings.TrimSpace(params.Reason),
		RequestedAt:         now,
	}
	if params.ActorID != nil {
		r.SetCreatedBy(*params.ActorID)
	}

	for _, p := range params.Items {
		item, err := NewRefundItem(r.ID, p, now)
		if err != nil {
			return nil, err
		}
		r.Items = append(r.Items, *item)
	}
	if err := r.reconcileItems(); err != nil {
		return nil, err
	}

	r.AddDomainEvent(NewRefundRequestedEvent(r, now))
	return r, nil
}

// reconcileItems checks that line items, when present, add up to the refund amount.
// Refunds without items trust the amount as given.
func (r *Refund) reconcileItems() error {
	if len(r.Items) == 0 {
		return nil
	}
	itemsTotal := lo.Reduce(r.Items, func(acc decimal.Decimal, item RefundItem, _ int) decimal.Decimal {
		return acc.Add(item.TotalAmount)
	}, decimal.Zero)
	if itemsTotal.Sub(r.Amount).Abs().GreaterThan(ReconcileTolerance) {
		return NewValidationError("Refund items total " + itemsTotal.StringFixed(AmountScale) +
			" does not match refund amount " + r.Amount.StringFixed(AmountScale))
	}
	return nil
}

// Source returns the refund's source references
func (r *Refund) Source() SourceRef {
	return SourceRef{SaleID: r.SaleID, OrderID: r.OrderID, SaleReturnID: r.SaleReturnID}
}

func (r *Refund) transition(next Status, now time.Time) {
	r.Status = next
	r.Touch(now)
}

// Approve moves a pending refund to approved
func (r *Refund) Approve(actorID *uuid.UUID, notes string, now time.Time) error {
	if r.Status != StatusPending {
		return NewInvalidStateError("Only pending refunds can be approved")
	}
	r.transition(StatusApproved, now)
	r.ApprovedAt = &now
	r.ProcessedBy = actorID
	if notes = strings.TrimSpace(notes); notes != "" {
		r.AdminNotes = notes
	}
	r.setItemStatus(ItemStatusApproved)
	r.AddDomainEvent(NewRefundApprovedEvent(r, now))
	return nil
}

// Reject moves a pending refund to the terminal rejected state
func (r *Refund) Reject(actorID *uuid.UUID, reason, notes string, now time.Time) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("Rejection reason is required")
	}
	if r.Status != StatusPending {
		return NewInvalidStateError("Only pending refunds can be rejected")
	}
	r.transition(StatusRejected, now)
	r.RejectionReason = reason
	r.ProcessedBy = actorID
	if notes = strings.TrimSpace(notes); notes != "" {
		r.AdminNotes = notes
	}
	r.setItemStatus(ItemStatusRejected)
	r.AddDomainEvent(NewRefundRejectedEvent(r, now))
	return nil
}

// Cancel withdraws a pending refund
func (r *Refund) Cancel(now time.Time) error {
	if r.Status != StatusPending {
		return NewInvalidStateError("Only pending refunds can be cancelled")
	}
	r.transition(StatusCancelled, now)
	r.setItemStatus(ItemStatusRejected)
	r.AddDomainEvent(NewRefundCancelledEvent(r, now))
	return nil
}

// StartProcessing moves an approved refund, or a failed one being retried, to processing
func (r *Refund) StartProcessing(now time.Time) error {
	if !r.Status.CanTransitionTo(StatusProcessing) {
		return NewInvalidStateError("Only approved or failed refunds can be processed, current status is " + r.Status.String())
	}
	r.transition(StatusProcessing, now)
	r.ProcessedAt = &now
	r.FailureReason = ""
	return nil
}

// CompleteWithCreditNote settles a processing credit-note refund
func (r *Refund) CompleteWithCreditNote(creditNoteID uuid.UUID, now time.Time) error {
	if !r.Method.IsCreditNote() {
		return NewInvalidStateError("Refund is not settled by credit note")
	}
	if r.CreditNoteID != nil {
		return NewInvalidStateError("Refund already has a credit note")
	}
	if err := r.complete(now); err != nil {
		return err
	}
	r.CreditNoteID = &creditNoteID
	r.AddDomainEvent(NewRefundCompletedEvent(r, now))
	return nil
}

// CompleteWithMoney settles a processing gateway refund
func (r *Refund) CompleteWithMoney(now time.Time) error {
	if !r.Method.IsGateway() {
		return NewInvalidStateError("Refund is not settled through a payment gateway")
	}
	if err := r.complete(now); err != nil {
		return err
	}
	r.AddDomainEvent(NewRefundCompletedEvent(r, now))
	return nil
}

func (r *Refund) complete(now time.Time) error {
	if r.Status != StatusProcessing {
		return NewInvalidStateError("Only processing refunds can be completed")
	}
	r.transition(StatusCompleted, now)
	r.CompletedAt = &now
	r.PaidAt = &now
	r.setItemStatus(ItemStatusRefunded)
	return nil
}

// Fail records a failed settlement attempt; the refund can be processed again later
func (r *Refund) Fail(reason string, now time.Time) error {
	if r.Status != StatusProcessing {
		return NewInvalidStateError("Only processing refunds can fail")
	}
	r.transition(StatusFailed, now)
	r.FailureReason = reason
	r.AddDomainEvent(NewRefundFailedEvent(r, now))
	return nil
}

// RecordItemQC stores a quality-control result for one of the refund's items
func (r *Refund) RecordItemQC(itemID uuid.UUID, status QCStatus, notes string, now time.Time) (*RefundItem, error) {
	for i := range r.Items {
		if r.Items[i].ID != itemID {
			continue
		}
		if err := r.Items[i].RecordQC(status, notes, now); err != nil {
			return nil, err
		}
		return &r.Items[i], nil
	}
	return nil, NewNotFoundError("Refund item")
}

func (r *Refund) setItemStatus(status ItemStatus) {
	for i := range r.Items {
		r.Items[i].Status = status
	}
}
