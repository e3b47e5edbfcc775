package refund

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the state of a money-transfer attempt
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
)

// TransactionIDPrefix prefixes internal transaction ids
const TransactionIDPrefix = "RTX_"

// FailureOutcomeUnknown is recorded when an attempt was left in flight with no gateway answer
const FailureOutcomeUnknown = "gateway outcome unknown"

// NewTransactionID returns a fresh internal transaction id
func NewTransactionID() string {
	return TransactionIDPrefix + ulid.Make().String()
}

// RefundTransaction is the money-transfer instrument of a gateway refund.
// There is one per refund; a retry updates it in place.
type RefundTransaction struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	RefundID             uuid.UUID
	PaymentID            uuid.UUID
	TransactionID        string
	Gateway              string
	Status               TransactionStatus
	Amount               decimal.Decimal
	GatewayTransactionID string
	GatewayRefundID      string
	GatewayResponse      json.RawMessage
	FailureReason        string
	Attempts             int
	ProcessedAt          *time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NewRefundTransaction creates the transaction for a gateway refund against payment
func NewRefundTransaction(r *Refund, payment *Payment, now time.Time) *RefundTransaction {
	return &RefundTransaction{
		ID:            uuid.New(),
		TenantID:      r.TenantID,
		RefundID:      r.ID,
		PaymentID:     payment.ID,
		TransactionID: NewTransactionID(),
		Gateway:       r.Method.String(),
		Status:        TransactionStatusPending,
		Amount:        r.Amount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsInFlight reports whether an attempt is waiting on the gateway
func (t *RefundTransaction) IsInFlight() bool {
	return t.Status == TransactionStatusProcessing
}

// StartAttempt moves the transaction to processing for a new gateway call
func (t *RefundTransaction) StartAttempt(now time.Time) error {
	switch t.Status {
	case TransactionStatusPending, TransactionStatusFailed:
	default:
		return NewInvalidStateError("Refund transaction " + t.TransactionID + " is " + string(t.Status))
	}
	t.Status = TransactionStatusProcessing
	t.FailureReason = ""
	t.Attempts++
	t.ProcessedAt = &now
	t.CompletedAt = nil
	t.UpdatedAt = now
	return nil
}

// RecordSuccess stores a gateway answer. A pending answer keeps the
// transaction in processing until the reconciler settles it.
func (t *RefundTransaction) RecordSuccess(result *GatewayRefundResult, now time.Time) {
	if result.PaymentID != "" {
		t.GatewayTransactionID = result.PaymentID
	}
	if result.RefundID != "" {
		t.GatewayRefundID = result.RefundID
	}
	if len(result.Raw) > 0 {
		t.GatewayResponse = result.Raw
	}
	t.Status = result.Status.TransactionStatus()
	if t.Status == TransactionStatusCompleted {
		t.CompletedAt = &now
	}
	t.UpdatedAt = now
}

// RecordFailure marks the attempt failed with a reason and the error payload
func (t *RefundTransaction) RecordFailure(reason string, now time.Time) {
	t.Status = TransactionStatusFailed
	t.FailureReason = reason
	payload, _ := json.Marshal(map[string]string{"error": reason})
	t.GatewayResponse = payload
	t.CompletedAt = nil
	t.UpdatedAt = now
}
