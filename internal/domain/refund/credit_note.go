package refund

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreditNoteStatus is the stored status of a credit note. Expiry is computed
// at read time and is never required to be persisted.
type CreditNoteStatus string

const (
	CreditNoteStatusActive  CreditNoteStatus = "active"
	CreditNoteStatusUsed    CreditNoteStatus = "used"
	CreditNoteStatusExpired CreditNoteStatus = "expired"
)

// CreditNoteValidityYears is how long a credit note can be redeemed after issue
const CreditNoteValidityYears = 1

// CreditNote is store credit issued to a customer by a credit-note refund
type CreditNote struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	SaleID          *uuid.UUID
	OrderID         *uuid.UUID
	SaleReturnID    *uuid.UUID
	RefundID        uuid.UUID
	CustomerID      uuid.UUID
	Reference       string
	Amount          decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          CreditNoteStatus
	IssuedAt        time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewCreditNote issues a credit note for the full amount of a refund
func NewCreditNote(r *Refund, reference string, now time.Time) (*CreditNote, error) {
	if !r.Amount.IsPositive() {
		return nil, NewValidationError("Credit note amount must be greater than zero")
	}
	if reference == "" {
		return nil, NewValidationError("Credit note reference is required")
	}
	return &CreditNote{
		ID:              uuid.New(),
		TenantID:        r.TenantID,
		SaleID:          r.SaleID,
		OrderID:         r.OrderID,
		SaleReturnID:    r.SaleReturnID,
		RefundID:        r.ID,
		CustomerID:      r.CustomerID,
		Reference:       reference,
		Amount:          r.Amount,
		RemainingAmount: r.Amount,
		Status:          CreditNoteStatusActive,
		IssuedAt:        now,
		ExpiresAt:       now.AddDate(CreditNoteValidityYears, 0, 0),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsExpired reports whether the note is past its expiry at now
func (c *CreditNote) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// EffectiveStatus is the status a reader should see at now
func (c *CreditNote) EffectiveStatus(now time.Time) CreditNoteStatus {
	if c.Status == CreditNoteStatusActive && c.IsExpired(now) {
		return CreditNoteStatusExpired
	}
	return c.Status
}

// IsRedeemable reports whether the note can still fund a payment at now
func (c *CreditNote) IsRedeemable(now time.Time) bool {
	return c.EffectiveStatus(now) == CreditNoteStatusActive && c.RemainingAmount.IsPositive()
}

// Redeem takes up to needed from the remaining balance and returns what was applied.
// The balance never goes up and never below zero.
func (c *CreditNote) Redeem(needed decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !needed.IsPositive() {
		return decimal.Zero, NewValidationError("Redemption amount must be greater than zero")
	}
	if !c.IsRedeemable(now) {
		return decimal.Zero, NewInvalidStateError("Credit note " + c.Reference + " cannot be redeemed")
	}
	applied := RoundAmount(MinAmount(c.RemainingAmount, needed))
	c.RemainingAmount = RoundAmount(c.RemainingAmount.Sub(applied))
	if IsConsumed(c.RemainingAmount) {
		c.RemainingAmount = decimal.Zero
		c.Status = CreditNoteStatusUsed
	}
	c.UpdatedAt = now
	return applied, nil
}

// CreditNoteRedemption records one note's contribution to a payment
type CreditNoteRedemption struct {
	ID               uuid.UUID
	TenantID         uuid.UUID
	CreditNoteID     uuid.UUID
	CustomerID       uuid.UUID
	Amount           decimal.Decimal
	PaymentReference string
	RedeemedAt       time.Time
}

// NewCreditNoteRedemption creates a redemption row for note
func NewCreditNoteRedemption(note *CreditNote, amount decimal.Decimal, paymentRef string, now time.Time) *CreditNoteRedemption {
	return &CreditNoteRedemption{
		ID:               uuid.New(),
		TenantID:         note.TenantID,
		CreditNoteID:     note.ID,
		CustomerID:       note.CustomerID,
		Amount:           amount,
		PaymentReference: paymentRef,
		RedeemedAt:       now,
	}
}

// CreditApplication is one note's share of a redemption
type CreditApplication struct {
	CreditNoteID uuid.UUID       `json:"credit_note_id"`
	Reference    string          `json:"reference"`
	Applied      decimal.Decimal `json:"applied"`
	Remaining    decimal.Decimal `json:"remaining"`
}

// Redemption is the outcome of applying a customer's credit to a payment
type Redemption struct {
	Requested    decimal.Decimal     `json:"requested"`
	Covered      decimal.Decimal     `json:"covered"`
	Shortfall    decimal.Decimal     `json:"shortfall"`
	Applications []CreditApplication `json:"applications"`
}
