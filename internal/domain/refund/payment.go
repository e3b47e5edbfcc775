package refund

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the capture state of a gateway payment
type PaymentStatus string

const (
	PaymentStatusCreated    PaymentStatus = "created"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// PaymentRefundStatus is the cumulative refund state of a payment
type PaymentRefundStatus string

const (
	PaymentNotRefunded       PaymentRefundStatus = "not_refunded"
	PaymentPartiallyRefunded PaymentRefundStatus = "partially_refunded"
	PaymentFullyRefunded     PaymentRefundStatus = "fully_refunded"
)

// Eligibility reasons
const (
	ReasonPaymentNotCaptured  = "Payment is not captured"
	ReasonAmountNotPositive   = "Refund amount must be greater than zero"
	ReasonExceedsPaymentTotal = "Refund amount exceeds the refundable balance of the payment"
)

// Payment is a captured gateway payment that money refunds are issued against
type Payment struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ExternalID     string
	Gateway        string
	Status         PaymentStatus
	OriginalAmount decimal.Decimal
	RefundedAmount decimal.Decimal
	RefundStatus   PaymentRefundStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Eligibility is the structured outcome of a refund eligibility check
type Eligibility struct {
	Eligible      bool            `json:"eligible"`
	Reason        string          `json:"reason,omitempty"`
	MaxRefundable decimal.Decimal `json:"max_refundable"`
}

// Refundable returns the payment balance not yet refunded
func (p *Payment) Refundable() decimal.Decimal {
	remaining := p.OriginalAmount.Sub(p.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return RoundAmount(remaining)
}

// CheckEligibility checks whether amount can be refunded while inflight is
// already being refunded by other attempts.
func (p *Payment) CheckEligibility(amount, inflight decimal.Decimal) Eligibility {
	maxRefundable := p.Refundable().Sub(inflight)
	if maxRefundable.IsNegative() {
		maxRefundable = decimal.Zero
	}
	result := Eligibility{MaxRefundable: maxRefundable}

	switch {
	case p.Status != PaymentStatusCaptured:
		result.Reason = ReasonPaymentNotCaptured
	case !amount.IsPositive():
		result.Reason = ReasonAmountNotPositive
	case amount.GreaterThan(maxRefundable):
		result.Reason = ReasonExceedsPaymentTotal
	default:
		result.Eligible = true
	}
	return result
}

// RecordRefund adds a settled refund to the payment's totals
func (p *Payment) RecordRefund(amount decimal.Decimal, now time.Time) {
	p.RefundedAmount = RoundAmount(p.RefundedAmount.Add(amount))
	switch RefundStatusOf(p.OriginalAmount, p.RefundedAmount) {
	case SourceRefundStatusFull:
		p.RefundStatus = PaymentFullyRefunded
	case SourceRefundStatusPartial:
		p.RefundStatus = PaymentPartiallyRefunded
	default:
		p.RefundStatus = PaymentNotRefunded
	}
	p.UpdatedAt = now
}
