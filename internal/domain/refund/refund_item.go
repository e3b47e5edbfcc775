package refund

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemStatus tracks a refund line alongside its refund
type ItemStatus string

const (
	ItemStatusPending  ItemStatus = "pending"
	ItemStatusApproved ItemStatus = "approved"
	ItemStatusRejected ItemStatus = "rejected"
	ItemStatusRefunded ItemStatus = "refunded"
)

// QCStatus is the quality-control verdict on returned goods
type QCStatus string

const (
	QCStatusPending QCStatus = "pending"
	QCStatusPassed  QCStatus = "passed"
	QCStatusFailed  QCStatus = "failed"
)

// IsValid checks if the QC status is known
func (s QCStatus) IsValid() bool {
	return s == QCStatusPending || s == QCStatusPassed || s == QCStatusFailed
}

// RefundItem is one line of a refund. It is owned by its Refund.
type RefundItem struct {
	ID               uuid.UUID
	RefundID         uuid.UUID
	SaleReturnItemID *uuid.UUID
	OrderItemID      *uuid.UUID
	ProductID        uuid.UUID
	VariantID        *uuid.UUID
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	TotalAmount      decimal.Decimal
	Status           ItemStatus
	Reason           string
	QCStatus         QCStatus
	QCNotes          string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewRefundItemParams describes one requested refund line
type NewRefundItemParams struct {
	SaleReturnItemID *uuid.UUID
	OrderItemID      *uuid.UUID
	ProductID        uuid.UUID
	VariantID        *uuid.UUID
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	Reason           string
}

// NewRefundItem creates a pending refund line with total = quantity × unit price
func NewRefundItem(refundID uuid.UUID, p NewRefundItemParams, now time.Time) (*RefundItem, error) {
	if p.ProductID == uuid.Nil {
		return nil, NewValidationError("Refund item product is required")
	}
	if !p.Quantity.IsPositive() {
		return nil, NewValidationError("Refund item quantity must be greater than zero")
	}
	if p.UnitPrice.IsNegative() {
		return nil, NewValidationError("Refund item unit price cannot be negative")
	}
	return &RefundItem{
		ID:               uuid.New(),
		RefundID:         refundID,
		SaleReturnItemID: p.SaleReturnItemID,
		OrderItemID:      p.OrderItemID,
		ProductID:        p.ProductID,
		VariantID:        p.VariantID,
		Quantity:         p.Quantity,
		UnitPrice:        RoundAmount(p.UnitPrice),
		TotalAmount:      RoundAmount(p.Quantity.Mul(p.UnitPrice)),
		Status:           ItemStatusPending,
		Reason:           p.Reason,
		QCStatus:         QCStatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// RecordQC sets the QC verdict
func (i *RefundItem) RecordQC(status QCStatus, notes string, now time.Time) error {
	if !status.IsValid() {
		return NewValidationError("Invalid QC status: " + string(status))
	}
	i.QCStatus = status
	i.QCNotes = notes
	i.UpdatedAt = now
	return nil
}
