package refund

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SourceType identifies which kind of transaction a refund is drawn against
type SourceType string

const (
	SourceTypeSale       SourceType = "sale"
	SourceTypeOrder      SourceType = "order"
	SourceTypeSaleReturn SourceType = "sale_return"
)

// SourceRefundStatus is the cumulative refund status kept on a source transaction
type SourceRefundStatus string

const (
	SourceRefundStatusNone    SourceRefundStatus = "none"
	SourceRefundStatusPartial SourceRefundStatus = "partial"
	SourceRefundStatusFull    SourceRefundStatus = "full"
)

// SourceRef holds the nullable source references carried by refunds and credit notes.
// Resolution order is sale, then order, then sale return.
type SourceRef struct {
	SaleID       *uuid.UUID
	OrderID      *uuid.UUID
	SaleReturnID *uuid.UUID
}

// IsEmpty reports whether no source reference is set
func (r SourceRef) IsEmpty() bool {
	return r.SaleID == nil && r.OrderID == nil && r.SaleReturnID == nil
}

// Primary returns the reference that wins when several are present
func (r SourceRef) Primary() (SourceType, uuid.UUID, bool) {
	switch {
	case r.SaleID != nil:
		return SourceTypeSale, *r.SaleID, true
	case r.OrderID != nil:
		return SourceTypeOrder, *r.OrderID, true
	case r.SaleReturnID != nil:
		return SourceTypeSaleReturn, *r.SaleReturnID, true
	}
	return "", uuid.Nil, false
}

// SourceTransaction is the uniform view over a refundable sale or order.
// The engine only ever writes the cumulative refund totals back to it.
type SourceTransaction interface {
	SourceType() SourceType
	SourceID() uuid.UUID
	Total() decimal.Decimal
	Owner() uuid.UUID
	// PaymentReference is the gateway payment id used to find the captured payment
	PaymentReference() string
	RefundedAmount() decimal.Decimal
	RefundStatus() SourceRefundStatus
	// RecordRefundTotals stores the sum of completed refunds and re-derives the status
	RecordRefundTotals(sumCompleted decimal.Decimal, now time.Time)
}

// MaxRefundable returns how much can still be refunded given the completed sum
func MaxRefundable(src SourceTransaction, sumCompleted decimal.Decimal) decimal.Decimal {
	remaining := src.Total().Sub(sumCompleted)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return RoundAmount(remaining)
}

// SaleSource is a point-of-sale sale
type SaleSource struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	CustomerID  uuid.UUID
	TotalAmount decimal.Decimal
	PaymentRef  string
	Refunded    decimal.Decimal
	RefundState SourceRefundStatus
	UpdatedAt   time.Time
}

func (s *SaleSource) SourceType() SourceType           { return SourceTypeSale }
func (s *SaleSource) SourceID() uuid.UUID              { return s.ID }
func (s *SaleSource) Total() decimal.Decimal           { return s.TotalAmount }
func (s *SaleSource) Owner() uuid.UUID                 { return s.CustomerID }
func (s *SaleSource) PaymentReference() string         { return s.PaymentRef }
func (s *SaleSource) RefundedAmount() decimal.Decimal  { return s.Refunded }
func (s *SaleSource) RefundStatus() SourceRefundStatus { return s.RefundState }

// RecordRefundTotals implements SourceTransaction
func (s *SaleSource) RecordRefundTotals(sumCompleted decimal.Decimal, now time.Time) {
	s.Refunded = RoundAmount(sumCompleted)
	s.RefundState = RefundStatusOf(s.TotalAmount, s.Refunded)
	s.UpdatedAt = now
}

// OrderSource is an online order
type OrderSource struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	CustomerID  uuid.UUID
	TotalAmount decimal.Decimal
	PaymentRef  string
	Refunded    decimal.Decimal
	RefundState SourceRefundStatus
	UpdatedAt   time.Time
}

func (o *OrderSource) SourceType() SourceType           { return SourceTypeOrder }
func (o *OrderSource) SourceID() uuid.UUID              { return o.ID }
func (o *OrderSource) Total() decimal.Decimal           { return o.TotalAmount }
func (o *OrderSource) Owner() uuid.UUID                 { return o.CustomerID }
func (o *OrderSource) PaymentReference() string         { return o.PaymentRef }
func (o *OrderSource) RefundedAmount() decimal.Decimal  { return o.Refunded }
func (o *OrderSource) RefundStatus() SourceRefundStatus { return o.RefundState }

// RecordRefundTotals implements SourceTransaction
func (o *OrderSource) RecordRefundTotals(sumCompleted decimal.Decimal, now time.Time) {
	o.Refunded = RoundAmount(sumCompleted)
	o.RefundState = RefundStatusOf(o.TotalAmount, o.Refunded)
	o.UpdatedAt = now
}

// SaleReturn is a POS return. Refunds raised from it settle against its sale.
type SaleReturn struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	SaleID     uuid.UUID
	CustomerID *uuid.UUID
}

// Customer is the minimal view of a customer the engine needs
type Customer struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
	Email    string
}

var (
	_ SourceTransaction = (*SaleSource)(nil)
	_ SourceTransaction = (*OrderSource)(nil)
)
