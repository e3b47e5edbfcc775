package models

import (
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SaleModel is the refund-relevant projection of a point-of-sale sale.
// Sales are owned by the POS; refunds only write refunded_amount and refund_status.
type SaleModel struct {
	BaseModel
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	CustomerID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	PaymentReference string          `gorm:"size:100"`
	RefundedAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	RefundStatus     string          `gorm:"size:20;not null;default:'none'"`
}

// TableName returns the table name for GORM
func (SaleModel) TableName() string {
	return "sales"
}

// ToDomain converts the model to a SaleSource
func (m *SaleModel) ToDomain() *refund.SaleSource {
	return &refund.SaleSource{
		ID:          m.ID,
		TenantID:    m.TenantID,
		CustomerID:  m.CustomerID,
		TotalAmount: m.TotalAmount,
		PaymentRef:  m.PaymentReference,
		Refunded:    m.RefundedAmount,
		RefundState: refund.SourceRefundStatus(m.RefundStatus),
		UpdatedAt:   m.UpdatedAt,
	}
}

// OrderModel is the refund-relevant projection of an online order.
type OrderModel struct {
	BaseModel
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	CustomerID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	PaymentReference string          `gorm:"size:100"`
	RefundedAmount   decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	RefundStatus     string          `gorm:"size:20;not null;default:'none'"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// ToDomain converts the model to an OrderSource
func (m *OrderModel) ToDomain() *refund.OrderSource {
	return &refund.OrderSource{
		ID:          m.ID,
		TenantID:    m.TenantID,
		CustomerID:  m.CustomerID,
		TotalAmount: m.TotalAmount,
		PaymentRef:  m.PaymentReference,
		Refunded:    m.RefundedAmount,
		RefundState: refund.SourceRefundStatus(m.RefundStatus),
		UpdatedAt:   m.UpdatedAt,
	}
}

// SaleReturnModel is the refund-relevant projection of a POS return.
type SaleReturnModel struct {
	BaseModel
	TenantID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	SaleID     uuid.UUID  `gorm:"type:uuid;not null;index"`
	CustomerID *uuid.UUID `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (SaleReturnModel) TableName() string {
	return "sale_returns"
}

// ToDomain converts the model to a SaleReturn
func (m *SaleReturnModel) ToDomain() *refund.SaleReturn {
	return &refund.SaleReturn{
		ID:         m.ID,
		TenantID:   m.TenantID,
		SaleID:     m.SaleID,
		CustomerID: m.CustomerID,
	}
}

// CustomerModel is the minimal customer record the settlement engine reads.
type CustomerModel struct {
	BaseModel
	TenantID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name     string    `gorm:"size:200;not null"`
	Email    string    `gorm:"size:200"`
}

// TableName returns the table name for GORM
func (CustomerModel) TableName() string {
	return "customers"
}

// ToDomain converts the model to a Customer
func (m *CustomerModel) ToDomain() *refund.Customer {
	return &refund.Customer{
		ID:       m.ID,
		TenantID: m.TenantID,
		Name:     m.Name,
		Email:    m.Email,
	}
}
