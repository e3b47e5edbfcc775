package models

import (
	"encoding/json"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundModel is the persistence model for the Refund aggregate root.
type RefundModel struct {
	TenantAggregateModel
	Reference       string          `gorm:"size:32;not null;uniqueIndex"`
	SaleID          *uuid.UUID      `gorm:"type:uuid;index"`
	OrderID         *uuid.UUID      `gorm:"type:uuid;index"`
	SaleReturnID    *uuid.UUID      `gorm:"type:uuid;index"`
	CustomerID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Method          string          `gorm:"size:50;not null"`
	Status          string          `gorm:"size:20;not null;index"`
	Reason          string          `gorm:"type:text"`
	AdminNotes      string          `gorm:"type:text"`
	RejectionReason string          `gorm:"type:text"`
	FailureReason   string          `gorm:"type:text"`
	RequestedAt     time.Time       `gorm:"not null"`
	ApprovedAt      *time.Time
	ProcessedAt     *time.Time
	CompletedAt     *time.Time
	PaidAt          *time.Time
	ProcessedBy     *uuid.UUID        `gorm:"type:uuid"`
	CreditNoteID    *uuid.UUID        `gorm:"type:uuid"`
	Items           []RefundItemModel `gorm:"foreignKey:RefundID;references:ID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (RefundModel) TableName() string {
	return "refunds"
}

// ToDomain converts the persistence model to a domain Refund.
func (m *RefundModel) ToDomain() *refund.Refund {
	r := &refund.Refund{
		Reference:       m.Reference,
		SaleID:          m.SaleID,
		OrderID:         m.OrderID,
		SaleReturnID:    m.SaleReturnID,
		CustomerID:      m.CustomerID,
		Amount:          m.Amount,
		Method:          refund.Method(m.Method),
		Status:          refund.Status(m.Status),
		Reason:          m.Reason,
		AdminNotes:      m.AdminNotes,
		RejectionReason: m.RejectionReason,
		FailureReason:   m.FailureReason,
		RequestedAt:     m.RequestedAt,
		ApprovedAt:      m.ApprovedAt,
		ProcessedAt:     m.ProcessedAt,
		CompletedAt:     m.CompletedAt,
		PaidAt:          m.PaidAt,
		ProcessedBy:     m.ProcessedBy,
		CreditNoteID:    m.CreditNoteID,
		Items:           make([]refund.RefundItem, len(m.Items)),
	}
	m.PopulateTenantAggregateRoot(&r.TenantAggregateRoot)
	for i := range m.Items {
		r.Items[i] = *m.Items[i].ToDomain()
	}
	return r
}

// FromDomain populates the persistence model from a domain Refund.
func (m *RefundModel) FromDomain(r *refund.Refund) {
	m.FromDomainTenantAggregateRoot(r.TenantAggregateRoot)
	m.Reference = r.Reference
	m.SaleID = r.SaleID
	m.OrderID = r.OrderID
	m.SaleReturnID = r.SaleReturnID
	m.CustomerID = r.CustomerID
	m.Amount = r.Amount
	m.Method = r.Method.String()
	m.Status = r.Status.String()
	m.Reason = r.Reason
	m.AdminNotes = r.AdminNotes
	m.RejectionReason = r.RejectionReason
	m.FailureReason = r.FailureReason
	m.RequestedAt = r.RequestedAt
	m.ApprovedAt = r.ApprovedAt
	m.ProcessedAt = r.ProcessedAt
	m.CompletedAt = r.CompletedAt
	m.PaidAt = r.PaidAt
	m.ProcessedBy = r.ProcessedBy
	m.CreditNoteID = r.CreditNoteID
	m.Items = make([]RefundItemModel, len(r.Items))
	for i := range r.Items {
		m.Items[i] = *RefundItemModelFromDomain(&r.Items[i])
	}
}

// RefundModelFromDomain creates a persistence model from a domain Refund.
func RefundModelFromDomain(r *refund.Refund) *RefundModel {
	m := &RefundModel{}
	m.FromDomain(r)
	return m
}

// RefundItemModel is the persistence model for a refund line.
type RefundItemModel struct {
	BaseModel
	RefundID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	SaleReturnItemID *uuid.UUID      `gorm:"type:uuid"`
	OrderItemID      *uuid.UUID      `gorm:"type:uuid"`
	ProductID        uuid.UUID       `gorm:"type:uuid;not null"`
	VariantID        *uuid.UUID      `gorm:"type:uuid"`
	Quantity         decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	TotalAmount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Status           string          `gorm:"size:20;not null"`
	Reason           string          `gorm:"type:text"`
	QCStatus         string          `gorm:"column:qc_status;size:20;not null"`
	QCNotes          string          `gorm:"column:qc_notes;type:text"`
}

// TableName returns the table name for GORM
func (RefundItemModel) TableName() string {
	return "refund_items"
}

// ToDomain converts the persistence model to a domain RefundItem.
func (m *RefundItemModel) ToDomain() *refund.RefundItem {
	return &refund.RefundItem{
		ID:               m.ID,
		RefundID:         m.RefundID,
		SaleReturnItemID: m.SaleReturnItemID,
		OrderItemID:      m.OrderItemID,
		ProductID:        m.ProductID,
		VariantID:        m.VariantID,
		Quantity:         m.Quantity,
		UnitPrice:        m.UnitPrice,
		TotalAmount:      m.TotalAmount,
		Status:           refund.ItemStatus(m.Status),
		Reason:           m.Reason,
		QCStatus:         refund.QCStatus(m.QCStatus),
		QCNotes:          m.QCNotes,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// RefundItemModelFromDomain creates a persistence model from a domain RefundItem.
func RefundItemModelFromDomain(item *refund.RefundItem) *RefundItemModel {
	return &RefundItemModel{
		BaseModel: BaseModel{
			ID:        item.ID,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		},
		RefundID:         item.RefundID,
		SaleReturnItemID: item.SaleReturnItemID,
		OrderItemID:      item.OrderItemID,
		ProductID:        item.ProductID,
		VariantID:        item.VariantID,
		Quantity:         item.Quantity,
		UnitPrice:        item.UnitPrice,
		TotalAmount:      item.TotalAmount,
		Status:           string(item.Status),
		Reason:           item.Reason,
		QCStatus:         string(item.QCStatus),
		QCNotes:          item.QCNotes,
	}
}

// CreditNoteModel is the persistence model for a credit note.
type CreditNoteModel struct {
	BaseModel
	TenantID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	SaleID          *uuid.UUID      `gorm:"type:uuid"`
	OrderID         *uuid.UUID      `gorm:"type:uuid"`
	SaleReturnID    *uuid.UUID      `gorm:"type:uuid"`
	RefundID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	CustomerID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Reference       string          `gorm:"size:32;not null;uniqueIndex"`
	Amount          decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	RemainingAmount decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Status          string          `gorm:"size:20;not null;index"`
	IssuedAt        time.Time       `gorm:"not null"`
	ExpiresAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CreditNoteModel) TableName() string {
	return "credit_notes"
}

// ToDomain converts the persistence model to a domain CreditNote.
func (m *CreditNoteModel) ToDomain() *refund.CreditNote {
	return &refund.CreditNote{
		ID:              m.ID,
		TenantID:        m.TenantID,
		SaleID:          m.SaleID,
		OrderID:         m.OrderID,
		SaleReturnID:    m.SaleReturnID,
		RefundID:        m.RefundID,
		CustomerID:      m.CustomerID,
		Reference:       m.Reference,
		Amount:          m.Amount,
		RemainingAmount: m.RemainingAmount,
		Status:          refund.CreditNoteStatus(m.Status),
		IssuedAt:        m.IssuedAt,
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// CreditNoteModelFromDomain creates a persistence model from a domain CreditNote.
func CreditNoteModelFromDomain(n *refund.CreditNote) *CreditNoteModel {
	return &CreditNoteModel{
		BaseModel:       BaseModel{ID: n.ID, CreatedAt: n.CreatedAt, UpdatedAt: n.UpdatedAt},
		TenantID:        n.TenantID,
		SaleID:          n.SaleID,
		OrderID:         n.OrderID,
		SaleReturnID:    n.SaleReturnID,
		RefundID:        n.RefundID,
		CustomerID:      n.CustomerID,
		Reference:       n.Reference,
		Amount:          n.Amount,
		RemainingAmount: n.RemainingAmount,
		Status:          string(n.Status),
		IssuedAt:        n.IssuedAt,
		ExpiresAt:       n.ExpiresAt,
	}
}

// CreditNoteRedemptionModel is one note's contribution to a payment.
type CreditNoteRedemptionModel struct {
	ID               uuid.UUID       `gorm:"type:uuid;primary_key"`
	TenantID         uuid.UUID       `gorm:"type:uuid;not null;index"`
	CreditNoteID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	CustomerID       uuid.UUID       `gorm:"type:uuid;not null"`
	Amount           decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	PaymentReference string          `gorm:"size:100"`
	RedeemedAt       time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CreditNoteRedemptionModel) TableName() string {
	return "credit_note_redemptions"
}

// ToDomain converts the persistence model to a domain CreditNoteRedemption.
func (m *CreditNoteRedemptionModel) ToDomain() *refund.CreditNoteRedemption {
	return &refund.CreditNoteRedemption{
		ID:               m.ID,
		TenantID:         m.TenantID,
		CreditNoteID:     m.CreditNoteID,
		CustomerID:       m.CustomerID,
		Amount:           m.Amount,
		PaymentReference: m.PaymentReference,
		RedeemedAt:       m.RedeemedAt,
	}
}

// CreditNoteRedemptionModelFromDomain creates a persistence model from a domain redemption.
func CreditNoteRedemptionModelFromDomain(r *refund.CreditNoteRedemption) *CreditNoteRedemptionModel {
	return &CreditNoteRedemptionModel{
		ID:               r.ID,
		TenantID:         r.TenantID,
		CreditNoteID:     r.CreditNoteID,
		CustomerID:       r.CustomerID,
		Amount:           r.Amount,
		PaymentReference: r.PaymentReference,
		RedeemedAt:       r.RedeemedAt,
	}
}

// RefundTransactionModel is the persistence model for a gateway refund attempt.
type RefundTransactionModel struct {
	BaseModel
	TenantID             uuid.UUID       `gorm:"type:uuid;not null;index"`
	RefundID             uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	PaymentID            uuid.UUID       `gorm:"type:uuid;not null;index"`
	TransactionID        string          `gorm:"size:40;not null;uniqueIndex"`
	Gateway              string          `gorm:"size:50;not null"`
	Status               string          `gorm:"size:20;not null;index"`
	Amount               decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	GatewayTransactionID string          `gorm:"size:100"`
	GatewayRefundID      string          `gorm:"size:100;index"`
	GatewayResponse      string          `gorm:"type:text"`
	FailureReason        string          `gorm:"type:text"`
	Attempts             int             `gorm:"not null;default:0"`
	ProcessedAt          *time.Time
	CompletedAt          *time.Time
}

// TableName returns the table name for GORM
func (RefundTransactionModel) TableName() string {
	return "refund_transactions"
}

// ToDomain converts the persistence model to a domain RefundTransaction.
func (m *RefundTransactionModel) ToDomain() *refund.RefundTransaction {
	t := &refund.RefundTransaction{
		ID:                   m.ID,
		TenantID:             m.TenantID,
		RefundID:             m.RefundID,
		PaymentID:            m.PaymentID,
		TransactionID:        m.TransactionID,
		Gateway:              m.Gateway,
		Status:               refund.TransactionStatus(m.Status),
		Amount:               m.Amount,
		GatewayTransactionID: m.GatewayTransactionID,
		GatewayRefundID:      m.GatewayRefundID,
		FailureReason:        m.FailureReason,
		Attempts:             m.Attempts,
		ProcessedAt:          m.ProcessedAt,
		CompletedAt:          m.CompletedAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if m.GatewayResponse != "" {
		t.GatewayResponse = json.RawMessage(m.GatewayResponse)
	}
	return t
}

// RefundTransactionModelFromDomain creates a persistence model from a domain RefundTransaction.
func RefundTransactionModelFromDomain(t *refund.RefundTransaction) *RefundTransactionModel {
	return &RefundTransactionModel{
		BaseModel:            BaseModel{ID: t.ID, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt},
		TenantID:             t.TenantID,
		RefundID:             t.RefundID,
		PaymentID:            t.PaymentID,
		TransactionID:        t.TransactionID,
		Gateway:              t.Gateway,
		Status:               string(t.Status),
		Amount:               t.Amount,
		GatewayTransactionID: t.GatewayTransactionID,
		GatewayRefundID:      t.GatewayRefundID,
		GatewayResponse:      string(t.GatewayResponse),
		FailureReason:        t.FailureReason,
		Attempts:             t.Attempts,
		ProcessedAt:          t.ProcessedAt,
		CompletedAt:          t.CompletedAt,
	}
}

// PaymentModel is the persistence model for a captured gateway payment.
type PaymentModel struct {
	BaseModel
	TenantID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExternalID     string          `gorm:"size:100;not null;index"`
	Gateway        string          `gorm:"size:50;not null"`
	Status         string          `gorm:"size:20;not null"`
	OriginalAmount decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	RefundedAmount decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0"`
	RefundStatus   string          `gorm:"size:30;not null"`
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the persistence model to a domain Payment.
func (m *PaymentModel) ToDomain() *refund.Payment {
	return &refund.Payment{
		ID:             m.ID,
		TenantID:       m.TenantID,
		ExternalID:     m.ExternalID,
		Gateway:        m.Gateway,
		Status:         refund.PaymentStatus(m.Status),
		OriginalAmount: m.OriginalAmount,
		RefundedAmount: m.RefundedAmount,
		RefundStatus:   refund.PaymentRefundStatus(m.RefundStatus),
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// PaymentModelFromDomain creates a persistence model from a domain Payment.
func PaymentModelFromDomain(p *refund.Payment) *PaymentModel {
	return &PaymentModel{
		BaseModel:      BaseModel{ID: p.ID, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt},
		TenantID:       p.TenantID,
		ExternalID:     p.ExternalID,
		Gateway:        p.Gateway,
		Status:         string(p.Status),
		OriginalAmount: p.OriginalAmount,
		RefundedAmount: p.RefundedAmount,
		RefundStatus:   string(p.RefundStatus),
	}
}
