package refund

import (
	"encoding/json"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ==================== Inputs ====================

// CreateRefundInput is a new refund request
type CreateRefundInput struct {
	SaleID       *uuid.UUID
	OrderID      *uuid.UUID
	SaleReturnID *uuid.UUID
	// CustomerID defaults to the owner of the source transaction
	CustomerID *uuid.UUID
	Amount     decimal.Decimal
	Method     string
	Reason     string
	Items      []RefundItemInput
	ActorID    *uuid.UUID
}

// RefundItemInput is one requested refund line
type RefundItemInput struct {
	SaleReturnItemID *uuid.UUID
	OrderItemID      *uuid.UUID
	ProductID        uuid.UUID
	VariantID        *uuid.UUID
	Quantity         decimal.Decimal
	UnitPrice        decimal.Decimal
	Reason           string
}

// ApproveInput carries the approver and optional notes
type ApproveInput struct {
	Notes   string
	ActorID *uuid.UUID
}

// RejectInput carries the mandatory rejection reason
type RejectInput struct {
	Reason  string
	Notes   string
	ActorID *uuid.UUID
}

// ApplyCreditInput asks to cover a payment from a customer's credit notes
type ApplyCreditInput struct {
	CustomerID       uuid.UUID
	Amount           decimal.Decimal
	PaymentReference string
}

// ==================== Responses ====================

// RefundResponse is the API view of a refund
type RefundResponse struct {
	ID              uuid.UUID                  `json:"id"`
	TenantID        uuid.UUID                  `json:"tenant_id"`
	Reference       string                     `json:"reference"`
	SaleID          *uuid.UUID                 `json:"sale_id,omitempty"`
	OrderID         *uuid.UUID                 `json:"order_id,omitempty"`
	SaleReturnID    *uuid.UUID                 `json:"sale_return_id,omitempty"`
	CustomerID      uuid.UUID                  `json:"customer_id"`
	Amount          decimal.Decimal            `json:"amount"`
	Method          string                     `json:"method"`
	Status          string                     `json:"status"`
	Reason          string                     `json:"reason,omitempty"`
	AdminNotes      string                     `json:"admin_notes,omitempty"`
	RejectionReason string                     `json:"rejection_reason,omitempty"`
	FailureReason   string                     `json:"failure_reason,omitempty"`
	RequestedAt     time.Time                  `json:"requested_at"`
	ApprovedAt      *time.Time                 `json:"approved_at,omitempty"`
	ProcessedAt     *time.Time                 `json:"processed_at,omitempty"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
	PaidAt          *time.Time                 `json:"paid_at,omitempty"`
	ProcessedBy     *uuid.UUID                 `json:"processed_by,omitempty"`
	CreditNoteID    *uuid.UUID                 `json:"credit_note_id,omitempty"`
	Items           []RefundItemResponse       `json:"items"`
	CreditNote      *CreditNoteResponse        `json:"credit_note,omitempty"`
	Transaction     *RefundTransactionResponse `json:"transaction,omitempty"`
	Version         int                        `json:"version"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// RefundItemResponse is the API view of a refund line
type RefundItemResponse struct {
	ID               uuid.UUID       `json:"id"`
	SaleReturnItemID *uuid.UUID      `json:"sale_return_item_id,omitempty"`
	OrderItemID      *uuid.UUID      `json:"order_item_id,omitempty"`
	ProductID        uuid.UUID       `json:"product_id"`
	VariantID        *uuid.UUID      `json:"variant_id,omitempty"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	Status           string          `json:"status"`
	Reason           string          `json:"reason,omitempty"`
	QCStatus         string          `json:"qc_status"`
	QCNotes          string          `json:"qc_notes,omitempty"`
}

// CreditNoteResponse is the API view of a credit note. Status is evaluated at read time.
type CreditNoteResponse struct {
	ID              uuid.UUID            `json:"id"`
	Reference       string               `json:"reference"`
	RefundID        uuid.UUID            `json:"refund_id"`
	CustomerID      uuid.UUID            `json:"customer_id"`
	SaleID          *uuid.UUID           `json:"sale_id,omitempty"`
	OrderID         *uuid.UUID           `json:"order_id,omitempty"`
	SaleReturnID    *uuid.UUID           `json:"sale_return_id,omitempty"`
	Amount          decimal.Decimal      `json:"amount"`
	RemainingAmount decimal.Decimal      `json:"remaining_amount"`
	Status          string               `json:"status"`
	IssuedAt        time.Time            `json:"issued_at"`
	ExpiresAt       time.Time            `json:"expires_at"`
	Redemptions     []RedemptionResponse `json:"redemptions,omitempty"`
}

// RedemptionResponse is one redemption of a credit note
type RedemptionResponse struct {
	ID               uuid.UUID       `json:"id"`
	CreditNoteID     uuid.UUID       `json:"credit_note_id"`
	Amount           decimal.Decimal `json:"amount"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	RedeemedAt       time.Time       `json:"redeemed_at"`
}

// CustomerCreditResponse lists a customer's credit notes and usable balance
type CustomerCreditResponse struct {
	CustomerID       uuid.UUID            `json:"customer_id"`
	AvailableBalance decimal.Decimal      `json:"available_balance"`
	CreditNotes      []CreditNoteResponse `json:"credit_notes"`
}

// RefundTransactionResponse is the API view of a money-transfer instrument
type RefundTransactionResponse struct {
	ID                   uuid.UUID       `json:"id"`
	RefundID             uuid.UUID       `json:"refund_id"`
	PaymentID            uuid.UUID       `json:"payment_id"`
	TransactionID        string          `json:"transaction_id"`
	Gateway              string          `json:"gateway"`
	Status               string          `json:"status"`
	Amount               decimal.Decimal `json:"amount"`
	GatewayTransactionID string          `json:"gateway_transaction_id,omitempty"`
	GatewayRefundID      string          `json:"gateway_refund_id,omitempty"`
	GatewayResponse      json.RawMessage `json:"gateway_response,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	Attempts             int             `json:"attempts"`
	ProcessedAt          *time.Time      `json:"processed_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// TransactionStatusResponse combines the stored transaction with the gateway's view
type TransactionStatusResponse struct {
	Transaction   RefundTransactionResponse `json:"transaction"`
	GatewayStatus string                    `json:"gateway_status,omitempty"`
	GatewayError  string                    `json:"gateway_error,omitempty"`
}

// RefundListResponse is a page of refunds
type RefundListResponse struct {
	Items    []RefundResponse `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// ToRefundResponse converts a refund aggregate to its API view
func ToRefundResponse(r *refund.Refund) RefundResponse {
	return RefundResponse{
		ID:              r.ID,
		TenantID:        r.TenantID,
		Reference:       r.Reference,
		SaleID:          r.SaleID,
		OrderID:         r.OrderID,
		SaleReturnID:    r.SaleReturnID,
		CustomerID:      r.CustomerID,
		Amount:          r.Amount,
		Method:          r.Method.String(),
		Status:          r.Status.String(),
		Reason:          r.Reason,
		AdminNotes:      r.AdminNotes,
		RejectionReason: r.RejectionReason,
		FailureReason:   r.FailureReason,
		RequestedAt:     r.RequestedAt,
		ApprovedAt:      r.ApprovedAt,
		ProcessedAt:     r.ProcessedAt,
		CompletedAt:     r.CompletedAt,
		PaidAt:          r.PaidAt,
		ProcessedBy:     r.ProcessedBy,
		CreditNoteID:    r.CreditNoteID,
		Items: lo.Map(r.Items, func(item refund.RefundItem, _ int) RefundItemResponse {
			return ToRefundItemResponse(&item)
		}),
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// ToRefundItemResponse converts a refund line to its API view
func ToRefundItemResponse(item *refund.RefundItem) RefundItemResponse {
	return RefundItemResponse{
		ID:               item.ID,
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

// ToCreditNoteResponse converts a credit note, resolving expiry at now
func ToCreditNoteResponse(note *refund.CreditNote, now time.Time) CreditNoteResponse {
	return CreditNoteResponse{
		ID:              note.ID,
		Reference:       note.Reference,
		RefundID:        note.RefundID,
		CustomerID:      note.CustomerID,
		SaleID:          note.SaleID,
		OrderID:         note.OrderID,
		SaleReturnID:    note.SaleReturnID,
		Amount:          note.Amount,
		RemainingAmount: note.RemainingAmount,
		Status:          string(note.EffectiveStatus(now)),
		IssuedAt:        note.IssuedAt,
		ExpiresAt:       note.ExpiresAt,
	}
}

// ToRedemptionResponse converts a redemption row
func ToRedemptionResponse(r *refund.CreditNoteRedemption) RedemptionResponse {
	return RedemptionResponse{
		ID:               r.ID,
		CreditNoteID:     r.CreditNoteID,
		Amount:           r.Amount,
		PaymentReference: r.PaymentReference,
		RedeemedAt:       r.RedeemedAt,
	}
}

// ToRefundTransactionResponse converts a refund transaction
func ToRefundTransactionResponse(t *refund.RefundTransaction) RefundTransactionResponse {
	return RefundTransactionResponse{
		ID:                   t.ID,
		RefundID:             t.RefundID,
		PaymentID:            t.PaymentID,
		TransactionID:        t.TransactionID,
		Gateway:              t.Gateway,
		Status:               string(t.Status),
		Amount:               t.Amount,
		GatewayTransactionID: t.GatewayTransactionID,
		GatewayRefundID:      t.GatewayRefundID,
		GatewayResponse:      t.GatewayResponse,
		FailureReason:        t.FailureReason,
		Attempts:             t.Attempts,
		ProcessedAt:          t.ProcessedAt,
		CompletedAt:          t.CompletedAt,
	}
}

// ToTransactionStatusResponse converts a status view
func ToTransactionStatusResponse(v *TransactionStatusView) TransactionStatusResponse {
	return TransactionStatusResponse{
		Transaction:   ToRefundTransactionResponse(v.Transaction),
		GatewayStatus: string(v.GatewayStatus),
		GatewayError:  v.GatewayError,
	}
}

func toItemParams(items []RefundItemInput) []refund.NewRefundItemParams {
	return lo.Map(items, func(in RefundItemInput, _ int) refund.NewRefundItemParams {
		return refund.NewRefundItemParams{
			SaleReturnItemID: in.SaleReturnItemID,
			OrderItemID:      in.OrderItemID,
			ProductID:        in.ProductID,
			VariantID:        in.VariantID,
			Quantity:         in.Quantity,
			UnitPrice:        in.UnitPrice,
			Reason:           in.Reason,
		}
	})
}
