package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appref "github.com/erp/settlement/internal/application/refund"
)

// CreditNoteHandler exposes customer store credit
type CreditNoteHandler struct {
	BaseHandler
	ledger *appref.CreditLedger
}

// NewCreditNoteHandler creates a new CreditNoteHandler
func NewCreditNoteHandler(ledger *appref.CreditLedger) *CreditNoteHandler {
	return &CreditNoteHandler{ledger: ledger}
}

// ApplyCreditRequest asks to pay for a purchase from a customer's credit
//
//	@Description	Credit notes are consumed oldest expiry first
type ApplyCreditRequest struct {
	CustomerID       string          `json:"customer_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440001"`
	Amount           decimal.Decimal `json:"amount" swaggertype:"string" example:"600.00"`
	PaymentReference string          `json:"payment_reference" binding:"max=100" example:"PAY-2026-0042"`
}

// Apply godoc
//
//	@ID				applyCreditNotes
//	@Summary		Apply customer credit to a payment
//	@Description	Redeem active credit notes for up to the requested amount.
//	@Description	The response reports what was covered and any shortfall.
//	@Tags			credit-notes
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string				true	"Tenant ID"
//	@Param			request		body		ApplyCreditRequest	true	"Redemption request"
//	@Success		200			{object}	APIResponse[refund.Redemption]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Router			/credit-notes/apply [post]
func (h *CreditNoteHandler) Apply(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req ApplyCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationFailed(c, err)
		return
	}

	redemption, err := h.ledger.ApplyToPayment(c.Request.Context(), tenantID, appref.ApplyCreditInput{
		CustomerID:       uuid.MustParse(req.CustomerID),
		Amount:           req.Amount,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, redemption)
}

// GetByID godoc
//
//	@ID				getCreditNoteById
//	@Summary		Get credit note by ID
//	@Description	Includes the redemption history. Status is evaluated at read time.
//	@Tags			credit-notes
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Credit note ID"	format(uuid)
//	@Success		200			{object}	APIResponse[appref.CreditNoteResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/credit-notes/{id} [get]
func (h *CreditNoteHandler) GetByID(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "credit note")
	if !ok {
		return
	}

	resp, err := h.ledger.GetCreditNote(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// CustomerCredit godoc
//
//	@ID				getCustomerCredit
//	@Summary		Customer credit balance
//	@Description	List a customer's credit notes and their usable balance
//	@Tags			credit-notes
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Customer ID"	format(uuid)
//	@Success		200			{object}	APIResponse[appref.CustomerCreditResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/customers/{id}/credit [get]
func (h *CreditNoteHandler) CustomerCredit(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	customerID, ok := h.pathUUID(c, "id", "customer")
	if !ok {
		return
	}

	resp, err := h.ledger.ListCustomerCredit(c.Request.Context(), tenantID, customerID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}
