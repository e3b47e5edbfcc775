package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	appref "github.com/erp/settlement/internal/application/refund"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/interfaces/http/dto"
	"github.com/erp/settlement/internal/interfaces/http/middleware"
)

// RefundHandler handles refund lifecycle endpoints
type RefundHandler struct {
	BaseHandler
	refundService *appref.RefundService
}

// NewRefundHandler creates a new RefundHandler
func NewRefundHandler(refundService *appref.RefundService) *RefundHandler {
	return &RefundHandler{refundService: refundService}
}

// CreateRefundRequest represents a request to open a refund
//
//	@Description	Exactly one of sale_id, order_id or sale_return_id is required
type CreateRefundRequest struct {
	SaleID       *string             `json:"sale_id" binding:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	OrderID      *string             `json:"order_id" binding:"omitempty,uuid"`
	SaleReturnID *string             `json:"sale_return_id" binding:"omitempty,uuid"`
	CustomerID   *string             `json:"customer_id" binding:"omitempty,uuid"`
	Amount       decimal.Decimal     `json:"amount" swaggertype:"string" example:"600.00"`
	Method       string              `json:"method" binding:"required,max=50" example:"credit_note"`
	Reason       string              `json:"reason" binding:"max=2000" example:"Damaged in transit"`
	Items        []RefundItemRequest `json:"items" binding:"omitempty,dive"`
}

// RefundItemRequest is one line of a refund request
//
//	@Description	Refund line
type RefundItemRequest struct {
	SaleReturnItemID *string         `json:"sale_return_item_id" binding:"omitempty,uuid"`
	OrderItemID      *string         `json:"order_item_id" binding:"omitempty,uuid"`
	ProductID        string          `json:"product_id" binding:"required,uuid"`
	VariantID        *string         `json:"variant_id" binding:"omitempty,uuid"`
	Quantity         decimal.Decimal `json:"quantity" swaggertype:"string" example:"2"`
	UnitPrice        decimal.Decimal `json:"unit_price" swaggertype:"string" example:"300.00"`
	Reason           string          `json:"reason" binding:"max=500"`
}

// ApproveRefundRequest represents a request to approve a refund
//
//	@Description	Approving a credit-note refund issues the credit note immediately
type ApproveRefundRequest struct {
	Notes string `json:"notes" binding:"max=2000" example:"Verified with warehouse"`
}

// RejectRefundRequest represents a request to reject a refund
//
//	@Description	Request body for rejecting a refund
type RejectRefundRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=2000" example:"Outside the return window"`
	Notes  string `json:"notes" binding:"max=2000"`
}

// RecordQCRequest records a quality-control verdict on a returned line
//
//	@Description	Quality-control verdict
type RecordQCRequest struct {
	Status string `json:"status" binding:"required,oneof=pending passed failed" example:"passed"`
	Notes  string `json:"notes" binding:"max=2000"`
}

// RefundListQuery holds list filters
type RefundListQuery struct {
	dto.ListRequest
	Status     string `form:"status" binding:"omitempty,oneof=pending approved rejected processing completed failed cancelled"`
	Method     string `form:"method"`
	CustomerID string `form:"customer_id" binding:"omitempty,uuid"`
}

// Create godoc
//
//	@ID				createRefund
//	@Summary		Request a refund
//	@Description	Open a pending refund against a sale, order or sale return
//	@Tags			refunds
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string				true	"Tenant ID"
//	@Param			X-User-ID	header		string				false	"Acting user"
//	@Param			request		body		CreateRefundRequest	true	"Refund request"
//	@Success		201			{object}	APIResponse[appref.RefundResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Failure		500			{object}	ErrorResponse
//	@Router			/refunds [post]
func (h *RefundHandler) Create(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationFailed(c, err)
		return
	}

	input := appref.CreateRefundInput{
		SaleID:       optionalUUID(req.SaleID),
		OrderID:      optionalUUID(req.OrderID),
		SaleReturnID: optionalUUID(req.SaleReturnID),
		CustomerID:   optionalUUID(req.CustomerID),
		Amount:       req.Amount,
		Method:       req.Method,
		Reason:       req.Reason,
		ActorID:      middleware.GetActorUUID(c),
		Items: lo.Map(req.Items, func(item RefundItemRequest, _ int) appref.RefundItemInput {
			return appref.RefundItemInput{
				SaleReturnItemID: optionalUUID(item.SaleReturnItemID),
				OrderItemID:      optionalUUID(item.OrderItemID),
				ProductID:        uuid.MustParse(item.ProductID),
				VariantID:        optionalUUID(item.VariantID),
				Quantity:         item.Quantity,
				UnitPrice:        item.UnitPrice,
				Reason:           item.Reason,
			}
		}),
	}

	resp, err := h.refundService.CreateRefundRequest(c.Request.Context(), tenantID, input)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, resp)
}

// GetByID godoc
//
//	@ID				getRefundById
//	@Summary		Get refund by ID
//	@Description	Retrieve a refund with its items, credit note and gateway transaction
//	@Tags			refunds
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Refund ID"	format(uuid)
//	@Success		200			{object}	APIResponse[appref.RefundResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/refunds/{id} [get]
func (h *RefundHandler) GetByID(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund")
	if !ok {
		return
	}

	resp, err := h.refundService.GetRefund(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// List godoc
//
//	@ID				listRefunds
//	@Summary		List refunds
//	@Description	Retrieve a paginated list of refunds with optional filtering
//	@Tags			refunds
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			status		query		string	false	"Refund status"	Enums(pending, approved, rejected, processing, completed, failed, cancelled)
//	@Param			method		query		string	false	"Refund method"
//	@Param			customer_id	query		string	false	"Customer ID"	format(uuid)
//	@Param			search		query		string	false	"Reference or reason"
//	@Param			page		query		int		false	"Page number"	default(1)
//	@Param			page_size	query		int		false	"Page size"		default(20)	maximum(100)
//	@Success		200			{object}	APIResponse[[]appref.RefundResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Router			/refunds [get]
func (h *RefundHandler) List(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	query := RefundListQuery{ListRequest: dto.DefaultListRequest()}
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationFailed(c, err)
		return
	}

	filter := refund.RefundFilter{
		Filter: shared.Filter{
			Page:     query.Page,
			PageSize: query.PageSize,
			OrderBy:  query.OrderBy,
			OrderDir: query.OrderDir,
		},
		Search: query.Search,
	}
	if query.Status != "" {
		filter.Status = lo.ToPtr(refund.Status(query.Status))
	}
	if query.Method != "" {
		filter.Method = lo.ToPtr(refund.Method(query.Method))
	}
	if query.CustomerID != "" {
		filter.CustomerID = lo.ToPtr(uuid.MustParse(query.CustomerID))
	}

	list, err := h.refundService.ListRefunds(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, list.Items, list.Total, list.Page, list.PageSize)
}

// Approve godoc
//
//	@ID				approveRefund
//	@Summary		Approve a refund
//	@Description	Approve a pending refund. Credit-note refunds complete in the same call.
//	@Tags			refunds
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string					true	"Tenant ID"
//	@Param			id			path		string					true	"Refund ID"	format(uuid)
//	@Param			request		body		ApproveRefundRequest	false	"Approval notes"
//	@Success		200			{object}	APIResponse[appref.RefundResponse]
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Router			/refunds/{id}/approve [post]
func (h *RefundHandler) Approve(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund")
	if !ok {
		return
	}

	var req ApproveRefundRequest
	if !h.bindOptionalJSON(c, &req) {
		return
	}

	resp, err := h.refundService.ApproveRefund(c.Request.Context(), tenantID, id, appref.ApproveInput{
		Notes:   req.Notes,
		ActorID: middleware.GetActorUUID(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Reject godoc
//
//	@ID				rejectRefund
//	@Summary		Reject a refund
//	@Tags			refunds
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string				true	"Tenant ID"
//	@Param			id			path		string				true	"Refund ID"	format(uuid)
//	@Param			request		body		RejectRefundRequest	true	"Rejection reason"
//	@Success		200			{object}	APIResponse[appref.RefundResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Router			/refunds/{id}/reject [post]
func (h *RefundHandler) Reject(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund")
	if !ok {
		return
	}

	var req RejectRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationFailed(c, err)
		return
	}

	resp, err := h.refundService.RejectRefund(c.Request.Context(), tenantID, id, appref.RejectInput{
		Reason:  req.Reason,
		Notes:   req.Notes,
		ActorID: middleware.GetActorUUID(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Cancel godoc
//
//	@ID				cancelRefund
//	@Summary		Cancel a pending refund
//	@Tags			refunds
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Refund ID"	format(uuid)
//	@Success		200			{object}	APIResponse[appref.RefundResponse]
//	@Failure		404			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Router			/refunds/{id}/cancel [post]
func (h *RefundHandler) Cancel(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund")
	if !ok {
		return
	}

	resp, err := h.refundService.CancelRefund(c.Request.Context(), tenantID, id, middleware.GetActorUUID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Process godoc
//
//	@ID				processRefund
//	@Summary		Pay out an approved refund
//	@Description	Sends an approved or failed money refund to its gateway. A gateway
//	@Description	failure is recorded on the refund and is not an error response.
//	@Tags			refunds
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Refund ID"	format(uuid)
//	@Success		200			{object}	APIResponse[appref.RefundResponse]
//	@Failure		404			{object}	ErrorResponse
//	@Failure		409			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Router			/refunds/{id}/process [post]
func (h *RefundHandler) Process(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund")
	if !ok {
		return
	}

	resp, err := h.refundService.ProcessRefund(c.Request.Context(), tenantID, id, middleware.GetActorUUID(c))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// RecordItemQC godoc
//
//	@ID				recordRefundItemQC
//	@Summary		Record quality control on a refund line
//	@Tags			refunds
//	@Accept			json
//	@Produce		json
//	@Param			X-Tenant-ID	header		string			true	"Tenant ID"
//	@Param			id			path		string			true	"Refund ID"	format(uuid)
//	@Param			item_id		path		string			true	"Refund item ID"	format(uuid)
//	@Param			request		body		RecordQCRequest	true	"QC verdict"
//	@Success		200			{object}	APIResponse[appref.RefundResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/refunds/{id}/items/{item_id}/qc [put]
func (h *RefundHandler) RecordItemQC(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund")
	if !ok {
		return
	}
	itemID, ok := h.pathUUID(c, "item_id", "item")
	if !ok {
		return
	}

	var req RecordQCRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.ValidationFailed(c, err)
		return
	}

	resp, err := h.refundService.RecordItemQC(c.Request.Context(), tenantID, id, itemID, refund.QCStatus(req.Status), req.Notes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, resp)
}

// Statistics godoc
//
//	@ID				getRefundStatistics
//	@Summary		Refund statistics
//	@Description	Counts by status and method, and the total amount refunded
//	@Tags			refunds
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Success		200			{object}	APIResponse[refund.Statistics]
//	@Router			/refunds/statistics [get]
func (h *RefundHandler) Statistics(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	stats, err := h.refundService.GetStatistics(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}
