package handler

import (
	"github.com/gin-gonic/gin"

	appref "github.com/erp/settlement/internal/application/refund"
)

// RefundTransactionHandler exposes gateway refund attempts
type RefundTransactionHandler struct {
	BaseHandler
	tracker *appref.GatewayTracker
}

// NewRefundTransactionHandler creates a new RefundTransactionHandler
func NewRefundTransactionHandler(tracker *appref.GatewayTracker) *RefundTransactionHandler {
	return &RefundTransactionHandler{tracker: tracker}
}

// Status godoc
//
//	@ID				getRefundTransactionStatus
//	@Summary		Refund transaction status
//	@Description	Returns the stored transaction and the gateway's current view of it.
//	@Description	A gateway that cannot be reached is reported in gateway_error.
//	@Tags			refund-transactions
//	@Produce		json
//	@Param			X-Tenant-ID	header		string	true	"Tenant ID"
//	@Param			id			path		string	true	"Refund transaction ID"	format(uuid)
//	@Success		200			{object}	APIResponse[appref.TransactionStatusResponse]
//	@Failure		400			{object}	ErrorResponse
//	@Failure		404			{object}	ErrorResponse
//	@Router			/refund-transactions/{id}/status [get]
func (h *RefundTransactionHandler) Status(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	id, ok := h.pathUUID(c, "id", "refund transaction")
	if !ok {
		return
	}

	view, err := h.tracker.FetchStatus(c.Request.Context(), tenantID, id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, appref.ToTransactionStatusResponse(view))
}
