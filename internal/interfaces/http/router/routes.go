package router

import (
	"github.com/gin-gonic/gin"

	"github.com/erp/settlement/internal/interfaces/http/handler"
)

// Handlers are the API handlers mounted by SettlementRoutes
type Handlers struct {
	Refund            *handler.RefundHandler
	CreditNote        *handler.CreditNoteHandler
	RefundTransaction *handler.RefundTransactionHandler
}

// SettlementRoutes returns the route groups of the settlement API
func SettlementRoutes(h Handlers) []RouteRegistrar {
	refunds := NewDomainGroup("refunds", "/refunds").
		POST("", h.Refund.Create).
		GET("", h.Refund.List).
		GET("/statistics", h.Refund.Statistics).
		GET("/:id", h.Refund.GetByID).
		POST("/:id/approve", h.Refund.Approve).
		POST("/:id/reject", h.Refund.Reject).
		POST("/:id/cancel", h.Refund.Cancel).
		POST("/:id/process", h.Refund.Process).
		PUT("/:id/items/:item_id/qc", h.Refund.RecordItemQC)

	creditNotes := NewDomainGroup("credit-notes", "/credit-notes").
		POST("/apply", h.CreditNote.Apply).
		GET("/:id", h.CreditNote.GetByID)

	customers := NewDomainGroup("customers", "/customers").
		GET("/:id/credit", h.CreditNote.CustomerCredit)

	transactions := NewDomainGroup("refund-transactions", "/refund-transactions").
		GET("/:id/status", h.RefundTransaction.Status)

	return []RouteRegistrar{refunds, creditNotes, customers, transactions}
}

// RegisterHealth mounts the probes at the engine root
func RegisterHealth(engine *gin.Engine, h *handler.HealthHandler) {
	engine.GET("/health", h.Live)
	engine.GET("/ready", h.Ready)
}
