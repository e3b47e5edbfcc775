package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	appref "github.com/erp/settlement/internal/application/refund"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/infrastructure/logger"
	"github.com/erp/settlement/internal/infrastructure/payment"
	"github.com/erp/settlement/internal/infrastructure/persistence"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/erp/settlement/internal/infrastructure/reference"
	"github.com/erp/settlement/internal/interfaces/http/dto"
	"github.com/erp/settlement/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// apiHarness serves the settlement API over an in-memory sqlite database
// with the sandbox gateway
type apiHarness struct {
	t          *testing.T
	db         *gorm.DB
	engine     *gin.Engine
	tenantID   uuid.UUID
	customerID uuid.UUID
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.CustomerModel{},
		&models.SaleModel{},
		&models.OrderModel{},
		&models.SaleReturnModel{},
		&models.PaymentModel{},
		&models.RefundModel{},
		&models.RefundItemModel{},
		&models.CreditNoteModel{},
		&models.CreditNoteRedemptionModel{},
		&models.RefundTransactionModel{},
	))

	scope := persistence.NewGormRefundTransactionScope(db)
	references := reference.NewGenerator()
	gateways := payment.NewRegistry(payment.NewSandboxGateway(0))

	ledger := appref.NewCreditLedger(scope, references)
	tracker := appref.NewGatewayTracker(scope, gateways)
	service := appref.NewRefundService(scope, ledger, tracker, references)

	refunds := NewRefundHandler(service)
	credit := NewCreditNoteHandler(ledger)
	txns := NewRefundTransactionHandler(tracker)

	engine := gin.New()
	engine.Use(logger.GinMiddleware(zap.NewNop()))
	api := engine.Group("/api/v1", middleware.TenantMiddleware(), middleware.ActorMiddleware())
	api.POST("/refunds", refunds.Create)
	api.GET("/refunds", refunds.List)
	api.GET("/refunds/statistics", refunds.Statistics)
	api.GET("/refunds/:id", refunds.GetByID)
	api.POST("/refunds/:id/approve", refunds.Approve)
	api.POST("/refunds/:id/reject", refunds.Reject)
	api.POST("/refunds/:id/cancel", refunds.Cancel)
	api.POST("/refunds/:id/process", refunds.Process)
	api.PUT("/refunds/:id/items/:item_id/qc", refunds.RecordItemQC)
	api.POST("/credit-notes/apply", credit.Apply)
	api.GET("/credit-notes/:id", credit.GetByID)
	api.GET("/customers/:id/credit", credit.CustomerCredit)
	api.GET("/refund-transactions/:id/status", txns.Status)

	h := &apiHarness{
		t:          t,
		db:         db,
		engine:     engine,
		tenantID:   uuid.New(),
		customerID: uuid.New(),
	}
	now := time.Now().UTC()
	require.NoError(t, db.Create(&models.CustomerModel{
		BaseModel: models.BaseModel{ID: h.customerID, CreatedAt: now, UpdatedAt: now},
		TenantID:  h.tenantID,
		Name:      "Arjun Rao",
	}).Error)
	return h
}

func (h *apiHarness) seedSale(total, paymentRef string) uuid.UUID {
	h.t.Helper()
	now := time.Now().UTC()
	sale := &models.SaleModel{
		BaseModel:        models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		TenantID:         h.tenantID,
		CustomerID:       h.customerID,
		TotalAmount:      decimal.RequireFromString(total),
		PaymentReference: paymentRef,
		RefundedAmount:   decimal.Zero,
		RefundStatus:     string(refund.SourceRefundStatusNone),
	}
	require.NoError(h.t, h.db.Create(sale).Error)
	return sale.ID
}

func (h *apiHarness) seedPayment(externalID, amount string) {
	h.t.Helper()
	now := time.Now().UTC()
	require.NoError(h.t, h.db.Create(models.PaymentModelFromDomain(&refund.Payment{
		ID:             uuid.New(),
		TenantID:       h.tenantID,
		ExternalID:     externalID,
		Gateway:        payment.GatewaySandbox,
		Status:         refund.PaymentStatusCaptured,
		OriginalAmount: decimal.RequireFromString(amount),
		RefundedAmount: decimal.Zero,
		RefundStatus:   refund.PaymentNotRefunded,
		CreatedAt:      now,
		UpdatedAt:      now,
	})).Error)
}

// do sends a request as the harness tenant and decodes the envelope
func (h *apiHarness) do(method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	h.t.Helper()
	return h.doAs(h.tenantID.String(), method, path, body)
}

func (h *apiHarness) doAs(tenant, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	h.t.Helper()
	req := h.request(method, path, body)
	if tenant == "" {
		req.Header.Del(middleware.TenantHeaderKey)
	} else {
		req.Header.Set(middleware.TenantHeaderKey, tenant)
	}
	return h.serve(req)
}

// request builds a JSON request carrying the harness tenant
func (h *apiHarness) request(method, path string, body any) *http.Request {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(h.t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantHeaderKey, h.tenantID.String())
	return req
}

func (h *apiHarness) serve(req *http.Request) (*httptest.ResponseRecorder, envelope) {
	h.t.Helper()
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

// envelope mirrors dto.Response with the data left raw
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
	Meta    *dto.Meta       `json:"meta"`
}

func (e envelope) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Data, v))
}

func (h *apiHarness) createRefund(saleID uuid.UUID, amount, method string) appref.RefundResponse {
	h.t.Helper()
	w, env := h.do(http.MethodPost, "/api/v1/refunds", map[string]any{
		"sale_id": saleID.String(),
		"amount":  amount,
		"method":  method,
		"reason":  "wrong size",
	})
	require.Equal(h.t, http.StatusCreated, w.Code, w.Body.String())
	var resp appref.RefundResponse
	env.decode(h.t, &resp)
	return resp
}
