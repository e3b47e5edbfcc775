package refund_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appref "github.com/erp/settlement/internal/application/refund"
	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/infrastructure/persistence"
	"github.com/erp/settlement/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

// fixedClock is a settable clock shared by every component of a harness
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Queued references are handed out before the sequence moves on.
type sequenceReferences struct {
	n atomic.Int64

	mu     sync.Mutex
	queued []string
}

func (s *sequenceReferences) queue(references ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, references...)
}

func (s *sequenceReferences) next(prefix string, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) > 0 {
		ref := s.queued[0]
		s.queued = s.queued[1:]
		return ref
	}
	return fmt.Sprintf("%s-%s-%06d", prefix, now.Format("20060102"), s.n.Add(1))
}

func (s *sequenceReferences) RefundReference(now time.Time) string {
	return s.next("REF", now)
}

func (s *sequenceReferences) CreditNoteReference(now time.Time) string {
	return s.next("CN", now)
}

// fakeGateway answers refund calls from a queue of scripted outcomes.
// With the queue empty every call is processed.
type fakeGateway struct {
	name string

	mu       sync.Mutex
	script   []gatewayAnswer
	requests []refund.GatewayRefundRequest
	fetched  *refund.GatewayRefundResult
	fetchErr error
	pingErr  error
}

type gatewayAnswer struct {
	status refund.GatewayRefundStatus
	err    error
}

func newFakeGateway(name string) *fakeGateway {
	return &fakeGateway{name: name}
}

func (g *fakeGateway) Then(status refund.GatewayRefundStatus, err error) *fakeGateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.script = append(g.script, gatewayAnswer{status: status, err: err})
	return g
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Refund(_ context.Context, req refund.GatewayRefundRequest) (*refund.GatewayRefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	answer := gatewayAnswer{status: refund.GatewayRefundStatusProcessed}
	if len(g.script) > 0 {
		answer, g.script = g.script[0], g.script[1:]
	}
	if answer.err != nil {
		return nil, answer.err
	}
	refundID := fmt.Sprintf("rfnd_%d", len(g.requests))
	raw, _ := json.Marshal(map[string]any{"id": refundID, "status": answer.status, "amount": req.AmountMinor})
	return &refund.GatewayRefundResult{
		RefundID:    refundID,
		PaymentID:   req.PaymentExternalID,
		Status:      answer.status,
		AmountMinor: req.AmountMinor,
		Raw:         raw,
	}, nil
}

func (g *fakeGateway) FetchRefund(_ context.Context, paymentExternalID, refundID string) (*refund.GatewayRefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	if g.fetched != nil {
		return g.fetched, nil
	}
	return &refund.GatewayRefundResult{RefundID: refundID, PaymentID: paymentExternalID, Status: refund.GatewayRefundStatusProcessed}, nil
}

func (g *fakeGateway) Ping(context.Context) error { return g.pingErr }

func (g *fakeGateway) Requests() []refund.GatewayRefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]refund.GatewayRefundRequest(nil), g.requests...)
}

type fakeRegistry map[string]refund.Gateway

func (r fakeRegistry) Get(name string) (refund.Gateway, error) {
	if g, ok := r[name]; ok {
		return g, nil
	}
	return nil, refund.ErrGatewayNotConfigured
}

func (r fakeRegistry) Has(name string) bool {
	_, ok := r[name]
	return ok
}

func (r fakeRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	return names
}

// mapStatisticsCache counts how often statistics were read from the database
type mapStatisticsCache struct {
	mu          sync.Mutex
	entries     map[uuid.UUID]*refund.Statistics
	invalidated int
}

func (c *mapStatisticsCache) Get(tenantID uuid.UUID) (*refund.Statistics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.entries[tenantID]
	return stats, ok
}

func (c *mapStatisticsCache) Set(tenantID uuid.UUID, stats *refund.Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[uuid.UUID]*refund.Statistics)
	}
	c.entries[tenantID] = stats
}

func (c *mapStatisticsCache) Invalidate(tenantID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
	c.invalidated++
}

type recordingMetrics struct {
	mu        sync.Mutex
	requested int
	completed int
	failed    int
	redeemed  decimal.Decimal
	calls     []string
}

func (m *recordingMetrics) RefundRequested(context.Context, refund.Method) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested++
}

func (m *recordingMetrics) RefundCompleted(context.Context, refund.Method, decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed++
}

func (m *recordingMetrics) RefundFailed(context.Context, refund.Method) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
}

func (m *recordingMetrics) GatewayCall(_ context.Context, gateway, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gateway+":"+outcome)
}

func (m *recordingMetrics) CreditRedeemed(_ context.Context, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.redeemed = m.redeemed.Add(amount)
}

// harness wires the refund services to an in-memory sqlite database
type harness struct {
	t          *testing.T
	db         *gorm.DB
	scope      *persistence.GormRefundTransactionScope
	clock      *fixedClock
	gateway    *fakeGateway
	cache      *mapStatisticsCache
	metrics    *recordingMetrics
	service    *appref.RefundService
	ledger     *appref.CreditLedger
	tracker    *appref.GatewayTracker
	reconciler *appref.Reconciler
	references *sequenceReferences

	tenantID   uuid.UUID
	customerID uuid.UUID
}

func newHarness(t *testing.T) *harness {
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
	return newHarnessWithDB(t, db)
}

// newHarnessWithDB wires the engine over an already migrated database
func newHarnessWithDB(t *testing.T, db *gorm.DB) *harness {
	t.Helper()

	h := &harness{
		t:          t,
		db:         db,
		scope:      persistence.NewGormRefundTransactionScope(db),
		clock:      &fixedClock{now: testNow},
		gateway:    newFakeGateway("razorpay"),
		cache:      &mapStatisticsCache{},
		metrics:    &recordingMetrics{},
		tenantID:   uuid.New(),
		customerID: uuid.New(),
	}
	registry := fakeRegistry{"razorpay": h.gateway}
	references := &sequenceReferences{}
	h.references = references

	h.ledger = appref.NewCreditLedger(h.scope, references)
	h.ledger.SetClock(h.clock)
	h.ledger.SetMetrics(h.metrics)

	h.tracker = appref.NewGatewayTracker(h.scope, registry)
	h.tracker.SetMetrics(h.metrics)

	h.service = appref.NewRefundService(h.scope, h.ledger, h.tracker, references)
	h.service.SetClock(h.clock)
	h.service.SetStatisticsCache(h.cache)
	h.service.SetMetrics(h.metrics)

	h.reconciler = appref.NewReconciler(h.scope, h.service, registry, appref.DefaultReconcilerConfig(), nil)
	h.reconciler.SetClock(h.clock)

	require.NoError(t, db.Create(&models.CustomerModel{
		BaseModel: models.BaseModel{ID: h.customerID, CreatedAt: testNow, UpdatedAt: testNow},
		TenantID:  h.tenantID,
		Name:      "Meera Iyer",
		Email:     "meera@example.com",
	}).Error)
	return h
}

func (h *harness) ctx() context.Context { return context.Background() }

func (h *harness) seedSale(total, paymentRef string) uuid.UUID {
	h.t.Helper()
	sale := &models.SaleModel{
		BaseModel:        models.BaseModel{ID: uuid.New(), CreatedAt: testNow, UpdatedAt: testNow},
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

func (h *harness) seedOrder(total, paymentRef string) uuid.UUID {
	h.t.Helper()
	order := &models.OrderModel{
		BaseModel:        models.BaseModel{ID: uuid.New(), CreatedAt: testNow, UpdatedAt: testNow},
		TenantID:         h.tenantID,
		CustomerID:       h.customerID,
		TotalAmount:      decimal.RequireFromString(total),
		PaymentReference: paymentRef,
		RefundedAmount:   decimal.Zero,
		RefundStatus:     string(refund.SourceRefundStatusNone),
	}
	require.NoError(h.t, h.db.Create(order).Error)
	return order.ID
}

func (h *harness) seedSaleReturn(saleID uuid.UUID) uuid.UUID {
	h.t.Helper()
	ret := &models.SaleReturnModel{
		BaseModel: models.BaseModel{ID: uuid.New(), CreatedAt: testNow, UpdatedAt: testNow},
		TenantID:  h.tenantID,
		SaleID:    saleID,
	}
	require.NoError(h.t, h.db.Create(ret).Error)
	return ret.ID
}

func (h *harness) seedPayment(externalID, amount, refunded string) uuid.UUID {
	h.t.Helper()
	p := &refund.Payment{
		ID:             uuid.New(),
		TenantID:       h.tenantID,
		ExternalID:     externalID,
		Gateway:        "razorpay",
		Status:         refund.PaymentStatusCaptured,
		OriginalAmount: decimal.RequireFromString(amount),
		RefundedAmount: decimal.RequireFromString(refunded),
		RefundStatus:   refund.PaymentNotRefunded,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
	require.NoError(h.t, h.db.Create(models.PaymentModelFromDomain(p)).Error)
	return p.ID
}

// request creates a pending refund against a sale
func (h *harness) request(saleID uuid.UUID, amount, method string) *appref.RefundResponse {
	h.t.Helper()
	resp, err := h.service.CreateRefundRequest(h.ctx(), h.tenantID, appref.CreateRefundInput{
		SaleID: &saleID,
		Amount: decimal.RequireFromString(amount),
		Method: method,
		Reason: "damaged in transit",
	})
	require.NoError(h.t, err)
	return resp
}

// settleCreditNote requests and approves a credit-note refund
func (h *harness) settleCreditNote(saleID uuid.UUID, amount string) *appref.RefundResponse {
	h.t.Helper()
	created := h.request(saleID, amount, refund.MethodCreditNote.String())
	resp, err := h.service.ApproveRefund(h.ctx(), h.tenantID, created.ID, appref.ApproveInput{})
	require.NoError(h.t, err)
	require.Equal(h.t, refund.StatusCompleted.String(), resp.Status)
	return resp
}

func (h *harness) sale(id uuid.UUID) *models.SaleModel {
	h.t.Helper()
	var sale models.SaleModel
	require.NoError(h.t, h.db.First(&sale, "id = ?", id).Error)
	return &sale
}

func (h *harness) payment(id uuid.UUID) *models.PaymentModel {
	h.t.Helper()
	var p models.PaymentModel
	require.NoError(h.t, h.db.First(&p, "id = ?", id).Error)
	return &p
}

func assertAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}
