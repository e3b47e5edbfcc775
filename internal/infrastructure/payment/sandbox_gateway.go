package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/erp/settlement/internal/domain/refund"
)

// GatewaySandbox is the refund method value served by the sandbox gateway
const GatewaySandbox = "sandbox"

// SandboxGateway is an in-memory gateway for development. Refunds are
// deduplicated by idempotency key and report pending until SettleAfter has
// passed, so the reconciler has something to settle.
type SandboxGateway struct {
	settleAfter time.Duration
	now         func() time.Time

	mu      sync.Mutex
	refunds map[string]*sandboxRefund
	byKey   map[string]string
}

type sandboxRefund struct {
	id        string
	paymentID string
	amount    int64
	createdAt time.Time
}

// NewSandboxGateway creates a sandbox gateway. A zero settleAfter processes
// refunds immediately.
func NewSandboxGateway(settleAfter time.Duration) *SandboxGateway {
	return &SandboxGateway{
		settleAfter: settleAfter,
		now:         time.Now,
		refunds:     make(map[string]*sandboxRefund),
		byKey:       make(map[string]string),
	}
}

// Name returns the refund method served by this gateway
func (g *SandboxGateway) Name() string {
	return GatewaySandbox
}

// Refund records a refund, or returns the earlier one for a repeated idempotency key
func (g *SandboxGateway) Refund(_ context.Context, req refund.GatewayRefundRequest) (*refund.GatewayRefundResult, error) {
	if req.PaymentExternalID == "" || req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: payment id and a positive amount are required", refund.ErrGatewayRequestFailed)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return g.result(g.refunds[id]), nil
	}
	r := &sandboxRefund{
		id:        "rfnd_sbx_" + ulid.Make().String(),
		paymentID: req.PaymentExternalID,
		amount:    req.AmountMinor,
		createdAt: g.now(),
	}
	g.refunds[r.id] = r
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = r.id
	}
	return g.result(r), nil
}

// FetchRefund returns the refund with its status at the current time
func (g *SandboxGateway) FetchRefund(_ context.Context, _, refundID string) (*refund.GatewayRefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.refunds[refundID]
	if !ok {
		return nil, fmt.Errorf("%w: refund %s not found", refund.ErrGatewayRequestFailed, refundID)
	}
	return g.result(r), nil
}

// Ping always succeeds
func (g *SandboxGateway) Ping(context.Context) error {
	return nil
}

func (g *SandboxGateway) result(r *sandboxRefund) *refund.GatewayRefundResult {
	status := refund.GatewayRefundStatusProcessed
	if g.now().Sub(r.createdAt) < g.settleAfter {
		status = refund.GatewayRefundStatusPending
	}
	raw, _ := json.Marshal(map[string]any{
		"id":         r.id,
		"entity":     "refund",
		"payment_id": r.paymentID,
		"amount":     r.amount,
		"status":     status,
	})
	return &refund.GatewayRefundResult{
		RefundID:    r.id,
		PaymentID:   r.paymentID,
		Status:      status,
		AmountMinor: r.amount,
		Raw:         raw,
	}
}

// Ensure SandboxGateway implements refund.Gateway
var _ refund.Gateway = (*SandboxGateway)(nil)
