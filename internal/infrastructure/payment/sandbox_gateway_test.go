package payment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/settlement/internal/domain/refund"
)

func TestSandboxGateway(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	gateway := NewSandboxGateway(time.Minute)
	gateway.now = func() time.Time { return now }
	ctx := context.Background()

	req := refund.GatewayRefundRequest{PaymentExternalID: "pay_1", AmountMinor: 1250, IdempotencyKey: "REF-1"}
	first, err := gateway.Refund(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, refund.GatewayRefundStatusPending, first.Status)
	assert.Equal(t, "pay_1", first.PaymentID)

	t.Run("repeated idempotency key returns the same refund", func(t *testing.T) {
		again, err := gateway.Refund(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.RefundID, again.RefundID)
	})

	t.Run("settles after the delay", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		fetched, err := gateway.FetchRefund(ctx, "pay_1", first.RefundID)
		require.NoError(t, err)
		assert.Equal(t, refund.GatewayRefundStatusProcessed, fetched.Status)
		assert.Equal(t, int64(1250), fetched.AmountMinor)
	})

	t.Run("unknown refunds and bad requests", func(t *testing.T) {
		_, err := gateway.FetchRefund(ctx, "pay_1", "rfnd_missing")
		assert.ErrorIs(t, err, refund.ErrGatewayRequestFailed)

		_, err = gateway.Refund(ctx, refund.GatewayRefundRequest{PaymentExternalID: "pay_1"})
		assert.ErrorIs(t, err, refund.ErrGatewayRequestFailed)
	})

	assert.NoError(t, gateway.Ping(ctx))
	assert.Equal(t, GatewaySandbox, gateway.Name())
}

func TestRegistry(t *testing.T) {
	sandbox := NewSandboxGateway(0)
	rzp, err := NewRazorpayAdapter(RazorpayConfig{KeyID: "rzp_test", KeySecret: "s"}, nil)
	require.NoError(t, err)

	registry := NewRegistry(sandbox, rzp)

	assert.True(t, registry.Has(GatewayRazorpay))
	assert.False(t, registry.Has("paypal"))
	assert.Equal(t, []string{GatewayRazorpay, GatewaySandbox}, registry.Names())

	got, err := registry.Get(GatewaySandbox)
	require.NoError(t, err)
	assert.Same(t, sandbox, got)

	_, err = registry.Get("paypal")
	assert.ErrorIs(t, err, refund.ErrGatewayNotConfigured)
}
