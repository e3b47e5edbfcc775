package refund

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(original, refunded string) *Payment {
	return &Payment{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		ExternalID:     "pay_29QQoUBi66xm2f",
		Gateway:        "razorpay",
		Status:         PaymentStatusCaptured,
		OriginalAmount: decimal.RequireFromString(original),
		RefundedAmount: decimal.RequireFromString(refunded),
		RefundStatus:   PaymentNotRefunded,
	}
}

func TestPayment_CheckEligibility(t *testing.T) {
	tests := []struct {
		name     string
		payment  *Payment
		amount   string
		inflight string
		eligible bool
		reason   string
		max      string
	}{
		{"full balance", newTestPayment("1000", "0"), "1000", "0", true, "", "1000.00"},
		{"partial after refund", newTestPayment("1000", "600"), "400", "0", true, "", "400.00"},
		{"exceeds balance", newTestPayment("1000", "600"), "500", "0", false, ReasonExceedsPaymentTotal, "400.00"},
		{"in-flight counts against balance", newTestPayment("1000", "200"), "500", "400", false, ReasonExceedsPaymentTotal, "400.00"},
		{"zero amount", newTestPayment("1000", "0"), "0", "0", false, ReasonAmountNotPositive, "1000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.payment.CheckEligibility(decimal.RequireFromString(tt.amount), decimal.RequireFromString(tt.inflight))
			assert.Equal(t, tt.eligible, got.Eligible)
			assert.Equal(t, tt.reason, got.Reason)
			assert.Equal(t, tt.max, got.MaxRefundable.StringFixed(2))
		})
	}

	t.Run("not captured", func(t *testing.T) {
		p := newTestPayment("1000", "0")
		p.Status = PaymentStatusAuthorized
		got := p.CheckEligibility(decimal.NewFromInt(10), decimal.Zero)
		assert.False(t, got.Eligible)
		assert.Equal(t, ReasonPaymentNotCaptured, got.Reason)
	})
}

func TestPayment_RecordRefund(t *testing.T) {
	p := newTestPayment("1000", "0")
	p.RecordRefund(decimal.NewFromInt(400), testNow)
	assert.Equal(t, "400.00", p.RefundedAmount.StringFixed(2))
	assert.Equal(t, PaymentPartiallyRefunded, p.RefundStatus)

	p.RecordRefund(decimal.NewFromInt(600), testNow)
	assert.Equal(t, PaymentFullyRefunded, p.RefundStatus)
}

func TestRefundTransaction_Lifecycle(t *testing.T) {
	r := newTestRefund(t, "razorpay", "250")
	p := newTestPayment("1000", "0")
	txn := NewRefundTransaction(r, p, testNow)

	assert.Equal(t, TransactionStatusPending, txn.Status)
	assert.Regexp(t, `^RTX_[0-9A-Z]{26}$`, txn.TransactionID)
	assert.Equal(t, p.ID, txn.PaymentID)
	assert.Equal(t, "razorpay", txn.Gateway)

	require.NoError(t, txn.StartAttempt(testNow))
	assert.Equal(t, TransactionStatusProcessing, txn.Status)
	assert.Equal(t, 1, txn.Attempts)
	assert.Error(t, txn.StartAttempt(testNow), "an in-flight attempt cannot be restarted")

	txn.RecordFailure("gateway timeout", testNow)
	assert.Equal(t, TransactionStatusFailed, txn.Status)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(txn.GatewayResponse, &payload))
	assert.Equal(t, "gateway timeout", payload["error"])

	id := txn.TransactionID
	require.NoError(t, txn.StartAttempt(testNow))
	assert.Equal(t, 2, txn.Attempts)
	assert.Equal(t, id, txn.TransactionID)
	assert.Empty(t, txn.FailureReason)

	txn.RecordSuccess(&GatewayRefundResult{
		RefundID:  "rfnd_1",
		PaymentID: p.ExternalID,
		Status:    GatewayRefundStatusProcessed,
		Raw:       json.RawMessage(`{"id":"rfnd_1"}`),
	}, testNow)
	assert.Equal(t, TransactionStatusCompleted, txn.Status)
	assert.Equal(t, "rfnd_1", txn.GatewayRefundID)
	assert.Equal(t, p.ExternalID, txn.GatewayTransactionID)
	assert.NotNil(t, txn.CompletedAt)
	assert.Error(t, txn.StartAttempt(testNow))
}

func TestGatewayRefundStatus_TransactionStatus(t *testing.T) {
	assert.Equal(t, TransactionStatusCompleted, GatewayRefundStatusProcessed.TransactionStatus())
	assert.Equal(t, TransactionStatusProcessing, GatewayRefundStatusPending.TransactionStatus())
	assert.Equal(t, TransactionStatusFailed, GatewayRefundStatusFailed.TransactionStatus())
	assert.Equal(t, TransactionStatusFailed, GatewayRefundStatus("weird").TransactionStatus())
}
