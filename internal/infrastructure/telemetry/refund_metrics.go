package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/erp/settlement/internal/domain/refund"
)

// MeterName is the instrumentation scope of the refund business metrics
const MeterName = "github.com/erp/settlement/refund"

var (
	AttrRefundMethod   = attribute.Key("refund.method")
	AttrGateway        = attribute.Key("gateway")
	AttrGatewayOutcome = attribute.Key("gateway.outcome")
)

// RefundMetrics records refund lifecycle counters on an OpenTelemetry meter
type RefundMetrics struct {
	requested       metric.Int64Counter
	completed       metric.Int64Counter
	completedAmount metric.Float64Counter
	failed          metric.Int64Counter
	gatewayCalls    metric.Int64Counter
	gatewayDuration metric.Float64Histogram
	creditRedeemed  metric.Float64Counter
}

// NewRefundMetrics creates the refund instruments on meter
func NewRefundMetrics(meter metric.Meter) (*RefundMetrics, error) {
	m := &RefundMetrics{}
	var err error

	if m.requested, err = meter.Int64Counter("settlement.refunds.requested",
		metric.WithDescription("Refund requests accepted"),
		metric.WithUnit("{refund}"),
	); err != nil {
		return nil, instrumentErr("settlement.refunds.requested", err)
	}
	if m.completed, err = meter.Int64Counter("settlement.refunds.completed",
		metric.WithDescription("Refunds that reached completed"),
		metric.WithUnit("{refund}"),
	); err != nil {
		return nil, instrumentErr("settlement.refunds.completed", err)
	}
	if m.completedAmount, err = meter.Float64Counter("settlement.refunds.completed.amount",
		metric.WithDescription("Value of completed refunds"),
		metric.WithUnit("{currency}"),
	); err != nil {
		return nil, instrumentErr("settlement.refunds.completed.amount", err)
	}
	if m.failed, err = meter.Int64Counter("settlement.refunds.failed",
		metric.WithDescription("Refund processing attempts that failed"),
		metric.WithUnit("{refund}"),
	); err != nil {
		return nil, instrumentErr("settlement.refunds.failed", err)
	}
	if m.gatewayCalls, err = meter.Int64Counter("settlement.gateway.calls",
		metric.WithDescription("Refund submissions to payment gateways by outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, instrumentErr("settlement.gateway.calls", err)
	}
	if m.gatewayDuration, err = meter.Float64Histogram("settlement.gateway.duration",
		metric.WithDescription("Payment gateway round trip time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(GatewayDurationBuckets...),
	); err != nil {
		return nil, instrumentErr("settlement.gateway.duration", err)
	}
	if m.creditRedeemed, err = meter.Float64Counter("settlement.credit.redeemed",
		metric.WithDescription("Customer credit applied to orders"),
		metric.WithUnit("{currency}"),
	); err != nil {
		return nil, instrumentErr("settlement.credit.redeemed", err)
	}
	return m, nil
}

func instrumentErr(name string, err error) error {
	return fmt.Errorf("failed to create instrument %s: %w", name, err)
}

// RefundRequested counts a new refund
func (m *RefundMetrics) RefundRequested(ctx context.Context, method refund.Method) {
	m.requested.Add(ctx, 1, metric.WithAttributes(AttrRefundMethod.String(string(method))))
}

// RefundCompleted counts a completed refund and its value
func (m *RefundMetrics) RefundCompleted(ctx context.Context, method refund.Method, amount decimal.Decimal) {
	attrs := metric.WithAttributes(AttrRefundMethod.String(string(method)))
	m.completed.Add(ctx, 1, attrs)
	m.completedAmount.Add(ctx, amount.InexactFloat64(), attrs)
}

// RefundFailed counts a failed processing attempt
func (m *RefundMetrics) RefundFailed(ctx context.Context, method refund.Method) {
	m.failed.Add(ctx, 1, metric.WithAttributes(AttrRefundMethod.String(string(method))))
}

// GatewayCall records one gateway submission
func (m *RefundMetrics) GatewayCall(ctx context.Context, gateway, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(AttrGateway.String(gateway), AttrGatewayOutcome.String(outcome))
	m.gatewayCalls.Add(ctx, 1, attrs)
	m.gatewayDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// CreditRedeemed records credit drawn from credit notes
func (m *RefundMetrics) CreditRedeemed(ctx context.Context, amount decimal.Decimal) {
	m.creditRedeemed.Add(ctx, amount.InexactFloat64())
}
