package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/erp/settlement/internal/domain/refund"
)

func TestDisabledProviders(t *testing.T) {
	ctx := context.Background()
	cfg := Config{ServiceName: "refund-settlement"}

	tp, err := NewTracerProvider(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, tp.IsEnabled())
	assert.NotNil(t, tp.Tracer("test"))
	assert.NoError(t, tp.Shutdown(ctx))

	mp, err := NewMeterProvider(ctx, Config{Enabled: true}, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, mp.IsEnabled(), "metrics need their own flag")
	assert.NotNil(t, mp.Meter("test"))
	assert.NoError(t, mp.Shutdown(ctx))

	lp, err := NewLoggerProvider(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	base := zap.NewNop()
	assert.Same(t, base, lp.Bridge(base))
	assert.NoError(t, lp.Shutdown(ctx))
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestRefundMetrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewRefundMetrics(provider.Meter(MeterName))
	require.NoError(t, err)

	m.RefundRequested(ctx, refund.MethodCreditNote)
	m.RefundRequested(ctx, refund.Method("razorpay"))
	m.RefundCompleted(ctx, refund.MethodCreditNote, decimal.RequireFromString("125.50"))
	m.RefundFailed(ctx, refund.Method("razorpay"))
	m.GatewayCall(ctx, "razorpay", "accepted", 300*time.Millisecond)
	m.CreditRedeemed(ctx, decimal.RequireFromString("40"))

	data := collect(t, reader)

	requested, ok := data["settlement.refunds.requested"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, requested.DataPoints, 2)
	for _, dp := range requested.DataPoints {
		assert.Equal(t, int64(1), dp.Value)
	}

	amount, ok := data["settlement.refunds.completed.amount"].(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, amount.DataPoints, 1)
	assert.InDelta(t, 125.5, amount.DataPoints[0].Value, 0.001)
	method, _ := amount.DataPoints[0].Attributes.Value(AttrRefundMethod)
	assert.Equal(t, string(refund.MethodCreditNote), method.AsString())

	failed, ok := data["settlement.refunds.failed"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), failed.DataPoints[0].Value)

	duration, ok := data["settlement.gateway.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(1), duration.DataPoints[0].Count)
	outcome, _ := duration.DataPoints[0].Attributes.Value(AttrGatewayOutcome)
	assert.Equal(t, "accepted", outcome.AsString())

	credit, ok := data["settlement.credit.redeemed"].(metricdata.Sum[float64])
	require.True(t, ok)
	assert.InDelta(t, 40.0, credit.DataPoints[0].Value, 0.001)
}

type tracedRow struct {
	ID   uint
	Name string
}

func newTracedDB(t *testing.T, cfg DBTracingConfig) (*gorm.DB, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	require.NoError(t, RegisterDBTracing(db, cfg, zap.NewNop()))
	return db, recorder
}

func TestRegisterDBTracing(t *testing.T) {
	t.Run("disabled registers nothing", func(t *testing.T) {
		db, recorder := newTracedDB(t, DBTracingConfig{})
		require.NoError(t, db.Create(&tracedRow{Name: "a"}).Error)
		assert.Empty(t, recorder.Ended())
	})

	t.Run("spans hide bind variables", func(t *testing.T) {
		db, recorder := newTracedDB(t, DBTracingConfig{Enabled: true, DBName: "settlement"})
		require.NoError(t, db.Create(&tracedRow{Name: "secret-customer"}).Error)

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		var statement string
		for _, kv := range spans[len(spans)-1].Attributes() {
			if kv.Key == attribute.Key("db.statement") {
				statement = kv.Value.AsString()
			}
		}
		assert.NotEmpty(t, statement)
		assert.NotContains(t, statement, "secret-customer")
	})

	t.Run("slow statements are flagged", func(t *testing.T) {
		db, recorder := newTracedDB(t, DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond})
		var rows []tracedRow
		require.NoError(t, db.Find(&rows).Error)

		spans := recorder.Ended()
		require.NotEmpty(t, spans)
		slow := false
		for _, kv := range spans[len(spans)-1].Attributes() {
			if kv.Key == "db.slow_query" {
				slow = kv.Value.AsBool()
			}
		}
		assert.True(t, slow)
	})
}
