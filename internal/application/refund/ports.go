package refund

import (
	"context"
	"errors"
	"time"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Clock is the time source of the engine
type Clock interface {
	Now() time.Time
}

// ReferenceGenerator produces human-readable references for refunds and credit notes
type ReferenceGenerator interface {
	RefundReference(now time.Time) string
	CreditNoteReference(now time.Time) string
}

// maxReferenceAttempts bounds how often a colliding reference is regenerated
const maxReferenceAttempts = 3

// withFreshReference inserts under a newly generated reference, drawing
// another one while the insert reports the reference as taken.
func withFreshReference(next func() string, insert func(reference string) error) error {
	var err error
	for i := 0; i < maxReferenceAttempts; i++ {
		if err = insert(next()); !errors.Is(err, shared.ErrAlreadyExists) {
			return err
		}
	}
	return err
}

// StatisticsCache keeps recently computed statistics per tenant
type StatisticsCache interface {
	Get(tenantID uuid.UUID) (*refund.Statistics, bool)
	Set(tenantID uuid.UUID, stats *refund.Statistics)
	Invalidate(tenantID uuid.UUID)
}

// Metrics records business counters for refunds
type Metrics interface {
	RefundRequested(ctx context.Context, method refund.Method)
	RefundCompleted(ctx context.Context, method refund.Method, amount decimal.Decimal)
	RefundFailed(ctx context.Context, method refund.Method)
	GatewayCall(ctx context.Context, gateway, outcome string, elapsed time.Duration)
	CreditRedeemed(ctx context.Context, amount decimal.Decimal)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type noopStatisticsCache struct{}

func (noopStatisticsCache) Get(uuid.UUID) (*refund.Statistics, bool) { return nil, false }
func (noopStatisticsCache) Set(uuid.UUID, *refund.Statistics)        {}
func (noopStatisticsCache) Invalidate(uuid.UUID)                     {}

type noopMetrics struct{}

func (noopMetrics) RefundRequested(context.Context, refund.Method)                  {}
func (noopMetrics) RefundCompleted(context.Context, refund.Method, decimal.Decimal) {}
func (noopMetrics) RefundFailed(context.Context, refund.Method)                     {}
func (noopMetrics) GatewayCall(context.Context, string, string, time.Duration)      {}
func (noopMetrics) CreditRedeemed(context.Context, decimal.Decimal)                 {}
