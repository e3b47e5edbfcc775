package notification

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
)

// Name returns the notification name of a refund event type, the part after "refund."
func Name(eventType string) string {
	return strings.TrimPrefix(eventType, "refund.")
}

// LogNotifier writes refund notifications to the structured log. It is the
// sink used when no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notification")}
}

// EventTypes returns the refund events that produce notifications
func (n *LogNotifier) EventTypes() []string {
	return refund.NotificationEventTypes
}

// Handle logs the notification
func (n *LogNotifier) Handle(_ context.Context, event shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("notification", Name(event.EventType())),
		zap.String("event_id", event.EventID().String()),
		zap.String("tenant_id", event.TenantID().String()),
		zap.String("refund_id", event.AggregateID().String()),
	}
	if re, ok := event.(refund.RefundEvent); ok {
		snap := re.Snapshot()
		fields = append(fields,
			zap.String("reference", snap.Reference),
			zap.String("customer_id", snap.CustomerID.String()),
			zap.String("amount", snap.Amount.StringFixed(2)),
			zap.String("method", string(snap.Method)),
			zap.String("status", string(snap.Status)),
		)
	}
	n.logger.Info("Refund notification", fields...)
	return nil
}

// Ensure LogNotifier implements EventHandler
var _ shared.EventHandler = (*LogNotifier)(nil)
