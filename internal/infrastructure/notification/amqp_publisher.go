package notification

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/erp/settlement/internal/domain/refund"
	"github.com/erp/settlement/internal/domain/shared"
	"github.com/erp/settlement/internal/infrastructure/event"
)

// ErrMissingQueue is returned when the publisher has neither a queue nor an exchange
var ErrMissingQueue = errors.New("notification: queue or exchange is required")

// AMQPConfig configures where refund notifications are published
type AMQPConfig struct {
	URL string
	// Exchange is optional; when empty messages go to Queue on the default exchange
	Exchange string
	Queue    string
}

// Publisher is the subset of *amqp.Channel used to publish
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes refund notifications to RabbitMQ as JSON envelopes
type AMQPNotifier struct {
	channel    Publisher
	exchange   string
	queue      string
	serializer *event.EventSerializer
	logger     *zap.Logger
}

// NewAMQPNotifier creates a notifier on an open channel
func NewAMQPNotifier(channel Publisher, cfg AMQPConfig, serializer *event.EventSerializer, logger *zap.Logger) (*AMQPNotifier, error) {
	if cfg.Queue == "" && cfg.Exchange == "" {
		return nil, ErrMissingQueue
	}
	if serializer == nil {
		serializer = event.NewEventSerializer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AMQPNotifier{
		channel:    channel,
		exchange:   cfg.Exchange,
		queue:      cfg.Queue,
		serializer: serializer,
		logger:     logger.Named("amqp"),
	}, nil
}

// EventTypes returns the refund events that produce notifications
func (n *AMQPNotifier) EventTypes() []string {
	return refund.NotificationEventTypes
}

// Handle publishes one persistent message per event. On a named exchange the
// routing key is the event type, otherwise the queue name.
func (n *AMQPNotifier) Handle(ctx context.Context, e shared.DomainEvent) error {
	body, err := n.serializer.Serialize(e)
	if err != nil {
		return err
	}

	key := n.queue
	if n.exchange != "" {
		key = e.EventType()
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    e.EventID().String(),
		Type:         e.EventType(),
		Timestamp:    e.OccurredAt(),
		Headers: amqp.Table{
			"notification": Name(e.EventType()),
			"tenant_id":    e.TenantID().String(),
		},
		Body: body,
	}

	if err := n.channel.PublishWithContext(ctx, n.exchange, key, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.EventType(), err)
	}
	n.logger.Debug("Notification published",
		zap.String("event_type", e.EventType()),
		zap.String("routing_key", key))
	return nil
}

// Ensure AMQPNotifier implements EventHandler
var _ shared.EventHandler = (*AMQPNotifier)(nil)

// Connection owns the broker connection and the channel notifications are
// published on.
type Connection struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

// Dial connects to RabbitMQ and declares the durable notification queue
func Dial(cfg AMQPConfig) (*Connection, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if cfg.Queue != "" {
		if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", cfg.Queue, err)
		}
		if cfg.Exchange != "" {
			for _, eventType := range refund.NotificationEventTypes {
				if err := ch.QueueBind(cfg.Queue, eventType, cfg.Exchange, false, nil); err != nil {
					_ = conn.Close()
					return nil, fmt.Errorf("failed to bind %s to %s: %w", cfg.Queue, cfg.Exchange, err)
				}
			}
		}
	}
	return &Connection{conn: conn, Channel: ch}, nil
}

// Close closes the channel and the connection
func (c *Connection) Close() error {
	return errors.Join(c.Channel.Close(), c.conn.Close())
}
