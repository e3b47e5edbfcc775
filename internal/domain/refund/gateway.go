package refund

import (
	"context"
	"encoding/json"
	"errors"
)

// Gateway transport errors. Adapters wrap these so callers can tell a
// gateway that could not be reached from one that refused the request.
var (
	ErrGatewayUnavailable     = errors.New("refund: gateway temporarily unavailable")
	ErrGatewayRequestFailed   = errors.New("refund: gateway request failed")
	ErrGatewayInvalidResponse = errors.New("refund: invalid gateway response")
	ErrGatewayNotConfigured   = errors.New("refund: gateway not configured")
)

// GatewayRefundStatus is the refund status reported by a payment gateway
type GatewayRefundStatus string

const (
	GatewayRefundStatusProcessed GatewayRefundStatus = "processed"
	GatewayRefundStatusPending   GatewayRefundStatus = "pending"
	GatewayRefundStatusFailed    GatewayRefundStatus = "failed"
)

// TransactionStatus maps the gateway status onto the RefundTransaction status
func (s GatewayRefundStatus) TransactionStatus() TransactionStatus {
	switch s {
	case GatewayRefundStatusProcessed:
		return TransactionStatusCompleted
	case GatewayRefundStatusPending:
		return TransactionStatusProcessing
	default:
		return TransactionStatusFailed
	}
}

// GatewayRefundRequest is a refund call against a captured payment
type GatewayRefundRequest struct {
	// PaymentExternalID is the gateway's id for the captured payment
	PaymentExternalID string
	// AmountMinor is the amount in the currency's minor unit
	AmountMinor int64
	// IdempotencyKey is sent with the request so retries are deduplicated by the gateway
	IdempotencyKey string
	Notes          map[string]string
}

// GatewayRefundResult is what the gateway returned for a refund
type GatewayRefundResult struct {
	RefundID    string
	PaymentID   string
	Status      GatewayRefundStatus
	AmountMinor int64
	Raw         json.RawMessage
}

// Gateway is a money-transfer refund provider
type Gateway interface {
	// Name is the refund method value that selects this gateway
	Name() string

	// Refund issues a refund for a captured payment
	Refund(ctx context.Context, req GatewayRefundRequest) (*GatewayRefundResult, error)

	// FetchRefund reads the current state of a refund from the gateway
	FetchRefund(ctx context.Context, paymentExternalID, refundID string) (*GatewayRefundResult, error)

	// Ping checks that the gateway is reachable and the credentials are accepted
	Ping(ctx context.Context) error
}

// GatewayRegistry looks up configured gateways by refund method
type GatewayRegistry interface {
	Get(name string) (Gateway, error)
	Has(name string) bool
	Names() []string
}
