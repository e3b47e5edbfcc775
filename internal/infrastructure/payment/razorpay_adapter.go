package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/erp/settlement/internal/domain/refund"
)

const (
	// GatewayRazorpay is the refund method value served by the Razorpay adapter
	GatewayRazorpay = "razorpay"

	razorpayRefundPath      = "/v1/payments/%s/refund"
	razorpayFetchRefundPath = "/v1/payments/%s/refunds/%s"
	razorpayRefundByIDPath  = "/v1/refunds/%s"
	razorpayPingPath        = "/v1/payments?count=1"

	idempotencyHeader = "X-Idempotency-Key"
	maxReceiptLength  = 40
)

// RazorpayAdapter implements refund.Gateway for the Razorpay refunds API.
// Transport errors and 5xx answers are retried with exponential backoff; the
// idempotency key sent with every refund call makes the retries safe.
type RazorpayAdapter struct {
	config     RazorpayConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewRazorpayAdapter creates a new Razorpay adapter
func NewRazorpayAdapter(config RazorpayConfig, logger *zap.Logger) (*RazorpayAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RazorpayAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.Named("razorpay"),
	}, nil
}

// Name returns the refund method served by this gateway
func (a *RazorpayAdapter) Name() string {
	return GatewayRazorpay
}

// Refund issues a refund against a captured payment
func (a *RazorpayAdapter) Refund(ctx context.Context, req refund.GatewayRefundRequest) (*refund.GatewayRefundResult, error) {
	if req.PaymentExternalID == "" {
		return nil, fmt.Errorf("%w: payment id is required", refund.ErrGatewayRequestFailed)
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", refund.ErrGatewayRequestFailed)
	}

	body, err := json.Marshal(razorpayRefundRequest{
		Amount:  req.AmountMinor,
		Speed:   a.config.Speed,
		Receipt: receipt(req.IdempotencyKey),
		Notes:   req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("razorpay: failed to marshal request: %w", err)
	}

	path := fmt.Sprintf(razorpayRefundPath, url.PathEscape(req.PaymentExternalID))
	respBody, err := a.doRequest(ctx, http.MethodPost, path, body, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	return parseRefund(respBody)
}

// FetchRefund reads the current state of a refund
func (a *RazorpayAdapter) FetchRefund(ctx context.Context, paymentExternalID, refundID string) (*refund.GatewayRefundResult, error) {
	if refundID == "" {
		return nil, fmt.Errorf("%w: refund id is required", refund.ErrGatewayRequestFailed)
	}

	path := fmt.Sprintf(razorpayRefundByIDPath, url.PathEscape(refundID))
	if paymentExternalID != "" {
		path = fmt.Sprintf(razorpayFetchRefundPath, url.PathEscape(paymentExternalID), url.PathEscape(refundID))
	}
	respBody, err := a.doRequest(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	return parseRefund(respBody)
}

// Ping lists a single payment to check connectivity and credentials
func (a *RazorpayAdapter) Ping(ctx context.Context) error {
	_, err := a.doRequest(ctx, http.MethodGet, razorpayPingPath, nil, "")
	return err
}

func (a *RazorpayAdapter) doRequest(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(a.config.RetryInterval),
				backoff.WithMaxElapsedTime(defaultRetryMaxElapsed),
			),
			a.config.MaxRetries,
		),
		ctx,
	)

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		return a.send(ctx, method, path, body, idempotencyKey)
	}
	notify := func(err error, wait time.Duration) {
		a.logger.Warn("Retrying gateway request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return backoff.RetryNotifyWithData(operation, policy, notify)
}

// send performs one HTTP exchange. Errors that must not be retried are
// wrapped with backoff.Permanent.
func (a *RazorpayAdapter) send(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		reqBody = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("razorpay: failed to create request: %w", err))
	}
	req.SetBasicAuth(a.config.KeyID, a.config.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHeader, idempotencyKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", refund.ErrGatewayUnavailable, ctx.Err()))
		}
		return nil, fmt.Errorf("%w: %v", refund.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", refund.ErrGatewayUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", refund.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		var errResp razorpayErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Code != "" {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s - %s", refund.ErrGatewayRequestFailed, errResp.Error.Code, errResp.Error.Description))
		}
		return nil, backoff.Permanent(fmt.Errorf("%w: HTTP %d", refund.ErrGatewayRequestFailed, resp.StatusCode))
	}
	return respBody, nil
}

func parseRefund(body []byte) (*refund.GatewayRefundResult, error) {
	var data razorpayRefund
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", refund.ErrGatewayInvalidResponse, err)
	}
	if data.ID == "" {
		return nil, fmt.Errorf("%w: refund id missing", refund.ErrGatewayInvalidResponse)
	}
	status, err := mapRazorpayRefundStatus(data.Status)
	if err != nil {
		return nil, err
	}
	return &refund.GatewayRefundResult{
		RefundID:    data.ID,
		PaymentID:   data.PaymentID,
		Status:      status,
		AmountMinor: data.Amount,
		Raw:         json.RawMessage(body),
	}, nil
}

func mapRazorpayRefundStatus(status string) (refund.GatewayRefundStatus, error) {
	switch status {
	case "processed":
		return refund.GatewayRefundStatusProcessed, nil
	case "pending", "created":
		return refund.GatewayRefundStatusPending, nil
	case "failed":
		return refund.GatewayRefundStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown refund status %q", refund.ErrGatewayInvalidResponse, status)
	}
}

// receipt trims the idempotency key to the receipt length Razorpay accepts
func receipt(key string) string {
	if len(key) > maxReceiptLength {
		return key[:maxReceiptLength]
	}
	return key
}

// Ensure RazorpayAdapter implements refund.Gateway
var _ refund.Gateway = (*RazorpayAdapter)(nil)
