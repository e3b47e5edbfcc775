package payment

import (
	"errors"
	"strings"
	"time"
)

const (
	razorpayAPIBaseURL     = "https://api.razorpay.com"
	defaultGatewayTimeout  = 30 * time.Second
	defaultGatewayRetries  = 3
	defaultRetryInterval   = 200 * time.Millisecond
	defaultRetryMaxElapsed = 10 * time.Second
)

// RazorpayConfig contains configuration for the Razorpay refunds API
type RazorpayConfig struct {
	// KeyID is the API key id used as the basic auth user
	KeyID string
	// KeySecret is the API key secret used as the basic auth password
	KeySecret string
	// BaseURL overrides the API host, mainly for tests
	BaseURL string
	// Timeout bounds a single HTTP request
	Timeout time.Duration
	// MaxRetries is how often a transport error or 5xx is retried
	MaxRetries uint64
	// RetryInterval is the first backoff interval
	RetryInterval time.Duration
	// Speed is the refund speed requested from Razorpay ("normal" or "optimum")
	Speed string
}

// Errors for configuration validation
var (
	ErrRazorpayMissingKeyID     = errors.New("razorpay: missing key id")
	ErrRazorpayMissingKeySecret = errors.New("razorpay: missing key secret")
	ErrRazorpayInvalidSpeed     = errors.New("razorpay: speed must be normal or optimum")
)

// Validate validates the configuration
func (c *RazorpayConfig) Validate() error {
	if strings.TrimSpace(c.KeyID) == "" {
		return ErrRazorpayMissingKeyID
	}
	if strings.TrimSpace(c.KeySecret) == "" {
		return ErrRazorpayMissingKeySecret
	}
	switch c.Speed {
	case "", "normal", "optimum":
	default:
		return ErrRazorpayInvalidSpeed
	}
	return nil
}

func (c *RazorpayConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = razorpayAPIBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultGatewayTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultGatewayRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.Speed == "" {
		c.Speed = "normal"
	}
}
