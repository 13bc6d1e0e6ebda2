package core

import (
	"context"

	"resty.dev/v3"
)

// RateLimitConfig defines rate limiting parameters for an exchange protocol.
type RateLimitConfig struct {
	// RequestsPerSecond is the maximum general requests per second.
	RequestsPerSecond int `json:"requests_per_second"`
	// Burst allows temporary exceeding of rate limits.
	Burst int `json:"burst"`
	// Buckets holds per-endpoint limits in requests per second, keyed by Request.Bucket.
	Buckets map[string]int `json:"buckets,omitempty"`
}

// Protocol defines the interface for exchange-specific protocol implementations.
// Each exchange must implement this interface to handle request building,
// response parsing, authentication, and rate limiting.
type Protocol interface {
	// Name returns the exchange identifier (e.g., "binance", "bybit").
	Name() string

	// Version returns the API version being used.
	Version() string

	// BaseURL returns the API base URL for the given environment.
	// Sandbox mode returns the test environment URL when available.
	BaseURL(sandbox bool) string

	// BuildRequest constructs an HTTP request for the specified operation.
	// The params map contains operation-specific parameters; "cursor" resumes pagination.
	BuildRequest(ctx context.Context, op Operation, params Params) (*Request, error)

	// ParseResponse decodes the HTTP response and normalizes its records into a Page.
	// Venue error envelopes are returned as *ExchangeError.
	ParseResponse(op Operation, resp *resty.Response) (*Page, error)

	// SignRequest adds authentication headers and signature to the request.
	// It must run after every query parameter has been set.
	SignRequest(req *resty.Request, creds Credentials) error

	// SupportedOperations returns the list of operations this protocol supports.
	SupportedOperations() []Operation

	// RateLimits returns the rate limiting configuration for this exchange.
	RateLimits() RateLimitConfig
}
