package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("bybit")

	assert.Equal(t, "bybit", config.Exchange)
	assert.False(t, config.Sandbox)
	assert.Empty(t, config.BaseURL)
	assert.Equal(t, 10*time.Second, config.Timeout)
	assert.Equal(t, 3, config.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.RetryWaitMin)
	assert.Equal(t, 1*time.Second, config.RetryWaitMax)
	assert.Equal(t, 5*time.Second, config.RecvWindow)
	assert.Equal(t, 0, config.PageLimit)
	assert.Equal(t, 1000, config.MaxPages)
	assert.Equal(t, 1200, config.RateLimitRequests)
	assert.Equal(t, time.Minute, config.RateLimitPeriod)
	assert.True(t, config.CircuitBreakerEnabled)
	assert.Equal(t, 5, config.CircuitBreakerFailThreshold)
	assert.Equal(t, 2, config.CircuitBreakerSuccessThreshold)
	assert.Equal(t, 30*time.Second, config.CircuitBreakerTimeout)
	assert.Equal(t, "info", config.LogLevel)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid_config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing_exchange",
			mutate:  func(c *Config) { c.Exchange = "" },
			wantErr: true,
			errMsg:  "Exchange",
		},
		{
			name:    "invalid_timeout",
			mutate:  func(c *Config) { c.Timeout = -1 * time.Second },
			wantErr: true,
			errMsg:  "Timeout",
		},
		{
			name:    "negative_max_retries",
			mutate:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: true,
			errMsg:  "MaxRetries",
		},
		{
			name:    "invalid_base_url",
			mutate:  func(c *Config) { c.BaseURL = "not a url" },
			wantErr: true,
			errMsg:  "BaseURL",
		},
		{
			name:    "zero_recv_window",
			mutate:  func(c *Config) { c.RecvWindow = 0 },
			wantErr: true,
			errMsg:  "RecvWindow",
		},
		{
			name:    "negative_page_limit",
			mutate:  func(c *Config) { c.PageLimit = -1 },
			wantErr: true,
			errMsg:  "PageLimit",
		},
		{
			name:    "zero_max_pages",
			mutate:  func(c *Config) { c.MaxPages = 0 },
			wantErr: true,
			errMsg:  "MaxPages",
		},
		{
			name:    "invalid_rate_limit_requests",
			mutate:  func(c *Config) { c.RateLimitRequests = 0 },
			wantErr: true,
			errMsg:  "RateLimitRequests",
		},
		{
			name:    "invalid_rate_limit_period",
			mutate:  func(c *Config) { c.RateLimitPeriod = 0 },
			wantErr: true,
			errMsg:  "RateLimitPeriod",
		},
		{
			name:    "incomplete_credentials",
			mutate:  func(c *Config) { c.Credentials = &Credentials{APIKey: "key"} },
			wantErr: true,
			errMsg:  "SecretKey",
		},
		{
			name:    "unknown_log_level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
			errMsg:  "LogLevel",
		},
		{
			name:    "invalid_circuit_breaker_fail_threshold",
			mutate:  func(c *Config) { c.CircuitBreakerFailThreshold = 0 },
			wantErr: true,
			errMsg:  "CircuitBreakerFailThreshold",
		},
		{
			name:    "invalid_circuit_breaker_success_threshold",
			mutate:  func(c *Config) { c.CircuitBreakerSuccessThreshold = 0 },
			wantErr: true,
			errMsg:  "CircuitBreakerSuccessThreshold",
		},
		{
			name:    "invalid_circuit_breaker_timeout",
			mutate:  func(c *Config) { c.CircuitBreakerTimeout = 0 },
			wantErr: true,
			errMsg:  "CircuitBreakerTimeout",
		},
		{
			name: "circuit_breaker_disabled_skips_validation",
			mutate: func(c *Config) {
				c.CircuitBreakerEnabled = false
				c.CircuitBreakerFailThreshold = 0
				c.CircuitBreakerSuccessThreshold = 0
				c.CircuitBreakerTimeout = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig("binance")
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.errMsg), "expected error to contain %q, got %q", tt.errMsg, err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_WithCredentials(t *testing.T) {
	config := DefaultConfig("binance")
	creds := &Credentials{
		APIKey:    "test-key",
		SecretKey: "test-secret",
	}

	result := config.WithCredentials(creds)

	assert.Equal(t, config, result)
	assert.Equal(t, creds, config.Credentials)
	assert.NoError(t, config.Validate())
}

func TestConfig_Chained(t *testing.T) {
	config := DefaultConfig("bybit").
		WithSandbox(true).
		WithBaseURL("http://127.0.0.1:8080").
		WithMarketType(MarketTypeLinear).
		WithTimeout(30*time.Second).
		WithRateLimit(100, 10*time.Second).
		WithPagination(50, 20).
		WithCircuitBreaker(false)

	assert.True(t, config.Sandbox)
	assert.Equal(t, "http://127.0.0.1:8080", config.BaseURL)
	assert.Equal(t, MarketTypeLinear, config.MarketType)
	assert.Equal(t, 30*time.Second, config.Timeout)
	assert.Equal(t, 100, config.RateLimitRequests)
	assert.Equal(t, 10*time.Second, config.RateLimitPeriod)
	assert.Equal(t, 50, config.PageLimit)
	assert.Equal(t, 20, config.MaxPages)
	assert.False(t, config.CircuitBreakerEnabled)
	assert.NoError(t, config.Validate())
}
