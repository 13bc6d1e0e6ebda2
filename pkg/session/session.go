package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nakula/internal/circuitbreaker"
	"nakula/internal/http"
	"nakula/internal/keyring"
	"nakula/internal/ratelimit"
	"nakula/pkg/core"
)

// State represents the lifecycle state of a Session.
type State int

const (
	// StateNew indicates a newly created session that has not yet been activated.
	StateNew State = iota
	// StateActive indicates a session that is ready to process requests.
	StateActive
	// StateClosed indicates a session that has been shut down and can no longer be used.
	StateClosed
)

// String returns the string representation of the State.
func (s State) String() string {
	return [...]string{"NEW", "ACTIVE", "CLOSED"}[s]
}

// Session executes statement queries against one venue.
// It manages authentication, rate limiting, circuit breaking, and pagination.
// Sessions are safe for concurrent use.
type Session struct {
	mu             sync.RWMutex
	config         *core.Config
	protocol       core.Protocol
	client         *http.Client
	credentials    *core.Credentials
	keys           *keyring.KeyRing
	rateLimiter    *ratelimit.RateLimiter
	circuitBreaker *circuitbreaker.Breaker
	logger         zerolog.Logger
	state          State
	createdAt      time.Time
	lastUsed       time.Time
}

type Option func(*Session)

// WithLogger sets the session logger. Config.LogLevel still applies on top of it.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithKeyRing signs requests with keys drawn from ring instead of Config.Credentials.
func WithKeyRing(ring *keyring.KeyRing) Option {
	return func(s *Session) {
		s.keys = ring
	}
}

// New creates a new Session with the provided configuration.
// The configuration is validated before the session is created.
func New(config *core.Config, opts ...Option) (*Session, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	now := time.Now()
	s := &Session{
		config:      config,
		credentials: config.Credentials,
		rateLimiter: ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod),
		logger:      zerolog.Nop(),
		state:       StateNew,
		createdAt:   now,
		lastUsed:    now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if config.LogLevel != "" {
		level, err := zerolog.ParseLevel(config.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		s.logger = s.logger.Level(level)
	}
	s.logger = s.logger.With().Str("exchange", config.Exchange).Logger()

	if s.keys != nil {
		s.keys.SetLogger(s.logger)
	}

	if config.CircuitBreakerEnabled {
		s.circuitBreaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
		})
		s.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
			s.logger.Warn().
				Stringer("from", from).
				Stringer("to", to).
				Msg("circuit breaker state changed")
		})
	}

	return s, nil
}

// SetProtocol assigns the exchange protocol to the session and builds its HTTP client.
// The session state transitions to Active if currently in New state.
func (s *Session) SetProtocol(protocol core.Protocol) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if protocol == nil {
		return fmt.Errorf("protocol is required")
	}
	if s.state == StateClosed {
		return core.ErrClientClosed
	}

	baseURL := s.config.BaseURL
	if baseURL == "" {
		baseURL = protocol.BaseURL(s.config.Sandbox)
	}

	client, err := http.NewClient(&http.Config{
		BaseURL:      baseURL,
		Timeout:      s.config.Timeout,
		MaxRetries:   s.config.MaxRetries,
		RetryWaitMin: s.config.RetryWaitMin,
		RetryWaitMax: s.config.RetryWaitMax,
		Logger:       s.logger,
	})
	if err != nil {
		return fmt.Errorf("create http client: %w", err)
	}

	if s.client != nil {
		_ = s.client.Close()
	}
	s.client = client
	s.protocol = protocol

	for bucket, perSecond := range protocol.RateLimits().Buckets {
		s.rateLimiter.SetBucketLimit(bucket, perSecond, time.Second)
	}

	if s.state == StateNew {
		s.state = StateActive
	}
	s.lastUsed = time.Now()

	s.logger.Debug().
		Str("protocol", protocol.Name()).
		Str("version", protocol.Version()).
		Str("base_url", baseURL).
		Msg("protocol set")

	return nil
}

// Do executes one statement query and returns the normalized page.
// Rate limiting, circuit breaker protection, and signing are applied automatically.
func (s *Session) Do(ctx context.Context, op core.Operation, params core.Params) (*core.Page, error) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil, core.ErrClientClosed
	}
	if s.protocol == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("protocol not set")
	}
	protocol, client := s.protocol, s.client
	s.lastUsed = time.Now()
	s.mu.Unlock()

	req, err := protocol.BuildRequest(ctx, op, params)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if s.circuitBreaker != nil && !s.circuitBreaker.Allow() {
		return nil, core.NewExchangeError(
			s.config.Exchange,
			core.ErrorTypeServerError,
			nethttp.StatusServiceUnavailable,
			"circuit breaker is open",
		).WithCode(core.ErrCodeCircuitBreaker).WithRaw(core.ErrCircuitBreakerOpen)
	}

	if err := s.rateLimiter.WaitN(ctx, req.Bucket, req.Weight); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	restyReq := client.Request(ctx,
		http.WithHeaders(req.Headers),
		http.WithQueryParams(req.QueryStrings()),
	)

	var keyID string
	if req.RequireAuth {
		creds, id, err := s.resolveCredentials()
		if err != nil {
			return nil, err
		}
		keyID = id
		if err := protocol.SignRequest(restyReq, creds); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := client.Execute(restyReq, req.Method, req.Path)
	if err != nil {
		s.record(false)
		if errors.Is(err, core.ErrClientClosed) {
			return nil, err
		}
		return nil, s.transportError(op, err)
	}
	s.record(resp.StatusCode() < nethttp.StatusInternalServerError)

	page, err := protocol.ParseResponse(op, resp)
	if err != nil {
		var exErr *core.ExchangeError
		if !errors.As(err, &exErr) {
			if resp.IsError() {
				err = core.NewExchangeError(
					s.config.Exchange,
					core.ErrorTypeForStatus(resp.StatusCode()),
					resp.StatusCode(),
					resp.String(),
				).WithRaw(err)
			} else {
				err = fmt.Errorf("parse response: %w", err)
			}
		}
		if s.keys != nil && keyID != "" {
			s.keys.OnError(keyID, err)
		}
		s.logger.Debug().Err(err).Stringer("op", op).Msg("request failed")
		return nil, err
	}

	s.logger.Trace().
		Stringer("op", op).
		Int("records", page.Len()).
		Str("next_cursor", page.NextCursor).
		Msg("page received")

	return page, nil
}

func (s *Session) resolveCredentials() (core.Credentials, string, error) {
	if s.keys != nil {
		creds, id, err := s.keys.Acquire()
		if err != nil {
			return core.Credentials{}, "", core.NewExchangeError(
				s.config.Exchange, core.ErrorTypeAuthentication, 0, err.Error(),
			).WithCode(core.ErrCodeNoAPIKey).WithRaw(err)
		}
		return creds, id, nil
	}

	s.mu.RLock()
	creds := s.credentials
	s.mu.RUnlock()
	if creds == nil {
		return core.Credentials{}, "", core.NewExchangeError(
			s.config.Exchange, core.ErrorTypeAuthentication, 0, core.ErrNoCredentials.Error(),
		).WithCode(core.ErrCodeNoCredentials).WithRaw(core.ErrNoCredentials)
	}
	return *creds, "", nil
}

func (s *Session) transportError(op core.Operation, err error) error {
	errType, code := core.ErrorTypeNetwork, core.ErrCodeNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		errType, code = core.ErrorTypeTimeout, core.ErrCodeTimeout
	}
	return core.NewExchangeError(s.config.Exchange, errType, 0, fmt.Sprintf("%s: %v", op, err)).
		WithCode(code).
		WithRaw(err)
}

func (s *Session) record(success bool) {
	if s.circuitBreaker != nil {
		s.circuitBreaker.Record(success)
	}
}

// Pages follows the venue cursor from params until the last page.
// Iteration stops at the first error; a query longer than Config.MaxPages
// yields core.ErrTooManyPages.
func (s *Session) Pages(ctx context.Context, op core.Operation, params core.Params) iter.Seq2[*core.Page, error] {
	return func(yield func(*core.Page, error) bool) {
		p := params.Clone()
		for n := 0; ; n++ {
			if n >= s.config.MaxPages {
				yield(nil, fmt.Errorf("%s after %d pages: %w", op, n, core.ErrTooManyPages))
				return
			}

			page, err := s.Do(ctx, op, p)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(page, nil) || !page.HasMore() {
				return
			}

			if page.NextCursor == p.String("cursor", "") {
				yield(nil, fmt.Errorf("%s: cursor %q repeated", op, page.NextCursor))
				return
			}
			p["cursor"] = page.NextCursor
		}
	}
}

// Collect drains Pages into a single page.
func (s *Session) Collect(ctx context.Context, op core.Operation, params core.Params) (*core.Page, error) {
	out := &core.Page{}
	for page, err := range s.Pages(ctx, op, params) {
		if err != nil {
			return nil, err
		}
		out.Flows = append(out.Flows, page.Flows...)
		out.Events = append(out.Events, page.Events...)
	}
	return out, nil
}

// Close shuts down the session and releases its HTTP client.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateClosed
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// State returns the current lifecycle state of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Protocol returns the exchange protocol assigned to the session.
// Returns nil if no protocol has been set.
func (s *Session) Protocol() core.Protocol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocol
}

func (s *Session) Config() *core.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

func (s *Session) Logger() zerolog.Logger {
	return s.logger
}

func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastUsed returns the timestamp of the last request executed by the session.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

// SetCredentials updates the API credentials used when no key ring is configured.
func (s *Session) SetCredentials(creds *core.Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials = creds
}

// Stats is a point-in-time view of the session's protection layers.
type Stats struct {
	RateLimit      ratelimit.MetricsSnapshot
	CircuitBreaker *circuitbreaker.MetricsSnapshot
}

func (s *Session) Stats() Stats {
	stats := Stats{RateLimit: s.rateLimiter.Metrics()}
	if s.circuitBreaker != nil {
		m := s.circuitBreaker.Metrics()
		stats.CircuitBreaker = &m
	}
	return stats
}
