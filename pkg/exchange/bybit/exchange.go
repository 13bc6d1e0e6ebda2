package bybit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"nakula/internal/keyring"
	"nakula/pkg/core"
	"nakula/pkg/exchange"
	"nakula/pkg/ledger"
	"nakula/pkg/session"
)

// Source reads the statement of one Bybit unified account.
// It implements exchange.Source and is safe for concurrent use.
type Source struct {
	config  *core.Config
	session *session.Session
	logger  zerolog.Logger
}

var _ exchange.Source = (*Source)(nil)

// Option is a functional option for configuring the Source.
type Option func(*Options)

// Options holds configuration options for the Source.
type Options struct {
	KeyRing *keyring.KeyRing
	Logger  zerolog.Logger
}

// WithKeyRing returns an option that sets the API key ring for key rotation.
func WithKeyRing(kr *keyring.KeyRing) Option {
	return func(o *Options) {
		o.KeyRing = kr
	}
}

// WithLogger returns an option that sets the logger for the source.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// New creates a Source with the given configuration and options.
// The config's MarketType selects the execution category queried by Events.
func New(config *core.Config, opts ...Option) (*Source, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	options := &Options{
		Logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(options)
	}

	sessionOpts := []session.Option{session.WithLogger(options.Logger)}
	if options.KeyRing != nil {
		sessionOpts = append(sessionOpts, session.WithKeyRing(options.KeyRing))
	}

	sess, err := session.New(config, sessionOpts...)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := sess.SetProtocol(NewProtocol(config.RecvWindow)); err != nil {
		return nil, fmt.Errorf("set protocol: %w", err)
	}

	return &Source{
		config:  config,
		session: sess,
		logger:  sess.Logger(),
	}, nil
}

// Register creates a Source and adds it to the container.
func Register(c *exchange.Container, config *core.Config, opts ...Option) error {
	src, err := New(config, opts...)
	if err != nil {
		return err
	}
	c.Register(src)
	return nil
}

// Name returns the exchange identifier "bybit".
func (s *Source) Name() string {
	return "bybit"
}

// Close releases the underlying session.
func (s *Source) Close() error {
	return s.session.Close()
}

// Flows returns the transaction log of [start, end) as flows in booking order.
func (s *Source) Flows(ctx context.Context, start, end time.Time, opts ...exchange.Option) ([]ledger.Flow, error) {
	window, err := core.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}
	o := exchange.ApplyOptions(opts...)

	var flows []ledger.Flow
	for chunk := range window.Split(maxQuerySpan) {
		page, err := s.collect(ctx, core.OpGetLedger, s.params(chunk, o))
		if err != nil {
			return nil, fmt.Errorf("get ledger: %w", err)
		}
		flows = append(flows, page.Flows...)
	}

	s.logger.Debug().
		Time("start", start).
		Time("end", end).
		Int("flows", len(flows)).
		Msg("transaction log fetched")

	return exchange.ClipFlows(flows, window), nil
}

// Events returns the executions and internal transfers of [start, end) in time order.
// Executions are read for the market set by exchange.WithMarketType, or the config's.
func (s *Source) Events(ctx context.Context, start, end time.Time, opts ...exchange.Option) ([]ledger.Event, error) {
	window, err := core.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}
	o := exchange.ApplyOptions(opts...)
	category := o.MarketType(s.config.MarketType).String()

	symbols := o.Symbols
	if len(symbols) == 0 {
		symbols = []string{""}
	}

	var events []ledger.Event
	for chunk := range window.Split(maxQuerySpan) {
		for _, symbol := range symbols {
			params := s.params(chunk, o)
			params["category"] = category
			if symbol != "" {
				params["symbol"] = symbol
			}
			page, err := s.collect(ctx, core.OpGetExecutions, params)
			if err != nil {
				return nil, fmt.Errorf("get executions: %w", err)
			}
			events = append(events, page.Events...)
		}

		page, err := s.collect(ctx, core.OpGetTransfers, s.params(chunk, o))
		if err != nil {
			return nil, fmt.Errorf("get transfers: %w", err)
		}
		events = append(events, page.Events...)
	}

	s.logger.Debug().
		Time("start", start).
		Time("end", end).
		Str("category", category).
		Int("events", len(events)).
		Msg("events fetched")

	return exchange.ClipEvents(events, window), nil
}

func (s *Source) params(chunk core.TimeRange, o *exchange.Options) core.Params {
	limit := o.Limit
	if limit == 0 {
		limit = s.config.PageLimit
	}
	return core.Params{
		"start": chunk.Start,
		"end":   chunk.End,
		"limit": limit,
	}
}

// collect drains a cursor listing. Bybit pages run newest first, so pages are
// joined in reverse; the protocol already reverses rows within a page.
func (s *Source) collect(ctx context.Context, op core.Operation, params core.Params) (*core.Page, error) {
	var pages []*core.Page
	for page, err := range s.session.Pages(ctx, op, params) {
		if err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}

	out := &core.Page{}
	for _, page := range slices.Backward(pages) {
		out.Flows = append(out.Flows, page.Flows...)
		out.Events = append(out.Events, page.Events...)
	}
	return out, nil
}
