package binance

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

// Source reads the statement of one Binance USDⓈ-M futures account.
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

// Name returns the exchange identifier "binance".
func (s *Source) Name() string {
	return "binance"
}

func (s *Source) Close() error {
	return s.session.Close()
}

// Flows returns the income history of [start, end) as flows in booking order.
func (s *Source) Flows(ctx context.Context, start, end time.Time, opts ...exchange.Option) ([]ledger.Flow, error) {
	window, err := core.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}
	o := exchange.ApplyOptions(opts...)

	flows, err := s.incomes(ctx, window, o, "")
	if err != nil {
		return nil, fmt.Errorf("get ledger: %w", err)
	}

	s.logger.Debug().
		Time("start", start).
		Time("end", end).
		Int("flows", len(flows)).
		Msg("income history fetched")

	return exchange.ClipFlows(flows, window), nil
}

// Events returns the account's fills of [start, end) in time order. Without
// exchange.WithSymbols the traded contracts are taken from the window's commissions.
func (s *Source) Events(ctx context.Context, start, end time.Time, opts ...exchange.Option) ([]ledger.Event, error) {
	window, err := core.NewTimeRange(start, end)
	if err != nil {
		return nil, err
	}
	o := exchange.ApplyOptions(opts...)

	symbols := o.Symbols
	if len(symbols) == 0 {
		symbols, err = s.tradedSymbols(ctx, window, o)
		if err != nil {
			return nil, fmt.Errorf("discover symbols: %w", err)
		}
	}

	var events []ledger.Event
	for chunk := range window.Split(maxQuerySpan) {
		for _, symbol := range symbols {
			params := s.params(chunk, o)
			params["symbol"] = symbol
			page, err := s.collect(ctx, core.OpGetExecutions, params)
			if err != nil {
				return nil, fmt.Errorf("get executions %s: %w", symbol, err)
			}
			events = append(events, page.Events...)
		}
	}

	s.logger.Debug().
		Time("start", start).
		Time("end", end).
		Strs("symbols", symbols).
		Int("events", len(events)).
		Msg("user trades fetched")

	return exchange.ClipEvents(events, window), nil
}

func (s *Source) incomes(ctx context.Context, window core.TimeRange, o *exchange.Options, incomeType string) ([]ledger.Flow, error) {
	var flows []ledger.Flow
	for chunk := range window.Split(maxQuerySpan) {
		params := s.params(chunk, o)
		if incomeType != "" {
			params["incomeType"] = incomeType
		}
		page, err := s.collect(ctx, core.OpGetLedger, params)
		if err != nil {
			return nil, err
		}
		flows = append(flows, page.Flows...)
	}
	return flows, nil
}

// tradedSymbols lists the contracts that charged a commission in window, sorted.
func (s *Source) tradedSymbols(ctx context.Context, window core.TimeRange, o *exchange.Options) ([]string, error) {
	flows, err := s.incomes(ctx, window, o, "COMMISSION")
	if err != nil {
		return nil, err
	}
	var symbols []string
	for _, f := range flows {
		if row, ok := f.Details.(binanceIncome); ok && row.Symbol != "" {
			symbols = append(symbols, row.Symbol)
		}
	}
	slices.Sort(symbols)
	return slices.Compact(symbols), nil
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

// collect drains a time-cursor listing. Consecutive pages overlap on the
// millisecond of the cursor, so records already seen are dropped.
func (s *Source) collect(ctx context.Context, op core.Operation, params core.Params) (*core.Page, error) {
	seen := make(map[string]struct{})
	fresh := func(key string) bool {
		if key == "" {
			return true
		}
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		return true
	}

	out := &core.Page{}
	for page, err := range s.session.Pages(ctx, op, params) {
		if err != nil {
			return nil, err
		}
		for _, f := range page.Flows {
			if row, ok := f.Details.(binanceIncome); ok && !fresh(row.key()) {
				continue
			}
			out.Flows = append(out.Flows, f)
		}
		for _, e := range page.Events {
			if trade, ok := e.(ledger.FutureTrade); ok && !fresh(trade.ID) {
				continue
			}
			out.Events = append(out.Events, e)
		}
	}
	return out, nil
}
