package exchange

import (
	"slices"

	"nakula/pkg/core"
)

type Option func(*Options)

type Options struct {
	// Limit overrides the page size sent to the venue.
	Limit int
	// Symbols restricts symbol-scoped queries. Venues that require a symbol skip the query without one.
	Symbols []string

	marketType core.MarketType
	marketSet  bool
}

func WithLimit(limit int) Option {
	return func(o *Options) {
		o.Limit = limit
	}
}

func WithMarketType(mt core.MarketType) Option {
	return func(o *Options) {
		o.marketType = mt
		o.marketSet = true
	}
}

func WithSymbols(symbols ...string) Option {
	return func(o *Options) {
		o.Symbols = append(o.Symbols, symbols...)
	}
}

// MarketType returns the market set with WithMarketType, or def.
func (o *Options) MarketType(def core.MarketType) core.MarketType {
	if o.marketSet {
		return o.marketType
	}
	return def
}

func ApplyOptions(opts ...Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	slices.Sort(o.Symbols)
	o.Symbols = slices.Compact(o.Symbols)
	return o
}
