// Package aggregate reconciles the statements of several exchange accounts side by side.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/rs/zerolog"

	"nakula/pkg/exchange"
	"nakula/pkg/ledger"
	"nakula/pkg/reconcile"
)

// Aggregator runs one reconciliation per registered source.
type Aggregator struct {
	mu         sync.RWMutex
	sources    map[string]exchange.Source
	reconciler *reconcile.Reconciler
	base       zerolog.Logger
	logger     zerolog.Logger
	lastRun    time.Time
	failed     int
}

// NewAggregator creates an aggregator with no sources and default reconcile options.
func NewAggregator() *Aggregator {
	return NewAggregatorWithLogger(zerolog.Nop())
}

// NewAggregatorWithLogger creates an aggregator with a custom logger.
func NewAggregatorWithLogger(logger zerolog.Logger) *Aggregator {
	r, err := reconcile.New(reconcile.WithLogger(logger))
	if err != nil {
		panic(fmt.Sprintf("aggregate: default reconcile options: %v", err))
	}
	return &Aggregator{
		sources:    make(map[string]exchange.Source),
		reconciler: r,
		base:       logger,
		logger:     logger.With().Str("component", "aggregator").Logger(),
	}
}

// SetReconcileOptions replaces the options every later run reconciles with.
func (a *Aggregator) SetReconcileOptions(opts ...reconcile.Option) error {
	opts = append([]reconcile.Option{reconcile.WithLogger(a.base)}, opts...)
	r, err := reconcile.New(opts...)
	if err != nil {
		return fmt.Errorf("reconcile options: %w", err)
	}
	a.mu.Lock()
	a.reconciler = r
	a.mu.Unlock()
	return nil
}

// AddSource registers src under its name, replacing any source of the same name.
func (a *Aggregator) AddSource(src exchange.Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[src.Name()] = src
}

func (a *Aggregator) RemoveSource(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sources, name)
}

// AddContainer registers every source held by c.
func (a *Aggregator) AddContainer(c *exchange.Container) {
	for _, src := range c.Sources() {
		a.AddSource(src)
	}
}

// Sources returns the registered source names in sorted order.
func (a *Aggregator) Sources() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Sorted(maps.Keys(a.sources))
}

// Result is the outcome of one source's run.
type Result struct {
	Exchange string            `json:"exchange"`
	Result   *reconcile.Result `json:"result,omitempty"`
	Flows    int               `json:"flows"`
	Events   int               `json:"events"`
	Duration time.Duration     `json:"duration"`
	Error    error             `json:"-"`
}

// MarshalJSON encodes Error as its message.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	var msg string
	if r.Error != nil {
		msg = r.Error.Error()
	}
	return json.Marshal(struct {
		plain
		Error string `json:"error,omitempty"`
	}{plain(r), msg})
}

// Reconcile fetches [start, end) from every source and reconciles each batch in its
// own goroutine. A batch never spans two sources. Results are sorted by exchange name;
// a failing source only fails its own result.
func (a *Aggregator) Reconcile(ctx context.Context, start, end time.Time, loc *time.Location, opts ...exchange.Option) []Result {
	a.mu.RLock()
	sources := maps.Clone(a.sources)
	r := a.reconciler
	a.mu.RUnlock()

	results := make([]Result, 0, len(sources))
	resultChan := make(chan Result, len(sources))
	var wg sync.WaitGroup

	for name, src := range sources {
		wg.Add(1)
		go func(exchangeName string, s exchange.Source) {
			defer wg.Done()
			resultChan <- a.run(ctx, r, exchangeName, s, start, end, loc, opts)
		}(name, src)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	failed := 0
	for res := range resultChan {
		if res.Error != nil {
			failed++
		}
		results = append(results, res)
	}
	slices.SortFunc(results, func(x, y Result) int {
		return strings.Compare(x.Exchange, y.Exchange)
	})

	a.mu.Lock()
	a.lastRun = time.Now()
	a.failed = failed
	a.mu.Unlock()

	return results
}

func (a *Aggregator) run(ctx context.Context, r *reconcile.Reconciler, name string, src exchange.Source, start, end time.Time, loc *time.Location, opts []exchange.Option) (result Result) {
	began := time.Now()
	result.Exchange = name
	defer func() { result.Duration = time.Since(began) }()

	select {
	case <-ctx.Done():
		result.Error = ctx.Err()
		return result
	default:
	}

	flows, err := src.Flows(ctx, start, end, opts...)
	if err != nil {
		result.Error = fmt.Errorf("get flows: %w", err)
		a.logFailure(name, result.Error)
		return result
	}
	events, err := src.Events(ctx, start, end, opts...)
	if err != nil {
		result.Error = fmt.Errorf("get events: %w", err)
		a.logFailure(name, result.Error)
		return result
	}
	result.Flows, result.Events = len(flows), len(events)

	if loc != nil {
		flows, events = inLocation(flows, events, loc)
	}
	res, err := r.Reconcile(flows, events, loc)
	if err != nil {
		result.Error = fmt.Errorf("reconcile: %w", err)
		a.logFailure(name, result.Error)
		return result
	}
	result.Result = res

	a.logger.Debug().
		Str("exchange", name).
		Int("flows", len(flows)).
		Int("events", len(events)).
		Int("transactions", len(res.Transactions)).
		Dur("elapsed", time.Since(began)).
		Msg("source reconciled")
	return result
}

// inLocation expresses venue instants in loc. Sources report exact moments, so the
// reconciler's wall clock relabel then leaves them unchanged.
func inLocation(flows []ledger.Flow, events []ledger.Event, loc *time.Location) ([]ledger.Flow, []ledger.Event) {
	outFlows := make([]ledger.Flow, len(flows))
	for i, f := range flows {
		outFlows[i] = f.WithTime(f.Time.In(loc))
	}
	outEvents := make([]ledger.Event, len(events))
	for i, e := range events {
		outEvents[i] = ledger.WithTime(e, e.Timestamp().In(loc))
	}
	return outFlows, outEvents
}

func (a *Aggregator) logFailure(name string, err error) {
	a.logger.Warn().Err(err).Str("exchange", name).Msg("source failed")
}

// Transactions merges the transactions of the successful results into one log
// ordered by time. Ties keep exchange name order.
func Transactions(results []Result) []ledger.Transaction {
	var txs []ledger.Transaction
	for _, res := range results {
		if res.Error != nil || res.Result == nil {
			continue
		}
		txs = append(txs, res.Result.Transactions...)
	}
	slices.SortStableFunc(txs, func(x, y ledger.Transaction) int {
		return x.Time().Compare(y.Time())
	})
	return txs
}

// NetChanges sums the observed balance change per asset across the successful results.
// Synthetic postings are skipped, so futures notionals and strategy offsets do not count.
func NetChanges(results []Result) map[string]apd.Decimal {
	totals := make(map[string]apd.Decimal)
	for _, tx := range Transactions(results) {
		for _, f := range tx.Observed() {
			totals[f.Asset] = ledger.Sum(totals[f.Asset], f.Change)
		}
	}
	return totals
}

// AggregateStats contains statistics about the aggregator's last run.
type AggregateStats struct {
	// TotalExchanges is the count of all registered sources.
	TotalExchanges int `json:"total_exchanges"`
	// FailedExchanges is the count of sources whose last run returned an error.
	FailedExchanges int `json:"failed_exchanges"`
	// LastRun is when the most recent Reconcile call finished.
	LastRun time.Time `json:"last_run"`
}

// GetStats returns statistics about the aggregator's current state.
func (a *Aggregator) GetStats() *AggregateStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return &AggregateStats{
		TotalExchanges:  len(a.sources),
		FailedExchanges: a.failed,
		LastRun:         a.lastRun,
	}
}
