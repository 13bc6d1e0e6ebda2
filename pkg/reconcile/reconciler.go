package reconcile

import (
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"nakula/pkg/ledger"
)

// Result is the outcome of a reconciliation run.
type Result struct {
	// Transactions is the final log, ordered by time.
	Transactions []ledger.Transaction `json:"transactions"`
	// Pairs links transfer legs by index into Transactions.
	Pairs []TransferPair `json:"pairs,omitempty"`
	// Reclassified indexes transactions rewritten as strategy postings.
	Reclassified []int `json:"reclassified,omitempty"`
	// Leftovers counts flows promoted to single-flow transactions.
	Leftovers int `json:"leftovers"`
}

// Reconciler turns a batch of flows and events into a transaction log.
type Reconciler struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a Reconciler with DefaultOptions modified by opts.
func New(opts ...Option) (*Reconciler, error) {
	o := ApplyOptions(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		opts:   o,
		logger: o.Logger.With().Str("component", "reconciler").Logger(),
	}, nil
}

// Options returns the options the reconciler runs with.
func (r *Reconciler) Options() Options {
	return r.opts
}

// Reconcile matches events against flows, promotes unexplained flows to their own
// transactions, attaches loc to every timestamp and resolves internal transfers.
// Source timestamps are treated as wall clock readings in loc; nothing is shifted.
func (r *Reconciler) Reconcile(flows []ledger.Flow, events []ledger.Event, loc *time.Location) (*Result, error) {
	if loc == nil {
		return nil, ErrNoTimezone
	}

	matched, err := MatchTransactions(flows, events, r.opts)
	if err != nil {
		return nil, fmt.Errorf("match transactions: %w", err)
	}

	txs := make([]ledger.Transaction, 0, len(matched.Transactions)+len(matched.Leftovers))
	txs = append(txs, matched.Transactions...)
	for _, f := range matched.Leftovers {
		LeftoverFlows.WithLabelValues(f.Label.String()).Inc()
		txs = append(txs, ledger.SingleFlowTransaction(f))
	}

	for i := range txs {
		txs[i] = txs[i].InLocation(loc)
	}
	slices.SortStableFunc(txs, func(a, b ledger.Transaction) int {
		return a.Time().Compare(b.Time())
	})

	report := PairTransfers(txs, r.opts)

	r.logger.Info().
		Int("flows", len(flows)).
		Int("events", len(events)).
		Int("transactions", len(txs)).
		Int("leftovers", len(matched.Leftovers)).
		Int("pairs", len(report.Pairs)).
		Int("reclassified", len(report.Reclassified)).
		Str("timezone", loc.String()).
		Msg("reconciliation complete")

	return &Result{
		Transactions: txs,
		Pairs:        report.Pairs,
		Reclassified: report.Reclassified,
		Leftovers:    len(matched.Leftovers),
	}, nil
}

// Reconcile runs a one-off Reconciler built from opts.
func Reconcile(flows []ledger.Flow, events []ledger.Event, loc *time.Location, opts ...Option) (*Result, error) {
	r, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return r.Reconcile(flows, events, loc)
}

// LocalTimezone returns the host's local zone. Results then depend on the machine
// running the reconciliation; prefer an explicit location.
func LocalTimezone() *time.Location {
	return time.Local
}
