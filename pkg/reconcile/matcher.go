package reconcile

import (
	"fmt"
	"iter"
	"time"

	"github.com/rs/zerolog"

	"nakula/pkg/ledger"
)

// Windows yields the time windows tried by the matcher: nil for an exact timestamp match,
// then 1s doubling each step for as long as the window does not exceed limit.
func Windows(limit time.Duration) iter.Seq[*time.Duration] {
	return func(yield func(*time.Duration) bool) {
		if !yield(nil) {
			return
		}
		for w := time.Second; w <= limit; w *= 2 {
			window := w
			if !yield(&window) {
				return
			}
			if w > limit/2 {
				return
			}
		}
	}
}

// Matcher binds the expected flows of events to indexed statement flows.
// A Matcher consumes its index and must not be shared between goroutines.
type Matcher struct {
	index     *FlowIndex
	maxWindow time.Duration
	logger    zerolog.Logger
}

// NewMatcher creates a matcher over index.
func NewMatcher(index *FlowIndex, maxWindow time.Duration, logger zerolog.Logger) *Matcher {
	return &Matcher{
		index:     index,
		maxWindow: maxWindow,
		logger:    logger,
	}
}

// MatchEvent binds every expected flow to a distinct available flow using the narrowest
// window that works. Bound handles are consumed; on failure the index is left unchanged.
func (m *Matcher) MatchEvent(expected []ledger.Flow) ([]int, bool) {
	handles, _, ok := m.matchEvent(expected)
	return handles, ok
}

func (m *Matcher) matchEvent(expected []ledger.Flow) ([]int, *time.Duration, bool) {
	for window := range Windows(m.maxWindow) {
		if handles, ok := m.bind(expected, window); ok {
			return handles, window, true
		}
	}
	return nil, nil, false
}

// bind tries a single window. Handles committed before a failure are reinserted.
func (m *Matcher) bind(expected []ledger.Flow, window *time.Duration) ([]int, bool) {
	committed := make([]int, 0, len(expected))
	for _, want := range expected {
		candidates := m.index.Candidates(want, window)
		if len(candidates) == 0 {
			for _, h := range committed {
				m.index.Reinsert(h)
			}
			m.logger.Trace().
				Str("asset", want.Asset).
				Str("label", want.Label.String()).
				Str("window", windowLabel(window)).
				Int("rolled_back", len(committed)).
				Msg("no candidate in window")
			return nil, false
		}

		h := candidates[0]
		if len(candidates) > 1 {
			h = m.closest(want, candidates)
		}
		m.index.Remove(h)
		committed = append(committed, h)
	}
	return committed, true
}

// closest picks the candidate whose change is nearest to the expected one.
// Candidates arrive in ascending handle order, so ties go to the earliest flow.
func (m *Matcher) closest(want ledger.Flow, candidates []int) int {
	best := candidates[0]
	bestDiff := ledger.Diff(want.Change, m.index.Flow(best).Change)
	for _, h := range candidates[1:] {
		d := ledger.Diff(want.Change, m.index.Flow(h).Change)
		if d.Cmp(&bestDiff) < 0 {
			best, bestDiff = h, d
		}
	}
	return best
}

// MatchResult is the outcome of MatchTransactions.
type MatchResult struct {
	// Transactions holds one transaction per event, in event order.
	Transactions []ledger.Transaction
	// Leftovers holds the flows no event consumed, in input order.
	Leftovers []ledger.Flow
}

// MatchTransactions matches every event against one index built over flows.
// An event that cannot be matched aborts the run with an *UnmatchableEventError.
func MatchTransactions(flows []ledger.Flow, events []ledger.Event, opts Options) (*MatchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	index := NewFlowIndex(flows)
	matcher := NewMatcher(index, opts.MaxTimeWindow, opts.Logger)

	transactions := make([]ledger.Transaction, 0, len(events))
	for i, e := range events {
		handles, window, ok := matcher.matchEvent(e.ExpectedFlows())
		if !ok {
			EventsUnmatched.WithLabelValues(e.Type().String()).Inc()
			opts.Logger.Error().
				Int("index", i).
				Str("type", e.Type().String()).
				Time("time", e.Timestamp()).
				Dur("max_window", opts.MaxTimeWindow).
				Msg("event has no matching flows")
			return nil, &UnmatchableEventError{Index: i, Event: e, MaxTimeWindow: opts.MaxTimeWindow}
		}

		matched := make([]ledger.Flow, len(handles))
		for j, h := range handles {
			matched[j] = index.Flow(h)
		}
		transactions = append(transactions, ledger.NewTransaction(e, matched))

		EventsMatched.WithLabelValues(e.Type().String(), windowLabel(window)).Inc()
		opts.Logger.Debug().
			Int("index", i).
			Str("type", e.Type().String()).
			Str("window", windowLabel(window)).
			Ints("handles", handles).
			Msg("event matched")
	}

	remaining := index.Remaining()
	leftovers := make([]ledger.Flow, len(remaining))
	for i, h := range remaining {
		leftovers[i] = index.Flow(h)
	}

	return &MatchResult{Transactions: transactions, Leftovers: leftovers}, nil
}

func windowLabel(window *time.Duration) string {
	if window == nil {
		return "exact"
	}
	return fmt.Sprint(*window)
}
