package exchange

import (
	"slices"

	"nakula/pkg/core"
	"nakula/pkg/ledger"
)

// ClipFlows drops flows outside r and orders the rest by time.
// Flows booked at the same instant keep their relative order.
func ClipFlows(flows []ledger.Flow, r core.TimeRange) []ledger.Flow {
	out := slices.DeleteFunc(flows, func(f ledger.Flow) bool {
		return !r.Contains(f.Time)
	})
	slices.SortStableFunc(out, func(a, b ledger.Flow) int {
		return a.Time.Compare(b.Time)
	})
	return out
}

// ClipEvents is ClipFlows for events.
func ClipEvents(events []ledger.Event, r core.TimeRange) []ledger.Event {
	out := slices.DeleteFunc(events, func(e ledger.Event) bool {
		return !r.Contains(e.Timestamp())
	})
	slices.SortStableFunc(out, func(a, b ledger.Event) int {
		return a.Timestamp().Compare(b.Timestamp())
	})
	return out
}
