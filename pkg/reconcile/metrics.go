package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsMatched counts events bound to flows, by event type and matching window.
	EventsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nakula_reconcile_events_matched_total",
		Help: "Total number of events bound to ledger flows, labelled by event type and window.",
	}, []string{"event_type", "window"})

	// EventsUnmatched counts events for which no window found their flows.
	EventsUnmatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nakula_reconcile_events_unmatched_total",
		Help: "Total number of events that aborted a reconciliation run.",
	}, []string{"event_type"})

	// LeftoverFlows counts flows that became single-flow transactions, by label.
	LeftoverFlows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nakula_reconcile_leftover_flows_total",
		Help: "Total number of flows promoted to single-flow transactions, labelled by flow label.",
	}, []string{"label"})

	// TransfersPaired counts paired internal transfers, by pairing phase.
	TransfersPaired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nakula_reconcile_transfers_paired_total",
		Help: "Total number of internal transfer pairs, labelled by phase.",
	}, []string{"phase"})

	// TransfersAmbiguous counts pairs accepted while other candidates remained.
	TransfersAmbiguous = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nakula_reconcile_transfers_ambiguous_total",
		Help: "Total number of transfer pairs accepted among several candidates.",
	})

	// TransfersReclassified counts unpaired transfers rewritten as strategy postings.
	TransfersReclassified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nakula_reconcile_transfers_reclassified_total",
		Help: "Total number of unpaired internal transfers rewritten as strategy postings.",
	})
)
