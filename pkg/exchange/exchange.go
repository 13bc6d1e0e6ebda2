package exchange

import (
	"context"
	"time"

	"nakula/pkg/ledger"
)

// Source retrieves one venue's account statement in the shapes the reconciler consumes:
// flows are the balance changes the venue reports, events are the business
// records (executions, transfers) those changes are expected to realize.
//
// Both methods cover the half-open window [start, end) and return records in venue order.
// Implementations page through the venue API internally.
type Source interface {
	Name() string
	Flows(ctx context.Context, start, end time.Time, opts ...Option) ([]ledger.Flow, error)
	Events(ctx context.Context, start, end time.Time, opts ...Option) ([]ledger.Event, error)
	Close() error
}
