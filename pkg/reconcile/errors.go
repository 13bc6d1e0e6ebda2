package reconcile

import (
	"errors"
	"fmt"
	"time"

	"nakula/pkg/ledger"
)

// Sentinel errors for reconciliation failures.
var (
	// ErrUnmatchableEvent is returned when an event's expected flows cannot all be bound.
	ErrUnmatchableEvent = errors.New("event cannot be matched to ledger flows")
	// ErrNoTimezone is returned when Reconcile is called without a location.
	ErrNoTimezone = errors.New("timezone is required")
	// ErrInvalidOptions is returned when Options fail validation.
	ErrInvalidOptions = errors.New("invalid reconcile options")
)

// UnmatchableEventError reports the event that stopped a reconciliation run.
// The ledger and the event log disagree about it; no partial result is produced.
type UnmatchableEventError struct {
	// Index is the position of the event in the input slice.
	Index int
	// Event is the offending event.
	Event ledger.Event
	// MaxTimeWindow is the widest window that was tried.
	MaxTimeWindow time.Duration
}

// Error implements the error interface.
func (e *UnmatchableEventError) Error() string {
	return fmt.Sprintf("unmatchable event #%d %s at %s within %s",
		e.Index, e.Event.Type(), e.Event.Timestamp().Format(time.RFC3339), e.MaxTimeWindow)
}

// Unwrap returns ErrUnmatchableEvent so errors.Is works.
func (e *UnmatchableEventError) Unwrap() error {
	return ErrUnmatchableEvent
}

// IsUnmatchable reports whether err was caused by an event with no explaining flows.
func IsUnmatchable(err error) bool {
	return errors.Is(err, ErrUnmatchableEvent)
}
