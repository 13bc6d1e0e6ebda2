package core

import (
	"fmt"
	"iter"
	"strings"
	"time"

	"nakula/pkg/ledger"
)

// OrderSide represents the direction of an execution (buy or sell).
type OrderSide int

// Order side constants define the direction of a trade.
const (
	// SideBuy indicates the account acquired the base asset.
	SideBuy OrderSide = iota
	// SideSell indicates the account disposed of the base asset.
	SideSell
)

// String returns the string representation of the order side ("BUY" or "SELL").
func (s OrderSide) String() string {
	return [...]string{"BUY", "SELL"}[s]
}

// ParseOrderSide accepts "Buy", "BUY", "buy" and their sell counterparts.
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToUpper(s) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return SideBuy, fmt.Errorf("unknown order side %q", s)
}

// MarshalJSON implements json.Marshaler for OrderSide.
func (s OrderSide) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for OrderSide.
// It accepts both uppercase and lowercase formats.
func (s *OrderSide) UnmarshalJSON(data []byte) error {
	side, err := ParseOrderSide(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

// Page is one normalized response of a paginated statement query.
type Page struct {
	// Flows holds the balance changes of a ledger query.
	Flows []ledger.Flow `json:"flows,omitempty"`
	// Events holds the records of an execution or transfer query.
	Events []ledger.Event `json:"-"`
	// NextCursor resumes the query; empty on the last page.
	NextCursor string `json:"next_cursor,omitempty"`
}

// Len returns the number of records on the page.
func (p *Page) Len() int {
	return len(p.Flows) + len(p.Events)
}

// HasMore reports whether another page follows.
func (p *Page) HasMore() bool {
	return p.NextCursor != ""
}

// TimeRange is the half-open statement window [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange returns [start, end) or ErrInvalidRange when end precedes start.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if end.Before(start) {
		return TimeRange{}, fmt.Errorf("%w: %s before %s", ErrInvalidRange,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return TimeRange{Start: start, End: end}, nil
}

// Duration returns the length of the window.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t falls inside the window.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Split yields consecutive windows of at most size covering r, in order.
// A non-positive size yields r itself.
func (r TimeRange) Split(size time.Duration) iter.Seq[TimeRange] {
	return func(yield func(TimeRange) bool) {
		if size <= 0 {
			yield(r)
			return
		}
		for start := r.Start; start.Before(r.End); start = start.Add(size) {
			end := start.Add(size)
			if end.After(r.End) {
				end = r.End
			}
			if !yield(TimeRange{Start: start, End: end}) {
				return
			}
		}
	}
}
