package ledger

import (
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Flow is an atomic, signed balance change taken from a venue statement.
// Flows are values: every helper returns a modified copy and never touches the receiver.
type Flow struct {
	// Asset is the currency or instrument code (e.g., "BTC", "BTCUSDT").
	Asset string `json:"asset"`
	// Change is positive for credits and negative for debits.
	Change apd.Decimal `json:"change"`
	// Label classifies the cause of the change.
	Label Label `json:"label"`
	// Kind is the accounting bucket.
	Kind Kind `json:"kind"`
	// Time is when the venue booked the change.
	Time time.Time `json:"time"`
	// Price is the mark price of a futures notional change. Nil for other kinds.
	Price *apd.Decimal `json:"price,omitempty"`
	// Synthetic marks postings created by an event rather than read from a statement.
	Synthetic bool `json:"synthetic,omitempty"`
	// Details is the raw venue record, carried through untouched.
	Details any `json:"details,omitempty"`
}

// NewFlow returns a currency flow with the given asset, change, label and time.
func NewFlow(asset string, change apd.Decimal, label Label, t time.Time) Flow {
	return Flow{
		Asset:  asset,
		Change: change,
		Label:  label,
		Time:   t,
	}
}

// WithTime returns a copy of the flow booked at t.
func (f Flow) WithTime(t time.Time) Flow {
	f.Time = t
	return f
}

// WithLabel returns a copy of the flow carrying label l.
func (f Flow) WithLabel(l Label) Flow {
	f.Label = l
	return f
}

// WithDetails returns a copy of the flow carrying the raw venue record.
func (f Flow) WithDetails(details any) Flow {
	f.Details = details
	return f
}

// InLocation returns a copy whose timestamp keeps its wall clock but is attached to loc.
func (f Flow) InLocation(loc *time.Location) Flow {
	f.Time = Relabel(f.Time, loc)
	return f
}

// IsCredit reports whether the flow increases the balance.
func (f Flow) IsCredit() bool {
	return f.Change.Sign() > 0
}

// String returns a compact human readable form, e.g. "-2 ETH internal_transfer @2024-01-02T03:04:05Z".
func (f Flow) String() string {
	return fmt.Sprintf("%s %s %s @%s", f.Change.String(), f.Asset, f.Label, f.Time.Format(time.RFC3339))
}

// Relabel attaches loc to the wall clock of t without shifting the instant's fields.
// Statement timestamps are naive; this is how they receive an explicit zone.
func Relabel(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

// ParseDecimal parses s into a decimal. An empty string yields zero.
func ParseDecimal(s string) (apd.Decimal, error) {
	var d apd.Decimal
	if s == "" {
		return d, nil
	}
	if _, _, err := d.SetString(s); err != nil {
		return apd.Decimal{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// MustDecimal is like ParseDecimal but panics on malformed input.
// Intended for constants and tests.
func MustDecimal(s string) apd.Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Neg returns -d.
func Neg(d apd.Decimal) apd.Decimal {
	var r apd.Decimal
	r.Neg(&d)
	return r
}

// Abs returns |d|.
func Abs(d apd.Decimal) apd.Decimal {
	var r apd.Decimal
	r.Abs(&d)
	return r
}

// Sum returns a+b computed without rounding.
func Sum(a, b apd.Decimal) apd.Decimal {
	var r apd.Decimal
	// BaseContext disables rounding; addition of finite values cannot fail.
	_, _ = apd.BaseContext.Add(&r, &a, &b)
	return r
}

// Diff returns |a-b| computed without rounding.
func Diff(a, b apd.Decimal) apd.Decimal {
	var r apd.Decimal
	_, _ = apd.BaseContext.Sub(&r, &a, &b)
	r.Abs(&r)
	return r
}
