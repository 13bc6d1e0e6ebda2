package core

import (
	"fmt"
	"strings"
)

// MarketType represents the product family an account trades on an exchange.
type MarketType int

// Market type constants define the available trading market categories.
const (
	// MarketTypeSpot indicates spot trading where assets are exchanged immediately.
	MarketTypeSpot MarketType = iota
	// MarketTypeLinear indicates contracts margined and settled in the quote asset (USDT, USDC).
	MarketTypeLinear
	// MarketTypeInverse indicates contracts margined and settled in the base asset.
	MarketTypeInverse
	// MarketTypeOption indicates options contracts.
	MarketTypeOption
)

// String returns the venue category name ("spot", "linear", "inverse" or "option").
func (m MarketType) String() string {
	return [...]string{
		"spot",
		"linear",
		"inverse",
		"option",
	}[m]
}

// IsDerivative reports whether positions in the market are contracts rather than assets.
func (m MarketType) IsDerivative() bool {
	return m != MarketTypeSpot
}

// ParseMarketType parses a category name, case-insensitively.
func ParseMarketType(s string) (MarketType, error) {
	switch strings.ToLower(s) {
	case "spot":
		return MarketTypeSpot, nil
	case "linear", "futures":
		return MarketTypeLinear, nil
	case "inverse":
		return MarketTypeInverse, nil
	case "option", "options":
		return MarketTypeOption, nil
	}
	return MarketTypeSpot, fmt.Errorf("unknown market type %q", s)
}

// MarshalJSON implements json.Marshaler for MarketType.
func (m MarketType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for MarketType.
func (m *MarketType) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMarketType(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
