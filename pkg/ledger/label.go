package ledger

import (
	"fmt"
	"strings"
)

// Label classifies what caused a balance change.
type Label int

// Label constants cover every posting category a venue statement can produce.
const (
	// LabelTrade is one leg of a spot exchange or a futures position change.
	LabelTrade Label = iota
	// LabelFee is a trading or gas fee.
	LabelFee
	// LabelYield is interest or staking income.
	LabelYield
	// LabelBonus is a promotional credit, rebate or reward.
	LabelBonus
	// LabelFunding is a perpetual funding payment.
	LabelFunding
	// LabelSettlement is realized PnL booked by a derivatives account.
	LabelSettlement
	// LabelSettlementFee is a fee charged on settlement.
	LabelSettlementFee
	// LabelInternalTransfer moves funds between accounts of the same owner.
	LabelInternalTransfer
	// LabelCryptoDeposit is an on-chain deposit.
	LabelCryptoDeposit
	// LabelFiatDeposit is a bank deposit.
	LabelFiatDeposit
	// LabelCryptoWithdrawal is an on-chain withdrawal.
	LabelCryptoWithdrawal
	// LabelFiatWithdrawal is a bank withdrawal.
	LabelFiatWithdrawal
	// LabelWithdrawalFee is the network or processing fee of a withdrawal.
	LabelWithdrawalFee
	// LabelStrategyDeposit moves funds into an account the API does not expose.
	LabelStrategyDeposit
	// LabelStrategyWithdrawal moves funds out of an account the API does not expose.
	LabelStrategyWithdrawal
	// LabelOther is anything the venue could not classify.
	LabelOther
	// LabelEthereumTransfer is a native ETH transfer.
	LabelEthereumTransfer
	// LabelERC20Transfer is an ERC-20 token transfer.
	LabelERC20Transfer
)

var labelNames = [...]string{
	"trade",
	"fee",
	"yield",
	"bonus",
	"funding",
	"settlement",
	"settlement_fee",
	"internal_transfer",
	"crypto_deposit",
	"fiat_deposit",
	"crypto_withdrawal",
	"fiat_withdrawal",
	"withdrawal_fee",
	"strategy_deposit",
	"strategy_withdrawal",
	"other",
	"ethereum_transfer",
	"erc20_transfer",
}

// String returns the snake_case name of the label.
func (l Label) String() string {
	if l < 0 || int(l) >= len(labelNames) {
		return fmt.Sprintf("label(%d)", int(l))
	}
	return labelNames[l]
}

// ParseLabel converts a snake_case name into a Label.
// Matching is case-insensitive.
func ParseLabel(s string) (Label, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range labelNames {
		if name == s {
			return Label(i), nil
		}
	}
	return LabelOther, fmt.Errorf("unknown label %q", s)
}

// MarshalJSON implements json.Marshaler for Label.
func (l Label) MarshalJSON() ([]byte, error) {
	return []byte(`"` + l.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Label.
func (l *Label) UnmarshalJSON(data []byte) error {
	parsed, err := ParseLabel(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Kind is the accounting bucket a flow is booked in.
type Kind int

const (
	// KindCurrency is a plain asset balance. It is the zero value.
	KindCurrency Kind = iota
	// KindFuture is the notional of a futures position.
	KindFuture
	// KindStrategy is money held in an opaque sub-account.
	KindStrategy
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return [...]string{"currency", "future", "strategy"}[k]
}

// MarshalJSON implements json.Marshaler for Kind.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler for Kind.
func (k *Kind) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(string(data)) {
	case `"currency"`, `""`, `null`:
		*k = KindCurrency
	case `"future"`:
		*k = KindFuture
	case `"strategy"`:
		*k = KindStrategy
	default:
		return fmt.Errorf("unknown kind %s", data)
	}
	return nil
}
