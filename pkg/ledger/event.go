package ledger

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// EventType identifies the variant behind an Event.
type EventType int

// Event type constants, one per Event variant.
const (
	EventTrade EventType = iota
	EventFutureTrade
	EventStrategy
	EventYield
	EventBonus
	EventFunding
	EventSettlement
	EventFee
	EventInternalTransfer
	EventOther
	EventCryptoDeposit
	EventFiatDeposit
	EventCryptoWithdrawal
	EventFiatWithdrawal
	EventEthereumTransaction
	EventERC20Transfer
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return [...]string{
		"TRADE",
		"FUTURE_TRADE",
		"STRATEGY",
		"YIELD",
		"BONUS",
		"FUNDING",
		"SETTLEMENT",
		"FEE",
		"INTERNAL_TRANSFER",
		"OTHER",
		"CRYPTO_DEPOSIT",
		"FIAT_DEPOSIT",
		"CRYPTO_WITHDRAWAL",
		"FIAT_WITHDRAWAL",
		"ETHEREUM_TRANSACTION",
		"ERC20_TRANSFER",
	}[t]
}

// MarshalJSON implements json.Marshaler for EventType.
func (t EventType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// Event is a semantically known operation that should explain one or more flows.
//
// ExpectedFlows are queries: they describe the postings the event should have left on
// the statement and are matched against real flows, never stored. FixedFlows are
// attached to the resulting transaction unconditionally.
//
// The set of variants is closed; the unexported method keeps other packages from
// adding their own.
type Event interface {
	Type() EventType
	Timestamp() time.Time
	ExpectedFlows() []Flow
	FixedFlows() []Flow

	withTime(t time.Time) Event
}

// expect builds one expected flow. Zero amounts are kept; callers decide what is optional.
func expect(asset string, change apd.Decimal, label Label, t time.Time) Flow {
	return NewFlow(asset, change, label, t)
}

// debit builds an expected flow of -amount.
func debit(asset string, amount apd.Decimal, label Label, t time.Time) Flow {
	return NewFlow(asset, Neg(Abs(amount)), label, t)
}

// Trade is a spot exchange of one asset for another.
type Trade struct {
	Time      time.Time   `json:"time"`
	ID        string      `json:"id,omitempty"`
	Bought    string      `json:"bought"`
	BoughtQty apd.Decimal `json:"bought_qty"`
	Sold      string      `json:"sold"`
	SoldQty   apd.Decimal `json:"sold_qty"`
	FeeAsset  string      `json:"fee_asset,omitempty"`
	Fee       apd.Decimal `json:"fee"`
}

func (e Trade) Type() EventType      { return EventTrade }
func (e Trade) Timestamp() time.Time { return e.Time }
func (e Trade) FixedFlows() []Flow   { return nil }

func (e Trade) ExpectedFlows() []Flow {
	flows := []Flow{
		expect(e.Bought, Abs(e.BoughtQty), LabelTrade, e.Time),
		debit(e.Sold, e.SoldQty, LabelTrade, e.Time),
	}
	if !e.Fee.IsZero() {
		flows = append(flows, debit(e.FeeAsset, e.Fee, LabelFee, e.Time))
	}
	return flows
}

func (e Trade) withTime(t time.Time) Event { e.Time = t; return e }

// FutureTrade is a fill on a derivatives contract. The contract notional is booked as a
// fixed future-kind flow; only the fee and the optional realized PnL are matched.
type FutureTrade struct {
	Time        time.Time    `json:"time"`
	ID          string       `json:"id,omitempty"`
	Contract    string       `json:"contract"`
	Qty         apd.Decimal  `json:"qty"`
	Price       apd.Decimal  `json:"price"`
	SettleAsset string       `json:"settle_asset"`
	Fee         apd.Decimal  `json:"fee"`
	RealizedPnL *apd.Decimal `json:"realized_pnl,omitempty"`
}

func (e FutureTrade) Type() EventType      { return EventFutureTrade }
func (e FutureTrade) Timestamp() time.Time { return e.Time }

func (e FutureTrade) ExpectedFlows() []Flow {
	var flows []Flow
	if !e.Fee.IsZero() {
		flows = append(flows, debit(e.SettleAsset, e.Fee, LabelFee, e.Time))
	}
	if e.RealizedPnL != nil && !e.RealizedPnL.IsZero() {
		flows = append(flows, expect(e.SettleAsset, *e.RealizedPnL, LabelSettlement, e.Time))
	}
	return flows
}

func (e FutureTrade) FixedFlows() []Flow {
	price := e.Price
	return []Flow{{
		Asset:     e.Contract,
		Change:    e.Qty,
		Label:     LabelTrade,
		Kind:      KindFuture,
		Time:      e.Time,
		Price:     &price,
		Synthetic: true,
	}}
}

func (e FutureTrade) withTime(t time.Time) Event { e.Time = t; return e }

// StrategyDirection tells whether money entered or left an opaque sub-account.
type StrategyDirection int

const (
	// StrategyDeposit moves money from the visible account into the strategy.
	StrategyDeposit StrategyDirection = iota
	// StrategyWithdrawal moves money from the strategy back to the visible account.
	StrategyWithdrawal
)

// String returns the string representation of the direction.
func (d StrategyDirection) String() string {
	return [...]string{"DEPOSIT", "WITHDRAWAL"}[d]
}

// Label returns the flow label used by the visible leg.
func (d StrategyDirection) Label() Label {
	if d == StrategyWithdrawal {
		return LabelStrategyWithdrawal
	}
	return LabelStrategyDeposit
}

// Strategy moves Qty between the visible account and a sub-account the API does not
// expose. The invisible side is booked as a fixed strategy-kind posting so the
// transaction nets to zero per asset.
type Strategy struct {
	Time      time.Time         `json:"time"`
	Asset     string            `json:"asset"`
	Qty       apd.Decimal       `json:"qty"`
	Direction StrategyDirection `json:"direction"`
}

func (e Strategy) Type() EventType      { return EventStrategy }
func (e Strategy) Timestamp() time.Time { return e.Time }

func (e Strategy) visibleChange() apd.Decimal {
	if e.Direction == StrategyDeposit {
		return Neg(Abs(e.Qty))
	}
	return Abs(e.Qty)
}

func (e Strategy) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, e.visibleChange(), e.Direction.Label(), e.Time)}
}

func (e Strategy) FixedFlows() []Flow {
	return []Flow{{
		Asset:     e.Asset,
		Change:    Neg(e.visibleChange()),
		Label:     e.Direction.Label(),
		Kind:      KindStrategy,
		Time:      e.Time,
		Synthetic: true,
	}}
}

func (e Strategy) withTime(t time.Time) Event { e.Time = t; return e }

// Yield is interest, staking or savings income.
type Yield struct {
	Time   time.Time   `json:"time"`
	Asset  string      `json:"asset"`
	Amount apd.Decimal `json:"amount"`
}

func (e Yield) Type() EventType      { return EventYield }
func (e Yield) Timestamp() time.Time { return e.Time }
func (e Yield) FixedFlows() []Flow   { return nil }

func (e Yield) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, e.Amount, LabelYield, e.Time)}
}

func (e Yield) withTime(t time.Time) Event { e.Time = t; return e }

// Bonus is a promotional credit, rebate or reward.
type Bonus struct {
	Time   time.Time   `json:"time"`
	Asset  string      `json:"asset"`
	Amount apd.Decimal `json:"amount"`
}

func (e Bonus) Type() EventType      { return EventBonus }
func (e Bonus) Timestamp() time.Time { return e.Time }
func (e Bonus) FixedFlows() []Flow   { return nil }

func (e Bonus) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, e.Amount, LabelBonus, e.Time)}
}

func (e Bonus) withTime(t time.Time) Event { e.Time = t; return e }

// Funding is a perpetual funding payment; Amount is negative when paid.
type Funding struct {
	Time     time.Time   `json:"time"`
	Asset    string      `json:"asset"`
	Amount   apd.Decimal `json:"amount"`
	Contract string      `json:"contract,omitempty"`
}

func (e Funding) Type() EventType      { return EventFunding }
func (e Funding) Timestamp() time.Time { return e.Time }
func (e Funding) FixedFlows() []Flow   { return nil }

func (e Funding) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, e.Amount, LabelFunding, e.Time)}
}

func (e Funding) withTime(t time.Time) Event { e.Time = t; return e }

// Settlement is realized PnL booked by a derivatives account, with an optional fee.
type Settlement struct {
	Time     time.Time   `json:"time"`
	Asset    string      `json:"asset"`
	Amount   apd.Decimal `json:"amount"`
	Fee      apd.Decimal `json:"fee"`
	Contract string      `json:"contract,omitempty"`
}

func (e Settlement) Type() EventType      { return EventSettlement }
func (e Settlement) Timestamp() time.Time { return e.Time }
func (e Settlement) FixedFlows() []Flow   { return nil }

func (e Settlement) ExpectedFlows() []Flow {
	flows := []Flow{expect(e.Asset, e.Amount, LabelSettlement, e.Time)}
	if !e.Fee.IsZero() {
		flows = append(flows, debit(e.Asset, e.Fee, LabelSettlementFee, e.Time))
	}
	return flows
}

func (e Settlement) withTime(t time.Time) Event { e.Time = t; return e }

// Fee is a standalone charge. Amount is the positive size of the charge.
type Fee struct {
	Time   time.Time   `json:"time"`
	Asset  string      `json:"asset"`
	Amount apd.Decimal `json:"amount"`
}

func (e Fee) Type() EventType      { return EventFee }
func (e Fee) Timestamp() time.Time { return e.Time }
func (e Fee) FixedFlows() []Flow   { return nil }

func (e Fee) ExpectedFlows() []Flow {
	return []Flow{debit(e.Asset, e.Amount, LabelFee, e.Time)}
}

func (e Fee) withTime(t time.Time) Event { e.Time = t; return e }

// InternalTransfer moves funds between accounts of the same owner. Amount is the
// signed change on the account the statement belongs to. PairID is set once the
// opposite leg has been found.
type InternalTransfer struct {
	Time   time.Time   `json:"time"`
	ID     string      `json:"id,omitempty"`
	Asset  string      `json:"asset"`
	Amount apd.Decimal `json:"amount"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
	PairID string      `json:"pair_id,omitempty"`
}

func (e InternalTransfer) Type() EventType      { return EventInternalTransfer }
func (e InternalTransfer) Timestamp() time.Time { return e.Time }
func (e InternalTransfer) FixedFlows() []Flow   { return nil }

func (e InternalTransfer) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, e.Amount, LabelInternalTransfer, e.Time)}
}

func (e InternalTransfer) withTime(t time.Time) Event { e.Time = t; return e }

// Other is a balance change the venue could not classify.
type Other struct {
	Time        time.Time   `json:"time"`
	Asset       string      `json:"asset"`
	Amount      apd.Decimal `json:"amount"`
	Description string      `json:"description,omitempty"`
}

func (e Other) Type() EventType      { return EventOther }
func (e Other) Timestamp() time.Time { return e.Time }
func (e Other) FixedFlows() []Flow   { return nil }

func (e Other) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, e.Amount, LabelOther, e.Time)}
}

func (e Other) withTime(t time.Time) Event { e.Time = t; return e }

// CryptoDeposit is an on-chain deposit credited to the account.
type CryptoDeposit struct {
	Time    time.Time   `json:"time"`
	Asset   string      `json:"asset"`
	Amount  apd.Decimal `json:"amount"`
	TxHash  string      `json:"tx_hash,omitempty"`
	Address string      `json:"address,omitempty"`
}

func (e CryptoDeposit) Type() EventType      { return EventCryptoDeposit }
func (e CryptoDeposit) Timestamp() time.Time { return e.Time }
func (e CryptoDeposit) FixedFlows() []Flow   { return nil }

func (e CryptoDeposit) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, Abs(e.Amount), LabelCryptoDeposit, e.Time)}
}

func (e CryptoDeposit) withTime(t time.Time) Event { e.Time = t; return e }

// FiatDeposit is a bank deposit credited to the account.
type FiatDeposit struct {
	Time      time.Time   `json:"time"`
	Asset     string      `json:"asset"`
	Amount    apd.Decimal `json:"amount"`
	Reference string      `json:"reference,omitempty"`
}

func (e FiatDeposit) Type() EventType      { return EventFiatDeposit }
func (e FiatDeposit) Timestamp() time.Time { return e.Time }
func (e FiatDeposit) FixedFlows() []Flow   { return nil }

func (e FiatDeposit) ExpectedFlows() []Flow {
	return []Flow{expect(e.Asset, Abs(e.Amount), LabelFiatDeposit, e.Time)}
}

func (e FiatDeposit) withTime(t time.Time) Event { e.Time = t; return e }

// CryptoWithdrawal is an on-chain withdrawal. Amount and Fee are positive sizes.
type CryptoWithdrawal struct {
	Time    time.Time   `json:"time"`
	Asset   string      `json:"asset"`
	Amount  apd.Decimal `json:"amount"`
	Fee     apd.Decimal `json:"fee"`
	TxHash  string      `json:"tx_hash,omitempty"`
	Address string      `json:"address,omitempty"`
}

func (e CryptoWithdrawal) Type() EventType      { return EventCryptoWithdrawal }
func (e CryptoWithdrawal) Timestamp() time.Time { return e.Time }
func (e CryptoWithdrawal) FixedFlows() []Flow   { return nil }

func (e CryptoWithdrawal) ExpectedFlows() []Flow {
	flows := []Flow{debit(e.Asset, e.Amount, LabelCryptoWithdrawal, e.Time)}
	if !e.Fee.IsZero() {
		flows = append(flows, debit(e.Asset, e.Fee, LabelWithdrawalFee, e.Time))
	}
	return flows
}

func (e CryptoWithdrawal) withTime(t time.Time) Event { e.Time = t; return e }

// FiatWithdrawal is a bank withdrawal. Amount and Fee are positive sizes.
type FiatWithdrawal struct {
	Time      time.Time   `json:"time"`
	Asset     string      `json:"asset"`
	Amount    apd.Decimal `json:"amount"`
	Fee       apd.Decimal `json:"fee"`
	Reference string      `json:"reference,omitempty"`
}

func (e FiatWithdrawal) Type() EventType      { return EventFiatWithdrawal }
func (e FiatWithdrawal) Timestamp() time.Time { return e.Time }
func (e FiatWithdrawal) FixedFlows() []Flow   { return nil }

func (e FiatWithdrawal) ExpectedFlows() []Flow {
	flows := []Flow{debit(e.Asset, e.Amount, LabelFiatWithdrawal, e.Time)}
	if !e.Fee.IsZero() {
		flows = append(flows, debit(e.Asset, e.Fee, LabelWithdrawalFee, e.Time))
	}
	return flows
}

func (e FiatWithdrawal) withTime(t time.Time) Event { e.Time = t; return e }

// EthereumTransaction is a native ETH transfer seen from one address.
// Amount is signed from the point of view of that address; GasFee is positive.
type EthereumTransaction struct {
	Time   time.Time   `json:"time"`
	Asset  string      `json:"asset"`
	Amount apd.Decimal `json:"amount"`
	GasFee apd.Decimal `json:"gas_fee"`
	Hash   string      `json:"hash,omitempty"`
	From   string      `json:"from,omitempty"`
	To     string      `json:"to,omitempty"`
}

func (e EthereumTransaction) Type() EventType      { return EventEthereumTransaction }
func (e EthereumTransaction) Timestamp() time.Time { return e.Time }
func (e EthereumTransaction) FixedFlows() []Flow   { return nil }

func (e EthereumTransaction) ExpectedFlows() []Flow {
	asset := e.Asset
	if asset == "" {
		asset = "ETH"
	}
	flows := []Flow{expect(asset, e.Amount, LabelEthereumTransfer, e.Time)}
	if !e.GasFee.IsZero() {
		flows = append(flows, debit(asset, e.GasFee, LabelFee, e.Time))
	}
	return flows
}

func (e EthereumTransaction) withTime(t time.Time) Event { e.Time = t; return e }

// ERC20Transfer is a token transfer seen from one address. Amount is signed.
type ERC20Transfer struct {
	Time     time.Time   `json:"time"`
	Token    string      `json:"token"`
	Contract string      `json:"contract,omitempty"`
	Amount   apd.Decimal `json:"amount"`
	Hash     string      `json:"hash,omitempty"`
	From     string      `json:"from,omitempty"`
	To       string      `json:"to,omitempty"`
}

func (e ERC20Transfer) Type() EventType      { return EventERC20Transfer }
func (e ERC20Transfer) Timestamp() time.Time { return e.Time }
func (e ERC20Transfer) FixedFlows() []Flow   { return nil }

func (e ERC20Transfer) ExpectedFlows() []Flow {
	return []Flow{expect(e.Token, e.Amount, LabelERC20Transfer, e.Time)}
}

func (e ERC20Transfer) withTime(t time.Time) Event { e.Time = t; return e }

// WithTime returns a copy of e booked at t.
func WithTime(e Event, t time.Time) Event {
	return e.withTime(t)
}
