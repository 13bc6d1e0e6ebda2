package ledger

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Transaction is an event together with the postings that realize it:
// the flows matched against its expected flows followed by its fixed flows.
type Transaction struct {
	Event Event  `json:"event"`
	Flows []Flow `json:"flows"`
}

// NewTransaction builds a transaction from an event and the statement flows matched to it.
// The event's fixed flows are appended after the matched ones.
func NewTransaction(e Event, matched []Flow) Transaction {
	fixed := e.FixedFlows()
	flows := make([]Flow, 0, len(matched)+len(fixed))
	flows = append(flows, matched...)
	flows = append(flows, fixed...)
	return Transaction{Event: e, Flows: flows}
}

// Time returns the event time.
func (t Transaction) Time() time.Time {
	return t.Event.Timestamp()
}

// ReplaceTime applies fn to the event time and to every flow time.
func (t Transaction) ReplaceTime(fn func(time.Time) time.Time) Transaction {
	flows := make([]Flow, len(t.Flows))
	for i, f := range t.Flows {
		flows[i] = f.WithTime(fn(f.Time))
	}
	return Transaction{
		Event: WithTime(t.Event, fn(t.Event.Timestamp())),
		Flows: flows,
	}
}

// InLocation attaches loc to every timestamp of the transaction, keeping wall clocks.
func (t Transaction) InLocation(loc *time.Location) Transaction {
	return t.ReplaceTime(func(ts time.Time) time.Time { return Relabel(ts, loc) })
}

// Net returns the sum of all changes on asset across every kind.
func (t Transaction) Net(asset string) apd.Decimal {
	var total apd.Decimal
	for _, f := range t.Flows {
		if f.Asset == asset {
			total = Sum(total, f.Change)
		}
	}
	return total
}

// Observed returns the flows that came from a statement, skipping synthetic postings.
func (t Transaction) Observed() []Flow {
	out := make([]Flow, 0, len(t.Flows))
	for _, f := range t.Flows {
		if !f.Synthetic {
			out = append(out, f)
		}
	}
	return out
}

// String returns a short summary, e.g. "TRADE 2024-01-02T03:04:05Z (2 flows)".
func (t Transaction) String() string {
	return fmt.Sprintf("%s %s (%d flows)", t.Event.Type(), t.Time().Format(time.RFC3339), len(t.Flows))
}

// MarshalJSON encodes the event next to its type. The event is encoded through a pointer
// so decimal fields use their text form.
func (t Transaction) MarshalJSON() ([]byte, error) {
	var (
		typ   string
		event any
	)
	if t.Event != nil {
		typ = t.Event.Type().String()
		ptr := reflect.New(reflect.TypeOf(t.Event))
		ptr.Elem().Set(reflect.ValueOf(t.Event))
		event = ptr.Interface()
	}
	return json.Marshal(struct {
		Type  string `json:"type,omitempty"`
		Event any    `json:"event"`
		Flows []Flow `json:"flows"`
	}{typ, event, t.Flows})
}

// SingleFlowTransaction promotes a flow no event explained into its own transaction.
func SingleFlowTransaction(f Flow) Transaction {
	return NewTransaction(EventForFlow(f), []Flow{f})
}

// EventForFlow derives the event a lone flow stands for from its label.
// A credit on a fee label is a refund and keeps its sign as Other.
func EventForFlow(f Flow) Event {
	switch f.Label {
	case LabelFee, LabelSettlementFee, LabelWithdrawalFee:
		if f.IsCredit() {
			return Other{Time: f.Time, Asset: f.Asset, Amount: f.Change, Description: "fee_refund"}
		}
		return Fee{Time: f.Time, Asset: f.Asset, Amount: Abs(f.Change)}
	case LabelYield:
		return Yield{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelBonus:
		return Bonus{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelFunding:
		return Funding{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelSettlement:
		return Settlement{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelInternalTransfer:
		return InternalTransfer{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelCryptoDeposit:
		return CryptoDeposit{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelFiatDeposit:
		return FiatDeposit{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelCryptoWithdrawal:
		return CryptoWithdrawal{Time: f.Time, Asset: f.Asset, Amount: Abs(f.Change)}
	case LabelFiatWithdrawal:
		return FiatWithdrawal{Time: f.Time, Asset: f.Asset, Amount: Abs(f.Change)}
	case LabelStrategyDeposit:
		return Strategy{Time: f.Time, Asset: f.Asset, Qty: Abs(f.Change), Direction: StrategyDeposit}
	case LabelStrategyWithdrawal:
		return Strategy{Time: f.Time, Asset: f.Asset, Qty: Abs(f.Change), Direction: StrategyWithdrawal}
	case LabelEthereumTransfer:
		return EthereumTransaction{Time: f.Time, Asset: f.Asset, Amount: f.Change}
	case LabelERC20Transfer:
		return ERC20Transfer{Time: f.Time, Token: f.Asset, Amount: f.Change}
	default:
		return Other{Time: f.Time, Asset: f.Asset, Amount: f.Change, Description: f.Label.String()}
	}
}
