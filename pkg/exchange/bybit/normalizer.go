package bybit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
	"nakula/pkg/ledger"
)

// bybitTransactionLog is one row of /v5/account/transaction-log.
type bybitTransactionLog struct {
	ID              string `json:"id"`
	Symbol          string `json:"symbol"`
	Category        string `json:"category"`
	Side            string `json:"side"`
	TransactionTime string `json:"transactionTime"`
	Type            string `json:"type"`
	Qty             string `json:"qty"`
	Size            string `json:"size"`
	Currency        string `json:"currency"`
	TradePrice      string `json:"tradePrice"`
	Funding         string `json:"funding"`
	Fee             string `json:"fee"`
	CashFlow        string `json:"cashFlow"`
	Change          string `json:"change"`
	CashBalance     string `json:"cashBalance"`
	FeeRate         string `json:"feeRate"`
	BonusChange     string `json:"bonusChange"`
	TradeID         string `json:"tradeId"`
	OrderID         string `json:"orderId"`
	OrderLinkID     string `json:"orderLinkId"`
}

// bybitExecution is one fill from /v5/execution/list.
type bybitExecution struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Side        string `json:"side"`
	ExecID      string `json:"execId"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecValue   string `json:"execValue"`
	ExecFee     string `json:"execFee"`
	FeeCurrency string `json:"feeCurrency"`
	ExecType    string `json:"execType"`
	ExecTime    string `json:"execTime"`
	IsMaker     bool   `json:"isMaker"`
	ClosedSize  string `json:"closedSize"`
}

// bybitTransfer is one row of /v5/asset/transfer/query-inter-transfer-list.
type bybitTransfer struct {
	TransferID      string `json:"transferId"`
	Coin            string `json:"coin"`
	Amount          string `json:"amount"`
	FromAccountType string `json:"fromAccountType"`
	ToAccountType   string `json:"toAccountType"`
	Timestamp       string `json:"timestamp"`
	Status          string `json:"status"`
}

// Normalizer converts Bybit statement records to ledger flows and events.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer instance.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeTransactionLogs converts transaction log rows to flows, preserving row order.
func (n *Normalizer) NormalizeTransactionLogs(rows []bybitTransactionLog) ([]ledger.Flow, error) {
	flows := make([]ledger.Flow, 0, len(rows))
	for i := range rows {
		f, err := n.NormalizeTransactionLog(&rows[i])
		if err != nil {
			return nil, err
		}
		flows = append(flows, f...)
	}
	return flows, nil
}

// NormalizeTransactionLog splits one transaction log row into its component flows.
// A trade row yields its cash flow and its fee separately; a settlement row yields
// the funding payment and the realized PnL. Zero components are dropped.
func (n *Normalizer) NormalizeTransactionLog(row *bybitTransactionLog) ([]ledger.Flow, error) {
	t, err := parseBybitTime(row.TransactionTime)
	if err != nil {
		return nil, malformed("transaction log %s: %w", row.ID, err)
	}

	var cashFlow, fee, funding, change apd.Decimal
	for _, field := range []struct {
		dest *apd.Decimal
		s    string
	}{
		{&cashFlow, row.CashFlow},
		{&fee, row.Fee},
		{&funding, row.Funding},
		{&change, row.Change},
	} {
		if err := parseDecimal(field.dest, field.s); err != nil {
			return nil, malformed("transaction log %s: %w", row.ID, err)
		}
	}

	var flows []ledger.Flow
	add := func(amount apd.Decimal, label ledger.Label) {
		if amount.IsZero() {
			return
		}
		flows = append(flows, ledger.NewFlow(row.Currency, amount, label, t).WithDetails(*row))
	}

	switch row.Type {
	case "TRADE":
		label := ledger.LabelTrade
		if isDerivative(row.Category) {
			label = ledger.LabelSettlement
		}
		add(cashFlow, label)
		add(ledger.Neg(fee), ledger.LabelFee)
	case "SETTLEMENT":
		add(ledger.Neg(funding), ledger.LabelFunding)
		add(cashFlow, ledger.LabelSettlement)
		add(ledger.Neg(fee), ledger.LabelFee)
	case "DELIVERY", "LIQUIDATION":
		add(cashFlow, ledger.LabelSettlement)
		add(ledger.Neg(fee), ledger.LabelSettlementFee)
	default:
		add(change, labelForType(row.Type))
	}

	return flows, nil
}

func labelForType(typ string) ledger.Label {
	switch typ {
	case "TRANSFER_IN", "TRANSFER_OUT":
		return ledger.LabelInternalTransfer
	case "BONUS", "AIRDROP":
		return ledger.LabelBonus
	case "INTEREST":
		return ledger.LabelYield
	case "FEE_REFUND":
		return ledger.LabelFee
	default:
		return ledger.LabelOther
	}
}

// NormalizeExecutions converts fills of one category to Trade or FutureTrade events.
// Executions other than plain trades (funding, ADL, bust) are skipped: their balance
// effect shows up in the transaction log.
func (n *Normalizer) NormalizeExecutions(category string, rows []bybitExecution) ([]ledger.Event, error) {
	events := make([]ledger.Event, 0, len(rows))
	for i := range rows {
		if rows[i].ExecType != "" && rows[i].ExecType != "Trade" {
			continue
		}
		e, err := n.NormalizeExecution(category, &rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (n *Normalizer) NormalizeExecution(category string, row *bybitExecution) (ledger.Event, error) {
	t, err := parseBybitTime(row.ExecTime)
	if err != nil {
		return nil, malformed("execution %s: %w", row.ExecID, err)
	}
	side, err := core.ParseOrderSide(row.Side)
	if err != nil {
		return nil, malformed("execution %s: %w", row.ExecID, err)
	}

	var price, qty, value, fee apd.Decimal
	for _, field := range []struct {
		dest *apd.Decimal
		s    string
	}{
		{&price, row.ExecPrice},
		{&qty, row.ExecQty},
		{&value, row.ExecValue},
		{&fee, row.ExecFee},
	} {
		if err := parseDecimal(field.dest, field.s); err != nil {
			return nil, malformed("execution %s: %w", row.ExecID, err)
		}
	}

	if !isDerivative(category) {
		base, quote, ok := splitSymbol(row.Symbol)
		if !ok {
			return nil, malformed("execution %s: unknown spot symbol %q", row.ExecID, row.Symbol)
		}
		trade := ledger.Trade{Time: t, ID: row.ExecID, Fee: fee, FeeAsset: row.FeeCurrency}
		if side == core.SideBuy {
			trade.Bought, trade.BoughtQty, trade.Sold, trade.SoldQty = base, qty, quote, value
		} else {
			trade.Bought, trade.BoughtQty, trade.Sold, trade.SoldQty = quote, value, base, qty
		}
		if trade.FeeAsset == "" {
			trade.FeeAsset = trade.Bought
		}
		return trade, nil
	}

	settle, err := settleAsset(category, row.Symbol)
	if err != nil {
		return nil, malformed("execution %s: %w", row.ExecID, err)
	}
	if side == core.SideSell {
		qty = ledger.Neg(qty)
	}
	return ledger.FutureTrade{
		Time:        t,
		ID:          row.ExecID,
		Contract:    row.Symbol,
		Qty:         qty,
		Price:       price,
		SettleAsset: settle,
		Fee:         fee,
	}, nil
}

// NormalizeTransfers converts successful transfers touching account into signed
// InternalTransfer events. Transfers between two other wallets are dropped.
func (n *Normalizer) NormalizeTransfers(account string, rows []bybitTransfer) ([]ledger.Event, error) {
	events := make([]ledger.Event, 0, len(rows))
	for _, row := range rows {
		if row.Status != "" && row.Status != "SUCCESS" {
			continue
		}
		if row.FromAccountType != account && row.ToAccountType != account {
			continue
		}

		t, err := parseBybitTime(row.Timestamp)
		if err != nil {
			return nil, malformed("transfer %s: %w", row.TransferID, err)
		}
		var amount apd.Decimal
		if err := parseDecimal(&amount, row.Amount); err != nil {
			return nil, malformed("transfer %s: %w", row.TransferID, err)
		}
		if row.ToAccountType != account {
			amount = ledger.Neg(amount)
		}

		events = append(events, ledger.InternalTransfer{
			Time:   t,
			ID:     row.TransferID,
			Asset:  row.Coin,
			Amount: amount,
			From:   row.FromAccountType,
			To:     row.ToAccountType,
		})
	}
	return events, nil
}

func isDerivative(category string) bool {
	mt, err := core.ParseMarketType(category)
	return err == nil && mt.IsDerivative()
}

var quoteCurrencies = []string{"USDT", "USDC", "USD", "BTC", "ETH", "EUR"}

// splitSymbol splits a concatenated symbol such as BTCUSDT into base and quote.
func splitSymbol(symbol string) (string, string, bool) {
	for _, quote := range quoteCurrencies {
		if base, ok := strings.CutSuffix(symbol, quote); ok && base != "" {
			return base, quote, true
		}
	}
	return "", "", false
}

// settleAsset returns the currency a contract settles in: the quote for linear
// contracts, the base for inverse ones and USDC for options.
func settleAsset(category, symbol string) (string, error) {
	mt, err := core.ParseMarketType(category)
	if err != nil {
		return "", err
	}
	if mt == core.MarketTypeOption {
		return "USDC", nil
	}

	contract, _, _ := strings.Cut(symbol, "-")
	if base, ok := strings.CutSuffix(contract, "PERP"); ok && base != "" {
		return "USDC", nil
	}
	base, quote, ok := splitSymbol(contract)
	if !ok {
		return "", fmt.Errorf("unknown contract %q", symbol)
	}
	if mt == core.MarketTypeInverse {
		return base, nil
	}
	return quote, nil
}

func formatSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func malformed(format string, args ...any) error {
	return core.NewMalformedError("bybit", fmt.Errorf(format, args...))
}

func parseDecimal(dest *apd.Decimal, s string) error {
	if s == "" {
		*dest = apd.Decimal{}
		return nil
	}

	_, _, err := apd.BaseContext.SetString(dest, s)
	if err != nil {
		return fmt.Errorf("set decimal from string: %w", err)
	}

	return nil
}

func parseBybitTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}

	return time.UnixMilli(ms).UTC(), nil
}
