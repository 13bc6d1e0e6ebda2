package binance

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"nakula/pkg/core"
	"nakula/pkg/ledger"
)

// binanceIncome is one record of /fapi/v1/income.
type binanceIncome struct {
	Symbol     string      `json:"symbol"`
	IncomeType string      `json:"incomeType"`
	Income     apd.Decimal `json:"income"`
	Asset      string      `json:"asset"`
	Info       string      `json:"info"`
	Time       int64       `json:"time"`
	TranID     int64       `json:"tranId"`
	TradeID    string      `json:"tradeId"`
}

// key identifies a record across overlapping time-cursor pages.
func (r binanceIncome) key() string {
	return fmt.Sprintf("%d/%s/%s/%d", r.TranID, r.IncomeType, r.Asset, r.Time)
}

// binanceUserTrade is one fill from /fapi/v1/userTrades.
type binanceUserTrade struct {
	Symbol          string      `json:"symbol"`
	ID              int64       `json:"id"`
	OrderID         int64       `json:"orderId"`
	Side            string      `json:"side"`
	PositionSide    string      `json:"positionSide"`
	Price           apd.Decimal `json:"price"`
	Qty             apd.Decimal `json:"qty"`
	QuoteQty        apd.Decimal `json:"quoteQty"`
	RealizedPnl     apd.Decimal `json:"realizedPnl"`
	Commission      apd.Decimal `json:"commission"`
	CommissionAsset string      `json:"commissionAsset"`
	Buyer           bool        `json:"buyer"`
	Maker           bool        `json:"maker"`
	Time            int64       `json:"time"`
}

// Normalizer converts Binance futures records to ledger flows and events.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// NormalizeIncomes converts income records to flows, one per record.
// Zero incomes are dropped.
func (n *Normalizer) NormalizeIncomes(rows []binanceIncome) ([]ledger.Flow, error) {
	flows := make([]ledger.Flow, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		if row.Asset == "" {
			return nil, malformed("income %d: missing asset", row.TranID)
		}
		if row.Time <= 0 {
			return nil, malformed("income %d: missing time", row.TranID)
		}
		if row.Income.IsZero() {
			continue
		}
		flows = append(flows, ledger.NewFlow(row.Asset, row.Income, labelForIncome(row.IncomeType), parseBinanceTime(row.Time)).
			WithDetails(*row))
	}
	return flows, nil
}

func labelForIncome(incomeType string) ledger.Label {
	switch incomeType {
	case "TRANSFER", "INTERNAL_TRANSFER", "STRATEGY_UMFUTURES_TRANSFER", "CROSS_COLLATERAL_TRANSFER":
		return ledger.LabelInternalTransfer
	case "REALIZED_PNL", "DELIVERED_SETTELMENT":
		return ledger.LabelSettlement
	case "FUNDING_FEE":
		return ledger.LabelFunding
	case "COMMISSION":
		return ledger.LabelFee
	case "INSURANCE_CLEAR":
		return ledger.LabelSettlementFee
	case "WELCOME_BONUS", "CONTEST_REWARD", "REFERRAL_KICKBACK", "COMMISSION_REBATE", "API_REBATE":
		return ledger.LabelBonus
	default:
		return ledger.LabelOther
	}
}

// NormalizeUserTrades converts account fills to FutureTrade events.
func (n *Normalizer) NormalizeUserTrades(rows []binanceUserTrade) ([]ledger.Event, error) {
	events := make([]ledger.Event, 0, len(rows))
	for i := range rows {
		e, err := n.NormalizeUserTrade(&rows[i])
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// NormalizeUserTrade converts one fill. The commission is only expected from the
// settlement wallet when it was charged in the settle asset; a BNB commission
// stays a lone fee flow.
func (n *Normalizer) NormalizeUserTrade(row *binanceUserTrade) (ledger.FutureTrade, error) {
	side, err := core.ParseOrderSide(row.Side)
	if err != nil {
		return ledger.FutureTrade{}, malformed("trade %d: %w", row.ID, err)
	}
	_, settle, ok := splitSymbol(row.Symbol)
	if !ok {
		return ledger.FutureTrade{}, malformed("trade %d: unknown contract %q", row.ID, row.Symbol)
	}
	if row.Time <= 0 {
		return ledger.FutureTrade{}, malformed("trade %d: missing time", row.ID)
	}

	qty := row.Qty
	if side == core.SideSell {
		qty = ledger.Neg(qty)
	}
	trade := ledger.FutureTrade{
		Time:        parseBinanceTime(row.Time),
		ID:          strconv.FormatInt(row.ID, 10),
		Contract:    row.Symbol,
		Qty:         qty,
		Price:       row.Price,
		SettleAsset: settle,
	}
	if row.CommissionAsset == settle {
		trade.Fee = row.Commission
	}
	pnl := row.RealizedPnl
	trade.RealizedPnL = &pnl
	return trade, nil
}

// Binance USDⓈ-M contracts are margined in one of these.
var quoteCurrencies = []string{"USDT", "USDC", "BUSD"}

// splitSymbol splits a perpetual or a dated contract such as BTCUSDT_240628 into base and quote.
func splitSymbol(symbol string) (string, string, bool) {
	contract, _, _ := strings.Cut(symbol, "_")
	for _, quote := range quoteCurrencies {
		if base, ok := strings.CutSuffix(contract, quote); ok && base != "" {
			return base, quote, true
		}
	}
	return "", "", false
}

func formatSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func malformed(format string, args ...any) error {
	return core.NewMalformedError("binance", fmt.Errorf(format, args...))
}

func parseBinanceTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
