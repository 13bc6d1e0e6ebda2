package bybit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/core"
	"nakula/pkg/ledger"
)

type wantFlow struct {
	asset  string
	change string
	label  ledger.Label
}

func flowsOf(flows []ledger.Flow) []wantFlow {
	out := make([]wantFlow, len(flows))
	for i, f := range flows {
		out[i] = wantFlow{f.Asset, f.Change.String(), f.Label}
	}
	return out
}

func TestNormalizeTransactionLog(t *testing.T) {
	tests := []struct {
		name string
		row  bybitTransactionLog
		want []wantFlow
	}{
		{
			name: "spot trade with fee",
			row:  bybitTransactionLog{Category: "spot", Type: "TRADE", Currency: "BTC", CashFlow: "0.01", Fee: "0.00001", Change: "0.00999"},
			want: []wantFlow{{"BTC", "0.01", ledger.LabelTrade}, {"BTC", "-0.00001", ledger.LabelFee}},
		},
		{
			name: "linear trade books realized pnl",
			row:  bybitTransactionLog{Category: "linear", Type: "TRADE", Currency: "USDT", CashFlow: "-4", Fee: "0.3", Change: "-4.3"},
			want: []wantFlow{{"USDT", "-4", ledger.LabelSettlement}, {"USDT", "-0.3", ledger.LabelFee}},
		},
		{
			name: "maker rebate",
			row:  bybitTransactionLog{Category: "linear", Type: "TRADE", Currency: "USDT", Fee: "-0.05", Change: "0.05"},
			want: []wantFlow{{"USDT", "0.05", ledger.LabelFee}},
		},
		{
			name: "funding settlement",
			row:  bybitTransactionLog{Category: "linear", Type: "SETTLEMENT", Currency: "USDT", Funding: "1.2", Change: "-1.2"},
			want: []wantFlow{{"USDT", "-1.2", ledger.LabelFunding}},
		},
		{
			name: "funding received",
			row:  bybitTransactionLog{Category: "linear", Type: "SETTLEMENT", Currency: "USDT", Funding: "-0.8", Change: "0.8"},
			want: []wantFlow{{"USDT", "0.8", ledger.LabelFunding}},
		},
		{
			name: "delivery",
			row:  bybitTransactionLog{Category: "linear", Type: "DELIVERY", Currency: "USDC", CashFlow: "12", Fee: "0.1"},
			want: []wantFlow{{"USDC", "12", ledger.LabelSettlement}, {"USDC", "-0.1", ledger.LabelSettlementFee}},
		},
		{
			name: "transfer in",
			row:  bybitTransactionLog{Type: "TRANSFER_IN", Currency: "ETH", Change: "2"},
			want: []wantFlow{{"ETH", "2", ledger.LabelInternalTransfer}},
		},
		{
			name: "transfer out",
			row:  bybitTransactionLog{Type: "TRANSFER_OUT", Currency: "ETH", Change: "-2"},
			want: []wantFlow{{"ETH", "-2", ledger.LabelInternalTransfer}},
		},
		{
			name: "bonus",
			row:  bybitTransactionLog{Type: "BONUS", Currency: "USDT", Change: "5"},
			want: []wantFlow{{"USDT", "5", ledger.LabelBonus}},
		},
		{
			name: "interest",
			row:  bybitTransactionLog{Type: "INTEREST", Currency: "USDC", Change: "0.02"},
			want: []wantFlow{{"USDC", "0.02", ledger.LabelYield}},
		},
		{
			name: "fee refund",
			row:  bybitTransactionLog{Type: "FEE_REFUND", Currency: "USDT", Change: "0.4"},
			want: []wantFlow{{"USDT", "0.4", ledger.LabelFee}},
		},
		{
			name: "unknown type",
			row:  bybitTransactionLog{Type: "BORROWED_AMOUNT_INS_LOAN", Currency: "USDT", Change: "100"},
			want: []wantFlow{{"USDT", "100", ledger.LabelOther}},
		},
		{
			name: "zero change",
			row:  bybitTransactionLog{Type: "BONUS", Currency: "USDT", Change: "0"},
			want: []wantFlow{},
		},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.row.ID = "1"
			tt.row.TransactionTime = "1709251200000"

			flows, err := n.NormalizeTransactionLog(&tt.row)

			require.NoError(t, err)
			assert.Equal(t, tt.want, flowsOf(flows))
			for _, f := range flows {
				assert.Equal(t, t0, f.Time)
				assert.Equal(t, tt.row, f.Details)
			}
		})
	}
}

func TestNormalizeTransactionLog_Malformed(t *testing.T) {
	tests := []struct {
		name string
		row  bybitTransactionLog
	}{
		{"missing time", bybitTransactionLog{Type: "BONUS", Change: "1"}},
		{"bad time", bybitTransactionLog{Type: "BONUS", Change: "1", TransactionTime: "yesterday"}},
		{"bad amount", bybitTransactionLog{Type: "BONUS", Change: "1,5", TransactionTime: "1709251200000"}},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.NormalizeTransactionLog(&tt.row)

			assert.True(t, core.IsMalformedResponse(err))
		})
	}
}

func TestNormalizeExecution_Spot(t *testing.T) {
	tests := []struct {
		name string
		row  bybitExecution
		want ledger.Trade
	}{
		{
			name: "buy pays fee in base",
			row: bybitExecution{Symbol: "BTCUSDT", Side: "Buy", ExecID: "e1", ExecPrice: "50000",
				ExecQty: "0.01", ExecValue: "500", ExecFee: "0.00001", FeeCurrency: "BTC"},
			want: ledger.Trade{Time: t0, ID: "e1", Bought: "BTC", BoughtQty: ledger.MustDecimal("0.01"),
				Sold: "USDT", SoldQty: ledger.MustDecimal("500"), FeeAsset: "BTC", Fee: ledger.MustDecimal("0.00001")},
		},
		{
			name: "sell defaults fee to received asset",
			row: bybitExecution{Symbol: "ETHBTC", Side: "Sell", ExecID: "e2", ExecPrice: "0.05",
				ExecQty: "2", ExecValue: "0.1", ExecFee: "0.0001"},
			want: ledger.Trade{Time: t0, ID: "e2", Bought: "BTC", BoughtQty: ledger.MustDecimal("0.1"),
				Sold: "ETH", SoldQty: ledger.MustDecimal("2"), FeeAsset: "BTC", Fee: ledger.MustDecimal("0.0001")},
		},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.row.ExecTime = "1709251200000"

			e, err := n.NormalizeExecution("spot", &tt.row)

			require.NoError(t, err)
			trade, ok := e.(ledger.Trade)
			require.True(t, ok)
			assert.Equal(t, tt.want.Bought, trade.Bought)
			assert.Equal(t, tt.want.BoughtQty.String(), trade.BoughtQty.String())
			assert.Equal(t, tt.want.Sold, trade.Sold)
			assert.Equal(t, tt.want.SoldQty.String(), trade.SoldQty.String())
			assert.Equal(t, tt.want.FeeAsset, trade.FeeAsset)
			assert.Equal(t, tt.want.Fee.String(), trade.Fee.String())
			assert.Equal(t, tt.want.ID, trade.ID)
			assert.Equal(t, tt.want.Time, trade.Time)
		})
	}
}

func TestNormalizeExecution_Derivatives(t *testing.T) {
	tests := []struct {
		name       string
		category   string
		symbol     string
		side       string
		wantQty    string
		wantSettle string
	}{
		{"linear perpetual", "linear", "BTCUSDT", "Buy", "0.5", "USDT"},
		{"usdc perpetual", "linear", "ETHPERP", "Sell", "-0.5", "USDC"},
		{"dated future", "linear", "BTCUSDT-27DEC24", "Sell", "-0.5", "USDT"},
		{"inverse", "inverse", "BTCUSD", "Buy", "0.5", "BTC"},
		{"option", "option", "BTC-29MAR24-70000-C", "Buy", "0.5", "USDC"},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := bybitExecution{Symbol: tt.symbol, Side: tt.side, ExecID: "e", ExecPrice: "100",
				ExecQty: "0.5", ExecFee: "0.01", ExecTime: "1709251200000"}

			e, err := n.NormalizeExecution(tt.category, &row)

			require.NoError(t, err)
			trade, ok := e.(ledger.FutureTrade)
			require.True(t, ok)
			assert.Equal(t, tt.symbol, trade.Contract)
			assert.Equal(t, tt.wantQty, trade.Qty.String())
			assert.Equal(t, tt.wantSettle, trade.SettleAsset)
			assert.Equal(t, "100", trade.Price.String())
			assert.Equal(t, "0.01", trade.Fee.String())
			assert.Nil(t, trade.RealizedPnL)
		})
	}
}

func TestNormalizeExecutions_SkipsNonTrades(t *testing.T) {
	rows := []bybitExecution{
		{Symbol: "BTCUSDT", Side: "Buy", ExecType: "Funding", ExecTime: "1709251200000"},
		{Symbol: "BTCUSDT", Side: "Buy", ExecType: "Trade", ExecQty: "1", ExecPrice: "1", ExecTime: "1709251200000"},
	}

	events, err := NewNormalizer().NormalizeExecutions("linear", rows)

	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestNormalizeExecution_Malformed(t *testing.T) {
	tests := []struct {
		name     string
		category string
		row      bybitExecution
	}{
		{"unknown side", "spot", bybitExecution{Symbol: "BTCUSDT", Side: "Hold", ExecTime: "1709251200000"}},
		{"unknown spot symbol", "spot", bybitExecution{Symbol: "XYZ", Side: "Buy", ExecTime: "1709251200000"}},
		{"unknown contract", "linear", bybitExecution{Symbol: "XYZ", Side: "Buy", ExecTime: "1709251200000"}},
		{"bad qty", "linear", bybitExecution{Symbol: "BTCUSDT", Side: "Buy", ExecQty: "one", ExecTime: "1709251200000"}},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.NormalizeExecution(tt.category, &tt.row)

			assert.True(t, core.IsMalformedResponse(err))
		})
	}
}

func TestNormalizeTransfers(t *testing.T) {
	rows := []bybitTransfer{
		{TransferID: "in", Coin: "ETH", Amount: "2", FromAccountType: "FUND", ToAccountType: "UNIFIED", Timestamp: "1709251200000", Status: "SUCCESS"},
		{TransferID: "out", Coin: "USDT", Amount: "100", FromAccountType: "UNIFIED", ToAccountType: "FUND", Timestamp: "1709251200000", Status: "SUCCESS"},
		{TransferID: "pending", Coin: "USDT", Amount: "1", FromAccountType: "UNIFIED", ToAccountType: "FUND", Timestamp: "1709251200000", Status: "PENDING"},
		{TransferID: "elsewhere", Coin: "USDT", Amount: "1", FromAccountType: "FUND", ToAccountType: "OPTION", Timestamp: "1709251200000", Status: "SUCCESS"},
	}

	events, err := NewNormalizer().NormalizeTransfers("UNIFIED", rows)

	require.NoError(t, err)
	require.Len(t, events, 2)

	in := events[0].(ledger.InternalTransfer)
	assert.Equal(t, "in", in.ID)
	assert.Equal(t, "2", in.Amount.String())
	assert.Equal(t, "FUND", in.From)
	assert.Equal(t, "UNIFIED", in.To)

	out := events[1].(ledger.InternalTransfer)
	assert.Equal(t, "-100", out.Amount.String())
	assert.Equal(t, t0, out.Time)
}

func TestSplitSymbol(t *testing.T) {
	tests := []struct {
		symbol    string
		wantBase  string
		wantQuote string
		wantOK    bool
	}{
		{"BTCUSDT", "BTC", "USDT", true},
		{"SOLUSDC", "SOL", "USDC", true},
		{"BTCUSD", "BTC", "USD", true},
		{"ETHBTC", "ETH", "BTC", true},
		{"USDT", "", "", false},
		{"XYZ", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			base, quote, ok := splitSymbol(tt.symbol)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantBase, base)
			assert.Equal(t, tt.wantQuote, quote)
		})
	}
}
