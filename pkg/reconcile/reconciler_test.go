package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/pkg/ledger"
)

func countObserved(txs []ledger.Transaction) int {
	n := 0
	for _, tx := range txs {
		n += len(tx.Observed())
	}
	return n
}

func mixedBatch() ([]ledger.Flow, []ledger.Event) {
	pnl := ledger.MustDecimal("-4")
	flows := []ledger.Flow{
		flow("BTC", "1", ledger.LabelTrade, 0),
		flow("USDT", "-50000", ledger.LabelTrade, 2*time.Second),
		flow("USDT", "-50010", ledger.LabelTrade, 2*time.Second),
		flow("USDT", "-5", ledger.LabelFee, 0),
		flow("USDT", "0.7", ledger.LabelBonus, 30*time.Minute),
		flow("USDT", "-0.3", ledger.LabelFee, time.Hour),
		flow("USDT", "-4", ledger.LabelSettlement, time.Hour),
		flow("ETH", "-2", ledger.LabelInternalTransfer, 2*time.Hour),
		flow("ETH", "2", ledger.LabelInternalTransfer, 2*time.Hour+5*time.Second),
		flow("SOL", "-10", ledger.LabelInternalTransfer, 3*time.Hour),
		flow("USDT", "-1.2", ledger.LabelFunding, 4*time.Hour),
	}
	events := []ledger.Event{
		ledger.Trade{
			Time: base, Bought: "BTC", BoughtQty: ledger.MustDecimal("1"),
			Sold: "USDT", SoldQty: ledger.MustDecimal("50000"),
			FeeAsset: "USDT", Fee: ledger.MustDecimal("5"),
		},
		ledger.FutureTrade{
			Time: base.Add(time.Hour), Contract: "BTCUSDT", Qty: ledger.MustDecimal("-0.01"),
			Price: ledger.MustDecimal("61000"), SettleAsset: "USDT",
			Fee: ledger.MustDecimal("0.3"), RealizedPnL: &pnl,
		},
		ledger.Funding{Time: base.Add(4 * time.Hour), Asset: "USDT", Amount: ledger.MustDecimal("-1.2")},
	}
	return flows, events
}

func TestReconcile_ExactTrade(t *testing.T) {
	flows := []ledger.Flow{
		flow("BTC", "1", ledger.LabelTrade, 0),
		flow("USDT", "-50000", ledger.LabelTrade, 0),
	}

	result, err := Reconcile(flows, []ledger.Event{btcTrade(0)}, time.UTC)

	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, ledger.EventTrade, result.Transactions[0].Event.Type())
	assert.Len(t, result.Transactions[0].Flows, 2)
	assert.Equal(t, 0, result.Leftovers)
}

func TestReconcile_DelayedLegWithinWindow(t *testing.T) {
	flows := []ledger.Flow{
		flow("BTC", "1", ledger.LabelTrade, 0),
		flow("USDT", "-50000", ledger.LabelTrade, 3*time.Second),
	}

	result, err := Reconcile(flows, []ledger.Event{btcTrade(0)}, time.UTC)
	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	assert.Len(t, result.Transactions[0].Flows, 2)

	_, err = Reconcile(flows, []ledger.Event{btcTrade(0)}, time.UTC, WithMaxTimeWindow(2*time.Second))
	assert.ErrorIs(t, err, ErrUnmatchableEvent)
}

func TestReconcile_MissingFundingFails(t *testing.T) {
	flows := []ledger.Flow{flow("USDT", "5", ledger.LabelBonus, 0)}
	events := []ledger.Event{ledger.Funding{Time: base, Asset: "USDT", Amount: ledger.MustDecimal("-1")}}

	result, err := Reconcile(flows, events, time.UTC)

	assert.Nil(t, result)
	assert.True(t, IsUnmatchable(err))
}

func TestReconcile_PairsInternalTransfers(t *testing.T) {
	flows := []ledger.Flow{
		flow("ETH", "-2", ledger.LabelInternalTransfer, 0),
		flow("ETH", "2", ledger.LabelInternalTransfer, 5*time.Second),
	}

	result, err := Reconcile(flows, nil, time.UTC)

	require.NoError(t, err)
	require.Len(t, result.Pairs, 1)
	assert.Empty(t, result.Reclassified)
	for _, tx := range result.Transactions {
		assert.NotEqual(t, ledger.EventStrategy, tx.Event.Type())
	}
}

func TestReconcile_LoneTransferBecomesStrategy(t *testing.T) {
	flows := []ledger.Flow{flow("ETH", "-2", ledger.LabelInternalTransfer, 0)}

	result, err := Reconcile(flows, nil, time.UTC)

	require.NoError(t, err)
	require.Len(t, result.Transactions, 1)
	tx := result.Transactions[0]
	strategy, ok := tx.Event.(ledger.Strategy)
	require.True(t, ok)
	assert.Equal(t, ledger.StrategyDeposit, strategy.Direction)
	assert.Equal(t, "2", strategy.Qty.String())

	require.Len(t, tx.Flows, 2)
	assert.Equal(t, ledger.LabelStrategyDeposit, tx.Flows[0].Label)
	assert.Equal(t, ledger.KindStrategy, tx.Flows[1].Kind)
	assert.Equal(t, "2", tx.Flows[1].Change.String())
	net := tx.Net("ETH")
	assert.True(t, net.IsZero())
}

func TestReconcile_Conservation(t *testing.T) {
	flows, events := mixedBatch()

	result, err := Reconcile(flows, events, time.UTC)

	require.NoError(t, err)
	assert.Equal(t, len(flows), countObserved(result.Transactions))
	// Trade 3, FutureTrade 2 and Funding 1 matched; the rest are left over.
	assert.Equal(t, len(flows)-6, result.Leftovers)
}

func TestReconcile_Deterministic(t *testing.T) {
	flows, events := mixedBatch()

	first, err := Reconcile(flows, events, time.UTC)
	require.NoError(t, err)
	second, err := Reconcile(flows, events, time.UTC)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestReconcile_MixedBatch(t *testing.T) {
	flows, events := mixedBatch()

	result, err := Reconcile(flows, events, time.UTC)
	require.NoError(t, err)

	var types []ledger.EventType
	for _, tx := range result.Transactions {
		types = append(types, tx.Event.Type())
	}
	assert.Equal(t, []ledger.EventType{
		ledger.EventTrade,
		ledger.EventOther,
		ledger.EventBonus,
		ledger.EventFutureTrade,
		ledger.EventInternalTransfer,
		ledger.EventInternalTransfer,
		ledger.EventStrategy,
		ledger.EventFunding,
	}, types)

	trade := result.Transactions[0]
	assert.Equal(t, "-50000", trade.Flows[1].Change.String())

	require.Len(t, result.Pairs, 1)
	assert.Equal(t, TransferPair{Withdrawal: 4, Deposit: 5, PairID: result.Pairs[0].PairID}, result.Pairs[0])
	assert.Equal(t, []int{6}, result.Reclassified)
	assert.Equal(t, 5, result.Leftovers)
}

func TestReconcile_AttachesTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	flows := []ledger.Flow{
		flow("BTC", "1", ledger.LabelTrade, 0),
		flow("USDT", "-50000", ledger.LabelTrade, 0),
		flow("USDT", "1", ledger.LabelBonus, time.Minute),
	}

	result, err := Reconcile(flows, []ledger.Event{btcTrade(0)}, loc)
	require.NoError(t, err)

	for _, tx := range result.Transactions {
		assert.Equal(t, loc, tx.Time().Location())
		for _, f := range tx.Flows {
			assert.Equal(t, loc, f.Time.Location())
		}
	}
	assert.Equal(t, base.Hour(), result.Transactions[0].Time().Hour())
	assert.Equal(t, base.Minute()+1, result.Transactions[1].Time().Minute())
}

func TestReconcile_RequiresTimezone(t *testing.T) {
	_, err := Reconcile(nil, nil, nil)

	assert.ErrorIs(t, err, ErrNoTimezone)
}

func TestReconcile_LocalTimezone(t *testing.T) {
	result, err := Reconcile([]ledger.Flow{flow("USDT", "1", ledger.LabelBonus, 0)}, nil, LocalTimezone())

	require.NoError(t, err)
	assert.Equal(t, time.Local, result.Transactions[0].Time().Location())
}

func TestReconcile_EmptyBatch(t *testing.T) {
	result, err := Reconcile(nil, nil, time.UTC)

	require.NoError(t, err)
	assert.Empty(t, result.Transactions)
	assert.Equal(t, 0, result.Leftovers)
}

func TestNew_ValidatesOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero window", []Option{WithMaxTimeWindow(0)}},
		{"zero transfer time", []Option{WithTransferMaxTime(0)}},
		{"zero transfer delta", []Option{WithTransferMaxDelta(ledger.MustDecimal("0"))}},
		{"negative transfer delta", []Option{WithTransferMaxDelta(ledger.MustDecimal("-1"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidOptions)
		})
	}
}

func TestNew_AppliesOptions(t *testing.T) {
	r, err := New(
		WithMaxTimeWindow(10*time.Minute),
		WithTransferMaxTime(time.Minute),
		WithTransferMaxDelta(ledger.MustDecimal("0.01")),
		WithLogger(zerolog.Nop()),
	)

	require.NoError(t, err)
	opts := r.Options()
	assert.Equal(t, 10*time.Minute, opts.MaxTimeWindow)
	assert.Equal(t, time.Minute, opts.TransferMaxTime)
	assert.Equal(t, "0.01", opts.TransferMaxDelta.String())
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	require.NoError(t, opts.Validate())
	assert.Equal(t, time.Hour, opts.MaxTimeWindow)
	assert.Equal(t, 15*time.Second, opts.TransferMaxTime)
	assert.Equal(t, "0.000001", opts.TransferMaxDelta.String())
}
