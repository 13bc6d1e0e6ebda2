package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nakula/internal/keyring"
	"nakula/pkg/core"
	"nakula/pkg/exchange"
	"nakula/pkg/ledger"
)

func testConfig(baseURL string) *core.Config {
	config := core.DefaultConfig("binance").
		WithBaseURL(baseURL).
		WithCredentials(&core.Credentials{APIKey: "key", SecretKey: "secret"})
	config.MaxRetries = 0
	return config
}

func newTestSource(t *testing.T, mux *http.ServeMux) *Source {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src, err := New(testConfig(srv.URL))
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })
	return src
}

func signed(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		assert.Len(t, r.URL.Query().Get("signature"), 64)
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *core.Config
		opts    []Option
		wantErr bool
	}{
		{"nil config", nil, nil, true},
		{"invalid config", &core.Config{Exchange: "binance"}, nil, true},
		{"production", core.DefaultConfig("binance"), nil, false},
		{"sandbox", core.DefaultConfig("binance").WithSandbox(true), nil, false},
		{
			"with key ring and logger",
			core.DefaultConfig("binance"),
			[]Option{
				WithKeyRing(keyring.NewKeyRing([]*keyring.APIKey{{ID: "test", Key: "test-key", Secret: "test-secret"}}, keyring.RotationOnError)),
				WithLogger(zerolog.Nop()),
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := New(tt.config, tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "binance", src.Name())
			assert.NoError(t, src.Close())
		})
	}
}

func TestRegister(t *testing.T) {
	container := exchange.NewContainer()

	require.NoError(t, Register(container, core.DefaultConfig("binance")))

	assert.True(t, container.Exists("binance"))
	assert.NoError(t, container.Close())
}

func TestSource_Flows_TimeCursor(t *testing.T) {
	var starts []string
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/income", signed(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("limit"))
		assert.Equal(t, "1709254799999", q.Get("endTime"))
		starts = append(starts, q.Get("startTime"))

		switch q.Get("startTime") {
		case "1709251200000":
			_, _ = w.Write([]byte(`[
				{"symbol":"BTCUSDT","incomeType":"COMMISSION","income":"-0.3","asset":"USDT","time":1709251300000,"tranId":1},
				{"symbol":"BTCUSDT","incomeType":"REALIZED_PNL","income":"4","asset":"USDT","time":1709252000000,"tranId":2}
			]`))
		case "1709252000000":
			_, _ = w.Write([]byte(`[
				{"symbol":"BTCUSDT","incomeType":"REALIZED_PNL","income":"4","asset":"USDT","time":1709252000000,"tranId":2},
				{"symbol":"BTCUSDT","incomeType":"FUNDING_FEE","income":"-1.2","asset":"USDT","time":1709253000000,"tranId":3}
			]`))
		case "1709253000000":
			_, _ = w.Write([]byte(`[
				{"symbol":"BTCUSDT","incomeType":"FUNDING_FEE","income":"-1.2","asset":"USDT","time":1709253000000,"tranId":3}
			]`))
		default:
			t.Errorf("unexpected startTime %q", q.Get("startTime"))
		}
	}))
	src := newTestSource(t, mux)

	flows, err := src.Flows(context.Background(), t0, t0.Add(time.Hour), exchange.WithLimit(2))

	require.NoError(t, err)
	assert.Equal(t, []string{"1709251200000", "1709252000000", "1709253000000"}, starts)
	var labels []ledger.Label
	for _, f := range flows {
		labels = append(labels, f.Label)
	}
	assert.Equal(t, []ledger.Label{ledger.LabelFee, ledger.LabelSettlement, ledger.LabelFunding}, labels)
}

func TestSource_Flows_SplitsLongWindows(t *testing.T) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/income", signed(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`[]`))
	}))
	src := newTestSource(t, mux)

	flows, err := src.Flows(context.Background(), t0, t0.Add(10*24*time.Hour))

	require.NoError(t, err)
	assert.Empty(t, flows)
	assert.Equal(t, int32(2), hits.Load())
}

func TestSource_Flows_Errors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/income", signed(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
	}))
	src := newTestSource(t, mux)

	_, err := src.Flows(context.Background(), t0, t0.Add(time.Hour))
	assert.True(t, core.IsAuthenticationError(err))
	assert.ErrorContains(t, err, "get ledger")

	_, err = src.Flows(context.Background(), t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, core.ErrInvalidRange)
}

func TestSource_Events_DiscoversSymbols(t *testing.T) {
	var traded []string
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/income", signed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "COMMISSION", r.URL.Query().Get("incomeType"))
		_, _ = w.Write([]byte(`[
			{"symbol":"ETHUSDT","incomeType":"COMMISSION","income":"-0.1","asset":"USDT","time":1709251300000,"tranId":1},
			{"symbol":"BTCUSDT","incomeType":"COMMISSION","income":"-0.3","asset":"USDT","time":1709251400000,"tranId":2},
			{"symbol":"ETHUSDT","incomeType":"COMMISSION","income":"-0.1","asset":"USDT","time":1709251500000,"tranId":3}
		]`))
	}))
	mux.HandleFunc("/fapi/v1/userTrades", signed(t, func(w http.ResponseWriter, r *http.Request) {
		symbol := r.URL.Query().Get("symbol")
		traded = append(traded, symbol)
		switch symbol {
		case "BTCUSDT":
			_, _ = w.Write([]byte(`[{"symbol":"BTCUSDT","id":20,"side":"SELL","price":"61000","qty":"0.01","realizedPnl":"0",
				"commission":"0.3","commissionAsset":"USDT","time":1709251400000}]`))
		case "ETHUSDT":
			_, _ = w.Write([]byte(`[
				{"symbol":"ETHUSDT","id":10,"side":"BUY","price":"3000","qty":"0.1","realizedPnl":"0","commission":"0.1","commissionAsset":"USDT","time":1709251300000},
				{"symbol":"ETHUSDT","id":11,"side":"BUY","price":"3001","qty":"0.1","realizedPnl":"0","commission":"0.1","commissionAsset":"USDT","time":1709251500000}
			]`))
		}
	}))
	src := newTestSource(t, mux)

	events, err := src.Events(context.Background(), t0, t0.Add(time.Hour))

	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, traded)
	var ids []string
	for _, e := range events {
		ids = append(ids, e.(ledger.FutureTrade).ID)
	}
	assert.Equal(t, []string{"10", "20", "11"}, ids)
}

func TestSource_Events_ExplicitSymbols(t *testing.T) {
	var traded []string
	mux := http.NewServeMux()
	mux.HandleFunc("/fapi/v1/income", func(http.ResponseWriter, *http.Request) {
		t.Error("symbols given, discovery not expected")
	})
	mux.HandleFunc("/fapi/v1/userTrades", signed(t, func(w http.ResponseWriter, r *http.Request) {
		traded = append(traded, r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`[]`))
	}))
	src := newTestSource(t, mux)

	events, err := src.Events(context.Background(), t0, t0.Add(time.Hour), exchange.WithSymbols("SOL/USDT"))

	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []string{"SOLUSDT"}, traded)
}
