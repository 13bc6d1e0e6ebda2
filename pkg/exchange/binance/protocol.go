package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"resty.dev/v3"

	"nakula/pkg/core"
)

const (
	ProductionURL = "https://fapi.binance.com"
	SandboxURL    = "https://testnet.binancefuture.com"

	maxPageLimit = 1000

	// Binance rejects account trade windows longer than seven days.
	maxQuerySpan = 7 * 24 * time.Hour
)

// Protocol implements the core.Protocol interface for the USDⓈ-M futures statement endpoints.
type Protocol struct {
	recvWindow time.Duration
	now        func() time.Time
}

// NewProtocol creates a Binance protocol that signs requests valid for recvWindow.
func NewProtocol(recvWindow time.Duration) *Protocol {
	if recvWindow <= 0 {
		recvWindow = 5 * time.Second
	}
	return &Protocol{
		recvWindow: recvWindow,
		now:        time.Now,
	}
}

// Name returns the protocol identifier "binance".
func (p *Protocol) Name() string {
	return "binance"
}

// Version returns the futures API version.
func (p *Protocol) Version() string {
	return "1"
}

// BaseURL returns the futures testnet in sandbox mode and production otherwise.
func (p *Protocol) BaseURL(sandbox bool) string {
	if sandbox {
		return SandboxURL
	}
	return ProductionURL
}

// SupportedOperations returns the statement queries the futures API offers.
// Wallet transfers live on the spot API and are not read here.
func (p *Protocol) SupportedOperations() []core.Operation {
	return []core.Operation{
		core.OpGetLedger,
		core.OpGetExecutions,
	}
}

func (p *Protocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{
		RequestsPerSecond: 40,
		Burst:             100,
		Buckets: map[string]int{
			"income": 2,
			"trades": 10,
		},
	}
}

// BuildRequest constructs the signed GET request for a statement query.
// Recognized params: start and end (time.Time), limit, cursor, symbol, incomeType.
// The cursor is a millisecond timestamp that replaces start.
func (p *Protocol) BuildRequest(ctx context.Context, op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetLedger:
		req := core.NewRequest(http.MethodGet, "/fapi/v1/income")
		if symbol := params.String("symbol", ""); symbol != "" {
			req.SetQuery("symbol", formatSymbol(symbol))
		}
		if incomeType := params.String("incomeType", ""); incomeType != "" {
			req.SetQuery("incomeType", incomeType)
		}
		if err := setWindow(req, params); err != nil {
			return nil, err
		}
		req.SetQuery("limit", strconv.Itoa(pageLimit(params)))
		req.SetWeight(30)
		req.SetBucket("income")
		req.SetRequireAuth(true)
		return req, nil

	case core.OpGetExecutions:
		symbol, err := params.Required("symbol")
		if err != nil {
			return nil, err
		}
		req := core.NewRequest(http.MethodGet, "/fapi/v1/userTrades")
		req.SetQuery("symbol", formatSymbol(symbol))
		if err := setWindow(req, params); err != nil {
			return nil, err
		}
		req.SetQuery("limit", strconv.Itoa(pageLimit(params)))
		req.SetWeight(5)
		req.SetBucket("trades")
		req.SetRequireAuth(true)
		return req, nil

	default:
		return nil, core.NewExchangeError(p.Name(), core.ErrorTypeUnsupported, 0,
			fmt.Sprintf("unsupported operation: %s", op)).WithCode(core.ErrCodeUnsupported)
	}
}

// setWindow converts the half-open [start, end) window into Binance's inclusive bounds.
func setWindow(req *core.Request, params core.Params) error {
	start, _ := params.Time("start")
	if cursor := params.String("cursor", ""); cursor != "" {
		ms, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		start = time.UnixMilli(ms)
	}
	end, ok := params.Time("end")
	if ok {
		end = end.Add(-time.Millisecond)
	}
	req.SetTimeRange("startTime", "endTime", start, end)
	return nil
}

func pageLimit(params core.Params) int {
	limit := params.Int("limit", maxPageLimit)
	if limit <= 0 || limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

// ParseResponse decodes a statement page. A full page yields the time of its last
// record as the next cursor, so that record's millisecond is read again; callers
// drop the repeats by record ID.
func (p *Protocol) ParseResponse(op core.Operation, resp *resty.Response) (*core.Page, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}

	if resp.IsError() {
		var binanceErr binanceAPIError
		if err := sonic.Unmarshal(resp.Bytes(), &binanceErr); err == nil && binanceErr.Code != 0 {
			return nil, core.NewExchangeErrorWithCode(
				p.Name(),
				mapBinanceErrorCode(binanceErr.Code, resp.StatusCode()),
				resp.StatusCode(),
				strconv.Itoa(binanceErr.Code),
				binanceErr.Msg,
			)
		}
		return nil, core.NewExchangeError(
			p.Name(),
			core.ErrorTypeForStatus(resp.StatusCode()),
			resp.StatusCode(),
			fmt.Sprintf("HTTP error: %s", resp.Status()),
		)
	}

	n := NewNormalizer()
	body := resp.Bytes()
	limit := requestedLimit(resp.Request.QueryParams)

	switch op {
	case core.OpGetLedger:
		var data []binanceIncome
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, core.NewMalformedError(p.Name(), fmt.Errorf("unmarshal income: %w", err))
		}
		flows, err := n.NormalizeIncomes(data)
		if err != nil {
			return nil, err
		}
		page := &core.Page{Flows: flows}
		if len(data) > 0 && len(data) >= limit {
			page.NextCursor = strconv.FormatInt(data[len(data)-1].Time, 10)
		}
		return page, nil

	case core.OpGetExecutions:
		var data []binanceUserTrade
		if err := sonic.Unmarshal(body, &data); err != nil {
			return nil, core.NewMalformedError(p.Name(), fmt.Errorf("unmarshal user trades: %w", err))
		}
		events, err := n.NormalizeUserTrades(data)
		if err != nil {
			return nil, err
		}
		page := &core.Page{Events: events}
		if len(data) > 0 && len(data) >= limit {
			page.NextCursor = strconv.FormatInt(data[len(data)-1].Time, 10)
		}
		return page, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

func requestedLimit(q url.Values) int {
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		return limit
	}
	return maxPageLimit
}

// SignRequest adds timestamp and recvWindow to the query, then the HMAC-SHA256
// signature of the encoded query.
func (p *Protocol) SignRequest(req *resty.Request, creds core.Credentials) error {
	if creds.APIKey == "" || creds.SecretKey == "" {
		return core.ErrNoCredentials
	}

	if req.QueryParams == nil {
		req.QueryParams = url.Values{}
	}
	req.SetQueryParam("timestamp", strconv.FormatInt(p.now().UnixMilli(), 10))
	req.SetQueryParam("recvWindow", strconv.FormatInt(p.recvWindow.Milliseconds(), 10))
	req.SetQueryParam("signature", signHMAC(req.QueryParams.Encode(), creds.SecretKey))
	req.SetHeader("X-MBX-APIKEY", creds.APIKey)

	return nil
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func mapBinanceErrorCode(code, status int) core.ErrorType {
	switch code {
	case -1003, -1015:
		return core.ErrorTypeRateLimit
	case -1002, -1022, -2014, -2015:
		return core.ErrorTypeAuthentication
	case -1007:
		return core.ErrorTypeTimeout
	case -1000, -1001, -1006:
		return core.ErrorTypeServerError
	case -1021:
		return core.ErrorTypeBadRequest
	default:
		if code <= -1100 && code > -1200 {
			return core.ErrorTypeBadRequest
		}
		if code <= -4000 && code > -5000 {
			return core.ErrorTypeBadRequest
		}
		return core.ErrorTypeForStatus(status)
	}
}
