package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"resty.dev/v3"

	"nakula/pkg/core"
)

const (
	ProductionURL = "https://api.bybit.com"
	SandboxURL    = "https://api-testnet.bybit.com"

	// Maximum page sizes accepted by each endpoint.
	ledgerPageLimit    = 50
	executionPageLimit = 100
	transferPageLimit  = 50

	// Bybit rejects statement windows longer than seven days.
	maxQuerySpan = 7 * 24 * time.Hour

	unifiedAccount = "UNIFIED"
)

// Protocol implements the core.Protocol interface for the Bybit v5 statement endpoints.
type Protocol struct {
	recvWindow time.Duration
	now        func() time.Time
}

// NewProtocol creates a Bybit protocol that signs requests valid for recvWindow.
func NewProtocol(recvWindow time.Duration) *Protocol {
	if recvWindow <= 0 {
		recvWindow = 5 * time.Second
	}
	return &Protocol{
		recvWindow: recvWindow,
		now:        time.Now,
	}
}

// Name returns the protocol identifier "bybit".
func (p *Protocol) Name() string {
	return "bybit"
}

// Version returns the Bybit API version string.
func (p *Protocol) Version() string {
	return "5"
}

// BaseURL returns the testnet URL in sandbox mode and the production URL otherwise.
func (p *Protocol) BaseURL(sandbox bool) string {
	if sandbox {
		return SandboxURL
	}
	return ProductionURL
}

func (p *Protocol) SupportedOperations() []core.Operation {
	return []core.Operation{
		core.OpGetLedger,
		core.OpGetExecutions,
		core.OpGetTransfers,
	}
}

// RateLimits returns the per-UID limits Bybit documents for the statement endpoints.
func (p *Protocol) RateLimits() core.RateLimitConfig {
	return core.RateLimitConfig{
		RequestsPerSecond: 20,
		Burst:             50,
		Buckets: map[string]int{
			"ledger":    10,
			"execution": 10,
			"transfer":  5,
		},
	}
}

// BuildRequest constructs the signed GET request for a statement query.
// Recognized params: start and end (time.Time), limit, cursor, category, symbol, accountType.
func (p *Protocol) BuildRequest(ctx context.Context, op core.Operation, params core.Params) (*core.Request, error) {
	switch op {
	case core.OpGetLedger:
		return p.buildLedgerRequest(params), nil
	case core.OpGetExecutions:
		return p.buildExecutionsRequest(params)
	case core.OpGetTransfers:
		return p.buildTransfersRequest(params), nil
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

func (p *Protocol) buildLedgerRequest(params core.Params) *core.Request {
	req := core.NewRequest(http.MethodGet, "/v5/account/transaction-log")
	req.SetQuery("accountType", params.String("accountType", unifiedAccount))
	req.SetQuery("limit", strconv.Itoa(pageLimit(params, ledgerPageLimit)))
	if category := params.String("category", ""); category != "" {
		req.SetQuery("category", category)
	}
	setWindow(req, params)
	req.SetCursor("cursor", params.String("cursor", ""))
	req.SetBucket("ledger")
	req.SetRequireAuth(true)
	return req
}

func (p *Protocol) buildExecutionsRequest(params core.Params) (*core.Request, error) {
	category, err := params.Required("category")
	if err != nil {
		return nil, err
	}

	req := core.NewRequest(http.MethodGet, "/v5/execution/list")
	req.SetQuery("category", category)
	req.SetQuery("limit", strconv.Itoa(pageLimit(params, executionPageLimit)))
	if symbol := params.String("symbol", ""); symbol != "" {
		req.SetQuery("symbol", formatSymbol(symbol))
	}
	setWindow(req, params)
	req.SetCursor("cursor", params.String("cursor", ""))
	req.SetBucket("execution")
	req.SetRequireAuth(true)
	return req, nil
}

func (p *Protocol) buildTransfersRequest(params core.Params) *core.Request {
	req := core.NewRequest(http.MethodGet, "/v5/asset/transfer/query-inter-transfer-list")
	req.SetQuery("limit", strconv.Itoa(pageLimit(params, transferPageLimit)))
	req.SetQuery("status", "SUCCESS")
	setWindow(req, params)
	req.SetCursor("cursor", params.String("cursor", ""))
	req.SetBucket("transfer")
	req.SetRequireAuth(true)
	return req
}

// setWindow converts the half-open [start, end) window into Bybit's inclusive bounds.
func setWindow(req *core.Request, params core.Params) {
	start, _ := params.Time("start")
	end, ok := params.Time("end")
	if ok {
		end = end.Add(-time.Millisecond)
	}
	req.SetTimeRange("startTime", "endTime", start, end)
}

func pageLimit(params core.Params, maxLimit int) int {
	limit := params.Int("limit", maxLimit)
	if limit <= 0 || limit > maxLimit {
		return maxLimit
	}
	return limit
}

// ParseResponse decodes the v5 envelope and normalizes the page it carries, oldest row first.
// A non-zero retCode is reported as *core.ExchangeError even on HTTP 200.
func (p *Protocol) ParseResponse(op core.Operation, resp *resty.Response) (*core.Page, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil response")
	}

	n := NewNormalizer()

	switch op {
	case core.OpGetLedger:
		result, err := decode[bybitList[bybitTransactionLog]](p.Name(), resp)
		if err != nil {
			return nil, err
		}
		slices.Reverse(result.List)
		flows, err := n.NormalizeTransactionLogs(result.List)
		if err != nil {
			return nil, err
		}
		return &core.Page{Flows: flows, NextCursor: result.NextPageCursor}, nil

	case core.OpGetExecutions:
		result, err := decode[bybitList[bybitExecution]](p.Name(), resp)
		if err != nil {
			return nil, err
		}
		category := result.Category
		if category == "" {
			category = resp.Request.QueryParams.Get("category")
		}
		slices.Reverse(result.List)
		events, err := n.NormalizeExecutions(category, result.List)
		if err != nil {
			return nil, err
		}
		return &core.Page{Events: events, NextCursor: result.NextPageCursor}, nil

	case core.OpGetTransfers:
		result, err := decode[bybitList[bybitTransfer]](p.Name(), resp)
		if err != nil {
			return nil, err
		}
		slices.Reverse(result.List)
		events, err := n.NormalizeTransfers(unifiedAccount, result.List)
		if err != nil {
			return nil, err
		}
		return &core.Page{Events: events, NextCursor: result.NextPageCursor}, nil

	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}

func decode[T any](venue string, resp *resty.Response) (T, error) {
	var env bybitEnvelope[T]
	if err := sonic.Unmarshal(resp.Bytes(), &env); err != nil {
		var zero T
		if resp.IsError() {
			return zero, core.NewExchangeError(
				venue,
				core.ErrorTypeForStatus(resp.StatusCode()),
				resp.StatusCode(),
				fmt.Sprintf("HTTP error: %s", resp.Status()),
			)
		}
		return zero, core.NewMalformedError(venue, fmt.Errorf("unmarshal response: %w", err))
	}

	if env.RetCode != 0 {
		return env.Result, core.NewExchangeErrorWithCode(
			venue,
			mapBybitErrorCode(env.RetCode),
			resp.StatusCode(),
			strconv.Itoa(env.RetCode),
			env.RetMsg,
		)
	}
	if resp.IsError() {
		return env.Result, core.NewExchangeError(
			venue,
			core.ErrorTypeForStatus(resp.StatusCode()),
			resp.StatusCode(),
			fmt.Sprintf("HTTP error: %s", resp.Status()),
		)
	}
	return env.Result, nil
}

// SignRequest applies the v5 header signature. The signed payload is
// timestamp + api key + recv window + the encoded query string, so every
// query parameter must be set before signing.
func (p *Protocol) SignRequest(req *resty.Request, creds core.Credentials) error {
	if creds.APIKey == "" || creds.SecretKey == "" {
		return core.ErrNoCredentials
	}

	ts := strconv.FormatInt(p.now().UnixMilli(), 10)
	recvWindow := strconv.FormatInt(p.recvWindow.Milliseconds(), 10)
	payload := ts + creds.APIKey + recvWindow + req.QueryParams.Encode()

	req.SetHeaders(map[string]string{
		"X-BAPI-API-KEY":     creds.APIKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": recvWindow,
		"X-BAPI-SIGN":        signHMAC(payload, creds.SecretKey),
	})

	return nil
}

func signHMAC(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

type bybitList[T any] struct {
	Category       string `json:"category"`
	List           []T    `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

func mapBybitErrorCode(code int) core.ErrorType {
	switch code {
	case 10001, 10002:
		return core.ErrorTypeBadRequest
	case 10003, 10004, 10005, 10007, 10009, 10010, 33004:
		return core.ErrorTypeAuthentication
	case 10006, 10018:
		return core.ErrorTypeRateLimit
	case 10016:
		return core.ErrorTypeServerError
	case 10000:
		return core.ErrorTypeTimeout
	default:
		if code >= 10000 && code < 11000 {
			return core.ErrorTypeBadRequest
		}
		return core.ErrorTypeUnknown
	}
}
