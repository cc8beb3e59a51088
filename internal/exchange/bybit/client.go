// Package bybit implements the exchange contract against the Bybit v5 spot
// API.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signal-trader/internal/exchange"
)

// Default configuration values.
const (
	MainnetBaseURL = "https://api.bybit.com"
	TestnetBaseURL = "https://api-testnet.bybit.com"

	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0

	recvWindow = "5000"
	category   = "spot"
)

// Bybit retCodes treated as transient.
var transientRetCodes = map[int]bool{
	10002: true, // request timestamp outside recv window
	10006: true, // rate limit exceeded
	10016: true, // internal server error
}

// Client is a Bybit v5 spot REST client.
type Client struct {
	baseURL     string
	apiKey      string
	apiSecret   string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64

	// lot size precision per symbol, filled lazily from instruments-info
	precisionMu sync.Mutex
	precision   map[string]int32
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL (testnet, mocks).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for read requests.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a new Bybit client.
func NewClient(apiKey, apiSecret string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     MainnetBaseURL,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		precision:   make(map[string]int32),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiResponse is the Bybit v5 response envelope.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign computes the v5 request signature over
// timestamp + api key + recv window + payload.
func (c *Client) sign(payload string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// get performs a signed GET with retry on transient failures. Only reads are
// retried internally: replaying an order submission could double-execute, so
// writes surface transient errors to the caller instead.
func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values, result any) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return exchange.Transient(op, ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		err := c.do(ctx, op, http.MethodGet, endpoint, params, nil, result)
		if err == nil {
			return nil
		}
		if !exchange.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// post performs a signed POST without internal retries.
func (c *Client) post(ctx context.Context, op, endpoint string, body any, result any) error {
	return c.do(ctx, op, http.MethodPost, endpoint, nil, body, result)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, params url.Values, body any, result any) error {
	timestamp := time.Now().UnixMilli()

	var payload string
	var reqBody io.Reader
	reqURL := c.baseURL + endpoint

	if method == http.MethodGet {
		payload = params.Encode()
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		payload = string(data)
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-BAPI-API-KEY", c.apiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
	req.Header.Set("X-BAPI-SIGN", c.sign(payload, timestamp))

	resp, err := c.client.Do(req)
	if err != nil {
		return exchange.Transient(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return exchange.Transient(op, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return exchange.Transient(op, fmt.Errorf("http status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return exchange.Rejected(op, fmt.Sprintf("http status %d: %s", resp.StatusCode, data))
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return exchange.Transient(op, fmt.Errorf("decode response: %w", err))
	}
	if envelope.RetCode != 0 {
		if transientRetCodes[envelope.RetCode] {
			return exchange.Transient(op, fmt.Errorf("retCode %d: %s", envelope.RetCode, envelope.RetMsg))
		}
		return exchange.Rejected(op, fmt.Sprintf("retCode %d: %s", envelope.RetCode, envelope.RetMsg))
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return exchange.Transient(op, fmt.Errorf("decode result: %w", err))
		}
	}
	return nil
}

// lotPrecision returns the number of decimal places allowed for base
// quantities of symbol, fetching and caching instruments-info on first use.
func (c *Client) lotPrecision(ctx context.Context, symbol string) (int32, error) {
	c.precisionMu.Lock()
	p, ok := c.precision[symbol]
	c.precisionMu.Unlock()
	if ok {
		return p, nil
	}

	var result struct {
		List []struct {
			LotSizeFilter struct {
				BasePrecision string `json:"basePrecision"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}
	params := url.Values{"category": {category}, "symbol": {symbol}}
	if err := c.get(ctx, "instrument info", "/v5/market/instruments-info", params, &result); err != nil {
		return 0, err
	}
	if len(result.List) == 0 {
		return 0, exchange.Rejected("instrument info", fmt.Sprintf("unknown symbol %s", symbol))
	}

	step, err := decimal.NewFromString(result.List[0].LotSizeFilter.BasePrecision)
	if err != nil {
		return 0, exchange.Rejected("instrument info", fmt.Sprintf("bad base precision %q", result.List[0].LotSizeFilter.BasePrecision))
	}
	p = -step.Exponent()

	c.precisionMu.Lock()
	c.precision[symbol] = p
	c.precisionMu.Unlock()
	return p, nil
}
