package ethrpc

// JSON-RPC 2.0 client for an Ethereum node.
// Transport layer only: it paces, numbers, sends and decodes calls, and knows nothing
// about ledgers or chunks.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	logging "holders-snapshot/internal/infra/log"
	"holders-snapshot/internal/infra/metrics"
	"holders-snapshot/internal/infra/pacing"
	"holders-snapshot/internal/infra/retry"
)

const (
	DefaultTimeout       = 30 * time.Second
	DefaultThrottleEvery = 3
	DefaultThrottleDelay = time.Second
)

type Options struct {
	Timeout       time.Duration // per HTTP attempt
	ThrottleEvery int           // pause before every Nth call
	ThrottleDelay time.Duration
	MaxRetries    int     // retransmissions on 429/5xx/timeouts, same call id
	MaxRPS        float64 // optional hard ceiling, 0 = none
	Clock         pacing.Clock
	Metrics       *metrics.Metrics
}

// Client is not safe for concurrent use: the request id and the pacer are plain
// counters owned by the single loop that drives it.
type Client struct {
	endpoint        string
	host            string
	httpClient      *http.Client
	pacer           *pacing.Pacer
	rateLimiter     *rate.Limiter
	retry           retry.Options
	maxResponseSize int64
	metrics         *metrics.Metrics
	lastID          uint64
}

func NewClient(endpoint string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	host := endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		host = u.Host
	}

	c := &Client{
		endpoint: endpoint,
		host:     host,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: false,
				MaxIdleConns:      4,
				IdleConnTimeout:   90 * time.Second,
			},
		},
		pacer: pacing.New(opts.ThrottleEvery, opts.ThrottleDelay, opts.Clock),
		retry: retry.Options{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   10 * time.Second,
		},
		maxResponseSize: 64 * 1024 * 1024,
		metrics:         opts.Metrics,
	}

	if opts.MaxRPS > 0 {
		c.rateLimiter = rate.NewLimiter(rate.Limit(opts.MaxRPS), 1)
	}

	c.pacer.OnPause = func(tick uint64, d time.Duration) {
		logging.LogInfo("Waiting to avoid rate limiting", zap.Uint64("request", tick), zap.Duration("delay", d))
		c.metrics.ObservePause("rpc")
	}
	return c
}

// Requests is the number of calls issued so far (also the last id used).
func (c *Client) Requests() uint64 { return c.lastID }

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Call issues one JSON-RPC call and decodes its result into result (which may be nil).
// Returns *RPCError for node-reported errors, *TransportError for everything else,
// or the context error when ctx ends while waiting.
func (c *Client) Call(ctx context.Context, method string, result any, params ...any) error {
	if _, err := c.pacer.Tick(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limiter wait failed: %w", method, err)
		}
	}

	c.lastID++
	id := c.lastID

	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return &TransportError{Method: method, Endpoint: c.host, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	startTime := time.Now()
	var body []byte
	err = retry.Do(ctx, c.retry, func() error {
		b, err := c.post(ctx, id, method, payload)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", method, ctx.Err())
		}
		c.metrics.ObserveRPC(method, "transport_error", duration)
		return &TransportError{Method: method, Endpoint: c.host, Err: err}
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.ObserveRPC(method, "transport_error", duration)
		return &TransportError{Method: method, Endpoint: c.host, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	if resp.Error != nil {
		resp.Error.Method = method
		c.metrics.ObserveRPC(method, "rpc_error", duration)
		return resp.Error
	}

	if err := matchID(resp.ID, id); err != nil {
		c.metrics.ObserveRPC(method, "transport_error", duration)
		return &TransportError{Method: method, Endpoint: c.host, Err: err}
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		c.metrics.ObserveRPC(method, "transport_error", duration)
		return &TransportError{Method: method, Endpoint: c.host, Err: errors.New("response has neither result nor error")}
	}

	c.metrics.ObserveRPC(method, "ok", duration)

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return &TransportError{Method: method, Endpoint: c.host, Err: fmt.Errorf("failed to unmarshal result: %w", err)}
	}
	return nil
}

// matchID checks that a response answers the call it was read for.
func matchID(raw json.RawMessage, want uint64) error {
	var got uint64
	if len(raw) == 0 || json.Unmarshal(raw, &got) != nil || got != want {
		return fmt.Errorf("response id %s does not match request id %d", string(raw), want)
	}
	return nil
}

func (c *Client) post(ctx context.Context, id uint64, method string, payload []byte) ([]byte, error) {
	requestID := fmt.Sprintf("rpc-%d", id)
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logging.LogRequest(requestID, method, c.host)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", c.host), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		logging.LogResponse(requestID, resp.StatusCode, time.Since(startTime).Milliseconds(), zap.String("endpoint", c.host), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, errors.New("response exceeds size limit")
	}

	logging.LogResponse(requestID, resp.StatusCode, time.Since(startTime).Milliseconds(), zap.String("endpoint", c.host))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// body is kept so a node's explanation ends up in the skipped-chunk warning
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}
