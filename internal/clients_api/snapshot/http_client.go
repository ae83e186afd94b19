package snapshot

// GraphQL client for the Snapshot hub.
// Transport layer: it sends queries and decodes responses; retry-then-fallback per holder
// lives in internal/features/votes.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	logging "holders-snapshot/internal/infra/log"
	"holders-snapshot/internal/infra/metrics"
	"holders-snapshot/internal/infra/retry"
)

const (
	DefaultHubURL  = "https://hub.snapshot.org/graphql"
	DefaultTimeout = 30 * time.Second
)

type Options struct {
	Timeout         time.Duration
	MaxRetries      int // retransmissions on 429/5xx/timeouts
	BreakerFailures int // consecutive failures before the breaker opens, 0 = no breaker
	Metrics         *metrics.Metrics
}

type Client struct {
	endpoint        string
	httpClient      *http.Client
	circuitBreaker  *gobreaker.CircuitBreaker
	retry           retry.Options
	maxResponseSize int64
	metrics         *metrics.Metrics
}

func NewClient(endpoint string, opts Options) *Client {
	if endpoint == "" {
		endpoint = DefaultHubURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	c := &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				Proxy:             http.ProxyFromEnvironment,
				DisableKeepAlives: false,
				MaxIdleConns:      4,
				IdleConnTimeout:   90 * time.Second,
			},
		},
		retry: retry.Options{
			MaxRetries: opts.MaxRetries,
			BaseDelay:  time.Second,
			MaxDelay:   15 * time.Second,
		},
		maxResponseSize: 4 * 1024 * 1024,
		metrics:         opts.Metrics,
	}

	if opts.BreakerFailures > 0 {
		failures := uint32(opts.BreakerFailures)
		c.circuitBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "SnapshotHub",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.LogWarn("Circuit breaker state changed", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// hasData reports whether the response carries a non-null data payload.
func (r *gqlResponse) hasData() bool {
	d := bytes.TrimSpace(r.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

func (r *gqlResponse) errorMessage() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// do sends one GraphQL operation. A returned error means no usable response body;
// a decoded response may still lack data.
func (c *Client) do(ctx context.Context, operation, query string, variables map[string]any) (*gqlResponse, error) {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var body []byte
	send := func() error {
		return retry.Do(ctx, c.retry, func() error {
			b, err := c.post(ctx, operation, payload)
			if err != nil {
				return err
			}
			body = b
			return nil
		})
	}

	if c.circuitBreaker != nil {
		_, err = c.circuitBreaker.Execute(func() (interface{}, error) {
			return nil, send()
		})
	} else {
		err = send()
	}
	if err != nil {
		c.metrics.ObserveHub(operation, "error")
		return nil, err
	}

	var resp gqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		c.metrics.ObserveHub(operation, "error")
		return nil, fmt.Errorf("failed to unmarshal %s response: %w", operation, err)
	}

	if resp.hasData() {
		c.metrics.ObserveHub(operation, "ok")
	} else {
		c.metrics.ObserveHub(operation, "no_data")
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	requestID := logging.GenerateRequestID()
	startTime := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	logging.LogRequest(requestID, http.MethodPost, operation)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.LogResponse(requestID, 0, time.Since(startTime).Milliseconds(), zap.String("endpoint", operation), zap.Error(err))
		return nil, fmt.Errorf("failed to perform request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
	if err != nil {
		logging.LogResponse(requestID, resp.StatusCode, time.Since(startTime).Milliseconds(), zap.String("endpoint", operation), zap.Error(err))
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxResponseSize {
		return nil, errors.New("response exceeds size limit")
	}

	logging.LogResponse(requestID, resp.StatusCode, time.Since(startTime).Milliseconds(), zap.String("endpoint", operation))
	logging.LogJSON(body, operation+" response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &retry.HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
			RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return body, nil
}
