package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"instrumentation-backend/internal/metrics"
)

// Client sends one request envelope and returns the service's response.
// Each call is attempted exactly once.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// TransportError reports a failed round-trip: network failure, service
// outage, or a response that could not be used. The round may be retried by
// the user with the same state.
type TransportError struct {
	Action Action
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("generation %s failed: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var terr *TransportError
	return errors.As(err, &terr)
}

// NewRequestID returns a fresh, sortable request id.
func NewRequestID() string {
	return ulid.Make().String()
}

type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	logger   *zap.Logger
}

// NewHTTPClient targets {baseURL}/orchestrate.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/orchestrate",
		apiKey:   apiKey,
		logger:   logger,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				ForceAttemptHTTP2:     true,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		},
	}
}

func (c *HTTPClient) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, &TransportError{Action: req.Action, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, &TransportError{Action: req.Action, Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", req.RequestID)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, &TransportError{Action: req.Action, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("generation service returned non-2xx",
			zap.String("action", string(req.Action)),
			zap.String("request_id", req.RequestID),
			zap.Int("status", resp.StatusCode),
			zap.String("body", strings.TrimSpace(string(body))),
		)
		return Response{}, &TransportError{Action: req.Action, Err: fmt.Errorf("status %s", resp.Status)}
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Response{}, &TransportError{Action: req.Action, Err: fmt.Errorf("decode response: %w", err)}
	}
	return decoded, nil
}

// Instrument wraps a client so that every round-trip is counted and timed.
func Instrument(next Client, m *metrics.Metrics) Client {
	if m == nil {
		return next
	}
	return &instrumentedClient{next: next, metrics: m}
}

type instrumentedClient struct {
	next    Client
	metrics *metrics.Metrics
}

func (c *instrumentedClient) Generate(ctx context.Context, req Request) (Response, error) {
	started := time.Now()
	resp, err := c.next.Generate(ctx, req)
	c.metrics.ObserveGeneration(string(req.Action), started, err)
	return resp, err
}
