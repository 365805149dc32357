package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/RyanLisse/vibex-sync/internal/engine"
)

// Retry and backoff constants for transport-level retries. These cover a
// single logical call; the offline queue's retry budget is a separate,
// coarser layer on top.
const (
	maxAttempts   = 3
	baseBackoff   = 500 * time.Millisecond
	maxBackoff    = 10 * time.Second
	maxBodyBytes  = 10 << 20 // 10 MiB response cap
	clientTimeout = 30 * time.Second
)

// Client talks JSON over HTTP to the remote sync service. It satisfies the
// engine's Accessor boundary: Query for reads, Execute for mutations.
// Network-class failures are retried with exponential backoff and jitter;
// validation-class failures are returned immediately.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a remote client. baseURL is the service root, without a
// trailing slash. Pass an http.Client carrying auth (e.g. an oauth2
// transport); nil gets a plain client with a sane timeout.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: clientTimeout}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// queryRequest is the wire shape for reads.
type queryRequest struct {
	Table  string         `json:"table"`
	Params map[string]any `json:"params,omitempty"`
}

type queryResponse struct {
	Rows []engine.Record `json:"rows"`
}

// executeRequest is the wire shape for mutations.
type executeRequest struct {
	Table string               `json:"table"`
	Op    engine.OperationType `json:"op"`
	Data  engine.Record        `json:"data"`
}

type executeResponse struct {
	Record engine.Record `json:"record"`
}

// Query fetches the rows of table matching params from the remote service.
func (c *Client) Query(ctx context.Context, table string, params map[string]any) ([]engine.Record, error) {
	var resp queryResponse

	err := c.post(ctx, "/v1/query", queryRequest{Table: table, Params: params}, &resp)
	if err != nil {
		return nil, fmt.Errorf("remote: query %s: %w", table, err)
	}

	return resp.Rows, nil
}

// Execute applies a mutation on the remote service and returns the stored
// record.
func (c *Client) Execute(ctx context.Context, table string, op engine.OperationType, data engine.Record) (engine.Record, error) {
	var resp executeResponse

	err := c.post(ctx, "/v1/execute", executeRequest{Table: table, Op: op, Data: data}, &resp)
	if err != nil {
		return nil, fmt.Errorf("remote: %s on %s: %w", op, table, err)
	}

	return resp.Record, nil
}

// Ping probes service reachability. Used by the connection monitor's
// reachability signal when the websocket feed is not in use.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/ping", nil)
	if err != nil {
		return fmt.Errorf("remote: building ping request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: ping: %w", err)
	}
	defer resp.Body.Close()

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return &Error{StatusCode: resp.StatusCode, Message: "ping failed", Err: sentinel}
	}

	return nil
}

// post sends one JSON request with transport-level retry for network-class
// failures, decoding the response body into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	backoff := retry.WithMaxRetries(maxAttempts-1, retry.WithJitterPercent(25,
		retry.WithCappedDuration(maxBackoff, retry.NewExponential(baseBackoff))))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.postOnce(ctx, path, payload, out)
		if err == nil {
			return nil
		}

		if IsRetryable(err) {
			c.logger.Debug("retrying remote call",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)

			return retry.RetryableError(err)
		}

		return err
	})
}

func (c *Client) postOnce(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
		return &Error{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(raw),
			Err:        sentinel,
		}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	return nil
}

// errorMessage extracts the error field from an API error body, falling back
// to the raw body.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}

	const maxMsgLen = 200
	if len(raw) > maxMsgLen {
		raw = raw[:maxMsgLen]
	}

	return string(raw)
}
