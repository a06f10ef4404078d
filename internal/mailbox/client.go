// Package mailbox talks to the hosted mailbox and directory service that
// queues envelopes for the agent and publishes its registration.
package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"linksummary/internal/protocol"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultUserAgent   = "linksummary-agent/1.0"
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxRetries  = 3
	defaultMinBackoff  = 250 * time.Millisecond
	defaultMaxBackoff  = 4 * time.Second
	maxErrorBodyBytes  = 1 << 20

	submitPath    = "/v1/submit"
	mailboxPath   = "/v1/mailbox"
	agentsPath    = "/v1/almanac/agents"
	manifestsPath = "/v1/almanac/manifests"
)

var (
	ErrUnauthorized = errors.New("mailbox: unauthorized (check mailbox key)")
	ErrForbidden    = errors.New("mailbox: forbidden")
)

// APIError is a non-2xx answer from the mailbox service.
type APIError struct {
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mailbox api error: %s (status = %d)", e.Message, e.Status)
	}

	return fmt.Sprintf("mailbox api error (status = %d)", e.Status)
}

// StoredEnvelope is an envelope waiting in the mailbox until it is acked.
type StoredEnvelope struct {
	UUID       string    `json:"uuid"`
	Envelope   Envelope  `json:"envelope"`
	ReceivedAt time.Time `json:"received_at"`
}

type manifestRequest struct {
	AgentAddress string            `json:"agent_address"`
	Manifest     protocol.Manifest `json:"manifest"`
}

type Client struct {
	baseURL    string
	apiKey     string
	ua         string
	http       *http.Client
	maxRetries int
	minBackoff time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.ua = ua }
}

// WithRetry configures retries for transport errors, 429 and 5xx answers.
func WithRetry(maxRetries int, minBackoff, maxBackoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if minBackoff > 0 {
			c.minBackoff = minBackoff
		}
		if maxBackoff >= c.minBackoff {
			c.maxBackoff = maxBackoff
		}
	}
}

func NewClient(baseURL string, apiKey string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		ua:         defaultUserAgent,
		http:       &http.Client{Timeout: defaultHTTPTimeout},
		maxRetries: defaultMaxRetries,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
		log:        log,
	}

	for _, o := range opts {
		o(c)
	}

	return c
}

// Endpoint is the mailbox address other agents deliver to.
func (c *Client) Endpoint() string {
	return c.baseURL + submitPath
}

func (c *Client) Submit(ctx context.Context, env *Envelope) error {
	if err := c.do(ctx, http.MethodPost, submitPath, env, nil); err != nil {
		return fmt.Errorf("submit envelope: %w", err)
	}

	return nil
}

func (c *Client) Poll(ctx context.Context) ([]StoredEnvelope, error) {
	var items []StoredEnvelope
	if err := c.do(ctx, http.MethodGet, mailboxPath, nil, &items); err != nil {
		return nil, fmt.Errorf("poll mailbox: %w", err)
	}

	return items, nil
}

func (c *Client) Ack(ctx context.Context, uuid string) error {
	uuid = strings.TrimSpace(uuid)
	if uuid == "" {
		return errors.New("envelope UUID is empty")
	}

	if err := c.do(ctx, http.MethodDelete, mailboxPath+"/"+url.PathEscape(uuid), nil, nil); err != nil {
		return fmt.Errorf("ack envelope (uuid = %s): %w", uuid, err)
	}

	return nil
}

func (c *Client) Register(ctx context.Context, reg Registration) error {
	if err := c.do(ctx, http.MethodPost, agentsPath, reg, nil); err != nil {
		return fmt.Errorf("register agent: %w", err)
	}

	return nil
}

func (c *Client) PublishManifest(ctx context.Context, agentAddress string, m protocol.Manifest) error {
	body := manifestRequest{AgentAddress: agentAddress, Manifest: m}
	if err := c.do(ctx, http.MethodPost, manifestsPath, body, nil); err != nil {
		return fmt.Errorf("publish manifest (protocol = %s): %w", m.Metadata.Name, err)
	}

	return nil
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	in any,
	out any,
) error {
	if c.apiKey == "" {
		return errors.New("mailbox key is empty")
	}

	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		retry, err := c.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}

		if !retry || attempt >= c.maxRetries {
			return err
		}

		delay := backoff(attempt, c.minBackoff, c.maxBackoff)
		var retryAfter retryAfterError
		if errors.As(err, &retryAfter) && retryAfter.delay > 0 {
			delay = retryAfter.delay
		}

		c.log.DebugContext(ctx, "Retrying mailbox request",
			"error", err,
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

type retryAfterError struct {
	delay time.Duration
	err   error
}

func (e retryAfterError) Error() string { return e.err.Error() }
func (e retryAfterError) Unwrap() error { return e.err }

func (c *Client) attempt(
	ctx context.Context,
	method string,
	path string,
	body []byte,
	out any,
) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.ua)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			c.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"method", method,
				"path", path)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return false, nil
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("decode response: %w", err)
	}

	return false, nil
}

func (c *Client) handleErrorResponse(resp *http.Response) (bool, error) {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	apiErr := &APIError{Status: resp.StatusCode}
	_ = json.Unmarshal(b, apiErr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return false, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return false, ErrForbidden
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		var delay time.Duration
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}

		return true, retryAfterError{delay: delay, err: apiErr}
	default:
		return false, apiErr
	}
}

func backoff(attempt int, minDelay, maxDelay time.Duration) time.Duration {
	d := minDelay * (1 << attempt)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}

	// +/- 20% jitter
	return time.Duration(float64(d) * (0.8 + 0.4*rand.Float64())) //nolint:gosec // Jitter only.
}
