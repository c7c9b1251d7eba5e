// Package client talks to the relay: it posts a conversation to /chat and
// reassembles the streamed reply.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tokligence/chatrelay/internal/ledger"
)

var (
	// ErrFragmentParse marks a single event payload that could not be decoded.
	// It is logged and the fragment skipped; Exchange never returns it.
	ErrFragmentParse = errors.New("chat client: fragment parse error")
	// ErrTransportInterrupted means reading the response body failed.
	ErrTransportInterrupted = errors.New("chat client: transport interrupted")
	// ErrUpstreamInterrupted means the relay reported a mid-stream upstream failure.
	ErrUpstreamInterrupted = errors.New("chat client: upstream interrupted")
	// ErrRequestFailed means the relay refused to start a stream.
	ErrRequestFailed = errors.New("chat client: request failed")
)

// DefaultReadSize is the size of each body read.
const DefaultReadSize = 4 << 10

// HTTPClient abstracts the Do method for easier testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ChatClient performs exchanges against a relay.
type ChatClient struct {
	baseURL    *url.URL
	httpClient HTTPClient
	logger     zerolog.Logger
	readSize   int
}

// Option customises a ChatClient.
type Option func(*ChatClient)

// WithLogger sets the logger used for skipped fragments and failures.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *ChatClient) { c.logger = logger }
}

// WithReadSize changes how many bytes are requested per body read.
func WithReadSize(n int) Option {
	return func(c *ChatClient) {
		if n > 0 {
			c.readSize = n
		}
	}
}

// New constructs a client for the relay at baseURL. A nil httpClient uses a
// client without an overall timeout, since replies stream for as long as they take.
func New(baseURL string, httpClient HTTPClient, opts ...Option) (*ChatClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, errors.Wrap(err, "invalid base URL")
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.Errorf("invalid base URL %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &ChatClient{
		baseURL:    parsed,
		httpClient: httpClient,
		logger:     zerolog.Nop(),
		readSize:   DefaultReadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// errorResponse matches the relay's error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthStatus is the relay's /health payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Model   string `json:"model"`
	Version string `json:"version"`
	Time    string `json:"time"`
	Ledger  bool   `json:"ledger"`
}

// BaseURL returns the relay address the client talks to.
func (c *ChatClient) BaseURL() string {
	return c.baseURL.String()
}

// Health queries the relay's liveness endpoint.
func (c *ChatClient) Health(ctx context.Context) (HealthStatus, error) {
	var out HealthStatus
	err := c.doJSON(ctx, http.MethodGet, "health", nil, &out)
	return out, err
}

// UsageSummary fetches the relay's aggregate ledger.
func (c *ChatClient) UsageSummary(ctx context.Context) (ledger.Summary, error) {
	var out struct {
		Summary ledger.Summary `json:"summary"`
	}
	err := c.doJSON(ctx, http.MethodGet, "usage/summary", nil, &out)
	return out.Summary, err
}

// RecentUsage lists the latest exchanges recorded by the relay.
func (c *ChatClient) RecentUsage(ctx context.Context, limit int) ([]ledger.Entry, error) {
	var out struct {
		Entries []ledger.Entry `json:"entries"`
	}
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("usage/recent?limit=%d", limit), nil, &out)
	return out.Entries, err
}

func (c *ChatClient) endpoint(path string) (string, error) {
	rel, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	base := *c.baseURL
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.ResolveReference(rel).String(), nil
}

func (c *ChatClient) newRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(buf)
	}
	endpoint, err := c.endpoint(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *ChatClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	req, err := c.newRequest(ctx, method, path, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// statusError turns a non-success response into ErrRequestFailed, keeping the relay's message.
func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errPayload errorResponse
	if err := json.Unmarshal(data, &errPayload); err == nil && strings.TrimSpace(errPayload.Error) != "" {
		return errors.Wrapf(ErrRequestFailed, "status %d: %s", resp.StatusCode, errPayload.Error)
	}
	return errors.Wrapf(ErrRequestFailed, "status %d", resp.StatusCode)
}
