// Package credentials obtains the short-lived key that authenticates a voice
// session's realtime channel.
//
// The exchange is two POST requests against a backend that holds the real
// service key:
//
//	POST {base}/api/voice/session       {"userId": ...}             -> {"sessionToken": ...}
//	POST {base}/api/voice/realtime-key  {"sessionToken", "model",
//	                                     "voice", "instructions"}     -> {"ephemeralKey": ...}
//
// Keys are never cached: every connect mints a new one. Any failure is
// returned as a connect error and no credential is produced.
package credentials

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

	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/transport"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	sessionPath = "/api/voice/session"
	keyPath     = "/api/voice/realtime-key"

	// maxErrorBody bounds how much of an error response ends up in the error.
	maxErrorBody = 512

	// DefaultTimeout bounds one complete exchange against one endpoint.
	DefaultTimeout = 10 * time.Second
)

// Request describes the session a key is minted for.
type Request struct {
	Identity     string
	Model        string
	Voice        string
	Instructions string
}

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Step   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Step, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Step, e.Status, e.Body)
}

// Client performs the exchange against a single backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for the backend at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

// Issue runs both steps of the exchange.
func (c *Client) Issue(ctx context.Context, req Request) (transport.Credential, error) {
	identity := req.Identity
	if identity == "" {
		identity = "anon"
	}

	var sess struct {
		SessionToken string `json:"sessionToken"`
	}
	if err := c.post(ctx, "create voice session", sessionPath, map[string]string{"userId": identity}, &sess); err != nil {
		return transport.Credential{}, err
	}
	if sess.SessionToken == "" {
		return transport.Credential{}, fmt.Errorf("create voice session: missing sessionToken")
	}

	var key struct {
		EphemeralKey string `json:"ephemeralKey"`
	}
	body := map[string]string{
		"sessionToken": sess.SessionToken,
		"model":        req.Model,
		"voice":        req.Voice,
		"instructions": req.Instructions,
	}
	if err := c.post(ctx, "mint ephemeral key", keyPath, body, &key); err != nil {
		return transport.Credential{}, err
	}
	if key.EphemeralKey == "" {
		return transport.Credential{}, fmt.Errorf("mint ephemeral key: missing ephemeralKey")
	}
	return transport.Credential{Token: key.EphemeralKey}, nil
}

// post sends body as JSON and decodes a 2xx answer into out. Client errors
// (4xx except 408 and 429) are marked permanent: another endpoint would
// reject the same request.
func (c *Client) post(ctx context.Context, step, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", step, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		serr := &StatusError{Step: step, Status: resp.StatusCode, Body: strings.TrimSpace(string(text))}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 &&
			resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests {
			return resilience.Permanent(serr)
		}
		return serr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", step, err)
	}
	return nil
}

// ── Broker ────────────────────────────────────────────────────────────────────

// Option configures a [Broker].
type Option func(*brokerConfig)

type brokerConfig struct {
	httpClient *http.Client
	breaker    resilience.CircuitBreakerConfig
}

// WithHTTPClient sets the HTTP client shared by every endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(b *brokerConfig) { b.httpClient = c }
}

// WithCircuitBreaker configures the per-endpoint circuit breakers.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(b *brokerConfig) { b.breaker = cfg }
}

// Broker issues credentials from the first healthy backend in a list. Each
// backend has its own circuit breaker so a dead endpoint is skipped quickly.
// Broker is safe for concurrent use.
type Broker struct {
	group *resilience.FallbackGroup[*Client]
}

// NewBroker returns a Broker over baseURLs, tried in order. At least one URL
// is required.
func NewBroker(baseURLs []string, opts ...Option) (*Broker, error) {
	if len(baseURLs) == 0 {
		return nil, errors.New("credentials: no endpoint configured")
	}
	var cfg brokerConfig
	for _, o := range opts {
		o(&cfg)
	}

	fg := resilience.NewFallbackGroup(NewClient(baseURLs[0], cfg.httpClient), baseURLs[0],
		resilience.FallbackConfig{CircuitBreaker: cfg.breaker})
	for _, u := range baseURLs[1:] {
		fg.AddFallback(u, NewClient(u, cfg.httpClient))
	}
	return &Broker{group: fg}, nil
}

// Issue mints a credential for req. Failures are connect errors.
func (b *Broker) Issue(ctx context.Context, req Request) (transport.Credential, error) {
	cred, err := resilience.ExecuteWithResult(ctx, b.group, func(ctx context.Context, c *Client) (transport.Credential, error) {
		return c.Issue(ctx, req)
	})
	if err != nil {
		return transport.Credential{}, types.ConnectError("credentials", err)
	}
	return cred, nil
}
