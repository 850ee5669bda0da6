// Package webhook publishes delivery outcomes as JSON POSTs to an
// operator-supplied URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/gatehouse/adapter"
	"github.com/pithecene-io/gatehouse/iox"
	"github.com/pithecene-io/gatehouse/types"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Config configures the webhook notifier.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure.
	Retries int
	// Only limits publishing to these outcomes. Empty publishes all.
	Only []string
}

// Notifier publishes outcome events via HTTP POST.
type Notifier struct {
	config Config
	only   map[string]bool
	client *http.Client
}

// New creates a webhook notifier. Returns an error if the URL is empty.
func New(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook notifier requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	var only map[string]bool
	if len(cfg.Only) > 0 {
		only = make(map[string]bool, len(cfg.Only))
		for _, o := range cfg.Only {
			only[o] = true
		}
	}

	return &Notifier{
		config: cfg,
		only:   only,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish sends the event as a JSON POST request. 5xx responses and
// network errors are retried; 4xx responses fail immediately. Events
// filtered out by Only are skipped without error.
func (n *Notifier) Publish(ctx context.Context, event *adapter.OutcomeEvent) error {
	if n.only != nil && !n.only[event.Outcome] {
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	return adapter.Retry(ctx, "webhook", n.config.Retries, func(ctx context.Context) error {
		return n.doRequest(ctx, body)
	})
}

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Permanent reports whether retrying cannot help (4xx).
func (e *StatusError) Permanent() bool {
	return e.Code >= 400 && e.Code < 500
}

// doRequest performs a single HTTP POST and returns nil on 2xx.
func (n *Notifier) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", types.UserAgent)
	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body, 64<<10)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases notifier resources.
func (n *Notifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

// Verify Notifier implements the adapter interface.
var _ adapter.Notifier = (*Notifier)(nil)
