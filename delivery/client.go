package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/gatehouse/iox"
	"github.com/pithecene-io/gatehouse/types"
)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 10 * time.Second

const drainLimit = 64 << 10

// StatusError is returned for responses other than 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Endpoint joins a base URL and token. A base ending in '=' or '/' gets
// the token appended verbatim; otherwise it is added as the token query
// parameter. An empty token leaves the base untouched.
func Endpoint(base, token string) (string, error) {
	if token == "" {
		return base, nil
	}
	if strings.HasSuffix(base, "=") {
		return base + url.QueryEscape(token), nil
	}
	if strings.HasSuffix(base, "/") {
		return base + url.PathEscape(token), nil
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// poster issues JSON POSTs. Safe for concurrent use.
type poster struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// post performs a single POST and returns nil on 200.
func (p *poster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", types.UserAgent)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body, drainLimit)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
