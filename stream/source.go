// Package stream opens the device alert stream and reads it in chunks.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pithecene-io/gatehouse/iox"
	"github.com/pithecene-io/gatehouse/types"
)

// DefaultPath is the ISAPI alert stream endpoint.
const DefaultPath = "/ISAPI/Event/notification/alertStream"

// DefaultChunkSize is the maximum size of one read.
const DefaultChunkSize = 4096

// DefaultConnectTimeout bounds dialing and waiting for response headers.
// The body itself has no deadline; liveness is the session's concern.
const DefaultConnectTimeout = 10 * time.Second

// Config configures the chunk source.
type Config struct {
	// Address is the device host or host:port, or a full http(s) URL.
	Address  string
	Path     string
	Username string
	Password string
	Auth     AuthMode
	// ConnectTimeout bounds dial and response headers (default 10s).
	ConnectTimeout time.Duration
	// ChunkSize is the read size (default 4096).
	ChunkSize int
	// Transport overrides the base transport. Auth is layered on top.
	Transport http.RoundTripper
}

// StatusError is returned by Open when the device answers with anything
// other than 200.
type StatusError struct {
	Code int
	// Body holds the start of the response body, for diagnosis.
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsAuthError reports whether err is a 401 or 403 from the device.
func IsAuthError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

// Source opens alert stream connections. Safe for concurrent use.
type Source struct {
	url       string
	chunkSize int
	client    *http.Client
}

// New creates a Source. Returns an error if the address is empty.
func New(cfg Config) (*Source, error) {
	if cfg.Address == "" {
		return nil, errors.New("stream source requires a device address")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Auth == "" {
		cfg.Auth = AuthDigest
	}
	endpoint, err := streamURL(cfg.Address, cfg.Path)
	if err != nil {
		return nil, err
	}

	base := cfg.Transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		t.ResponseHeaderTimeout = cfg.ConnectTimeout
		t.TLSHandshakeTimeout = cfg.ConnectTimeout
		base = t
	}

	return &Source{
		url:       endpoint,
		chunkSize: cfg.ChunkSize,
		client:    &http.Client{Transport: newAuthTransport(cfg.Auth, cfg.Username, cfg.Password, base)},
	}, nil
}

// URL returns the stream endpoint.
func (s *Source) URL() string {
	return s.url
}

func streamURL(address, path string) (string, error) {
	raw := address
	if !strings.Contains(address, "://") {
		raw = "http://" + address
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid device address %q: %w", address, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid device address %q: missing host", address)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = path
	}
	return u.String(), nil
}

// Open issues the stream request. The returned Stream is bound to ctx:
// canceling ctx unblocks a pending Read.
func (s *Source) Open(ctx context.Context) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", types.UserAgent)
	req.Header.Set("Accept", "multipart/mixed, */*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer iox.DiscardClose(resp.Body)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	return &Stream{
		body:        resp.Body,
		buf:         make([]byte, s.chunkSize),
		contentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Close releases idle connections.
func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Stream is one open connection. Read is not safe for concurrent use;
// Close may be called from another goroutine to unblock it.
type Stream struct {
	body        io.ReadCloser
	buf         []byte
	contentType string
}

// Read returns the next chunk of at most the configured size. The chunk
// is a fresh slice owned by the caller. Returns io.EOF when the device
// ends the response.
func (s *Stream) Read() ([]byte, error) {
	n, err := s.body.Read(s.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, s.buf[:n])
		return chunk, nil
	}
	if err == nil {
		return nil, nil
	}
	return nil, err
}

// ContentType returns the response Content-Type header.
func (s *Stream) ContentType() string {
	return s.contentType
}

// Boundary returns the delimiter announced by the response
// (the boundary parameter prefixed with "--"), or "" if none.
func (s *Stream) Boundary() string {
	_, params, err := mime.ParseMediaType(s.contentType)
	if err != nil || params["boundary"] == "" {
		return ""
	}
	return "--" + params["boundary"]
}

// Close closes the response body.
func (s *Stream) Close() error {
	return s.body.Close()
}
