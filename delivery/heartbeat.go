package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pithecene-io/gatehouse/log"
)

// DefaultPingInterval is the default heartbeat period.
const DefaultPingInterval = 60 * time.Second

// HeartbeatConfig configures the liveness ping.
type HeartbeatConfig struct {
	// URL is the ping endpoint (required).
	URL   string
	Token string
	// Interval between pings (default 60s).
	Interval time.Duration
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
}

// Heartbeat posts {"token": token} on a fixed interval so the relay
// operator can see that this ingester is alive. Failures are logged and
// never affect the pipeline.
type Heartbeat struct {
	interval time.Duration
	body     []byte
	poster   *poster
	logger   *log.Logger
	onPing   func(err error)
}

// NewHeartbeat creates a heartbeat. onPing, if non-nil, observes each result.
func NewHeartbeat(cfg HeartbeatConfig, logger *log.Logger, onPing func(err error)) (*Heartbeat, error) {
	if cfg.URL == "" {
		return nil, errors.New("heartbeat requires a URL")
	}
	endpoint, err := Endpoint(cfg.URL, cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPingInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	body, err := json.Marshal(map[string]string{"token": cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("heartbeat: marshal body: %w", err)
	}
	return &Heartbeat{
		interval: cfg.Interval,
		body:     body,
		poster:   &poster{url: endpoint, client: &http.Client{Timeout: cfg.Timeout}},
		logger:   logger,
		onPing:   onPing,
	}, nil
}

// Run pings immediately and then every interval until ctx is done.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.poster.client.CloseIdleConnections()

	for {
		h.ping(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Heartbeat) ping(ctx context.Context) {
	err := h.poster.post(ctx, h.body)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn("heartbeat failed", map[string]any{
				"error":  err.Error(),
				"status": StatusOf(err),
			})
		}
	} else {
		h.logger.Debug("heartbeat ok", nil)
	}
	if h.onPing != nil {
		h.onPing(err)
	}
}
