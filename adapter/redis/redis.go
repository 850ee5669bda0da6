// Package redis publishes delivery outcomes to a Redis pub/sub channel
// and, optionally, a capped list of recent outcomes for dashboards.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/gatehouse/adapter"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "gatehouse:delivery_outcome"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// DefaultRecentMax bounds the recent-outcomes list when RecentKey is set.
const DefaultRecentMax = 500

// Config configures the Redis notifier.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: gatehouse:delivery_outcome).
	Channel string
	// RecentKey, when set, also LPUSHes each event onto this list.
	RecentKey string
	// RecentMax caps the recent list length (default 500).
	RecentMax int64
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
}

// Notifier publishes outcome events via Redis PUBLISH.
type Notifier struct {
	config Config
	client *goredis.Client
}

// New creates a Redis notifier from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis notifier requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis notifier: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.RecentMax <= 0 {
		cfg.RecentMax = DefaultRecentMax
	}

	return &Notifier{
		config: cfg,
		client: goredis.NewClient(opts),
	}, nil
}

// Publish sends the event as JSON to the configured channel. When a
// recent list is configured the push, trim and publish run in one
// MULTI/EXEC transaction.
func (n *Notifier) Publish(ctx context.Context, event *adapter.OutcomeEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	return adapter.Retry(ctx, "redis", n.config.Retries, func(ctx context.Context) error {
		publishCtx, cancel := context.WithTimeout(ctx, n.config.Timeout)
		defer cancel()

		if n.config.RecentKey == "" {
			return n.client.Publish(publishCtx, n.config.Channel, body).Err()
		}
		_, err := n.client.TxPipelined(publishCtx, func(p goredis.Pipeliner) error {
			p.LPush(publishCtx, n.config.RecentKey, body)
			p.LTrim(publishCtx, n.config.RecentKey, 0, n.config.RecentMax-1)
			p.Publish(publishCtx, n.config.Channel, body)
			return nil
		})
		return err
	})
}

// Close releases notifier resources.
func (n *Notifier) Close() error {
	return n.client.Close()
}

// Verify Notifier implements the adapter interface.
var _ adapter.Notifier = (*Notifier)(nil)
