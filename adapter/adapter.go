// Package adapter defines the boundary for publishing delivery outcomes
// to downstream observers (ops dashboards, alerting).
//
// Notifiers are optional and best effort: a failed publish is logged and
// never affects delivery.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventTypeDeliveryOutcome is the event_type of every OutcomeEvent.
const EventTypeDeliveryOutcome = "delivery_outcome"

// OutcomeEvent is the payload published for each finished delivery task.
type OutcomeEvent struct {
	EventType  string `json:"event_type"`
	TaskID     string `json:"task_id"`
	Device     string `json:"device"`
	EmployeeNo string `json:"employee_no"`
	IPAddress  string `json:"ip_address,omitempty"`
	DateTime   string `json:"date_time,omitempty"`
	Outcome    string `json:"outcome"` // delivered, rejected, exhausted, abandoned
	Status     int    `json:"status,omitempty"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC 3339
}

// Notifier publishes outcome events to a downstream system.
type Notifier interface {
	// Publish sends one event. Must respect context cancellation.
	Publish(ctx context.Context, event *OutcomeEvent) error

	// Close releases notifier resources.
	Close() error
}

// permanent is implemented by errors that retrying cannot fix.
type permanent interface {
	Permanent() bool
}

// RetryBase is the first backoff between publish attempts; it doubles.
const RetryBase = 500 * time.Millisecond

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. It stops early when fn returns a permanent error or ctx ends.
func Retry(ctx context.Context, name string, retries int, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		// Exponential backoff before retries (not before first attempt)
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * RetryBase
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		var perm permanent
		if errors.As(lastErr, &perm) && perm.Permanent() {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
