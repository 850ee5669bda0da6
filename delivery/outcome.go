package delivery

import (
	"context"
	"errors"
	"time"

	"github.com/pithecene-io/gatehouse/types"
)

// OutcomeKind names a terminal delivery result.
type OutcomeKind string

const (
	// OutcomeDelivered means the endpoint answered 200.
	OutcomeDelivered OutcomeKind = "delivered"
	// OutcomeRejected means the endpoint answered 404 (unknown recipient).
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeExhausted means the attempt ceiling was reached.
	OutcomeExhausted OutcomeKind = "exhausted"
	// OutcomeAbandoned means the queue stopped before the task finished.
	OutcomeAbandoned OutcomeKind = "abandoned"
)

// Terminal reports whether the task reached a final state on the endpoint side.
// Abandoned tasks are not terminal and may be resumed from a spool.
func (k OutcomeKind) Terminal() bool {
	return k != OutcomeAbandoned
}

// Outcome is reported exactly once per task.
type Outcome struct {
	Task types.DeliveryTask
	Kind OutcomeKind
	// Status is the last HTTP status received, 0 if none.
	Status int
	// Err is the last attempt error, nil on success.
	Err error
	// Delays holds the scheduled waits between attempts, in order.
	Delays     []time.Duration
	FinishedAt time.Time
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// OutcomeSink receives terminal outcomes. Report is called from delivery
// goroutines and must be safe for concurrent use.
type OutcomeSink interface {
	Report(ctx context.Context, o Outcome)
}

// SinkFunc adapts a function to OutcomeSink.
type SinkFunc func(ctx context.Context, o Outcome)

// Report calls f.
func (f SinkFunc) Report(ctx context.Context, o Outcome) { f(ctx, o) }

// MultiSink fans one outcome out to several sinks, in order.
type MultiSink []OutcomeSink

// Report forwards o to every non-nil sink.
func (m MultiSink) Report(ctx context.Context, o Outcome) {
	for _, s := range m {
		if s != nil {
			s.Report(ctx, o)
		}
	}
}
