package delivery

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// DefaultRetryBase is the default base delay between attempts.
const DefaultRetryBase = 2 * time.Second

// DefaultMaxAttempts is the default attempt ceiling per task.
const DefaultMaxAttempts = 5

// Action is what the queue does after an attempt.
type Action int

const (
	// ActionSucceed ends the task as delivered.
	ActionSucceed Action = iota
	// ActionReject ends the task without retrying.
	ActionReject
	// ActionRetry schedules another attempt.
	ActionRetry
)

func (a Action) String() string {
	switch a {
	case ActionSucceed:
		return "succeed"
	case ActionReject:
		return "reject"
	case ActionRetry:
		return "retry"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// statusActions is the complete status table. Codes not listed retry.
var statusActions = map[int]Action{
	http.StatusOK:       ActionSucceed,
	http.StatusNotFound: ActionReject,
}

// Policy decides the fate of each attempt and the delay before the next.
type Policy struct {
	// Base is the minimum delay before a retry.
	Base time.Duration
	// MaxAttempts bounds the total attempts per task, including the first.
	MaxAttempts int
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{Base: DefaultRetryBase, MaxAttempts: DefaultMaxAttempts}
}

func (p Policy) validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("retry base must be > 0, got %s", p.Base)
	}
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	return nil
}

// Decide maps an attempt result to an action. A transport error always
// retries; a status is looked up in the table.
func (p Policy) Decide(err error) Action {
	if err == nil {
		return ActionSucceed
	}
	var se *StatusError
	if errors.As(err, &se) {
		if a, ok := statusActions[se.Code]; ok {
			return a
		}
	}
	return ActionRetry
}

// Exhausted reports whether a task that has made attempts attempts may not retry.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the wait after the given failed attempt (1-based):
// uniform in [Base, Base*attempt]. rnd returns a value in [0, 1).
func (p Policy) Delay(attempt int, rnd func() float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	lo := float64(p.Base)
	hi := float64(p.Base) * float64(attempt)
	return time.Duration(lo + (hi-lo)*rnd())
}
