package types

import "time"

// SessionState is the connection state of one device session.
type SessionState string

// Session states. Stopped is terminal.
const (
	SessionConnecting SessionState = "connecting"
	SessionStreaming  SessionState = "streaming"
	SessionBackoff    SessionState = "backoff"
	SessionStopped    SessionState = "stopped"
)

// Transition records a state change and what caused it.
type Transition struct {
	From  SessionState
	To    SessionState
	Cause string
	At    time.Time
}

// RunStatus is how an ingester run ended.
type RunStatus string

// Run statuses.
const (
	// RunStopped means the run ended on request.
	RunStopped RunStatus = "stopped"
	// RunDeviceLost means reconnect attempts were exhausted.
	RunDeviceLost RunStatus = "device_lost"
	// RunFailed means any other fatal fault.
	RunFailed RunStatus = "failed"
)
