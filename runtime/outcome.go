package runtime

import (
	"errors"

	"github.com/pithecene-io/gatehouse/session"
	"github.com/pithecene-io/gatehouse/types"
)

// Process exit codes.
const (
	ExitCodeStopped = 0 // stopped by signal or stop file
	ExitCodeFatal   = 1 // reconnects exhausted or other runtime fault
	ExitCodeConfig  = 2 // invalid configuration or arguments
)

// DetermineOutcome maps a finished run to its status and exit code.
func DetermineOutcome(result *IngestResult) (types.RunStatus, int) {
	switch {
	case result == nil:
		return types.RunFailed, ExitCodeFatal
	case result.Err == nil:
		return types.RunStopped, ExitCodeStopped
	case errors.Is(result.Err, session.ErrBackoffExhausted):
		return types.RunDeviceLost, ExitCodeFatal
	default:
		return types.RunFailed, ExitCodeFatal
	}
}
