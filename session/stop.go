package session

import (
	"errors"
	"io/fs"
	"os"
)

// StopSignal reports whether an external stop has been requested.
// Polled at every loop iteration, every chunk and during waits.
type StopSignal interface {
	Stopped() bool
}

// StopFunc adapts a function to StopSignal.
type StopFunc func() bool

// Stopped calls f.
func (f StopFunc) Stopped() bool { return f() }

// LockFile signals stop once a file exists at Path. An empty Path never
// signals.
type LockFile struct {
	Path string
}

// Stopped reports whether the lock file exists. Stat errors other than
// not-exist are treated as present, so a file behind a permission
// error still stops the session.
func (l LockFile) Stopped() bool {
	if l.Path == "" {
		return false
	}
	_, err := os.Stat(l.Path)
	return err == nil || !errors.Is(err, fs.ErrNotExist)
}
