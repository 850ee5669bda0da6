// Package iox holds the small close helpers shared by the stream reader,
// the relay client and the spool.
package iox

import "io"

// DiscardClose closes c and drops the error. For defers on read-only
// handles where nothing can act on a failed close.
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose consumes at most limit bytes of rc and closes it, so the
// relay and webhook clients hand keep-alive connections back to the pool.
func DrainClose(rc io.ReadCloser, limit int64) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}

// CloseFunc adapts c for t.Cleanup.
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}
