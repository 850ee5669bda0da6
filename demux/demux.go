// Package demux splits an unbounded multipart byte stream into MIME parts.
//
// The device stream carries no reliable framing beyond a fixed boundary
// marker, and chunks arrive at arbitrary offsets. The Demuxer buffers bytes
// across Feed calls and only emits a Part once it has seen all of it, so the
// emitted sequence does not depend on how the stream was chunked.
//
// A part that declares Content-Length is consumed by length, which keeps
// binary bodies that happen to contain the boundary bytes intact. Parts
// without a length fall back to boundary scanning and can still be split
// early by a coincidental boundary inside the body.
package demux

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultBoundary is the marker used by ISAPI alert streams.
const DefaultBoundary = "--MIME_boundary"

// DefaultMaxBufferSize bounds buffered bytes awaiting a complete part (16 MiB).
const DefaultMaxBufferSize = 16 * 1024 * 1024

// FrameErrorKind classifies demultiplexing errors.
type FrameErrorKind int

const (
	// FrameErrorMalformed indicates a segment without a header/body separator.
	// The segment is discarded; the stream continues.
	FrameErrorMalformed FrameErrorKind = iota
	// FrameErrorTooLarge indicates the buffer grew past its limit without
	// yielding a part. The connection must be restarted.
	FrameErrorTooLarge
)

func (k FrameErrorKind) String() string {
	switch k {
	case FrameErrorMalformed:
		return "malformed"
	case FrameErrorTooLarge:
		return "too_large"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FrameError represents a demultiplexing error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	// Size is the length of the discarded segment or buffer.
	Size int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s (%d bytes)", e.Msg, e.Size)
}

// IsFatal returns true if the session must reconnect with a fresh buffer.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// Config configures a Demuxer.
type Config struct {
	// Boundary is the literal marker between parts (default DefaultBoundary).
	Boundary string
	// MaxBufferSize caps buffered bytes (default DefaultMaxBufferSize).
	MaxBufferSize int
}

// Demuxer reassembles parts from chunks. It is not safe for concurrent use;
// one Demuxer belongs to one connection attempt.
type Demuxer struct {
	boundary []byte
	maxBuf   int
	buf      []byte
}

// New creates a Demuxer with an empty buffer.
func New(cfg Config) *Demuxer {
	if cfg.Boundary == "" {
		cfg.Boundary = DefaultBoundary
	}
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	return &Demuxer{
		boundary: []byte(cfg.Boundary),
		maxBuf:   cfg.MaxBufferSize,
	}
}

// Feed appends a chunk to the buffer. Call Next until it returns a nil
// Part and nil error to drain the parts the chunk completed.
func (d *Demuxer) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Buffered returns the number of bytes awaiting a complete part.
func (d *Demuxer) Buffered() int {
	return len(d.buf)
}

// Reset discards all buffered bytes.
func (d *Demuxer) Reset() {
	d.buf = nil
}

// Next returns the next complete part.
//
// Returns:
//   - (part, nil): a complete part, already removed from the buffer
//   - (nil, nil): more data is needed
//   - (nil, *FrameError) with Kind=FrameErrorMalformed: a segment was discarded; call Next again
//   - (nil, *FrameError) with Kind=FrameErrorTooLarge: fatal, the buffer should be Reset
func (d *Demuxer) Next() (*Part, error) {
	for {
		part, consumed, err := d.scan()
		if consumed > 0 {
			d.consume(consumed)
		}
		if err != nil || part != nil {
			return part, err
		}
		if consumed == 0 {
			if len(d.buf) > d.maxBuf {
				return nil, &FrameError{
					Kind: FrameErrorTooLarge,
					Msg:  fmt.Sprintf("no complete part within %d buffered bytes", d.maxBuf),
					Size: len(d.buf),
				}
			}
			return nil, nil
		}
		// Consumed an empty segment; keep scanning.
	}
}

// scan inspects the buffer head. It returns the part found (if any), how many
// bytes to consume, and a non-fatal framing error for a discarded segment.
func (d *Demuxer) scan() (*Part, int, error) {
	lead := leadingSpace(d.buf)
	rest := d.buf[lead:]
	boundaryAt := bytes.Index(rest, d.boundary)

	hdrEnd, sepLen := headerEnd(rest)
	headersComplete := hdrEnd >= 0 && (boundaryAt < 0 || hdrEnd < boundaryAt)

	if headersComplete {
		headers := parseHeaders(rest[:hdrEnd])
		if n, ok := contentLength(headers, d.maxBuf); ok {
			bodyStart := hdrEnd + sepLen
			if len(rest)-bodyStart < n {
				return nil, 0, nil
			}
			body := bytes.Clone(rest[bodyStart : bodyStart+n])
			return newPart(headers, body, true), lead + bodyStart + n, nil
		}
	}

	if boundaryAt < 0 {
		return nil, 0, nil
	}

	segment := rest[:boundaryAt]
	consumed := lead + boundaryAt + len(d.boundary)

	if isEmptySegment(segment) {
		return nil, consumed, nil
	}
	if !headersComplete {
		return nil, consumed, &FrameError{
			Kind: FrameErrorMalformed,
			Msg:  "segment has no header/body separator",
			Size: len(segment),
		}
	}

	headers := parseHeaders(segment[:hdrEnd])
	body := trimTrailingNewline(segment[hdrEnd+sepLen:])
	return newPart(headers, bytes.Clone(body), false), consumed, nil
}

// consume drops n bytes from the buffer head, copying the remainder so the
// backing array never pins bytes of emitted parts.
func (d *Demuxer) consume(n int) {
	remaining := len(d.buf) - n
	if remaining == 0 {
		d.buf = d.buf[:0]
		return
	}
	copy(d.buf, d.buf[n:])
	d.buf = d.buf[:remaining]
}

func newPart(headers Header, body []byte, lengthFramed bool) *Part {
	return &Part{
		Headers:      headers,
		ContentType:  mediaType(headers.Get("Content-Type")),
		Body:         body,
		LengthFramed: lengthFramed,
	}
}

// headerEnd finds the first blank line. Returns its offset and separator
// length, or -1.
func headerEnd(b []byte) (int, int) {
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	lf := bytes.Index(b, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return -1, 0
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// parseHeaders reads "Name: value" lines. Lines without a colon are ignored.
func parseHeaders(b []byte) Header {
	h := make(Header)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimRight(line, "\r")
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		h.set(name, strings.TrimSpace(value))
	}
	return h
}

// contentLength returns a usable declared body length. Lengths above limit
// can never be buffered, so such parts fall back to boundary scanning.
func contentLength(h Header, limit int) (int, bool) {
	v := h.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > limit {
		return 0, false
	}
	return n, true
}

func leadingSpace(b []byte) int {
	i := 0
	for i < len(b) && (b[i] == '\r' || b[i] == '\n') {
		i++
	}
	return i
}

// isEmptySegment matches preambles, CRLF runs, and the "--" of a close delimiter.
func isEmptySegment(b []byte) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, []byte("--"))
}

func trimTrailingNewline(b []byte) []byte {
	if bytes.HasSuffix(b, []byte("\r\n")) {
		return b[:len(b)-2]
	}
	if bytes.HasSuffix(b, []byte("\n")) {
		return b[:len(b)-1]
	}
	return b
}
