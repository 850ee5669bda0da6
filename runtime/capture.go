package runtime

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/pithecene-io/gatehouse/log"
	"github.com/pithecene-io/gatehouse/session"
)

// Capture formats.
const (
	CaptureRaw  = "raw"
	CaptureZstd = "zstd"
	CaptureLZ4  = "lz4"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// OpenCapture detects the capture format from its leading bytes and
// returns a reader of the raw stream bytes.
func OpenCapture(r io.Reader) (io.ReadCloser, string, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("read capture header: %w", err)
	}

	switch {
	case bytes.Equal(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("open zstd capture: %w", err)
		}
		return dec.IOReadCloser(), CaptureZstd, nil
	case bytes.Equal(head, lz4Magic):
		return io.NopCloser(lz4.NewReader(br)), CaptureLZ4, nil
	default:
		return io.NopCloser(br), CaptureRaw, nil
	}
}

// CaptureFormat picks the recording format from a file extension.
func CaptureFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CaptureZstd
	case ".lz4":
		return CaptureLZ4
	default:
		return CaptureRaw
	}
}

type captureFile struct {
	f   *os.File
	enc io.WriteCloser // nil for raw
}

func (c *captureFile) Write(p []byte) (int, error) {
	if c.enc != nil {
		return c.enc.Write(p)
	}
	return c.f.Write(p)
}

func (c *captureFile) Close() error {
	var encErr error
	if c.enc != nil {
		encErr = c.enc.Close()
	}
	return errors.Join(encErr, c.f.Close())
}

// CreateCapture creates path for recording stream bytes, compressed
// according to CaptureFormat. Close flushes the compressor.
func CreateCapture(path string) (io.WriteCloser, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create capture: %w", err)
	}

	c := &captureFile{f: f}
	switch CaptureFormat(path) {
	case CaptureZstd:
		enc, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("create capture: %w", err)
		}
		c.enc = enc
	case CaptureLZ4:
		c.enc = lz4.NewWriter(f)
	}
	return c, nil
}

// chunkRecorder copies chunks to w until the first write failure.
type chunkRecorder struct {
	mu     sync.Mutex
	w      io.Writer
	failed bool
	logger *log.Logger
}

func (r *chunkRecorder) record(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed || len(chunk) == 0 {
		return
	}
	if _, err := r.w.Write(chunk); err != nil {
		r.failed = true
		r.logger.Error("capture write failed, recording stopped", map[string]any{"error": err.Error()})
	}
}

type recordingStream struct {
	session.Stream
	rec *chunkRecorder
}

func (s *recordingStream) Read() ([]byte, error) {
	chunk, err := s.Stream.Read()
	s.rec.record(chunk)
	return chunk, err
}

// RecordingDialer copies every chunk read from dial's streams to w, so
// the session can be replayed later. Consecutive connections are
// appended. A write failure stops recording and never affects the
// session.
func RecordingDialer(dial session.Dialer, w io.Writer, logger *log.Logger) session.Dialer {
	if logger == nil {
		logger = log.Nop()
	}
	rec := &chunkRecorder{w: w, logger: logger}
	return func(ctx context.Context) (session.Stream, error) {
		s, err := dial(ctx)
		if err != nil {
			return nil, err
		}
		return &recordingStream{Stream: s, rec: rec}, nil
	}
}
