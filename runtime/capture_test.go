package runtime

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/pithecene-io/gatehouse/session"
)

func TestCaptureFormat(t *testing.T) {
	tests := map[string]string{
		"capture.bin":     CaptureRaw,
		"capture.zst":     CaptureZstd,
		"capture.ZSTD":    CaptureZstd,
		"capture.lz4":     CaptureLZ4,
		"capture":         CaptureRaw,
		"dir.zst/capture": CaptureRaw,
	}
	for path, want := range tests {
		if got := CaptureFormat(path); got != want {
			t.Errorf("CaptureFormat(%q) = %s, want %s", path, got, want)
		}
	}
}

func TestCapture_RoundTripReplaysIdentically(t *testing.T) {
	raw := loadCapture(t)
	want, err := Replay(t.Context(), bytes.NewReader(raw), ReplayConfig{})
	if err != nil {
		t.Fatalf("replay raw: %v", err)
	}

	for _, name := range []string{"capture.bin", "capture.zst", "capture.lz4"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			w, err := CreateCapture(path)
			if err != nil {
				t.Fatalf("CreateCapture: %v", err)
			}
			if _, err := w.Write(raw); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}

			f, err := os.Open(path)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer func() { _ = f.Close() }()

			rc, format, err := OpenCapture(f)
			if err != nil {
				t.Fatalf("OpenCapture: %v", err)
			}
			defer func() { _ = rc.Close() }()
			if format != CaptureFormat(path) {
				t.Errorf("format = %s, want %s", format, CaptureFormat(path))
			}

			got, err := Replay(t.Context(), rc, ReplayConfig{})
			if err != nil {
				t.Fatalf("replay: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("replay of %s differs from raw replay", name)
			}
		})
	}
}

func TestOpenCapture_ShortInputIsRaw(t *testing.T) {
	rc, format, err := OpenCapture(bytes.NewReader([]byte("ab")))
	if err != nil {
		t.Fatalf("OpenCapture: %v", err)
	}
	if format != CaptureRaw {
		t.Errorf("format = %s, want raw", format)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "ab" {
		t.Errorf("data = %q", data)
	}
}

type chunkStream struct {
	chunks [][]byte
}

func (s *chunkStream) Read() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *chunkStream) Boundary() string { return "--MIME_boundary" }
func (s *chunkStream) Close() error     { return nil }

type failingWriter struct {
	writes int
}

func (w *failingWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("disk full")
}

func TestRecordingDialer_CopiesChunksAcrossConnections(t *testing.T) {
	conns := [][][]byte{
		{[]byte("--MIME_bo"), []byte("undary\r\n")},
		{[]byte("second")},
	}
	dial := func(context.Context) (session.Stream, error) {
		s := &chunkStream{chunks: conns[0]}
		conns = conns[1:]
		return s, nil
	}

	var buf bytes.Buffer
	rec := RecordingDialer(dial, &buf, nil)

	for range 2 {
		s, err := rec(t.Context())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		if s.Boundary() != "--MIME_boundary" {
			t.Errorf("Boundary not forwarded: %q", s.Boundary())
		}
		for {
			if _, err := s.Read(); err != nil {
				break
			}
		}
	}

	if buf.String() != "--MIME_boundary\r\nsecond" {
		t.Errorf("recorded %q", buf.String())
	}
}

func TestRecordingDialer_WriteFailureStopsRecording(t *testing.T) {
	dial := func(context.Context) (session.Stream, error) {
		return &chunkStream{chunks: [][]byte{[]byte("a"), []byte("b"), []byte("c")}}, nil
	}
	w := &failingWriter{}
	s, err := RecordingDialer(dial, w, nil)(t.Context())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	var got []byte
	for {
		chunk, err := s.Read()
		if err != nil {
			break
		}
		got = append(got, chunk...)
	}

	if string(got) != "abc" {
		t.Errorf("session saw %q, want every chunk", got)
	}
	if w.writes != 1 {
		t.Errorf("writes = %d, want recording to stop after the first failure", w.writes)
	}
}

func TestRecordingDialer_DialErrorPassesThrough(t *testing.T) {
	boom := errors.New("refused")
	dial := func(context.Context) (session.Stream, error) { return nil, boom }

	s, err := RecordingDialer(dial, io.Discard, nil)(t.Context())
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
	if s != nil {
		t.Error("stream should be nil on error")
	}
}
