package spool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxPayloadSize bounds a single record (1 MiB).
	MaxPayloadSize = 1 << 20
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated frame, typically from a
	// crash mid-write.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a length prefix above MaxPayloadSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError is a spool decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err came from frame decoding.
func IsFrameError(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}

// writeFrame encodes v with msgpack and writes it length-prefixed.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("record of %d bytes exceeds maximum %d", len(payload), MaxPayloadSize)
	}
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame decodes the next frame into v. Returns io.EOF at a clean end.
func readFrame(r io.Reader, v any) error {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return &FrameError{Kind: FrameErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", size, MaxPayloadSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return &FrameError{Kind: FrameErrorPartial, Msg: "failed to read payload", Err: err}
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode record", Err: err}
	}
	return nil
}
