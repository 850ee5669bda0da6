// Package log wraps zap for gatehouse.
//
// Logger carries structured fields and is used on the stream, session
// and delivery paths. SugaredLogger (Logger.Sugar) is printf-style and
// used for short notices from the read-only commands.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging with session context.
// A nil *Logger is valid and discards everything.
type Logger struct {
	zap *zap.Logger
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// Options configures a Logger.
type Options struct {
	// Level is the minimum level: debug, info, warn, error (default info).
	Level string
	// Dir, when set, additionally writes to a dated log file in Dir.
	Dir string
	// Output is the primary writer (default os.Stderr).
	Output io.Writer
	// Fields are attached to every entry (e.g. device address).
	Fields map[string]any
	// Now is used to name the log file (default time.Now).
	Now func() time.Time
}

// New creates a logger from opts. Returns the path of the log file, if any.
func New(opts Options) (*Logger, string, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, "", err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	cores := []zapcore.Core{newCore(out, level)}

	var logPath string
	if opts.Dir != "" {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("create log dir: %w", err)
		}
		logPath = filepath.Join(opts.Dir, fmt.Sprintf("log_%s.log", now().Format("2006-01-02_15-04")))
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, "", fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, newCore(f, level))
	}

	z := zap.New(zapcore.NewTee(cores...))
	if len(opts.Fields) > 0 {
		z = z.With(toFields(opts.Fields)...)
	}
	return &Logger{zap: z}, logPath, nil
}

// NewWithWriter creates a debug-level logger writing JSON lines to w.
// Intended for tests that assert on log output.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{zap: zap.New(newCore(w, zapcore.DebugLevel))}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %q (must be debug, info, warn, or error)", s)
	}
}

func newCore(w io.Writer, level zapcore.Level) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
}

func toFields(m map[string]any) []zap.Field {
	fields := make([]zap.Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, zap.Any(k, v))
	}
	return fields
}

func (l *Logger) z() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// With returns a child logger carrying additional context fields.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{zap: l.z().With(toFields(fields)...)}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.z().Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.z().Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.z().Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.z().Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z().Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.z().Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
