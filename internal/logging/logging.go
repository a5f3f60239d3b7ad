// Package logging adapts zap to core.Logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"atlasprep/internal/core"
)

// Formats accepted by Options.Format.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configure New.
type Options struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is json or console. Empty means json.
	Format string
	// Output receives log lines. Nil means stderr.
	Output io.Writer
}

// Logger is a core.Logger backed by a zap SugaredLogger.
type Logger struct {
	sugar *zap.SugaredLogger
}

var _ core.Logger = (*Logger)(nil)

// New builds a logger from opts using zap's production encoder settings.
func New(opts Options) (*Logger, error) {
	level := zapcore.InfoLevel
	if strings.TrimSpace(opts.Level) != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", opts.Level, err)
		}
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	switch strings.ToLower(opts.Format) {
	case "", FormatJSON:
		enc = zapcore.NewJSONEncoder(encCfg)
	case FormatConsole:
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("log format %q: want %s or %s", opts.Format, FormatJSON, FormatConsole)
	}
	var sink zapcore.WriteSyncer
	if opts.Output != nil {
		sink = zapcore.Lock(zapcore.AddSync(opts.Output))
	} else {
		stderr, _, err := zap.Open("stderr")
		if err != nil {
			return nil, err
		}
		sink = stderr
	}
	z := zap.New(zapcore.NewCore(enc, sink, zap.NewAtomicLevelAt(level)))
	return &Logger{sugar: z.Sugar()}, nil
}

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{sugar: z.Sugar()}
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...) }

// With returns a logger that adds key/value pairs to every entry.
func (l *Logger) With(args ...any) *Logger { return &Logger{sugar: l.sugar.With(args...)} }

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	err := l.sugar.Sync()
	// stderr and pipes reject fsync; nothing was lost.
	if err != nil && (strings.Contains(err.Error(), "invalid argument") || strings.Contains(err.Error(), "inappropriate ioctl")) {
		return nil
	}
	return err
}
