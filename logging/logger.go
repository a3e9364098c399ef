// Package logging builds the process logger: zap cores per output with
// optional lumberjack rotation, every output serialized through a
// QueueSink so concurrent connections never interleave partial lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/momentics/hioload-flux/control"
)

// Logger bundles the zap logger with the handles needed to adjust and
// stop it.
type Logger struct {
	*zap.Logger
	atom    zap.AtomicLevel
	sinks   []*QueueSink
	closers []io.Closer
}

// Setup builds a Logger from the provided configuration. The caller
// should defer Close. Unopenable files fall back to stderr.
func Setup(c control.LogConfig) (*Logger, error) {
	level := zap.NewAtomicLevelAt(ParseLevel(c.Level))

	encCfg := defaultEncoderConfig(c.Development)
	var encoder zapcore.Encoder
	switch strings.ToLower(c.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", c.Format)
	}

	outputs := c.Outputs
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	l := &Logger{atom: level}
	var cores []zapcore.Core
	for _, out := range outputs {
		w := openOutput(out, c)
		if closer, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
			l.closers = append(l.closers, closer)
		}
		sink := NewQueueSink(w)
		l.sinks = append(l.sinks, sink)
		cores = append(cores, zapcore.NewCore(encoder, sink, level))
	}

	opts := []zap.Option{
		zap.AddCaller(),
		zap.AddStacktrace(zap.ErrorLevel),
	}
	if c.Development {
		opts = append(opts, zap.Development())
	}
	l.Logger = zap.New(zapcore.NewTee(cores...), opts...)
	return l, nil
}

// ParseLevel maps a level name onto a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	}
	return zap.InfoLevel
}

// SetLevel changes the level of a running logger.
func (l *Logger) SetLevel(name string) {
	l.atom.SetLevel(ParseLevel(name))
}

// LevelName returns the current level.
func (l *Logger) LevelName() string { return l.atom.Level().String() }

// Close flushes every sink, stops their consumers and closes files.
func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	var first error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func openOutput(out string, c control.LogConfig) io.Writer {
	switch strings.ToLower(out) {
	case "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	if c.Rotation.Enable {
		return &lumberjack.Logger{
			Filename:   chooseFilename(out, c),
			MaxSize:    max(c.Rotation.MaxSizeMB, 10),
			MaxBackups: max(c.Rotation.MaxBackups, 1),
			MaxAge:     max(c.Rotation.MaxAgeDays, 7),
			Compress:   c.Rotation.Compress,
		}
	}
	if dir := filepath.Dir(out); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	f, err := os.OpenFile(out, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		// fallback to stderr on failure
		return os.Stderr
	}
	return f
}

func defaultEncoderConfig(dev bool) zapcore.EncoderConfig {
	if dev {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg
	}
	return zap.NewProductionEncoderConfig()
}

// chooseFilename prefers the rotation filename when one is configured.
func chooseFilename(out string, c control.LogConfig) string {
	if strings.TrimSpace(c.Rotation.Filename) != "" {
		return c.Rotation.Filename
	}
	return out
}
