package serialbridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/Station-Manager/logging"
	"github.com/goccy/go-json"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig configures the process logger built by NewLogger.
type LogConfig struct {
	Level string `validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	// File, when set, receives JSON logs rotated by size.
	File       string
	MaxSizeMB  int `validate:"min=0"`
	MaxBackups int `validate:"min=0"`
	MaxAgeDays int `validate:"min=0"`
	Compress   bool
	// Console enables the stderr writer.
	Console bool
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
		Console:    true,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// allow tests to swap the console destination
var consoleOutput = func() (io.Writer, bool) {
	fd := os.Stderr.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		return colorable.NewColorableStderr(), true
	}
	return os.Stderr, false
}

// NewLogger builds a zerolog logger from cfg. A terminal gets a coloured
// console writer, anything else gets JSON. The returned closer flushes and
// closes the log file, if any.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(cfg.Level)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	var writers []io.Writer
	var closer io.Closer = nopCloser{}

	if cfg.Console {
		out, tty := consoleOutput()
		if tty {
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly})
		} else {
			writers = append(writers, out)
		}
	}

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, lj)
		closer = lj
	}

	if len(writers) == 0 {
		return zerolog.Nop(), closer, errors.New("log config enables neither console nor file output")
	}

	var w io.Writer = writers[0]
	if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Str("service", ServiceName).Logger()
	return logger, closer, nil
}

// serviceWriter replays encoded zerolog events through a Station-Manager
// logger, so sessions log to wherever the application's logging service
// writes.
type serviceWriter struct {
	log logging.Logger
}

func (w serviceWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w serviceWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return 0, fmt.Errorf("decoding log event: %w", err)
	}

	msg, _ := fields[zerolog.MessageFieldName].(string)
	delete(fields, zerolog.MessageFieldName)
	delete(fields, zerolog.LevelFieldName)

	ev := eventAt(w.log, level)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		ev = ev.Interface(k, fields[k])
	}
	ev.Msg(msg)
	return len(p), nil
}

func eventAt(l logging.Logger, level zerolog.Level) logging.LogEvent {
	switch level {
	case zerolog.TraceLevel:
		return l.TraceWith()
	case zerolog.DebugLevel:
		return l.DebugWith()
	case zerolog.WarnLevel:
		return l.WarnWith()
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		// fatal and panic are left to zerolog itself
		return l.ErrorWith()
	}
	return l.InfoWith()
}

// newServiceLogger returns a zerolog logger whose events are written through
// svc. The logger's level follows the service's configured level when known.
func newServiceLogger(svc *logging.Service) zerolog.Logger {
	logger := zerolog.New(serviceWriter{log: svc})
	if svc.LoggingConfig != nil {
		if level, err := zerolog.ParseLevel(svc.LoggingConfig.Level); err == nil {
			logger = logger.Level(level)
		}
	}
	return logger
}
