package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

// SlogLogger implements Logger on log/slog.
// Attributes with credential-like keys are masked by the handler.
type SlogLogger struct {
	logger  *slog.Logger
	writers []io.WriteCloser // owned; nil for loggers returned by With
}

// NewSlogLogger builds a logger writing to every configured output
func NewSlogLogger(config Config) (*SlogLogger, error) {
	writers, owned, err := openOutputs(config)
	if err != nil {
		return nil, err
	}
	return &SlogLogger{
		logger:  slog.New(newHandler(config, writers)),
		writers: owned,
	}, nil
}

// openOutputs resolves the configured outputs; stderr when none is set
func openOutputs(config Config) ([]io.Writer, []io.WriteCloser, error) {
	var writers []io.Writer
	var owned []io.WriteCloser

	for _, output := range config.Outputs {
		switch output.Type {
		case OutputFile:
			fw, err := newFileWriter(config.File)
			if err != nil {
				return nil, nil, err
			}
			writers = append(writers, fw)
			owned = append(owned, fw)
		default:
			w := output.Writer
			if w == nil {
				w = os.Stderr
				if output.Type == OutputStdout {
					w = os.Stdout
				}
			}
			writers = append(writers, w)
			if wc, ok := w.(io.WriteCloser); ok && wc != os.Stdout && wc != os.Stderr {
				owned = append(owned, wc)
			}
		}
	}

	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}
	return writers, owned, nil
}

// newHandler picks the slog handler for the configured format.
// Text logs going only to a terminal are colored.
func newHandler(config Config, writers []io.Writer) slog.Handler {
	if config.Format == FormatJSON {
		return slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
			Level:       config.Level,
			ReplaceAttr: maskAttr,
		})
	}
	if len(writers) == 1 && isTerminal(writers[0]) {
		return tint.NewHandler(writers[0], &tint.Options{
			Level:       config.Level,
			TimeFormat:  time.TimeOnly,
			NoColor:     config.NoColor,
			ReplaceAttr: maskAttr,
		})
	}
	return slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level:       config.Level,
		ReplaceAttr: maskAttr,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// newFileWriter returns a size-rotated log file
func newFileWriter(config FileConfig) (io.WriteCloser, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSizeMB,
		MaxAge:     config.MaxAgeDays,
		MaxBackups: config.MaxBackups,
		Compress:   config.Compress,
	}, nil
}

func (l *SlogLogger) Debug(msg string, args ...any) {
	l.logger.Debug(SanitizeMessage(msg), args...)
}

func (l *SlogLogger) Info(msg string, args ...any) {
	l.logger.Info(SanitizeMessage(msg), args...)
}

func (l *SlogLogger) Warn(msg string, args ...any) {
	l.logger.Warn(SanitizeMessage(msg), args...)
}

func (l *SlogLogger) Error(msg string, args ...any) {
	l.logger.Error(SanitizeMessage(msg), args...)
}

// With returns a child logger carrying args. The child shares the writers
// but does not own them.
func (l *SlogLogger) With(args ...any) Logger {
	return &SlogLogger{logger: l.logger.With(args...)}
}

// Shutdown closes the owned writers
func (l *SlogLogger) Shutdown() error {
	var errs []error
	for _, w := range l.writers {
		errs = append(errs, w.Close())
	}
	l.writers = nil
	return errors.Join(errs...)
}
