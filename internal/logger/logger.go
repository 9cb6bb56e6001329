package logger

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrAlreadyInitialized is returned by Init until Shutdown is called
var ErrAlreadyInitialized = errors.New("logger already initialized")

var current atomic.Pointer[SlogLogger]

// Init installs the process-wide logger
func Init(config Config) error {
	l, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	if !current.CompareAndSwap(nil, l) {
		_ = l.Shutdown()
		return ErrAlreadyInitialized
	}
	return nil
}

// Get returns the process-wide logger, or a NullLogger before Init
func Get() Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return &NullLogger{}
}

// With returns a child of the process-wide logger carrying args
func With(args ...any) Logger {
	return Get().With(args...)
}

// Shutdown removes the process-wide logger and closes its writers.
// Init may be called again afterwards.
func Shutdown() error {
	if l := current.Swap(nil); l != nil {
		return l.Shutdown()
	}
	return nil
}

// NullLogger discards everything
type NullLogger struct{}

func (n *NullLogger) Debug(msg string, args ...any) {}
func (n *NullLogger) Info(msg string, args ...any)  {}
func (n *NullLogger) Warn(msg string, args ...any)  {}
func (n *NullLogger) Error(msg string, args ...any) {}
func (n *NullLogger) With(args ...any) Logger       { return n }
func (n *NullLogger) Shutdown() error               { return nil }
