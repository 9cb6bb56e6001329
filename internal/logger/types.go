package logger

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger handed to every component
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	Shutdown() error // close owned writers; loggers from With own none
}

// Level is a log severity
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// ParseLevel accepts debug, info, warn (or warning) and error in any case
func ParseLevel(s string) (Level, error) {
	if strings.EqualFold(s, "warning") {
		return LevelWarn, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return l, nil
}

// Format is the log line encoding
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts text or json in any case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON:
		return f, nil
	}
	return FormatText, fmt.Errorf("unknown log format %q", s)
}

// Output is a log destination
type Output int

const (
	OutputStderr Output = iota
	OutputStdout
	OutputFile
)

// Config describes how the logger is built.
// The zero value logs text at info level to stderr.
type Config struct {
	Level   Level
	Format  Format
	Outputs []OutputConfig
	File    FileConfig

	// NoColor disables colored text output on terminals
	NoColor bool
}

// OutputConfig selects one destination
type OutputConfig struct {
	Type   Output
	Writer io.Writer // replaces the standard stream when set
}

// FileConfig configures the rotated log file
type FileConfig struct {
	Path       string
	MaxSizeMB  int  // megabytes before rotation
	MaxAgeDays int  // days to retain old files
	MaxBackups int  // rotated files to keep
	Compress   bool // gzip rotated files
}
