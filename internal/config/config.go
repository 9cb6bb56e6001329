package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/logger"
)

// Config represents the complete configuration for treesync
type Config struct {
	// Sync holds the options of every run
	Sync domain.Options `mapstructure:"sync"`

	// Log configures the logger
	Log LogConfig `mapstructure:"log"`

	// History configures the run history database
	History HistoryConfig `mapstructure:"history"`

	// MetricsFile, when set, receives Prometheus metrics after each run
	MetricsFile string `mapstructure:"metrics_file"`

	// LockDir holds the per-target lock files; empty selects the user cache dir
	LockDir string `mapstructure:"lock_dir"`
}

// LogConfig configures logging
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	NoColor    bool   `mapstructure:"no_color"`
}

// HistoryConfig configures the run history
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Sync: domain.DefaultOptions(),
		Log: LogConfig{
			Level:      "warn",
			Format:     "text",
			MaxSizeMB:  10,
			MaxAgeDays: 30,
			MaxBackups: 3,
		},
		History: HistoryConfig{
			Dir: DefaultDataDir(),
		},
	}
}

// DefaultDataDir returns the directory holding the history database
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "treesync")
	}
	return filepath.Join(".", ".treesync")
}

// Validate checks if the configuration is complete and consistent
func (c *Config) Validate() error {
	if err := c.Sync.Validate(); err != nil {
		return err
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	if c.Log.File != "" && c.Log.MaxSizeMB < 0 {
		return fmt.Errorf("%w: log max size must not be negative", domain.ErrConfigInvalid)
	}

	if c.History.Enabled && c.History.Dir == "" {
		return fmt.Errorf("%w: history enabled without a directory", domain.ErrConfigInvalid)
	}

	return nil
}

// LoggerConfig converts the validated log section into a logger configuration.
// Logs go to stderr, and to a rotated file when one is set.
func (c *Config) LoggerConfig() logger.Config {
	level, _ := logger.ParseLevel(c.Log.Level)
	format, _ := logger.ParseFormat(c.Log.Format)
	cfg := logger.Config{
		Level:   level,
		Format:  format,
		NoColor: c.Log.NoColor,
		Outputs: []logger.OutputConfig{{Type: logger.OutputStderr}},
	}
	if c.Log.File != "" {
		cfg.Outputs = append(cfg.Outputs, logger.OutputConfig{Type: logger.OutputFile})
		cfg.File = logger.FileConfig{
			Path:       c.Log.File,
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxAgeDays: c.Log.MaxAgeDays,
			MaxBackups: c.Log.MaxBackups,
			Compress:   c.Log.Compress,
		}
	}
	return cfg
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.Log.File, &c.History.Dir, &c.MetricsFile, &c.LockDir} {
		if *p != "" {
			*p = ExpandPath(*p)
		}
	}
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	// Expand ~ to home directory
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			if len(path) > 1 && (path[1] == '/' || path[1] == filepath.Separator) {
				path = filepath.Join(home, path[2:])
			} else if len(path) == 1 {
				path = home
			}
		}
	}
	// Expand environment variables
	path = os.ExpandEnv(path)
	return filepath.Clean(path)
}
