package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Ning0612/treesync/internal/domain"
)

const (
	// ConfigName is the base name of the config file searched for
	ConfigName = "treesync"

	// EnvPrefix prefixes environment overrides, e.g. TREESYNC_SYNC_CONCURRENCY
	EnvPrefix = "TREESYNC"
)

// flagKeys maps command-line flags to config keys
var flagKeys = map[string]string{
	"checksum":       "sync.checksum",
	"fail-fast":      "sync.fail_fast",
	"concurrency":    "sync.concurrency",
	"time-tolerance": "sync.time_tolerance",
	"copy-links":     "sync.copy_links",
	"dry-run":        "sync.dry_run",
	"mkdir":          "sync.create_target",
	"buffer-size":    "sync.buffer_size",
	"log-level":      "log.level",
	"log-format":     "log.format",
	"log-file":       "log.file",
	"no-color":       "log.no_color",
	"history":        "history.enabled",
	"history-dir":    "history.dir",
	"metrics-file":   "metrics_file",
	"lock-dir":       "lock_dir",
}

// DefaultConfigPaths returns the default paths to search for config files
func DefaultConfigPaths() []string {
	paths := []string{"."}

	// Add user config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(configDir, "treesync"))
	}

	// Add home directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".treesync"))
	}

	return paths
}

// Load merges defaults, the config file, TREESYNC_* environment variables
// and changed flags, in increasing precedence.
//
// If path is empty the default locations are searched and a missing file is
// not an error. An explicit path that does not exist returns ErrConfigNotFound.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(ExpandPath(path))
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case path == "" && errors.As(err, &notFound):
			// no config file is fine
		case errors.As(err, &notFound), errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromString parses configuration from a YAML string on top of the defaults
func LoadFromString(yamlContent string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if err := v.ReadConfig(strings.NewReader(yamlContent)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfigInvalid, err)
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("sync.delete", d.Sync.DeleteExtraneous)
	v.SetDefault("sync.checksum", d.Sync.StrictChecksum)
	v.SetDefault("sync.fail_fast", d.Sync.FailFast)
	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.time_tolerance", d.Sync.TimeTolerance)
	v.SetDefault("sync.copy_links", d.Sync.CopyLinks)
	v.SetDefault("sync.exclude", []string{})
	v.SetDefault("sync.dry_run", d.Sync.DryRun)
	v.SetDefault("sync.create_target", d.Sync.CreateTarget)
	v.SetDefault("sync.buffer_size", d.Sync.BufferSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.no_color", d.Log.NoColor)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.dir", d.History.Dir)

	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("lock_dir", d.LockDir)
}

// bindFlags binds every known flag present in the set.
// --exclude and --no-delete are set directly and only apply when given;
// --no-delete is the inverse of sync.delete.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("%w: flag --%s: %v", domain.ErrConfigInvalid, name, err)
		}
	}

	// viper reads string arrays back as CSV, which would split "{a,b}.txt"
	if f := flags.Lookup("exclude"); f != nil && f.Changed {
		patterns, err := flags.GetStringArray("exclude")
		if err != nil {
			return fmt.Errorf("%w: flag --exclude: %v", domain.ErrConfigInvalid, err)
		}
		v.Set("sync.exclude", patterns)
	}

	if f := flags.Lookup("no-delete"); f != nil && f.Changed {
		noDelete, err := flags.GetBool("no-delete")
		if err != nil {
			return fmt.Errorf("%w: flag --no-delete: %v", domain.ErrConfigInvalid, err)
		}
		v.Set("sync.delete", !noDelete)
	}

	return nil
}
