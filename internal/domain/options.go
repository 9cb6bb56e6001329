package domain

import (
	"fmt"
	"runtime"
	"time"
)

const (
	// DefaultTimeTolerance is the mtime difference still treated as equal
	DefaultTimeTolerance = time.Second

	// DefaultBufferSize is the chunk size used when streaming file content
	DefaultBufferSize = 32 * 1024
)

// Options configures one synchronization run.
// It is validated once at the boundary and passed by value afterwards.
type Options struct {
	// DeleteExtraneous removes target entries that do not exist in the source
	DeleteExtraneous bool `mapstructure:"delete"`

	// StrictChecksum compares fingerprints whenever sizes match, ignoring mtimes
	StrictChecksum bool `mapstructure:"checksum"`

	// FailFast stops dispatching operations after the first failure
	FailFast bool `mapstructure:"fail_fast"`

	// Concurrency is the number of executor workers
	Concurrency int `mapstructure:"concurrency"`

	// TimeTolerance is the largest mtime difference treated as equal
	TimeTolerance time.Duration `mapstructure:"time_tolerance"`

	// CopyLinks copies the content behind symlinks to regular files
	// instead of recreating the links
	CopyLinks bool `mapstructure:"copy_links"`

	// Exclude holds gitignore-style patterns hidden on both sides
	Exclude []string `mapstructure:"exclude"`

	// DryRun plans and reports without touching the target
	DryRun bool `mapstructure:"dry_run"`

	// CreateTarget creates a missing target root
	CreateTarget bool `mapstructure:"create_target"`

	// BufferSize is the streaming copy chunk size in bytes
	BufferSize int `mapstructure:"buffer_size"`
}

// DefaultOptions returns the documented defaults
func DefaultOptions() Options {
	return Options{
		DeleteExtraneous: true,
		Concurrency:      runtime.NumCPU(),
		TimeTolerance:    DefaultTimeTolerance,
		BufferSize:       DefaultBufferSize,
	}
}

// Validate checks that the options are usable
func (o Options) Validate() error {
	if o.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrOptionsInvalid, o.Concurrency)
	}
	if o.TimeTolerance < 0 {
		return fmt.Errorf("%w: time tolerance must not be negative, got %s", ErrOptionsInvalid, o.TimeTolerance)
	}
	if o.BufferSize < 512 {
		return fmt.Errorf("%w: buffer size must be at least 512 bytes, got %d", ErrOptionsInvalid, o.BufferSize)
	}
	for _, p := range o.Exclude {
		if p == "" {
			return fmt.Errorf("%w: empty exclude pattern", ErrOptionsInvalid)
		}
	}
	return nil
}
