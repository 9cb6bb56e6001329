package domain

import "errors"

// Adapter errors
var (
	// ErrNotFound indicates the requested path does not exist
	ErrNotFound = errors.New("path not found")

	// ErrAlreadyExists indicates the path already exists
	ErrAlreadyExists = errors.New("path already exists")

	// ErrNotDirectory indicates a directory was expected
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotFile indicates a regular file was expected
	ErrNotFile = errors.New("not a file")

	// ErrDirectoryNotEmpty indicates a directory still has children
	ErrDirectoryNotEmpty = errors.New("directory not empty")

	// ErrOutsideRoot indicates a relative path escapes its root
	ErrOutsideRoot = errors.New("path escapes root")
)

// Sync errors
var (
	// ErrRootNotFound indicates a root is missing or not a directory. Fatal for the run.
	ErrRootNotFound = errors.New("root not found")

	// ErrAccessDenied indicates an entry could not be read; the entry is excluded from its side
	ErrAccessDenied = errors.New("access denied")

	// ErrOperationFailed indicates a single plan operation failed
	ErrOperationFailed = errors.New("operation failed")

	// ErrPartialWrite indicates a copy did not produce the expected content.
	// The destination path is left untouched.
	ErrPartialWrite = errors.New("partial write")

	// ErrCancelled indicates the run was cancelled before it finished
	ErrCancelled = errors.New("run cancelled")

	// ErrSameRoot indicates source and target resolve to overlapping trees
	ErrSameRoot = errors.New("source and target overlap")

	// ErrLocked indicates another run holds the target's lock
	ErrLocked = errors.New("target locked by another run")
)

// Config errors
var (
	// ErrConfigNotFound indicates an explicitly requested config file does not exist
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates a config file or flag value is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrOptionsInvalid indicates sync options failed validation
	ErrOptionsInvalid = errors.New("invalid sync options")
)
