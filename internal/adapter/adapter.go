package adapter

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/Ning0612/treesync/internal/domain"
)

// Adapter is the capability the engine uses for one root.
// All paths are slash-separated and relative to the root; "" is the root itself.
// Implementations return domain-level errors (wrapped) so callers can use errors.Is.
type Adapter interface {
	// Root returns the absolute root path
	Root() string

	// Stat returns the entry at path without following a final symlink
	// Returns domain.ErrNotFound if path doesn't exist
	Stat(ctx context.Context, path string) (domain.Entry, error)

	// StatFollow returns the entry at path, following symlinks
	StatFollow(ctx context.Context, path string) (domain.Entry, error)

	// ReadDir lists the children of a directory sorted by name.
	// Children that cannot be inspected are reported in the second return value
	// and left out of the entries. The error is set only when the directory
	// itself cannot be listed.
	ReadDir(ctx context.Context, path string) ([]domain.Entry, []EntryError, error)

	// Fingerprint streams the file content through SHA-256
	Fingerprint(ctx context.Context, path string) (string, error)

	// Open opens a file for reading, following symlinks
	// Caller is responsible for closing the reader
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// WriteFile streams r into path atomically: content lands in a temporary
	// file next to path and is renamed over it after verification
	WriteFile(ctx context.Context, path string, r io.Reader, opts WriteOptions) (WriteResult, error)

	// Mkdir creates a single directory; an existing directory is not an error
	Mkdir(ctx context.Context, path string, perm fs.FileMode) error

	// Remove deletes a file, a symlink or an empty directory
	Remove(ctx context.Context, path string) error

	// Symlink creates path pointing to linkTarget, atomically replacing an existing link
	Symlink(ctx context.Context, linkTarget, path string) error

	// Chmod sets permission bits
	Chmod(ctx context.Context, path string, perm fs.FileMode) error

	// Chtimes sets the modification time
	Chtimes(ctx context.Context, path string, mtime time.Time) error

	// Close releases any resources held by the adapter
	Close() error
}

// WriteOptions describes the expected content and final metadata of a write
type WriteOptions struct {
	// Size is the expected byte count; negative disables the check
	Size int64

	// Fingerprint is the expected hex SHA-256; empty disables the check
	Fingerprint string

	// Mode is applied before the rename
	Mode fs.FileMode

	// ModTime is applied before the rename when non-zero
	ModTime time.Time
}

// WriteResult reports what a write produced
type WriteResult struct {
	Bytes       int64
	Fingerprint string
}

// EntryError records a directory child that could not be inspected
type EntryError struct {
	Path string
	Err  error
}

func (e EntryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e EntryError) Unwrap() error {
	return e.Err
}
