package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/Ning0612/treesync/internal/adapter"
	"github.com/Ning0612/treesync/internal/core/checksum"
	"github.com/Ning0612/treesync/internal/domain"
)

// tempPrefix marks in-flight files; a crash can leave one behind, never a partial destination
const tempPrefix = ".treesync-"

// Adapter implements adapter.Adapter for a local or mounted filesystem
type Adapter struct {
	root string
	fs   afero.Fs
	hash *checksum.Hasher
}

// Option customizes an Adapter
type Option func(*config)

type config struct {
	fs         afero.Fs
	create     bool
	bufferSize int
}

// WithFs replaces the OS filesystem, mainly for tests
func WithFs(fsys afero.Fs) Option {
	return func(c *config) { c.fs = fsys }
}

// WithCreate creates the root directory when it does not exist
func WithCreate() Option {
	return func(c *config) { c.create = true }
}

// WithBufferSize sets the streaming chunk size used by copies and fingerprints
func WithBufferSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates a new local filesystem adapter.
// root must be an existing directory unless WithCreate is given.
// Returns domain.ErrRootNotFound otherwise.
func New(root string, opts ...Option) (*Adapter, error) {
	cfg := config{
		fs:         afero.NewOsFs(),
		bufferSize: domain.DefaultBufferSize,
	}
	for _, o := range opts {
		o(&cfg)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	// The root itself may be a symlink to a directory
	info, err := cfg.fs.Stat(absRoot)
	if err != nil && os.IsNotExist(err) && cfg.create {
		if err := cfg.fs.MkdirAll(absRoot, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, root, mapError(err))
		}
		info, err = cfg.fs.Stat(absRoot)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, root, mapError(err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, root, domain.ErrNotDirectory)
	}

	hasher, err := checksum.NewHasher(checksum.SHA256, cfg.bufferSize)
	if err != nil {
		return nil, err
	}
	return &Adapter{root: absRoot, fs: cfg.fs, hash: hasher}, nil
}

// resolvePath safely resolves a relative path to absolute path within root
// Returns error if path attempts to escape root directory
func (a *Adapter) resolvePath(relPath string) (string, error) {
	if relPath == "" || relPath == "." {
		return a.root, nil
	}

	relPath = filepath.Clean(filepath.FromSlash(relPath))
	if filepath.IsAbs(relPath) {
		return "", fmt.Errorf("%w: %s", domain.ErrOutsideRoot, relPath)
	}

	fullPath := filepath.Join(a.root, relPath)

	// filepath.Rel handles root="C:\root" vs fullPath="C:\root2"
	rel, err := filepath.Rel(a.root, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", domain.ErrOutsideRoot, relPath)
	}

	return fullPath, nil
}

// Root returns the absolute root path of this adapter
func (a *Adapter) Root() string {
	return a.root
}

// Stat returns metadata for a single path without following symlinks
func (a *Adapter) Stat(ctx context.Context, path string) (domain.Entry, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return domain.Entry{}, err
	}

	info, err := a.lstat(fullPath)
	if err != nil {
		return domain.Entry{}, mapError(err)
	}
	return a.entryFromInfo(path, fullPath, info)
}

// StatFollow returns metadata for a single path, following symlinks
func (a *Adapter) StatFollow(ctx context.Context, path string) (domain.Entry, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return domain.Entry{}, err
	}

	info, err := a.fs.Stat(fullPath)
	if err != nil {
		return domain.Entry{}, mapError(err)
	}
	return a.entryFromInfo(path, fullPath, info)
}

// ReadDir returns the children of path sorted by name
func (a *Adapter) ReadDir(ctx context.Context, path string) ([]domain.Entry, []adapter.EntryError, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, nil, err
	}

	dir, err := a.fs.Open(fullPath)
	if err != nil {
		return nil, nil, mapError(err)
	}
	names, err := dir.Readdirnames(-1)
	dir.Close()
	if err != nil {
		return nil, nil, mapError(err)
	}
	sort.Strings(names)

	entries := make([]domain.Entry, 0, len(names))
	var skipped []adapter.EntryError
	for _, name := range names {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		childRel := joinRel(path, name)
		childFull := filepath.Join(fullPath, name)

		info, err := a.lstat(childFull)
		if err != nil {
			if os.IsNotExist(err) {
				continue // removed while listing
			}
			skipped = append(skipped, adapter.EntryError{Path: childRel, Err: mapError(err)})
			continue
		}

		entry, err := a.entryFromInfo(childRel, childFull, info)
		if err != nil {
			skipped = append(skipped, adapter.EntryError{Path: childRel, Err: err})
			continue
		}
		entries = append(entries, entry)
	}

	return entries, skipped, nil
}

// Fingerprint calculates the SHA-256 of a file
func (a *Adapter) Fingerprint(ctx context.Context, path string) (string, error) {
	reader, err := a.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	sum, err := a.hash.Sum(ctx, reader)
	if err != nil {
		return "", mapError(err)
	}
	return sum, nil
}

// Open opens a file for reading
func (a *Adapter) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return nil, err
	}

	file, err := a.fs.Open(fullPath)
	if err != nil {
		return nil, mapError(err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, mapError(err)
	}
	if info.IsDir() {
		file.Close()
		return nil, domain.ErrNotFile
	}

	return file, nil
}

// WriteFile streams r into a temporary file beside path, verifies it and renames it into place
func (a *Adapter) WriteFile(ctx context.Context, path string, r io.Reader, opts adapter.WriteOptions) (adapter.WriteResult, error) {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return adapter.WriteResult{}, err
	}

	dir, base := filepath.Split(fullPath)
	tmp, err := afero.TempFile(a.fs, dir, tempPrefix+base+"-*.tmp")
	if err != nil {
		return adapter.WriteResult{}, mapError(err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			a.fs.Remove(tmpPath)
		}
	}()

	n, sum, err := a.hash.Copy(ctx, tmp, r)
	if err != nil {
		return adapter.WriteResult{Bytes: n}, fmt.Errorf("%w: %w", domain.ErrPartialWrite, mapError(err))
	}
	if err := tmp.Sync(); err != nil {
		return adapter.WriteResult{Bytes: n}, mapError(err)
	}
	if err := tmp.Close(); err != nil {
		return adapter.WriteResult{Bytes: n}, mapError(err)
	}

	if opts.Size >= 0 && n != opts.Size {
		return adapter.WriteResult{Bytes: n, Fingerprint: sum},
			fmt.Errorf("%w: wrote %d bytes, expected %d", domain.ErrPartialWrite, n, opts.Size)
	}
	if opts.Fingerprint != "" && sum != opts.Fingerprint {
		return adapter.WriteResult{Bytes: n, Fingerprint: sum},
			fmt.Errorf("%w: content changed since planning", domain.ErrPartialWrite)
	}

	if err := a.fs.Chmod(tmpPath, opts.Mode&domain.PermMask); err != nil {
		return adapter.WriteResult{Bytes: n, Fingerprint: sum}, mapError(err)
	}
	if !opts.ModTime.IsZero() {
		if err := a.fs.Chtimes(tmpPath, opts.ModTime, opts.ModTime); err != nil {
			return adapter.WriteResult{Bytes: n, Fingerprint: sum}, mapError(err)
		}
	}

	if err := a.fs.Rename(tmpPath, fullPath); err != nil {
		return adapter.WriteResult{Bytes: n, Fingerprint: sum}, mapError(err)
	}
	committed = true

	return adapter.WriteResult{Bytes: n, Fingerprint: sum}, nil
}

// Mkdir creates a single directory
func (a *Adapter) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	if err := a.fs.Mkdir(fullPath, perm); err != nil {
		if !os.IsExist(err) {
			return mapError(err)
		}
		info, statErr := a.lstat(fullPath)
		if statErr != nil {
			return mapError(statErr)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, path)
		}
	}

	// Mkdir is subject to the umask
	return mapError(a.fs.Chmod(fullPath, perm&domain.PermMask))
}

// Remove deletes a file, symlink or empty directory
func (a *Adapter) Remove(ctx context.Context, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	if fullPath == a.root {
		return fmt.Errorf("%w: refusing to remove root", domain.ErrOutsideRoot)
	}

	return mapError(a.fs.Remove(fullPath))
}

// Symlink creates or atomically replaces a symlink
func (a *Adapter) Symlink(ctx context.Context, linkTarget, path string) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}

	linker, ok := a.fs.(afero.Linker)
	if !ok {
		return fmt.Errorf("%w: filesystem does not support symlinks", domain.ErrOperationFailed)
	}

	if _, err := a.lstat(fullPath); err != nil {
		if !os.IsNotExist(err) {
			return mapError(err)
		}
		return mapError(linker.SymlinkIfPossible(linkTarget, fullPath))
	}

	// Build the new link under a temporary name, then rename over the old one
	dir, base := filepath.Split(fullPath)
	tmpPath := filepath.Join(dir, tempPrefix+base+"-"+uuid.NewString()[:8]+".lnk")
	if err := linker.SymlinkIfPossible(linkTarget, tmpPath); err != nil {
		return mapError(err)
	}
	if err := a.fs.Rename(tmpPath, fullPath); err != nil {
		a.fs.Remove(tmpPath)
		return mapError(err)
	}
	return nil
}

// Chmod sets permission bits
func (a *Adapter) Chmod(ctx context.Context, path string, perm fs.FileMode) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	return mapError(a.fs.Chmod(fullPath, perm&domain.PermMask))
}

// Chtimes sets the modification time (access time follows it)
func (a *Adapter) Chtimes(ctx context.Context, path string, mtime time.Time) error {
	fullPath, err := a.resolvePath(path)
	if err != nil {
		return err
	}
	return mapError(a.fs.Chtimes(fullPath, mtime, mtime))
}

// Close releases any resources (no-op for local adapter)
func (a *Adapter) Close() error {
	return nil
}

func (a *Adapter) lstat(fullPath string) (os.FileInfo, error) {
	if l, ok := a.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(fullPath)
		return info, err
	}
	return a.fs.Stat(fullPath)
}

func (a *Adapter) readlink(fullPath string) (string, error) {
	r, ok := a.fs.(afero.LinkReader)
	if !ok {
		return "", fmt.Errorf("filesystem does not support symlinks")
	}
	return r.ReadlinkIfPossible(fullPath)
}

// entryFromInfo converts os.FileInfo to domain.Entry
func (a *Adapter) entryFromInfo(path, fullPath string, info os.FileInfo) (domain.Entry, error) {
	entry := domain.Entry{
		Path:    filepath.ToSlash(path),
		ModTime: info.ModTime(),
		Mode:    info.Mode() & domain.PermMask,
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		entry.Kind = domain.KindSymlink
		target, err := a.readlink(fullPath)
		if err != nil {
			return domain.Entry{}, mapError(err)
		}
		entry.LinkTarget = target
	case info.IsDir():
		entry.Kind = domain.KindDirectory
	case info.Mode().IsRegular():
		entry.Kind = domain.KindFile
		entry.Size = info.Size()
	default:
		// sockets, devices and pipes have no portable representation
		return domain.Entry{}, fmt.Errorf("%w: unsupported file type %s", domain.ErrNotFile, info.Mode().Type())
	}

	return entry, nil
}

func joinRel(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	return dir + "/" + name
}

// IsTempName reports whether name is an in-flight temporary created by this adapter
func IsTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// mapError converts OS errors to domain errors, keeping the cause
func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrAccessDenied):
		return err
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %w", domain.ErrAccessDenied, err)
	// ENOTEMPTY also satisfies os.IsExist on Linux
	case errors.Is(err, syscall.ENOTEMPTY):
		return fmt.Errorf("%w: %w", domain.ErrDirectoryNotEmpty, err)
	case errors.Is(err, syscall.ENOTDIR):
		return fmt.Errorf("%w: %w", domain.ErrNotDirectory, err)
	case os.IsExist(err):
		return fmt.Errorf("%w: %w", domain.ErrAlreadyExists, err)
	}

	return err
}
