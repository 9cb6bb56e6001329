package walker

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Ning0612/treesync/internal/adapter"
	"github.com/Ning0612/treesync/internal/domain"
)

// Options configures a walk
type Options struct {
	// Side labels warnings ("source" or "target")
	Side string

	// CopyLinks yields symlinks to regular files as the files they point at
	CopyLinks bool

	// Exclude hides matching paths; excluded directories are not descended into
	Exclude *Matcher

	// OnWarning is called for every unreadable entry, in walk order
	OnWarning func(domain.Warning)
}

// frame is one directory listing being consumed
type frame struct {
	dir      string
	entries  []domain.Entry
	next     int
	excluded bool
}

// Walker enumerates every entry under a root, depth-first.
//
// A directory is yielded before its children and siblings come in name order,
// so the stream is sorted under domain.ComparePaths. The root itself is not
// yielded. A Walker is single-use.
type Walker struct {
	adapter  adapter.Adapter
	opts     Options
	stack    []frame
	started  bool
	done     bool
	warnings []domain.Warning
	holders  []string
}

// New creates a walker over the adapter's root.
// Returns domain.ErrRootNotFound when the root is missing or not a directory.
func New(ctx context.Context, a adapter.Adapter, opts Options) (*Walker, error) {
	root, err := a.StatFollow(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, a.Root(), err)
	}
	if !root.IsDir() {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, a.Root(), domain.ErrNotDirectory)
	}

	return &Walker{adapter: a, opts: opts}, nil
}

// Next returns the next entry, or io.EOF when the walk is finished.
// After io.EOF every call returns io.EOF again.
func (w *Walker) Next(ctx context.Context) (domain.Entry, error) {
	if w.done {
		return domain.Entry{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	if !w.started {
		w.started = true
		w.push(ctx, "")
	}

	for {
		if err := ctx.Err(); err != nil {
			return domain.Entry{}, err
		}
		if len(w.stack) == 0 {
			w.done = true
			return domain.Entry{}, io.EOF
		}

		top := &w.stack[len(w.stack)-1]
		if top.next >= len(top.entries) {
			w.stack = w.stack[:len(w.stack)-1]
			continue
		}
		entry := top.entries[top.next]
		top.next++

		if w.opts.Exclude.Match(entry.Path, entry.IsDir()) {
			if !top.excluded {
				top.excluded = true
				w.holders = append(w.holders, top.dir)
			}
			continue
		}

		if entry.IsSymlink() && w.opts.CopyLinks {
			entry = w.follow(ctx, entry)
		}

		// push after reading top: the append may move the stack
		if entry.IsDir() {
			w.push(ctx, entry.Path)
		}
		return entry, nil
	}
}

// Warnings returns the unreadable entries met so far
func (w *Walker) Warnings() []domain.Warning {
	return w.warnings
}

// ExcludedHolders returns the directories met so far that directly contain
// an excluded entry. The root is reported as "".
func (w *Walker) ExcludedHolders() []string {
	return w.holders
}

// push lists dir and makes its children the next entries to yield
func (w *Walker) push(ctx context.Context, dir string) {
	entries, skipped, err := w.adapter.ReadDir(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return // Next reports the cancellation
		}
		w.warn(dir, err)
		return
	}
	for _, s := range skipped {
		w.warn(s.Path, s.Err)
	}
	if len(entries) > 0 {
		w.stack = append(w.stack, frame{dir: dir, entries: entries})
	}
}

// follow resolves a symlink to a regular file; anything else stays a link
func (w *Walker) follow(ctx context.Context, link domain.Entry) domain.Entry {
	target, err := w.adapter.StatFollow(ctx, link.Path)
	if err != nil || !target.IsFile() {
		return link
	}
	return target
}

func (w *Walker) warn(path string, err error) {
	if !errors.Is(err, domain.ErrAccessDenied) {
		err = fmt.Errorf("%w: %w", domain.ErrAccessDenied, err)
	}
	warning := domain.Warning{Side: w.opts.Side, Path: path, Err: err}
	w.warnings = append(w.warnings, warning)
	if w.opts.OnWarning != nil {
		w.opts.OnWarning(warning)
	}
}

// Collect drains a walker into a slice
func Collect(ctx context.Context, w *Walker) ([]domain.Entry, error) {
	var entries []domain.Entry
	for {
		entry, err := w.Next(ctx)
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, entry)
	}
}
