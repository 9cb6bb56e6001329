package diff

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/logger"
)

// Fingerprinter computes content fingerprints on demand
type Fingerprinter interface {
	Fingerprint(ctx context.Context, path string) (string, error)
}

// Stream yields entries sorted under domain.ComparePaths and io.EOF at the end
type Stream interface {
	Next(ctx context.Context) (domain.Entry, error)
}

// Comparer classifies a path present in both trees.
// Size and mtime decide file equality unless Strict is set; fingerprints
// are only computed when Strict is set and sizes match.
type Comparer struct {
	Tolerance time.Duration
	Strict    bool
	Source    Fingerprinter
	Target    Fingerprinter
	Log       logger.Logger
}

// NewComparer creates a comparer from run options
func NewComparer(opts domain.Options, source, target Fingerprinter, log logger.Logger) *Comparer {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &Comparer{
		Tolerance: opts.TimeTolerance,
		Strict:    opts.StrictChecksum,
		Source:    source,
		Target:    target,
		Log:       log,
	}
}

// Compare classifies one path from its two optional snapshots.
// Fingerprints computed here are stored on the entries for later verification.
func (c *Comparer) Compare(ctx context.Context, src, tgt *domain.Entry) domain.Classification {
	switch {
	case src == nil && tgt == nil:
		return domain.EqualInBoth
	case tgt == nil:
		return domain.OnlyInSource
	case src == nil:
		return domain.OnlyInTarget
	case src.Kind != tgt.Kind:
		return domain.DifferInType
	}

	switch src.Kind {
	case domain.KindDirectory:
		// Directory mtimes follow their children; only permissions matter
		if src.Mode != tgt.Mode {
			return domain.DifferInMetadataOnly
		}
		return domain.EqualInBoth

	case domain.KindSymlink:
		if src.LinkTarget != tgt.LinkTarget {
			return domain.DifferInContent
		}
		return domain.EqualInBoth
	}

	if src.Size != tgt.Size {
		return domain.DifferInContent
	}

	timeMatch := c.withinTolerance(src.ModTime, tgt.ModTime)
	if !c.Strict && !timeMatch {
		return domain.DifferInContent
	}
	if c.Strict && !c.sameContent(ctx, src, tgt) {
		return domain.DifferInContent
	}

	if src.Mode != tgt.Mode || !timeMatch {
		return domain.DifferInMetadataOnly
	}
	return domain.EqualInBoth
}

func (c *Comparer) withinTolerance(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= c.Tolerance
}

// sameContent compares fingerprints; any error counts as different so the file is recopied
func (c *Comparer) sameContent(ctx context.Context, src, tgt *domain.Entry) bool {
	if src.Fingerprint == "" {
		sum, err := c.Source.Fingerprint(ctx, src.Path)
		if err != nil {
			c.Log.Warn("Fingerprint failed", "side", "source", "path", src.Path, "error", err)
			return false
		}
		src.Fingerprint = sum
	}
	if tgt.Fingerprint == "" {
		sum, err := c.Target.Fingerprint(ctx, tgt.Path)
		if err != nil {
			c.Log.Warn("Fingerprint failed", "side", "target", "path", tgt.Path, "error", err)
			return false
		}
		tgt.Fingerprint = sum
	}
	return src.Fingerprint == tgt.Fingerprint
}

// Differ merges two sorted entry streams into classified changes
type Differ struct {
	comparer *Comparer
}

// NewDiffer creates a differ using the given comparer
func NewDiffer(c *Comparer) *Differ {
	return &Differ{comparer: c}
}

// cursor holds the lookahead of one stream
type cursor struct {
	stream Stream
	entry  domain.Entry
	ok     bool
}

func (c *cursor) advance(ctx context.Context) error {
	entry, err := c.stream.Next(ctx)
	if errors.Is(err, io.EOF) {
		c.ok = false
		return nil
	}
	if err != nil {
		return err
	}
	c.entry, c.ok = entry, true
	return nil
}

// Diff merge-joins source and target in one linear pass.
// Every distinct path yields exactly one Change, in path order.
func (d *Differ) Diff(ctx context.Context, source, target Stream) ([]domain.Change, error) {
	src := &cursor{stream: source}
	tgt := &cursor{stream: target}
	if err := src.advance(ctx); err != nil {
		return nil, err
	}
	if err := tgt.advance(ctx); err != nil {
		return nil, err
	}

	var changes []domain.Change
	for src.ok || tgt.ok {
		var change domain.Change

		cmp := 0
		switch {
		case !tgt.ok:
			cmp = -1
		case !src.ok:
			cmp = 1
		default:
			cmp = domain.ComparePaths(src.entry.Path, tgt.entry.Path)
		}

		switch {
		case cmp < 0:
			s := src.entry
			change = domain.Change{Path: s.Path, Source: &s}
			if err := src.advance(ctx); err != nil {
				return nil, err
			}
		case cmp > 0:
			t := tgt.entry
			change = domain.Change{Path: t.Path, Target: &t}
			if err := tgt.advance(ctx); err != nil {
				return nil, err
			}
		default:
			s, t := src.entry, tgt.entry
			change = domain.Change{Path: s.Path, Source: &s, Target: &t}
			if err := src.advance(ctx); err != nil {
				return nil, err
			}
			if err := tgt.advance(ctx); err != nil {
				return nil, err
			}
		}

		change.Class = d.comparer.Compare(ctx, change.Source, change.Target)
		changes = append(changes, change)
	}

	return changes, nil
}

// Summary counts changes per classification
func Summary(changes []domain.Change) map[domain.Classification]int {
	counts := make(map[domain.Classification]int)
	for _, c := range changes {
		counts[c.Class]++
	}
	return counts
}
