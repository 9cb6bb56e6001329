package planner

import (
	"slices"

	"github.com/Ning0612/treesync/internal/domain"
)

// ownerRWX is required on a directory before entries can be created or removed in it
const ownerRWX = 0o700

// Planner turns classified changes into an ordered plan
type Planner struct {
	deleteExtraneous bool
	unreadable       []string
	// target directories that hold excluded entries, with their ancestors
	holding map[string]bool
}

// New creates a planner.
// sourceWarnings are the paths the source walk could not read; target
// entries under them are never deleted.
func New(opts domain.Options, sourceWarnings []domain.Warning) *Planner {
	p := &Planner{deleteExtraneous: opts.DeleteExtraneous}
	for _, w := range sourceWarnings {
		p.unreadable = append(p.unreadable, w.Path)
	}
	return p
}

// KeepExcluded marks target directories that directly contain excluded
// entries. Excluded entries are never deleted, so neither these directories
// nor their ancestors can be removed.
func (p *Planner) KeepExcluded(holders []string) *Planner {
	if p.holding == nil {
		p.holding = make(map[string]bool)
	}
	for _, dir := range holders {
		for d := dir; d != "" && !p.holding[d]; d = domain.ParentPath(d) {
			p.holding[d] = true
		}
	}
	return p
}

// phases collects operations before they are concatenated.
//
//	unlock   existing read-only directories that receive new children (forward)
//	replace  deletions at or under a type change (reverse)
//	apply    creations and updates (forward)
//	prune    extraneous deletions (reverse)
//	finalize directory permissions (reverse)
type phases struct {
	unlock, replace, apply, prune, finalize []domain.Operation
}

// Plan maps changes to operations. changes must be in path order, as the differ returns them.
func (p *Planner) Plan(changes []domain.Change) *domain.Plan {
	var ph phases

	// directories being replaced by another kind, whose contents go with them
	var replaced []string
	// existing target directories without owner rwx
	restricted := make(map[string]domain.Change)

	for _, c := range changes {
		if c.Target != nil && c.Target.IsDir() && c.Target.Mode&ownerRWX != ownerRWX {
			restricted[c.Path] = c
		}

		switch c.Class {
		case domain.EqualInBoth:
			continue

		case domain.OnlyInSource:
			p.create(&ph, c.Source)

		case domain.OnlyInTarget:
			op := deleteOp(c.Target)
			op.SkipReason = p.deleteSkipReason(c.Path)
			if underAny(c.Path, replaced) {
				ph.replace = append(ph.replace, op)
			} else {
				ph.prune = append(ph.prune, op)
			}

		case domain.DifferInType:
			op := deleteOp(c.Target)
			if !p.deleteExtraneous && c.Target.IsDir() {
				op.SkipReason = domain.SkipTypeChangeKept
				ph.prune = append(ph.prune, op)
				continue
			}
			if p.holding[c.Path] {
				op.SkipReason = domain.SkipContainsExcluded
				ph.prune = append(ph.prune, op)
				continue
			}
			ph.replace = append(ph.replace, op)
			if c.Target.IsDir() {
				replaced = append(replaced, c.Path)
			}
			p.create(&ph, c.Source)

		case domain.DifferInContent:
			kind := domain.OpUpdateFile
			if c.Source.IsSymlink() {
				kind = domain.OpUpdateSymlink
			}
			ph.apply = append(ph.apply, domain.Operation{
				Kind: kind, Path: c.Path, Source: c.Source, Target: c.Target, Mode: c.Source.Mode,
			})

		case domain.DifferInMetadataOnly:
			op := domain.Operation{
				Kind: domain.OpSetPermissions, Path: c.Path, Source: c.Source, Target: c.Target, Mode: c.Source.Mode,
			}
			if c.Source.IsDir() {
				ph.finalize = append(ph.finalize, op)
			} else {
				ph.apply = append(ph.apply, op)
			}
		}
	}

	p.unlockRestricted(&ph, restricted)

	ops := make([]domain.Operation, 0,
		len(ph.unlock)+len(ph.replace)+len(ph.apply)+len(ph.prune)+len(ph.finalize))
	ops = append(ops, ph.unlock...)
	ops = append(ops, reversed(ph.replace)...)
	ops = append(ops, ph.apply...)
	ops = append(ops, reversed(ph.prune)...)
	ops = append(ops, reversed(ph.finalize)...)

	plan := &domain.Plan{Operations: ops}
	calculateStats(plan)
	return plan
}

// create appends the operations that bring a source entry into existence
func (p *Planner) create(ph *phases, src *domain.Entry) {
	switch src.Kind {
	case domain.KindDirectory:
		ph.apply = append(ph.apply, domain.Operation{
			Kind: domain.OpCreateDirectory, Path: src.Path, Source: src, Mode: src.Mode,
		})
		// created owner-writable so contents can land first
		if src.Mode&ownerRWX != ownerRWX {
			ph.finalize = append(ph.finalize, domain.Operation{
				Kind: domain.OpSetPermissions, Path: src.Path, Source: src, Mode: src.Mode,
			})
		}
	case domain.KindSymlink:
		ph.apply = append(ph.apply, domain.Operation{
			Kind: domain.OpCreateSymlink, Path: src.Path, Source: src, Mode: src.Mode,
		})
	default:
		ph.apply = append(ph.apply, domain.Operation{
			Kind: domain.OpCopyFile, Path: src.Path, Source: src, Mode: src.Mode,
		})
	}
}

// unlockRestricted grants owner rwx on read-only target directories whose
// children are created or removed, and restores the final mode afterwards
func (p *Planner) unlockRestricted(ph *phases, restricted map[string]domain.Change) {
	if len(restricted) == 0 {
		return
	}

	needed := make(map[string]bool)
	for _, list := range [][]domain.Operation{ph.replace, ph.apply, ph.prune} {
		for _, op := range list {
			if op.SkipReason != "" || op.Kind == domain.OpSetPermissions {
				continue
			}
			if parent := domain.ParentPath(op.Path); parent != "" {
				if _, ok := restricted[parent]; ok {
					needed[parent] = true
				}
			}
		}
	}
	if len(needed) == 0 {
		return
	}

	dirs := make([]string, 0, len(needed))
	for dir := range needed {
		dirs = append(dirs, dir)
	}
	slices.SortFunc(dirs, domain.ComparePaths)

	for _, dir := range dirs {
		c := restricted[dir]
		ph.unlock = append(ph.unlock, domain.Operation{
			Kind: domain.OpSetPermissions, Path: dir, Target: c.Target,
			Mode: c.Target.Mode | ownerRWX,
		})

		// Directories that survive get their final mode back; metadata-only
		// changes already carry one
		if c.Class == domain.EqualInBoth {
			ph.finalize = insertSorted(ph.finalize, domain.Operation{
				Kind: domain.OpSetPermissions, Path: dir, Source: c.Source, Target: c.Target,
				Mode: c.Source.Mode,
			})
		}
	}
}

func (p *Planner) deleteSkipReason(path string) string {
	if underAny(path, p.unreadable) {
		return domain.SkipSourceUnreadable
	}
	if !p.deleteExtraneous {
		return domain.SkipDeletionSuppressed
	}
	if p.holding[path] {
		return domain.SkipContainsExcluded
	}
	return ""
}

func deleteOp(tgt *domain.Entry) domain.Operation {
	kind := domain.OpDeleteFile
	if tgt.IsDir() {
		kind = domain.OpDeleteDirectory
	}
	return domain.Operation{Kind: kind, Path: tgt.Path, Target: tgt}
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if domain.IsWithin(path, d) {
			return true
		}
	}
	return false
}

func reversed(ops []domain.Operation) []domain.Operation {
	out := slices.Clone(ops)
	slices.Reverse(out)
	return out
}

// insertSorted keeps a forward-ordered list sorted by path
func insertSorted(ops []domain.Operation, op domain.Operation) []domain.Operation {
	i, _ := slices.BinarySearchFunc(ops, op.Path, func(o domain.Operation, p string) int {
		return domain.ComparePaths(o.Path, p)
	})
	return slices.Insert(ops, i, op)
}

// calculateStats computes summary statistics for a plan
func calculateStats(plan *domain.Plan) {
	for _, op := range plan.Operations {
		if op.SkipReason != "" {
			plan.Stats.Suppressed++
			continue
		}
		switch op.Kind {
		case domain.OpCreateDirectory:
			plan.Stats.DirsToCreate++
		case domain.OpCopyFile:
			plan.Stats.FilesToCopy++
			plan.Stats.BytesToSync += op.Source.Size
		case domain.OpUpdateFile:
			plan.Stats.FilesToUpdate++
			plan.Stats.BytesToSync += op.Source.Size
		case domain.OpDeleteFile, domain.OpDeleteDirectory:
			plan.Stats.Deletions++
		case domain.OpCreateSymlink, domain.OpUpdateSymlink:
			plan.Stats.Symlinks++
		case domain.OpSetPermissions:
			plan.Stats.MetadataOnly++
		}
	}
}
