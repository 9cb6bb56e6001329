package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/Ning0612/treesync/internal/adapter"
	"github.com/Ning0612/treesync/internal/adapter/local"
	"github.com/Ning0612/treesync/internal/core/diff"
	"github.com/Ning0612/treesync/internal/core/executor"
	"github.com/Ning0612/treesync/internal/core/planner"
	"github.com/Ning0612/treesync/internal/core/walker"
	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/logger"
	"github.com/Ning0612/treesync/internal/progress"
)

// Synchronize makes the target tree mirror the source tree.
//
// The returned error is non-nil only for conditions that stop the run before
// any operation executes: invalid options, a missing root, overlapping roots
// or cancellation during the walk. Per-entry and per-operation problems are
// reported through reporter and recorded in the outcome.
func Synchronize(ctx context.Context, source, target string, opts domain.Options,
	reporter progress.Reporter, log logger.Logger) (*domain.Outcome, error) {
	return run(ctx, uuid.NewString(), source, target, opts, reporter, log)
}

func run(ctx context.Context, runID, source, target string, opts domain.Options,
	reporter progress.Reporter, log logger.Logger) (*domain.Outcome, error) {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	if log == nil {
		log = &logger.NullLogger{}
	}
	log = log.With("run_id", runID)

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
	}

	srcAdapter, err := local.New(source, local.WithBufferSize(opts.BufferSize))
	if err != nil {
		log.Error("Source root unavailable", "path", source, "error", err)
		return nil, err
	}
	defer srcAdapter.Close()

	// before openTarget, which may create the target root
	if err := checkOverlap(source, target); err != nil {
		return nil, err
	}

	tgtAdapter, err := openTarget(target, opts)
	if err != nil {
		log.Error("Target root unavailable", "path", target, "error", err)
		return nil, err
	}
	if tgtAdapter != nil {
		defer tgtAdapter.Close()
	}

	log.Info("Starting sync",
		"source", source,
		"target", target,
		"delete", opts.DeleteExtraneous,
		"checksum", opts.StrictChecksum,
		"dry_run", opts.DryRun,
		"concurrency", opts.Concurrency,
	)

	outcome := domain.NewOutcome(runID, srcAdapter.Root(), absPath(target))

	onWarning := func(w domain.Warning) {
		log.Warn("Entry skipped", "side", w.Side, "path", w.Path, "error", w.Err)
		reporter.Warning(w)
	}
	exclude := walker.NewMatcher(opts.Exclude)

	srcWalker, err := walker.New(ctx, srcAdapter, walker.Options{
		Side:      "source",
		CopyLinks: opts.CopyLinks,
		Exclude:   exclude,
		OnWarning: onWarning,
	})
	if err != nil {
		return nil, walkError(ctx, err)
	}

	var tgtStream diff.Stream = emptyStream{}
	var tgtWalker *walker.Walker
	var tgtFingerprints diff.Fingerprinter
	if tgtAdapter != nil {
		tgtWalker, err = walker.New(ctx, tgtAdapter, walker.Options{
			Side:      "target",
			Exclude:   exclude,
			OnWarning: onWarning,
		})
		if err != nil {
			return nil, walkError(ctx, err)
		}
		tgtStream = tgtWalker
		tgtFingerprints = tgtAdapter
	}

	comparer := diff.NewComparer(opts, srcAdapter, tgtFingerprints, log)
	changes, err := diff.NewDiffer(comparer).Diff(ctx, srcWalker, tgtStream)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("Sync cancelled while comparing trees")
			return nil, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}
		return nil, fmt.Errorf("failed to compare trees: %w", err)
	}

	counts := diff.Summary(changes)
	log.Debug("Trees compared",
		"paths", len(changes),
		"only_in_source", counts[domain.OnlyInSource],
		"only_in_target", counts[domain.OnlyInTarget],
		"equal", counts[domain.EqualInBoth],
		"type_changed", counts[domain.DifferInType],
		"content_changed", counts[domain.DifferInContent],
		"metadata_changed", counts[domain.DifferInMetadataOnly],
	)

	outcome.Warnings = append(outcome.Warnings, srcWalker.Warnings()...)
	if tgtWalker != nil {
		outcome.Warnings = append(outcome.Warnings, tgtWalker.Warnings()...)
	}

	p := planner.New(opts, srcWalker.Warnings())
	if tgtWalker != nil {
		p.KeepExcluded(tgtWalker.ExcludedHolders())
	}
	plan := p.Plan(changes)
	log.Info("Sync plan created",
		"operations", plan.Len(),
		"dirs_to_create", plan.Stats.DirsToCreate,
		"files_to_copy", plan.Stats.FilesToCopy,
		"files_to_update", plan.Stats.FilesToUpdate,
		"deletions", plan.Stats.Deletions,
		"suppressed", plan.Stats.Suppressed,
		"bytes_to_sync", humanize.IBytes(uint64(plan.Stats.BytesToSync)),
	)
	reporter.PlanReady(plan.Len())

	// nil only for a dry run into a target that does not exist yet
	var targetFS adapter.Adapter
	if tgtAdapter != nil {
		targetFS = tgtAdapter
	}
	executor.New(srcAdapter, targetFS, opts, reporter, log).Execute(ctx, plan, outcome)
	outcome.Finish()

	log.Info("Sync finished",
		"succeeded", outcome.Totals.Succeeded,
		"skipped", outcome.Totals.Skipped,
		"failed", outcome.Totals.Failed,
		"transferred", humanize.IBytes(uint64(outcome.BytesTransferred)),
		"elapsed", outcome.Elapsed,
		"cancelled", outcome.Cancelled,
	)
	reporter.RunDone(outcome)

	return outcome, nil
}

// walkError reports a failed walk start as a cancellation when ctx is done
func walkError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", domain.ErrCancelled, ctx.Err())
	}
	return err
}

// openTarget opens the target root, creating it when asked to.
// A dry run never creates the root; it returns a nil adapter and the
// target is treated as empty.
func openTarget(target string, opts domain.Options) (*local.Adapter, error) {
	localOpts := []local.Option{local.WithBufferSize(opts.BufferSize)}
	if opts.CreateTarget && !opts.DryRun {
		localOpts = append(localOpts, local.WithCreate())
	}

	a, err := local.New(target, localOpts...)
	if err != nil && opts.CreateTarget && opts.DryRun && errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// checkOverlap rejects a target inside the source or the other way round
func checkOverlap(source, target string) error {
	src, err := resolve(source)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, source, err)
	}
	tgt, err := resolve(target)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrRootNotFound, target, err)
	}

	if within(src, tgt) || within(tgt, src) {
		return fmt.Errorf("%w: %s and %s", domain.ErrSameRoot, source, target)
	}
	return nil
}

// resolve returns the absolute path with symlinks evaluated as far as the
// path exists
func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	var rest []string
	for dir := abs; ; dir = filepath.Dir(dir) {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		rest = append([]string{filepath.Base(dir)}, rest...)
	}
}

// within reports whether p equals dir or lies below it
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// emptyStream stands in for a target root that does not exist yet
type emptyStream struct{}

func (emptyStream) Next(context.Context) (domain.Entry, error) {
	return domain.Entry{}, io.EOF
}
