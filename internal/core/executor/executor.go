package executor

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Ning0612/treesync/internal/adapter"
	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/logger"
	"github.com/Ning0612/treesync/internal/progress"
)

// ownerRWX is added to new directories so their contents can be written;
// the final mode is applied by a later SetPermissions
const ownerRWX = 0o700

// Executor applies a plan to the target tree
type Executor struct {
	source   adapter.Adapter
	target   adapter.Adapter
	opts     domain.Options
	reporter progress.Reporter
	log      logger.Logger
}

// New creates an executor reading from source and writing to target
func New(source, target adapter.Adapter, opts domain.Options, reporter progress.Reporter, log logger.Logger) *Executor {
	if reporter == nil {
		reporter = progress.NullReporter{}
	}
	if log == nil {
		log = &logger.NullLogger{}
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Executor{
		source:   source,
		target:   target,
		opts:     opts,
		reporter: reporter,
		log:      log,
	}
}

// completion is a worker's report back to the coordinator
type completion struct {
	index  int
	result domain.Result
}

// run is the coordinator state of one Execute call
type run struct {
	ops     []domain.Operation
	graph   *graph
	ready   readyQueue
	settled []bool
	blocked []bool
	outcome *domain.Outcome
}

// Execute applies every operation of plan and records each result in outcome.
//
// Operations run on up to Concurrency workers; an operation starts only
// after the operations it depends on have completed. Results are recorded by
// a single coordinator goroutine. Cancelling ctx or, with FailFast, the first
// failure stops dispatching; in-flight operations finish and the rest are
// recorded as skipped.
func (e *Executor) Execute(ctx context.Context, plan *domain.Plan, outcome *domain.Outcome) {
	n := len(plan.Operations)
	outcome.PlanSize = n
	outcome.DryRun = e.opts.DryRun
	if n == 0 {
		return
	}

	r := &run{
		ops:     plan.Operations,
		graph:   buildGraph(plan.Operations),
		settled: make([]bool, n),
		blocked: make([]bool, n),
		outcome: outcome,
	}
	for i, p := range r.graph.pending {
		if p == 0 {
			r.ready.push(i)
		}
	}

	// Dispatched operations run to completion regardless of cancellation
	opCtx := context.WithoutCancel(ctx)
	results := make(chan completion, n)

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)

	inflight := 0
	stopReason := ""
	done := ctx.Done()

	for {
		if stopReason == "" && ctx.Err() != nil {
			stopReason = domain.SkipCancelled
		}

		for stopReason == "" && inflight < e.opts.Concurrency && r.ready.Len() > 0 {
			i := r.ready.pop()
			if reason := e.skipReason(r, i); reason != "" {
				e.settle(r, i, domain.Result{Status: domain.StatusSkipped, Reason: reason})
				continue
			}

			op := r.ops[i]
			inflight++
			g.Go(func() error {
				e.reporter.OperationStart(op)
				results <- completion{index: i, result: e.apply(opCtx, op)}
				return nil
			})
		}

		if inflight == 0 {
			break
		}

		select {
		case c := <-results:
			inflight--
			e.settle(r, c.index, c.result)
			if c.result.Status == domain.StatusFailed && e.opts.FailFast && stopReason == "" {
				stopReason = domain.SkipFailFast
			}
		case <-done:
			done = nil
			if stopReason == "" {
				stopReason = domain.SkipCancelled
			}
		}
	}
	g.Wait()

	if stopReason == domain.SkipCancelled {
		outcome.Cancelled = true
	}
	for i := range r.ops {
		if !r.settled[i] {
			reason := stopReason
			if reason == "" {
				reason = domain.SkipDependency
			}
			e.record(r, i, domain.Result{Status: domain.StatusSkipped, Reason: reason})
		}
	}
}

// skipReason returns why a ready operation is not executed, or ""
func (e *Executor) skipReason(r *run, i int) string {
	switch {
	case r.blocked[i]:
		return domain.SkipDependency
	case r.ops[i].SkipReason != "":
		return r.ops[i].SkipReason
	case e.opts.DryRun:
		return domain.SkipDryRun
	}
	return ""
}

// settle records a result and releases the dependents of operation i
func (e *Executor) settle(r *run, i int, res domain.Result) {
	e.record(r, i, res)

	// Planned skips and dry runs satisfy their dependents; failures and
	// dependency skips block them
	ok := res.Status == domain.StatusSucceeded ||
		(res.Status == domain.StatusSkipped && res.Reason != domain.SkipDependency)

	for _, d := range r.graph.dependents[i] {
		if !ok {
			r.blocked[d] = true
		}
		r.graph.pending[d]--
		if r.graph.pending[d] == 0 {
			r.ready.push(d)
		}
	}
}

func (e *Executor) record(r *run, i int, res domain.Result) {
	op := r.ops[i]
	r.settled[i] = true
	r.outcome.Record(op, res)

	switch res.Status {
	case domain.StatusFailed:
		e.log.Warn("Operation failed", "op", op.Kind, "path", op.Path, "error", res.Err)
	case domain.StatusSkipped:
		e.log.Debug("Operation skipped", "op", op.Kind, "path", op.Path, "reason", res.Reason)
	default:
		e.log.Debug("Operation done", "op", op.Kind, "path", op.Path, "bytes", res.Bytes)
	}
	e.reporter.OperationDone(op, res)
}

// apply performs one operation against the target
func (e *Executor) apply(ctx context.Context, op domain.Operation) domain.Result {
	bytes, err := e.applyOp(ctx, op)
	if err != nil {
		return domain.Result{
			Status: domain.StatusFailed,
			Err:    fmt.Errorf("%w: %s %s: %w", domain.ErrOperationFailed, op.Kind, op.Path, err),
		}
	}
	return domain.Result{Status: domain.StatusSucceeded, Bytes: bytes}
}

func (e *Executor) applyOp(ctx context.Context, op domain.Operation) (int64, error) {
	switch op.Kind {
	case domain.OpCreateDirectory:
		return 0, e.target.Mkdir(ctx, op.Path, op.Mode|ownerRWX)

	case domain.OpCopyFile, domain.OpUpdateFile:
		return e.copyFile(ctx, op)

	case domain.OpDeleteFile, domain.OpDeleteDirectory:
		err := e.target.Remove(ctx, op.Path)
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil // already gone
		}
		return 0, err

	case domain.OpCreateSymlink, domain.OpUpdateSymlink:
		return 0, e.target.Symlink(ctx, op.Source.LinkTarget, op.Path)

	case domain.OpSetPermissions:
		if err := e.target.Chmod(ctx, op.Path, op.Mode); err != nil {
			return 0, err
		}
		if op.Source != nil && op.Source.IsFile() {
			return 0, e.target.Chtimes(ctx, op.Path, op.Source.ModTime)
		}
		return 0, nil
	}

	return 0, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// copyFile streams the source file into place through the target's atomic write
func (e *Executor) copyFile(ctx context.Context, op domain.Operation) (int64, error) {
	reader, err := e.source.Open(ctx, op.Path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	res, err := e.target.WriteFile(ctx, op.Path, reader, adapter.WriteOptions{
		Size:        op.Source.Size,
		Fingerprint: op.Source.Fingerprint,
		Mode:        op.Mode,
		ModTime:     op.Source.ModTime,
	})
	if err != nil {
		return 0, err
	}
	return res.Bytes, nil
}
