package cli

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/Ning0612/treesync/internal/domain"
	"github.com/Ning0612/treesync/internal/progress"
)

// Verbosity selects how much the console reporter prints
type Verbosity int

const (
	// Quiet prints failures only
	Quiet Verbosity = iota
	// Terse adds a start line, warnings and the final summary
	Terse
	// Verbose adds every finished operation
	Verbose
)

// VerbosityFromCount maps the number of -v flags to a verbosity; counts above 2 are Verbose
func VerbosityFromCount(n int) Verbosity {
	switch {
	case n <= 0:
		return Quiet
	case n == 1:
		return Terse
	default:
		return Verbose
	}
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	dimColor     = color.New(color.FgHiBlack)
)

// ConsoleReporter prints run progress for a human.
// Failures and warnings go to errOut, everything else to out.
type ConsoleReporter struct {
	out       io.Writer
	errOut    io.Writer
	verbosity Verbosity

	mu sync.Mutex
}

var _ progress.Reporter = (*ConsoleReporter)(nil)

// NewConsoleReporter creates a console reporter
func NewConsoleReporter(out, errOut io.Writer, verbosity Verbosity) *ConsoleReporter {
	return &ConsoleReporter{out: out, errOut: errOut, verbosity: verbosity}
}

// Begin announces the run
func (r *ConsoleReporter) Begin(source, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.verbosity {
	case Terse:
		fmt.Fprintln(r.out, "Synchronizing…")
	case Verbose:
		fmt.Fprintf(r.out, "Sync from '%s' to '%s'\n", source, target)
	}
}

// PlanReady prints the plan size
func (r *ConsoleReporter) PlanReady(count int) {
	if r.verbosity < Verbose {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = infoColor.Fprintf(r.out, "%d operations planned\n", count)
}

// OperationStart is silent; finished operations are printed instead
func (r *ConsoleReporter) OperationStart(domain.Operation) {}

// OperationDone prints failures always and other results when verbose
func (r *ConsoleReporter) OperationDone(op domain.Operation, result domain.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch result.Status {
	case domain.StatusFailed:
		_, _ = errorColor.Fprintf(r.errOut, "✗ %s %s: %v\n", op.Kind, op.Path, result.Err)
	case domain.StatusSkipped:
		if r.verbosity >= Verbose {
			_, _ = dimColor.Fprintf(r.out, "  skip %-7s %s (%s)\n", op.Kind, op.Path, result.Reason)
		}
	default:
		if r.verbosity < Verbose {
			return
		}
		if op.Kind.TransfersContent() {
			fmt.Fprintf(r.out, "  %-12s %s (%s)\n", op.Kind, op.Path, humanize.IBytes(uint64(result.Bytes)))
		} else {
			fmt.Fprintf(r.out, "  %-12s %s\n", op.Kind, op.Path)
		}
	}
}

// Warning prints an unreadable entry
func (r *ConsoleReporter) Warning(w domain.Warning) {
	if r.verbosity < Terse {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = warningColor.Fprintf(r.errOut, "⚠ %s\n", w)
}

// RunDone prints the summary line
func (r *ConsoleReporter) RunDone(o *domain.Outcome) {
	if r.verbosity < Terse || o == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.out, Summary(o))
}

// Summary renders the one-line result of a run
func Summary(o *domain.Outcome) string {
	counts := fmt.Sprintf("%d changed, %d skipped, %d failed, %s in %s",
		o.Totals.Succeeded, o.Totals.Skipped, o.Totals.Failed,
		humanize.IBytes(uint64(o.BytesTransferred)), o.Elapsed.Round(time.Millisecond))

	switch {
	case o.Cancelled:
		return warningColor.Sprintf("⚠ Cancelled: %s", counts)
	case o.HasFailures():
		return errorColor.Sprintf("✗ Finished with failures: %s", counts)
	case o.DryRun:
		return infoColor.Sprintf("Dry run: %d operations planned, nothing changed", o.PlanSize)
	case o.PlanSize == 0:
		return successColor.Sprint("✓ Already in sync")
	default:
		return successColor.Sprintf("✓ Synchronized: %s", counts)
	}
}
