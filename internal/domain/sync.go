package domain

import (
	"fmt"
	"io/fs"
	"time"
)

// Classification describes how one path compares across the two trees
type Classification int

const (
	OnlyInSource Classification = iota
	OnlyInTarget
	EqualInBoth
	DifferInType
	DifferInContent
	DifferInMetadataOnly
)

// String returns the name of the classification
func (c Classification) String() string {
	switch c {
	case OnlyInSource:
		return "only-in-source"
	case OnlyInTarget:
		return "only-in-target"
	case EqualInBoth:
		return "equal"
	case DifferInType:
		return "differ-in-type"
	case DifferInContent:
		return "differ-in-content"
	case DifferInMetadataOnly:
		return "differ-in-metadata"
	default:
		return "unknown"
	}
}

// Change is the classification of a single relative path
type Change struct {
	Path   string
	Source *Entry // nil when absent from the source
	Target *Entry // nil when absent from the target
	Class  Classification
}

// OpKind is the type of a plan operation
type OpKind string

const (
	OpCreateDirectory OpKind = "mkdir"
	OpCopyFile        OpKind = "copy"
	OpUpdateFile      OpKind = "update"
	OpDeleteFile      OpKind = "delete"
	OpDeleteDirectory OpKind = "rmdir"
	OpCreateSymlink   OpKind = "symlink"
	OpUpdateSymlink   OpKind = "relink"
	OpSetPermissions  OpKind = "chmod"
)

// OpKinds lists every operation kind in a stable order
var OpKinds = []OpKind{
	OpCreateDirectory,
	OpCopyFile,
	OpUpdateFile,
	OpDeleteFile,
	OpDeleteDirectory,
	OpCreateSymlink,
	OpUpdateSymlink,
	OpSetPermissions,
}

// IsDelete returns true for kinds that remove a target entry
func (k OpKind) IsDelete() bool {
	return k == OpDeleteFile || k == OpDeleteDirectory
}

// TransfersContent returns true for kinds that stream file content
func (k OpKind) TransfersContent() bool {
	return k == OpCopyFile || k == OpUpdateFile
}

// Operation is a single filesystem mutation against the target
type Operation struct {
	// Kind of mutation
	Kind OpKind

	// Path is the target-relative path the operation owns
	Path string

	// Source is the desired state (nil for deletions)
	Source *Entry

	// Target is the existing state (nil for creations)
	Target *Entry

	// Mode is the permission set applied by CreateDirectory and SetPermissions
	Mode fs.FileMode

	// SkipReason, when set, records the operation as skipped without executing it
	SkipReason string
}

// String renders the operation for logs
func (op Operation) String() string {
	return fmt.Sprintf("%s %s", op.Kind, op.Path)
}

// Plan is the ordered list of operations for one run
type Plan struct {
	Operations []Operation
	Stats      PlanStats
}

// PlanStats summarizes a plan
type PlanStats struct {
	DirsToCreate  int
	FilesToCopy   int
	FilesToUpdate int
	Deletions     int
	Symlinks      int
	MetadataOnly  int
	Suppressed    int
	BytesToSync   int64
}

// Len returns the number of operations, skipped ones included
func (p *Plan) Len() int {
	return len(p.Operations)
}

// Status is the result of one operation
type Status int

const (
	StatusSucceeded Status = iota
	StatusSkipped
	StatusFailed
)

// String returns the name of the status
func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Skip reasons recorded by the planner and the executor
const (
	SkipDeletionSuppressed = "deletion suppressed"
	SkipTypeChangeKept     = "type change would delete extraneous entries"
	SkipSourceUnreadable   = "source unreadable"
	SkipContainsExcluded   = "contains excluded entries"
	SkipDryRun             = "dry run"
	SkipFailFast           = "fail-fast"
	SkipCancelled          = "cancelled"
	SkipDependency         = "dependency not completed"
)

// Result is the outcome of one operation
type Result struct {
	Status Status
	Err    error
	Reason string
	Bytes  int64
}

// Warning is a non-fatal problem met while reading a tree
type Warning struct {
	Side string // "source" or "target"
	Path string
	Err  error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s %s: %v", w.Side, w.Path, w.Err)
}

// Failure records one failed operation in the outcome
type Failure struct {
	Kind OpKind
	Path string
	Err  error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: %v", f.Kind, f.Path, f.Err)
}

// Tally counts operation results
type Tally struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Total returns the number of counted operations
func (t Tally) Total() int {
	return t.Succeeded + t.Skipped + t.Failed
}

func (t *Tally) add(s Status) {
	switch s {
	case StatusSucceeded:
		t.Succeeded++
	case StatusSkipped:
		t.Skipped++
	case StatusFailed:
		t.Failed++
	}
}

// Outcome summarizes one synchronization run
type Outcome struct {
	RunID      string
	SourceRoot string
	TargetRoot string

	// PlanSize is the number of planned operations
	PlanSize int

	// Totals counts all operations by status
	Totals Tally

	// ByKind counts operations by kind and status
	ByKind map[OpKind]Tally

	Failures []Failure
	Warnings []Warning

	BytesTransferred int64

	StartedAt time.Time
	Elapsed   time.Duration

	// Cancelled is set when the run stopped on a cancellation signal
	Cancelled bool

	// DryRun is set when no operation touched the target
	DryRun bool
}

// NewOutcome creates an empty outcome started now
func NewOutcome(runID, source, target string) *Outcome {
	return &Outcome{
		RunID:      runID,
		SourceRoot: source,
		TargetRoot: target,
		ByKind:     make(map[OpKind]Tally),
		StartedAt:  time.Now(),
	}
}

// Record adds the result of one operation.
// Not safe for concurrent use; the executor serializes calls.
func (o *Outcome) Record(op Operation, res Result) {
	o.Totals.add(res.Status)
	t := o.ByKind[op.Kind]
	t.add(res.Status)
	o.ByKind[op.Kind] = t
	o.BytesTransferred += res.Bytes
	if res.Status == StatusFailed {
		o.Failures = append(o.Failures, Failure{Kind: op.Kind, Path: op.Path, Err: res.Err})
	}
}

// Finish stamps the elapsed time
func (o *Outcome) Finish() {
	o.Elapsed = time.Since(o.StartedAt)
}

// HasFailures returns true if any operation failed
func (o *Outcome) HasFailures() bool {
	return o.Totals.Failed > 0
}

// Changed returns the number of operations that modified the target
func (o *Outcome) Changed() int {
	return o.Totals.Succeeded
}
