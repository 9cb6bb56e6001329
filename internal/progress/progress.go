package progress

import (
	"sync"

	"github.com/Ning0612/treesync/internal/domain"
)

// Reporter receives lifecycle events of a synchronization run.
// Implementations must be safe for concurrent use: operation events arrive
// from executor workers.
type Reporter interface {
	// PlanReady is called once the plan is computed
	PlanReady(count int)
	// OperationStart is called before an operation touches the target
	OperationStart(op domain.Operation)
	// OperationDone is called with the result of every planned operation,
	// including skipped ones
	OperationDone(op domain.Operation, result domain.Result)
	// Warning reports an unreadable entry met while walking
	Warning(w domain.Warning)
	// RunDone is called with the final outcome
	RunDone(outcome *domain.Outcome)
}

// Callback is a function that receives progress updates
type Callback func(update Update)

// Update represents a progress update
type Update struct {
	Type      UpdateType
	Operation domain.Operation
	Result    domain.Result
	Warning   domain.Warning
	Outcome   *domain.Outcome

	// Counters at the time of the update
	Completed      int
	Total          int
	BytesCompleted int64
}

// UpdateType indicates the type of progress update
type UpdateType int

const (
	UpdatePlanReady UpdateType = iota
	UpdateStart
	UpdateDone
	UpdateWarning
	UpdateRunDone
)

// CallbackReporter implements Reporter with a callback function
type CallbackReporter struct {
	callback       Callback
	mu             sync.Mutex
	total          int
	completed      int
	bytesCompleted int64
}

// NewCallbackReporter creates a new CallbackReporter
func NewCallbackReporter(callback Callback) *CallbackReporter {
	return &CallbackReporter{
		callback: callback,
	}
}

// PlanReady records the number of planned operations
func (r *CallbackReporter) PlanReady(count int) {
	r.mu.Lock()
	r.total = count
	update := r.snapshot(UpdatePlanReady)
	r.mu.Unlock()

	r.emit(update)
}

// OperationStart reports an operation about to run
func (r *CallbackReporter) OperationStart(op domain.Operation) {
	r.mu.Lock()
	update := r.snapshot(UpdateStart)
	r.mu.Unlock()

	update.Operation = op
	r.emit(update)
}

// OperationDone reports a finished or skipped operation
func (r *CallbackReporter) OperationDone(op domain.Operation, result domain.Result) {
	r.mu.Lock()
	r.completed++
	r.bytesCompleted += result.Bytes
	update := r.snapshot(UpdateDone)
	r.mu.Unlock()

	update.Operation = op
	update.Result = result
	r.emit(update)
}

// Warning reports an unreadable entry
func (r *CallbackReporter) Warning(w domain.Warning) {
	r.mu.Lock()
	update := r.snapshot(UpdateWarning)
	r.mu.Unlock()

	update.Warning = w
	r.emit(update)
}

// RunDone reports the final outcome
func (r *CallbackReporter) RunDone(outcome *domain.Outcome) {
	r.mu.Lock()
	update := r.snapshot(UpdateRunDone)
	r.mu.Unlock()

	update.Outcome = outcome
	r.emit(update)
}

// snapshot must be called with r.mu held
func (r *CallbackReporter) snapshot(t UpdateType) Update {
	return Update{
		Type:           t,
		Completed:      r.completed,
		Total:          r.total,
		BytesCompleted: r.bytesCompleted,
	}
}

// emit calls the callback outside the lock to prevent deadlock
func (r *CallbackReporter) emit(update Update) {
	if r.callback != nil {
		r.callback(update)
	}
}

// multi fans events out to several reporters in order
type multi []Reporter

// Multi returns a Reporter that forwards every event to each of reporters.
// nil reporters are dropped.
func Multi(reporters ...Reporter) Reporter {
	var m multi
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multi) PlanReady(count int) {
	for _, r := range m {
		r.PlanReady(count)
	}
}

func (m multi) OperationStart(op domain.Operation) {
	for _, r := range m {
		r.OperationStart(op)
	}
}

func (m multi) OperationDone(op domain.Operation, result domain.Result) {
	for _, r := range m {
		r.OperationDone(op, result)
	}
}

func (m multi) Warning(w domain.Warning) {
	for _, r := range m {
		r.Warning(w)
	}
}

func (m multi) RunDone(outcome *domain.Outcome) {
	for _, r := range m {
		r.RunDone(outcome)
	}
}

// NullReporter is a no-op reporter
type NullReporter struct{}

func (NullReporter) PlanReady(count int)                                     {}
func (NullReporter) OperationStart(op domain.Operation)                      {}
func (NullReporter) OperationDone(op domain.Operation, result domain.Result) {}
func (NullReporter) Warning(w domain.Warning)                                {}
func (NullReporter) RunDone(outcome *domain.Outcome)                         {}
