package taskweave

import (
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"taskweave/internal/core"
	"taskweave/internal/event"
)

// Task model surface, re-exported from the internal model package so user
// code imports only taskweave.
type (
	// Task is the marker interface satisfied by embedding Base.
	Task = core.Task
	// Base is embedded in every plain task definition.
	Base = core.Base
	// SectionBase is embedded in polymorphic tasks with an Impl method.
	SectionBase = core.SectionBase
	// Context is the surface a task body sees.
	Context = core.Context
	// Args is the read-only invocation argument map.
	Args = core.Args
	// State is the unified task state alphabet.
	State = core.State
	// Phase distinguishes the run and clean lifecycles.
	Phase = core.Phase
)

const (
	StatePending   = core.StatePending
	StateRunning   = core.StateRunning
	StateCompleted = core.StateCompleted
	StateFailed    = core.StateFailed
	StateSkipped   = core.StateSkipped

	PhaseRun   = core.PhaseRun
	PhaseClean = core.PhaseClean
)

// Error taxonomy.
type (
	TaskError      = core.TaskError
	TaskFailure    = core.TaskFailure
	AggregateError = core.AggregateError
	CycleError     = core.CycleError
	BuildError     = core.BuildError
	AbortError     = core.AbortError
)

// ErrInvalidWorkers rejects non-positive worker counts.
var ErrInvalidWorkers = core.ErrInvalidWorkers

// Abort builds the cooperative cancellation error. Returning it from a run
// body stops new tasks from starting; code already inside run bodies is not
// interrupted.
func Abort(cause error) *AbortError { return core.Abort(cause) }

// Observer surface.
type (
	Observer      = event.Observer
	NopObserver   = event.NopObserver
	TaskUpdate    = event.TaskUpdate
	GroupMark     = event.GroupMark
	OutputCapture = event.OutputCapture
)

// NewConsoleObserver returns a line-per-transition progress observer.
func NewConsoleObserver(out io.Writer) Observer { return event.NewConsoleObserver(out) }

// NewLogObserver mirrors events onto a structured logger.
func NewLogObserver(logger hclog.Logger) Observer { return event.NewLogObserver(logger) }

// Need is the typed dependency request: it suspends the calling task until
// dep completes, then returns the named export as T.
func Need[T any](tc *Context, dep Task, export string) (T, error) {
	var zero T
	v, err := tc.Need(dep, export)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("export %q is %T, not %T", export, v, zero)
	}
	return t, nil
}

// Export is the typed export accessor: it forces execution when needed and
// returns the cached value afterwards.
func Export[T any](proto Task, name string) (T, error) {
	var zero T
	v, err := ExportOf(proto, name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Errorf("export %q is %T, not %T", name, v, zero)
	}
	return t, nil
}
