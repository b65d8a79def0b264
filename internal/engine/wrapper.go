package engine

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"taskweave/internal/core"
)

// phaseRecord is one lifecycle (run or clean) of a wrapper.
type phaseRecord struct {
	state    core.State
	err      error
	started  time.Time
	finished time.Time
}

// Wrapper pairs one task instance with its run and clean state machines.
//
// Exactly one wrapper exists per (task type, executor invocation); the
// registry enforces that. The wrapper never starts goroutines itself — the
// user-facing export accessor delegates to the executor through an injected
// trigger.
//
// Invariants:
//   - a phase that reached a terminal state never changes again
//   - every state transition broadcasts its condition exactly once
//   - exports are readable iff the run phase is completed
type Wrapper struct {
	desc *core.Descriptor
	inst core.Task

	mu        sync.Mutex
	runCond   *sync.Cond
	cleanCond *sync.Cond
	run       phaseRecord
	clean     phaseRecord

	// trigger forces execution through the executor when an export is
	// fetched before the task ran.
	trigger func(d *core.Descriptor) error

	// delegate resolves exports a section does not declare itself: the
	// wrapper of the implementation chosen at graph build.
	delegate *Wrapper
}

// NewWrapper builds a pending wrapper with a fresh task instance.
func NewWrapper(d *core.Descriptor, trigger func(*core.Descriptor) error) *Wrapper {
	w := &Wrapper{
		desc:    d,
		inst:    d.New(),
		run:     phaseRecord{state: core.StatePending},
		clean:   phaseRecord{state: core.StatePending},
		trigger: trigger,
	}
	w.runCond = sync.NewCond(&w.mu)
	w.cleanCond = sync.NewCond(&w.mu)
	return w
}

// Descriptor returns the task type this wrapper instantiates.
func (w *Wrapper) Descriptor() *core.Descriptor { return w.desc }

// Instance returns the task instance. Export fields are only meaningful once
// the run phase completed.
func (w *Wrapper) Instance() core.Task { return w.inst }

// Name returns the qualified task name.
func (w *Wrapper) Name() string { return w.desc.QualifiedName() }

func (w *Wrapper) record(phase core.Phase) (*phaseRecord, *sync.Cond) {
	if phase == core.PhaseClean {
		return &w.clean, w.cleanCond
	}
	return &w.run, w.runCond
}

// MarkRunning transitions a phase from pending to running and records the
// start time. It returns false if the phase already left pending.
func (w *Wrapper) MarkRunning(phase core.Phase) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, cond := w.record(phase)
	if rec.state != core.StatePending {
		return false
	}
	rec.state = core.StateRunning
	rec.started = time.Now()
	cond.Broadcast()
	return true
}

// MarkCompleted drives a phase to its successful terminal state.
func (w *Wrapper) MarkCompleted(phase core.Phase) {
	w.terminal(phase, core.StateCompleted, nil)
}

// MarkFailed drives a phase to failed and records the error.
func (w *Wrapper) MarkFailed(phase core.Phase, err error) {
	w.terminal(phase, core.StateFailed, err)
}

// MarkSkipped records that the task was never executed.
func (w *Wrapper) MarkSkipped(phase core.Phase) {
	w.terminal(phase, core.StateSkipped, nil)
}

func (w *Wrapper) terminal(phase core.Phase, state core.State, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, cond := w.record(phase)
	if core.IsTerminal(rec.state) {
		return
	}
	rec.state = state
	rec.err = err
	rec.finished = time.Now()
	cond.Broadcast()
}

// State returns the current state of a phase.
func (w *Wrapper) State(phase core.Phase) core.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, _ := w.record(phase)
	return rec.state
}

// Err returns the recorded error of a phase, if any.
func (w *Wrapper) Err(phase core.Phase) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, _ := w.record(phase)
	return rec.err
}

// Duration returns how long a phase ran. Zero until the phase finished.
func (w *Wrapper) Duration(phase core.Phase) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, _ := w.record(phase)
	if rec.finished.IsZero() || rec.started.IsZero() {
		return 0
	}
	return rec.finished.Sub(rec.started)
}

// WaitForCompletion blocks until the phase reaches a terminal state.
func (w *Wrapper) WaitForCompletion(phase core.Phase) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, cond := w.record(phase)
	for !core.IsTerminal(rec.state) {
		cond.Wait()
	}
}

// Export reads a named export. It requires the run phase to be terminal: a
// completed task yields the value, a failed task yields its error wrapped in
// a *core.TaskError, a skipped task yields an error saying so.
func (w *Wrapper) Export(name string) (any, error) {
	w.mu.Lock()
	state, err := w.run.state, w.run.err
	w.mu.Unlock()

	switch state {
	case core.StateCompleted:
		if name == "" {
			// Completion-only dependency: no value requested.
			return nil, nil
		}
		if _, declared := w.desc.Exports[name]; !declared && w.delegate != nil {
			return w.delegate.Export(name)
		}
		return w.desc.ExportValue(w.inst, name)
	case core.StateFailed:
		return nil, &core.TaskError{Task: w.Name(), Cause: err}
	case core.StateSkipped:
		return nil, errors.Errorf("task %s was skipped", w.Name())
	default:
		return nil, errors.Errorf("task %s has not completed (state %s)", w.Name(), state)
	}
}

// GetExport is the user-facing accessor: it forces execution through the
// injected trigger when the run phase is not terminal yet, then reads the
// export.
func (w *Wrapper) GetExport(name string) (any, error) {
	w.mu.Lock()
	terminal := core.IsTerminal(w.run.state)
	w.mu.Unlock()

	if !terminal {
		if w.trigger == nil {
			return nil, errors.Errorf("task %s: no executor bound", w.Name())
		}
		if err := w.trigger(w.desc); err != nil {
			return nil, err
		}
		w.WaitForCompletion(core.PhaseRun)
	}
	return w.Export(name)
}

// SetDelegate wires a section wrapper to its chosen implementation so
// undeclared exports resolve through it.
func (w *Wrapper) SetDelegate(child *Wrapper) {
	w.mu.Lock()
	w.delegate = child
	w.mu.Unlock()
}

// Reset returns both state machines to pending and replaces the instance,
// clearing results, errors, and timings.
func (w *Wrapper) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inst = w.desc.New()
	w.run = phaseRecord{state: core.StatePending}
	w.clean = phaseRecord{state: core.StatePending}
	w.runCond.Broadcast()
	w.cleanCond.Broadcast()
}
