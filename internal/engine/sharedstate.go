package engine

import (
	"sync"

	"github.com/pkg/errors"

	"taskweave/internal/core"
)

var errUnregistered = errors.New("task is not registered with shared state")

// Outcome is the result of a dependency request against SharedState.
type Outcome int

const (
	// OutcomeCompleted: the task completed; the value is ready.
	OutcomeCompleted Outcome = iota
	// OutcomeError: the task failed; the error is ready.
	OutcomeError
	// OutcomeWait: the task is running; the caller was appended as a
	// waiter and must park.
	OutcomeWait
	// OutcomeStart: the task has not started; the caller was appended as
	// a waiter and must start the task itself.
	OutcomeStart
)

// waiter is one parked dependency request: the owning worker's queue, the
// parked coroutine, and which export it asked for.
type waiter struct {
	queue  *commandQueue
	co     *coroutine
	export string
}

type stateRecord struct {
	state   core.State
	wrapper *Wrapper
	err     error
	waiters []waiter
}

// SharedState is the sole cross-worker mediator: a single synchronized map
// of task name to state, wrapper, error, and waiter list.
//
// Locking discipline: the one mutex serializes every read and write, is
// never held across user code, and waiter notifications are fanned out by
// the caller after the lock is released. Waiters exist only while a task is
// pending or running, and each is handed out exactly once, by the mark call
// that made the task terminal.
type SharedState struct {
	mu      sync.Mutex
	records map[string]*stateRecord
}

func NewSharedState() *SharedState {
	return &SharedState{records: make(map[string]*stateRecord)}
}

// Register makes a task known, pending. Idempotent.
func (s *SharedState) Register(name string, w *Wrapper) {
	s.mu.Lock()
	if _, ok := s.records[name]; !ok {
		s.records[name] = &stateRecord{state: core.StatePending, wrapper: w}
	}
	s.mu.Unlock()
}

// MarkRunning transitions pending -> running. It returns false when the task
// already left pending, which is how the pool enforces at-most-once
// execution across the scheduler path and the demand-driven path.
func (s *SharedState) MarkRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok || rec.state != core.StatePending {
		return false
	}
	rec.state = core.StateRunning
	return true
}

// MarkCompleted makes the task terminal and detaches its waiter list. The
// caller must notify every returned waiter exactly once, outside the lock.
func (s *SharedState) MarkCompleted(name string) []waiter {
	return s.terminal(name, core.StateCompleted, nil)
}

// MarkFailed is MarkCompleted for the failure side; err is recorded and
// handed to waiters.
func (s *SharedState) MarkFailed(name string, err error) []waiter {
	return s.terminal(name, core.StateFailed, err)
}

func (s *SharedState) terminal(name string, state core.State, err error) []waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return nil
	}
	if core.IsTerminal(rec.state) {
		return nil
	}
	rec.state = state
	rec.err = err
	ws := rec.waiters
	rec.waiters = nil
	return ws
}

// State returns the current state of name, or pending for unknown tasks.
func (s *SharedState) State(name string) core.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[name]; ok {
		return rec.state
	}
	return core.StatePending
}

// Err returns the recorded failure of name.
func (s *SharedState) Err(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[name]; ok {
		return rec.err
	}
	return nil
}

// Request resolves one dependency request for the given coroutine.
//
//   - completed: the export value is fetched through the wrapper and
//     returned; the coroutine resumes inline.
//   - failed: the recorded error is returned for re-raising inside the
//     requesting task.
//   - running: the coroutine is appended to the waiter list and must park.
//   - pending: as running, and additionally the caller is told to start the
//     dependency itself (the demand-driven path for dependencies the static
//     analysis missed).
func (s *SharedState) Request(name, export string, q *commandQueue, co *coroutine) (Outcome, any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[name]
	if !ok {
		// Register is always called before Request; treat unknown as a
		// protocol error surfaced to the requesting task.
		return OutcomeError, nil, &core.TaskError{Task: name, Cause: errUnregistered}
	}

	switch rec.state {
	case core.StateCompleted:
		v, err := rec.wrapper.Export(export)
		if err != nil {
			return OutcomeError, nil, err
		}
		return OutcomeCompleted, v, nil
	case core.StateFailed:
		return OutcomeError, nil, &core.TaskError{Task: name, Cause: rec.err}
	case core.StateRunning:
		rec.waiters = append(rec.waiters, waiter{queue: q, co: co, export: export})
		return OutcomeWait, nil, nil
	default:
		rec.waiters = append(rec.waiters, waiter{queue: q, co: co, export: export})
		return OutcomeStart, nil, nil
	}
}

// Wrapper returns the wrapper recorded for name.
func (s *SharedState) Wrapper(name string) (*Wrapper, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return nil, false
	}
	return rec.wrapper, true
}
