package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidWorkers rejects non-positive worker counts at the invocation
// boundary.
var ErrInvalidWorkers = errors.New("workers must be a positive integer")

// TaskError wraps an error raised inside (or on behalf of) one task.
type TaskError struct {
	Task  string
	Cause error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// TaskFailure is one entry of an AggregateError. The engine does not collect
// captured output lines: Output is nil in every failure it returns, whether
// or not an output capture collaborator was installed.
type TaskFailure struct {
	Task   string
	Err    error
	Output []string
}

// AggregateError collects every distinct task failure of one invocation.
// Single-failure runs still surface as an aggregate of length one.
type AggregateError struct {
	Failures []TaskFailure
}

func (e *AggregateError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("1 task failed: %v", e.Failures[0].Err)
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Err.Error()
	}
	return fmt.Sprintf("%d tasks failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the failure causes to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Err
	}
	return out
}

// CycleError reports every strongly connected component of size >= 2 (and
// every self-loop) found before execution. One entry per component.
type CycleError struct {
	Cycles [][]string
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = strings.Join(c, " -> ")
	}
	return "circular dependency: " + strings.Join(parts, "; ")
}

// BuildError reports an analyzer failure when strict analysis is enabled.
// In the default mode analysis degrades to an empty dependency set instead.
type BuildError struct {
	Task  string
	Cause error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("analyzing task %s: %v", e.Task, e.Cause)
}

func (e *BuildError) Unwrap() error { return e.Cause }

// AbortError is the cooperative cancellation signal. Returning one from a
// run body sets the pool's abort flag: no new tasks start, and the abort is
// raised directly from the invocation instead of being aggregated.
type AbortError struct {
	Cause error
}

func (e *AbortError) Error() string {
	if e.Cause == nil {
		return "task aborted"
	}
	return fmt.Sprintf("task aborted: %v", e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// Abort builds an AbortError around cause (which may be nil).
func Abort(cause error) *AbortError { return &AbortError{Cause: cause} }

// RootCause walks the Unwrap chain to the innermost error. Aggregation
// deduplicates failures by root cause identity, so a dependency error and
// the waiter errors it re-raised collapse into one entry.
func RootCause(err error) error {
	for err != nil {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
	return err
}
