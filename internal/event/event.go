// Package event is the publish-subscribe hub for engine lifecycle events.
//
// Observers implement the Observer interface, usually by embedding
// NopObserver and overriding the methods they care about. Dispatch is inert:
// a panic inside an observer is logged and swallowed, never propagated into
// the engine.
package event

import (
	"io"
	"time"

	"taskweave/internal/core"
)

// TaskUpdate is one task state transition.
type TaskUpdate struct {
	Task  string
	Prev  core.State
	Next  core.State
	Phase core.Phase
	At    time.Time
	Err   error
}

// GroupMark is the open or close marker of a named sub-span inside a task
// body. Depth is the nesting level within the task, starting at 1.
type GroupMark struct {
	Task  string
	Name  string
	Phase core.Phase
	At    time.Time
	Depth int
}

// OutputCapture is the collaborator interface for routing a task's textual
// output to its display line. The engine only installs and clears the owning
// task identity; the piping itself lives outside the core.
type OutputCapture interface {
	Route(task string) io.Writer
}

// Observer receives lifecycle events. All methods must be safe to call from
// worker goroutines.
type Observer interface {
	// Ready fires after the graph is built, before the pool starts.
	// Observers can pull graph structure at this point.
	Ready(root string)
	// Start and Stop bracket one executor invocation.
	Start()
	Stop()

	PhaseStarted(phase core.Phase)
	PhaseCompleted(phase core.Phase)

	TaskUpdated(u TaskUpdate)

	GroupStarted(g GroupMark)
	GroupCompleted(g GroupMark)

	// SetRootTask and SetOutputCapture are registration helpers for
	// observers that want tree structure or output routing up front.
	SetRootTask(root string)
	SetOutputCapture(c OutputCapture)
}

// NopObserver implements Observer with no-ops, for embedding.
type NopObserver struct{}

func (NopObserver) Ready(string)                  {}
func (NopObserver) Start()                        {}
func (NopObserver) Stop()                         {}
func (NopObserver) PhaseStarted(core.Phase)       {}
func (NopObserver) PhaseCompleted(core.Phase)     {}
func (NopObserver) TaskUpdated(TaskUpdate)        {}
func (NopObserver) GroupStarted(GroupMark)        {}
func (NopObserver) GroupCompleted(GroupMark)      {}
func (NopObserver) SetRootTask(string)            {}
func (NopObserver) SetOutputCapture(OutputCapture) {}
