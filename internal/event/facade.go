package event

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"taskweave/internal/core"
)

// Facade fans events out to attached observers.
//
// The observer list is mutated under a mutex; dispatch snapshots the list
// and runs without the lock, so observers may attach and detach while an
// execution is in flight.
type Facade struct {
	logger hclog.Logger

	mu        sync.Mutex
	observers []Observer
}

// NewFacade builds a Facade; the logger receives swallowed observer panics.
func NewFacade(logger hclog.Logger) *Facade {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Facade{logger: logger.Named("events")}
}

// Attach registers an observer.
func (f *Facade) Attach(o Observer) {
	if o == nil {
		return
	}
	f.mu.Lock()
	f.observers = append(f.observers, o)
	f.mu.Unlock()
}

// Detach removes a previously attached observer.
func (f *Facade) Detach(o Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, cur := range f.observers {
		if cur == o {
			f.observers = append(f.observers[:i], f.observers[i+1:]...)
			return
		}
	}
}

func (f *Facade) snapshot() []Observer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Observer, len(f.observers))
	copy(out, f.observers)
	return out
}

// each dispatches fn to every observer, isolating panics.
func (f *Facade) each(name string, fn func(o Observer)) {
	for _, o := range f.snapshot() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					f.logger.Error("observer panicked", "event", name, "panic", r)
				}
			}()
			fn(o)
		}()
	}
}

func (f *Facade) Ready(root string) { f.each("ready", func(o Observer) { o.Ready(root) }) }
func (f *Facade) Start()            { f.each("start", func(o Observer) { o.Start() }) }
func (f *Facade) Stop()             { f.each("stop", func(o Observer) { o.Stop() }) }

func (f *Facade) PhaseStarted(p core.Phase) {
	f.each("phase_started", func(o Observer) { o.PhaseStarted(p) })
}

func (f *Facade) PhaseCompleted(p core.Phase) {
	f.each("phase_completed", func(o Observer) { o.PhaseCompleted(p) })
}

func (f *Facade) TaskUpdated(u TaskUpdate) {
	f.each("task_updated", func(o Observer) { o.TaskUpdated(u) })
}

func (f *Facade) GroupStarted(g GroupMark) {
	f.each("group_started", func(o Observer) { o.GroupStarted(g) })
}

func (f *Facade) GroupCompleted(g GroupMark) {
	f.each("group_completed", func(o Observer) { o.GroupCompleted(g) })
}

func (f *Facade) SetRootTask(root string) {
	f.each("set_root_task", func(o Observer) { o.SetRootTask(root) })
}

func (f *Facade) SetOutputCapture(c OutputCapture) {
	f.each("set_output_capture", func(o Observer) { o.SetOutputCapture(c) })
}
