package taskweave_test

import (
	"reflect"
	"sync"

	"taskweave"
)

// qname returns the qualified task name the engine uses for a prototype.
func qname(proto taskweave.Task) string {
	t := reflect.TypeOf(proto).Elem()
	return t.PkgPath() + "." + t.Name()
}

// eventRec records task transitions and group markers for assertions.
type eventRec struct {
	taskweave.NopObserver

	mu      sync.Mutex
	updates []taskweave.TaskUpdate
	groups  []string
	phases  []string
}

func (r *eventRec) TaskUpdated(u taskweave.TaskUpdate) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *eventRec) GroupStarted(g taskweave.GroupMark) {
	r.mu.Lock()
	r.groups = append(r.groups, "start:"+g.Name)
	r.mu.Unlock()
}

func (r *eventRec) GroupCompleted(g taskweave.GroupMark) {
	r.mu.Lock()
	r.groups = append(r.groups, "end:"+g.Name)
	r.mu.Unlock()
}

func (r *eventRec) PhaseStarted(p taskweave.Phase) {
	r.mu.Lock()
	r.phases = append(r.phases, "started:"+string(p))
	r.mu.Unlock()
}

func (r *eventRec) PhaseCompleted(p taskweave.Phase) {
	r.mu.Lock()
	r.phases = append(r.phases, "completed:"+string(p))
	r.mu.Unlock()
}

// updatesFor returns the transitions of one task, in delivery order.
func (r *eventRec) updatesFor(task string) []taskweave.TaskUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []taskweave.TaskUpdate
	for _, u := range r.updates {
		if u.Task == task {
			out = append(out, u)
		}
	}
	return out
}

// indexOf returns the position of the first (task, next) transition, or -1.
func (r *eventRec) indexOf(task string, next taskweave.State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, u := range r.updates {
		if u.Task == task && u.Next == next {
			return i
		}
	}
	return -1
}

func (r *eventRec) groupMarks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.groups))
	copy(out, r.groups)
	return out
}
