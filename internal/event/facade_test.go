package event

import (
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweave/internal/core"
)

// recordingObserver captures every dispatched event name.
type recordingObserver struct {
	NopObserver
	mu     sync.Mutex
	events []string
}

func (r *recordingObserver) record(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recordingObserver) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingObserver) Ready(string)              { r.record("ready") }
func (r *recordingObserver) Start()                    { r.record("start") }
func (r *recordingObserver) Stop()                     { r.record("stop") }
func (r *recordingObserver) PhaseStarted(p core.Phase) { r.record("phase_started:" + string(p)) }
func (r *recordingObserver) TaskUpdated(u TaskUpdate) {
	r.record("task_updated:" + u.Task + ":" + string(u.Next))
}

// panicObserver blows up on every task update.
type panicObserver struct {
	NopObserver
}

func (panicObserver) TaskUpdated(TaskUpdate) { panic("observer bug") }

func TestFacade_DispatchesToAllObservers(t *testing.T) {
	f := NewFacade(hclog.NewNullLogger())
	a := &recordingObserver{}
	b := &recordingObserver{}
	f.Attach(a)
	f.Attach(b)

	f.Ready("root")
	f.Start()
	f.PhaseStarted(core.PhaseRun)
	f.TaskUpdated(TaskUpdate{Task: "t", Next: core.StateRunning, At: time.Now()})
	f.Stop()

	want := []string{"ready", "start", "phase_started:run", "task_updated:t:RUNNING", "stop"}
	assert.Equal(t, want, a.snapshot())
	assert.Equal(t, want, b.snapshot())
}

func TestFacade_ObserverPanicIsIsolated(t *testing.T) {
	f := NewFacade(hclog.NewNullLogger())
	after := &recordingObserver{}
	f.Attach(panicObserver{})
	f.Attach(after)

	require.NotPanics(t, func() {
		f.TaskUpdated(TaskUpdate{Task: "t", Next: core.StateCompleted})
	})
	// The observer after the panicking one still received the event.
	assert.Equal(t, []string{"task_updated:t:COMPLETED"}, after.snapshot())
}

func TestFacade_DetachStopsDelivery(t *testing.T) {
	f := NewFacade(hclog.NewNullLogger())
	o := &recordingObserver{}
	f.Attach(o)
	f.Start()
	f.Detach(o)
	f.Stop()

	assert.Equal(t, []string{"start"}, o.snapshot())
}

func TestFacade_NilAndUnknownObserversAreHarmless(t *testing.T) {
	f := NewFacade(nil)
	f.Attach(nil)
	f.Detach(&recordingObserver{})
	require.NotPanics(t, func() { f.Start() })
}

func TestFacade_ConcurrentAttachAndDispatch(t *testing.T) {
	f := NewFacade(hclog.NewNullLogger())
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Attach(&recordingObserver{})
			f.TaskUpdated(TaskUpdate{Task: "t", Next: core.StateRunning})
		}()
	}
	wg.Wait()
}
