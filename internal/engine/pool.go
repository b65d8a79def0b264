package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"taskweave/internal/core"
	"taskweave/internal/event"
)

type cmdKind int

const (
	cmdExecute cmdKind = iota
	cmdResume
	cmdResumeError
	cmdExecuteClean
	cmdShutdown
)

// command is one entry of a worker queue.
type command struct {
	kind    cmdKind
	wrapper *Wrapper
	co      *coroutine
	value   any
	err     error
}

// Completion is pushed to the single cross-worker completion queue whenever
// a task reaches a terminal state on a worker. The executor's main loop is
// the sole consumer, so the scheduler observes completions in a total order.
type Completion struct {
	Task  string
	Phase core.Phase
	Err   error
}

// Pool drives task coroutines on a fixed set of workers.
//
// Each worker owns one MPSC command queue; tasks are round-robined across
// workers on enqueue. Within a worker execution is linear: one coroutine
// runs at a time, parked coroutines are re-entered only by resume commands
// landing on the worker that parked them.
type Pool struct {
	workers     []*worker
	completions chan Completion

	state    *SharedState
	registry *Registry
	events   *event.Facade
	logger   hclog.Logger
	args     core.Args

	rr      atomic.Uint64
	aborted atomic.Bool
	abortMu sync.Mutex
	abortErr error

	eg      errgroup.Group
	started atomic.Bool
}

// NewPool builds a pool of n workers. completionCap bounds the completion
// queue; the executor sizes it so workers never block on a completion push.
func NewPool(n, completionCap int, state *SharedState, registry *Registry, events *event.Facade, logger hclog.Logger, args core.Args) *Pool {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	p := &Pool{
		completions: make(chan Completion, completionCap),
		state:       state,
		registry:    registry,
		events:      events,
		logger:      logger.Named("pool"),
		args:        args,
	}
	for i := 0; i < n; i++ {
		p.workers = append(p.workers, &worker{
			id:     i,
			queue:  newCommandQueue(),
			pool:   p,
			parked: make(map[*coroutine]struct{}),
		})
	}
	return p
}

// Start launches the worker loops.
func (p *Pool) Start() {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		w := w
		p.eg.Go(func() error {
			w.loop()
			return nil
		})
	}
}

// Completions returns the cross-worker completion queue.
func (p *Pool) Completions() <-chan Completion { return p.completions }

func (p *Pool) nextWorker() *worker {
	idx := int(p.rr.Add(1)-1) % len(p.workers)
	return p.workers[idx]
}

// Enqueue schedules a run-phase execution of the wrapped task.
func (p *Pool) Enqueue(w *Wrapper) {
	p.nextWorker().queue.Push(command{kind: cmdExecute, wrapper: w})
}

// EnqueueClean schedules a clean-phase execution.
func (p *Pool) EnqueueClean(w *Wrapper) {
	p.nextWorker().queue.Push(command{kind: cmdExecuteClean, wrapper: w})
}

// Shutdown injects a shutdown command into every worker queue and waits for
// the loops to drain and exit.
func (p *Pool) Shutdown() {
	if !p.started.Load() {
		return
	}
	for _, w := range p.workers {
		w.queue.Push(command{kind: cmdShutdown})
	}
	_ = p.eg.Wait()
	for _, w := range p.workers {
		w.queue.Close()
	}
}

// Aborted reports whether the cooperative abort flag is set.
func (p *Pool) Aborted() bool { return p.aborted.Load() }

// AbortErr returns the abort error that set the flag.
func (p *Pool) AbortErr() error {
	p.abortMu.Lock()
	defer p.abortMu.Unlock()
	return p.abortErr
}

func (p *Pool) setAbort(err error) {
	p.abortMu.Lock()
	if p.abortErr == nil {
		p.abortErr = err
	}
	p.abortMu.Unlock()
	p.aborted.Store(true)
}

// worker is one execution thread of the pool. It owns its queue and a table
// of parked coroutines keyed by coroutine identity.
type worker struct {
	id     int
	queue  *commandQueue
	pool   *Pool
	parked map[*coroutine]struct{}

	// current is the identity of the task whose code is on this worker,
	// installed before entering a coroutine and restored on every exit
	// path. No code reads it: it is not exposed outside the worker.
	current string
}

func (w *worker) loop() {
	for {
		cmd, ok := w.queue.Pop()
		if !ok {
			return
		}
		switch cmd.kind {
		case cmdExecute:
			w.execute(cmd.wrapper)
		case cmdResume:
			w.resumeParked(cmd.co, resumeMsg{value: cmd.value})
		case cmdResumeError:
			w.resumeParked(cmd.co, resumeMsg{err: cmd.err})
		case cmdExecuteClean:
			w.executeClean(cmd.wrapper)
		case cmdShutdown:
			return
		}
	}
}

// execute starts a run-phase coroutine for the task, unless the abort flag
// is set or the task already started elsewhere.
func (w *worker) execute(wr *Wrapper) {
	name := wr.Name()

	if w.pool.Aborted() {
		// Aborted: the task becomes a no-op that fails with the
		// propagated abort error.
		abortErr := w.pool.AbortErr()
		if abortErr == nil {
			abortErr = core.Abort(nil)
		}
		if !w.pool.state.MarkRunning(name) {
			return
		}
		propagated := &core.TaskError{Task: name, Cause: abortErr}
		wr.MarkFailed(core.PhaseRun, propagated)
		waiters := w.pool.state.MarkFailed(name, propagated)
		w.pool.events.TaskUpdated(event.TaskUpdate{
			Task: name, Prev: core.StatePending, Next: core.StateFailed,
			Phase: core.PhaseRun, At: time.Now(), Err: propagated,
		})
		w.notify(wr, waiters, propagated)
		w.pool.completions <- Completion{Task: name, Phase: core.PhaseRun, Err: propagated}
		return
	}

	if !w.pool.state.MarkRunning(name) {
		// Lost the race to the demand-driven path; exactly one
		// completion will still be produced by whoever won.
		w.pool.logger.Debug("skipping execute, task already started", "task", name)
		return
	}
	wr.MarkRunning(core.PhaseRun)
	w.pool.events.TaskUpdated(event.TaskUpdate{
		Task: name, Prev: core.StatePending, Next: core.StateRunning,
		Phase: core.PhaseRun, At: time.Now(),
	})

	co := newCoroutine(wr, w)
	prev := w.current
	w.current = name
	co.start(w.pool.args)
	w.drive(co)
	w.current = prev
}

// drive services a coroutine's yields until it finishes or parks.
func (w *worker) drive(co *coroutine) {
	for {
		y := <-co.yields
		if y.kind == yieldDone {
			w.finish(co, y.err)
			return
		}

		depName := y.dep.QualifiedName()
		depWrapper := w.pool.registry.Wrapper(y.dep)
		w.pool.state.Register(depName, depWrapper)

		outcome, value, err := w.pool.state.Request(depName, y.export, w.queue, co)
		switch outcome {
		case OutcomeCompleted:
			// Inline resume, no queue round-trip.
			co.resume <- resumeMsg{value: value}
		case OutcomeError:
			co.resume <- resumeMsg{err: err}
		case OutcomeWait:
			w.park(co)
			return
		case OutcomeStart:
			// Park the requester, then run the dependency as a nested
			// coroutine on this same worker. When it terminates, the
			// waiter notification lands back on our queue.
			w.park(co)
			w.execute(depWrapper)
			return
		}
	}
}

func (w *worker) park(co *coroutine) {
	w.parked[co] = struct{}{}
}

// resumeParked re-enters a coroutine parked on this worker.
func (w *worker) resumeParked(co *coroutine, msg resumeMsg) {
	if _, ok := w.parked[co]; !ok {
		w.pool.logger.Error("resume for unknown coroutine", "coroutine", co.String())
		return
	}
	delete(w.parked, co)
	prev := w.current
	w.current = co.wrapper.Name()
	co.resume <- msg
	w.drive(co)
	w.current = prev
}

// finish records a coroutine's terminal state, fans the waiter
// notifications out, and pushes the completion.
func (w *worker) finish(co *coroutine, err error) {
	wr := co.wrapper
	name := wr.Name()

	if err == nil {
		wr.MarkCompleted(core.PhaseRun)
		waiters := w.pool.state.MarkCompleted(name)
		w.pool.events.TaskUpdated(event.TaskUpdate{
			Task: name, Prev: core.StateRunning, Next: core.StateCompleted,
			Phase: core.PhaseRun, At: time.Now(),
		})
		w.notify(wr, waiters, nil)
		w.pool.completions <- Completion{Task: name, Phase: core.PhaseRun}
		return
	}

	var abort *core.AbortError
	if errors.As(err, &abort) {
		w.pool.setAbort(err)
	}

	wr.MarkFailed(core.PhaseRun, err)
	waiters := w.pool.state.MarkFailed(name, err)
	w.pool.events.TaskUpdated(event.TaskUpdate{
		Task: name, Prev: core.StateRunning, Next: core.StateFailed,
		Phase: core.PhaseRun, At: time.Now(), Err: err,
	})
	w.notify(wr, waiters, err)
	w.pool.completions <- Completion{Task: name, Phase: core.PhaseRun, Err: err}
}

// notify resumes every waiter exactly once, outside the shared-state lock,
// by posting to the waiter's owning worker queue.
func (w *worker) notify(wr *Wrapper, waiters []waiter, failErr error) {
	for _, wt := range waiters {
		if failErr != nil {
			wt.queue.Push(command{
				kind: cmdResumeError,
				co:   wt.co,
				err:  &core.TaskError{Task: wr.Name(), Cause: failErr},
			})
			continue
		}
		v, verr := wr.Export(wt.export)
		if verr != nil {
			wt.queue.Push(command{kind: cmdResumeError, co: wt.co, err: verr})
			continue
		}
		wt.queue.Push(command{kind: cmdResume, co: wt.co, value: v})
	}
}

// executeClean runs a clean body directly: clean bodies do not call need,
// so no coroutine wrapping is required.
func (w *worker) executeClean(wr *Wrapper) {
	name := wr.Name()
	if !wr.MarkRunning(core.PhaseClean) {
		return
	}
	w.pool.events.TaskUpdated(event.TaskUpdate{
		Task: name, Prev: core.StatePending, Next: core.StateRunning,
		Phase: core.PhaseClean, At: time.Now(),
	})

	prev := w.current
	w.current = name
	err := w.runCleanBody(wr)
	w.current = prev

	if err == nil {
		wr.MarkCompleted(core.PhaseClean)
		w.pool.events.TaskUpdated(event.TaskUpdate{
			Task: name, Prev: core.StateRunning, Next: core.StateCompleted,
			Phase: core.PhaseClean, At: time.Now(),
		})
		w.pool.completions <- Completion{Task: name, Phase: core.PhaseClean}
		return
	}

	wr.MarkFailed(core.PhaseClean, err)
	w.pool.events.TaskUpdated(event.TaskUpdate{
		Task: name, Prev: core.StateRunning, Next: core.StateFailed,
		Phase: core.PhaseClean, At: time.Now(), Err: err,
	})
	w.pool.completions <- Completion{Task: name, Phase: core.PhaseClean, Err: err}
}

func (w *worker) runCleanBody(wr *Wrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if rerr, ok := r.(error); ok {
				err = errors.Wrap(rerr, "clean body panicked")
			} else {
				err = errors.Errorf("clean body panicked: %v", r)
			}
		}
	}()

	cleaner, ok := wr.Instance().(core.Cleaner)
	if !ok {
		return nil
	}

	depth := 0
	group := func(name string, fn func() error) error {
		depth++
		mark := event.GroupMark{Task: wr.Name(), Name: name, Phase: core.PhaseClean, Depth: depth, At: time.Now()}
		w.pool.events.GroupStarted(mark)
		defer func() {
			depth--
			mark.At = time.Now()
			w.pool.events.GroupCompleted(mark)
		}()
		return fn()
	}

	tc := core.NewContext(wr.Name(), core.PhaseClean, w.pool.args, nil, group)
	return cleaner.Clean(tc)
}
