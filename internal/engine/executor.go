package engine

import (
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"taskweave/internal/analyzer"
	"taskweave/internal/core"
	"taskweave/internal/event"
	"taskweave/internal/graph"
)

// DefaultWorkers clamps the CPU count into [2, 8].
func DefaultWorkers() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}

// Executor orchestrates one run or clean invocation: graph expansion, cycle
// check, pool lifecycle, the completion event loop, and error aggregation.
type Executor struct {
	registry *Registry
	analyzer *analyzer.Analyzer
	events   *event.Facade
	logger   hclog.Logger
	workers  int
	args     core.Args
	capture  event.OutputCapture
}

// NewExecutor builds an executor. workers must be >= 1; the facade
// validates that before construction.
func NewExecutor(registry *Registry, an *analyzer.Analyzer, events *event.Facade, logger hclog.Logger, workers int, args core.Args, capture event.OutputCapture) *Executor {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Executor{
		registry: registry,
		analyzer: an,
		events:   events,
		logger:   logger,
		workers:  workers,
		args:     args,
		capture:  capture,
	}
}

// expansion is the graph-build result: the graph itself plus the section
// bookkeeping gathered while expanding.
type expansion struct {
	graph *graph.Graph
	// unselected holds section impl candidates that were not chosen for
	// this invocation.
	unselected []*core.Descriptor
}

// expand builds the dependency graph from root. Section nodes contribute a
// single edge to the implementation chosen by Impl(args); their remaining
// candidates are collected for immediate skip marking.
func (e *Executor) expand(root *core.Descriptor) (*expansion, error) {
	ex := &expansion{}

	depsOf := func(d *core.Descriptor) ([]*core.Descriptor, error) {
		deps, err := e.analyzer.Dependencies(d)
		if err != nil {
			return nil, err
		}
		if !d.IsSection {
			return deps, nil
		}

		// Section: the analyzed references are impl candidates, not
		// dependencies. Select one child now, at graph build.
		sec, ok := d.New().(core.Sectioner)
		if !ok {
			return nil, errors.Errorf("section %s does not implement Impl", d.QualifiedName())
		}
		chosen := sec.Impl(e.args)
		if chosen == nil {
			return nil, errors.Errorf("section %s selected no implementation", d.QualifiedName())
		}
		chosenDesc, err := e.registry.Describe(chosen)
		if err != nil {
			return nil, errors.Wrapf(err, "section %s implementation", d.QualifiedName())
		}
		for _, cand := range deps {
			if cand.QualifiedName() != chosenDesc.QualifiedName() {
				ex.unselected = append(ex.unselected, cand)
			}
		}
		return []*core.Descriptor{chosenDesc}, nil
	}

	g, err := graph.Build(root, depsOf)
	if err != nil {
		return nil, err
	}
	ex.graph = g
	return ex, nil
}

// Graph expands root's dependency graph without executing anything.
func (e *Executor) Graph(root *core.Descriptor) (*graph.Graph, error) {
	ex, err := e.expand(root)
	if err != nil {
		return nil, err
	}
	return ex.graph, nil
}

// Run executes root and its transitive dependencies.
func (e *Executor) Run(root *core.Descriptor) error {
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "root", root.QualifiedName())

	ex, err := e.expand(root)
	if err != nil {
		return err
	}
	g := ex.graph

	if cycles := g.CyclicComponents(); len(cycles) > 0 {
		return &core.CycleError{Cycles: cycles}
	}

	rootName := g.Root()
	e.events.SetRootTask(rootName)
	if e.capture != nil {
		e.events.SetOutputCapture(e.capture)
	}
	e.events.Ready(rootName)
	e.events.Start()
	e.events.PhaseStarted(core.PhaseRun)

	sched := NewScheduler()
	sched.LoadGraph(g)

	state := NewSharedState()
	for _, name := range g.Names() {
		node, _ := g.Node(name)
		wr := e.registry.Wrapper(node.Desc)
		state.Register(name, wr)

		// A wrapper left completed or failed by an earlier accessor-driven
		// invocation is adopted as-is; its task will not re-execute.
		switch wr.State(core.PhaseRun) {
		case core.StateCompleted:
			state.MarkRunning(name)
			state.MarkCompleted(name)
			sched.MarkCompleted(name)
		case core.StateFailed:
			state.MarkRunning(name)
			state.MarkFailed(name, wr.Err(core.PhaseRun))
			sched.MarkFailed(name)
		}
	}

	// Section exports resolve through the implementation chosen at graph
	// build: each section node has exactly one dependency, its child.
	for _, name := range g.Names() {
		node, _ := g.Node(name)
		if !node.Desc.IsSection {
			continue
		}
		if deps := g.DependenciesFor(name); len(deps) == 1 {
			if child, ok := e.registry.ExistingWrapper(deps[0]); ok {
				e.registry.Wrapper(node.Desc).SetDelegate(child)
			}
		}
	}

	// Unselected section candidates are skipped up front, unless another
	// edge pulled them into the graph as real dependencies.
	for _, cand := range ex.unselected {
		name := cand.QualifiedName()
		if g.Has(name) {
			continue
		}
		wr := e.registry.Wrapper(cand)
		wr.MarkSkipped(core.PhaseRun)
		e.events.TaskUpdated(event.TaskUpdate{
			Task: name, Prev: core.StatePending, Next: core.StateSkipped,
			Phase: core.PhaseRun, At: time.Now(),
		})
	}

	pool := NewPool(e.workers, 2*g.Len()+16, state, e.registry, e.events, logger, e.args)
	pool.Start()
	logger.Debug("worker pool started", "workers", e.workers, "tasks", g.Len())

	err = e.runLoop(g, sched, state, pool)

	// Unreached tasks are skipped, with observers notified.
	for _, name := range sched.SkippedTaskClasses() {
		sched.MarkSkipped(name)
		if wr, ok := e.registry.ExistingWrapper(name); ok {
			wr.MarkSkipped(core.PhaseRun)
		}
		e.events.TaskUpdated(event.TaskUpdate{
			Task: name, Prev: core.StatePending, Next: core.StateSkipped,
			Phase: core.PhaseRun, At: time.Now(),
		})
	}

	pool.Shutdown()
	e.events.PhaseCompleted(core.PhaseRun)
	e.events.Stop()

	if err != nil {
		return err
	}
	return e.collectFailures(pool)
}

// runLoop is the completion event loop: dispatch ready tasks, drain
// completions, mark the scheduler, and propagate skips on failure.
//
// Exit: root terminal with nothing running, or abort requested with nothing
// running.
func (e *Executor) runLoop(g *graph.Graph, sched *Scheduler, state *SharedState, pool *Pool) error {
	rootName := g.Root()

	rootTerminal := func() bool {
		return core.IsTerminal(sched.RunState(rootName))
	}

	for {
		if !rootTerminal() && !pool.Aborted() {
			for _, name := range sched.NextReadyTasks() {
				node, _ := g.Node(name)
				sched.MarkRunning(name)
				pool.Enqueue(e.registry.Wrapper(node.Desc))
			}
		}

		if (rootTerminal() || pool.Aborted()) && !sched.HasRunning() {
			return nil
		}
		if !sched.HasRunning() && !rootTerminal() && !pool.Aborted() {
			// Nothing running, nothing dispatched: the ready computation
			// and the graph disagree, which indicates an engine bug.
			return errors.Errorf("no ready tasks but root %s is not finished", rootName)
		}

		c := <-pool.Completions()
		if c.Phase != core.PhaseRun {
			continue
		}
		if !sched.Has(c.Task) {
			// Reached only through the demand-driven path; not a graph
			// node, but dependents' ready checks must see it finished.
			sched.RecordExternalFinish(c.Task)
			continue
		}

		if c.Err == nil {
			sched.MarkCompleted(c.Task)
			continue
		}

		sched.MarkFailed(c.Task)
		for _, dep := range sched.PendingDependentsOf(c.Task) {
			sched.MarkSkipped(dep)
			if wr, ok := e.registry.ExistingWrapper(dep); ok {
				wr.MarkSkipped(core.PhaseRun)
			}
			e.events.TaskUpdated(event.TaskUpdate{
				Task: dep, Prev: core.StatePending, Next: core.StateSkipped,
				Phase: core.PhaseRun, At: time.Now(),
			})
		}
	}
}

// collectFailures assembles the invocation result from the failed wrappers:
// one TaskFailure per distinct root cause, nested aggregates flattened. An
// abort is raised directly to preserve signal semantics; everything else
// surfaces as one AggregateError, even single failures.
func (e *Executor) collectFailures(pool *Pool) error {
	if abortErr := pool.AbortErr(); abortErr != nil {
		return abortErr
	}

	var failures []core.TaskFailure
	seen := map[error]struct{}{}

	add := func(task string, err error) {
		cause := core.RootCause(err)
		if _, dup := seen[cause]; dup {
			return
		}
		seen[cause] = struct{}{}
		failures = append(failures, core.TaskFailure{Task: task, Err: err})
	}

	for _, wr := range e.registry.Wrappers() {
		if wr.State(core.PhaseRun) != core.StateFailed {
			continue
		}
		err := wr.Err(core.PhaseRun)
		var nested *core.AggregateError
		if errors.As(err, &nested) {
			for _, f := range nested.Failures {
				add(f.Task, f.Err)
			}
			continue
		}
		add(wr.Name(), &core.TaskError{Task: wr.Name(), Cause: err})
	}

	if len(failures) == 0 {
		return nil
	}
	return &core.AggregateError{Failures: failures}
}

// Clean runs the reverse phase: dependents first, leaves last.
func (e *Executor) Clean(root *core.Descriptor) error {
	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "root", root.QualifiedName(), "phase", "clean")

	ex, err := e.expand(root)
	if err != nil {
		return err
	}
	g := ex.graph

	if cycles := g.CyclicComponents(); len(cycles) > 0 {
		return &core.CycleError{Cycles: cycles}
	}

	rootName := g.Root()
	e.events.SetRootTask(rootName)
	if e.capture != nil {
		e.events.SetOutputCapture(e.capture)
	}
	e.events.Ready(rootName)
	e.events.Start()
	e.events.PhaseStarted(core.PhaseClean)

	sched := NewScheduler()
	sched.LoadGraph(g)
	sched.BuildReverseDependencyGraph()

	state := NewSharedState()
	for _, name := range g.Names() {
		node, _ := g.Node(name)
		state.Register(name, e.registry.Wrapper(node.Desc))
	}

	pool := NewPool(e.workers, 2*g.Len()+16, state, e.registry, e.events, logger, e.args)
	pool.Start()

	for {
		for _, name := range sched.NextReadyCleanTasks() {
			node, _ := g.Node(name)
			sched.MarkCleanRunning(name)
			pool.EnqueueClean(e.registry.Wrapper(node.Desc))
		}

		if sched.AllCleanTerminal() {
			break
		}
		if !sched.HasCleanRunning() {
			pool.Shutdown()
			return errors.Errorf("no ready clean tasks but clean phase is not finished")
		}

		c := <-pool.Completions()
		if c.Phase != core.PhaseClean {
			continue
		}
		if c.Err == nil {
			sched.MarkCleanCompleted(c.Task)
		} else {
			sched.MarkCleanFailed(c.Task)
		}
	}

	pool.Shutdown()
	e.events.PhaseCompleted(core.PhaseClean)
	e.events.Stop()

	var failures []core.TaskFailure
	for _, wr := range e.registry.Wrappers() {
		if wr.State(core.PhaseClean) == core.StateFailed {
			failures = append(failures, core.TaskFailure{
				Task: wr.Name(),
				Err:  &core.TaskError{Task: wr.Name(), Cause: wr.Err(core.PhaseClean)},
			})
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return &core.AggregateError{Failures: failures}
}
