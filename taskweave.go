// Package taskweave is a dependency-driven task execution engine.
//
// A task is a struct embedding Base with an optional Run body, an optional
// Clean body, and exported values declared as struct fields tagged
// `export:"name"`. Tasks depend on each other by requesting exports inside
// Run through Context.Need; the engine discovers those references by static
// analysis of the Run source, expands the transitive graph, and schedules
// it onto a bounded worker pool with cooperative suspension.
//
//	type Fetch struct {
//		taskweave.Base
//		Data string `export:"data"`
//	}
//
//	func (f *Fetch) Run(tc *taskweave.Context) error {
//		f.Data = "hi"
//		return nil
//	}
//
//	type Greet struct {
//		taskweave.Base
//		Message string `export:"message"`
//	}
//
//	func (g *Greet) Run(tc *taskweave.Context) error {
//		data, err := taskweave.Need[string](tc, &Fetch{}, "data")
//		if err != nil {
//			return err
//		}
//		g.Message = data + "!"
//		return nil
//	}
//
//	out, err := taskweave.Run(&Greet{})
package taskweave

import (
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"taskweave/internal/analyzer"
	"taskweave/internal/core"
	"taskweave/internal/engine"
	"taskweave/internal/event"
)

var errNoWrapper = errors.New("no wrapper recorded for root task")

var (
	// invocationMu serializes top-level invocations: one executor drives
	// the shared registry at a time.
	invocationMu sync.Mutex

	registry = engine.NewRegistry()

	analyzerOnce sync.Once
	sharedAn     *analyzer.Analyzer
)

func init() {
	registry.SetTrigger(runForAccessor)
}

func sharedAnalyzer() *analyzer.Analyzer {
	analyzerOnce.Do(func() {
		sharedAn = analyzer.New(registry, hclog.Default().Named("taskweave"), false)
	})
	return sharedAn
}

// Register records a task type ahead of use, typically from an init
// function. It panics on a conflicting registration; registration of task
// types also happens implicitly the first time a prototype is seen.
func Register(proto Task) {
	if _, err := registry.Describe(proto); err != nil {
		panic(err)
	}
}

// Run executes proto's task type and its transitive dependencies and
// returns the executed instance with its export fields populated.
//
// Each call is a fresh invocation: wrappers from earlier runs are dropped
// first. On failure the error is an *AggregateError (or the abort error, or
// a *CycleError from the pre-flight check).
func Run(proto Task, opts ...Option) (Task, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	d, err := registry.Describe(proto)
	if err != nil {
		return nil, err
	}

	invocationMu.Lock()
	defer invocationMu.Unlock()

	registry.ResetWrappers()
	if err := newExecutor(cfg).Run(d); err != nil {
		return nil, err
	}
	wr, ok := registry.ExistingWrapper(d.QualifiedName())
	if !ok {
		return nil, &TaskError{Task: d.QualifiedName(), Cause: errNoWrapper}
	}
	return wr.Instance(), nil
}

// Clean runs the reverse phase over proto's graph, dependents first.
func Clean(proto Task, opts ...Option) error {
	cfg, err := buildConfig(opts)
	if err != nil {
		return err
	}
	d, err := registry.Describe(proto)
	if err != nil {
		return err
	}

	invocationMu.Lock()
	defer invocationMu.Unlock()
	return newExecutor(cfg).Clean(d)
}

// RunAndClean runs proto, then cleans. Clean always runs, even when the run
// failed; the run error takes precedence in the result.
func RunAndClean(proto Task, opts ...Option) (Task, error) {
	inst, runErr := Run(proto, opts...)
	cleanErr := Clean(proto, opts...)
	if runErr != nil {
		return nil, runErr
	}
	if cleanErr != nil {
		return inst, cleanErr
	}
	return inst, nil
}

// ExportOf returns the named export of proto's task, forcing execution
// through the shared executor when the task has not run yet. Repeated calls
// are served from the cached wrapper until Reset.
func ExportOf(proto Task, name string) (any, error) {
	d, err := registry.Describe(proto)
	if err != nil {
		return nil, err
	}
	return registry.Wrapper(d).GetExport(name)
}

// Reset clears proto's cached result and dependency analysis; the next
// invocation recomputes both.
func Reset(proto Task) error {
	d, err := registry.Describe(proto)
	if err != nil {
		return err
	}
	registry.ResetWrapper(d.QualifiedName())
	sharedAnalyzer().Invalidate(d.QualifiedName())
	return nil
}

// ResetAll clears every cached result and dependency set.
func ResetAll() {
	registry.ResetWrappers()
	sharedAnalyzer().InvalidateAll()
}

// GraphOf expands proto's dependency graph without executing anything and
// returns its (task, dependency) edges in canonical order.
func GraphOf(proto Task, opts ...Option) ([][2]string, error) {
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	d, err := registry.Describe(proto)
	if err != nil {
		return nil, err
	}
	g, err := newExecutor(cfg).Graph(d)
	if err != nil {
		return nil, err
	}
	return g.Edges(), nil
}

func newExecutor(cfg *config) *engine.Executor {
	an := sharedAnalyzer()
	if cfg.strict {
		// Strict invocations surface analysis failures instead of
		// degrading; they use a private analyzer, so they never read the
		// degraded sets the shared cache holds from non-strict runs, and
		// their own results never enter the shared cache.
		an = analyzer.New(registry, cfg.logger, true)
	}
	facade := event.NewFacade(cfg.logger)
	for _, o := range cfg.observers {
		facade.Attach(o)
	}
	return engine.NewExecutor(registry, an, facade, cfg.logger, cfg.workers, cfg.args, cfg.capture)
}

// runForAccessor is the wrapper-injected trigger behind export accessors.
// It runs the task's graph on the existing wrappers, so values computed by
// earlier accessor calls are reused rather than recomputed.
func runForAccessor(d *core.Descriptor) error {
	invocationMu.Lock()
	defer invocationMu.Unlock()

	cfg, err := buildConfig(nil)
	if err != nil {
		return err
	}
	return newExecutor(cfg).Run(d)
}
