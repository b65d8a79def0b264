package core

import "github.com/pkg/errors"

// NeedFunc resolves one dependency request. Inside a run body it is the only
// suspension point: the calling coroutine parks until the dependency reaches
// a terminal state.
type NeedFunc func(dep Task, export string) (any, error)

// GroupFunc opens a named sub-span and emits the group markers around fn,
// including on error.
type GroupFunc func(name string, fn func() error) error

// Context is the surface a task body sees. The engine builds one per
// coroutine; user code must not retain it past the body's return.
type Context struct {
	task  string
	phase Phase
	args  Args
	need  NeedFunc
	group GroupFunc
}

// NewContext is called by the engine when it enters a task body.
func NewContext(task string, phase Phase, args Args, need NeedFunc, group GroupFunc) *Context {
	return &Context{task: task, phase: phase, args: args, need: need, group: group}
}

// TaskName returns the qualified name of the task this context belongs to.
func (c *Context) TaskName() string { return c.task }

// Phase returns the lifecycle phase the body is running in.
func (c *Context) Phase() Phase { return c.phase }

// Args returns the invocation arguments.
func (c *Context) Args() Args { return c.args }

// Need returns the named export of dep, executing dep first if necessary.
// The current coroutine suspends until dep is terminal; on resume the value
// is returned, or the dependency's failure is returned as a *TaskError. An
// empty export name waits for completion without reading a value.
func (c *Context) Need(dep Task, export string) (any, error) {
	if c.need == nil {
		return nil, errors.Errorf("task %s: Need is not available in the %s phase", c.task, c.phase)
	}
	return c.need(dep, export)
}

// Group runs fn inside a named sub-span. The completion marker is emitted
// even when fn returns an error.
func (c *Context) Group(name string, fn func() error) error {
	if c.group == nil {
		return fn()
	}
	return c.group(name, fn)
}
