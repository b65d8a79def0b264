package engine

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"taskweave/internal/core"
	"taskweave/internal/event"
)

// yieldKind discriminates what a coroutine hands back to its worker.
type yieldKind int

const (
	// yieldNeed: the body requested a dependency export and is now blocked
	// on its resume channel.
	yieldNeed yieldKind = iota
	// yieldDone: the body returned (or panicked); the coroutine goroutine
	// has exited.
	yieldDone
)

type yield struct {
	kind   yieldKind
	dep    *core.Descriptor
	export string
	err    error
}

type resumeMsg struct {
	value any
	err   error
}

// coroutine carries one task's run body. It is a goroutine lock-stepped with
// its owning worker through an unbuffered channel pair: the body blocks on
// resume whenever it yields, so at any instant either the worker or the
// body is running, never both. A coroutine never migrates: park and resume
// always happen on the worker that created it.
type coroutine struct {
	wrapper *Wrapper
	owner   *worker

	yields chan yield
	resume chan resumeMsg

	groupDepth int
}

func newCoroutine(w *Wrapper, owner *worker) *coroutine {
	return &coroutine{
		wrapper: w,
		owner:   owner,
		yields:  make(chan yield),
		resume:  make(chan resumeMsg),
	}
}

// start launches the body goroutine. The first yield is received by the
// worker's drive loop.
func (c *coroutine) start(args core.Args) {
	go func() {
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					if rerr, ok := r.(error); ok {
						err = errors.Wrap(rerr, "run body panicked")
					} else {
						err = errors.Errorf("run body panicked: %v", r)
					}
				}
			}()
			tc := core.NewContext(c.wrapper.Name(), core.PhaseRun, args, c.need, c.group)
			if runner, ok := c.wrapper.Instance().(core.Runner); ok {
				err = runner.Run(tc)
			}
		}()
		c.yields <- yield{kind: yieldDone, err: err}
	}()
}

// need is the body's only suspension point. It runs on the coroutine
// goroutine: the yield hands control to the worker, and the receive blocks
// until the worker (or a resume command posted to it) supplies the value or
// the dependency's error.
func (c *coroutine) need(dep core.Task, export string) (any, error) {
	d, err := c.owner.pool.registry.Describe(dep)
	if err != nil {
		return nil, err
	}
	c.yields <- yield{kind: yieldNeed, dep: d, export: export}
	msg := <-c.resume
	return msg.value, msg.err
}

// group emits the sub-span markers around fn. It runs on the coroutine
// goroutine; the facade is safe to call from here.
func (c *coroutine) group(name string, fn func() error) error {
	c.groupDepth++
	mark := event.GroupMark{
		Task:  c.wrapper.Name(),
		Name:  name,
		Phase: core.PhaseRun,
		Depth: c.groupDepth,
	}
	mark.At = time.Now()
	c.owner.pool.events.GroupStarted(mark)
	defer func() {
		c.groupDepth--
		mark.At = time.Now()
		c.owner.pool.events.GroupCompleted(mark)
	}()
	return fn()
}

func (c *coroutine) String() string {
	return fmt.Sprintf("coroutine(%s@worker%d)", c.wrapper.Name(), c.owner.id)
}
