package core

// Task is the marker interface every task definition satisfies by embedding
// Base (or SectionBase). Implementing run/clean bodies is optional; the
// engine detects them through the Runner, Cleaner, and Sectioner interfaces.
type Task interface {
	isTask()
}

// Base is embedded in every plain task definition.
//
// A task declares exported values as struct fields tagged `export:"name"`.
// Field values set on the prototype passed to registration act as literal
// defaults and survive into every fresh instance.
type Base struct{}

func (Base) isTask() {}

// SectionBase is embedded in polymorphic tasks whose concrete implementation
// is chosen at runtime via an Impl method.
type SectionBase struct {
	Base
}

func (SectionBase) isSection() {}

// Section is satisfied by any definition embedding SectionBase.
type Section interface {
	Task
	isSection()
}

// Runner is the optional forward-phase body.
type Runner interface {
	Task
	Run(tc *Context) error
}

// Cleaner is the optional reverse-phase body.
type Cleaner interface {
	Task
	Clean(tc *Context) error
}

// Sectioner selects the concrete implementation of a Section for the current
// invocation. It is called once, at graph build, with the invocation
// arguments. It must be a pure function of its arguments.
type Sectioner interface {
	Task
	Impl(args Args) Task
}
