package taskweave

import (
	"github.com/hashicorp/go-hclog"

	"taskweave/internal/core"
	"taskweave/internal/engine"
	"taskweave/internal/event"
)

type config struct {
	workers    int
	workersSet bool
	args       core.Args
	observers  []event.Observer
	logger     hclog.Logger
	strict     bool
	capture    event.OutputCapture
}

// Option configures one invocation.
type Option func(*config)

// WithWorkers sets the worker count. It must be a positive integer; zero or
// negative values fail the invocation with ErrInvalidWorkers. Absent, the
// count defaults to the CPU count clamped into [2, 8]. One worker yields
// sequential execution with identical semantics.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n; c.workersSet = true }
}

// WithArgs sets the read-only argument map for the invocation. The map is
// copied; later mutation by the caller is invisible to tasks.
func WithArgs(args Args) Option {
	return func(c *config) { c.args = core.Args(args).Clone() }
}

// WithObserver attaches an observer for the invocation.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observers = append(c.observers, o) }
}

// WithLogger sets the engine logger.
func WithLogger(l hclog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithStrictAnalysis surfaces analyzer failures as *BuildError instead of
// degrading to empty dependency sets.
func WithStrictAnalysis() Option {
	return func(c *config) { c.strict = true }
}

// WithOutputCapture installs the output-capture collaborator; observers
// receive it through SetOutputCapture before execution starts.
func WithOutputCapture(capture OutputCapture) Option {
	return func(c *config) { c.capture = capture }
}

func buildConfig(opts []Option) (*config, error) {
	cfg := &config{logger: hclog.Default().Named("taskweave")}
	for _, opt := range opts {
		opt(cfg)
	}
	if !cfg.workersSet {
		cfg.workers = engine.DefaultWorkers()
	}
	if cfg.workers < 1 {
		return nil, core.ErrInvalidWorkers
	}
	return cfg, nil
}
