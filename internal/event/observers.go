package event

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"

	"taskweave/internal/core"
)

// ConsoleObserver prints one line per task transition. It is the simplest
// useful progress display and the reference consumer of the observer API.
type ConsoleObserver struct {
	NopObserver

	mu  sync.Mutex
	out io.Writer
}

func NewConsoleObserver(out io.Writer) *ConsoleObserver {
	return &ConsoleObserver{out: out}
}

var (
	runningMark   = color.New(color.FgYellow).Sprint("…")
	completedMark = color.New(color.FgGreen).Sprint("✓")
	failedMark    = color.New(color.FgRed).Sprint("✗")
	skippedMark   = color.New(color.Faint).Sprint("-")
)

func (c *ConsoleObserver) TaskUpdated(u TaskUpdate) {
	var mark string
	switch u.Next {
	case core.StateRunning:
		mark = runningMark
	case core.StateCompleted:
		mark = completedMark
	case core.StateFailed:
		mark = failedMark
	case core.StateSkipped:
		mark = skippedMark
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if u.Err != nil {
		fmt.Fprintf(c.out, "%s %s [%s] %s: %v\n", mark, u.Task, u.Phase, strings.ToLower(string(u.Next)), u.Err)
		return
	}
	fmt.Fprintf(c.out, "%s %s [%s] %s\n", mark, u.Task, u.Phase, strings.ToLower(string(u.Next)))
}

func (c *ConsoleObserver) GroupStarted(g GroupMark) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "%s%s %s\n", strings.Repeat("  ", g.Depth), color.New(color.FgCyan).Sprint("▸"), g.Name)
}

func (c *ConsoleObserver) PhaseStarted(p core.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, "== %s phase ==\n", p)
}

// LogObserver mirrors lifecycle, phase, task, and group events onto a
// structured logger. SetRootTask and SetOutputCapture are not logged.
type LogObserver struct {
	NopObserver
	logger hclog.Logger
}

func NewLogObserver(logger hclog.Logger) *LogObserver {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) Ready(root string) { l.logger.Debug("graph ready", "root", root) }
func (l *LogObserver) Start()            { l.logger.Debug("execution started") }
func (l *LogObserver) Stop()             { l.logger.Debug("execution stopped") }

func (l *LogObserver) PhaseStarted(p core.Phase) {
	l.logger.Debug("phase started", "phase", p)
}

func (l *LogObserver) PhaseCompleted(p core.Phase) {
	l.logger.Debug("phase completed", "phase", p)
}

func (l *LogObserver) TaskUpdated(u TaskUpdate) {
	if u.Err != nil {
		l.logger.Info("task updated", "task", u.Task, "phase", u.Phase,
			"from", u.Prev, "to", u.Next, "error", u.Err)
		return
	}
	l.logger.Info("task updated", "task", u.Task, "phase", u.Phase,
		"from", u.Prev, "to", u.Next)
}

func (l *LogObserver) GroupStarted(g GroupMark) {
	l.logger.Debug("group started", "task", g.Task, "group", g.Name, "depth", g.Depth)
}

func (l *LogObserver) GroupCompleted(g GroupMark) {
	l.logger.Debug("group completed", "task", g.Task, "group", g.Name, "depth", g.Depth)
}
