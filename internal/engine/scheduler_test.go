package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweave/internal/core"
	"taskweave/internal/graph"
)

type schedA struct{ core.Base }
type schedB struct{ core.Base }
type schedC struct{ core.Base }
type schedD struct{ core.Base }

// diamondSched loads D -> {B, C} -> A and returns the scheduler plus the
// qualified names keyed by short name.
func diamondSched(t *testing.T) (*Scheduler, map[string]string) {
	t.Helper()

	ds := map[string]*core.Descriptor{}
	for short, proto := range map[string]core.Task{
		"A": &schedA{}, "B": &schedB{}, "C": &schedC{}, "D": &schedD{},
	} {
		d, err := core.Describe(proto)
		require.NoError(t, err)
		ds[short] = d
	}

	table := map[string][]string{"D": {"B", "C"}, "B": {"A"}, "C": {"A"}}
	byQualified := map[string]string{}
	for short, d := range ds {
		byQualified[d.QualifiedName()] = short
	}
	g, err := graph.Build(ds["D"], func(d *core.Descriptor) ([]*core.Descriptor, error) {
		var out []*core.Descriptor
		for _, dep := range table[byQualified[d.QualifiedName()]] {
			out = append(out, ds[dep])
		}
		return out, nil
	})
	require.NoError(t, err)

	s := NewScheduler()
	s.LoadGraph(g)

	names := map[string]string{}
	for short, d := range ds {
		names[short] = d.QualifiedName()
	}
	return s, names
}

func TestScheduler_ReadySetFollowsFinishedSet(t *testing.T) {
	s, n := diamondSched(t)

	assert.Equal(t, []string{n["A"]}, s.NextReadyTasks())

	s.MarkRunning(n["A"])
	assert.Empty(t, s.NextReadyTasks())

	s.MarkCompleted(n["A"])
	assert.ElementsMatch(t, []string{n["B"], n["C"]}, s.NextReadyTasks())

	s.MarkRunning(n["B"])
	s.MarkRunning(n["C"])
	s.MarkCompleted(n["B"])
	assert.Empty(t, s.NextReadyTasks()) // D still waits on C

	s.MarkCompleted(n["C"])
	assert.Equal(t, []string{n["D"]}, s.NextReadyTasks())
}

func TestScheduler_FailedDependencyUnblocksIntoSkip(t *testing.T) {
	s, n := diamondSched(t)

	s.MarkRunning(n["A"])
	s.MarkFailed(n["A"])

	// A failed: it joins the finished set, so B and C become ready (for
	// skipping), not wedged.
	assert.ElementsMatch(t, []string{n["B"], n["C"]}, s.NextReadyTasks())

	skipped := s.PendingDependentsOf(n["A"])
	assert.ElementsMatch(t, []string{n["B"], n["C"], n["D"]}, skipped)

	for _, name := range skipped {
		s.MarkSkipped(name)
	}
	assert.True(t, s.AllTerminal())
	assert.Empty(t, s.SkippedTaskClasses())
}

func TestScheduler_PendingDependentsExcludesNonPending(t *testing.T) {
	s, n := diamondSched(t)

	s.MarkRunning(n["A"])
	s.MarkCompleted(n["A"])
	s.MarkRunning(n["B"])

	// B is running, so only C and D remain pending dependents of A.
	assert.ElementsMatch(t, []string{n["C"], n["D"]}, s.PendingDependentsOf(n["A"]))
}

func TestScheduler_TerminalStatesAreSticky(t *testing.T) {
	s, n := diamondSched(t)

	s.MarkRunning(n["A"])
	s.MarkCompleted(n["A"])
	s.MarkFailed(n["A"])
	assert.Equal(t, core.StateCompleted, s.RunState(n["A"]))

	s.MarkSkipped(n["B"])
	s.MarkRunning(n["B"])
	assert.Equal(t, core.StateSkipped, s.RunState(n["B"]))
}

func TestScheduler_SkippedTaskClasses(t *testing.T) {
	s, n := diamondSched(t)

	s.MarkRunning(n["A"])
	s.MarkCompleted(n["A"])
	// Loop exits here; B, C, D were never reached.
	assert.ElementsMatch(t, []string{n["B"], n["C"], n["D"]}, s.SkippedTaskClasses())
}

func TestScheduler_ExternalFinishDoesNotCreateNodes(t *testing.T) {
	s, n := diamondSched(t)

	s.RecordExternalFinish("outside.Task")
	assert.False(t, s.Has("outside.Task"))

	// External finishes never mask graph-node tracking.
	assert.Equal(t, []string{n["A"]}, s.NextReadyTasks())
}

func TestScheduler_DeterministicEnqueueSequence(t *testing.T) {
	// Identical graphs and identical completion orders yield identical
	// dispatch sequences.
	runOnce := func() []string {
		s, n := diamondSched(t)
		var dispatched []string
		completions := []string{n["A"], n["B"], n["C"], n["D"]}

		for len(completions) > 0 {
			for _, name := range s.NextReadyTasks() {
				s.MarkRunning(name)
				dispatched = append(dispatched, name)
			}
			s.MarkCompleted(completions[0])
			completions = completions[1:]
		}
		return dispatched
	}

	assert.Equal(t, runOnce(), runOnce())
}

func TestScheduler_CleanProceedsDependentsFirst(t *testing.T) {
	s, n := diamondSched(t)
	s.BuildReverseDependencyGraph()

	// Clean leaves = tasks with no dependents = the root.
	assert.Equal(t, []string{n["D"]}, s.NextReadyCleanTasks())

	s.MarkCleanRunning(n["D"])
	s.MarkCleanCompleted(n["D"])
	assert.ElementsMatch(t, []string{n["B"], n["C"]}, s.NextReadyCleanTasks())

	s.MarkCleanRunning(n["B"])
	s.MarkCleanFailed(n["B"])
	s.MarkCleanRunning(n["C"])
	s.MarkCleanCompleted(n["C"])

	// A clean failure still unblocks the reverse dependencies.
	assert.Equal(t, []string{n["A"]}, s.NextReadyCleanTasks())

	s.MarkCleanRunning(n["A"])
	s.MarkCleanCompleted(n["A"])
	assert.True(t, s.AllCleanTerminal())
	assert.False(t, s.HasCleanRunning())
}
