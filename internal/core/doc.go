// Package core defines the domain model for dependency-driven task execution.
//
// It is the leaf package of the engine: task markers, descriptors, arguments,
// the unified run/clean state alphabet, and the error taxonomy live here so
// that the analyzer, graph, event, and engine packages can share them without
// importing one another.
//
// Design constraints:
//   - No behavior that starts goroutines or touches the scheduler.
//   - Everything here is safe to construct in user init() functions.
package core
