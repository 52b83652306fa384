// Package orchestrator runs decomposed subtasks.
//
// A Runner builds the task graph from the subtasks' declared dependencies and
// executes them:
//   - Sequentially in topological order (the default)
//   - Or with bounded parallelism, dispatching every ready subtask as soon as
//     its dependencies have completed
//
// Each subtask is driven through its state machine. A failing subtask is
// handed to the healer when one is configured; subtasks whose dependencies
// did not complete are marked blocked and never executed.
//
// Example usage:
//
//	runner := orchestrator.New(driver, orchestrator.WithHealer(healer), orchestrator.WithMaxParallel(1))
//	report, err := runner.Run(ctx, subtasks)
package orchestrator
