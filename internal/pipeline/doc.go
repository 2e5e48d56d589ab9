// Package pipeline schedules and runs analysis passes against a shared
// workspace context.
//
// # Architecture
//
// The pipeline consists of a few small pieces:
//
//  1. Pass - Interface every analysis pass implements (Definition is a ready-made one)
//  2. Registry - Holds passes in registration order and validates the dependency graph
//  3. ComputeWaves - Groups passes into waves by dependency depth
//  4. SequentialRunner / ParallelRunner - Execute the waves and produce a Report
//
// # Waves
//
// A pass with no dependencies is in wave 0. Any other pass is in wave
// 1 + max(wave of each dependency). Within a wave, passes keep their
// registration order, so wave contents and execution order are the same
// on every run with the same registry.
//
//	A            wave 0: [A]
//	B -> A       wave 1: [B C]
//	C -> A       wave 2: [D]
//	D -> B, C
//
// # Validation
//
// Validate (called by ComputeWaves and both runners) fails before any pass
// runs if a dependency names an unregistered pass (*UnknownDependencyError)
// or if the graph has a cycle (*CycleError, which lists the passes on the
// cycle). Register fails with ErrDuplicateName for a name already taken.
//
// # Execution
//
// For every pass, in order:
//   - If any of its ConfigKeys is disabled, it is skipped (disabled-by-config).
//   - If any dependency did not succeed, it is skipped (dependency-failed-or-skipped).
//     This cascades to every transitive dependent.
//   - Otherwise Execute runs. An error or panic is wrapped in *PassError and
//     recorded as failed; the run carries on.
//
// The parallel runner runs each wave's eligible passes concurrently, at most
// MaxConcurrency at a time, and waits for the whole wave before looking at
// the next one.
//
// # Workspace writes
//
// Passes do not write to the workspace directly. Each gets a staged writer
// over the context as it stood at the start of its wave; after the wave
// settles the runner merges the successful passes' deltas in registration
// order. Failed passes leave nothing behind. Both runners merge the same
// way, so they produce the same context and the same statuses.
//
// # Cancellation
//
// The run context is checked between waves. In-flight passes finish (they
// see a context without cancellation); no further wave starts, and the
// remaining passes are reported as not-run with Report.Incomplete set.
package pipeline
