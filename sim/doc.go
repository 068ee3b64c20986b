// Package sim provides the population model for the agent-based simulator.
//
// # Reading Guide
//
// Start with these files to understand the population kernel:
//   - types.go: entity and region ids, value types and their normalization
//   - world.go: the World, which owns people, their properties, attributes and regions
//   - event.go: population change events and the synchronous EventBus
//   - rng.go: named random streams derived from a single simulation seed
//
// # Architecture
//
// The sim package holds the population state; everything derived from it
// lives in sub-packages:
//   - sim/partition/: incrementally maintained partitions over the population
//   - sim/engine/: the discrete-time plan queue and run loop
//   - sim/scenario/: YAML scenarios, filter expressions and built-in actors
//   - sim/trace/: per-run sampling and membership trace recording
//
// # Update Model
//
// Every World mutation applies the change first and then publishes one Event
// on the EventBus. Subscribers run synchronously before the mutating call
// returns, so by the time an actor's next statement executes all derived
// indexes already reflect the change.
package sim
