// Package partition maintains live, incrementally-updated indexes over the
// population ("partitions") that actors use to answer "which people
// currently satisfy F, broken down by labels L, and give me a random one".
//
// # Reading Guide
//
//   - filter.go: Filter, a closed Leaf/AND/OR/NOT predicate with validation,
//     evaluation and event sensitivities
//   - labeler.go: Labeler, one labeling dimension per property, attribute,
//     region or region class
//   - labelset.go: Dimension and LabelSet, the query constraint
//   - partition.go: the index and its event-driven update algorithm
//   - query.go: membership, counts, breakdowns and sampling
//   - registry.go: named partitions and event dispatch for one run
//
// # Update Model
//
// A partition never rescans the population after its initial backfill.
// Each event is routed by type: the filter's probe re-evaluates the whole
// predicate with the event's previous and current values and only reports
// the entity if the overall result flips; each affected labeler recomputes
// the entity's label and the partition moves it between buckets when the
// label changed. Members and buckets are roaring bitmaps, so counts are
// cardinalities and uniform sampling selects by rank.
package partition
