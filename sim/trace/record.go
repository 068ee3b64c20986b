// Package trace provides per-run recording of partition sampling decisions
// and breakdown snapshots for post-run analysis.
// This package has no dependencies on sim/ or its sub-packages; it stores pure data types.
package trace

// SampleRecord captures a single draw from a partition.
type SampleRecord struct {
	Clock     int64
	Actor     string
	Partition string
	Labels    string // rendered label set constraint, "{}" when unconstrained
	Stream    string
	Found     bool
	Entity    uint32 // valid only when Found
}

// BucketCount is one non-empty label tuple and its member count.
type BucketCount struct {
	Labels string
	Count  int
}

// BreakdownRecord captures the per-tuple counts of a partition at one tick.
type BreakdownRecord struct {
	Clock     int64
	Partition string
	Total     int
	Buckets   []BucketCount // in the partition's bucket order
}
