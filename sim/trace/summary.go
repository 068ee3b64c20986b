package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalSamples    int
	HitCount        int
	EmptyCount      int
	UniqueChosen    int
	SamplesByActor  map[string]int // actor → number of draws
	FinalTotals     map[string]int // partition → total of its last breakdown
	BreakdownsTaken int
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		SamplesByActor: make(map[string]int),
		FinalTotals:    make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalSamples = len(st.Samples)
	chosen := make(map[uint32]struct{})
	for _, s := range st.Samples {
		summary.SamplesByActor[s.Actor]++
		if s.Found {
			summary.HitCount++
			chosen[s.Entity] = struct{}{}
		} else {
			summary.EmptyCount++
		}
	}
	summary.UniqueChosen = len(chosen)

	summary.BreakdownsTaken = len(st.Breakdowns)
	for _, b := range st.Breakdowns {
		summary.FinalTotals[b.Partition] = b.Total
	}

	return summary
}
