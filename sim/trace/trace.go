package trace

// TraceLevel controls the verbosity of run tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelReports captures reporter breakdowns only.
	TraceLevelReports TraceLevel = "reports"
	// TraceLevelSamples captures breakdowns and every sampling decision.
	TraceLevelSamples TraceLevel = "samples"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:    true,
	TraceLevelReports: true,
	TraceLevelSamples: true,
	"":                true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects records during one simulation run.
type SimulationTrace struct {
	Config     TraceConfig
	Samples    []SampleRecord
	Breakdowns []BreakdownRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:     config,
		Samples:    make([]SampleRecord, 0),
		Breakdowns: make([]BreakdownRecord, 0),
	}
}

// RecordSample appends a sampling record when the level captures samples.
// Safe to call on a nil trace.
func (st *SimulationTrace) RecordSample(record SampleRecord) {
	if st == nil || st.Config.Level != TraceLevelSamples {
		return
	}
	st.Samples = append(st.Samples, record)
}

// RecordBreakdown appends a breakdown record when the level captures reports.
// Safe to call on a nil trace.
func (st *SimulationTrace) RecordBreakdown(record BreakdownRecord) {
	if st == nil {
		return
	}
	switch st.Config.Level {
	case TraceLevelReports, TraceLevelSamples:
		st.Breakdowns = append(st.Breakdowns, record)
	}
}
