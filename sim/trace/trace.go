// Package trace provides event-trace recording for kinetic Monte Carlo runs.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// TraceLevel controls the verbosity of event tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures every executed process.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:   true,
	TraceLevelEvents: true,
	"":               true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
	// CoverageEvery samples the coverage every that many steps; 0 disables sampling.
	CoverageEvery int64
}

// EventRecord captures a single executed process.
type EventRecord struct {
	Step    int64   `csv:"step"`
	Time    float64 `csv:"time"` // clock after the event
	Dt      float64 `csv:"dt"`
	Process string  `csv:"process"`
	Site    int     `csv:"site"` // anchor site
}

// CoverageRecord captures the fraction of sites per species label at one step.
type CoverageRecord struct {
	Step     int64
	Time     float64
	Coverage map[string]float64 // "species@layer.site" -> fraction
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Config    TraceConfig
	Events    []EventRecord
	Coverages []CoverageRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:    config,
		Events:    make([]EventRecord, 0),
		Coverages: make([]CoverageRecord, 0),
	}
}

// RecordEvent appends an event record.
func (st *SimulationTrace) RecordEvent(record EventRecord) {
	st.Events = append(st.Events, record)
}

// RecordCoverage appends a coverage sample.
func (st *SimulationTrace) RecordCoverage(record CoverageRecord) {
	st.Coverages = append(st.Coverages, record)
}

// ShouldSampleCoverage reports whether step is a coverage sampling point.
func (st *SimulationTrace) ShouldSampleCoverage(step int64) bool {
	return st.Config.CoverageEvery > 0 && step%st.Config.CoverageEvery == 0
}
