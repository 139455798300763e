package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalEvents         int
	MeanDt              float64
	MaxDt               float64
	UniqueProcesses     int
	UniqueSites         int
	ProcessDistribution map[string]int // process name → count of executions
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		ProcessDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalEvents = len(st.Events)
	sites := make(map[int]bool)
	if len(st.Events) > 0 {
		totalDt := 0.0
		for _, e := range st.Events {
			summary.ProcessDistribution[e.Process]++
			sites[e.Site] = true
			totalDt += e.Dt
			if e.Dt > summary.MaxDt {
				summary.MaxDt = e.Dt
			}
		}
		summary.MeanDt = totalDt / float64(len(st.Events))
	}

	summary.UniqueProcesses = len(summary.ProcessDistribution)
	summary.UniqueSites = len(sites)

	return summary
}
