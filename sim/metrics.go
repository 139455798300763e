// Tracks run-wide counters such as fired processes, tallies and coverages.

package sim

import (
	"fmt"
	"io"
	"maps"
	"slices"
)

// Metrics is a snapshot of the kernel counters
// for final reporting and batch output.
type Metrics struct {
	Model     string
	Steps     int64   // events executed since allocation
	Time      float64 // simulated clock
	TotalRate float64

	Fired    map[string]int64   // process name -> executions since last reset
	Tally    map[string]float64 // tag -> accumulated weight since last reset
	TOF      map[string]float64 // tag -> tally per unit cell per unit time
	Coverage map[string]float64 // "species@layer.site" -> fraction of sites
}

// Print displays the snapshot in a stable, sorted layout.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Model                : %s\n", m.Model)
	fmt.Fprintf(w, "Steps                : %d\n", m.Steps)
	fmt.Fprintf(w, "Simulated Time       : %.6g\n", m.Time)
	fmt.Fprintf(w, "Total Rate           : %.6g\n", m.TotalRate)
	if m.Steps > 0 && m.Time > 0 {
		fmt.Fprintf(w, "Events per Time Unit : %.6g\n", float64(m.Steps)/m.Time)
	}

	fmt.Fprintln(w, "--- Fired Processes ---")
	for _, name := range slices.Sorted(maps.Keys(m.Fired)) {
		fmt.Fprintf(w, "%-30s : %d\n", name, m.Fired[name])
	}
	if len(m.Tally) > 0 {
		fmt.Fprintln(w, "--- Tallies ---")
		for _, tag := range slices.Sorted(maps.Keys(m.Tally)) {
			fmt.Fprintf(w, "%-30s : %.6g (TOF %.6g)\n", tag, m.Tally[tag], m.TOF[tag])
		}
	}
	fmt.Fprintln(w, "--- Coverage ---")
	for _, key := range slices.Sorted(maps.Keys(m.Coverage)) {
		fmt.Fprintf(w, "%-30s : %.4f\n", key, m.Coverage[key])
	}
}
