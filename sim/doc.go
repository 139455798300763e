// Package sim provides the lattice kinetic Monte Carlo execution kernel.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - model/: the process model (species, layers, sites, processes) and its validation
//   - lattice/: site numbering and periodic neighbor lookup without modulo arithmetic
//   - compiler/: decision trees naming the processes a single-site change enables or disables
//   - kernel.go: the BKL/Gillespie step loop over availability lists
//
// # Architecture
//
// A Kernel owns the lattice occupancy, one availability list per process and
// the accumulated rates. Every lattice change goes through one of four
// elementary operations (put, take, create, annihilate); each evaluates the
// compiled tree for that change and applies the returned enable/disable
// effects, so availability never needs a full rescan during a run.
//
// Rates are injected by name (SetRate) or evaluated from the model's rate
// expressions (RefreshRates with a rates.Evaluator). Parallel runs over
// parameter points live in sim/batch/; each instance owns its own Kernel.
//
// # Reproducibility
//
// A run is determined by the model, the system size, the rates and the seed.
// The kernel draws from the SubsystemKernel stream of a PartitionedRNG.
package sim
