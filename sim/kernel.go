package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/kmc-sim/kmc-sim/sim/compiler"
	"github.com/kmc-sim/kmc-sim/sim/lattice"
	"github.com/kmc-sim/kmc-sim/sim/model"
	"github.com/kmc-sim/kmc-sim/sim/rates"
	"github.com/kmc-sim/kmc-sim/sim/trace"
)

var (
	// ErrNotAllocated is returned by lattice operations before Allocate.
	ErrNotAllocated = errors.New("kernel not allocated")
	// ErrDegenerateRate is returned by a step when no process is applicable.
	ErrDegenerateRate = errors.New("total rate is zero")
	// ErrInvalidRate is returned when a negative, NaN or infinite rate is injected.
	ErrInvalidRate = errors.New("invalid rate")
	// ErrUnknownProcess is returned for a process name the model does not run.
	ErrUnknownProcess = errors.New("unknown process")
	// ErrUnknownSpecies is returned for a species name the model does not define.
	ErrUnknownSpecies = errors.New("unknown species")
	// ErrSystemTooSmall is returned when a process spans the whole system along an axis.
	ErrSystemTooSmall = errors.New("system too small for model")
	// ErrInvalidSite is returned for site numbers outside [1, volume].
	ErrInvalidSite = errors.New("invalid site")
	// ErrInconsistent is returned by CheckConsistency.
	ErrInconsistent = errors.New("kernel state inconsistent")
)

// Limits bounds a Run. Zero fields are unbounded.
type Limits struct {
	Steps int64   // steps executed by this Run
	Time  float64 // absolute simulated time
}

// Kernel executes a compiled process model on a periodic lattice with the
// BKL/Gillespie algorithm. A Kernel is single-threaded; independent kernels
// share nothing and may run in parallel.
type Kernel struct {
	model *model.Model
	trees *compiler.Trees

	tab *lattice.Table
	occ []model.SpeciesID // indexed by site - 1

	// avail[p] holds the anchor sites of process p in no particular order;
	// pos[p][site-1] is the index of site in avail[p] plus one, or zero.
	avail [][]int
	pos   [][]int32

	rate  []float64
	accum []float64
	total float64

	clock     float64
	steps     int64
	since     float64 // clock at the last ResetCounters
	fired     []int64
	tally     map[string]float64
	streams   *PartitionedRNG
	rng       *rand.Rand
	scratch   []compiler.Effect
	simTrace  *trace.SimulationTrace
	allocated bool
}

// NewKernel compiles the applicability trees of m. All rates start at zero.
func NewKernel(m *model.Model) *Kernel {
	n := len(m.Rules())
	k := &Kernel{
		model: m,
		trees: compiler.Compile(m),
		rate:  make([]float64, n),
		accum: make([]float64, n),
		fired: make([]int64, n),
		tally: make(map[string]float64),
	}
	k.resetCounters()
	return k
}

// Model returns the model the kernel runs.
func (k *Kernel) Model() *model.Model { return k.model }

// Trees returns the compiled applicability trees.
func (k *Kernel) Trees() *compiler.Trees { return k.trees }

// Allocate builds a fresh lattice of the given size with every site holding its
// initial occupant, computes the initial availability and resets clock,
// counters and any enabled trace. Rates are kept.
func (k *Kernel) Allocate(systemSize []int, seed int64) error {
	if len(systemSize) != k.model.Dimension() {
		return fmt.Errorf("%w: model is %dD, got %d system extents", lattice.ErrInvalidGeometry, k.model.Dimension(), len(systemSize))
	}
	tab, err := lattice.Allocate(systemSize, k.model.Slots())
	if err != nil {
		return err
	}
	ext := k.model.Extent()
	if !tab.Reaches(ext) {
		return fmt.Errorf("%w: process extent %v exceeds system size %v", ErrSystemTooSmall, ext, tab.Size())
	}
	for axis := 0; axis < tab.Dim(); axis++ {
		if ext[axis] >= tab.Size()[axis] {
			return fmt.Errorf("%w: a process spans %d cells along axis %d, system size is %d", ErrSystemTooSmall, ext[axis]+1, axis, tab.Size()[axis])
		}
	}

	k.tab = tab
	k.occ = make([]model.SpeciesID, tab.Volume())
	for site := 1; site <= tab.Volume(); site++ {
		k.occ[site-1] = k.model.SiteType(tab.Decode(site).Slot).Initial
	}
	rules := k.model.Rules()
	k.avail = make([][]int, len(rules))
	k.pos = make([][]int32, len(rules))
	for p := range rules {
		k.pos[p] = make([]int32, tab.Volume())
	}
	k.total = 0
	for p := range rules {
		k.accum[p] = 0
	}
	for p := range rules {
		for _, site := range k.applicableAnchors(p) {
			k.enable(p, site)
		}
	}

	if k.simTrace != nil {
		k.simTrace = trace.NewSimulationTrace(k.simTrace.Config)
	}
	k.streams = NewPartitionedRNG(NewSimulationKey(seed))
	k.rng = k.streams.ForSubsystem(SubsystemKernel)
	k.clock = 0
	k.steps = 0
	k.resetCounters()
	k.allocated = true

	logrus.WithFields(logrus.Fields{
		"model":  k.model.Name(),
		"size":   systemSize,
		"volume": tab.Volume(),
		"seed":   seed,
	}).Debug("kernel allocated")
	return nil
}

// Deallocate releases the lattice. Rates are kept.
func (k *Kernel) Deallocate() {
	k.tab = nil
	k.occ = nil
	k.avail = nil
	k.pos = nil
	k.scratch = nil
	k.streams = nil
	k.rng = nil
	k.total = 0
	clear(k.accum)
	k.allocated = false
}

// Allocated reports whether a lattice is allocated.
func (k *Kernel) Allocated() bool { return k.allocated }

// Lattice returns the address table, nil before Allocate.
func (k *Kernel) Lattice() *lattice.Table { return k.tab }

// EnableTrace starts recording into a new trace; a level of none disables it.
func (k *Kernel) EnableTrace(cfg trace.TraceConfig) {
	if cfg.Level == trace.TraceLevelNone || cfg.Level == "" {
		k.simTrace = nil
		return
	}
	k.simTrace = trace.NewSimulationTrace(cfg)
}

// Trace returns the recorded trace, nil when tracing is disabled.
func (k *Kernel) Trace() *trace.SimulationTrace { return k.simTrace }

// applicableAnchors checks every condition of process p at every anchor site.
func (k *Kernel) applicableAnchors(p int) []int {
	r := &k.model.Rules()[p]
	var out []int
	for site := 1; site <= k.tab.Volume(); site++ {
		if k.tab.Decode(site).Slot != r.AnchorSlot {
			continue
		}
		ok := true
		for _, c := range r.Conditions {
			if !c.Allows(k.occ[k.tab.Neighbor(site, r.FromAnchor(c.Coord, c.Slot))-1]) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, site)
		}
	}
	return out
}

// === Rates ===

// SetRate injects the rate of a process by name.
func (k *Kernel) SetRate(process string, rate float64) error {
	p, ok := k.model.RuleIndex(process)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProcess, process)
	}
	if err := checkRate(process, rate); err != nil {
		return err
	}
	k.rate[p] = rate
	k.updateAccum(p)
	return nil
}

// Rate returns the injected rate of a process.
func (k *Kernel) Rate(process string) (float64, error) {
	p, ok := k.model.RuleIndex(process)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownProcess, process)
	}
	return k.rate[p], nil
}

// RefreshRates evaluates every rate constant with params and injects the
// results. Nothing is changed when any expression fails.
func (k *Kernel) RefreshRates(ev rates.Evaluator, params map[string]float64) error {
	vals, err := rates.Resolve(ev, k.model, params)
	if err != nil {
		return err
	}
	rules := k.model.Rules()
	for p, v := range vals {
		if err := checkRate(rules[p].Name, v); err != nil {
			return err
		}
	}
	copy(k.rate, vals)
	k.total = 0
	for p := range k.rate {
		k.accum[p] = k.rate[p] * float64(len(k.availOf(p)))
		k.total += k.accum[p]
	}
	return nil
}

func checkRate(process string, rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return fmt.Errorf("%w for process %s: %v", ErrInvalidRate, process, rate)
	}
	return nil
}

// TotalRate is the sum of rate times available anchors over all processes.
func (k *Kernel) TotalRate() float64 { return k.total }

// === Availability ===

func (k *Kernel) availOf(p int) []int {
	if k.avail == nil {
		return nil
	}
	return k.avail[p]
}

// Available returns a sorted copy of the anchor sites of a process.
func (k *Kernel) Available(process string) ([]int, error) {
	p, ok := k.model.RuleIndex(process)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcess, process)
	}
	out := slices.Clone(k.availOf(p))
	slices.Sort(out)
	return out, nil
}

// enable adds site to the anchors of p; a no-op when already present.
func (k *Kernel) enable(p, site int) {
	if k.pos[p][site-1] != 0 {
		return
	}
	k.avail[p] = append(k.avail[p], site)
	k.pos[p][site-1] = int32(len(k.avail[p]))
	k.updateAccum(p)
}

// disable removes site from the anchors of p; a no-op when absent.
func (k *Kernel) disable(p, site int) {
	i := int(k.pos[p][site-1]) - 1
	if i < 0 {
		return
	}
	last := len(k.avail[p]) - 1
	moved := k.avail[p][last]
	k.avail[p][i] = moved
	k.pos[p][moved-1] = int32(i + 1)
	k.avail[p] = k.avail[p][:last]
	k.pos[p][site-1] = 0
	k.updateAccum(p)
}

func (k *Kernel) updateAccum(p int) {
	acc := k.rate[p] * float64(len(k.availOf(p)))
	k.total += acc - k.accum[p]
	k.accum[p] = acc
}

func (k *Kernel) apply(effects []compiler.Effect) {
	for _, e := range effects {
		if e.Enable {
			k.enable(e.Process, e.Site)
		} else {
			k.disable(e.Process, e.Site)
		}
	}
}

// === Lattice mutation ===

func (k *Kernel) put(site int, x model.SpeciesID) {
	k.occ[site-1] = x
	k.scratch = k.trees.Tree(compiler.OpPut, x, k.tab.Decode(site).Slot).Evaluate(site, k.tab, k.occ, k.scratch[:0])
	k.apply(k.scratch)
}

func (k *Kernel) take(site int, x model.SpeciesID) {
	k.occ[site-1] = k.model.Default()
	k.scratch = k.trees.Tree(compiler.OpTake, x, k.tab.Decode(site).Slot).Evaluate(site, k.tab, k.occ, k.scratch[:0])
	k.apply(k.scratch)
}

func (k *Kernel) create(site int, x model.SpeciesID) {
	k.occ[site-1] = x
	k.scratch = k.trees.Tree(compiler.OpCreate, x, k.tab.Decode(site).Slot).Evaluate(site, k.tab, k.occ, k.scratch[:0])
	k.apply(k.scratch)
}

func (k *Kernel) annihilate(site int) {
	x := k.occ[site-1]
	k.scratch = k.trees.Tree(compiler.OpAnnihilate, x, k.tab.Decode(site).Slot).Evaluate(site, k.tab, k.occ, k.scratch[:0])
	k.occ[site-1] = k.model.Null()
	k.apply(k.scratch)
}

// replace changes the occupant of site to x through the elementary operations.
func (k *Kernel) replace(site int, x model.SpeciesID) {
	old := k.occ[site-1]
	def, null := k.model.Default(), k.model.Null()
	switch {
	case old == x:
	case old == null:
		k.create(site, x)
	case x == null:
		k.annihilate(site)
	default:
		if old != def {
			k.take(site, old)
		}
		if x != def {
			k.put(site, x)
		}
	}
}

// Species returns the occupant of a site.
func (k *Kernel) Species(site int) (model.SpeciesID, error) {
	if err := k.checkSite(site); err != nil {
		return 0, err
	}
	return k.occ[site-1], nil
}

// SpeciesName returns the name of the occupant of a site.
func (k *Kernel) SpeciesName(site int) (string, error) {
	s, err := k.Species(site)
	if err != nil {
		return "", err
	}
	return k.model.SpeciesName(s), nil
}

// SetSpecies changes the occupant of a site, keeping availability consistent.
func (k *Kernel) SetSpecies(site int, species string) error {
	if err := k.checkSite(site); err != nil {
		return err
	}
	x, ok := k.model.SpeciesID(species)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSpecies, species)
	}
	k.replace(site, x)
	return nil
}

// Scatter places species on a randomly chosen fraction of the sites of the
// type labelled "layer.site", rounding to the nearest site count. Sites are
// drawn from the initial stream of the allocation seed, leaving the event
// stream untouched. It returns the number of sites set.
func (k *Kernel) Scatter(species, label string, fraction float64) (int, error) {
	if !k.allocated {
		return 0, ErrNotAllocated
	}
	x, ok := k.model.SpeciesID(species)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSpecies, species)
	}
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return 0, fmt.Errorf("fraction %v not in [0, 1]", fraction)
	}
	slot := 0
	for _, st := range k.model.SiteTypes() {
		if st.Label() == label {
			slot = st.Slot
			break
		}
	}
	if slot == 0 {
		return 0, fmt.Errorf("%w: no site type %s", ErrInvalidSite, label)
	}

	var sites []int
	for site := 1; site <= k.tab.Volume(); site++ {
		if k.tab.Decode(site).Slot == slot {
			sites = append(sites, site)
		}
	}
	n := int(math.Round(fraction * float64(len(sites))))
	rng := k.streams.ForSubsystem(SubsystemInitial)
	rng.Shuffle(len(sites), func(i, j int) { sites[i], sites[j] = sites[j], sites[i] })
	for _, site := range sites[:n] {
		k.replace(site, x)
	}
	return n, nil
}

func (k *Kernel) checkSite(site int) error {
	if !k.allocated {
		return ErrNotAllocated
	}
	if !k.tab.Contains(site) {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidSite, site, k.tab.Volume())
	}
	return nil
}

// === Stepping ===

// Step executes n events.
func (k *Kernel) Step(n int64) error {
	if !k.allocated {
		return ErrNotAllocated
	}
	for i := int64(0); i < n; i++ {
		if err := k.step(); err != nil {
			return err
		}
	}
	return nil
}

// Run steps until a limit is reached or ctx is done. ctx is checked between
// steps, so the lattice is always left after a whole event.
func (k *Kernel) Run(ctx context.Context, lim Limits) error {
	if !k.allocated {
		return ErrNotAllocated
	}
	for i := int64(0); lim.Steps <= 0 || i < lim.Steps; i++ {
		if lim.Time > 0 && k.clock >= lim.Time {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := k.step(); err != nil {
			return err
		}
	}
	logrus.Debugf("kernel stopped at step %d, t=%g", k.steps, k.clock)
	return nil
}

// selectProcess returns the first process whose cumulative accumulated rate
// reaches threshold, skipping processes with nothing available.
func (k *Kernel) selectProcess(threshold float64) int {
	sum := 0.0
	last := -1
	for p, acc := range k.accum {
		if acc <= 0 {
			continue
		}
		sum += acc
		last = p
		if sum >= threshold {
			return p
		}
	}
	// rounding in the incremental total
	return last
}

func (k *Kernel) step() error {
	if k.total <= 0 {
		return ErrDegenerateRate
	}
	p := k.selectProcess(k.rng.Float64() * k.total)
	if p < 0 {
		k.total = 0
		return ErrDegenerateRate
	}
	anchors := k.avail[p]
	anchor := anchors[int(k.rng.Float64()*float64(len(anchors)))]
	dt := -math.Log(1-k.rng.Float64()) / k.total
	k.clock += dt

	r := &k.model.Rules()[p]
	for _, a := range r.Actions {
		site := k.tab.Neighbor(anchor, r.FromAnchor(a.Coord, a.Slot))
		switch a.Kind {
		case model.ActionCreate:
			k.create(site, a.Species)
		case model.ActionAnnihilate:
			k.annihilate(site)
		default:
			k.replace(site, a.Species)
		}
	}

	k.steps++
	k.fired[p]++
	for tag, w := range r.Tally {
		k.tally[tag] += w
	}
	if k.simTrace != nil {
		k.simTrace.RecordEvent(trace.EventRecord{Step: k.steps, Time: k.clock, Dt: dt, Process: r.Name, Site: anchor})
		if k.simTrace.ShouldSampleCoverage(k.steps) {
			k.simTrace.RecordCoverage(trace.CoverageRecord{Step: k.steps, Time: k.clock, Coverage: k.Coverage()})
		}
	}
	return nil
}

// === Counters ===

// Time is the simulated clock.
func (k *Kernel) Time() float64 { return k.clock }

// StepCount is the number of events executed since Allocate.
func (k *Kernel) StepCount() int64 { return k.steps }

// FiredCounts maps every process name to its executions since the last reset.
func (k *Kernel) FiredCounts() map[string]int64 {
	rules := k.model.Rules()
	out := make(map[string]int64, len(rules))
	for p, r := range rules {
		out[r.Name] = k.fired[p]
	}
	return out
}

// Tally maps every tally tag to its accumulated weight since the last reset.
func (k *Kernel) Tally() map[string]float64 {
	out := make(map[string]float64, len(k.tally))
	for tag, v := range k.tally {
		out[tag] = v
	}
	return out
}

// TOF is the tally per unit cell per unit time since the last reset.
func (k *Kernel) TOF() map[string]float64 {
	out := make(map[string]float64, len(k.tally))
	dt := k.clock - k.since
	for tag, v := range k.tally {
		if dt > 0 && k.tab != nil {
			out[tag] = v / dt / float64(k.tab.Cells())
		} else {
			out[tag] = 0
		}
	}
	return out
}

// ResetCounters zeroes fired counts and tallies; the clock keeps running.
func (k *Kernel) ResetCounters() { k.resetCounters() }

func (k *Kernel) resetCounters() {
	clear(k.fired)
	for _, tag := range k.model.Tallies() {
		k.tally[tag] = 0
	}
	k.since = k.clock
}

// OccupationHistogram maps species name to site label ("layer.site") to the
// number of sites of that type holding the species.
func (k *Kernel) OccupationHistogram() (map[string]map[string]int, error) {
	if !k.allocated {
		return nil, ErrNotAllocated
	}
	out := make(map[string]map[string]int)
	for _, name := range k.model.SpeciesNames() {
		out[name] = make(map[string]int)
	}
	for site := 1; site <= k.tab.Volume(); site++ {
		label := k.model.SiteType(k.tab.Decode(site).Slot).Label()
		out[k.model.SpeciesName(k.occ[site-1])][label]++
	}
	return out, nil
}

// Coverage maps "species@layer.site" to the fraction of sites of that type
// holding the species. Pairs that never occur are omitted.
func (k *Kernel) Coverage() map[string]float64 {
	hist, err := k.OccupationHistogram()
	if err != nil {
		return map[string]float64{}
	}
	cells := float64(k.tab.Cells())
	out := make(map[string]float64)
	for species, bySite := range hist {
		for label, n := range bySite {
			out[species+"@"+label] = float64(n) / cells
		}
	}
	return out
}

// Metrics snapshots the counters.
func (k *Kernel) Metrics() *Metrics {
	return &Metrics{
		Model:     k.model.Name(),
		Steps:     k.steps,
		Time:      k.clock,
		TotalRate: k.total,
		Fired:     k.FiredCounts(),
		Tally:     k.Tally(),
		TOF:       k.TOF(),
		Coverage:  k.Coverage(),
	}
}

// CheckConsistency recomputes availability by brute force and compares it
// with the incremental state, including accumulated and total rates.
func (k *Kernel) CheckConsistency() error {
	if !k.allocated {
		return ErrNotAllocated
	}
	rules := k.model.Rules()
	sum := 0.0
	for p, r := range rules {
		want := k.applicableAnchors(p)
		got := slices.Clone(k.avail[p])
		slices.Sort(got)
		if !slices.Equal(want, got) {
			return fmt.Errorf("%w: process %s available at %v, want %v", ErrInconsistent, r.Name, got, want)
		}
		for i, site := range k.avail[p] {
			if int(k.pos[p][site-1]) != i+1 {
				return fmt.Errorf("%w: process %s: position index of site %d is %d, want %d", ErrInconsistent, r.Name, site, k.pos[p][site-1], i+1)
			}
		}
		if acc := k.rate[p] * float64(len(k.avail[p])); acc != k.accum[p] {
			return fmt.Errorf("%w: process %s: accumulated rate %g, want %g", ErrInconsistent, r.Name, k.accum[p], acc)
		}
		sum += k.accum[p]
	}
	if math.Abs(sum-k.total) > 1e-9*math.Max(1, sum) {
		return fmt.Errorf("%w: total rate %g, want %g", ErrInconsistent, k.total, sum)
	}
	return nil
}
