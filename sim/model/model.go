package model

import (
	"fmt"
	"slices"
	"sort"

	"github.com/kmc-sim/kmc-sim/sim/lattice"
	"gonum.org/v1/gonum/mat"
)

// SpeciesID is the dense integer id of a species.
type SpeciesID int

// SiteType is one site of the unit cell, identified by its slot in [1, S].
type SiteType struct {
	Slot    int
	Layer   string
	Name    string
	Pos     [3]float64
	Default SpeciesID // default occupant
	Initial SpeciesID // occupant at allocation; null outside the default layer when slots can be created
}

// Label is "layer.site".
func (s SiteType) Label() string {
	return s.Layer + "." + s.Name
}

// Term is a resolved condition.
type Term struct {
	Coord   Coord
	Slot    int
	Species []SpeciesID
}

// Allows reports whether the condition holds for occupant s.
func (t Term) Allows(s SpeciesID) bool {
	return slices.Contains(t.Species, s)
}

// Change is a resolved action.
type Change struct {
	Coord   Coord
	Slot    int
	Kind    ActionKind
	Species SpeciesID
}

// Rule is a resolved, enabled process.
type Rule struct {
	Index        int
	Name         string
	RateConstant string
	Conditions   []Term
	Actions      []Change
	// Anchor is the executing coordinate: the first action coordinate under Coord.Less.
	Anchor     Coord
	AnchorSlot int
	Tally      map[string]float64
}

// FromAnchor is the address of (c, slot) relative to the anchor site of r.
func (r *Rule) FromAnchor(c Coord, slot int) lattice.Rel {
	return lattice.Rel{Offset: c.Sub(r.Anchor).Offset, Slot: slot}
}

// Model is a validated, completed and resolved project. Immutable.
type Model struct {
	project Project

	species    []string
	speciesIDs map[string]SpeciesID
	def        SpeciesID
	null       SpeciesID
	usesNull   bool

	sites  []SiteType
	slotOf map[[2]string]int

	rules   []Rule
	ruleIDs map[string]int
	extent  [3]int
	tallies []string

	cell *mat.Dense
}

// New validates p, completes omitted default-species conditions and actions,
// and resolves names to dense ids and slots. p is not modified.
func New(p Project) (*Model, error) {
	np := normalize(p)

	verr := &ValidationError{}
	validateStructure(&np, verr)
	if verr.HasIssues() {
		return nil, verr
	}
	complete(&np)
	validatePairing(&np, verr)
	if verr.HasIssues() {
		return nil, verr
	}

	m := &Model{
		project:    np,
		speciesIDs: make(map[string]SpeciesID),
		slotOf:     make(map[[2]string]int),
		ruleIDs:    make(map[string]int),
	}
	for _, s := range np.Species {
		id := SpeciesID(len(m.species))
		m.species = append(m.species, s.Name)
		m.speciesIDs[s.Name] = id
		if s.Default {
			m.def = id
		}
	}
	m.null = SpeciesID(len(m.species))
	m.species = append(m.species, NullSpecies)
	m.speciesIDs[NullSpecies] = m.null

	for _, proc := range np.Processes {
		for _, a := range proc.Actions {
			if a.Kind() != ActionSet {
				m.usesNull = true
			}
		}
	}

	for _, l := range np.Lattice.Layers {
		for _, s := range l.Sites {
			st := SiteType{
				Slot:    len(m.sites) + 1,
				Layer:   l.Name,
				Name:    s.Name,
				Pos:     s.Pos,
				Default: m.def,
			}
			if s.DefaultSpecies != "" {
				st.Default = m.speciesIDs[s.DefaultSpecies]
			}
			st.Initial = st.Default
			if m.usesNull && l.Name != np.Lattice.DefaultLayer {
				st.Initial = m.null
			}
			m.sites = append(m.sites, st)
			m.slotOf[[2]string{l.Name, s.Name}] = st.Slot
		}
	}

	tallies := make(map[string]bool)
	for _, proc := range np.Processes {
		if !proc.IsEnabled() {
			continue
		}
		r := m.resolve(proc)
		r.Index = len(m.rules)
		m.ruleIDs[r.Name] = r.Index
		m.rules = append(m.rules, r)
		for tag := range r.Tally {
			tallies[tag] = true
		}
		for axis, d := range span(proc) {
			m.extent[axis] = max(m.extent[axis], d)
		}
	}
	for tag := range tallies {
		m.tallies = append(m.tallies, tag)
	}
	sort.Strings(m.tallies)

	cell, err := cellMatrix(np.Lattice.CellSize)
	if err != nil {
		return nil, fmt.Errorf("lattice: %w", err)
	}
	m.cell = cell
	return m, nil
}

func (m *Model) resolve(proc Process) Rule {
	r := Rule{Name: proc.Name, RateConstant: proc.RateConstant, Tally: proc.Tally}
	for _, c := range proc.Conditions {
		t := Term{Coord: c.Coord, Slot: m.slotOf[[2]string{c.Coord.Layer, c.Coord.Site}]}
		for _, s := range c.Species {
			t.Species = append(t.Species, m.speciesIDs[s])
		}
		r.Conditions = append(r.Conditions, t)
	}
	for i, a := range proc.Actions {
		ch := Change{
			Coord:   a.Coord,
			Slot:    m.slotOf[[2]string{a.Coord.Layer, a.Coord.Site}],
			Kind:    a.Kind(),
			Species: m.speciesIDs[a.Target()],
		}
		if a.Kind() == ActionAnnihilate {
			ch.Species = m.null
		}
		r.Actions = append(r.Actions, ch)
		if i == 0 || a.Coord.Less(r.Anchor) {
			r.Anchor = a.Coord
			r.AnchorSlot = ch.Slot
		}
	}
	return r
}

// span is the per-axis distance between the extreme offsets used by proc.
func span(proc Process) [3]int {
	var lo, hi [3]int
	first := true
	visit := func(c Coord) {
		for i := range 3 {
			if first || c.Offset[i] < lo[i] {
				lo[i] = c.Offset[i]
			}
			if first || c.Offset[i] > hi[i] {
				hi[i] = c.Offset[i]
			}
		}
		first = false
	}
	for _, c := range proc.Conditions {
		visit(c.Coord)
	}
	for _, a := range proc.Actions {
		visit(a.Coord)
	}
	return [3]int{hi[0] - lo[0], hi[1] - lo[1], hi[2] - lo[2]}
}

// Project returns the completed project.
func (m *Model) Project() Project { return m.project }

// Name is the model name from the meta section.
func (m *Model) Name() string { return m.project.Meta.ModelName }

// Dimension is 1, 2 or 3.
func (m *Model) Dimension() int { return m.project.Meta.Dimension }

// NumSpecies counts all species including the null species.
func (m *Model) NumSpecies() int { return len(m.species) }

// SpeciesNames lists species by id; the null species is last.
func (m *Model) SpeciesNames() []string { return slices.Clone(m.species) }

// SpeciesID resolves a species name.
func (m *Model) SpeciesID(name string) (SpeciesID, bool) {
	id, ok := m.speciesIDs[name]
	return id, ok
}

// SpeciesName returns the name of id.
func (m *Model) SpeciesName(id SpeciesID) string { return m.species[id] }

// Default is the default species.
func (m *Model) Default() SpeciesID { return m.def }

// Null is the occupant of absent slots.
func (m *Model) Null() SpeciesID { return m.null }

// UsesNull reports whether any process creates or annihilates slots.
func (m *Model) UsesNull() bool { return m.usesNull }

// Slots is the number of sites per unit cell across all layers.
func (m *Model) Slots() int { return len(m.sites) }

// SiteType returns the site with the given slot in [1, Slots()].
func (m *Model) SiteType(slot int) SiteType { return m.sites[slot-1] }

// SiteTypes lists all sites ordered by slot.
func (m *Model) SiteTypes() []SiteType { return slices.Clone(m.sites) }

// Slot resolves a site of a layer.
func (m *Model) Slot(layer, site string) (int, bool) {
	s, ok := m.slotOf[[2]string{layer, site}]
	return s, ok
}

// Rules lists the enabled processes in declaration order.
func (m *Model) Rules() []Rule { return m.rules }

// RuleIndex resolves a process name to its index in Rules.
func (m *Model) RuleIndex(name string) (int, bool) {
	i, ok := m.ruleIDs[name]
	return i, ok
}

// Extent is the largest per-axis offset span of any process.
func (m *Model) Extent() [3]int { return m.extent }

// Tallies lists every tally tag, sorted.
func (m *Model) Tallies() []string { return slices.Clone(m.tallies) }

// Parameters returns the parameter table with the model's values.
func (m *Model) Parameters() map[string]float64 {
	out := make(map[string]float64, len(m.project.Parameters))
	for _, p := range m.project.Parameters {
		out[p.Name] = p.Value
	}
	return out
}
