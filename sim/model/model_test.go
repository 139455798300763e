package model

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const coOxidationYAML = `
meta:
  model_name: co_oxidation
  author: test
  dimension: 2
species:
  - name: empty
    default: true
  - name: CO
  - name: O
parameters:
  - name: T
    value: 600
    adjustable: true
    min: 300
    max: 1500
  - name: p_CO
    value: 1
lattice:
  cell_size: [[3.1, 0, 0], [0, 6.4, 0], [0, 0, 1]]
  default_layer: ruo2
  layers:
    - name: ruo2
      sites:
        - name: bridge
          pos: [0, 0.5, 0.5]
        - name: cus
          pos: [0.5, 0.5, 0.5]
processes:
  - name: CO_adsorption_cus
    rate_constant: "p_CO*1e8"
    conditions:
      - coord: cus
        species: empty
    actions:
      - coord: cus
        species: CO
  - name: CO_desorption_cus
    rate_constant: "1e3"
    conditions:
      - coord: cus.(0,0,0).ruo2
        species: CO
  - name: CO_oxidation_cus_cus
    rate_constant: "1e5"
    tof_count:
      CO_oxidation: 1
    conditions:
      - coord: cus.(0,1,0)
        species: CO
      - coord: cus
        species: [O]
  - name: O_diffusion_any
    rate_constant: "1"
    enabled: false
    conditions:
      - coord: bridge
        species: O|CO
    actions:
      - coord: bridge
        species: empty
      - coord: bridge.(1,0,0)
        species: O
`

func loadModel(t *testing.T, src string) *Model {
	t.Helper()
	p, err := Decode(strings.NewReader(src))
	require.NoError(t, err)
	m, err := New(*p)
	require.NoError(t, err)
	return m
}

func TestDecode_UnknownField_Rejected(t *testing.T) {
	_, err := Decode(strings.NewReader("meta:\n  modle_name: typo\n"))
	require.Error(t, err)
}

func TestNew_ResolvesSpeciesAndSlots(t *testing.T) {
	m := loadModel(t, coOxidationYAML)

	assert.Equal(t, "co_oxidation", m.Name())
	assert.Equal(t, 2, m.Dimension())
	assert.Equal(t, []string{"empty", "CO", "O", NullSpecies}, m.SpeciesNames())
	assert.Equal(t, SpeciesID(0), m.Default())
	assert.Equal(t, SpeciesID(3), m.Null())
	assert.False(t, m.UsesNull())

	assert.Equal(t, 2, m.Slots())
	slot, ok := m.Slot("ruo2", "cus")
	require.True(t, ok)
	assert.Equal(t, 2, slot)
	assert.Equal(t, "ruo2.cus", m.SiteType(slot).Label())
	assert.Equal(t, m.Default(), m.SiteType(slot).Initial)

	assert.Equal(t, map[string]float64{"T": 600, "p_CO": 1}, m.Parameters())
	assert.Equal(t, []string{"CO_oxidation"}, m.Tallies())
}

func TestNew_DisabledProcessesAreNotResolved(t *testing.T) {
	m := loadModel(t, coOxidationYAML)
	require.Len(t, m.Rules(), 3)
	_, ok := m.RuleIndex("O_diffusion_any")
	assert.False(t, ok)
	i, ok := m.RuleIndex("CO_oxidation_cus_cus")
	require.True(t, ok)
	assert.Equal(t, 2, i)
}

func TestNew_CompletesDefaultSpecies(t *testing.T) {
	m := loadModel(t, coOxidationYAML)
	rules := m.Rules()

	// GIVEN a desorption with only a CO condition
	// THEN an action back to the default species is added
	des := rules[1]
	require.Len(t, des.Actions, 1)
	assert.Equal(t, m.Default(), des.Actions[0].Species)
	assert.Equal(t, ActionSet, des.Actions[0].Kind)

	// GIVEN an oxidation with conditions only
	// THEN both sites are emptied
	ox := rules[2]
	require.Len(t, ox.Actions, 2)
	for _, a := range ox.Actions {
		assert.Equal(t, m.Default(), a.Species)
	}
	assert.Equal(t, map[string]float64{"CO_oxidation": 1}, ox.Tally)

	// AND the completed project is returned with layers filled in
	proj := m.Project()
	assert.Equal(t, "ruo2", proj.Processes[0].Conditions[0].Coord.Layer)
	assert.Len(t, proj.Processes[1].Actions, 1)
}

func TestNew_DoesNotModifyInput(t *testing.T) {
	p, err := Decode(strings.NewReader(coOxidationYAML))
	require.NoError(t, err)
	_, err = New(*p)
	require.NoError(t, err)
	assert.Empty(t, p.Processes[1].Actions)
	assert.Equal(t, "", p.Processes[0].Conditions[0].Coord.Layer)
}

func TestRule_AnchorIsFirstActionCoordinate(t *testing.T) {
	m := loadModel(t, coOxidationYAML)
	ox := m.Rules()[2]
	// cus.(0,0,0) sorts before cus.(0,1,0)
	assert.Equal(t, Coord{Site: "cus", Layer: "ruo2"}, ox.Anchor)
	assert.Equal(t, 2, ox.AnchorSlot)

	rel := ox.FromAnchor(Coord{Site: "cus", Layer: "ruo2", Offset: [3]int{0, 1, 0}}, 2)
	assert.Equal(t, [3]int{0, 1, 0}, rel.Offset)
	assert.Equal(t, 2, rel.Slot)
}

func TestModel_Extent(t *testing.T) {
	m := loadModel(t, coOxidationYAML)
	assert.Equal(t, [3]int{0, 1, 0}, m.Extent())
}

func TestParseCoord(t *testing.T) {
	tests := []struct {
		in   string
		want Coord
	}{
		{"cus", Coord{Site: "cus"}},
		{"cus.ruo2", Coord{Site: "cus", Layer: "ruo2"}},
		{"cus.(1,-1,0)", Coord{Site: "cus", Offset: [3]int{1, -1, 0}}},
		{"cus.(1, 2).ruo2", Coord{Site: "cus", Layer: "ruo2", Offset: [3]int{1, 2, 0}}},
		{" a.(0,0,3).l ", Coord{Site: "a", Layer: "l", Offset: [3]int{0, 0, 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCoord(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", ".(0,0,0)", "a.(0,0", "a.(x,0,0)", "a.(0,0,0,0)", "a.(0,0,0)l"} {
		t.Run("bad "+bad, func(t *testing.T) {
			_, err := ParseCoord(bad)
			assert.Error(t, err)
		})
	}
}

func TestCoord_LessAndSub(t *testing.T) {
	a := Coord{Site: "a", Layer: "l1", Offset: [3]int{0, 1, 0}}
	b := Coord{Site: "a", Layer: "l1", Offset: [3]int{1, 0, 0}}
	c := Coord{Site: "b", Layer: "l0"}

	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.True(t, c.Less(a), "layer sorts first")
	assert.False(t, a.Less(a))
	assert.Equal(t, Coord{Offset: [3]int{-1, 1, 0}}, a.Sub(b))
}

func TestSaveLoad_PreservesCompletedProject(t *testing.T) {
	m := loadModel(t, coOxidationYAML)
	path := filepath.Join(t.TempDir(), "model.yaml")
	proj := m.Project()
	require.NoError(t, Save(path, &proj))

	back, err := Load(path)
	require.NoError(t, err)
	m2, err := New(*back)
	require.NoError(t, err)
	assert.Equal(t, m.SpeciesNames(), m2.SpeciesNames())
	assert.Equal(t, len(m.Rules()), len(m2.Rules()))
	assert.Equal(t, m.Rules()[2].Conditions, m2.Rules()[2].Conditions)
}

func TestEncode_SpeciesSetAndCoordAsStrings(t *testing.T) {
	p := &Project{Processes: []Process{{
		Name:       "p",
		Conditions: []Condition{{Coord: Coord{Site: "a", Layer: "l"}, Species: SpeciesSet{"A", "B"}}},
	}}}
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, p))
	assert.Contains(t, buf.String(), "coord: a.(0,0,0).l")
	assert.Contains(t, buf.String(), "A|B")
}

func TestGeometry_CartesianPosition(t *testing.T) {
	m := loadModel(t, coOxidationYAML)
	slot, _ := m.Slot("ruo2", "cus")

	pos := m.CartesianPosition(slot, [3]int{1, 0, 0})
	assert.InDelta(t, 1.5*3.1, pos[0], 1e-12)
	assert.InDelta(t, 0.5*6.4, pos[1], 1e-12)
	assert.InDelta(t, 0.5, pos[2], 1e-12)
	assert.InDelta(t, 3.1*6.4, m.CellVolume(), 1e-9)
}

func minimalProject() Project {
	return Project{
		Meta:    Meta{ModelName: "m", Dimension: 1},
		Species: []Species{{Name: "empty", Default: true}, {Name: "A"}},
		Lattice: Lattice{Layers: []Layer{{Name: "l", Sites: []Site{{Name: "s"}}}}},
		Processes: []Process{{
			Name:         "ads",
			RateConstant: "1",
			Conditions:   []Condition{{Coord: Coord{Site: "s"}, Species: SpeciesSet{"empty"}}},
			Actions:      []Action{{Coord: Coord{Site: "s"}, Species: "A"}},
		}},
	}
}

func TestNew_ValidationIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Project)
		issue  string
	}{
		{"bad dimension", func(p *Project) { p.Meta.Dimension = 4 }, "dimension"},
		{"duplicate species", func(p *Project) { p.Species = append(p.Species, Species{Name: "A"}) }, "duplicate species name: A"},
		{"reserved species", func(p *Project) { p.Species = append(p.Species, Species{Name: NullSpecies}) }, "reserved"},
		{"no default", func(p *Project) { p.Species[0].Default = false }, "exactly one species"},
		{"two defaults", func(p *Project) { p.Species[1].Default = true }, "exactly one species"},
		{"bad parameter", func(p *Project) { p.Parameters = []Parameter{{Name: "1x"}} }, "not an identifier"},
		{"duplicate process", func(p *Project) { p.Processes = append(p.Processes, p.Processes[0]) }, "duplicate process name: ads"},
		{"no conditions or actions", func(p *Project) {
			p.Processes[0].Conditions = nil
			p.Processes[0].Actions = nil
		}, "at least one condition or action"},
		{"lone null condition", func(p *Project) {
			p.Processes[0].Conditions[0].Species = SpeciesSet{NullSpecies}
			p.Processes[0].Actions = nil
		}, "at least one action is required"},
		{"no rate", func(p *Project) { p.Processes[0].RateConstant = " " }, "rate constant"},
		{"unknown site", func(p *Project) { p.Processes[0].Actions[0].Coord.Site = "x" }, "unknown site"},
		{"unknown layer", func(p *Project) { p.Processes[0].Actions[0].Coord.Layer = "x" }, "unknown layer"},
		{"unknown species", func(p *Project) { p.Processes[0].Actions[0].Species = "B" }, "unknown species \"B\""},
		{"inactive axis offset", func(p *Project) { p.Processes[0].Actions[0].Coord.Offset[1] = 1 }, "axis 1"},
		{"duplicate condition", func(p *Project) {
			p.Processes[0].Conditions = append(p.Processes[0].Conditions, p.Processes[0].Conditions[0])
		}, "more than one condition"},
		{"null mixed", func(p *Project) { p.Processes[0].Conditions[0].Species = SpeciesSet{"empty", NullSpecies} }, "mixes"},
		{"set absent slot", func(p *Project) { p.Processes[0].Conditions[0].Species = SpeciesSet{NullSpecies} }, "use ^A"},
		{"create existing slot", func(p *Project) { p.Processes[0].Actions[0].Species = "^A" }, "creation"},
		{"annihilate without species or condition", func(p *Project) {
			p.Processes[0].Actions = append(p.Processes[0].Actions, Action{Coord: Coord{Site: "s", Offset: [3]int{1, 0, 0}}, Species: "$"})
		}, "no matching condition"},
		{"annihilate ambiguous", func(p *Project) {
			p.Processes[0].Conditions[0].Species = SpeciesSet{"empty", "A"}
			p.Processes[0].Actions[0].Species = "$"
		}, "cannot infer"},
		{"annihilate mismatch", func(p *Project) { p.Processes[0].Actions[0].Species = "$A" }, "does not match"},
		{"singular cell", func(p *Project) { p.Lattice.CellSize = [][]float64{{1, 0, 0}, {2, 0, 0}, {0, 0, 1}} }, "singular"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := minimalProject()
			tt.mutate(&p)
			_, err := New(p)
			require.Error(t, err)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %T", err)
			assert.Contains(t, verr.Error(), tt.issue)
		})
	}
}

func TestNew_CompletesOmittedHalves(t *testing.T) {
	// GIVEN a desorption with conditions only and an adsorption with actions only
	p := minimalProject()
	site := Coord{Site: "s"}
	p.Processes = []Process{
		{Name: "des", RateConstant: "1", Conditions: []Condition{{Coord: site, Species: SpeciesSet{"A"}}}},
		{Name: "ads", RateConstant: "1", Actions: []Action{{Coord: site, Species: "A"}}},
	}

	// WHEN the model is resolved
	m, err := New(p)

	// THEN both are accepted
	require.NoError(t, err)
	require.Len(t, m.Rules(), 2)
	empty, ok := m.SpeciesID("empty")
	require.True(t, ok)
	a, ok := m.SpeciesID("A")
	require.True(t, ok)
	at := Coord{Site: "s", Layer: "l"}

	// AND the desorption gains an action to the default species
	des := m.Rules()[0]
	assert.Equal(t, []Term{{Coord: at, Slot: 1, Species: []SpeciesID{a}}}, des.Conditions)
	assert.Equal(t, []Change{{Coord: at, Slot: 1, Kind: ActionSet, Species: empty}}, des.Actions)

	// AND the adsorption gains a condition on the default species
	ads := m.Rules()[1]
	assert.Equal(t, []Term{{Coord: at, Slot: 1, Species: []SpeciesID{empty}}}, ads.Conditions)
	assert.Equal(t, []Change{{Coord: at, Slot: 1, Kind: ActionSet, Species: a}}, ads.Actions)

	// AND the caller's project is left untouched
	assert.Empty(t, p.Processes[0].Actions)
	assert.Empty(t, p.Processes[1].Conditions)
}

func TestNew_CreationAndAnnihilationCompletion(t *testing.T) {
	// GIVEN a two-layer model where a process turns a substrate site into
	// a reconstructed site
	p := Project{
		Meta:    Meta{ModelName: "recon", Dimension: 1},
		Species: []Species{{Name: "empty", Default: true}, {Name: "A"}},
		Lattice: Lattice{
			DefaultLayer: "sub",
			Layers: []Layer{
				{Name: "sub", Sites: []Site{{Name: "s"}}},
				{Name: "rec", Sites: []Site{{Name: "r"}}},
			},
		},
		Processes: []Process{{
			Name:         "reconstruct",
			RateConstant: "1",
			Conditions:   []Condition{{Coord: Coord{Site: "s"}, Species: SpeciesSet{"A"}}},
			Actions: []Action{
				{Coord: Coord{Site: "s"}, Species: "$"},
				{Coord: Coord{Site: "r", Layer: "rec"}, Species: "^A"},
			},
		}},
	}
	m, err := New(p)
	require.NoError(t, err)

	// THEN the bare "$" takes the species of its condition
	proc := m.Project().Processes[0]
	assert.Equal(t, "$A", proc.Actions[0].Species)
	// AND "^A" receives a null condition
	require.Len(t, proc.Conditions, 2)
	assert.Equal(t, SpeciesSet{NullSpecies}, proc.Conditions[1].Species)

	// AND slots outside the default layer start absent
	assert.True(t, m.UsesNull())
	assert.Equal(t, m.Default(), m.SiteType(1).Initial)
	assert.Equal(t, m.Null(), m.SiteType(2).Initial)

	r := m.Rules()[0]
	assert.Equal(t, ActionAnnihilate, r.Actions[0].Kind)
	assert.Equal(t, m.Null(), r.Actions[0].Species)
	assert.Equal(t, ActionCreate, r.Actions[1].Kind)
	// "rec" sorts before "sub"
	assert.Equal(t, "rec", r.Anchor.Layer)
}
