package model

import "strings"

// NullSpecies is the reserved occupant of slots that do not currently exist
// (multi-layer models with site creation and annihilation).
const NullSpecies = "null"

// Project is the declarative description of a lattice KMC model as read from
// a model file or built in code. Validate and resolve it with New.
type Project struct {
	Meta       Meta        `yaml:"meta"`
	Species    []Species   `yaml:"species"`
	Parameters []Parameter `yaml:"parameters,omitempty"`
	Lattice    Lattice     `yaml:"lattice"`
	Processes  []Process   `yaml:"processes"`
}

// Meta carries descriptive fields and the dimensionality of the model.
type Meta struct {
	ModelName string `yaml:"model_name"`
	Author    string `yaml:"author,omitempty"`
	Email     string `yaml:"email,omitempty"`
	Dimension int    `yaml:"dimension"`
}

// Species is one occupant type. Exactly one species is the default.
type Species struct {
	Name    string `yaml:"name"`
	Default bool   `yaml:"default,omitempty"`
}

// Parameter is a named input of the rate-constant expressions.
type Parameter struct {
	Name       string  `yaml:"name"`
	Value      float64 `yaml:"value"`
	Adjustable bool    `yaml:"adjustable,omitempty"`
	Min        float64 `yaml:"min,omitempty"`
	Max        float64 `yaml:"max,omitempty"`
}

// Lattice describes the unit cell shared by all layers.
type Lattice struct {
	// CellSize holds the three lattice vectors as rows; identity when empty.
	CellSize     [][]float64 `yaml:"cell_size,omitempty"`
	DefaultLayer string      `yaml:"default_layer"`
	Layers       []Layer     `yaml:"layers"`
}

// Layer is one periodic sub-lattice.
type Layer struct {
	Name  string `yaml:"name"`
	Sites []Site `yaml:"sites"`
}

// Site is a position inside the unit cell, in fractional coordinates.
type Site struct {
	Name           string     `yaml:"name"`
	Pos            [3]float64 `yaml:"pos"`
	DefaultSpecies string     `yaml:"default_species,omitempty"`
}

// SpeciesSet is a disjunction of species names: the condition holds if the
// site is occupied by any of them.
type SpeciesSet []string

// Contains reports whether name is part of the set.
func (s SpeciesSet) Contains(name string) bool {
	for _, n := range s {
		if n == name {
			return true
		}
	}
	return false
}

func (s SpeciesSet) String() string {
	return strings.Join(s, "|")
}

// Condition requires the site at Coord to hold one of Species.
type Condition struct {
	Coord   Coord      `yaml:"coord"`
	Species SpeciesSet `yaml:"species"`
}

// ActionKind distinguishes occupant changes from slot creation and removal.
type ActionKind int

const (
	// ActionSet replaces the occupant of an existing slot.
	ActionSet ActionKind = iota
	// ActionCreate makes an absent slot occupiable ("^species").
	ActionCreate
	// ActionAnnihilate removes a slot ("$" or "$species").
	ActionAnnihilate
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionAnnihilate:
		return "annihilate"
	default:
		return "set"
	}
}

// Action sets the site at Coord to Species. A leading "^" creates the slot,
// a leading "$" annihilates it; the species after "$" may be omitted.
type Action struct {
	Coord   Coord  `yaml:"coord"`
	Species string `yaml:"species"`
}

// Kind returns the action kind encoded in the species prefix.
func (a Action) Kind() ActionKind {
	switch {
	case strings.HasPrefix(a.Species, "^"):
		return ActionCreate
	case strings.HasPrefix(a.Species, "$"):
		return ActionAnnihilate
	default:
		return ActionSet
	}
}

// Target is the species name without its create/annihilate prefix.
func (a Action) Target() string {
	if a.Kind() == ActionSet {
		return a.Species
	}
	return a.Species[1:]
}

// Process is a "conditions -> actions, rate" rule.
type Process struct {
	Name         string             `yaml:"name"`
	RateConstant string             `yaml:"rate_constant"`
	Enabled      *bool              `yaml:"enabled,omitempty"`
	Conditions   []Condition        `yaml:"conditions"`
	Actions      []Action           `yaml:"actions"`
	Tally        map[string]float64 `yaml:"tof_count,omitempty"`
}

// IsEnabled reports whether the process takes part in the simulation.
func (p *Process) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// DefaultSpecies returns the name of the default species, or "" if none is flagged.
func (p *Project) DefaultSpecies() string {
	for _, s := range p.Species {
		if s.Default {
			return s.Name
		}
	}
	return ""
}
