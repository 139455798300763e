package model

import (
	"fmt"
	"go/token"
	"math"
	"regexp"
	"strings"
)

// ValidationError collects every issue found in a project.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "invalid model: unknown validation error"
	}
	if len(e.Issues) == 1 {
		return e.Issues[0]
	}
	return "model validation errors: " + strings.Join(e.Issues, "; ")
}

// Add records one issue.
func (e *ValidationError) Add(format string, args ...any) {
	e.Issues = append(e.Issues, fmt.Sprintf(format, args...))
}

// HasIssues reports whether any issue was recorded.
func (e *ValidationError) HasIssues() bool {
	return len(e.Issues) > 0
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateStructure checks names and references of a project whose
// coordinates already carry their layer.
func validateStructure(p *Project, err *ValidationError) {
	if p.Meta.Dimension < 1 || p.Meta.Dimension > 3 {
		err.Add("meta: dimension must be 1, 2 or 3, got %d", p.Meta.Dimension)
	}

	species := make(map[string]bool)
	defaults := 0
	for i, s := range p.Species {
		switch {
		case s.Name == "":
			err.Add("species at index %d: name is required", i)
			continue
		case s.Name == NullSpecies:
			err.Add("species %q: name is reserved for absent slots", s.Name)
		case species[s.Name]:
			err.Add("duplicate species name: %s", s.Name)
		}
		species[s.Name] = true
		if s.Default {
			defaults++
		}
	}
	if defaults != 1 {
		err.Add("exactly one species must be flagged default, got %d", defaults)
	}

	params := make(map[string]bool)
	for i, par := range p.Parameters {
		if !identifier.MatchString(par.Name) || token.IsKeyword(par.Name) || par.Name == "math" {
			err.Add("parameter at index %d: name %q is not an identifier", i, par.Name)
		} else if params[par.Name] {
			err.Add("duplicate parameter name: %s", par.Name)
		}
		params[par.Name] = true
		if math.IsNaN(par.Value) || math.IsInf(par.Value, 0) {
			err.Add("parameter %s: value must be a finite number, got %f", par.Name, par.Value)
		}
	}

	sites := make(map[string]map[string]bool)
	if len(p.Lattice.Layers) == 0 {
		err.Add("lattice: at least one layer is required")
	}
	for i, l := range p.Lattice.Layers {
		if l.Name == "" {
			err.Add("layer at index %d: name is required", i)
			continue
		}
		if sites[l.Name] != nil {
			err.Add("duplicate layer name: %s", l.Name)
			continue
		}
		sites[l.Name] = make(map[string]bool)
		if len(l.Sites) == 0 {
			err.Add("layer %s: at least one site is required", l.Name)
		}
		for j, s := range l.Sites {
			if s.Name == "" {
				err.Add("layer %s site at index %d: name is required", l.Name, j)
				continue
			}
			if sites[l.Name][s.Name] {
				err.Add("layer %s: duplicate site name: %s", l.Name, s.Name)
			}
			sites[l.Name][s.Name] = true
			if s.DefaultSpecies != "" && !species[s.DefaultSpecies] {
				err.Add("site %s.%s: default species %q does not exist", l.Name, s.Name, s.DefaultSpecies)
			}
		}
	}
	if sites[p.Lattice.DefaultLayer] == nil {
		err.Add("lattice: default layer %q does not exist", p.Lattice.DefaultLayer)
	}
	if len(p.Lattice.CellSize) > 0 {
		if _, cellErr := cellMatrix(p.Lattice.CellSize); cellErr != nil {
			err.Add("lattice: %v", cellErr)
		}
	}

	knownSpecies := func(name string) bool { return species[name] || name == NullSpecies }
	checkCoord := func(prefix string, c Coord) {
		if sites[c.Layer] == nil {
			err.Add("%s: coordinate %s references unknown layer %q", prefix, c, c.Layer)
		} else if !sites[c.Layer][c.Site] {
			err.Add("%s: coordinate %s references unknown site %q in layer %s", prefix, c, c.Site, c.Layer)
		}
		for axis := p.Meta.Dimension; axis >= 1 && axis < 3; axis++ {
			if c.Offset[axis] != 0 {
				err.Add("%s: coordinate %s has an offset along axis %d of a %dD model", prefix, c, axis, p.Meta.Dimension)
			}
		}
	}

	names := make(map[string]bool)
	for i, proc := range p.Processes {
		prefix := fmt.Sprintf("process at index %d", i)
		if proc.Name == "" {
			err.Add("%s: name is required", prefix)
		} else {
			prefix = "process " + proc.Name
			if names[proc.Name] {
				err.Add("duplicate process name: %s", proc.Name)
			}
			names[proc.Name] = true
		}
		if strings.TrimSpace(proc.RateConstant) == "" {
			err.Add("%s: rate constant is required", prefix)
		}
		// either half may be left out for completion to fill in
		if len(proc.Conditions) == 0 && len(proc.Actions) == 0 {
			err.Add("%s: at least one condition or action is required", prefix)
		}

		seen := make(map[Coord]bool)
		for _, c := range proc.Conditions {
			checkCoord(prefix, c.Coord)
			if seen[c.Coord] {
				err.Add("%s: more than one condition at %s", prefix, c.Coord)
			}
			seen[c.Coord] = true
			if len(c.Species) == 0 {
				err.Add("%s: condition at %s has no species", prefix, c.Coord)
			}
			for _, s := range c.Species {
				if !knownSpecies(s) {
					err.Add("%s: condition at %s references unknown species %q", prefix, c.Coord, s)
				}
			}
			if c.Species.Contains(NullSpecies) && len(c.Species) > 1 {
				err.Add("%s: condition at %s mixes %q with other species", prefix, c.Coord, NullSpecies)
			}
		}

		seen = make(map[Coord]bool)
		for _, a := range proc.Actions {
			checkCoord(prefix, a.Coord)
			if seen[a.Coord] {
				err.Add("%s: more than one action at %s", prefix, a.Coord)
			}
			seen[a.Coord] = true
			target := a.Target()
			switch {
			case target == "" && a.Kind() != ActionAnnihilate:
				err.Add("%s: action at %s has no species", prefix, a.Coord)
			case target == NullSpecies:
				err.Add("%s: action at %s cannot set %q; use $ to annihilate", prefix, a.Coord, NullSpecies)
			case target != "" && !species[target]:
				err.Add("%s: action at %s references unknown species %q", prefix, a.Coord, target)
			}
		}

		for tag, w := range proc.Tally {
			if tag == "" {
				err.Add("%s: tally tag name is required", prefix)
			}
			if math.IsNaN(w) || math.IsInf(w, 0) {
				err.Add("%s: tally %q weight must be a finite number", prefix, tag)
			}
		}
	}
}

// validatePairing checks a completed project: every process has conditions
// and actions, and every condition is paired with an action of a compatible
// kind.
func validatePairing(p *Project, err *ValidationError) {
	for _, proc := range p.Processes {
		if len(proc.Conditions) == 0 {
			err.Add("process %s: at least one condition is required", proc.Name)
		}
		if len(proc.Actions) == 0 {
			err.Add("process %s: at least one action is required", proc.Name)
		}
		conds := make(map[Coord]SpeciesSet, len(proc.Conditions))
		for _, c := range proc.Conditions {
			conds[c.Coord] = c.Species
		}
		acts := make(map[Coord]bool, len(proc.Actions))
		for _, a := range proc.Actions {
			acts[a.Coord] = true
			cond, ok := conds[a.Coord]
			if !ok {
				err.Add("process %s: action at %s has no matching condition", proc.Name, a.Coord)
				continue
			}
			absent := cond.Contains(NullSpecies)
			switch a.Kind() {
			case ActionSet:
				if absent {
					err.Add("process %s: action at %s sets an absent slot; use ^%s to create it", proc.Name, a.Coord, a.Target())
				}
			case ActionCreate:
				if !absent {
					err.Add("process %s: creation at %s requires the condition %q, got %q", proc.Name, a.Coord, NullSpecies, cond)
				}
			case ActionAnnihilate:
				switch {
				case absent:
					err.Add("process %s: annihilation at %s of a slot that is required absent", proc.Name, a.Coord)
				case a.Target() == "":
					err.Add("process %s: annihilation at %s cannot infer its species from condition %q", proc.Name, a.Coord, cond)
				case !cond.Contains(a.Target()):
					err.Add("process %s: annihilated species %q at %s does not match condition %q", proc.Name, a.Target(), a.Coord, cond)
				}
			}
		}
		for _, c := range proc.Conditions {
			if !acts[c.Coord] && !c.Species.Contains(NullSpecies) {
				err.Add("process %s: condition at %s has no matching action", proc.Name, c.Coord)
			}
		}
	}
}
