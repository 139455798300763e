package model

// normalize returns a deep copy of p in which every coordinate carries its
// layer and the default layer is set when the lattice has a single layer.
func normalize(p Project) Project {
	if p.Lattice.DefaultLayer == "" && len(p.Lattice.Layers) == 1 {
		p.Lattice.DefaultLayer = p.Lattice.Layers[0].Name
	}
	fill := func(c Coord) Coord {
		if c.Layer == "" {
			c.Layer = p.Lattice.DefaultLayer
		}
		return c
	}

	p.Species = append([]Species(nil), p.Species...)
	p.Parameters = append([]Parameter(nil), p.Parameters...)
	layers := make([]Layer, len(p.Lattice.Layers))
	for i, l := range p.Lattice.Layers {
		l.Sites = append([]Site(nil), l.Sites...)
		layers[i] = l
	}
	p.Lattice.Layers = layers
	cell := make([][]float64, len(p.Lattice.CellSize))
	for i, row := range p.Lattice.CellSize {
		cell[i] = append([]float64(nil), row...)
	}
	p.Lattice.CellSize = cell

	procs := make([]Process, len(p.Processes))
	for i, proc := range p.Processes {
		conds := make([]Condition, len(proc.Conditions))
		for j, c := range proc.Conditions {
			conds[j] = Condition{Coord: fill(c.Coord), Species: append(SpeciesSet(nil), c.Species...)}
		}
		acts := make([]Action, len(proc.Actions))
		for j, a := range proc.Actions {
			acts[j] = Action{Coord: fill(a.Coord), Species: a.Species}
		}
		proc.Conditions = conds
		proc.Actions = acts
		if proc.Tally != nil {
			tally := make(map[string]float64, len(proc.Tally))
			for k, v := range proc.Tally {
				tally[k] = v
			}
			proc.Tally = tally
		}
		if proc.Enabled != nil {
			enabled := *proc.Enabled
			proc.Enabled = &enabled
		}
		procs[i] = proc
	}
	p.Processes = procs
	return p
}

// complete adds the conditions and actions a model author may omit:
//   - a condition without an action gets an action to the default species,
//     unless it requires an absent slot,
//   - a plain action without a condition gets a default-species condition,
//   - "^X" without a condition gets a condition on the null species,
//   - "$X" without a condition gets a condition on X,
//   - a bare "$" takes the species of its condition when that is unambiguous.
func complete(p *Project) {
	def := p.DefaultSpecies()
	for i := range p.Processes {
		proc := &p.Processes[i]
		conds := make(map[Coord]int, len(proc.Conditions))
		for j, c := range proc.Conditions {
			conds[c.Coord] = j
		}
		acts := make(map[Coord]bool, len(proc.Actions))
		for j := range proc.Actions {
			a := &proc.Actions[j]
			acts[a.Coord] = true
			ci, ok := conds[a.Coord]
			switch a.Kind() {
			case ActionSet:
				if !ok {
					proc.Conditions = append(proc.Conditions, Condition{Coord: a.Coord, Species: SpeciesSet{def}})
				}
			case ActionCreate:
				if !ok {
					proc.Conditions = append(proc.Conditions, Condition{Coord: a.Coord, Species: SpeciesSet{NullSpecies}})
				}
			case ActionAnnihilate:
				switch {
				case !ok && a.Target() != "":
					proc.Conditions = append(proc.Conditions, Condition{Coord: a.Coord, Species: SpeciesSet{a.Target()}})
				case ok && a.Target() == "" && len(proc.Conditions[ci].Species) == 1:
					a.Species = "$" + proc.Conditions[ci].Species[0]
				}
			}
		}
		for _, c := range proc.Conditions {
			if !acts[c.Coord] && !c.Species.Contains(NullSpecies) {
				proc.Actions = append(proc.Actions, Action{Coord: c.Coord, Species: def})
				acts[c.Coord] = true
			}
		}
	}
}
