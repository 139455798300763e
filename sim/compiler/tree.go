// Package compiler turns the conditions of a process model into decision
// trees that, for a single-site occupancy change, name exactly the
// (process, anchor site) pairs that become available or unavailable.
//
// A tree is pure data built once per model. Walking it queries the occupancy
// of neighboring sites; every query is a relative address resolved through
// the lattice address table without modulo arithmetic.
package compiler

import (
	"github.com/kmc-sim/kmc-sim/sim/lattice"
	"github.com/kmc-sim/kmc-sim/sim/model"
)

// Operation is the kind of single-site change a tree handles.
type Operation int

const (
	// OpPut changes a site from the default species to a species.
	OpPut Operation = iota
	// OpTake changes a site from a species back to the default species.
	OpTake
	// OpCreate turns an absent slot into an occupied one.
	OpCreate
	// OpAnnihilate removes an occupied slot.
	OpAnnihilate
)

func (op Operation) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpTake:
		return "take"
	case OpCreate:
		return "create"
	case OpAnnihilate:
		return "annihilate"
	default:
		return "unknown"
	}
}

// Outcome registers (Enable) or unregisters a process at the anchor site
// addressed relative to the mutated site.
type Outcome struct {
	Process int
	Anchor  lattice.Rel
	Enable  bool
}

// Node emits its outcomes unconditionally, then runs each switch in turn.
type Node struct {
	Outcomes []Outcome
	Switches []Switch
}

// Switch reads the occupant at Query and descends into the matching case.
type Switch struct {
	Query lattice.Rel
	Cases []Case
}

// Case is the subtree taken when the queried site holds Species.
type Case struct {
	Species model.SpeciesID
	Next    *Node
}

// Effect is an outcome resolved to an absolute anchor site.
type Effect struct {
	Process int
	Site    int
	Enable  bool
}

// Evaluate walks the tree for a change at site and appends the resulting
// effects to out. occupancy is indexed by site number - 1.
func (n *Node) Evaluate(site int, tab *lattice.Table, occupancy []model.SpeciesID, out []Effect) []Effect {
	for _, o := range n.Outcomes {
		out = append(out, Effect{Process: o.Process, Site: tab.Neighbor(site, o.Anchor), Enable: o.Enable})
	}
	for i := range n.Switches {
		sw := &n.Switches[i]
		occupant := occupancy[tab.Neighbor(site, sw.Query)-1]
		for _, c := range sw.Cases {
			if c.Species == occupant {
				out = c.Next.Evaluate(site, tab, occupancy, out)
				break
			}
		}
	}
	return out
}

// Stats summarizes the size of a tree.
type Stats struct {
	Nodes    int
	Switches int
	Outcomes int
	Depth    int
}

func (s *Stats) add(o Stats) {
	s.Nodes += o.Nodes
	s.Switches += o.Switches
	s.Outcomes += o.Outcomes
	s.Depth = max(s.Depth, o.Depth)
}

// Stats counts nodes, switches and outcomes of the tree rooted at n.
func (n *Node) Stats() Stats {
	st := Stats{Nodes: 1, Outcomes: len(n.Outcomes), Switches: len(n.Switches)}
	for _, sw := range n.Switches {
		for _, c := range sw.Cases {
			sub := c.Next.Stats()
			sub.Depth++
			st.add(sub)
		}
	}
	return st
}
