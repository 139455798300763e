package compiler

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kmc-sim/kmc-sim/sim/lattice"
	"github.com/kmc-sim/kmc-sim/sim/model"
)

// Trees holds one decision tree per (operation, species, slot).
type Trees struct {
	numSpecies int
	slots      int
	put        []*Node // [species*slots + slot-1]
	take       []*Node
	create     []*Node // [slot-1]
	annihilate []*Node
}

// Tree returns the tree for op on a site of type slot. species is the new
// occupant for OpPut and OpCreate and the old occupant for OpTake and
// OpAnnihilate. Trees never returns nil.
func (t *Trees) Tree(op Operation, species model.SpeciesID, slot int) *Node {
	switch op {
	case OpPut:
		return t.put[int(species)*t.slots+slot-1]
	case OpTake:
		return t.take[int(species)*t.slots+slot-1]
	case OpCreate:
		return t.create[slot-1]
	default:
		return t.annihilate[slot-1]
	}
}

// Stats sums the statistics of every tree.
func (t *Trees) Stats() Stats {
	var st Stats
	for _, group := range [][]*Node{t.put, t.take, t.create, t.annihilate} {
		for _, n := range group {
			st.add(n.Stats())
		}
	}
	return st
}

// cond is a pending condition relative to the mutated site.
type cond struct {
	rel     lattice.Rel
	species []model.SpeciesID
}

// item is an outcome guarded by the conditions still to be checked.
type item struct {
	conds []cond
	out   Outcome
}

// Compile builds every tree of m.
//
// The put and take trees of slot s and species X describe the change
// default -> X and X -> default and are evaluated after the change. The
// create tree is evaluated after the change as well, so that the created
// species is read back from the site itself. The annihilate tree is evaluated
// before the change for the same reason.
func Compile(m *model.Model) *Trees {
	start := time.Now()
	t := &Trees{numSpecies: m.NumSpecies(), slots: m.Slots()}
	def := m.Default()
	for x := range t.numSpecies {
		sp := model.SpeciesID(x)
		for slot := 1; slot <= t.slots; slot++ {
			var put, take *Node
			if sp == def || sp == m.Null() {
				put, take = &Node{}, &Node{}
			} else {
				put = build(transitionItems(m, slot, def, sp))
				take = build(transitionItems(m, slot, sp, def))
			}
			t.put = append(t.put, put)
			t.take = append(t.take, take)
		}
	}
	for slot := 1; slot <= t.slots; slot++ {
		t.create = append(t.create, build(nullItems(m, slot, true)))
		t.annihilate = append(t.annihilate, build(nullItems(m, slot, false)))
	}
	st := t.Stats()
	logrus.WithFields(logrus.Fields{
		"model":    m.Name(),
		"nodes":    st.Nodes,
		"switches": st.Switches,
		"outcomes": st.Outcomes,
		"depth":    st.Depth,
		"elapsed":  time.Since(start),
	}).Debug("compiled applicability trees")
	return t
}

// outcome builds the outcome of r triggered by its condition trig.
func outcome(r *model.Rule, trig model.Term, enable bool) Outcome {
	return Outcome{
		Process: r.Index,
		Anchor:  lattice.Rel{Offset: r.Anchor.Sub(trig.Coord).Offset, Slot: r.AnchorSlot},
		Enable:  enable,
	}
}

// others lists the conditions of r except skip, relative to trig.
func others(r *model.Rule, trig model.Term, skip int) []cond {
	var out []cond
	for i, c := range r.Conditions {
		if i == skip {
			continue
		}
		out = append(out, cond{
			rel:     lattice.Rel{Offset: c.Coord.Sub(trig.Coord).Offset, Slot: c.Slot},
			species: c.Species,
		})
	}
	return out
}

// transitionItems lists the outcomes of a site of type slot changing its
// occupant. A rule is affected through each condition on slot that tells
// from and to apart; with the other conditions unchanged, the rule switches
// exactly when those other conditions hold.
func transitionItems(m *model.Model, slot int, from, to model.SpeciesID) []item {
	var items []item
	rules := m.Rules()
	for ri := range rules {
		r := &rules[ri]
		for ti, trig := range r.Conditions {
			if trig.Slot != slot {
				continue
			}
			was, is := trig.Allows(from), trig.Allows(to)
			if was == is {
				continue
			}
			items = append(items, item{conds: others(r, trig, ti), out: outcome(r, trig, is)})
		}
	}
	return items
}

// nullItems lists the outcomes of creating (create) or annihilating a slot.
// The occupant on the non-null side is not known at compile time, so
// conditions that need it query the mutated site itself.
func nullItems(m *model.Model, slot int, create bool) []item {
	null := m.Null()
	self := lattice.Rel{Slot: slot}
	var items []item
	rules := m.Rules()
	for ri := range rules {
		r := &rules[ri]
		for ti, trig := range r.Conditions {
			if trig.Slot != slot {
				continue
			}
			rest := others(r, trig, ti)
			if trig.Allows(null) {
				// Validation keeps null out of disjunctions.
				items = append(items, item{conds: rest, out: outcome(r, trig, !create)})
				continue
			}
			rest = append(rest, cond{rel: self, species: trig.Species})
			items = append(items, item{conds: rest, out: outcome(r, trig, create)})
		}
	}
	return items
}

// build turns items into a tree. Items without pending conditions become
// outcomes of the node. The remaining items are split on the most frequently
// queried address; items not querying it are handled by a sibling switch of
// the same node.
func build(items []item) *Node {
	n := &Node{}
	var pending []item
	for _, it := range items {
		if len(it.conds) == 0 {
			n.Outcomes = append(n.Outcomes, it.out)
			continue
		}
		pending = append(pending, it)
	}
	for len(pending) > 0 {
		q := mostQueried(pending)
		var (
			species []model.SpeciesID
			arms    = make(map[model.SpeciesID][]item)
			rest    []item
		)
		for _, it := range pending {
			ci := -1
			for i, c := range it.conds {
				if c.rel == q {
					ci = i
					break
				}
			}
			if ci < 0 {
				rest = append(rest, it)
				continue
			}
			remaining := make([]cond, 0, len(it.conds)-1)
			remaining = append(remaining, it.conds[:ci]...)
			remaining = append(remaining, it.conds[ci+1:]...)
			for _, s := range it.conds[ci].species {
				if _, seen := arms[s]; !seen {
					species = append(species, s)
				}
				arms[s] = append(arms[s], item{conds: remaining, out: it.out})
			}
		}
		sw := Switch{Query: q}
		for _, s := range species {
			sw.Cases = append(sw.Cases, Case{Species: s, Next: build(arms[s])})
		}
		n.Switches = append(n.Switches, sw)
		pending = rest
	}
	return n
}

// mostQueried is the address appearing in most pending conditions; ties go
// to the address seen first.
func mostQueried(items []item) lattice.Rel {
	counts := make(map[lattice.Rel]int)
	var order []lattice.Rel
	for _, it := range items {
		for _, c := range it.conds {
			if counts[c.rel] == 0 {
				order = append(order, c.rel)
			}
			counts[c.rel]++
		}
	}
	best := order[0]
	for _, r := range order[1:] {
		if counts[r] > counts[best] {
			best = r
		}
	}
	return best
}
