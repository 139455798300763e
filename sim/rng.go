package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey identifies a reproducible run. Equal keys with equal model,
// system size, rates and initial edits give identical trajectories.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// Random stream names.
const (
	// SubsystemKernel drives process selection, anchor choice and time steps.
	// It is seeded with the master seed itself, so --seed names the event stream.
	SubsystemKernel = "kernel"

	// SubsystemInitial places species at random when the initial lattice is edited.
	SubsystemInitial = "initial"
)

// SubsystemInstance names the stream that seeds batch instance id.
func SubsystemInstance(id int) string {
	return fmt.Sprintf("instance_%d", id)
}

// PartitionedRNG hands out one independent *rand.Rand per named stream.
// Streams other than SubsystemKernel are seeded with
// masterSeed XOR fnv1a64(name), so drawing from one never shifts another.
//
// Not safe for concurrent use.
type PartitionedRNG struct {
	key     SimulationKey
	streams map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{key: key, streams: make(map[string]*rand.Rand)}
}

// ForSubsystem returns the stream of name, creating it on first use. Later
// calls with the same name return the same *rand.Rand.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.streams[name]; ok {
		return rng
	}
	seed := int64(p.key)
	if name != SubsystemKernel {
		seed ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(seed))
	p.streams[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
