package sim

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two runs with the same SimulationKey and identical scenario MUST produce
// identical populations, partitions and samples.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// StreamDefault is the stream used when a caller names none.
// It is always declared and uses the master seed directly.
const StreamDefault = "default"

// ErrUnknownRandomStream is returned when a caller names a stream that was never declared.
var ErrUnknownRandomStream = errors.New("unknown random stream")

// === RandomStreams ===

// RandomStreams provides deterministic, isolated RNG instances per named stream.
//
// Derivation formula:
//   - For StreamDefault: uses the master seed directly
//   - For all other streams: masterSeed XOR fnv1a64(streamName)
//
// Streams must be declared before use so that a misspelled name in a query is
// reported instead of silently creating a fresh stream.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type RandomStreams struct {
	key     SimulationKey
	streams map[string]*rand.Rand
}

// NewRandomStreams creates RandomStreams from a SimulationKey with the
// default stream declared plus any extra names.
func NewRandomStreams(key SimulationKey, names ...string) *RandomStreams {
	rs := &RandomStreams{
		key:     key,
		streams: make(map[string]*rand.Rand),
	}
	rs.Declare(StreamDefault)
	for _, name := range names {
		rs.Declare(name)
	}
	return rs
}

// Declare makes a stream available. Declaring an existing stream is a no-op
// and does not reset its state.
func (rs *RandomStreams) Declare(name string) {
	if _, ok := rs.streams[name]; ok {
		return
	}
	var derivedSeed int64
	if name == StreamDefault {
		derivedSeed = int64(rs.key)
	} else {
		derivedSeed = int64(rs.key) ^ fnv1a64(name)
	}
	rs.streams[name] = rand.New(rand.NewSource(derivedSeed))
}

// Stream returns the named stream. The empty name selects StreamDefault.
func (rs *RandomStreams) Stream(name string) (*rand.Rand, error) {
	if name == "" {
		name = StreamDefault
	}
	rng, ok := rs.streams[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRandomStream, name)
	}
	return rng, nil
}

// Has reports whether the stream has been declared.
func (rs *RandomStreams) Has(name string) bool {
	if name == "" {
		return true
	}
	_, ok := rs.streams[name]
	return ok
}

// Key returns the SimulationKey used to create the streams.
func (rs *RandomStreams) Key() SimulationKey {
	return rs.key
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
