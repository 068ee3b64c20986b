package scenario

import (
	"fmt"
	"math/rand"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/engine"
	"github.com/inference-sim/population-sim/sim/partition"
	"github.com/inference-sim/population-sim/sim/trace"
)

// populationStream drives initial population generation. It is declared
// for every run so generation never perturbs the actors' streams.
const populationStream = "population"

// Build creates a ready-to-run Simulator for one replicate of spec:
// definitions, the initial population, the scenario's partitions and its
// actors. The spec must already be valid.
func Build(spec *Spec, seed int64, opts ...engine.Option) (*engine.Simulator, error) {
	streams := append([]string{populationStream}, spec.Streams...)
	s, err := engine.NewSimulator(engine.Config{
		Seed:    seed,
		Horizon: spec.Horizon,
		Streams: streams,
		Trace:   trace.TraceConfig{Level: trace.TraceLevel(spec.Trace)},
	}, opts...)
	if err != nil {
		return nil, err
	}
	if err := spec.define(s.World()); err != nil {
		return nil, fmt.Errorf("defining scenario: %w", err)
	}
	if err := populate(spec, s); err != nil {
		return nil, fmt.Errorf("generating population: %w", err)
	}
	for _, ps := range spec.Partitions {
		p, err := ps.build(s.World())
		if err != nil {
			return nil, fmt.Errorf("partition %q: %w", ps.Key, err)
		}
		if err := s.Partitions().Add(partition.Key(ps.Key), partition.Owner(ps.Owner), p); err != nil {
			return nil, err
		}
	}
	for _, as := range spec.Actors {
		a, err := newActor(spec, as)
		if err != nil {
			return nil, err
		}
		s.AddActor(a)
	}
	return s, nil
}

// populate adds Population.Size people, drawing regions by weight and range
// properties uniformly, then applies the seeds to randomly chosen people.
func populate(spec *Spec, s *engine.Simulator) error {
	rng, err := s.Stream(populationStream)
	if err != nil {
		return err
	}
	w := s.World()
	for i := 0; i < spec.Population.Size; i++ {
		props := make(map[string]any, len(spec.Population.Ranges))
		for _, r := range spec.Population.Ranges {
			props[r.Property] = r.Min + rng.Int63n(r.Max-r.Min+1)
		}
		if _, err := w.AddPerson(weightedRegion(rng, spec.Regions), props); err != nil {
			return err
		}
	}
	for _, seed := range spec.Population.Seeds {
		d, _ := w.PropertyDefinition(seed.Property)
		v := coerce(d.Type, seed.Value)
		ids := w.Entities()
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		for _, id := range ids[:min(seed.Count, len(ids))] {
			if err := w.SetProperty(id, seed.Property, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// weightedRegion picks a region with probability proportional to its weight.
func weightedRegion(rng *rand.Rand, regions []RegionSpec) sim.RegionID {
	total := 0.0
	for _, r := range regions {
		total += r.Weight
	}
	x := rng.Float64() * total
	for _, r := range regions {
		if x < r.Weight {
			return sim.RegionID(r.ID)
		}
		x -= r.Weight
	}
	return sim.RegionID(regions[len(regions)-1].ID)
}
