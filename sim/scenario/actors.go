package scenario

import (
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/engine"
	"github.com/inference-sim/population-sim/sim/partition"
)

// newActor builds the built-in actor for as.
func newActor(spec *Spec, as ActorSpec) (engine.Actor, error) {
	b := base{spec: as}
	switch as.Kind {
	case "aging":
		return &agingActor{base: b}, nil
	case "births":
		return &birthsActor{base: b, regions: spec.Regions}, nil
	case "deaths":
		return &deathsActor{base: b}, nil
	case "migration":
		return &migrationActor{base: b}, nil
	case "vaccination":
		return &vaccinationActor{base: b}, nil
	case "infection":
		return &infectionActor{base: b}, nil
	case "reporter":
		return &reporterActor{base: b}, nil
	}
	return nil, fmt.Errorf("%w: unknown actor kind %q", ErrInvalidSpec, as.Kind)
}

// base holds what every built-in actor shares: its spec, a periodic
// schedule and a sampler on its stream.
type base struct {
	spec ActorSpec
}

func (b base) Name() string { return b.spec.Name }

func (b base) every(s *engine.Simulator, phase engine.Phase, fn engine.PlanFunc) error {
	return s.Every(b.spec.Start, b.spec.Every, phase, b.spec.Name, fn)
}

func (b base) sampler() partition.Sampler {
	return partition.NewSampler().WithStream(b.spec.Stream)
}

func (b base) rng(s *engine.Simulator) (*rand.Rand, error) {
	return s.Stream(b.spec.Stream)
}

// agingActor increments an int property of every person.
type agingActor struct{ base }

func (a *agingActor) Init(s *engine.Simulator) error {
	return a.every(s, engine.PhaseUpdate, func(s *engine.Simulator) error {
		w := s.World()
		for _, id := range w.Entities() {
			v, err := w.PropertyValue(id, a.spec.Property)
			if err != nil {
				return err
			}
			if err := w.SetProperty(id, a.spec.Property, v.(int64)+1); err != nil {
				return err
			}
		}
		return nil
	})
}

// birthsActor adds Count people per firing, placed by region weight.
type birthsActor struct {
	base
	regions []RegionSpec
}

func (a *birthsActor) Init(s *engine.Simulator) error {
	rng, err := a.rng(s)
	if err != nil {
		return err
	}
	return a.every(s, engine.PhaseUpdate, func(s *engine.Simulator) error {
		for i := 0; i < a.spec.Count; i++ {
			if _, err := s.World().AddPerson(weightedRegion(rng, a.regions), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// deathsActor removes up to Count members of its partition per firing.
type deathsActor struct{ base }

func (a *deathsActor) Init(s *engine.Simulator) error {
	key := partition.Key(a.spec.Partition)
	return a.every(s, engine.PhaseUpdate, func(s *engine.Simulator) error {
		for i := 0; i < a.spec.Count; i++ {
			id, ok, err := s.Sample(a.Name(), key, a.sampler())
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := s.World().RemovePerson(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// migrationActor moves up to Count members of its partition per firing to a
// uniformly chosen different region.
type migrationActor struct{ base }

func (a *migrationActor) Init(s *engine.Simulator) error {
	rng, err := a.rng(s)
	if err != nil {
		return err
	}
	key := partition.Key(a.spec.Partition)
	return a.every(s, engine.PhaseUpdate, func(s *engine.Simulator) error {
		w := s.World()
		regions := w.Regions()
		for i := 0; i < a.spec.Count; i++ {
			id, ok, err := s.Sample(a.Name(), key, a.sampler())
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			from, err := w.RegionOf(id)
			if err != nil {
				return err
			}
			choices := make([]sim.RegionID, 0, len(regions)-1)
			for _, r := range regions {
				if r != from {
					choices = append(choices, r)
				}
			}
			if len(choices) == 0 {
				return nil
			}
			if err := w.MovePerson(id, choices[rng.Intn(len(choices))]); err != nil {
				return err
			}
		}
		return nil
	})
}

// vaccinationActor sets a bool attribute on up to Count members of its
// partition per firing.
type vaccinationActor struct{ base }

func (a *vaccinationActor) Init(s *engine.Simulator) error {
	key := partition.Key(a.spec.Partition)
	return a.every(s, engine.PhaseUpdate, func(s *engine.Simulator) error {
		for i := 0; i < a.spec.Count; i++ {
			id, ok, err := s.Sample(a.Name(), key, a.sampler())
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := s.World().SetAttribute(id, a.spec.Attribute, true); err != nil {
				return err
			}
		}
		return nil
	})
}

// Status values the infection actor reads and writes.
const (
	StatusSusceptible = "susceptible"
	StatusInfected    = "infected"
	StatusRecovered   = "recovered"
)

// infectionActor spreads infection by contact. It owns two partitions,
// infectious and susceptible people, both labeled by the contact scope, so
// every infectious person draws contacts from susceptible people sharing its
// region (or region class). Infected contacts recover after Recovery ticks.
type infectionActor struct {
	base
	infectious  partition.Key
	susceptible partition.Key
}

func (a *infectionActor) labelers() []partition.Labeler {
	switch a.spec.Scope {
	case "region":
		return []partition.Labeler{partition.RegionLabeler(nil)}
	case "region-class":
		return []partition.Labeler{partition.RegionClassLabeler(nil)}
	}
	return nil
}

func (a *infectionActor) Init(s *engine.Simulator) error {
	a.infectious = partition.Key(a.Name() + "/infectious")
	a.susceptible = partition.Key(a.Name() + "/susceptible")
	owner := partition.Owner(a.Name())

	infectious, err := partition.New(s.World(), ptr(partition.Property(a.spec.Property, partition.Equal, StatusInfected)), a.labelers()...)
	if err != nil {
		return err
	}
	susceptibleFilter := partition.Property(a.spec.Property, partition.Equal, StatusSusceptible)
	if a.spec.Attribute != "" {
		susceptibleFilter = partition.And(susceptibleFilter, partition.Not(partition.Attribute(a.spec.Attribute, partition.Equal, true)))
	}
	susceptible, err := partition.New(s.World(), &susceptibleFilter, a.labelers()...)
	if err != nil {
		return err
	}
	if err := s.Partitions().Add(a.infectious, owner, infectious); err != nil {
		return err
	}
	if err := s.Partitions().Add(a.susceptible, owner, susceptible); err != nil {
		return err
	}

	rng, err := a.rng(s)
	if err != nil {
		return err
	}
	return a.every(s, engine.PhaseUpdate, func(s *engine.Simulator) error {
		spreaders, err := s.Partitions().Members(a.infectious, partition.NewLabelSet())
		if err != nil {
			return err
		}
		for _, id := range spreaders {
			labels, ok := infectious.Labels(id)
			if !ok {
				continue
			}
			for c := 0; c < a.spec.Contacts; c++ {
				contact, ok, err := s.Sample(a.Name(), a.susceptible, a.sampler().WithLabels(labels).Excluding(id))
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if rng.Float64() >= a.spec.Transmission {
					continue
				}
				if err := a.infect(s, contact); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (a *infectionActor) infect(s *engine.Simulator, id sim.EntityID) error {
	if err := s.World().SetProperty(id, a.spec.Property, StatusInfected); err != nil {
		return err
	}
	if a.spec.Recovery == 0 {
		return nil
	}
	_, err := s.Schedule(s.Clock()+a.spec.Recovery, engine.PhaseUpdate, a.Name(), func(s *engine.Simulator) error {
		w := s.World()
		if !w.EntityExists(id) {
			return nil
		}
		v, err := w.PropertyValue(id, a.spec.Property)
		if err != nil || v != StatusInfected {
			return err
		}
		return w.SetProperty(id, a.spec.Property, StatusRecovered)
	})
	return err
}

// reporterActor logs the breakdown of its partitions (every registered
// partition when none are configured) in the report phase.
type reporterActor struct{ base }

func (r *reporterActor) Init(s *engine.Simulator) error {
	return r.every(s, engine.PhaseReport, func(s *engine.Simulator) error {
		keys := s.Partitions().Keys()
		if len(r.spec.Partitions) > 0 {
			keys = keys[:0]
			for _, k := range r.spec.Partitions {
				keys = append(keys, partition.Key(k))
			}
		}
		for _, key := range keys {
			rows, err := s.Report(key)
			if err != nil {
				return err
			}
			total := 0
			for _, row := range rows {
				total += row.Count
				logrus.Debugf("[tick %d] %s %s: %d", s.Clock(), key, row.Labels, row.Count)
			}
			logrus.Infof("[tick %d] %s: %d members in %d buckets", s.Clock(), key, total, len(rows))
		}
		return nil
	})
}

func ptr(f partition.Filter) *partition.Filter { return &f }
