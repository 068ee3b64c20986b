package partition

import (
	"math"
	"math/rand"
	"testing"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/internal/testutil"
	"github.com/stretchr/testify/require"
)

// TestPartition_Invariants_RandomEventSequences drives randomized mutations
// and lifecycle changes through several partitions with composite filters and
// multiple labelers, checking every invariant after each event.
func TestPartition_Invariants_RandomEventSequences(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		t.Run("", func(t *testing.T) {
			f, r := newRegistry(t)
			require.NoError(t, f.World.DefineRegion(sim.Region{ID: "C", Class: "urban"}))
			rng := rand.New(rand.NewSource(seed))

			parts := []*Partition{
				addPartition(t, r, f.World, "composite",
					ptr(And(
						Property("age", GreaterThanOrEqual, 18),
						Or(Region(Equal, "A"), Not(Attribute("vaccinated", Equal, true))),
					)),
					RegionLabeler(nil), PropertyLabeler("age", Bins(30, 60)), AttributeLabeler("vaccinated", nil)),
				addPartition(t, r, f.World, "infected-by-class",
					ptr(Property("infected", Equal, true)),
					RegionClassLabeler(nil), PropertyLabeler("status", nil)),
				addPartition(t, r, f.World, "everyone", nil, RegionLabeler(nil)),
				addPartition(t, r, f.World, "not-b", ptr(Not(RegionIn("B"))), PropertyLabeler("infected", nil)),
			}

			regions := []sim.RegionID{"A", "B", "C"}
			statuses := []string{"susceptible", "infected", "recovered"}
			for step := 0; step < 400; step++ {
				live := f.World.Entities()
				if len(live) == 0 {
					_, err := f.World.AddPerson("A", nil)
					require.NoError(t, err)
					continue
				}
				id := live[rng.Intn(len(live))]
				switch rng.Intn(7) {
				case 0:
					require.NoError(t, f.World.SetProperty(id, "age", rng.Intn(80)))
				case 1:
					require.NoError(t, f.World.MovePerson(id, regions[rng.Intn(len(regions))]))
				case 2:
					require.NoError(t, f.World.SetAttribute(id, "vaccinated", rng.Intn(2) == 0))
				case 3:
					require.NoError(t, f.World.SetProperty(id, "infected", rng.Intn(2) == 0))
				case 4:
					require.NoError(t, f.World.SetProperty(id, "status", statuses[rng.Intn(len(statuses))]))
				case 5:
					_, err := f.World.AddPerson(regions[rng.Intn(len(regions))], map[string]any{"age": rng.Intn(80)})
					require.NoError(t, err)
				case 6:
					require.NoError(t, f.World.RemovePerson(id))
				}
				for _, p := range parts {
					checkInvariants(t, p)
				}
			}
		})
	}
}

// TestPartition_Invariants_NoOpEventsAreIdempotent replays every entity's
// current values as events and expects a byte-identical index.
func TestPartition_Invariants_NoOpEventsAreIdempotent(t *testing.T) {
	f, r := newRegistry(t, testutil.TenPeople()...)
	p := addPartition(t, r, f.World, "composite",
		ptr(Or(Property("age", LessThan, 20), Region(Equal, "B"))),
		RegionLabeler(nil), PropertyLabeler("age", nil))
	snap := takeSnapshot(p)

	for _, id := range f.World.Entities() {
		age, err := f.World.PropertyValue(id, "age")
		require.NoError(t, err)
		region, err := f.World.RegionOf(id)
		require.NoError(t, err)
		r.Dispatch(sim.PropertyChanged(id, "age", age, age))
		r.Dispatch(sim.RegionChanged(id, region, region))
	}

	require.Equal(t, snap, takeSnapshot(p))
}

// TestPartition_Invariants_NaNLabelIsIdempotent relabels a member to NaN and
// replays the same value: the member stays put and no bucket is added.
func TestPartition_Invariants_NaNLabelIsIdempotent(t *testing.T) {
	f, r := newRegistry(t, testutil.TenPeople()...)
	ageOrNaN := func(v any) Label {
		if v.(int64) == 99 {
			return math.NaN()
		}
		return v
	}
	p := addPartition(t, r, f.World, "by-age", nil, PropertyLabeler("age", ageOrNaN))

	require.NoError(t, f.World.SetProperty(0, "age", 99))
	snap := takeSnapshot(p)
	buckets := len(p.buckets)

	for i := 0; i < 3; i++ {
		r.Dispatch(sim.PropertyChanged(0, "age", int64(99), int64(99)))
	}

	require.Equal(t, snap, takeSnapshot(p))
	require.Len(t, p.buckets, buckets)
	require.Zero(t, p.Stats().Relocated)
}
