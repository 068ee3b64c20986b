// Package testutil provides shared test infrastructure for the population
// simulator. It consolidates fixture worlds used across sim/ test packages.
package testutil

import (
	"testing"

	"github.com/inference-sim/population-sim/sim"
)

// Fixture is a small populated world with its event bus and random streams.
type Fixture struct {
	Bus     *sim.EventBus
	World   *sim.World
	Streams *sim.RandomStreams
	People  []sim.EntityID
}

// Person describes one fixture entity.
type Person struct {
	Region sim.RegionID
	Age    int64
}

// NewFixture builds a world with regions A (urban) and B (rural), an int
// property "age", a bool property "infected", a string property "status"
// and a bool attribute "vaccinated", then adds people in order.
func NewFixture(t *testing.T, people ...Person) *Fixture {
	t.Helper()

	bus := sim.NewEventBus()
	w := sim.NewWorld(bus)
	must(t, w.DefineRegion(sim.Region{ID: "A", Class: "urban"}))
	must(t, w.DefineRegion(sim.Region{ID: "B", Class: "rural"}))
	must(t, w.DefineProperty("age", sim.Definition{Type: sim.ValueTypeInt, Default: int64(0)}))
	must(t, w.DefineProperty("infected", sim.Definition{Type: sim.ValueTypeBool, Default: false}))
	must(t, w.DefineProperty("status", sim.Definition{Type: sim.ValueTypeString, Default: "susceptible"}))
	must(t, w.DefineAttribute("vaccinated", sim.Definition{Type: sim.ValueTypeBool, Default: false}))

	f := &Fixture{
		Bus:     bus,
		World:   w,
		Streams: sim.NewRandomStreams(sim.NewSimulationKey(42), "alt"),
	}
	for _, p := range people {
		id, err := w.AddPerson(p.Region, map[string]any{"age": p.Age})
		must(t, err)
		f.People = append(f.People, id)
	}
	return f
}

// TenPeople is the reference population: ids 0-4 live in A aged
// 10,20,30,40,50 and ids 5-9 live in B aged 15,25,35,45,55.
func TenPeople() []Person {
	return []Person{
		{"A", 10}, {"A", 20}, {"A", 30}, {"A", 40}, {"A", 50},
		{"B", 15}, {"B", 25}, {"B", 35}, {"B", 45}, {"B", 55},
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture setup: %v", err)
	}
}
