package partition

import (
	"math/rand"

	"github.com/inference-sim/population-sim/sim"
)

// Population is the read-only view of the world a partition evaluates
// filters and labelers against. *sim.World satisfies it.
type Population interface {
	EntityExists(id sim.EntityID) bool
	Entities() []sim.EntityID
	PropertyValue(id sim.EntityID, key string) (any, error)
	AttributeValue(id sim.EntityID, key string) (any, error)
	RegionOf(id sim.EntityID) (sim.RegionID, error)
	PropertyDefinition(key string) (sim.Definition, bool)
	AttributeDefinition(key string) (sim.Definition, bool)
	RegionExists(id sim.RegionID) bool
	RegionClass(id sim.RegionID) string
}

// Streams resolves named random streams. *sim.RandomStreams satisfies it.
type Streams interface {
	Stream(name string) (*rand.Rand, error)
}

// Sensitivity declares that events of Type may change a filter's truth value
// or a labeler's label. Probe returns the entity to refresh, if any.
type Sensitivity struct {
	Type  sim.EventType
	Probe func(ev sim.Event) (sim.EntityID, bool)
}
