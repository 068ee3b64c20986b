package sim

import (
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownEntity is returned for ids that were never added or have been removed.
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnknownProperty is returned for undefined property keys.
	ErrUnknownProperty = errors.New("unknown property")
	// ErrUnknownAttribute is returned for undefined attribute keys.
	ErrUnknownAttribute = errors.New("unknown attribute")
	// ErrUnknownRegion is returned for undefined region ids.
	ErrUnknownRegion = errors.New("unknown region")
	// ErrDuplicateDefinition is returned when a key or region is defined twice.
	ErrDuplicateDefinition = errors.New("duplicate definition")
	// ErrInvalidValue is returned when a value does not match its declared type.
	ErrInvalidValue = errors.New("invalid value")
)

// Region is a fixed geographic unit a person lives in.
type Region struct {
	ID    RegionID
	Class string
}

// person holds one entity's state. Values are keyed by property/attribute key.
type person struct {
	region     RegionID
	properties map[string]any
	attributes map[string]any
}

// World is the in-memory population: people, their properties and
// attributes, and their region assignment. Every mutation publishes an
// Event on the bus after the state change is applied, so subscribers observe
// the new state and find the old value in Event.Previous.
//
// Thread-safety: NOT thread-safe. One World per simulation run.
type World struct {
	bus        *EventBus
	regions    map[RegionID]Region
	regionList []RegionID
	properties map[string]Definition
	attributes map[string]Definition
	people     map[EntityID]*person
	order      []EntityID // insertion order of live entities
	nextID     EntityID
}

// NewWorld creates an empty World publishing on bus.
func NewWorld(bus *EventBus) *World {
	return &World{
		bus:        bus,
		regions:    make(map[RegionID]Region),
		properties: make(map[string]Definition),
		attributes: make(map[string]Definition),
		people:     make(map[EntityID]*person),
	}
}

// === Definitions ===

// DefineRegion adds a region.
func (w *World) DefineRegion(r Region) error {
	if r.ID == "" {
		return fmt.Errorf("%w: empty region id", ErrUnknownRegion)
	}
	if _, ok := w.regions[r.ID]; ok {
		return fmt.Errorf("%w: region %q", ErrDuplicateDefinition, r.ID)
	}
	w.regions[r.ID] = r
	w.regionList = append(w.regionList, r.ID)
	return nil
}

// DefineProperty declares a person property. Existing people receive the default.
func (w *World) DefineProperty(key string, def Definition) error {
	return w.define(w.properties, "property", key, def, func(p *person) map[string]any { return p.properties })
}

// DefineAttribute declares a person attribute. Existing people receive the default.
func (w *World) DefineAttribute(key string, def Definition) error {
	return w.define(w.attributes, "attribute", key, def, func(p *person) map[string]any { return p.attributes })
}

func (w *World) define(defs map[string]Definition, what, key string, def Definition,
	values func(*person) map[string]any) error {
	if key == "" {
		return fmt.Errorf("%w: empty %s key", ErrInvalidValue, what)
	}
	if _, ok := defs[key]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateDefinition, what, key)
	}
	def.Default = Normalize(def.Default)
	if !def.Type.Accepts(def.Default) {
		return fmt.Errorf("%w: default %v for %s %q is not %s", ErrInvalidValue, def.Default, what, key, def.Type)
	}
	defs[key] = def
	for _, p := range w.people {
		values(p)[key] = def.Default
	}
	return nil
}

// PropertyDefinition returns the definition of a property key.
func (w *World) PropertyDefinition(key string) (Definition, bool) {
	d, ok := w.properties[key]
	return d, ok
}

// AttributeDefinition returns the definition of an attribute key.
func (w *World) AttributeDefinition(key string) (Definition, bool) {
	d, ok := w.attributes[key]
	return d, ok
}

// RegionExists reports whether the region is defined.
func (w *World) RegionExists(id RegionID) bool {
	_, ok := w.regions[id]
	return ok
}

// RegionClass returns the class of a region, or "" if undefined.
func (w *World) RegionClass(id RegionID) string {
	return w.regions[id].Class
}

// Regions returns region ids in definition order.
func (w *World) Regions() []RegionID {
	return slices.Clone(w.regionList)
}

// === Population ===

// AddPerson creates a person in region with optional initial property values
// (undefined keys take their defaults) and publishes EntityAdded.
func (w *World) AddPerson(region RegionID, props map[string]any) (EntityID, error) {
	if !w.RegionExists(region) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	p := &person{
		region:     region,
		properties: make(map[string]any, len(w.properties)),
		attributes: make(map[string]any, len(w.attributes)),
	}
	for k, d := range w.properties {
		p.properties[k] = d.Default
	}
	for k, d := range w.attributes {
		p.attributes[k] = d.Default
	}
	for k, v := range props {
		d, ok := w.properties[k]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownProperty, k)
		}
		v = Normalize(v)
		if !d.Type.Accepts(v) {
			return 0, fmt.Errorf("%w: %v for property %q is not %s", ErrInvalidValue, v, k, d.Type)
		}
		p.properties[k] = v
	}

	id := w.nextID
	w.nextID++
	w.people[id] = p
	w.order = append(w.order, id)
	logrus.Tracef("added person %d in region %s", id, region)
	w.bus.Publish(Event{Kind: EventKindEntityAdded, Entity: id})
	return id, nil
}

// RemovePerson deletes a person and publishes EntityRemoved.
func (w *World) RemovePerson(id EntityID) error {
	if _, ok := w.people[id]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	delete(w.people, id)
	if i := slices.Index(w.order, id); i >= 0 {
		w.order = slices.Delete(w.order, i, i+1)
	}
	logrus.Tracef("removed person %d", id)
	w.bus.Publish(Event{Kind: EventKindEntityRemoved, Entity: id})
	return nil
}

// EntityExists reports whether id is a live person.
func (w *World) EntityExists(id EntityID) bool {
	_, ok := w.people[id]
	return ok
}

// Entities returns all live ids in insertion order.
func (w *World) Entities() []EntityID {
	return slices.Clone(w.order)
}

// PopulationSize returns the number of live people.
func (w *World) PopulationSize() int {
	return len(w.people)
}

// === Values ===

// PropertyValue returns the current value of a property for a person.
func (w *World) PropertyValue(id EntityID, key string) (any, error) {
	p, ok := w.people[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	v, ok := p.properties[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, key)
	}
	return v, nil
}

// AttributeValue returns the current value of an attribute for a person.
func (w *World) AttributeValue(id EntityID, key string) (any, error) {
	p, ok := w.people[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	v, ok := p.attributes[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	return v, nil
}

// RegionOf returns the region a person lives in.
func (w *World) RegionOf(id EntityID) (RegionID, error) {
	p, ok := w.people[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return p.region, nil
}

// SetProperty assigns a property value and publishes PropertyChanged.
// The event is published even when the value is unchanged.
func (w *World) SetProperty(id EntityID, key string, v any) error {
	p, ok := w.people[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	d, ok := w.properties[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProperty, key)
	}
	v = Normalize(v)
	if !d.Type.Accepts(v) {
		return fmt.Errorf("%w: %v for property %q is not %s", ErrInvalidValue, v, key, d.Type)
	}
	prev := p.properties[key]
	p.properties[key] = v
	w.bus.Publish(PropertyChanged(id, key, prev, v))
	return nil
}

// SetAttribute assigns an attribute value and publishes AttributeChanged.
func (w *World) SetAttribute(id EntityID, key string, v any) error {
	p, ok := w.people[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	d, ok := w.attributes[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, key)
	}
	v = Normalize(v)
	if !d.Type.Accepts(v) {
		return fmt.Errorf("%w: %v for attribute %q is not %s", ErrInvalidValue, v, key, d.Type)
	}
	prev := p.attributes[key]
	p.attributes[key] = v
	w.bus.Publish(AttributeChanged(id, key, prev, v))
	return nil
}

// MovePerson relocates a person and publishes RegionChanged.
func (w *World) MovePerson(id EntityID, region RegionID) error {
	p, ok := w.people[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	if !w.RegionExists(region) {
		return fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	prev := p.region
	p.region = region
	w.bus.Publish(RegionChanged(id, prev, region))
	return nil
}
