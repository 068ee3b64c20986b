package sim

import "fmt"

// EventKind enumerates the population changes the World publishes.
type EventKind string

const (
	EventKindEntityAdded      EventKind = "EntityAdded"
	EventKindEntityRemoved    EventKind = "EntityRemoved"
	EventKindPropertyChanged  EventKind = "PropertyChanged"
	EventKindAttributeChanged EventKind = "AttributeChanged"
	EventKindRegionChanged    EventKind = "RegionChanged"
)

// EventKinds lists every kind in publication-priority order.
var EventKinds = []EventKind{
	EventKindEntityAdded,
	EventKindEntityRemoved,
	EventKindPropertyChanged,
	EventKindAttributeChanged,
	EventKindRegionChanged,
}

// EventType is the subscription granularity: a kind plus, for property and
// attribute changes, the mutated key. Region and lifecycle events use an empty key.
type EventType struct {
	Kind EventKind
	Key  string
}

func (t EventType) String() string {
	if t.Key == "" {
		return string(t.Kind)
	}
	return fmt.Sprintf("%s(%s)", t.Kind, t.Key)
}

// Event is a single population change. Mutation events carry the value
// before and after the change; lifecycle events leave both nil.
// For region changes Previous and Current hold RegionIDs.
type Event struct {
	Kind     EventKind
	Entity   EntityID
	Key      string
	Previous any
	Current  any
}

// Type returns the subscription type of the event.
func (e Event) Type() EventType {
	return EventType{Kind: e.Kind, Key: e.Key}
}

// PropertyChanged builds a property mutation event.
func PropertyChanged(id EntityID, key string, previous, current any) Event {
	return Event{Kind: EventKindPropertyChanged, Entity: id, Key: key, Previous: previous, Current: current}
}

// AttributeChanged builds an attribute mutation event.
func AttributeChanged(id EntityID, key string, previous, current any) Event {
	return Event{Kind: EventKindAttributeChanged, Entity: id, Key: key, Previous: previous, Current: current}
}

// RegionChanged builds a region move event.
func RegionChanged(id EntityID, previous, current RegionID) Event {
	return Event{Kind: EventKindRegionChanged, Entity: id, Previous: previous, Current: current}
}

// EventBus is a synchronous publish/subscribe hub. Handlers run in
// subscription order on the publishing goroutine; Publish returns only after
// every handler has returned.
//
// Thread-safety: NOT thread-safe. One bus per simulation run.
type EventBus struct {
	handlers  map[EventKind][]func(Event)
	published map[EventKind]int
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers:  make(map[EventKind][]func(Event)),
		published: make(map[EventKind]int),
	}
}

// Subscribe registers fn for every event of the given kind.
func (b *EventBus) Subscribe(kind EventKind, fn func(Event)) {
	b.handlers[kind] = append(b.handlers[kind], fn)
}

// Publish delivers ev to every handler subscribed to its kind.
func (b *EventBus) Publish(ev Event) {
	b.published[ev.Kind]++
	for _, fn := range b.handlers[ev.Kind] {
		fn(ev)
	}
}

// Published returns how many events of the given kind have been published.
func (b *EventBus) Published(kind EventKind) int {
	return b.published[kind]
}
