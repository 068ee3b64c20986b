package partition

import (
	"fmt"
	"slices"

	"github.com/inference-sim/population-sim/sim"
	"github.com/sirupsen/logrus"
)

// Key names a registered partition.
type Key string

// Owner identifies the actor that registered a partition.
type Owner string

type entry struct {
	key       Key
	owner     Owner
	partition *Partition
}

// Registry owns the live partitions of one simulation run and routes every
// population event to each of them. Each run constructs its own Registry;
// there is no process-wide instance.
//
// Thread-safety: NOT thread-safe. Must be called from the run's goroutine.
type Registry struct {
	pop     Population
	streams Streams
	entries map[Key]*entry
	order   []Key
	metrics *Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records partition sizes, transitions and samples on m.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry over pop, resolving sampler streams with streams.
func NewRegistry(pop Population, streams Streams, opts ...Option) *Registry {
	r := &Registry{
		pop:     pop,
		streams: streams,
		entries: make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach subscribes the registry to every population event kind on bus.
func (r *Registry) Attach(bus *sim.EventBus) {
	for _, kind := range sim.EventKinds {
		bus.Subscribe(kind, r.Dispatch)
	}
}

// Dispatch applies ev to every registered partition, in registration order.
// All partitions are updated before Dispatch returns.
func (r *Registry) Dispatch(ev sim.Event) {
	if r.metrics != nil {
		r.metrics.events.WithLabelValues(string(ev.Kind)).Inc()
	}
	for _, key := range r.order {
		e := r.entries[key]
		before := e.partition.stats
		if e.partition.apply(ev) && r.metrics != nil {
			r.metrics.observe(key, e.partition, before)
		}
	}
}

// Add registers p under key for owner and backfills it from the current population.
// A labeler yielding NaN or a non-comparable label fails with ErrInvalidLabel
// and leaves p unregistered.
func (r *Registry) Add(key Key, owner Owner, p *Partition) error {
	switch {
	case key == "":
		return ErrNullKey
	case owner == "":
		return fmt.Errorf("%w: partition %q", ErrNullOwner, key)
	case p == nil:
		return fmt.Errorf("%w: partition %q", ErrNullPartition, key)
	}
	if _, ok := r.entries[key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicatePartition, key)
	}
	if p.registered {
		return fmt.Errorf("%w: %q", ErrPartitionInUse, key)
	}

	if err := p.backfill(); err != nil {
		return fmt.Errorf("partition %q: %w", key, err)
	}
	p.registered = true
	r.entries[key] = &entry{key: key, owner: owner, partition: p}
	r.order = append(r.order, key)
	if r.metrics != nil {
		r.metrics.members.WithLabelValues(string(key)).Set(float64(p.Size()))
	}
	logrus.Debugf("added partition %q (owner %s): %d members, %d buckets", key, owner, p.Size(), len(p.buckets))
	return nil
}

// Remove unregisters and discards the partition under key. Removing an
// absent key is a no-op. The key may be reused afterwards.
func (r *Registry) Remove(key Key) {
	e, ok := r.entries[key]
	if !ok {
		return
	}
	e.partition.discard()
	delete(r.entries, key)
	r.order = slices.DeleteFunc(r.order, func(k Key) bool { return k == key })
	if r.metrics != nil {
		r.metrics.forget(key)
	}
	logrus.Debugf("removed partition %q (owner %s)", key, e.owner)
}

// RemoveOwnedBy removes every partition registered by owner and returns how many were removed.
func (r *Registry) RemoveOwnedBy(owner Owner) int {
	var keys []Key
	for _, key := range r.order {
		if r.entries[key].owner == owner {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		r.Remove(key)
	}
	return len(keys)
}

// Exists reports whether key is registered.
func (r *Registry) Exists(key Key) bool {
	_, ok := r.entries[key]
	return ok
}

// Keys returns the registered keys in registration order.
func (r *Registry) Keys() []Key {
	return slices.Clone(r.order)
}

// OwnerOf returns the owner of the partition under key.
func (r *Registry) OwnerOf(key Key) (Owner, error) {
	e, err := r.lookup(key)
	if err != nil {
		return "", err
	}
	return e.owner, nil
}

// Get returns the partition under key.
func (r *Registry) Get(key Key) (*Partition, error) {
	e, err := r.lookup(key)
	if err != nil {
		return nil, err
	}
	return e.partition, nil
}

func (r *Registry) lookup(key Key) (*entry, error) {
	if key == "" {
		return nil, ErrNullKey
	}
	e, ok := r.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPartitionKey, key)
	}
	return e, nil
}

// Contains reports whether id is a member of the partition under key.
func (r *Registry) Contains(key Key, id sim.EntityID) (bool, error) {
	p, err := r.Get(key)
	if err != nil {
		return false, err
	}
	return p.Contains(id)
}

// ContainsLabels reports whether id is a member of the partition under key
// with a label tuple matching labels.
func (r *Registry) ContainsLabels(key Key, id sim.EntityID, labels LabelSet) (bool, error) {
	p, err := r.Get(key)
	if err != nil {
		return false, err
	}
	return p.ContainsLabels(id, labels)
}

// Members lists the members of the partition under key matching labels.
func (r *Registry) Members(key Key, labels LabelSet) ([]sim.EntityID, error) {
	p, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	return p.MembersMatching(labels)
}

// Count counts the members of the partition under key matching labels.
func (r *Registry) Count(key Key, labels LabelSet) (int, error) {
	p, err := r.Get(key)
	if err != nil {
		return 0, err
	}
	return p.CountMatching(labels)
}

// Breakdown counts members of the partition under key per label tuple.
func (r *Registry) Breakdown(key Key, labels LabelSet) ([]LabelCount, error) {
	p, err := r.Get(key)
	if err != nil {
		return nil, err
	}
	return p.Breakdown(labels)
}

// Sample draws a uniformly random candidate from the partition under key.
// The boolean is false when no candidate exists.
func (r *Registry) Sample(key Key, s Sampler) (sim.EntityID, bool, error) {
	p, err := r.Get(key)
	if err != nil {
		return 0, false, err
	}
	rng, err := r.streams.Stream(s.stream)
	if err != nil {
		return 0, false, err
	}
	id, ok, err := p.Sample(rng, s)
	if err != nil {
		return 0, false, err
	}
	if r.metrics != nil {
		result := "empty"
		if ok {
			result = "hit"
		}
		r.metrics.samples.WithLabelValues(string(key), result).Inc()
	}
	return id, ok, nil
}
