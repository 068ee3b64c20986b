package partition

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/inference-sim/population-sim/sim"
	"github.com/sirupsen/logrus"
)

// bucket holds the members sharing one label tuple.
type bucket struct {
	labels  []Label // one per labeler, in labeler order
	members *roaring.Bitmap
}

// Partition is a live index of the entities satisfying a filter, bucketed by
// the tuple of labels its labelers assign. It is kept current by the events
// the Registry routes to it; queries read only the index.
//
// After every applied event:
//   - members holds exactly the entities the filter accepts (all entities
//     when there is no filter)
//   - every member sits in the bucket of its current label tuple and in no other
//   - non-members sit in no bucket
//
// Buckets are kept in the order their tuples were first realized; an emptied
// bucket stays in place so that enumeration order is stable for the run.
//
// Thread-safety: NOT thread-safe. Owned by a single simulation run.
type Partition struct {
	pop      Population
	filter   *Filter
	labelers []Labeler
	dims     map[Dimension]int

	filterProbes  map[sim.EventType]func(sim.Event) (sim.EntityID, bool)
	labelerByType map[sim.EventType][]int

	members     *roaring.Bitmap
	labelOf     map[sim.EntityID]int // bucket index
	buckets     []*bucket
	bucketIndex map[string]int
	codes       []map[Label]uint32 // per-labeler label interning for tuple keys

	registered bool
	stats      Stats
}

// Stats counts index changes since the partition was registered.
type Stats struct {
	Entered   uint64 // entities that joined the membership
	Exited    uint64 // entities that left the membership
	Relocated uint64 // members that moved between buckets
}

// New builds an unregistered partition. filter may be nil, in which case
// every entity is a member. The filter is validated and labeler dimensions
// must be distinct and defined. The index is populated when the partition is
// added to a Registry.
func New(pop Population, filter *Filter, labelers ...Labeler) (*Partition, error) {
	if filter != nil {
		if err := filter.Validate(pop); err != nil {
			return nil, err
		}
	}
	p := &Partition{
		pop:           pop,
		filter:        filter,
		labelers:      slices.Clone(labelers),
		dims:          make(map[Dimension]int, len(labelers)),
		filterProbes:  make(map[sim.EventType]func(sim.Event) (sim.EntityID, bool)),
		labelerByType: make(map[sim.EventType][]int),
	}
	for i, l := range labelers {
		if err := l.validate(pop); err != nil {
			return nil, err
		}
		if _, dup := p.dims[l.dim]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDimension, l.dim)
		}
		p.dims[l.dim] = i
		for _, s := range l.Sensitivities() {
			p.labelerByType[s.Type] = append(p.labelerByType[s.Type], i)
		}
	}
	if filter != nil {
		for _, s := range filter.Sensitivities(pop) {
			p.filterProbes[s.Type] = s.Probe
		}
	}
	p.reset()
	return p, nil
}

func (p *Partition) reset() {
	p.members = roaring.New()
	p.labelOf = make(map[sim.EntityID]int)
	p.buckets = nil
	p.bucketIndex = make(map[string]int)
	p.codes = make([]map[Label]uint32, len(p.labelers))
	for i := range p.codes {
		p.codes[i] = make(map[Label]uint32)
	}
	p.stats = Stats{}
}

// Filter returns the partition's filter, or nil if it has none.
func (p *Partition) Filter() *Filter {
	return p.filter
}

// Dimensions returns the labeler dimensions in labeler order.
func (p *Partition) Dimensions() []Dimension {
	dims := make([]Dimension, len(p.labelers))
	for i, l := range p.labelers {
		dims[i] = l.dim
	}
	return dims
}

// Size returns the number of members.
func (p *Partition) Size() int {
	return int(p.members.GetCardinality())
}

// Stats returns the index change counters.
func (p *Partition) Stats() Stats {
	return p.stats
}

// SensitiveTo reports whether events of type t can affect the partition.
func (p *Partition) SensitiveTo(t sim.EventType) bool {
	if _, ok := p.filterProbes[t]; ok {
		return true
	}
	return len(p.labelerByType[t]) > 0
}

// backfill indexes every entity currently in the population.
func (p *Partition) backfill() error {
	p.reset()
	for _, id := range p.pop.Entities() {
		if !p.accepts(id) {
			continue
		}
		labels, err := p.labelTuple(id)
		if err != nil {
			p.reset()
			return fmt.Errorf("labeling entity %d: %w", id, err)
		}
		p.members.Add(uint32(id))
		p.place(id, labels)
	}
	logrus.Debugf("partition backfilled: %d members in %d buckets", p.Size(), len(p.buckets))
	return nil
}

// discard drops the index. The partition receives no further events.
func (p *Partition) discard() {
	p.reset()
	p.registered = false
}

// apply updates the index for one event and reports whether membership or
// any bucket changed.
func (p *Partition) apply(ev sim.Event) bool {
	switch ev.Kind {
	case sim.EventKindEntityAdded:
		if p.accepts(ev.Entity) && p.insert(ev.Entity) {
			p.stats.Entered++
			return true
		}
		return false
	case sim.EventKindEntityRemoved:
		if p.remove(ev.Entity) {
			p.stats.Exited++
			return true
		}
		return false
	}

	t := ev.Type()
	changed := false
	if probe, ok := p.filterProbes[t]; ok {
		if id, ok := probe(ev); ok {
			changed = p.refreshMembership(id)
		}
	}
	for _, li := range p.labelerByType[t] {
		if p.refreshLabel(li, ev) {
			changed = true
		}
	}
	return changed
}

func (p *Partition) accepts(id sim.EntityID) bool {
	return p.filter == nil || p.filter.Evaluate(p.pop, id)
}

func (p *Partition) refreshMembership(id sim.EntityID) bool {
	if !p.pop.EntityExists(id) {
		return false
	}
	is := p.accepts(id)
	was := p.members.Contains(uint32(id))
	switch {
	case is && !was:
		if !p.insert(id) {
			return false
		}
		p.stats.Entered++
		return true
	case !is && was:
		p.remove(id)
		p.stats.Exited++
		return true
	}
	return false
}

// refreshLabel moves a member whose label along labeler li changed. The
// event's carried values give a cheap no-op check; the bucket to leave is
// the one recorded for the member, so a member that joined on this same
// event (and was labeled from current state) is left in place.
func (p *Partition) refreshLabel(li int, ev sim.Event) bool {
	id := ev.Entity
	bi, ok := p.labelOf[id]
	if !ok {
		return false
	}
	l := p.labelers[li]
	if l.PastLabel(p.pop, ev) == l.NextLabel(p.pop, ev) {
		return false
	}
	next, err := l.CurrentLabel(p.pop, id)
	if err != nil {
		logrus.Warnf("partition: cannot relabel entity %d along %s: %v", id, l.dim, err)
		return false
	}
	old := p.buckets[bi]
	if old.labels[li] == next {
		return false
	}
	labels := slices.Clone(old.labels)
	labels[li] = next
	old.members.Remove(uint32(id))
	p.place(id, labels)
	p.stats.Relocated++
	return true
}

func (p *Partition) insert(id sim.EntityID) bool {
	labels, err := p.labelTuple(id)
	if err != nil {
		logrus.Warnf("partition: cannot label entity %d: %v", id, err)
		return false
	}
	p.members.Add(uint32(id))
	p.place(id, labels)
	return true
}

// labelTuple computes id's current label along every labeler.
func (p *Partition) labelTuple(id sim.EntityID) ([]Label, error) {
	labels := make([]Label, len(p.labelers))
	for i, l := range p.labelers {
		label, err := l.CurrentLabel(p.pop, id)
		if err != nil {
			return nil, err
		}
		labels[i] = label
	}
	return labels, nil
}

func (p *Partition) remove(id sim.EntityID) bool {
	bi, ok := p.labelOf[id]
	if !ok {
		return false
	}
	p.buckets[bi].members.Remove(uint32(id))
	delete(p.labelOf, id)
	p.members.Remove(uint32(id))
	return true
}

// place puts id into the bucket for labels, creating the bucket on first use.
func (p *Partition) place(id sim.EntityID, labels []Label) {
	key := p.tupleKey(labels)
	bi, ok := p.bucketIndex[key]
	if !ok {
		bi = len(p.buckets)
		p.buckets = append(p.buckets, &bucket{labels: labels, members: roaring.New()})
		p.bucketIndex[key] = bi
	}
	p.buckets[bi].members.Add(uint32(id))
	p.labelOf[id] = bi
}

// tupleKey encodes a label tuple as the varint sequence of its per-labeler
// interned codes.
func (p *Partition) tupleKey(labels []Label) string {
	buf := make([]byte, 0, len(labels)*2)
	for i, label := range labels {
		code, ok := p.codes[i][label]
		if !ok {
			code = uint32(len(p.codes[i]))
			p.codes[i][label] = code
		}
		buf = binary.AppendUvarint(buf, uint64(code))
	}
	return string(buf)
}
