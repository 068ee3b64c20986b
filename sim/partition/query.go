package partition

import (
	"fmt"
	"math/rand"

	"github.com/inference-sim/population-sim/sim"
)

// LabelCount is one row of a Breakdown: a realized label tuple and how many
// members carry it.
type LabelCount struct {
	Labels LabelSet
	Count  int
}

// Sampler describes a sampling request: an optional label-set constraint,
// an optional entity to leave out, and the random stream to draw from.
// The zero value samples any member using the default stream.
type Sampler struct {
	labels      LabelSet
	excluded    sim.EntityID
	hasExcluded bool
	stream      string
}

// NewSampler returns an unconstrained sampler on the default stream.
func NewSampler() Sampler {
	return Sampler{}
}

// WithLabels restricts candidates to members matching labels.
func (s Sampler) WithLabels(labels LabelSet) Sampler {
	s.labels = labels
	return s
}

// Excluding leaves id out of the candidates.
func (s Sampler) Excluding(id sim.EntityID) Sampler {
	s.excluded = id
	s.hasExcluded = true
	return s
}

// WithStream draws from the named random stream.
func (s Sampler) WithStream(name string) Sampler {
	s.stream = name
	return s
}

// Labels returns the label-set constraint.
func (s Sampler) Labels() LabelSet {
	return s.labels
}

// Stream returns the configured stream name ("" for the default stream).
func (s Sampler) Stream() string {
	return s.stream
}

// checkLabels rejects label sets naming a dimension the partition does not label.
func (p *Partition) checkLabels(labels LabelSet) error {
	for d := range labels.labels {
		if _, ok := p.dims[d]; !ok {
			return fmt.Errorf("%w: %s", ErrIncompatibleLabelSet, d)
		}
	}
	return nil
}

// matches reports whether a bucket's tuple agrees with every constrained dimension.
func (p *Partition) matches(b *bucket, labels LabelSet) bool {
	for d, want := range labels.labels {
		if !sameLabel(b.labels[p.dims[d]], want) {
			return false
		}
	}
	return true
}

// sameLabel compares an indexed label with a queried one. A region id
// matches its plain string form.
func sameLabel(have, want Label) bool {
	if r, ok := have.(sim.RegionID); ok {
		if s, ok := want.(string); ok {
			return string(r) == s
		}
	}
	return have == want
}

// matching returns the non-empty buckets whose tuples match labels, in bucket order.
func (p *Partition) matching(labels LabelSet) ([]*bucket, error) {
	if err := p.checkLabels(labels); err != nil {
		return nil, err
	}
	var out []*bucket
	for _, b := range p.buckets {
		if !b.members.IsEmpty() && p.matches(b, labels) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (p *Partition) tupleLabels(b *bucket) LabelSet {
	set := make(map[Dimension]Label, len(b.labels))
	for i, l := range p.labelers {
		set[l.dim] = b.labels[i]
	}
	return LabelSet{labels: set}
}

// Contains reports whether id is a member.
func (p *Partition) Contains(id sim.EntityID) (bool, error) {
	if !p.pop.EntityExists(id) {
		return false, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	return p.members.Contains(uint32(id)), nil
}

// ContainsLabels reports whether id is a member whose label tuple matches labels.
func (p *Partition) ContainsLabels(id sim.EntityID, labels LabelSet) (bool, error) {
	if err := p.checkLabels(labels); err != nil {
		return false, err
	}
	if !p.pop.EntityExists(id) {
		return false, fmt.Errorf("%w: %d", ErrUnknownEntity, id)
	}
	bi, ok := p.labelOf[id]
	if !ok {
		return false, nil
	}
	return p.matches(p.buckets[bi], labels), nil
}

// Labels returns the current label tuple of a member.
func (p *Partition) Labels(id sim.EntityID) (LabelSet, bool) {
	bi, ok := p.labelOf[id]
	if !ok {
		return LabelSet{}, false
	}
	return p.tupleLabels(p.buckets[bi]), true
}

// MembersMatching lists the members whose tuples match labels, bucket by
// bucket and ascending by id within a bucket.
func (p *Partition) MembersMatching(labels LabelSet) ([]sim.EntityID, error) {
	buckets, err := p.matching(labels)
	if err != nil {
		return nil, err
	}
	var out []sim.EntityID
	for _, b := range buckets {
		it := b.members.Iterator()
		for it.HasNext() {
			out = append(out, sim.EntityID(it.Next()))
		}
	}
	return out, nil
}

// CountMatching counts the members whose tuples match labels.
func (p *Partition) CountMatching(labels LabelSet) (int, error) {
	buckets, err := p.matching(labels)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range buckets {
		n += int(b.members.GetCardinality())
	}
	return n, nil
}

// Breakdown counts members per realized label tuple matching labels.
// Only tuples with at least one member are returned, in first-realized order.
func (p *Partition) Breakdown(labels LabelSet) ([]LabelCount, error) {
	buckets, err := p.matching(labels)
	if err != nil {
		return nil, err
	}
	out := make([]LabelCount, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, LabelCount{Labels: p.tupleLabels(b), Count: int(b.members.GetCardinality())})
	}
	return out, nil
}

// Sample draws one candidate uniformly at random with rng. Candidates are the
// members matching the sampler's labels, minus the excluded entity. The
// draw walks buckets in order and selects by rank inside the chosen bitmap,
// so no candidate list is materialized. A single candidate is returned
// without consuming randomness. It returns false when there are no candidates.
func (p *Partition) Sample(rng *rand.Rand, s Sampler) (sim.EntityID, bool, error) {
	if s.hasExcluded && !p.pop.EntityExists(s.excluded) {
		return 0, false, fmt.Errorf("%w: %d", ErrUnknownExcludedEntity, s.excluded)
	}
	buckets, err := p.matching(s.labels)
	if err != nil {
		return 0, false, err
	}

	n := 0
	skip := -1 // rank of the excluded entity among candidates
	for _, b := range buckets {
		if s.hasExcluded && skip < 0 && b.members.Contains(uint32(s.excluded)) {
			skip = n + int(b.members.Rank(uint32(s.excluded))) - 1
		}
		n += int(b.members.GetCardinality())
	}
	if skip >= 0 {
		n--
	}
	if n <= 0 {
		return 0, false, nil
	}

	r := 0
	if n > 1 {
		r = rng.Intn(n)
	}
	if skip >= 0 && r >= skip {
		r++
	}
	for _, b := range buckets {
		c := int(b.members.GetCardinality())
		if r < c {
			v, err := b.members.Select(uint32(r))
			if err != nil {
				return 0, false, err
			}
			return sim.EntityID(v), true, nil
		}
		r -= c
	}
	return 0, false, nil
}
