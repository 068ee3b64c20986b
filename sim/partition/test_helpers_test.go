package partition

import (
	"maps"
	"testing"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/internal/testutil"
	"github.com/stretchr/testify/require"
)

// newRegistry builds the reference fixture and a registry attached to its bus.
func newRegistry(t *testing.T, people ...testutil.Person) (*testutil.Fixture, *Registry) {
	t.Helper()
	if people == nil {
		people = testutil.TenPeople()
	}
	f := testutil.NewFixture(t, people...)
	r := NewRegistry(f.World, f.Streams)
	r.Attach(f.Bus)
	return f, r
}

// addPartition builds and registers a partition, failing the test on error.
func addPartition(t *testing.T, r *Registry, pop Population, key Key, filter *Filter, labelers ...Labeler) *Partition {
	t.Helper()
	p, err := New(pop, filter, labelers...)
	require.NoError(t, err)
	require.NoError(t, r.Add(key, "test", p))
	return p
}

func ptr(f Filter) *Filter { return &f }

// checkInvariants rescans the population and verifies membership, label
// freshness and that buckets are the exact inverse of labelOf.
func checkInvariants(t *testing.T, p *Partition) {
	t.Helper()

	for _, id := range p.pop.Entities() {
		want := p.accepts(id)
		got := p.members.Contains(uint32(id))
		if got != want {
			t.Fatalf("entity %d: member=%v, filter=%v", id, got, want)
		}
		if !want {
			if _, ok := p.labelOf[id]; ok {
				t.Fatalf("non-member %d has a label tuple", id)
			}
			continue
		}
		bi, ok := p.labelOf[id]
		if !ok {
			t.Fatalf("member %d has no label tuple", id)
		}
		b := p.buckets[bi]
		for i, l := range p.labelers {
			cur, err := l.CurrentLabel(p.pop, id)
			require.NoError(t, err)
			if b.labels[i] != cur {
				t.Fatalf("member %d: stale label along %s: indexed %v, current %v", id, l.dim, b.labels[i], cur)
			}
		}
		if !b.members.Contains(uint32(id)) {
			t.Fatalf("member %d missing from its bucket", id)
		}
	}

	total := 0
	for bi, b := range p.buckets {
		it := b.members.Iterator()
		for it.HasNext() {
			id := sim.EntityID(it.Next())
			if p.labelOf[id] != bi {
				t.Fatalf("entity %d in bucket %d but labelOf says %d", id, bi, p.labelOf[id])
			}
			total++
		}
	}
	if total != p.Size() || len(p.labelOf) != p.Size() {
		t.Fatalf("bucket total %d, labelOf %d, members %d", total, len(p.labelOf), p.Size())
	}
}

// snapshot captures the index contents for before/after comparison.
type snapshot struct {
	members []uint32
	buckets [][]uint32
	labelOf map[sim.EntityID]int
}

func takeSnapshot(p *Partition) snapshot {
	s := snapshot{members: p.members.ToArray(), labelOf: maps.Clone(p.labelOf)}
	for _, b := range p.buckets {
		s.buckets = append(s.buckets, b.members.ToArray())
	}
	return s
}

// countOf finds the breakdown row for a single-dimension tuple.
func countOf(rows []LabelCount, d Dimension, label Label) int {
	for _, row := range rows {
		if l, ok := row.Labels.Get(d); ok && l == sim.Normalize(label) {
			return row.Count
		}
	}
	return 0
}
