package partition

import (
	"errors"
	"testing"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFilter_Validate(t *testing.T) {
	f := testutil.NewFixture(t)

	tests := []struct {
		name    string
		filter  Filter
		wantErr error
	}{
		{"valid ordering on int", Property("age", GreaterThanOrEqual, 18), nil},
		{"valid equality on bool", Property("infected", Equal, true), nil},
		{"valid ordering on string", Property("status", LessThan, "m"), nil},
		{"valid attribute", Attribute("vaccinated", NotEqual, false), nil},
		{"valid region", Region(Equal, "A"), nil},
		{"valid composite", And(Property("age", GreaterThan, 1), Not(Region(Equal, "B"))), nil},
		{"empty and", And(), nil},
		{"unknown property", Property("height", Equal, 1), ErrUnknownKey},
		{"unknown attribute", Attribute("age", Equal, 1), ErrUnknownKey},
		{"unknown region", Region(Equal, "Z"), ErrUnknownKey},
		{"int vs string operand", Property("age", Equal, "ten"), ErrTypeMismatch},
		{"int vs float operand", Property("age", Equal, 1.5), ErrTypeMismatch},
		{"ordering on bool", Property("infected", LessThan, true), ErrNonOrderable},
		{"ordering on region", Region(GreaterThan, "A"), ErrNonOrderable},
		{"nested failure", Or(Property("age", Equal, 1), Property("nope", Equal, 1)), ErrUnknownKey},
		{"bad operator", Property("age", Equality(99), 1), ErrMalformedFilter},
		{"not with two children", Filter{op: opNot, children: []Filter{Region(Equal, "A"), Region(Equal, "B")}}, ErrMalformedFilter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate(f.World)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestFilter_Evaluate(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)
	// entity 1: A, age 20; entity 5: B, age 15
	tests := []struct {
		name   string
		filter Filter
		id     sim.EntityID
		want   bool
	}{
		{"ge true", Property("age", GreaterThanOrEqual, 18), 1, true},
		{"ge false", Property("age", GreaterThanOrEqual, 18), 5, false},
		{"eq", Property("age", Equal, 20), 1, true},
		{"ne", Property("age", NotEqual, 20), 1, false},
		{"lt", Property("age", LessThan, 20), 1, false},
		{"le", Property("age", LessThanOrEqual, 20), 1, true},
		{"gt", Property("age", GreaterThan, 19), 1, true},
		{"region eq", Region(Equal, "A"), 1, true},
		{"region ne", Region(NotEqual, "A"), 5, true},
		{"region in", RegionIn("B", "A"), 5, true},
		{"attribute default", Attribute("vaccinated", Equal, false), 1, true},
		{"and", And(Region(Equal, "A"), Property("age", LessThan, 30)), 1, true},
		{"and short", And(Region(Equal, "B"), Property("age", LessThan, 30)), 1, false},
		{"or", Or(Region(Equal, "B"), Property("age", Equal, 20)), 1, true},
		{"not", Not(Region(Equal, "A")), 1, false},
		{"empty and", And(), 1, true},
		{"empty or", Or(), 1, false},
		{"removed entity", Property("age", GreaterThanOrEqual, 0), 99, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Evaluate(f.World, tt.id); got != tt.want {
				t.Errorf("%s.Evaluate(%d) = %v, want %v", tt.filter, tt.id, got, tt.want)
			}
		})
	}
}

func TestFilter_LeafProbe_UsesEventValues(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)
	filter := Property("age", GreaterThanOrEqual, 18)
	sens := filter.Sensitivities(f.World)
	if assert.Len(t, sens, 1) {
		assert.Equal(t, sim.EventType{Kind: sim.EventKindPropertyChanged, Key: "age"}, sens[0].Type)
	}
	probe := sens[0].Probe

	// The world still says 10 for entity 0; the probe must trust the event.
	id, ok := probe(sim.PropertyChanged(0, "age", int64(10), int64(20)))
	assert.True(t, ok)
	assert.Equal(t, sim.EntityID(0), id)

	_, ok = probe(sim.PropertyChanged(0, "age", int64(20), int64(30)))
	assert.False(t, ok, "20 -> 30 does not cross 18")

	_, ok = probe(sim.PropertyChanged(0, "age", int64(20), int64(20)))
	assert.False(t, ok, "no-op change")
}

func TestFilter_CompositeProbe_RequiresWholePredicateFlip(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)
	// entity 5 lives in B, so the AND stays false whatever its age does.
	filter := And(Region(Equal, "A"), Property("age", GreaterThanOrEqual, 18))
	probe := probeFor(t, filter, f.World, sim.EventType{Kind: sim.EventKindPropertyChanged, Key: "age"})

	_, ok := probe(sim.PropertyChanged(5, "age", int64(15), int64(25)))
	assert.False(t, ok, "child flipped but AND with false sibling did not")

	// entity 0 lives in A: same crossing flips the AND.
	_, ok = probe(sim.PropertyChanged(0, "age", int64(10), int64(20)))
	assert.True(t, ok)
}

func TestFilter_CompositeProbe_OrAndNot(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)
	ageType := sim.EventType{Kind: sim.EventKindPropertyChanged, Key: "age"}

	// entity 1 is in A, so the OR is already true.
	or := Or(Region(Equal, "A"), Property("age", GreaterThan, 100))
	probe := probeFor(t, or, f.World, ageType)
	_, ok := probe(sim.PropertyChanged(1, "age", int64(20), int64(120)))
	assert.False(t, ok, "OR with true sibling does not flip")

	not := Not(Property("age", LessThan, 18))
	probe = probeFor(t, not, f.World, ageType)
	_, ok = probe(sim.PropertyChanged(0, "age", int64(10), int64(18)))
	assert.True(t, ok, "NOT flips with its child")
}

func TestFilter_RegionProbe(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)
	filter := Region(Equal, "B")
	probe := probeFor(t, filter, f.World, sim.EventType{Kind: sim.EventKindRegionChanged})

	_, ok := probe(sim.RegionChanged(1, "A", "B"))
	assert.True(t, ok)
	_, ok = probe(sim.RegionChanged(1, "A", "A"))
	assert.False(t, ok)
}

func TestFilter_Sensitivities_Deduplicated(t *testing.T) {
	f := testutil.NewFixture(t)
	filter := And(
		Property("age", GreaterThan, 1),
		Property("age", LessThan, 90),
		Region(Equal, "A"),
		Or(Region(Equal, "B"), Attribute("vaccinated", Equal, true)),
	)
	var types []sim.EventType
	for _, s := range filter.Sensitivities(f.World) {
		types = append(types, s.Type)
	}
	assert.Equal(t, []sim.EventType{
		{Kind: sim.EventKindPropertyChanged, Key: "age"},
		{Kind: sim.EventKindRegionChanged},
		{Kind: sim.EventKindAttributeChanged, Key: "vaccinated"},
	}, types)
}

func TestFilter_String(t *testing.T) {
	filter := And(Property("age", GreaterThanOrEqual, 18), Not(Or(Region(Equal, "A"), Attribute("vaccinated", Equal, true))))
	assert.Equal(t, "(property.age >= 18 AND NOT (region == A OR attribute.vaccinated == true))", filter.String())
	assert.Equal(t, "TRUE", True().String())
	assert.Equal(t, "FALSE", Or().String())
}

func TestFilter_EmptyCombinators(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)
	assert.True(t, True().Evaluate(f.World, 0))
	assert.False(t, Or().Evaluate(f.World, 0))
	assert.Empty(t, True().Sensitivities(f.World))
}

func TestParseEquality(t *testing.T) {
	for _, sym := range []string{"==", "!=", "<", "<=", ">", ">="} {
		eq, ok := ParseEquality(sym)
		assert.True(t, ok, sym)
		assert.Equal(t, sym, eq.String())
	}
	_, ok := ParseEquality("=~")
	assert.False(t, ok)
}

func probeFor(t *testing.T, f Filter, pop Population, typ sim.EventType) func(sim.Event) (sim.EntityID, bool) {
	t.Helper()
	for _, s := range f.Sensitivities(pop) {
		if s.Type == typ {
			return s.Probe
		}
	}
	t.Fatalf("%s has no sensitivity to %s", f, typ)
	return nil
}
