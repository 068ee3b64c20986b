package partition

import (
	"testing"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBins(t *testing.T) {
	bin := Bins(65, 18) // unsorted edges are sorted
	tests := []struct {
		v    any
		want Label
	}{
		{int64(0), int64(0)},
		{int64(17), int64(0)},
		{int64(18), int64(1)},
		{int64(64), int64(1)},
		{int64(65), int64(2)},
		{float64(17.9), int64(0)},
		{"x", int64(-1)},
	}
	for _, tt := range tests {
		if got := bin(tt.v); got != tt.want {
			t.Errorf("Bins(18,65)(%v) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestLabeler_CurrentLabel(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)

	got, err := PropertyLabeler("age", nil).CurrentLabel(f.World, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got)

	got, err = PropertyLabeler("age", Bins(18)).CurrentLabel(f.World, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = RegionLabeler(nil).CurrentLabel(f.World, 6)
	require.NoError(t, err)
	assert.Equal(t, sim.RegionID("B"), got)

	got, err = RegionClassLabeler(nil).CurrentLabel(f.World, 6)
	require.NoError(t, err)
	assert.Equal(t, "rural", got)

	got, err = AttributeLabeler("vaccinated", func(v any) Label {
		if v.(bool) {
			return "yes"
		}
		return "no"
	}).CurrentLabel(f.World, 0)
	require.NoError(t, err)
	assert.Equal(t, "no", got)

	_, err = RegionLabeler(nil).CurrentLabel(f.World, 42)
	assert.ErrorIs(t, err, sim.ErrUnknownEntity)
}

func TestLabeler_PastAndNextFromEvent(t *testing.T) {
	f := testutil.NewFixture(t, testutil.TenPeople()...)

	class := RegionClassLabeler(nil)
	ev := sim.RegionChanged(0, "A", "B")
	assert.Equal(t, "urban", class.PastLabel(f.World, ev))
	assert.Equal(t, "rural", class.NextLabel(f.World, ev))

	bins := PropertyLabeler("age", Bins(18))
	ev = sim.PropertyChanged(0, "age", int64(10), int64(11))
	assert.Equal(t, bins.PastLabel(f.World, ev), bins.NextLabel(f.World, ev), "same bin")
}

func TestLabeler_Sensitivities(t *testing.T) {
	tests := []struct {
		labeler Labeler
		want    sim.EventType
	}{
		{PropertyLabeler("age", nil), sim.EventType{Kind: sim.EventKindPropertyChanged, Key: "age"}},
		{AttributeLabeler("vaccinated", nil), sim.EventType{Kind: sim.EventKindAttributeChanged, Key: "vaccinated"}},
		{RegionLabeler(nil), sim.EventType{Kind: sim.EventKindRegionChanged}},
		{RegionClassLabeler(nil), sim.EventType{Kind: sim.EventKindRegionChanged}},
	}
	for _, tt := range tests {
		t.Run(tt.labeler.Dimension().String(), func(t *testing.T) {
			sens := tt.labeler.Sensitivities()
			require.Len(t, sens, 1)
			assert.Equal(t, tt.want, sens[0].Type)
			id, ok := sens[0].Probe(sim.Event{Kind: tt.want.Kind, Key: tt.want.Key, Entity: 7})
			assert.True(t, ok)
			assert.Equal(t, sim.EntityID(7), id)
		})
	}
}

func TestLabeler_Validate(t *testing.T) {
	f := testutil.NewFixture(t)
	assert.NoError(t, PropertyLabeler("age", nil).validate(f.World))
	assert.NoError(t, RegionClassLabeler(nil).validate(f.World))
	assert.ErrorIs(t, PropertyLabeler("height", nil).validate(f.World), ErrUnknownKey)
	assert.ErrorIs(t, AttributeLabeler("age", nil).validate(f.World), ErrUnknownKey)
}

func TestLabelSet(t *testing.T) {
	empty := NewLabelSet()
	a := empty.With(RegionDimension, sim.RegionID("A"))
	ab := a.With(PropertyDimension("age"), 30)

	assert.Equal(t, 0, empty.Len(), "With does not mutate the receiver")
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 2, ab.Len())

	l, ok := ab.Get(PropertyDimension("age"))
	assert.True(t, ok)
	assert.Equal(t, int64(30), l, "int literals normalize to int64")

	_, ok = a.Get(PropertyDimension("age"))
	assert.False(t, ok)

	assert.Equal(t, []Dimension{PropertyDimension("age"), RegionDimension}, ab.Dimensions())
	assert.Equal(t, "{property.age=30, region=A}", ab.String())
	assert.True(t, ab.Equal(NewLabelSet().With(PropertyDimension("age"), int64(30)).With(RegionDimension, sim.RegionID("A"))))
	assert.False(t, ab.Equal(a))
}
