package partition

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/inference-sim/population-sim/sim"
)

// Labeler maps an entity to a label along one dimension. The label function
// receives the raw source value: the property or attribute value, the
// sim.RegionID, or the region class string.
type Labeler struct {
	dim Dimension
	fn  func(v any) Label
}

// PropertyLabeler labels by a property value. A nil fn labels by the value itself.
func PropertyLabeler(key string, fn func(v any) Label) Labeler {
	return Labeler{dim: PropertyDimension(key), fn: fn}
}

// AttributeLabeler labels by an attribute value. A nil fn labels by the value itself.
func AttributeLabeler(key string, fn func(v any) Label) Labeler {
	return Labeler{dim: AttributeDimension(key), fn: fn}
}

// RegionLabeler labels by region. A nil fn labels by the region id.
func RegionLabeler(fn func(r sim.RegionID) Label) Labeler {
	l := Labeler{dim: RegionDimension}
	if fn != nil {
		l.fn = func(v any) Label { return fn(v.(sim.RegionID)) }
	}
	return l
}

// RegionClassLabeler labels by the class of the person's region.
// A nil fn labels by the class name.
func RegionClassLabeler(fn func(class string) Label) Labeler {
	l := Labeler{dim: RegionClassDimension}
	if fn != nil {
		l.fn = func(v any) Label { return fn(v.(string)) }
	}
	return l
}

// Bins returns a label function mapping a numeric value to the index of the
// half-open interval it falls in: values below edges[0] get 0, values in
// [edges[i-1], edges[i]) get i, values at or above the last edge get len(edges).
func Bins(edges ...float64) func(v any) Label {
	sorted := append([]float64(nil), edges...)
	sort.Float64s(sorted)
	return func(v any) Label {
		var x float64
		switch n := v.(type) {
		case int64:
			x = float64(n)
		case float64:
			x = n
		default:
			return int64(-1)
		}
		return int64(sort.Search(len(sorted), func(i int) bool { return sorted[i] > x }))
	}
}

// Dimension returns the labeling axis.
func (l Labeler) Dimension() Dimension {
	return l.dim
}

func (l Labeler) validate(pop Population) error {
	switch l.dim.Source {
	case SourceProperty:
		if _, ok := pop.PropertyDefinition(l.dim.Key); !ok {
			return fmt.Errorf("%w: labeler property %q", ErrUnknownKey, l.dim.Key)
		}
	case SourceAttribute:
		if _, ok := pop.AttributeDefinition(l.dim.Key); !ok {
			return fmt.Errorf("%w: labeler attribute %q", ErrUnknownKey, l.dim.Key)
		}
	case SourceRegion, SourceRegionClass:
	default:
		return fmt.Errorf("%w: labeler source %q", ErrMalformedFilter, l.dim.Source)
	}
	return nil
}

// invalidLabel stands in for a label that cannot be indexed. It equals
// itself and nothing else.
type invalidLabel struct{}

func (l Labeler) label(raw any) (Label, error) {
	label := raw
	if l.fn != nil {
		label = sim.Normalize(l.fn(raw))
	}
	if !indexable(label) {
		return invalidLabel{}, fmt.Errorf("%w: %v along %s", ErrInvalidLabel, label, l.dim)
	}
	return label, nil
}

// indexable reports whether label can key a map and equals itself.
func indexable(label Label) bool {
	switch x := label.(type) {
	case nil:
		return true
	case float64:
		return !math.IsNaN(x)
	}
	return reflect.ValueOf(label).Comparable()
}

// CurrentLabel computes the entity's label from its current state.
func (l Labeler) CurrentLabel(pop Population, id sim.EntityID) (Label, error) {
	var raw any
	var err error
	switch l.dim.Source {
	case SourceProperty:
		raw, err = pop.PropertyValue(id, l.dim.Key)
	case SourceAttribute:
		raw, err = pop.AttributeValue(id, l.dim.Key)
	case SourceRegion, SourceRegionClass:
		var r sim.RegionID
		r, err = pop.RegionOf(id)
		raw = r
		if err == nil && l.dim.Source == SourceRegionClass {
			raw = pop.RegionClass(r)
		}
	}
	if err != nil {
		return nil, err
	}
	return l.label(raw)
}

// PastLabel computes the label the entity had before ev from the value the
// event carries. Only the region-class labeler consults the population, for
// the immutable region-to-class mapping. A label that cannot be indexed is
// reported as a sentinel equal only to other such labels.
func (l Labeler) PastLabel(pop Population, ev sim.Event) Label {
	return l.fromEventValue(pop, ev.Previous)
}

// NextLabel computes the label the entity has after ev.
func (l Labeler) NextLabel(pop Population, ev sim.Event) Label {
	return l.fromEventValue(pop, ev.Current)
}

func (l Labeler) fromEventValue(pop Population, v any) Label {
	if l.dim.Source == SourceRegionClass {
		r, _ := v.(sim.RegionID)
		v = pop.RegionClass(r)
	}
	label, _ := l.label(v)
	return label
}

// EventType returns the type of mutation event that can change this label.
func (l Labeler) EventType() sim.EventType {
	switch l.dim.Source {
	case SourceProperty:
		return sim.EventType{Kind: sim.EventKindPropertyChanged, Key: l.dim.Key}
	case SourceAttribute:
		return sim.EventType{Kind: sim.EventKindAttributeChanged, Key: l.dim.Key}
	}
	return sim.EventType{Kind: sim.EventKindRegionChanged}
}

// Sensitivities returns the labeler's single sensitivity. The probe always
// yields the mutated entity; deciding whether the label moved is left to
// the partition.
func (l Labeler) Sensitivities() []Sensitivity {
	return []Sensitivity{{
		Type:  l.EventType(),
		Probe: func(ev sim.Event) (sim.EntityID, bool) { return ev.Entity, true },
	}}
}
