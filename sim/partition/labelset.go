package partition

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/inference-sim/population-sim/sim"
)

// Source names where a filter leaf or labeler reads its value from.
type Source string

const (
	SourceProperty    Source = "property"
	SourceAttribute   Source = "attribute"
	SourceRegion      Source = "region"
	SourceRegionClass Source = "region-class"
)

// Dimension identifies a labeling axis: a property or attribute key, the
// person's region, or the class of the person's region.
type Dimension struct {
	Source Source
	Key    string
}

// PropertyDimension is the dimension of a property labeler.
func PropertyDimension(key string) Dimension {
	return Dimension{Source: SourceProperty, Key: key}
}

// AttributeDimension is the dimension of an attribute labeler.
func AttributeDimension(key string) Dimension {
	return Dimension{Source: SourceAttribute, Key: key}
}

// RegionDimension is the dimension of a region labeler. Its labels are
// sim.RegionID values unless the labeler maps them; queries also accept
// the plain string form of a region id.
var RegionDimension = Dimension{Source: SourceRegion}

// RegionClassDimension is the dimension of a region-class labeler.
var RegionClassDimension = Dimension{Source: SourceRegionClass}

func (d Dimension) String() string {
	if d.Key == "" {
		return string(d.Source)
	}
	return string(d.Source) + "." + d.Key
}

func compareDimensions(a, b Dimension) int {
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

// Label is a discrete label value. Labels must be comparable with == and
// must not be NaN; Go integer and float literals are normalized to int64
// and float64.
type Label = any

// LabelSet is an immutable sparse mapping from dimension to the label a
// query requires. Dimensions not present are unconstrained.
type LabelSet struct {
	labels map[Dimension]Label
}

// NewLabelSet returns an empty label set, which matches every label tuple.
func NewLabelSet() LabelSet {
	return LabelSet{}
}

// With returns a copy of the set constraining d to label.
func (s LabelSet) With(d Dimension, label Label) LabelSet {
	next := make(map[Dimension]Label, len(s.labels)+1)
	maps.Copy(next, s.labels)
	next[d] = sim.Normalize(label)
	return LabelSet{labels: next}
}

// Get returns the label required for d, if any.
func (s LabelSet) Get(d Dimension) (Label, bool) {
	l, ok := s.labels[d]
	return l, ok
}

// Len returns the number of constrained dimensions.
func (s LabelSet) Len() int {
	return len(s.labels)
}

// Dimensions returns the constrained dimensions in a stable order.
func (s LabelSet) Dimensions() []Dimension {
	dims := slices.Collect(maps.Keys(s.labels))
	slices.SortFunc(dims, compareDimensions)
	return dims
}

// Equal reports whether both sets constrain the same dimensions to the same labels.
func (s LabelSet) Equal(other LabelSet) bool {
	return maps.Equal(s.labels, other.labels)
}

func (s LabelSet) String() string {
	dims := s.Dimensions()
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprintf("%s=%v", d, s.labels[d])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
