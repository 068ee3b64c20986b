package partition

import (
	"fmt"
	"strings"

	"github.com/inference-sim/population-sim/sim"
)

// Equality is the comparison a filter leaf applies between an entity's
// current value and the leaf's operand.
type Equality int

const (
	Equal Equality = iota
	NotEqual
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
)

var equalitySymbols = map[Equality]string{
	Equal:              "==",
	NotEqual:           "!=",
	LessThan:           "<",
	LessThanOrEqual:    "<=",
	GreaterThan:        ">",
	GreaterThanOrEqual: ">=",
}

// ParseEquality maps an operator symbol ("==", "<=", ...) to an Equality.
func ParseEquality(symbol string) (Equality, bool) {
	for eq, s := range equalitySymbols {
		if s == symbol {
			return eq, true
		}
	}
	return 0, false
}

func (e Equality) String() string {
	if s, ok := equalitySymbols[e]; ok {
		return s
	}
	return fmt.Sprintf("Equality(%d)", int(e))
}

// Ordering reports whether the operator needs an ordering relation.
func (e Equality) Ordering() bool {
	return e != Equal && e != NotEqual
}

// holds applies the operator to a comparison result (-1, 0, 1).
func (e Equality) holds(c int) bool {
	switch e {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case LessThan:
		return c < 0
	case LessThanOrEqual:
		return c <= 0
	case GreaterThan:
		return c > 0
	case GreaterThanOrEqual:
		return c >= 0
	}
	return false
}

type op int

const (
	opLeaf op = iota
	opAnd
	opOr
	opNot
)

// Leaf compares one value of an entity against a constant operand.
// Key names the property or attribute; it is empty for SourceRegion, whose
// operand is a region id.
type Leaf struct {
	Source   Source
	Key      string
	Equality Equality
	Operand  any
}

// Filter is a boolean predicate over an entity's state: either a Leaf or an
// AND/OR/NOT combination of child filters. The zero value is not a valid
// filter; use the constructors.
type Filter struct {
	op       op
	leaf     Leaf
	children []Filter
}

// Property builds a leaf over a person property.
func Property(key string, eq Equality, operand any) Filter {
	return Filter{op: opLeaf, leaf: Leaf{Source: SourceProperty, Key: key, Equality: eq, Operand: sim.Normalize(operand)}}
}

// Attribute builds a leaf over a person attribute.
func Attribute(key string, eq Equality, operand any) Filter {
	return Filter{op: opLeaf, leaf: Leaf{Source: SourceAttribute, Key: key, Equality: eq, Operand: sim.Normalize(operand)}}
}

// Region builds a leaf over the region a person lives in.
func Region(eq Equality, region sim.RegionID) Filter {
	return Filter{op: opLeaf, leaf: Leaf{Source: SourceRegion, Equality: eq, Operand: region}}
}

// RegionIn matches people living in any of the given regions.
func RegionIn(regions ...sim.RegionID) Filter {
	children := make([]Filter, len(regions))
	for i, r := range regions {
		children[i] = Region(Equal, r)
	}
	return Or(children...)
}

// And is true when every child is true. An empty And is true.
func And(children ...Filter) Filter {
	return Filter{op: opAnd, children: children}
}

// Or is true when any child is true. An empty Or is false.
func Or(children ...Filter) Filter {
	return Filter{op: opOr, children: children}
}

// True accepts every entity.
func True() Filter {
	return And()
}

// Not negates its child.
func Not(child Filter) Filter {
	return Filter{op: opNot, children: []Filter{child}}
}

// Validate checks every leaf against the population's definitions.
// It reports ErrUnknownKey, ErrTypeMismatch, ErrNonOrderable or ErrMalformedFilter.
func (f Filter) Validate(pop Population) error {
	switch f.op {
	case opLeaf:
		return f.leaf.validate(pop)
	case opAnd, opOr:
		for _, c := range f.children {
			if err := c.Validate(pop); err != nil {
				return err
			}
		}
		return nil
	case opNot:
		if len(f.children) != 1 {
			return fmt.Errorf("%w: NOT needs exactly one child, got %d", ErrMalformedFilter, len(f.children))
		}
		return f.children[0].Validate(pop)
	}
	return fmt.Errorf("%w: unknown operator %d", ErrMalformedFilter, f.op)
}

func (l Leaf) validate(pop Population) error {
	var def sim.Definition
	switch l.Source {
	case SourceProperty, SourceAttribute:
		var ok bool
		if l.Source == SourceProperty {
			def, ok = pop.PropertyDefinition(l.Key)
		} else {
			def, ok = pop.AttributeDefinition(l.Key)
		}
		if !ok {
			return fmt.Errorf("%w: %s %q", ErrUnknownKey, l.Source, l.Key)
		}
		if !def.Type.Accepts(l.Operand) {
			return fmt.Errorf("%w: %s %q is %s, operand %v is %T", ErrTypeMismatch, l.Source, l.Key, def.Type, l.Operand, l.Operand)
		}
		if l.Equality.Ordering() && !def.Type.Orderable() {
			return fmt.Errorf("%w: %s %q (%s) with %s", ErrNonOrderable, l.Source, l.Key, def.Type, l.Equality)
		}
	case SourceRegion:
		region, ok := l.Operand.(sim.RegionID)
		if !ok {
			return fmt.Errorf("%w: region operand %v is %T", ErrTypeMismatch, l.Operand, l.Operand)
		}
		if !pop.RegionExists(region) {
			return fmt.Errorf("%w: region %q", ErrUnknownKey, region)
		}
		if l.Equality.Ordering() {
			return fmt.Errorf("%w: region with %s", ErrNonOrderable, l.Equality)
		}
	default:
		return fmt.Errorf("%w: leaf source %q", ErrMalformedFilter, l.Source)
	}
	if _, ok := equalitySymbols[l.Equality]; !ok {
		return fmt.Errorf("%w: %s", ErrMalformedFilter, l.Equality)
	}
	return nil
}

// Evaluate reports whether the entity currently satisfies the filter.
// Entities that no longer exist never satisfy it.
func (f Filter) Evaluate(pop Population, id sim.EntityID) bool {
	return f.evalAt(pop, id, nil, false)
}

// evalAt evaluates the whole predicate for id. When ev is non-nil and
// mutated id, leaves that read the mutated value take it from the event
// (Previous when before is set, Current otherwise) instead of the population.
func (f Filter) evalAt(pop Population, id sim.EntityID, ev *sim.Event, before bool) bool {
	switch f.op {
	case opLeaf:
		return f.leaf.evalAt(pop, id, ev, before)
	case opAnd:
		for _, c := range f.children {
			if !c.evalAt(pop, id, ev, before) {
				return false
			}
		}
		return true
	case opOr:
		for _, c := range f.children {
			if c.evalAt(pop, id, ev, before) {
				return true
			}
		}
		return false
	case opNot:
		return !f.children[0].evalAt(pop, id, ev, before)
	}
	return false
}

func (l Leaf) evalAt(pop Population, id sim.EntityID, ev *sim.Event, before bool) bool {
	if ev != nil && ev.Entity == id && ev.Type() == l.eventType() {
		if before {
			return l.test(ev.Previous)
		}
		return l.test(ev.Current)
	}
	v, err := l.read(pop, id)
	if err != nil {
		return false
	}
	return l.test(v)
}

func (l Leaf) read(pop Population, id sim.EntityID) (any, error) {
	switch l.Source {
	case SourceProperty:
		return pop.PropertyValue(id, l.Key)
	case SourceAttribute:
		return pop.AttributeValue(id, l.Key)
	case SourceRegion:
		return pop.RegionOf(id)
	}
	return nil, fmt.Errorf("%w: leaf source %q", ErrMalformedFilter, l.Source)
}

// test applies the operator to a value. Ordering was checked by Validate,
// so a failed comparison only happens for nil values and reads as false.
func (l Leaf) test(v any) bool {
	if !l.Equality.Ordering() {
		return (v == l.Operand) == (l.Equality == Equal)
	}
	c, err := sim.Compare(v, l.Operand)
	if err != nil {
		return false
	}
	return l.Equality.holds(c)
}

func (l Leaf) eventType() sim.EventType {
	switch l.Source {
	case SourceProperty:
		return sim.EventType{Kind: sim.EventKindPropertyChanged, Key: l.Key}
	case SourceAttribute:
		return sim.EventType{Kind: sim.EventKindAttributeChanged, Key: l.Key}
	}
	return sim.EventType{Kind: sim.EventKindRegionChanged}
}

// Sensitivities returns one probe per event type any leaf reads. A probe
// evaluates the whole filter before and after the event and yields the
// entity only when the overall truth value flips; a child flipping inside an
// AND whose other children are false yields nothing.
func (f Filter) Sensitivities(pop Population) []Sensitivity {
	var types []sim.EventType
	seen := make(map[sim.EventType]bool)
	f.walk(func(l Leaf) {
		t := l.eventType()
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	})

	sens := make([]Sensitivity, 0, len(types))
	for _, t := range types {
		sens = append(sens, Sensitivity{
			Type: t,
			Probe: func(ev sim.Event) (sim.EntityID, bool) {
				was := f.evalAt(pop, ev.Entity, &ev, true)
				is := f.evalAt(pop, ev.Entity, &ev, false)
				return ev.Entity, was != is
			},
		})
	}
	return sens
}

func (f Filter) walk(fn func(Leaf)) {
	if f.op == opLeaf {
		fn(f.leaf)
		return
	}
	for _, c := range f.children {
		c.walk(fn)
	}
}

func (f Filter) String() string {
	switch f.op {
	case opLeaf:
		l := f.leaf
		if l.Source == SourceRegion {
			return fmt.Sprintf("region %s %v", l.Equality, l.Operand)
		}
		return fmt.Sprintf("%s.%s %s %v", l.Source, l.Key, l.Equality, l.Operand)
	case opNot:
		return "NOT " + f.children[0].String()
	}
	if len(f.children) == 0 {
		if f.op == opAnd {
			return "TRUE"
		}
		return "FALSE"
	}
	sep := " AND "
	if f.op == opOr {
		sep = " OR "
	}
	parts := make([]string, len(f.children))
	for i, c := range f.children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}
