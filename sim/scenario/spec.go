package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/population-sim/sim"
	"github.com/inference-sim/population-sim/sim/partition"
	"github.com/inference-sim/population-sim/sim/trace"
)

// ErrInvalidSpec is returned for scenarios that fail validation.
var ErrInvalidSpec = errors.New("invalid scenario")

// specValidate is the validator instance for scenario specs.
var specValidate = validator.New()

// Spec is a complete scenario, loadable from a YAML file.
type Spec struct {
	Name        string          `yaml:"name" validate:"required"`
	Seed        int64           `yaml:"seed"`
	Horizon     int64           `yaml:"horizon" validate:"gte=0"`
	Replicates  int             `yaml:"replicates" validate:"gte=1"`
	Parallelism int             `yaml:"parallelism" validate:"gte=0"` // 0 runs every replicate at once
	Trace       string          `yaml:"trace" validate:"omitempty,oneof=none reports samples"`
	Streams     []string        `yaml:"streams" validate:"dive,required"`
	Regions     []RegionSpec    `yaml:"regions" validate:"required,min=1,dive"`
	Properties  []ValueSpec     `yaml:"properties" validate:"dive"`
	Attributes  []ValueSpec     `yaml:"attributes" validate:"dive"`
	Population  PopulationSpec  `yaml:"population"`
	Partitions  []PartitionSpec `yaml:"partitions" validate:"dive"`
	Actors      []ActorSpec     `yaml:"actors" validate:"dive"`
}

// RegionSpec declares a region. Weight biases where generated people live.
type RegionSpec struct {
	ID     string  `yaml:"id" validate:"required"`
	Class  string  `yaml:"class"`
	Weight float64 `yaml:"weight" validate:"gte=0"`
}

// ValueSpec declares a person property or attribute.
type ValueSpec struct {
	Name    string `yaml:"name" validate:"required"`
	Type    string `yaml:"type" validate:"required,oneof=int float string bool"`
	Default any    `yaml:"default"`
}

// PopulationSpec describes the initial population.
type PopulationSpec struct {
	Size   int         `yaml:"size" validate:"gte=0"`
	Ranges []RangeSpec `yaml:"ranges" validate:"dive"`
	Seeds  []SeedSpec  `yaml:"seeds" validate:"dive"`
}

// RangeSpec draws an int property uniformly from [Min, Max] for every person.
type RangeSpec struct {
	Property string `yaml:"property" validate:"required"`
	Min      int64  `yaml:"min"`
	Max      int64  `yaml:"max" validate:"gtefield=Min"`
}

// SeedSpec sets a property to Value on Count randomly chosen people.
type SeedSpec struct {
	Property string `yaml:"property" validate:"required"`
	Value    any    `yaml:"value"`
	Count    int    `yaml:"count" validate:"gte=0"`
}

// PartitionSpec registers a partition at the start of every run.
type PartitionSpec struct {
	Key    string      `yaml:"key" validate:"required"`
	Owner  string      `yaml:"owner"`  // defaults to "scenario"
	Filter string      `yaml:"filter"` // empty accepts everyone
	Labels []LabelSpec `yaml:"labels" validate:"dive"`
}

// LabelSpec declares one labeling dimension. Bins turn a numeric property or
// attribute into the index of the interval it falls in.
type LabelSpec struct {
	Source string    `yaml:"source" validate:"required,oneof=property attribute region region-class"`
	Key    string    `yaml:"key" validate:"required_if=Source property,required_if=Source attribute"`
	Bins   []float64 `yaml:"bins"`
}

// ActorSpec configures one built-in actor. Fields a kind does not use are ignored.
type ActorSpec struct {
	Kind         string   `yaml:"kind" validate:"required,oneof=aging births deaths migration vaccination infection reporter"`
	Name         string   `yaml:"name"` // defaults to Kind
	Start        int64    `yaml:"start" validate:"gte=0"`
	Every        int64    `yaml:"every" validate:"gte=0"` // defaults to 1
	Stream       string   `yaml:"stream"`
	Partition    string   `yaml:"partition"`
	Partitions   []string `yaml:"partitions"`
	Property     string   `yaml:"property"`
	Attribute    string   `yaml:"attribute"`
	Count        int      `yaml:"count" validate:"gte=0"`
	Contacts     int      `yaml:"contacts" validate:"gte=0"`
	Transmission float64  `yaml:"transmission" validate:"gte=0,lte=1"`
	Recovery     int64    `yaml:"recovery" validate:"gte=0"`
	Scope        string   `yaml:"scope" validate:"omitempty,oneof=population region region-class"`
}

// LoadSpec reads and parses a YAML scenario file and fills defaults.
// It does not validate; call Validate.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec parses YAML scenario data and fills defaults. Unknown fields
// are rejected so typos fail loudly.
func ParseSpec(data []byte) (*Spec, error) {
	var spec Spec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	spec.applyDefaults()
	return &spec, nil
}

func (s *Spec) applyDefaults() {
	if s.Replicates == 0 {
		s.Replicates = 1
	}
	for i := range s.Regions {
		if s.Regions[i].Weight == 0 {
			s.Regions[i].Weight = 1
		}
	}
	for i := range s.Partitions {
		if s.Partitions[i].Owner == "" {
			s.Partitions[i].Owner = "scenario"
		}
	}
	for i := range s.Actors {
		a := &s.Actors[i]
		if a.Name == "" {
			a.Name = a.Kind
		}
		if a.Every == 0 {
			a.Every = 1
		}
		switch a.Kind {
		case "aging":
			if a.Property == "" {
				a.Property = "age"
			}
		case "infection":
			if a.Property == "" {
				a.Property = "status"
			}
			if a.Contacts == 0 {
				a.Contacts = 1
			}
			if a.Scope == "" {
				a.Scope = "region"
			}
		case "vaccination":
			if a.Attribute == "" {
				a.Attribute = "vaccinated"
			}
		}
	}
}

// Validate checks struct constraints, then builds the scenario's definitions
// in a scratch world and checks every cross reference: streams, property
// types, filter expressions and labelers, and actor partitions.
func (s *Spec) Validate() error {
	if err := specValidate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if !trace.IsValidTraceLevel(s.Trace) {
		return fmt.Errorf("%w: unknown trace level %q", ErrInvalidSpec, s.Trace)
	}

	w := sim.NewWorld(sim.NewEventBus())
	if err := s.define(w); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}

	for _, r := range s.Population.Ranges {
		if err := requireType(w, r.Property, sim.ValueTypeInt); err != nil {
			return fmt.Errorf("%w: population range: %w", ErrInvalidSpec, err)
		}
	}
	for _, seed := range s.Population.Seeds {
		d, ok := w.PropertyDefinition(seed.Property)
		switch {
		case seed.Value == nil:
			return fmt.Errorf("%w: population seed for %q has no value", ErrInvalidSpec, seed.Property)
		case !ok:
			return fmt.Errorf("%w: population seed: %w: %q", ErrInvalidSpec, sim.ErrUnknownProperty, seed.Property)
		case !d.Type.Accepts(coerce(d.Type, seed.Value)):
			return fmt.Errorf("%w: population seed: %v is not %s", ErrInvalidSpec, seed.Value, d.Type)
		}
	}

	keys := make(map[string]bool)
	for _, ps := range s.Partitions {
		if keys[ps.Key] {
			return fmt.Errorf("%w: %w: %q", ErrInvalidSpec, partition.ErrDuplicatePartition, ps.Key)
		}
		keys[ps.Key] = true
		if _, err := ps.build(w); err != nil {
			return fmt.Errorf("%w: partition %q: %w", ErrInvalidSpec, ps.Key, err)
		}
	}

	names := make(map[string]bool)
	for _, a := range s.Actors {
		if names[a.Name] {
			return fmt.Errorf("%w: duplicate actor name %q", ErrInvalidSpec, a.Name)
		}
		names[a.Name] = true
		if err := s.validateActor(w, a, keys); err != nil {
			return fmt.Errorf("%w: actor %q: %w", ErrInvalidSpec, a.Name, err)
		}
	}
	return nil
}

func (s *Spec) validateActor(w *sim.World, a ActorSpec, keys map[string]bool) error {
	if a.Stream != "" && a.Stream != sim.StreamDefault && !slices.Contains(s.Streams, a.Stream) {
		return fmt.Errorf("%w: %q", sim.ErrUnknownRandomStream, a.Stream)
	}
	needsPartition := func() error {
		if !keys[a.Partition] {
			return fmt.Errorf("%w: %q", partition.ErrUnknownPartitionKey, a.Partition)
		}
		return nil
	}
	switch a.Kind {
	case "aging":
		return requireType(w, a.Property, sim.ValueTypeInt)
	case "deaths", "migration":
		return needsPartition()
	case "vaccination":
		if err := needsPartition(); err != nil {
			return err
		}
		d, ok := w.AttributeDefinition(a.Attribute)
		if !ok {
			return fmt.Errorf("%w: %q", sim.ErrUnknownAttribute, a.Attribute)
		}
		if d.Type != sim.ValueTypeBool {
			return fmt.Errorf("%w: attribute %q must be bool", partition.ErrTypeMismatch, a.Attribute)
		}
	case "infection":
		if err := requireType(w, a.Property, sim.ValueTypeString); err != nil {
			return err
		}
		if a.Attribute != "" {
			if _, ok := w.AttributeDefinition(a.Attribute); !ok {
				return fmt.Errorf("%w: %q", sim.ErrUnknownAttribute, a.Attribute)
			}
		}
	case "reporter":
		for _, k := range a.Partitions {
			if !keys[k] {
				return fmt.Errorf("%w: %q", partition.ErrUnknownPartitionKey, k)
			}
		}
	}
	return nil
}

func requireType(w *sim.World, key string, t sim.ValueType) error {
	d, ok := w.PropertyDefinition(key)
	if !ok {
		return fmt.Errorf("%w: %q", sim.ErrUnknownProperty, key)
	}
	if d.Type != t {
		return fmt.Errorf("%w: property %q is %s, want %s", partition.ErrTypeMismatch, key, d.Type, t)
	}
	return nil
}

// define declares the scenario's regions, properties and attributes on w.
func (s *Spec) define(w *sim.World) error {
	for _, r := range s.Regions {
		if err := w.DefineRegion(sim.Region{ID: sim.RegionID(r.ID), Class: r.Class}); err != nil {
			return err
		}
	}
	for _, p := range s.Properties {
		if err := w.DefineProperty(p.Name, p.definition()); err != nil {
			return err
		}
	}
	for _, a := range s.Attributes {
		if err := w.DefineAttribute(a.Name, a.definition()); err != nil {
			return err
		}
	}
	return nil
}

// definition converts the declaration into a sim.Definition, using the type's zero
// value when no default is given. YAML integers in float fields are widened.
func (v ValueSpec) definition() sim.Definition {
	t := sim.ValueType(v.Type)
	def := sim.Normalize(v.Default)
	if def == nil {
		switch t {
		case sim.ValueTypeInt:
			def = int64(0)
		case sim.ValueTypeFloat:
			def = 0.0
		case sim.ValueTypeString:
			def = ""
		case sim.ValueTypeBool:
			def = false
		}
	}
	return sim.Definition{Type: t, Default: coerce(t, def)}
}

// coerce normalizes a YAML scalar for a value of type t. YAML integers
// given for float values are widened.
func coerce(t sim.ValueType, v any) any {
	v = sim.Normalize(v)
	if n, ok := v.(int64); ok && t == sim.ValueTypeFloat {
		return float64(n)
	}
	return v
}

// build compiles the partition spec against pop.
func (ps PartitionSpec) build(pop partition.Population) (*partition.Partition, error) {
	var filter *partition.Filter
	if ps.Filter != "" {
		f, err := ParseFilter(ps.Filter, pop)
		if err != nil {
			return nil, err
		}
		filter = &f
	}
	labelers := make([]partition.Labeler, len(ps.Labels))
	for i, ls := range ps.Labels {
		labelers[i] = ls.labeler()
	}
	return partition.New(pop, filter, labelers...)
}

func (ls LabelSpec) labeler() partition.Labeler {
	var fn func(any) partition.Label
	if len(ls.Bins) > 0 {
		fn = partition.Bins(ls.Bins...)
	}
	switch partition.Source(ls.Source) {
	case partition.SourceAttribute:
		return partition.AttributeLabeler(ls.Key, fn)
	case partition.SourceRegion:
		return partition.RegionLabeler(nil)
	case partition.SourceRegionClass:
		return partition.RegionClassLabeler(nil)
	}
	return partition.PropertyLabeler(ls.Key, fn)
}
