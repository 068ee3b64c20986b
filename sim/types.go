package sim

import (
	"cmp"
	"fmt"
	"math"
)

// EntityID is a densely-assigned handle for a population member.
// Validity is owned by the World; a removed id is never reissued within a run.
type EntityID uint32

// RegionID identifies a region. Regions are fixed for the lifetime of a run.
type RegionID string

// ValueType is the declared type of a property or attribute.
type ValueType string

const (
	ValueTypeInt    ValueType = "int"
	ValueTypeFloat  ValueType = "float"
	ValueTypeString ValueType = "string"
	ValueTypeBool   ValueType = "bool"
)

// validValueTypes maps accepted value type names.
var validValueTypes = map[ValueType]bool{
	ValueTypeInt:    true,
	ValueTypeFloat:  true,
	ValueTypeString: true,
	ValueTypeBool:   true,
}

// IsValidValueType returns true if the given name is a recognized value type.
func IsValidValueType(name string) bool {
	return validValueTypes[ValueType(name)]
}

// Orderable reports whether values of this type support <, <=, > and >=.
func (t ValueType) Orderable() bool {
	switch t {
	case ValueTypeInt, ValueTypeFloat, ValueTypeString:
		return true
	}
	return false
}

// Accepts reports whether v is a legal value of this type.
// Int values are carried as int64, floats as float64. NaN is not a legal
// float: it never equals itself, so it cannot be indexed or filtered on.
func (t ValueType) Accepts(v any) bool {
	switch x := v.(type) {
	case int64:
		return t == ValueTypeInt
	case float64:
		return t == ValueTypeFloat && !math.IsNaN(x)
	case string:
		return t == ValueTypeString
	case bool:
		return t == ValueTypeBool
	}
	return false
}

// Definition declares a person property or attribute.
type Definition struct {
	Type    ValueType
	Default any
}

// Normalize converts Go numeric literals into the canonical carried form
// (int64 for integers, float64 for floats). Other values pass through.
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Compare orders two values of the same orderable type.
// It returns an error if the values are of different or non-orderable types.
func Compare(a, b any) (int, error) {
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y), nil
		}
	case float64:
		if y, ok := b.(float64); ok {
			return cmp.Compare(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(x, y), nil
		}
	}
	return 0, fmt.Errorf("cannot order %T against %T", a, b)
}
