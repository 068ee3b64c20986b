package partition

import (
	"errors"

	"github.com/inference-sim/population-sim/sim"
)

// Definitional errors, reported when a filter is validated or a partition
// is constructed or registered.
var (
	ErrNullKey            = errors.New("partition key is empty")
	ErrNullOwner          = errors.New("partition owner is empty")
	ErrNullPartition      = errors.New("partition is nil")
	ErrDuplicatePartition = errors.New("partition key already registered")
	ErrPartitionInUse     = errors.New("partition already registered under another key")
	ErrDuplicateDimension = errors.New("two labelers share a dimension")
	ErrUnknownKey         = errors.New("unknown key")
	ErrTypeMismatch       = errors.New("operand type does not match key type")
	ErrNonOrderable       = errors.New("ordering comparison on non-orderable type")
	ErrMalformedFilter    = errors.New("malformed filter")
	ErrInvalidLabel       = errors.New("label is NaN or not comparable")
)

// Query errors, reported by the operation that received the bad argument.
var (
	ErrUnknownPartitionKey   = errors.New("unknown partition key")
	ErrIncompatibleLabelSet  = errors.New("label set references a dimension not in the partition")
	ErrUnknownExcludedEntity = errors.New("unknown excluded entity")
	ErrUnknownRandomStream   = sim.ErrUnknownRandomStream
	ErrUnknownEntity         = sim.ErrUnknownEntity
)
