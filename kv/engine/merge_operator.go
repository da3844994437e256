package engine

import (
	"encoding/binary"
)

// MergeOperator combines merge operands into the value of a key.
//
// FullMerge receives the current value (nil when the key does not exist) and the
// operands in the order they were written. Returning false fails the merge.
type MergeOperator interface {
	Name() string
	FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool)
}

// AssociativeMergeOperator is the simpler form where values and operands share a type.
type AssociativeMergeOperator interface {
	Name() string
	Merge(key, existingValue, value []byte) ([]byte, bool)
}

// NewAssociativeMergeOperator lifts an AssociativeMergeOperator into a MergeOperator.
func NewAssociativeMergeOperator(op AssociativeMergeOperator) MergeOperator {
	return associativeAdapter{op}
}

type associativeAdapter struct {
	op AssociativeMergeOperator
}

func (a associativeAdapter) Name() string { return a.op.Name() }

func (a associativeAdapter) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	result := existingValue
	for _, operand := range operands {
		var ok bool
		if result, ok = a.op.Merge(key, result, operand); !ok {
			return nil, false
		}
	}
	return result, true
}

// StringAppendOperator appends operands to the value, separated by Delimiter.
type StringAppendOperator struct {
	Delimiter []byte
}

func (o *StringAppendOperator) Name() string { return "StringAppendOperator" }

func (o *StringAppendOperator) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	size := len(existingValue)
	for _, operand := range operands {
		size += len(o.Delimiter) + len(operand)
	}
	result := make([]byte, 0, size)
	result = append(result, existingValue...)
	for i, operand := range operands {
		if i > 0 || existingValue != nil {
			result = append(result, o.Delimiter...)
		}
		result = append(result, operand...)
	}
	return result, true
}

// UInt64AddOperator treats values as little endian uint64 counters.
type UInt64AddOperator struct{}

func (o *UInt64AddOperator) Name() string { return "UInt64AddOperator" }

func (o *UInt64AddOperator) FullMerge(key, existingValue []byte, operands [][]byte) ([]byte, bool) {
	var sum uint64
	if existingValue != nil {
		if len(existingValue) != 8 {
			return nil, false
		}
		sum = binary.LittleEndian.Uint64(existingValue)
	}
	for _, operand := range operands {
		if len(operand) != 8 {
			return nil, false
		}
		sum += binary.LittleEndian.Uint64(operand)
	}
	return EncodeUint64(sum), true
}

func EncodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func DecodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ApplyMerge runs op against the current value of key. Engines without native
// merge support resolve merges eagerly through it.
func ApplyMerge(op MergeOperator, key, existing, operand []byte) ([]byte, error) {
	if op == nil {
		return nil, ErrMergeNotSupported
	}
	merged, ok := op.FullMerge(key, existing, [][]byte{operand})
	if !ok {
		return nil, mergeFailed(op)
	}
	return merged, nil
}
