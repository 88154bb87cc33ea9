package heap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// FieldType is the declared type of the compared field slice.
type FieldType uint8

const (
	IntField FieldType = iota
	FloatField
	StringField
)

// CompareOp is the comparison applied between the field and the literal.
type CompareOp uint8

const (
	LT CompareOp = iota
	LTE
	EQ
	GTE
	GT
	NE
)

const (
	intFieldSize   = int(unsafe.Sizeof(int32(0)))
	floatFieldSize = int(unsafe.Sizeof(float32(0)))
)

// filter is a validated scan predicate. The literal is decoded once at
// StartScan time, so ill-formed literals fail at scan start rather than
// on every record.
type filter struct {
	offset int
	length int
	typ    FieldType
	op     CompareOp

	intVal   int32
	floatVal float32
	strVal   []byte
}

func newFilter(offset, length int, typ FieldType, value []byte, op CompareOp) (*filter, error) {
	if offset < 0 || length < 1 {
		return nil, fmt.Errorf("%w: offset %d, length %d", ErrBadScanParam, offset, length)
	}
	if typ != IntField && typ != FloatField && typ != StringField {
		return nil, fmt.Errorf("%w: unknown field type %d", ErrBadScanParam, typ)
	}
	if typ == IntField && length != intFieldSize ||
		typ == FloatField && length != floatFieldSize {
		return nil, fmt.Errorf("%w: length %d does not match field type", ErrBadScanParam, length)
	}
	if op > NE {
		return nil, fmt.Errorf("%w: unknown operator %d", ErrBadScanParam, op)
	}
	if len(value) != length {
		return nil, fmt.Errorf("%w: literal is %d bytes, want %d", ErrBadScanParam, len(value), length)
	}

	f := &filter{
		offset: offset,
		length: length,
		typ:    typ,
		op:     op,
	}

	switch typ {
	case IntField:
		f.intVal = int32(binary.NativeEndian.Uint32(value))
	case FloatField:
		f.floatVal = math.Float32frombits(binary.NativeEndian.Uint32(value))
	case StringField:
		f.strVal = bytes.Clone(value)
	}

	return f, nil
}

// matches reports whether rec satisfies the predicate. A record too short
// to contain the compared field is a non-match, not an error.
func (f *filter) matches(rec []byte) bool {
	if f == nil {
		return true
	}

	if f.offset+f.length > len(rec) {
		return false
	}

	field := rec[f.offset : f.offset+f.length]

	var sign int
	switch f.typ {
	case IntField:
		sign = cmp(int32(binary.NativeEndian.Uint32(field)), f.intVal)
	case FloatField:
		sign = cmp(math.Float32frombits(binary.NativeEndian.Uint32(field)), f.floatVal)
	case StringField:
		sign = bytes.Compare(field, f.strVal)
	}

	switch f.op {
	case LT:
		return sign < 0
	case LTE:
		return sign <= 0
	case EQ:
		return sign == 0
	case GTE:
		return sign >= 0
	case GT:
		return sign > 0
	case NE:
		return sign != 0
	}

	return false
}

func cmp[T int32 | float32](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
