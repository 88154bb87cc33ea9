package heap

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intLit(v int32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, uint32(v))
	return b
}

func floatLit(v float32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func TestNewFilterValidation(t *testing.T) {
	tests := []struct {
		name   string
		offset int
		length int
		typ    FieldType
		value  []byte
		op     CompareOp
	}{
		{"negative offset", -1, 4, IntField, intLit(0), EQ},
		{"zero length", 0, 0, IntField, nil, EQ},
		{"int wrong width", 0, 8, IntField, make([]byte, 8), EQ},
		{"float wrong width", 0, 2, FloatField, make([]byte, 2), EQ},
		{"unknown type", 0, 4, FieldType(7), intLit(0), EQ},
		{"unknown op", 0, 4, IntField, intLit(0), CompareOp(7)},
		{"literal too short", 0, 4, IntField, make([]byte, 2), EQ},
		{"literal too long", 0, 3, StringField, []byte("abcd"), EQ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newFilter(tt.offset, tt.length, tt.typ, tt.value, tt.op)
			assert.ErrorIs(t, err, ErrBadScanParam)
		})
	}
}

func TestIntFilterOps(t *testing.T) {
	tests := []struct {
		op    CompareOp
		below bool
		equal bool
		above bool
	}{
		{LT, true, false, false},
		{LTE, true, true, false},
		{EQ, false, true, false},
		{GTE, false, true, true},
		{GT, false, false, true},
		{NE, true, false, true},
	}

	for _, tt := range tests {
		f, err := newFilter(0, 4, IntField, intLit(10), tt.op)
		require.NoError(t, err)

		assert.Equal(t, tt.below, f.matches(intLit(-5)), "op %d below", tt.op)
		assert.Equal(t, tt.equal, f.matches(intLit(10)), "op %d equal", tt.op)
		assert.Equal(t, tt.above, f.matches(intLit(1000)), "op %d above", tt.op)
	}
}

func TestFloatFilter(t *testing.T) {
	f, err := newFilter(0, 4, FloatField, floatLit(2.5), LT)
	require.NoError(t, err)

	assert.True(t, f.matches(floatLit(-1.0)))
	assert.True(t, f.matches(floatLit(2.25)))
	assert.False(t, f.matches(floatLit(2.5)))
	assert.False(t, f.matches(floatLit(3.0)))
}

func TestStringFilter(t *testing.T) {
	f, err := newFilter(0, 3, StringField, []byte("bbb"), GTE)
	require.NoError(t, err)

	assert.False(t, f.matches([]byte("aaa")))
	assert.True(t, f.matches([]byte("bbb")))
	assert.True(t, f.matches([]byte("bbc")))
}

func TestFilterFieldOffset(t *testing.T) {
	f, err := newFilter(3, 4, IntField, intLit(7), EQ)
	require.NoError(t, err)

	rec := make([]byte, 10)
	copy(rec[3:], intLit(7))
	assert.True(t, f.matches(rec))

	copy(rec[3:], intLit(8))
	assert.False(t, f.matches(rec))
}

func TestFilterShortRecordIsNonMatch(t *testing.T) {
	f, err := newFilter(4, 4, IntField, intLit(0), NE)
	require.NoError(t, err)

	// the field would straddle the record's end
	assert.False(t, f.matches(make([]byte, 7)))
	assert.False(t, f.matches(nil))
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *filter

	assert.True(t, f.matches(nil))
	assert.True(t, f.matches([]byte{1, 2, 3}))
}

func TestFilterLiteralIsCopied(t *testing.T) {
	lit := []byte("abc")
	f, err := newFilter(0, 3, StringField, lit, EQ)
	require.NoError(t, err)

	lit[0] = 'z'
	assert.True(t, f.matches([]byte("abc")))
}
