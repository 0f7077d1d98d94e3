package ptype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

func TestBooleanRoundTrip(t *testing.T) {
	bt := BooleanType{}
	raw, err := bt.Parse("true", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, raw)

	s, err := bt.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "true", s)
}

func TestIntegerSignedRange(t *testing.T) {
	it := IntegerType{Signed: true, SizeBits: 8}
	raw, err := it.Parse("-1", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, raw)

	s, err := it.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "-1", s)

	_, err = it.Parse("128", Real, blackboard.Little)
	assert.True(t, paramerrors.Of(err, paramerrors.OutOfRange))
}

func TestIntegerBigEndianRoundTrip(t *testing.T) {
	it := IntegerType{Signed: false, SizeBits: 16}
	raw, err := it.Parse("1", Real, blackboard.Big)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, raw)

	little, err := it.Parse("1", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00}, little)

	s, err := it.Format(raw, Real, Decimal, blackboard.Big)
	require.NoError(t, err)
	assert.Equal(t, "1", s)
}

func TestFixedPointQ2_7(t *testing.T) {
	ft := FixedPointType{Integral: 2, Fractional: 7, SizeBits: 16}

	raw, err := ft.Parse("3.9921875", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0x01}, raw)

	raw, err = ft.Parse("-4.0000000", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xFE}, raw)

	_, err = ft.Parse("4.0", Real, blackboard.Little)
	assert.True(t, paramerrors.Of(err, paramerrors.OutOfRange))
}

func TestEnumRoundTrip(t *testing.T) {
	et := EnumType{SizeBits: 8, Pairs: []EnumPair{
		{Literal: "Off", Numeric: 0},
		{Literal: "On", Numeric: 1},
	}}
	raw, err := et.Parse("On", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, raw)

	s, err := et.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "On", s)

	_, err = et.Parse("Unknown", Real, blackboard.Little)
	assert.True(t, paramerrors.Of(err, paramerrors.ParseError))
}

func TestEnumNegativeNumericRoundTrip(t *testing.T) {
	et := EnumType{SizeBits: 8, Pairs: []EnumPair{
		{Literal: "Muted", Numeric: -1},
		{Literal: "Line", Numeric: 1},
	}}
	raw, err := et.Parse("Muted", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, raw)

	s, err := et.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "Muted", s)
}

func TestStringNulPadding(t *testing.T) {
	st := StringType{MaxLength: 4}
	raw, err := st.Parse("ab", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 0}, raw)

	s, err := st.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "ab", s)
}

func TestArrayOfIntegers(t *testing.T) {
	at := ArrayType{Element: IntegerType{Signed: false, SizeBits: 8}, Length: 3}
	raw, err := at.Parse("1,2,3", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)

	s, err := at.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", s)

	_, err = at.Parse("1,2", Real, blackboard.Little)
	assert.True(t, paramerrors.Of(err, paramerrors.ParseError))
}

func TestComponentSingleInheritance(t *testing.T) {
	base := &ComponentType{
		Name: "Base",
		Fields: []ComponentField{
			{Name: "flag", Type: BooleanType{}},
		},
	}
	derived := &ComponentType{
		Name:    "Derived",
		Extends: base,
		Fields: []ComponentField{
			{Name: "level", Type: IntegerType{SizeBits: 8}},
		},
	}

	fields, err := derived.ResolveFields()
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "flag", fields[0].Name)
	assert.Equal(t, "level", fields[1].Name)

	raw, err := derived.Parse("true,5", Real, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 5}, raw)

	s, err := derived.Format(raw, Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "true,5", s)

	off, field, err := derived.FieldOffset("level")
	require.NoError(t, err)
	assert.Equal(t, 1, off)
	assert.Equal(t, "level", field.Name)
}

func TestComponentExtendsCycleRejected(t *testing.T) {
	a := &ComponentType{Name: "A"}
	b := &ComponentType{Name: "B", Extends: a}
	a.Extends = b

	_, err := a.ResolveFields()
	assert.True(t, paramerrors.Of(err, paramerrors.SchemaError))
}

func TestBitParameterBlockFieldMerge(t *testing.T) {
	block := BitParameterBlock{SizeBits: 16, Fields: []BitParameter{
		{Name: "A", Position: 0, Width: 2},
		{Name: "B", Position: 3, Width: 3, Max: 6, HasMax: true},
	}}
	fieldB, ok := block.FieldByName("B")
	require.True(t, ok)

	fd := FieldDescriptor{Block: block, Field: fieldB}
	v, err := fd.ParseValue("6")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), v)

	_, err = fd.ParseValue("7")
	assert.True(t, paramerrors.Of(err, paramerrors.OutOfRange))

	assert.Equal(t, "6", fd.FormatValue(6, Decimal))
}

func TestBitFieldTypeRoundTrip(t *testing.T) {
	block := BitParameterBlock{SizeBits: 16, Fields: []BitParameter{
		{Name: "A", Position: 1, Width: 2, Max: 2, HasMax: true},
		{Name: "B", Position: 3, Width: 3, Max: 6, HasMax: true},
	}}
	fieldA, ok := block.FieldByName("A")
	require.True(t, ok)
	fieldB, ok := block.FieldByName("B")
	require.True(t, ok)

	bType := BitFieldType{Block: block, Field: fieldB}
	bRaw, err := bType.Parse("5", Real, blackboard.Little)
	require.NoError(t, err)

	aType := BitFieldType{Block: block, Field: fieldA}
	aRaw, err := aType.Parse("2", Real, blackboard.Little)
	require.NoError(t, err)

	word := blackboard.FromBytes(bRaw).ReadBits(blackboard.Little, 0, block.SizeBytes())
	merged := blackboard.New(block.SizeBytes())
	merged.WriteBits(blackboard.Little, 0, block.SizeBytes(), word)
	merged.WriteBitField(blackboard.Little, 0, block.SizeBytes(), fieldA.Position, fieldA.Width,
		blackboard.FromBytes(aRaw).ReadBitField(blackboard.Little, 0, block.SizeBytes(), fieldA.Position, fieldA.Width))

	assert.Equal(t, byte(0x2C), merged.Bytes()[0])

	s, err := bType.Format(merged.Bytes(), Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "5", s)

	sa, err := aType.Format(merged.Bytes(), Real, Decimal, blackboard.Little)
	require.NoError(t, err)
	assert.Equal(t, "2", sa)
}
