package handle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paramforge/blackboard"
	"paramforge/ptype"
)

type fakeAccessor struct {
	desc     ptype.Descriptor
	raw      []byte
	end      blackboard.Endianness
	children []string
}

func (f *fakeAccessor) Descriptor(path string) (ptype.Descriptor, error) { return f.desc, nil }
func (f *fakeAccessor) GetRaw(path string) ([]byte, error) { return f.raw, nil }
func (f *fakeAccessor) SetRaw(path string, raw []byte) error {
	f.raw = raw
	return nil
}
func (f *fakeAccessor) Endianness(path string) (blackboard.Endianness, error) { return f.end, nil }
func (f *fakeAccessor) Children(path string) ([]string, error) { return f.children, nil }

func TestBoolRoundTrip(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.BooleanType{}, raw: []byte{0}}
	h := New("/Audio/mute", acc)

	require.NoError(t, h.SetAsBool(true))
	v, err := h.GetAsBool()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestIntRoundTripRawSpace(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.IntegerType{Signed: false, SizeBits: 8}, raw: []byte{0}}
	h := New("/Audio/volume", acc)

	require.NoError(t, h.SetAsInt(200))
	v, err := h.GetAsInt()
	require.NoError(t, err)
	assert.Equal(t, uint64(200), v)
}

func TestSignedIntRoundTrip(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.IntegerType{Signed: true, SizeBits: 8}, raw: []byte{0}}
	h := New("/Audio/gain", acc)

	require.NoError(t, h.SetAsSignedInt(-5))
	v, err := h.GetAsSignedInt()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), v)
}

func TestDoubleRoundTrip(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.FixedPointType{Integral: 2, Fractional: 7, SizeBits: 16}, raw: []byte{0, 0}}
	h := New("/Audio/q", acc)

	require.NoError(t, h.SetAsDouble(1.5))
	v, err := h.GetAsDouble()
	require.NoError(t, err)
	assert.InDelta(t, 1.5, v, 0.01)
}

func TestStringRoundTrip(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.StringType{MaxLength: 8}, raw: make([]byte, 9)}
	h := New("/Audio/label", acc)

	require.NoError(t, h.SetAsString("hello"))
	v, err := h.GetAsString()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestTypeMismatchReportsViolatingKind(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.BooleanType{}, raw: []byte{0}}
	h := New("/Audio/mute", acc)

	_, err := h.GetAsDouble()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixed-point")
}

func TestIntArrayRoundTrip(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.IntegerType{SizeBits: 8}, Length: 3},
		raw:  make([]byte, 3),
	}
	h := New("/Audio/levels", acc)

	require.NoError(t, h.SetAsIntArray([]uint64{1, 2, 3}))
	v, err := h.GetAsIntArray()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, v)
}

func TestBoolArrayRoundTrip(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.BooleanType{}, Length: 3},
		raw:  make([]byte, 3),
	}
	h := New("/Audio/mutes", acc)

	require.NoError(t, h.SetAsBoolArray([]bool{true, false, true}))
	v, err := h.GetAsBoolArray()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, v)
}

func TestSignedIntArrayRoundTrip(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.IntegerType{Signed: true, SizeBits: 8}, Length: 2},
		raw:  make([]byte, 2),
	}
	h := New("/Audio/gains", acc)

	require.NoError(t, h.SetAsSignedIntArray([]int64{-5, 7}))
	v, err := h.GetAsSignedIntArray()
	require.NoError(t, err)
	assert.Equal(t, []int64{-5, 7}, v)
}

func TestDoubleArrayRoundTrip(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.FixedPointType{Integral: 2, Fractional: 7, SizeBits: 16}, Length: 2},
		raw:  make([]byte, 4),
	}
	h := New("/Audio/qs", acc)

	require.NoError(t, h.SetAsDoubleArray([]float64{1.5, -0.25}))
	v, err := h.GetAsDoubleArray()
	require.NoError(t, err)
	require.Len(t, v, 2)
	assert.InDelta(t, 1.5, v[0], 0.01)
	assert.InDelta(t, -0.25, v[1], 0.01)
}

func TestStringArrayRoundTrip(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.StringType{MaxLength: 4}, Length: 2},
		raw:  make([]byte, 10),
	}
	h := New("/Audio/tags", acc)

	require.NoError(t, h.SetAsStringArray([]string{"a,b", "c"}))
	v, err := h.GetAsStringArray()
	require.NoError(t, err)
	assert.Equal(t, []string{"a,b", "c"}, v)
}

func TestArrayAccessorLengthMismatch(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.BooleanType{}, Length: 3},
		raw:  make([]byte, 3),
	}
	h := New("/Audio/mutes", acc)

	err := h.SetAsBoolArray([]bool{true})
	assert.Error(t, err)
}

func TestArrayAccessorElementKindMismatch(t *testing.T) {
	acc := &fakeAccessor{
		desc: ptype.ArrayType{Element: ptype.IntegerType{SizeBits: 8}, Length: 2},
		raw:  make([]byte, 2),
	}
	h := New("/Audio/levels", acc)

	_, err := h.GetAsDoubleArray()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixed-point")
}

func TestXMLRoundTrip(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.IntegerType{Signed: false, SizeBits: 8}, raw: []byte{42}}
	h := New("/Audio/volume", acc)

	doc, err := h.GetAsXML()
	require.NoError(t, err)
	assert.Contains(t, doc, "42")

	require.NoError(t, h.SetAsXML(`<Parameter Name="volume" Value="99"/>`))
	v, err := h.GetAsInt()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)
}

func TestBytesRoundTrip(t *testing.T) {
	acc := &fakeAccessor{desc: ptype.IntegerType{SizeBits: 8}, raw: []byte{1}}
	h := New("/Audio/volume", acc)

	require.NoError(t, h.SetAsBytes([]byte{55}))
	raw, err := h.GetAsBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{55}, raw)

	err = h.SetAsBytes([]byte{1, 2})
	assert.Error(t, err)
}

// fakeTreeAccessor is a multi-path accessor fake for exercising
// GetAsXML/SetAsXML subtree traversal, where fakeAccessor's single
// (desc, raw) pair isn't enough.
type fakeTreeAccessor struct {
	desc     map[string]ptype.Descriptor
	raw      map[string][]byte
	children map[string][]string
}

func (f *fakeTreeAccessor) Descriptor(path string) (ptype.Descriptor, error) { return f.desc[path], nil }
func (f *fakeTreeAccessor) GetRaw(path string) ([]byte, error) { return f.raw[path], nil }
func (f *fakeTreeAccessor) SetRaw(path string, raw []byte) error {
	f.raw[path] = raw
	return nil
}
func (f *fakeTreeAccessor) Endianness(path string) (blackboard.Endianness, error) {
	return blackboard.Little, nil
}
func (f *fakeTreeAccessor) Children(path string) ([]string, error) { return f.children[path], nil }

func TestXMLSubtreeRoundTrip(t *testing.T) {
	acc := &fakeTreeAccessor{
		desc: map[string]ptype.Descriptor{
			"/Audio/left":  ptype.IntegerType{SizeBits: 8},
			"/Audio/right": ptype.IntegerType{SizeBits: 8},
		},
		raw: map[string][]byte{
			"/Audio/left":  {10},
			"/Audio/right": {20},
		},
		children: map[string][]string{
			"/Audio": {"/Audio/left", "/Audio/right"},
		},
	}
	h := New("/Audio", acc)

	doc, err := h.GetAsXML()
	require.NoError(t, err)
	assert.Contains(t, doc, `Name="left" Value="10"`)
	assert.Contains(t, doc, `Name="right" Value="20"`)

	require.NoError(t, h.SetAsXML(`<Parameter Name="Audio"><Parameter Name="left" Value="99"/><Parameter Name="right" Value="42"/></Parameter>`))
	assert.Equal(t, []byte{99}, acc.raw["/Audio/left"])
	assert.Equal(t, []byte{42}, acc.raw["/Audio/right"])
}

func TestBitFieldGetSetAsInt(t *testing.T) {
	block := ptype.BitParameterBlock{SizeBits: 8, Fields: []ptype.BitParameter{
		{Name: "A", Position: 0, Width: 2},
		{Name: "B", Position: 2, Width: 3, Max: 6, HasMax: true},
	}}
	fieldB, _ := block.FieldByName("B")
	acc := &fakeAccessor{desc: ptype.BitFieldType{Block: block, Field: fieldB}, raw: make([]byte, 1)}
	h := New("/Audio/bits/B", acc)

	require.NoError(t, h.SetAsInt(5))
	v, err := h.GetAsInt()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
}
