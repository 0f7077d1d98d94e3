package ptype

import (
	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// BitParameter is one named field within a BitParameterBlock: position
// and width in bits within the containing block, with an optional max
//; position+width <= block size_bits and max <= 2^width-1.
type BitParameter struct {
	Name     string
	Position int
	Width    int
	Max      uint64
	HasMax   bool
}

func (bp BitParameter) effectiveMax() uint64 {
	if bp.HasMax {
		return bp.Max
	}
	return mask64(bp.Width)
}

// BitParameterBlock is a fixed-width word (8/16/32/64 bits) containing an
// ordered set of BitParameters. The block itself is a
// Descriptor (its footprint is the whole word); individual fields are
// addressed through BitFieldType, used by handle-level accessors.
type BitParameterBlock struct {
	SizeBits int
	Fields   []BitParameter
}

func (t BitParameterBlock) SizeBytes() int { return t.SizeBits / 8 }
func (BitParameterBlock) IsScalar() bool { return true }
func (BitParameterBlock) ArrayLength() int { return 0 }

func (t BitParameterBlock) FieldByName(name string) (BitParameter, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return BitParameter{}, false
}

// Parse/Format at the block level operate in Raw space only: the whole
// word as an unsigned integer. Per-field textual access goes through
// BitFieldType below, which is what the XML settings binder and the
// handle API use for BitParameter leaves.
func (t BitParameterBlock) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	v, err := parseRawSpace(text, t.SizeBits)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.ParseError, "BitParameterBlock.Parse", err)
	}
	return putRawUnsigned(v, t.SizeBytes(), end), nil
}

func (t BitParameterBlock) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "BitParameterBlock.Format").WithDetail("wrong footprint")
	}
	return formatRawSpace(rawUnsigned(raw, t.SizeBytes(), end), format), nil
}

// FieldDescriptor adapts one BitParameter of a block into value-level
// parse/format helpers: its textual form is the field's own decimal
// value (the Real-space "human value" of a bit
// parameter). It never owns byte storage directly: encode/decode
// happens against the containing block's word via
// Blackboard.Read/WriteBitField, which is why it returns a bare uint64
// rather than a byte slice like the other descriptors.
type FieldDescriptor struct {
	Block BitParameterBlock
	Field BitParameter
}

// ParseValue validates and returns the field's raw numeric value.
func (f FieldDescriptor) ParseValue(text string) (uint64, error) {
	v, err := parseRawSpace(text, f.Field.Width)
	if err != nil {
		return 0, paramerrors.Wrap(paramerrors.ParseError, "FieldDescriptor.ParseValue", err)
	}
	if v > f.Field.effectiveMax() {
		return 0, paramerrors.New(paramerrors.OutOfRange, "FieldDescriptor.ParseValue").WithDetail("exceeds field max")
	}
	return v, nil
}

// FormatValue renders a field's raw numeric value per format.
func (f FieldDescriptor) FormatValue(v uint64, format OutputFormat) string {
	return formatRawSpace(v, format)
}

// BitFieldType addresses a single BitParameter of a BitParameterBlock as
// an independent Descriptor sharing the block's byte footprint. Parse
// encodes the field's value shifted into position against a zero word;
// Format decodes the field out of a full block word. Callers merge the
// field into the live block via Blackboard.WriteBitField rather than
// overwriting the block's other fields.
type BitFieldType struct {
	Block BitParameterBlock
	Field BitParameter
}

func (t BitFieldType) SizeBytes() int { return t.Block.SizeBytes() }
func (BitFieldType) IsScalar() bool { return true }
func (BitFieldType) ArrayLength() int { return 0 }

func (t BitFieldType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	v, err := parseRawSpace(text, t.Field.Width)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.ParseError, "BitFieldType.Parse", err)
	}
	if v > t.Field.effectiveMax() {
		return nil, paramerrors.New(paramerrors.OutOfRange, "BitFieldType.Parse").WithDetail("exceeds field max")
	}
	b := blackboard.New(t.Block.SizeBytes())
	b.WriteBitField(end, 0, t.Block.SizeBytes(), t.Field.Position, t.Field.Width, v)
	return b.Bytes(), nil
}

func (t BitFieldType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	if len(raw) != t.Block.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "BitFieldType.Format").WithDetail("wrong footprint")
	}
	v := blackboard.FromBytes(raw).ReadBitField(end, 0, t.Block.SizeBytes(), t.Field.Position, t.Field.Width)
	return formatRawSpace(v, format), nil
}

func (t BitFieldType) CheckRange(raw []byte, end blackboard.Endianness) error {
	v := blackboard.FromBytes(raw).ReadBitField(end, 0, t.Block.SizeBytes(), t.Field.Position, t.Field.Width)
	if v > t.Field.effectiveMax() {
		return paramerrors.New(paramerrors.OutOfRange, "BitFieldType.CheckRange")
	}
	return nil
}
