package ptype

import (
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// ArrayType repeats an element descriptor Length times contiguously;
// footprint = Length * element footprint. Length 0 is the scalar case,
// though in practice scalars use the bare element
// descriptor directly and ArrayType is only constructed for Length>=1.
type ArrayType struct {
	Element Descriptor
	Length  int
}

func (t ArrayType) SizeBytes() int { return t.Element.SizeBytes() * t.Length }
func (ArrayType) IsScalar() bool { return false }
func (t ArrayType) ArrayLength() int { return t.Length }

// arraySeparator delimits element textual values within one array's
// combined Real/Raw-space representation.
const arraySeparator = ","

func (t ArrayType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	parts := strings.Split(text, arraySeparator)
	if len(parts) != t.Length {
		return nil, paramerrors.New(paramerrors.ParseError, "ArrayType.Parse").WithDetail("expected " + strconv.Itoa(t.Length) + " elements")
	}
	out := make([]byte, 0, t.SizeBytes())
	for _, p := range parts {
		elemRaw, err := t.Element.Parse(strings.TrimSpace(p), space, end)
		if err != nil {
			return nil, err
		}
		out = append(out, elemRaw...)
	}
	return out, nil
}

func (t ArrayType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	elemSize := t.Element.SizeBytes()
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "ArrayType.Format").WithDetail("wrong footprint")
	}
	parts := make([]string, 0, t.Length)
	for i := 0; i < t.Length; i++ {
		chunk := raw[i*elemSize : (i+1)*elemSize]
		s, err := t.Element.Format(chunk, space, format, end)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, arraySeparator), nil
}
