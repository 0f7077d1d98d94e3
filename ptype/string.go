package ptype

import (
	"bytes"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// StringType is a NUL-terminated string; footprint = MaxLength+1.
// Strings are unaffected by value space.
type StringType struct {
	MaxLength int
}

func (t StringType) SizeBytes() int { return t.MaxLength + 1 }
func (StringType) IsScalar() bool { return true }
func (StringType) ArrayLength() int { return 0 }

func (t StringType) Parse(text string, space ValueSpace, endian blackboard.Endianness) ([]byte, error) {
	if len(text) > t.MaxLength {
		return nil, paramerrors.New(paramerrors.OutOfRange, "StringType.Parse").WithDetail("exceeds max length")
	}
	out := make([]byte, t.SizeBytes())
	copy(out, text)
	return out, nil
}

func (t StringType) Format(raw []byte, space ValueSpace, format OutputFormat, endian blackboard.Endianness) (string, error) {
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "StringType.Format").WithDetail("wrong footprint")
	}
	nul := bytes.IndexByte(raw, 0)
	if nul < 0 {
		nul = len(raw)
	}
	return string(raw[:nul]), nil
}
