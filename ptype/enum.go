package ptype

import (
	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// EnumType maps textual literals to numeric values, packed into
// size_bits; textual Real-space form is the literal, Raw is the
// numeric.
type EnumType struct {
	SizeBits int
	// Pairs preserves declaration order for deterministic export.
	Pairs []EnumPair
}

// EnumPair is one <ValuePair Literal Numerical> entry.
type EnumPair struct {
	Literal string
	Numeric int64
}

func (t EnumType) SizeBytes() int { return t.SizeBits / 8 }
func (EnumType) IsScalar() bool { return true }
func (EnumType) ArrayLength() int { return 0 }

func (t EnumType) byLiteral(lit string) (int64, bool) {
	for _, p := range t.Pairs {
		if p.Literal == lit {
			return p.Numeric, true
		}
	}
	return 0, false
}

// literalFor resolves a packed word back to its literal. Each pair's
// numeric is masked to the field width before comparing, so a negative
// Numerical declaration (stored two's-complement) matches its own
// encoding on decode.
func (t EnumType) literalFor(v uint64) (string, bool) {
	for _, p := range t.Pairs {
		if uint64(p.Numeric)&mask64(t.SizeBits) == v {
			return p.Literal, true
		}
	}
	return "", false
}

func (t EnumType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	if space == Raw {
		v, err := parseRawSpace(text, t.SizeBits)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "EnumType.Parse", err)
		}
		return putRawUnsigned(v, t.SizeBytes(), end), nil
	}
	n, ok := t.byLiteral(text)
	if !ok {
		return nil, paramerrors.New(paramerrors.ParseError, "EnumType.Parse").WithDetail("unknown literal " + text)
	}
	return putRawUnsigned(uint64(n)&mask64(t.SizeBits), t.SizeBytes(), end), nil
}

func (t EnumType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "EnumType.Format").WithDetail("wrong footprint")
	}
	v := rawUnsigned(raw, t.SizeBytes(), end)
	if space == Raw {
		return formatRawSpace(v, format), nil
	}
	lit, ok := t.literalFor(v)
	if !ok {
		return "", paramerrors.New(paramerrors.ParseError, "EnumType.Format").WithDetail("unknown numeric value")
	}
	return lit, nil
}
