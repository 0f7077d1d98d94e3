package ptype

import (
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// IntegerType is a signed or unsigned integer of 8/16/32 bits, optionally
// range-checked and optionally wrapped by an Adaptation.
type IntegerType struct {
	Signed     bool
	SizeBits   int // 8, 16 or 32
	Min, Max   int64
	HasRange   bool
	Adaptation Adaptation // optional, nil if none
}

func (t IntegerType) SizeBytes() int { return t.SizeBits / 8 }
func (IntegerType) IsScalar() bool { return true }
func (IntegerType) ArrayLength() int { return 0 }

func (t IntegerType) minMax() (int64, int64) {
	if t.HasRange {
		return t.Min, t.Max
	}
	if t.Signed {
		max := int64(1)<<(uint(t.SizeBits)-1) - 1
		min := -(max + 1)
		return min, max
	}
	return 0, int64(uint64(1)<<uint(t.SizeBits) - 1)
}

func (t IntegerType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	if space == Raw {
		v, err := parseRawSpace(text, t.SizeBits)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "IntegerType.Parse", err)
		}
		return putRawUnsigned(v, t.SizeBytes(), end), nil
	}

	text = strings.TrimSpace(text)
	if t.Adaptation != nil {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "IntegerType.Parse", err)
		}
		raw := t.Adaptation.ToRaw(f)
		return t.packSigned(raw, end)
	}

	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.ParseError, "IntegerType.Parse", err)
	}
	return t.packSigned(v, end)
}

func (t IntegerType) packSigned(v int64, end blackboard.Endianness) ([]byte, error) {
	min, max := t.minMax()
	if v < min || v > max {
		return nil, paramerrors.New(paramerrors.OutOfRange, "IntegerType.Parse").WithDetail(
			"value " + strconv.FormatInt(v, 10) + " outside [" + strconv.FormatInt(min, 10) + "," + strconv.FormatInt(max, 10) + "]")
	}
	return putRawUnsigned(uint64(v)&mask64(t.SizeBits), t.SizeBytes(), end), nil
}

func mask64(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(bits)) - 1
}

func (t IntegerType) decodeSigned(raw []byte, end blackboard.Endianness) int64 {
	u := rawUnsigned(raw, t.SizeBytes(), end)
	if !t.Signed {
		return int64(u)
	}
	signBit := uint64(1) << (uint(t.SizeBits) - 1)
	if u&signBit != 0 {
		return int64(u) - int64(signBit<<1)
	}
	return int64(u)
}

func (t IntegerType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "IntegerType.Format").WithDetail("wrong footprint")
	}
	if space == Raw {
		return formatRawSpace(rawUnsigned(raw, t.SizeBytes(), end), format), nil
	}
	v := t.decodeSigned(raw, end)
	if t.Adaptation != nil {
		return strconv.FormatFloat(t.Adaptation.FromRaw(v), 'f', -1, 64), nil
	}
	return strconv.FormatInt(v, 10), nil
}

func (t IntegerType) CheckRange(raw []byte, end blackboard.Endianness) error {
	v := t.decodeSigned(raw, end)
	min, max := t.minMax()
	if v < min || v > max {
		return paramerrors.New(paramerrors.OutOfRange, "IntegerType.CheckRange")
	}
	return nil
}
