package ptype

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// FixedPointType is a Q(Integral.Fractional) fixed-point number packed
// into size_bits bits with one reserved sign bit: Integral+Fractional+1
// <= size_bits. The textual Real-space form is a decimal
// string with exactly Fractional digits after the dot.
type FixedPointType struct {
	Integral   int
	Fractional int
	SizeBits   int // 8, 16 or 32
}

func (t FixedPointType) SizeBytes() int { return t.SizeBits / 8 }
func (FixedPointType) IsScalar() bool { return true }
func (FixedPointType) ArrayLength() int { return 0 }

func (t FixedPointType) bounds() (min, max float64) {
	maxInt := math.Pow(2, float64(t.Integral))
	step := math.Pow(2, float64(-t.Fractional))
	return -maxInt, maxInt - step
}

func (t FixedPointType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	if space == Raw {
		v, err := parseRawSpace(text, t.SizeBits)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "FixedPointType.Parse", err)
		}
		return putRawUnsigned(v, t.SizeBytes(), end), nil
	}

	text = strings.TrimSpace(text)
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, paramerrors.New(paramerrors.ParseError, "FixedPointType.Parse").WithDetail("expected decimal value")
	}

	min, max := t.bounds()
	if v < min || v > max {
		return nil, paramerrors.New(paramerrors.OutOfRange, "FixedPointType.Parse").WithDetail(
			fmt.Sprintf("%v outside [%v,%v]", v, min, max))
	}

	scaled := v * math.Pow(2, float64(t.Fractional))
	raw := int64(math.Round(scaled))
	return putRawUnsigned(uint64(raw)&mask64(t.SizeBits), t.SizeBytes(), end), nil
}

func (t FixedPointType) decodeSigned(raw []byte, end blackboard.Endianness) int64 {
	u := rawUnsigned(raw, t.SizeBytes(), end)
	signBit := uint64(1) << (uint(t.SizeBits) - 1)
	if u&signBit != 0 {
		return int64(u) - int64(signBit<<1)
	}
	return int64(u)
}

func (t FixedPointType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "FixedPointType.Format").WithDetail("wrong footprint")
	}
	if space == Raw {
		return formatRawSpace(rawUnsigned(raw, t.SizeBytes(), end), format), nil
	}
	v := t.decodeSigned(raw, end)
	real := float64(v) / math.Pow(2, float64(t.Fractional))
	return strconv.FormatFloat(real, 'f', t.Fractional, 64), nil
}

func (t FixedPointType) CheckRange(raw []byte, end blackboard.Endianness) error {
	v := t.decodeSigned(raw, end)
	real := float64(v) / math.Pow(2, float64(t.Fractional))
	min, max := t.bounds()
	if real < min || real > max {
		return paramerrors.New(paramerrors.OutOfRange, "FixedPointType.CheckRange")
	}
	return nil
}
