// Package ptype implements the typed parameter kind descriptors:
// the tagged variant encoding/decoding layer between
// textual values and packed blackboard bytes.
//
// Each kind is a small struct implementing Descriptor rather than a
// class hierarchy.
package ptype

import (
	"fmt"
	"strconv"
	"strings"

	"paramforge/blackboard"
)

// ValueSpace selects how textual values are interpreted.
type ValueSpace int

const (
	// Real textual form respects the type's own semantics (signed
	// decimal, dotted fixed-point, enum literal, raw string, bit value).
	Real ValueSpace = iota
	// Raw textual form is the packed binary integer, unsigned of the
	// field width, rendered per OutputFormat. Strings are unaffected.
	Raw
)

// OutputFormat selects decimal or hexadecimal rendering in Raw space.
type OutputFormat int

const (
	Decimal OutputFormat = iota
	Hexadecimal
)

// Descriptor is the pure contract every parameter kind implements. end
// selects the byte order of the owning subsystem; kinds
// with no multi-byte concern (booleans, strings) ignore it.
type Descriptor interface {
	SizeBytes() int
	IsScalar() bool
	ArrayLength() int
	Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error)
	Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error)
}

// RangeChecker is implemented by kinds with a semantic min/max.
type RangeChecker interface {
	CheckRange(raw []byte, end blackboard.Endianness) error
}

// rawUnsigned decodes size bytes of raw as an unsigned integer per end,
// using the same blackboard primitives that back the live parameter
// tree so the two never disagree on byte order.
func rawUnsigned(raw []byte, size int, end blackboard.Endianness) uint64 {
	return blackboard.FromBytes(raw[:size]).ReadBits(end, 0, size)
}

func putRawUnsigned(v uint64, size int, end blackboard.Endianness) []byte {
	b := blackboard.New(size)
	b.WriteBits(end, 0, size, v)
	return b.Bytes()
}

func formatRawSpace(v uint64, format OutputFormat) string {
	if format == Hexadecimal {
		return fmt.Sprintf("0x%X", v)
	}
	return strconv.FormatUint(v, 10)
}

func parseRawSpace(text string, bits int) (uint64, error) {
	t := strings.TrimSpace(text)
	base := 10
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		base = 16
		t = t[2:]
	}
	v, err := strconv.ParseUint(t, base, bits)
	if err != nil {
		return 0, err
	}
	return v, nil
}
