package ptype

import (
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// BooleanType is the 1-byte boolean kind; textual values 0/1 and
// true/false.
type BooleanType struct{}

func (BooleanType) SizeBytes() int { return 1 }
func (BooleanType) IsScalar() bool { return true }
func (BooleanType) ArrayLength() int { return 0 }

func (t BooleanType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	if space == Raw {
		v, err := parseRawSpace(text, 8)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "BooleanType.Parse", err)
		}
		if v > 1 {
			return nil, paramerrors.New(paramerrors.OutOfRange, "BooleanType.Parse").WithDetail("boolean raw value must be 0 or 1")
		}
		return []byte{byte(v)}, nil
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "0", "false":
		return []byte{0}, nil
	case "1", "true":
		return []byte{1}, nil
	default:
		return nil, paramerrors.New(paramerrors.ParseError, "BooleanType.Parse").WithDetail("expected 0/1 or true/false")
	}
}

func (t BooleanType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	if len(raw) != 1 {
		return "", paramerrors.New(paramerrors.TypeMismatch, "BooleanType.Format").WithDetail("expected 1 byte")
	}
	if space == Raw {
		return formatRawSpace(uint64(raw[0]), format), nil
	}
	if raw[0] == 0 {
		return "false", nil
	}
	return "true", nil
}
