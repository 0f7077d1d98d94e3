package ptype

import (
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
)

// ComponentField is one named child of a ComponentType, in declaration
// order.
type ComponentField struct {
	Name string
	Type Descriptor
}

// ComponentType is a named aggregation of child parameters.
// A component may Extend another ComponentType: its own Extends' fields
// come first, followed by Fields declared directly on it. Recursion
// (a component extending or containing itself, directly or through a
// chain) is forbidden and is checked once at construction time via
// ResolveFields, not on every Parse/Format call.
type ComponentType struct {
	Name    string
	Extends *ComponentType
	Fields  []ComponentField

	resolved []ComponentField
}

// ResolveFields walks the Extends chain and returns the component's full
// ordered field list (parent fields first, then own fields), caching the
// result. It fails with InvalidRule-adjacent SchemaError if the chain
// cycles back to a component already visited.
func (t *ComponentType) ResolveFields() ([]ComponentField, error) {
	if t.resolved != nil {
		return t.resolved, nil
	}
	visited := map[*ComponentType]bool{t: true}
	fields, err := resolveChain(t, visited)
	if err != nil {
		return nil, err
	}
	t.resolved = fields
	return fields, nil
}

func resolveChain(t *ComponentType, visited map[*ComponentType]bool) ([]ComponentField, error) {
	var parent []ComponentField
	if t.Extends != nil {
		if visited[t.Extends] {
			return nil, paramerrors.New(paramerrors.SchemaError, "ComponentType.ResolveFields").
				WithPath(t.Name).WithDetail("extends cycle")
		}
		visited[t.Extends] = true
		var err error
		parent, err = resolveChain(t.Extends, visited)
		if err != nil {
			return nil, err
		}
	}
	return append(append([]ComponentField{}, parent...), t.Fields...), nil
}

func (t *ComponentType) SizeBytes() int {
	fields, err := t.ResolveFields()
	if err != nil {
		return 0
	}
	total := 0
	for _, f := range fields {
		total += f.Type.SizeBytes()
	}
	return total
}

func (*ComponentType) IsScalar() bool   { return true }
func (*ComponentType) ArrayLength() int { return 0 }

// componentSeparator delimits child textual values, mirroring
// ArrayType's element separator.
const componentSeparator = ","

func (t *ComponentType) Parse(text string, space ValueSpace, end blackboard.Endianness) ([]byte, error) {
	fields, err := t.ResolveFields()
	if err != nil {
		return nil, err
	}
	parts := strings.Split(text, componentSeparator)
	if len(parts) != len(fields) {
		return nil, paramerrors.New(paramerrors.ParseError, "ComponentType.Parse").
			WithPath(t.Name).WithDetail("expected " + strconv.Itoa(len(fields)) + " fields")
	}
	out := make([]byte, 0, t.SizeBytes())
	for i, f := range fields {
		raw, err := f.Type.Parse(strings.TrimSpace(parts[i]), space, end)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "ComponentType.Parse", err).WithPath(t.Name + "." + f.Name)
		}
		out = append(out, raw...)
	}
	return out, nil
}

func (t *ComponentType) Format(raw []byte, space ValueSpace, format OutputFormat, end blackboard.Endianness) (string, error) {
	fields, err := t.ResolveFields()
	if err != nil {
		return "", err
	}
	if len(raw) != t.SizeBytes() {
		return "", paramerrors.New(paramerrors.TypeMismatch, "ComponentType.Format").WithPath(t.Name).WithDetail("wrong footprint")
	}
	parts := make([]string, 0, len(fields))
	offset := 0
	for _, f := range fields {
		size := f.Type.SizeBytes()
		s, err := f.Type.Format(raw[offset:offset+size], space, format, end)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
		offset += size
	}
	return strings.Join(parts, componentSeparator), nil
}

// FieldOffset returns the byte offset of a named field within the
// component's packed layout, resolving the Extends chain first.
func (t *ComponentType) FieldOffset(name string) (int, ComponentField, error) {
	fields, err := t.ResolveFields()
	if err != nil {
		return 0, ComponentField{}, err
	}
	offset := 0
	for _, f := range fields {
		if f.Name == name {
			return offset, f, nil
		}
		offset += f.Type.SizeBytes()
	}
	return 0, ComponentField{}, paramerrors.New(paramerrors.UnknownPath, "ComponentType.FieldOffset").WithPath(t.Name + "." + name)
}
