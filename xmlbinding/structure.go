package xmlbinding

import (
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
	"paramforge/ptype"
	"paramforge/structure"
)

func attr(e rawElement, name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrInt(e rawElement, name string, def int) (int, error) {
	v, ok := attr(e, name)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.attrInt", err).WithPath(name)
	}
	return n, nil
}

func children(e rawElement) ([]rawElement, error) {
	wrapped := "<root>" + string(e.Inner) + "</root>"
	var holder struct {
		Body elementBody `xml:",any"`
	}
	if err := xml.Unmarshal([]byte(wrapped), &holder); err != nil {
		return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.children", err)
	}
	return holder.Body, nil
}

// componentTypeRegistry resolves ComponentType declarations by name
// while LoadStructure is still building the tree, letting Extends
// references and <Component Type=...> instances resolve forward or
// backward within one ComponentLibrary.
type componentTypeRegistry struct {
	byName map[string]*ptype.ComponentType
}

// LoadStructure parses a structure XML document into a built
// structure.Tree.
func LoadStructure(r io.Reader) (*structure.Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.LoadStructure", err)
	}
	var doc systemClassXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.LoadStructure", err)
	}

	builder := structure.NewBuilder()
	for _, subXML := range doc.Subsystems {
		endian := blackboard.Little
		if strings.EqualFold(subXML.Endianness, "Big") {
			endian = blackboard.Big
		}
		sub := &structure.Subsystem{
			Name:       subXML.Name,
			Type:       subXML.Type,
			Endianness: endian,
			Mapping:    parseMapping(subXML.Mapping),
		}

		reg := &componentTypeRegistry{byName: make(map[string]*ptype.ComponentType)}
		libItems, err := xmlListFromLib(subXML.ComponentLibrary)
		if err != nil {
			return nil, err
		}
		for _, item := range libItems {
			if item.XMLName.Local != "ComponentType" {
				continue
			}
			name, _ := attr(item, "Name")
			reg.byName[name] = &ptype.ComponentType{Name: name}
		}
		for _, item := range libItems {
			if item.XMLName.Local != "ComponentType" {
				continue
			}
			name, _ := attr(item, "Name")
			ct := reg.byName[name]
			if extends, ok := attr(item, "Extends"); ok && extends != "" {
				parent, ok := reg.byName[extends]
				if !ok {
					return nil, paramerrors.New(paramerrors.SchemaError, "xmlbinding.LoadStructure").WithPath(name).WithDetail("extends unknown component type " + extends)
				}
				ct.Extends = parent
			}
			kids, err := children(item)
			if err != nil {
				return nil, err
			}
			fields, err := parseParameterFields(kids, reg)
			if err != nil {
				return nil, err
			}
			ct.Fields = fields
		}

		instanceItems, err := children(rawElement{Inner: instanceDefInner(subXML)})
		if err != nil {
			return nil, err
		}

		var buildErr error
		_, err = builder.AddSubsystem(sub, sub.Name, nil, func(root *structure.Instance) []*structure.Instance {
			var kids []*structure.Instance
			kids, buildErr = buildInstances(instanceItems, reg)
			return kids
		})
		if buildErr != nil {
			return nil, buildErr
		}
		if err != nil {
			return nil, err
		}
	}
	return builder.Build(), nil
}

// instanceDefInner re-serializes InstanceDefinition's captured body so
// it can go through the same children() helper as any other element;
// the struct field already holds an elementBody, so this just
// re-marshals its elements back to raw bytes.
func instanceDefInner(sub subsystemXML) []byte {
	var b []byte
	for _, item := range sub.InstanceDefinition.Body {
		b = append(b, []byte("<"+item.XMLName.Local)...)
		for _, a := range item.Attrs {
			b = append(b, []byte(" "+a.Name.Local+"=\""+a.Value+"\"")...)
		}
		b = append(b, '>')
		b = append(b, item.Inner...)
		b = append(b, []byte("</"+item.XMLName.Local+">")...)
	}
	return b
}

func xmlListFromLib(lib componentLibXML) ([]rawElement, error) {
	var b []byte
	for _, ct := range lib.ComponentTypes {
		b = append(b, []byte("<ComponentType")...)
		b = append(b, []byte(" Name=\""+ct.Name+"\"")...)
		if ct.Extends != "" {
			b = append(b, []byte(" Extends=\""+ct.Extends+"\"")...)
		}
		b = append(b, '>')
		b = append(b, ct.Body.marshalItems()...)
		b = append(b, []byte("</ComponentType>")...)
	}
	return children(rawElement{Inner: b})
}

func (body elementBody) marshalItems() []byte {
	var b []byte
	for _, item := range body {
		b = append(b, []byte("<"+item.XMLName.Local)...)
		for _, a := range item.Attrs {
			b = append(b, []byte(" "+a.Name.Local+"=\""+a.Value+"\"")...)
		}
		b = append(b, '>')
		b = append(b, item.Inner...)
		b = append(b, []byte("</"+item.XMLName.Local+">")...)
	}
	return b
}

func parseMapping(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// parseParameterFields converts a ComponentType body's sequence of raw
// parameter elements into ComponentFields. Top-level InstanceDefinition
// children go through buildInstances instead; a Component or
// ParameterBlock element inside a ComponentType body is rejected as an
// unknown element.
func parseParameterFields(items []rawElement, reg *componentTypeRegistry) ([]ptype.ComponentField, error) {
	fields := make([]ptype.ComponentField, 0, len(items))
	for _, item := range items {
		name, _ := attr(item, "Name")
		desc, err := parseParameterElement(item, reg)
		if err != nil {
			return nil, err
		}
		fields = append(fields, ptype.ComponentField{Name: name, Type: desc})
	}
	return fields, nil
}

// buildInstances converts top-level InstanceDefinition children into
// structure.Instance nodes, recursing into Component/ParameterBlock
// bodies.
func buildInstances(items []rawElement, reg *componentTypeRegistry) ([]*structure.Instance, error) {
	out := make([]*structure.Instance, 0, len(items))
	for _, item := range items {
		name, _ := attr(item, "Name")
		in := &structure.Instance{Name: name}
		switch item.XMLName.Local {
		case "Component", "ParameterBlock":
			kids, err := children(item)
			if err != nil {
				return nil, err
			}
			if item.XMLName.Local == "Component" {
				typeName, _ := attr(item, "Type")
				ct, ok := reg.byName[typeName]
				if !ok {
					return nil, paramerrors.New(paramerrors.SchemaError, "xmlbinding.buildInstances").WithPath(name).WithDetail("unknown component type " + typeName)
				}
				resolved, err := ct.ResolveFields()
				if err != nil {
					return nil, err
				}
				in.Children = fieldsToInstances(resolved)
			} else {
				childInstances, err := buildInstances(kids, reg)
				if err != nil {
					return nil, err
				}
				in.Children = childInstances
			}
		default:
			desc, err := parseParameterElement(item, reg)
			if err != nil {
				return nil, err
			}
			in.Type = desc
			attachBitFields(in)
		}
		out = append(out, in)
	}
	return out, nil
}

func fieldsToInstances(fields []ptype.ComponentField) []*structure.Instance {
	out := make([]*structure.Instance, 0, len(fields))
	for _, f := range fields {
		in := &structure.Instance{Name: f.Name, Type: f.Type}
		attachBitFields(in)
		out = append(out, in)
	}
	return out
}

// attachBitFields populates in.BitFields with one addressable
// structure.Instance per BitParameter when in.Type is a
// BitParameterBlock, so each bit field gets its own path without
// disturbing the block's own footprint assignment.
func attachBitFields(in *structure.Instance) {
	block, ok := in.Type.(ptype.BitParameterBlock)
	if !ok {
		return
	}
	for _, f := range block.Fields {
		in.BitFields = append(in.BitFields, &structure.Instance{
			Name: f.Name,
			Type: ptype.BitFieldType{Block: block, Field: f},
		})
	}
}

// parseParameterElement builds the ptype.Descriptor for one leaf
// element per its XML tag.
func parseParameterElement(e rawElement, reg *componentTypeRegistry) (ptype.Descriptor, error) {
	var base ptype.Descriptor
	var err error
	switch e.XMLName.Local {
	case "BooleanParameter":
		base = ptype.BooleanType{}
	case "IntegerParameter":
		base, err = parseIntegerElement(e)
	case "FixedPointParameter":
		base, err = parseFixedPointElement(e)
	case "EnumParameter":
		base, err = parseEnumElement(e)
	case "StringParameter":
		base, err = parseStringElement(e)
	case "BitParameterBlock":
		base, err = parseBitBlockElement(e)
	default:
		return nil, paramerrors.New(paramerrors.SchemaError, "xmlbinding.parseParameterElement").WithDetail("unknown element " + e.XMLName.Local)
	}
	if err != nil {
		return nil, err
	}

	length, _ := attrInt(e, "ArrayLength", 0)
	if length > 0 {
		return ptype.ArrayType{Element: base, Length: length}, nil
	}
	return base, nil
}

func parseIntegerElement(e rawElement) (ptype.Descriptor, error) {
	size, err := attrInt(e, "Size", 32)
	if err != nil {
		return nil, err
	}
	signedStr, _ := attr(e, "Signed")
	signed := strings.EqualFold(signedStr, "true")

	it := ptype.IntegerType{Signed: signed, SizeBits: size}
	if minStr, ok := attr(e, "Min"); ok {
		if maxStr, ok2 := attr(e, "Max"); ok2 {
			min, err1 := strconv.ParseInt(minStr, 10, 64)
			max, err2 := strconv.ParseInt(maxStr, 10, 64)
			if err1 != nil || err2 != nil {
				return nil, paramerrors.New(paramerrors.SchemaError, "xmlbinding.parseIntegerElement").WithDetail("invalid Min/Max")
			}
			it.HasRange, it.Min, it.Max = true, min, max
		}
	}

	kids, err := children(e)
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		switch k.XMLName.Local {
		case "LinearAdaptation":
			num, _ := attrInt(k, "SlopeNumerator", 1)
			den, _ := attrInt(k, "SlopeDenominator", 1)
			offsetStr, _ := attr(k, "Offset")
			offset, _ := strconv.ParseFloat(offsetStr, 64)
			it.Adaptation = ptype.LinearAdaptation{Num: int64(num), Den: int64(den), Offset: offset}
		case "LogarithmicAdaptation":
			num, _ := attrInt(k, "SlopeNumerator", 1)
			den, _ := attrInt(k, "SlopeDenominator", 1)
			baseStr, _ := attr(k, "LogarithmBase")
			base, _ := strconv.ParseFloat(baseStr, 64)
			if base <= 0 || base == 1 {
				return nil, paramerrors.New(paramerrors.SchemaError, "xmlbinding.parseIntegerElement").WithDetail("LogarithmBase must satisfy b > 0, b != 1")
			}
			offsetStr, _ := attr(k, "Offset")
			offset, _ := strconv.ParseFloat(offsetStr, 64)
			log := ptype.LogarithmicAdaptation{Num: int64(num), Den: int64(den), Base: base, Offset: offset}
			if floorStr, ok := attr(k, "FloorValue"); ok {
				floor, _ := strconv.ParseFloat(floorStr, 64)
				log.HasFloor, log.FloorValue = true, floor
			}
			it.Adaptation = log
		}
	}
	return it, nil
}

func parseFixedPointElement(e rawElement) (ptype.Descriptor, error) {
	size, err := attrInt(e, "Size", 16)
	if err != nil {
		return nil, err
	}
	integral, err := attrInt(e, "Integral", 0)
	if err != nil {
		return nil, err
	}
	fractional, err := attrInt(e, "Fractional", 0)
	if err != nil {
		return nil, err
	}
	return ptype.FixedPointType{Integral: integral, Fractional: fractional, SizeBits: size}, nil
}

func parseEnumElement(e rawElement) (ptype.Descriptor, error) {
	size, err := attrInt(e, "Size", 8)
	if err != nil {
		return nil, err
	}
	kids, err := children(e)
	if err != nil {
		return nil, err
	}
	pairs := make([]ptype.EnumPair, 0, len(kids))
	for _, k := range kids {
		if k.XMLName.Local != "ValuePair" {
			continue
		}
		lit, _ := attr(k, "Literal")
		numStr, _ := attr(k, "Numerical")
		num, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.parseEnumElement", err)
		}
		pairs = append(pairs, ptype.EnumPair{Literal: lit, Numeric: num})
	}
	return ptype.EnumType{SizeBits: size, Pairs: pairs}, nil
}

func parseStringElement(e rawElement) (ptype.Descriptor, error) {
	maxLen, err := attrInt(e, "MaxLength", 0)
	if err != nil {
		return nil, err
	}
	return ptype.StringType{MaxLength: maxLen}, nil
}

func parseBitBlockElement(e rawElement) (ptype.Descriptor, error) {
	size, err := attrInt(e, "Size", 16)
	if err != nil {
		return nil, err
	}
	kids, err := children(e)
	if err != nil {
		return nil, err
	}
	fields := make([]ptype.BitParameter, 0, len(kids))
	for _, k := range kids {
		if k.XMLName.Local != "BitParameter" {
			continue
		}
		name, _ := attr(k, "Name")
		pos, err := attrInt(k, "Pos", 0)
		if err != nil {
			return nil, err
		}
		width, err := attrInt(k, "Size", 1)
		if err != nil {
			return nil, err
		}
		bp := ptype.BitParameter{Name: name, Position: pos, Width: width}
		if maxStr, ok := attr(k, "Max"); ok {
			max, err := strconv.ParseUint(maxStr, 10, 64)
			if err != nil {
				return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.parseBitBlockElement", err)
			}
			bp.HasMax, bp.Max = true, max
		}
		fields = append(fields, bp)
	}
	return ptype.BitParameterBlock{SizeBits: size, Fields: fields}, nil
}
