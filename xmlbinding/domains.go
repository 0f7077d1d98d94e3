package xmlbinding

import (
	"bytes"
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/domain"
	"paramforge/paramerrors"
	"paramforge/ptype"
	"paramforge/rule"
	"paramforge/structure"
)

// StructureChecksum computes the 4-byte structure checksum: a sum of
// kind-name bytes, propagated recursively over the whole
// tree, stamped on export and checked on import so binary settings from
// a mismatched structure are rejected.
func StructureChecksum(tree *structure.Tree) uint32 {
	var sum uint32
	tree.Walk(func(in *structure.Instance) {
		if in.Type == nil {
			return
		}
		sum += kindChecksum(in.Type)
	})
	return sum
}

func kindChecksum(desc ptype.Descriptor) uint32 {
	var sum uint32
	for _, b := range []byte(kindName(desc)) {
		sum += uint32(b)
	}
	switch t := desc.(type) {
	case ptype.ArrayType:
		sum += kindChecksum(t.Element) * uint32(t.Length)
	case *ptype.ComponentType:
		fields, err := t.ResolveFields()
		if err == nil {
			for _, f := range fields {
				sum += kindChecksum(f.Type)
			}
		}
	}
	return sum
}

func kindName(desc ptype.Descriptor) string {
	switch desc.(type) {
	case ptype.BooleanType:
		return "Boolean"
	case ptype.IntegerType:
		return "Integer"
	case ptype.FixedPointType:
		return "FixedPoint"
	case ptype.EnumType:
		return "Enum"
	case ptype.StringType:
		return "String"
	case ptype.BitParameterBlock:
		return "BitParameterBlock"
	case ptype.ArrayType:
		return "Array"
	case *ptype.ComponentType:
		return "Component"
	default:
		return "Unknown"
	}
}

// LoadDomains parses a domains XML document against an already-loaded
// structure tree, returning the declared domains with their rules,
// elements, and embedded settings populated.
func LoadDomains(r io.Reader, tree *structure.Tree) ([]*domain.Domain, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.LoadDomains", err)
	}
	var doc domainsXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.LoadDomains", err)
	}

	registry := domain.NewRegistry(tree)
	domains := make([]*domain.Domain, 0, len(doc.Domains))
	for _, dXML := range doc.Domains {
		d, err := registry.CreateDomain(dXML.Name, dXML.SequenceAware)
		if err != nil {
			return nil, err
		}

		for _, elemXML := range dXML.Elements.Elements {
			if err := registry.AddConfigurableElement(d, elemXML.Path); err != nil {
				return nil, err
			}
		}

		for _, cfgXML := range dXML.Configurations.Configurations {
			node, err := buildRuleNode(cfgXML.Rule)
			if err != nil {
				return nil, paramerrors.Wrap(paramerrors.InvalidRule, "xmlbinding.LoadDomains", err).WithPath(cfgXML.Name)
			}
			d.AddConfiguration(cfgXML.Name, node)
		}

		if err := applySettings(dXML.Settings, d, tree); err != nil {
			return nil, err
		}

		domains = append(domains, d)
	}
	return domains, nil
}

func buildRuleNode(x ruleNodeXML) (rule.Node, error) {
	op := rule.All
	if strings.EqualFold(x.Type, "Any") {
		op = rule.Any
	}
	composite := &rule.Composite{Op: op}
	for _, child := range x.Compounds {
		node, err := buildRuleNode(child)
		if err != nil {
			return nil, err
		}
		composite.Children = append(composite.Children, node)
	}
	for _, c := range x.Criteria {
		method, err := parseMatchMethod(c.MatchesWhen)
		if err != nil {
			return nil, err
		}
		operand, err := strconv.ParseUint(c.Value, 0, 32)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.InvalidRule, "xmlbinding.buildRuleNode", err)
		}
		composite.Children = append(composite.Children, &rule.Atomic{
			Criterion: c.SelectionCriterion, Method: method, Operand: uint32(operand),
		})
	}
	return composite, nil
}

func parseMatchMethod(s string) (rule.MatchMethod, error) {
	switch s {
	case "Is":
		return rule.Is, nil
	case "IsNot":
		return rule.IsNot, nil
	case "Includes":
		return rule.Includes, nil
	case "Excludes":
		return rule.Excludes, nil
	default:
		return 0, paramerrors.New(paramerrors.InvalidRule, "xmlbinding.parseMatchMethod").WithDetail("unknown MatchesWhen " + s)
	}
}

// applySettings binds one domain's <Settings> block, per configuration,
// into domain.ElementArea values by parsing each element's literal text
// through its structure-tree type descriptor.
func applySettings(settingsXML settingsXML, d *domain.Domain, tree *structure.Tree) error {
	if len(settingsXML.Configurations) == 0 {
		return nil
	}
	if settingsXML.Checksum != 0 && settingsXML.Checksum != StructureChecksum(tree) {
		return paramerrors.New(paramerrors.ChecksumMismatch, "xmlbinding.applySettings").WithPath(d.Name)
	}

	byName := make(map[string]*domain.Configuration, len(d.Configurations))
	for _, cfg := range d.Configurations {
		byName[cfg.Name] = cfg
	}

	for _, cfgXML := range settingsXML.Configurations {
		cfg, ok := byName[cfgXML.Name]
		if !ok {
			return paramerrors.New(paramerrors.UnknownConfiguration, "xmlbinding.applySettings").WithPath(cfgXML.Name)
		}
		for _, path := range d.Elements {
			elemXML := findElementByPath(cfgXML.Body, path)
			if elemXML == nil {
				continue
			}
			in, err := tree.Lookup(path)
			if err != nil {
				return err
			}
			text, _ := attr(*elemXML, "Value")
			area, err := parseElementArea(path, in, text)
			if err != nil {
				return paramerrors.Wrap(paramerrors.BindingError, "xmlbinding.applySettings", err).WithPath(path)
			}
			cfg.Area[path] = area
		}
	}
	return nil
}

// resolveEndian returns the byte order governing in, defaulting to
// Little when the instance has no resolvable subsystem (e.g. in tests
// that build bare instances without a subsystem root).
func resolveEndian(in *structure.Instance) blackboard.Endianness {
	if sub := in.ResolveSubsystem(); sub != nil {
		return sub.Endianness
	}
	return blackboard.Little
}

// parseElementArea parses one element's textual value into a
// domain.ElementArea, storing a flat Region for ordinary parameters and
// a single Bitwise entry for an addressable bit field.
func parseElementArea(path string, in *structure.Instance, text string) (*domain.ElementArea, error) {
	end := resolveEndian(in)
	if bf, ok := in.Type.(ptype.BitFieldType); ok {
		raw, err := bf.Parse(text, ptype.Real, end)
		if err != nil {
			return nil, err
		}
		v := blackboard.FromBytes(raw).ReadBitField(end, 0, bf.Block.SizeBytes(), bf.Field.Position, bf.Field.Width)
		return &domain.ElementArea{
			Path:     path,
			Bitwise:  []domain.BitwiseArea{{Position: bf.Field.Position, Width: bf.Field.Width, Value: v}},
			Endian:   end,
			Offset:   in.Offset,
			BlockLen: in.Footprint,
		}, nil
	}
	raw, err := in.Type.Parse(text, ptype.Real, end)
	if err != nil {
		return nil, err
	}
	return &domain.ElementArea{Path: path, Region: raw, Endian: end, Offset: in.Offset, BlockLen: in.Footprint}, nil
}

// formatElementArea renders a stored ElementArea back to text, merging
// a bit field's lone Bitwise value into a scratch word before decoding
// so BitFieldType.Format can extract it like any read from the live
// blackboard.
func formatElementArea(in *structure.Instance, area *domain.ElementArea) (string, error) {
	if bf, ok := in.Type.(ptype.BitFieldType); ok {
		if len(area.Bitwise) == 0 {
			return "", paramerrors.New(paramerrors.BindingError, "xmlbinding.formatElementArea").WithDetail("missing bitwise value")
		}
		word := blackboard.New(bf.Block.SizeBytes())
		word.WriteBitField(area.Endian, 0, bf.Block.SizeBytes(), bf.Field.Position, bf.Field.Width, area.Bitwise[0].Value)
		return bf.Format(word.Bytes(), ptype.Real, ptype.Decimal, area.Endian)
	}
	return in.Type.Format(area.Region, ptype.Real, ptype.Decimal, area.Endian)
}

// findElementByPath matches a settings body element to a structure
// path by its trailing path segment (the element's own Name).
func findElementByPath(items []rawElement, path string) *rawElement {
	segs := strings.Split(strings.TrimPrefix(path, "/"), "/")
	want := segs[len(segs)-1]
	for i := range items {
		if items[i].XMLName.Local == want {
			return &items[i]
		}
		if name, ok := attr(items[i], "Name"); ok && name == want {
			return &items[i]
		}
	}
	return nil
}

// ExportSettings writes every domain's settings as XML, stamping the
// current structure checksum.
func ExportSettings(w io.Writer, domains []*domain.Domain, tree *structure.Tree) error {
	checksum := StructureChecksum(tree)
	fmt.Fprintf(w, "<ConfigurableDomains Checksum=\"%d\">\n", checksum)
	for _, d := range domains {
		fmt.Fprintf(w, "  <ConfigurableDomain Name=%q>\n", d.Name)
		fmt.Fprintf(w, "    <Settings Checksum=\"%d\">\n", checksum)
		for _, cfg := range d.Configurations {
			fmt.Fprintf(w, "      <Configuration Name=%q>\n", cfg.Name)
			for _, path := range d.Elements {
				area, ok := cfg.Area[path]
				if !ok {
					continue
				}
				in, err := tree.Lookup(path)
				if err != nil {
					return err
				}
				text, err := formatElementArea(in, area)
				if err != nil {
					return paramerrors.Wrap(paramerrors.BindingError, "xmlbinding.ExportSettings", err).WithPath(path)
				}
				fmt.Fprintf(w, "        <%s Value=%q/>\n", in.Name, text)
			}
			fmt.Fprintln(w, "      </Configuration>")
		}
		fmt.Fprintln(w, "    </Settings>")
		fmt.Fprintln(w, "  </ConfigurableDomain>")
	}
	fmt.Fprintln(w, "</ConfigurableDomains>")
	return nil
}

// ImportSettings reads an XML settings export back into domains,
// all-or-nothing: it parses into a scratch copy of every configuration
// area first and only swaps the live state in if every configuration
// parses and the stamped checksum matches the current structure
// (see DESIGN.md's Open Question decision on partial-import policy).
func ImportSettings(r io.Reader, domains []*domain.Domain, tree *structure.Tree) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.ImportSettings", err)
	}
	var doc domainsXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return paramerrors.Wrap(paramerrors.SchemaError, "xmlbinding.ImportSettings", err)
	}

	byName := make(map[string]*domain.Domain, len(domains))
	for _, d := range domains {
		byName[d.Name] = d
	}

	scratch := make(map[string]map[string]*domain.ElementArea) // domain -> config -> path -> area, flattened by domain|config key
	for _, dXML := range doc.Domains {
		d, ok := byName[dXML.Name]
		if !ok {
			return paramerrors.New(paramerrors.UnknownConfiguration, "xmlbinding.ImportSettings").WithPath(dXML.Name)
		}
		if dXML.Settings.Checksum != StructureChecksum(tree) {
			return paramerrors.New(paramerrors.ChecksumMismatch, "xmlbinding.ImportSettings").WithPath(dXML.Name)
		}

		cfgByName := make(map[string]*domain.Configuration, len(d.Configurations))
		for _, cfg := range d.Configurations {
			cfgByName[cfg.Name] = cfg
		}

		for _, cfgXML := range dXML.Settings.Configurations {
			if _, ok := cfgByName[cfgXML.Name]; !ok {
				return paramerrors.New(paramerrors.UnknownConfiguration, "xmlbinding.ImportSettings").WithPath(cfgXML.Name)
			}
			areas := make(map[string]*domain.ElementArea)
			for _, path := range d.Elements {
				elemXML := findElementByPath(cfgXML.Body, path)
				if elemXML == nil {
					continue
				}
				in, err := tree.Lookup(path)
				if err != nil {
					return err
				}
				text, _ := attr(*elemXML, "Value")
				area, err := parseElementArea(path, in, text)
				if err != nil {
					return paramerrors.Wrap(paramerrors.BindingError, "xmlbinding.ImportSettings", err).WithPath(path)
				}
				areas[path] = area
			}
			scratch[dXML.Name+"\x00"+cfgXML.Name] = areas
		}
	}

	// All configurations parsed cleanly: swap scratch state in.
	for _, dXML := range doc.Domains {
		d := byName[dXML.Name]
		cfgByName := make(map[string]*domain.Configuration, len(d.Configurations))
		for _, cfg := range d.Configurations {
			cfgByName[cfg.Name] = cfg
		}
		for _, cfgXML := range dXML.Settings.Configurations {
			cfgByName[cfgXML.Name].Area = scratch[dXML.Name+"\x00"+cfgXML.Name]
		}
	}
	return nil
}

// structureChecksumBytes renders a checksum as the 4 big-endian bytes
// prepended to a binary settings blob.
func structureChecksumBytes(sum uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], sum)
	return buf[:]
}

// ExportBinarySettings writes one configuration's composed area as a
// raw binary blob prefixed with the 4-byte structure checksum, for
// backends/tools that want the packed form rather than XML.
// Bit fields share their containing block's byte offset with any
// sibling bit field also owned by d, so each distinct offset is
// materialized and written exactly once, merging every sibling's
// bitwise value into the shared word first.
func ExportBinarySettings(w io.Writer, cfg *domain.Configuration, d *domain.Domain, tree *structure.Tree) error {
	checksum := StructureChecksum(tree)
	if _, err := w.Write(structureChecksumBytes(checksum)); err != nil {
		return paramerrors.Wrap(paramerrors.BindingError, "xmlbinding.ExportBinarySettings", err)
	}
	written := make(map[int]bool)
	for _, path := range d.Elements {
		area, ok := cfg.Area[path]
		if !ok || written[area.Offset] {
			continue
		}
		written[area.Offset] = true
		buf, err := materializeRegion(d, cfg, area.Offset, area.BlockLen)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf); err != nil {
			return paramerrors.Wrap(paramerrors.BindingError, "xmlbinding.ExportBinarySettings", err)
		}
	}
	return nil
}

// materializeRegion combines every element of d sharing the given byte
// offset into one buffer: flat regions are copied in directly, bit
// fields are merged via WriteBitField so siblings never clobber each
// other's bits.
func materializeRegion(d *domain.Domain, cfg *domain.Configuration, offset, blockLen int) ([]byte, error) {
	buf := blackboard.New(blockLen)
	for _, path := range d.Elements {
		area, ok := cfg.Area[path]
		if !ok || area.Offset != offset {
			continue
		}
		if len(area.Bitwise) > 0 {
			for _, bw := range area.Bitwise {
				buf.WriteBitField(area.Endian, 0, blockLen, bw.Position, bw.Width, bw.Value)
			}
			continue
		}
		buf.WriteBytes(0, area.Region)
	}
	return buf.Bytes(), nil
}

// ImportBinarySettings reads a blob produced by ExportBinarySettings,
// rejecting it with ChecksumMismatch if its stamped checksum does not
// match the current structure. Elements sharing a byte offset (a bit
// block's own fields) consume that offset's bytes once, in d.Elements'
// first-occurrence order, matching ExportBinarySettings' write order.
func ImportBinarySettings(data []byte, cfg *domain.Configuration, d *domain.Domain, tree *structure.Tree) error {
	if len(data) < 4 {
		return paramerrors.New(paramerrors.BindingError, "xmlbinding.ImportBinarySettings").WithDetail("blob too short")
	}
	got := binary.BigEndian.Uint32(data[:4])
	if got != StructureChecksum(tree) {
		return paramerrors.New(paramerrors.ChecksumMismatch, "xmlbinding.ImportBinarySettings")
	}
	reader := bytes.NewReader(data[4:])

	insts := make([]*structure.Instance, 0, len(d.Elements))
	for _, path := range d.Elements {
		in, err := tree.Lookup(path)
		if err != nil {
			return err
		}
		insts = append(insts, in)
	}

	buffers := make(map[int][]byte)
	for _, in := range insts {
		if _, ok := buffers[in.Offset]; ok {
			continue
		}
		buf := make([]byte, in.Footprint)
		if _, err := io.ReadFull(reader, buf); err != nil {
			return paramerrors.Wrap(paramerrors.BindingError, "xmlbinding.ImportBinarySettings", err)
		}
		buffers[in.Offset] = buf
	}

	areas := make(map[string]*domain.ElementArea, len(d.Elements))
	for i, path := range d.Elements {
		in := insts[i]
		buf := buffers[in.Offset]
		end := resolveEndian(in)
		if bf, ok := in.Type.(ptype.BitFieldType); ok {
			v := blackboard.FromBytes(buf).ReadBitField(end, 0, in.Footprint, bf.Field.Position, bf.Field.Width)
			areas[path] = &domain.ElementArea{
				Path:     path,
				Bitwise:  []domain.BitwiseArea{{Position: bf.Field.Position, Width: bf.Field.Width, Value: v}},
				Endian:   end,
				Offset:   in.Offset,
				BlockLen: in.Footprint,
			}
			continue
		}
		areas[path] = &domain.ElementArea{Path: path, Region: append([]byte(nil), buf...), Endian: end, Offset: in.Offset, BlockLen: in.Footprint}
	}
	cfg.Area = areas
	return nil
}
