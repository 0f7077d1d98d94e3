// Package handle implements the typed get/set API: a
// short-lived accessor bound to one structure-tree path, converting
// between Go native values and the blackboard through the path's
// ptype.Descriptor.
package handle

import (
	"encoding/xml"
	"strconv"
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
	"paramforge/ptype"
)

// accessor is the narrow surface Handle needs from *engine.Engine,
// kept as a local interface so handle never imports engine.
type accessor interface {
	Descriptor(path string) (ptype.Descriptor, error)
	GetRaw(path string) ([]byte, error)
	SetRaw(path string, raw []byte) error
	Endianness(path string) (blackboard.Endianness, error)
	Children(path string) ([]string, error)
}

// Handle is a reusable accessor bound to one parameter path.
type Handle struct {
	path string
	eng  accessor
}

// New binds a Handle to path against eng. Exported for engine.Engine's
// NewHandle to construct; callers normally get a Handle from there.
func New(path string, eng accessor) *Handle {
	return &Handle{path: path, eng: eng}
}

func (h *Handle) descriptor() (ptype.Descriptor, error) {
	return h.eng.Descriptor(h.path)
}

func (h *Handle) endian() blackboard.Endianness {
	end, err := h.eng.Endianness(h.path)
	if err != nil {
		return blackboard.Little
	}
	return end
}

func (h *Handle) get(want string, check func(ptype.Descriptor) bool) (ptype.Descriptor, []byte, string, error) {
	desc, err := h.descriptor()
	if err != nil {
		return nil, nil, "", err
	}
	if check != nil && !check(desc) {
		return nil, nil, "", paramerrors.New(paramerrors.TypeMismatch, "handle.Get").WithPath(h.path).WithDetail("not a " + want + " parameter")
	}
	raw, err := h.eng.GetRaw(h.path)
	if err != nil {
		return nil, nil, "", err
	}
	text, err := desc.Format(raw, ptype.Real, ptype.Decimal, h.endian())
	if err != nil {
		return nil, nil, "", err
	}
	return desc, raw, text, nil
}

func (h *Handle) set(want string, check func(ptype.Descriptor) bool, text string) error {
	desc, err := h.descriptor()
	if err != nil {
		return err
	}
	if check != nil && !check(desc) {
		return paramerrors.New(paramerrors.TypeMismatch, "handle.Set").WithPath(h.path).WithDetail("not a " + want + " parameter")
	}
	end := h.endian()
	raw, err := desc.Parse(text, ptype.Real, end)
	if err != nil {
		return err
	}
	if rc, ok := desc.(ptype.RangeChecker); ok {
		if err := rc.CheckRange(raw, end); err != nil {
			return err
		}
	}
	return h.eng.SetRaw(h.path, raw)
}

func isBoolean(d ptype.Descriptor) bool  { _, ok := d.(ptype.BooleanType); return ok }
func isInteger(d ptype.Descriptor) bool  { _, ok := d.(ptype.IntegerType); return ok }
func isFixed(d ptype.Descriptor) bool    { _, ok := d.(ptype.FixedPointType); return ok }
func isString(d ptype.Descriptor) bool   { _, ok := d.(ptype.StringType); return ok }
func isArray(d ptype.Descriptor) bool    { _, ok := d.(ptype.ArrayType); return ok }
func isBitField(d ptype.Descriptor) bool { _, ok := d.(ptype.BitFieldType); return ok }

// GetAsBool returns the parameter's current value as a bool.
func (h *Handle) GetAsBool() (bool, error) {
	_, _, text, err := h.get("boolean", isBoolean)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(text)
}

// SetAsBool stores v.
func (h *Handle) SetAsBool(v bool) error {
	return h.set("boolean", isBoolean, strconv.FormatBool(v))
}

func isIntegerOrBitField(d ptype.Descriptor) bool { return isInteger(d) || isBitField(d) }

// GetAsInt returns the parameter's current value as an unsigned
// integer; callers that need a signed decode use GetAsSignedInt. Valid
// for both integer parameters and addressable bit fields.
func (h *Handle) GetAsInt() (uint64, error) {
	_, raw, _, err := h.get("integer", isIntegerOrBitField)
	if err != nil {
		return 0, err
	}
	desc, _ := h.descriptor()
	text, err := desc.Format(raw, ptype.Raw, ptype.Decimal, h.endian())
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(text, 10, 64)
}

// SetAsInt stores v as the unsigned raw encoding of the field width.
func (h *Handle) SetAsInt(v uint64) error {
	desc, err := h.descriptor()
	if err != nil {
		return err
	}
	if !isIntegerOrBitField(desc) {
		return paramerrors.New(paramerrors.TypeMismatch, "handle.SetAsInt").WithPath(h.path).WithDetail("not an integer parameter")
	}
	raw, err := desc.Parse(strconv.FormatUint(v, 10), ptype.Raw, h.endian())
	if err != nil {
		return err
	}
	return h.eng.SetRaw(h.path, raw)
}

// GetAsSignedInt returns the parameter's current value decoded as a
// signed integer.
func (h *Handle) GetAsSignedInt() (int64, error) {
	_, _, text, err := h.get("integer", isInteger)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(text, 64)
	if err == nil {
		return int64(f), nil
	}
	return strconv.ParseInt(text, 10, 64)
}

// SetAsSignedInt stores v.
func (h *Handle) SetAsSignedInt(v int64) error {
	return h.set("integer", isInteger, strconv.FormatInt(v, 10))
}

// GetAsDouble returns the parameter's current value as a real number,
// valid for fixed-point parameters.
func (h *Handle) GetAsDouble() (float64, error) {
	_, _, text, err := h.get("fixed-point", isFixed)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(text, 64)
}

// SetAsDouble stores v.
func (h *Handle) SetAsDouble(v float64) error {
	return h.set("fixed-point", isFixed, strconv.FormatFloat(v, 'f', -1, 64))
}

// GetAsString returns the parameter's current value, valid for string
// parameters.
func (h *Handle) GetAsString() (string, error) {
	_, _, text, err := h.get("string", isString)
	return text, err
}

// SetAsString stores v.
func (h *Handle) SetAsString(v string) error {
	return h.set("string", isString, v)
}

// GetAsIntArray returns every element of an array-of-integer
// parameter as unsigned values, in index order.
func (h *Handle) GetAsIntArray() ([]uint64, error) {
	desc, err := h.descriptor()
	if err != nil {
		return nil, err
	}
	arr, ok := desc.(ptype.ArrayType)
	if !ok {
		return nil, paramerrors.New(paramerrors.TypeMismatch, "handle.GetAsIntArray").WithPath(h.path).WithDetail("not an array parameter")
	}
	raw, err := h.eng.GetRaw(h.path)
	if err != nil {
		return nil, err
	}
	text, err := arr.Format(raw, ptype.Raw, ptype.Decimal, h.endian())
	if err != nil {
		return nil, err
	}
	parts := strings.Split(text, ",")
	out := make([]uint64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "handle.GetAsIntArray", err).WithPath(h.path)
		}
		out = append(out, v)
	}
	return out, nil
}

// SetAsIntArray stores values as an array-of-integer parameter.
func (h *Handle) SetAsIntArray(values []uint64) error {
	desc, err := h.descriptor()
	if err != nil {
		return err
	}
	if !isArray(desc) {
		return paramerrors.New(paramerrors.TypeMismatch, "handle.SetAsIntArray").WithPath(h.path).WithDetail("not an array parameter")
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatUint(v, 10)
	}
	raw, err := desc.Parse(strings.Join(parts, ","), ptype.Raw, h.endian())
	if err != nil {
		return err
	}
	return h.eng.SetRaw(h.path, raw)
}

// arrayOf resolves the handle's descriptor as an array whose element
// kind passes elemCheck, the shared front half of every typed array
// accessor below.
func (h *Handle) arrayOf(want string, elemCheck func(ptype.Descriptor) bool) (ptype.ArrayType, error) {
	desc, err := h.descriptor()
	if err != nil {
		return ptype.ArrayType{}, err
	}
	arr, ok := desc.(ptype.ArrayType)
	if !ok || !elemCheck(arr.Element) {
		return ptype.ArrayType{}, paramerrors.New(paramerrors.TypeMismatch, "handle.Get").WithPath(h.path).WithDetail("not a " + want + " array parameter")
	}
	return arr, nil
}

// elementTexts reads the array and formats each element independently
// in the Real space, so element values containing the array separator
// (strings) stay unambiguous.
func (h *Handle) elementTexts(arr ptype.ArrayType) ([]string, error) {
	raw, err := h.eng.GetRaw(h.path)
	if err != nil {
		return nil, err
	}
	end := h.endian()
	elemSize := arr.Element.SizeBytes()
	out := make([]string, 0, arr.Length)
	for i := 0; i < arr.Length; i++ {
		text, err := arr.Element.Format(raw[i*elemSize:(i+1)*elemSize], ptype.Real, ptype.Decimal, end)
		if err != nil {
			return nil, err
		}
		out = append(out, text)
	}
	return out, nil
}

// setElementTexts parses each element text independently, concatenates
// the raw encodings, and stores the result.
func (h *Handle) setElementTexts(arr ptype.ArrayType, texts []string) error {
	if len(texts) != arr.Length {
		return paramerrors.New(paramerrors.ParseError, "handle.Set").WithPath(h.path).WithDetail("expected " + strconv.Itoa(arr.Length) + " elements")
	}
	end := h.endian()
	raw := make([]byte, 0, arr.SizeBytes())
	for _, text := range texts {
		elemRaw, err := arr.Element.Parse(text, ptype.Real, end)
		if err != nil {
			return err
		}
		if rc, ok := arr.Element.(ptype.RangeChecker); ok {
			if err := rc.CheckRange(elemRaw, end); err != nil {
				return err
			}
		}
		raw = append(raw, elemRaw...)
	}
	return h.eng.SetRaw(h.path, raw)
}

// GetAsBoolArray returns every element of an array-of-boolean parameter.
func (h *Handle) GetAsBoolArray() ([]bool, error) {
	arr, err := h.arrayOf("boolean", isBoolean)
	if err != nil {
		return nil, err
	}
	texts, err := h.elementTexts(arr)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(texts))
	for i, t := range texts {
		if out[i], err = strconv.ParseBool(t); err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "handle.GetAsBoolArray", err).WithPath(h.path)
		}
	}
	return out, nil
}

// SetAsBoolArray stores values as an array-of-boolean parameter.
func (h *Handle) SetAsBoolArray(values []bool) error {
	arr, err := h.arrayOf("boolean", isBoolean)
	if err != nil {
		return err
	}
	texts := make([]string, len(values))
	for i, v := range values {
		texts[i] = strconv.FormatBool(v)
	}
	return h.setElementTexts(arr, texts)
}

// GetAsSignedIntArray returns every element of an array-of-integer
// parameter decoded as signed values.
func (h *Handle) GetAsSignedIntArray() ([]int64, error) {
	arr, err := h.arrayOf("integer", isInteger)
	if err != nil {
		return nil, err
	}
	texts, err := h.elementTexts(arr)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(texts))
	for i, t := range texts {
		if out[i], err = strconv.ParseInt(t, 10, 64); err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "handle.GetAsSignedIntArray", err).WithPath(h.path)
		}
	}
	return out, nil
}

// SetAsSignedIntArray stores values as an array-of-integer parameter.
func (h *Handle) SetAsSignedIntArray(values []int64) error {
	arr, err := h.arrayOf("integer", isInteger)
	if err != nil {
		return err
	}
	texts := make([]string, len(values))
	for i, v := range values {
		texts[i] = strconv.FormatInt(v, 10)
	}
	return h.setElementTexts(arr, texts)
}

// GetAsDoubleArray returns every element of an array-of-fixed-point
// parameter as real numbers.
func (h *Handle) GetAsDoubleArray() ([]float64, error) {
	arr, err := h.arrayOf("fixed-point", isFixed)
	if err != nil {
		return nil, err
	}
	texts, err := h.elementTexts(arr)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(texts))
	for i, t := range texts {
		if out[i], err = strconv.ParseFloat(t, 64); err != nil {
			return nil, paramerrors.Wrap(paramerrors.ParseError, "handle.GetAsDoubleArray", err).WithPath(h.path)
		}
	}
	return out, nil
}

// SetAsDoubleArray stores values as an array-of-fixed-point parameter.
func (h *Handle) SetAsDoubleArray(values []float64) error {
	arr, err := h.arrayOf("fixed-point", isFixed)
	if err != nil {
		return err
	}
	texts := make([]string, len(values))
	for i, v := range values {
		texts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return h.setElementTexts(arr, texts)
}

// GetAsStringArray returns every element of an array-of-string
// parameter.
func (h *Handle) GetAsStringArray() ([]string, error) {
	arr, err := h.arrayOf("string", isString)
	if err != nil {
		return nil, err
	}
	return h.elementTexts(arr)
}

// SetAsStringArray stores values as an array-of-string parameter.
func (h *Handle) SetAsStringArray(values []string) error {
	arr, err := h.arrayOf("string", isString)
	if err != nil {
		return err
	}
	return h.setElementTexts(arr, values)
}

// xmlNode is one element of the GetAsXML/SetAsXML tree: a
// <Parameter Name="" Value=""/> element per leaf, nesting recursively
// for a branch path. (Settings export instead names each leaf element
// after the parameter itself.)
type xmlNode struct {
	XMLName  xml.Name  `xml:"Parameter"`
	Name     string    `xml:"Name,attr"`
	Value    string    `xml:"Value,attr,omitempty"`
	Children []xmlNode `xml:"Parameter"`
}

func (h *Handle) buildXMLNode(path string) (xmlNode, error) {
	children, err := h.eng.Children(path)
	if err != nil {
		return xmlNode{}, err
	}
	node := xmlNode{Name: lastSegment(path)}
	if len(children) == 0 {
		desc, err := h.eng.Descriptor(path)
		if err != nil {
			return xmlNode{}, err
		}
		raw, err := h.eng.GetRaw(path)
		if err != nil {
			return xmlNode{}, err
		}
		end, err := h.eng.Endianness(path)
		if err != nil {
			return xmlNode{}, err
		}
		text, err := desc.Format(raw, ptype.Real, ptype.Decimal, end)
		if err != nil {
			return xmlNode{}, err
		}
		node.Value = text
		return node, nil
	}
	for _, childPath := range children {
		child, err := h.buildXMLNode(childPath)
		if err != nil {
			return xmlNode{}, err
		}
		node.Children = append(node.Children, child)
	}
	return node, nil
}

// GetAsXML renders the parameter's current Real-space value (or, for a
// branch path, the whole subtree) as nested <Parameter .../> elements.
func (h *Handle) GetAsXML() (string, error) {
	node, err := h.buildXMLNode(h.path)
	if err != nil {
		return "", err
	}
	out, err := xml.Marshal(node)
	if err != nil {
		return "", paramerrors.Wrap(paramerrors.BindingError, "handle.GetAsXML", err).WithPath(h.path)
	}
	return string(out), nil
}

func (h *Handle) applyXMLNode(path string, node xmlNode) error {
	children, err := h.eng.Children(path)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		desc, err := h.eng.Descriptor(path)
		if err != nil {
			return err
		}
		end, err := h.eng.Endianness(path)
		if err != nil {
			return err
		}
		raw, err := desc.Parse(node.Value, ptype.Real, end)
		if err != nil {
			return err
		}
		if rc, ok := desc.(ptype.RangeChecker); ok {
			if err := rc.CheckRange(raw, end); err != nil {
				return err
			}
		}
		return h.eng.SetRaw(path, raw)
	}
	byName := make(map[string]xmlNode, len(node.Children))
	for _, c := range node.Children {
		byName[c.Name] = c
	}
	for _, childPath := range children {
		childNode, ok := byName[lastSegment(childPath)]
		if !ok {
			continue
		}
		if err := h.applyXMLNode(childPath, childNode); err != nil {
			return err
		}
	}
	return nil
}

// SetAsXML parses a <Parameter .../> fragment (or subtree) and stores
// its value(s), matching child elements to structure-tree children by
// Name.
func (h *Handle) SetAsXML(doc string) error {
	var node xmlNode
	if err := xml.Unmarshal([]byte(doc), &node); err != nil {
		return paramerrors.Wrap(paramerrors.BindingError, "handle.SetAsXML", err).WithPath(h.path)
	}
	return h.applyXMLNode(h.path, node)
}

// GetAsBytes returns the parameter's raw packed bytes.
func (h *Handle) GetAsBytes() ([]byte, error) {
	return h.eng.GetRaw(h.path)
}

// SetAsBytes stores raw packed bytes directly, bypassing Parse; the
// caller is responsible for matching the descriptor's footprint.
func (h *Handle) SetAsBytes(b []byte) error {
	desc, err := h.descriptor()
	if err != nil {
		return err
	}
	if len(b) != desc.SizeBytes() {
		return paramerrors.New(paramerrors.TypeMismatch, "handle.SetAsBytes").WithPath(h.path).WithDetail("wrong footprint")
	}
	return h.eng.SetRaw(h.path, b)
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}
