// Package domain implements configurable domains, their configurations,
// and the ownership disjointness invariants between them.
package domain

import (
	"paramforge/blackboard"
	"paramforge/paramerrors"
	"paramforge/rule"
	"paramforge/structure"
)

// BitwiseArea stores one bit field's raw value inside an owning word,
// so merging into the main blackboard can read-modify-write the word
// without disturbing sibling fields.
type BitwiseArea struct {
	Position int
	Width    int
	Value    uint64
}

// ElementArea is one element's stored values within a configuration:
// either a flat byte region or, for bit parameters, a list of bitwise
// field values sharing the element's word.
type ElementArea struct {
	Path     string
	Region   []byte
	Bitwise  []BitwiseArea
	Endian   blackboard.Endianness
	Offset   int
	BlockLen int
}

// Configuration is one named, rule-guarded set of stored element values
// within a Domain.
type Configuration struct {
	Name string
	Rule rule.Node
	Area map[string]*ElementArea // element path -> stored area
}

// Domain groups configurable elements under shared configurations,
// optionally sequence-aware.
type Domain struct {
	Name           string
	SequenceAware  bool
	Elements       []string // structure-tree paths owned by this domain
	Sequence       []string // declared restore order, if SequenceAware
	Configurations []*Configuration
}

// Registry owns every Domain and enforces the ownership disjointness
// invariants at mutation time.
type Registry struct {
	tree    *structure.Tree
	domains map[string]*Domain
	order   []string // declaration order, for commit's deterministic select pass
	owner   map[string]string // instance path -> owning domain name
}

// NewRegistry binds a Registry to the structure tree its elements must
// resolve against.
func NewRegistry(tree *structure.Tree) *Registry {
	return &Registry{tree: tree, domains: make(map[string]*Domain), owner: make(map[string]string)}
}

// CreateDomain registers a new, empty domain.
func (r *Registry) CreateDomain(name string, sequenceAware bool) (*Domain, error) {
	if _, exists := r.domains[name]; exists {
		return nil, paramerrors.New(paramerrors.InvalidRule, "domain.CreateDomain").WithPath(name).WithDetail("duplicate domain name")
	}
	d := &Domain{Name: name, SequenceAware: sequenceAware}
	r.domains[name] = d
	r.order = append(r.order, name)
	return d, nil
}

// All returns every registered domain in declaration order, the order
// commit.Pipeline must evaluate them in.
func (r *Registry) All() []*Domain {
	out := make([]*Domain, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.domains[name])
	}
	return out
}

// Lookup resolves a domain by name.
func (r *Registry) Lookup(name string) (*Domain, error) {
	d, ok := r.domains[name]
	if !ok {
		return nil, paramerrors.New(paramerrors.UnknownConfiguration, "domain.Lookup").WithPath(name)
	}
	return d, nil
}

// OwnerOf reports whether path (or an ancestor/descendant of it) is
// owned by some domain's configurable element, and if so, which.
// Rogue parameters are exactly the paths for which this reports false.
func (r *Registry) OwnerOf(path string) (string, bool) {
	in, err := r.tree.Lookup(path)
	if err != nil {
		return "", false
	}
	for ownedPath, ownerName := range r.owner {
		if ownedPath == path {
			return ownerName, true
		}
		ownedInstance, err := r.tree.Lookup(ownedPath)
		if err != nil {
			continue
		}
		if structure.IsAncestor(in, ownedInstance) || structure.IsAncestor(ownedInstance, in) {
			return ownerName, true
		}
	}
	return "", false
}

// AddConfigurableElement adds path to d. The
// path must resolve in the structure tree, and no ancestor or
// descendant of it (in any domain, including d itself) may already be
// owned.
func (r *Registry) AddConfigurableElement(d *Domain, path string) error {
	in, err := r.tree.Lookup(path)
	if err != nil {
		return err
	}

	for ownedPath, ownerName := range r.owner {
		ownedInstance, err := r.tree.Lookup(ownedPath)
		if err != nil {
			continue
		}
		if structure.IsAncestor(in, ownedInstance) || structure.IsAncestor(ownedInstance, in) {
			return paramerrors.New(paramerrors.DomainOverlap, "domain.AddConfigurableElement").
				WithPath(path).WithDetail("overlaps element owned by domain " + ownerName)
		}
	}

	d.Elements = append(d.Elements, path)
	r.owner[path] = d.Name
	return nil
}

// RemoveConfigurableElement releases path from d: ownership is dropped
// and every configuration loses its stored slot for the element. This
// is the first half of the merge recipe — remove all
// children, add the parent back — so the removed values are lost unless
// the caller captured them beforehand.
func (r *Registry) RemoveConfigurableElement(d *Domain, path string) error {
	idx := -1
	for i, e := range d.Elements {
		if e == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return paramerrors.New(paramerrors.UnknownPath, "domain.RemoveConfigurableElement").WithPath(path).WithDetail("not an element of this domain")
	}
	d.Elements = append(d.Elements[:idx], d.Elements[idx+1:]...)
	delete(r.owner, path)
	for i, s := range d.Sequence {
		if s == path {
			d.Sequence = append(d.Sequence[:i], d.Sequence[i+1:]...)
			break
		}
	}
	for _, cfg := range d.Configurations {
		delete(cfg.Area, path)
	}
	return nil
}

// Split replaces a composite element with its immediate children,
// descending exactly one level; each child inherits the element's slice
// of every configuration's stored area.
func (r *Registry) Split(d *Domain, path string) error {
	in, err := r.tree.Lookup(path)
	if err != nil {
		return err
	}
	if in.IsLeaf() {
		return paramerrors.New(paramerrors.InvalidRule, "domain.Split").WithPath(path).WithDetail("element has no children to split into")
	}

	idx := -1
	for i, e := range d.Elements {
		if e == path {
			idx = i
			break
		}
	}
	if idx < 0 {
		return paramerrors.New(paramerrors.UnknownPath, "domain.Split").WithPath(path).WithDetail("not an element of this domain")
	}

	childPaths := make([]string, 0, len(in.Children))
	for _, c := range in.Children {
		childPaths = append(childPaths, c.Path())
	}

	d.Elements = append(d.Elements[:idx], append(append([]string{}, childPaths...), d.Elements[idx+1:]...)...)
	delete(r.owner, path)
	for _, cp := range childPaths {
		r.owner[cp] = d.Name
	}

	for _, cfg := range d.Configurations {
		parentArea, ok := cfg.Area[path]
		if !ok {
			continue
		}
		delete(cfg.Area, path)
		offset := 0
		for _, c := range in.Children {
			cp := c.Path()
			size := c.Footprint
			if offset+size <= len(parentArea.Region) {
				cfg.Area[cp] = &ElementArea{
					Path:     cp,
					Region:   append([]byte{}, parentArea.Region[offset:offset+size]...),
					Endian:   parentArea.Endian,
					Offset:   c.Offset,
					BlockLen: size,
				}
			}
			offset += size
		}
	}
	return nil
}

// NewRegistryFromDomains rebuilds a Registry (with its ownership
// bookkeeping) from domains already fully populated by a loader such as
// xmlbinding.LoadDomains — those carry their Elements and Configurations
// directly but were never routed through AddConfigurableElement, so the
// Registry's owner index would otherwise be empty. Re-registering every
// element here also re-validates disjointness against a freshly loaded
// file.
func NewRegistryFromDomains(tree *structure.Tree, domains []*Domain) (*Registry, error) {
	r := NewRegistry(tree)
	for _, loaded := range domains {
		d, err := r.CreateDomain(loaded.Name, loaded.SequenceAware)
		if err != nil {
			return nil, err
		}
		for _, path := range loaded.Elements {
			if err := r.AddConfigurableElement(d, path); err != nil {
				return nil, err
			}
		}
		d.Sequence = loaded.Sequence
		d.Configurations = loaded.Configurations
	}
	return r, nil
}

// AddConfiguration appends a new rule-guarded configuration to d.
func (d *Domain) AddConfiguration(name string, matchRule rule.Node) *Configuration {
	cfg := &Configuration{Name: name, Rule: matchRule, Area: make(map[string]*ElementArea)}
	d.Configurations = append(d.Configurations, cfg)
	return cfg
}

// Configuration resolves a configuration of d by name.
func (d *Domain) Configuration(name string) (*Configuration, bool) {
	for _, c := range d.Configurations {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// RenameConfiguration changes a configuration's name in place; its
// position in the first-match evaluation order is unchanged.
func (d *Domain) RenameConfiguration(oldName, newName string) error {
	if _, taken := d.Configuration(newName); taken {
		return paramerrors.New(paramerrors.StateConflict, "domain.RenameConfiguration").WithPath(newName).WithDetail("configuration name already in use")
	}
	cfg, ok := d.Configuration(oldName)
	if !ok {
		return paramerrors.New(paramerrors.UnknownConfiguration, "domain.RenameConfiguration").WithPath(oldName)
	}
	cfg.Name = newName
	return nil
}

// DeleteConfiguration removes the named configuration and its stored
// area; later configurations move up one slot in evaluation order.
func (d *Domain) DeleteConfiguration(name string) error {
	for i, c := range d.Configurations {
		if c.Name == name {
			d.Configurations = append(d.Configurations[:i], d.Configurations[i+1:]...)
			return nil
		}
	}
	return paramerrors.New(paramerrors.UnknownConfiguration, "domain.DeleteConfiguration").WithPath(name)
}
