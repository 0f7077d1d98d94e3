// Package structure builds the immutable instance tree: every declared
// element gets a blackboard offset and footprint computed
// once, top-down, as the cumulative prefix sum of sibling footprints.
package structure

import (
	"strings"

	"paramforge/blackboard"
	"paramforge/paramerrors"
	"paramforge/ptype"
)

// Subsystem is the top-level owner of a slice of the tree: it carries
// the endianness and backend mapping that every Instance beneath it
// inherits.
type Subsystem struct {
	Name       string
	Type       string
	Endianness blackboard.Endianness
	Mapping    map[string]string
}

// Instance is one node of the built tree: a parameter leaf or a
// component/array branch, kind-discriminated by its Descriptor.
//
// Subsystem is only populated on a subsystem's root Instance; other
// instances resolve it on demand via ResolveSubsystem, since it is
// root-only information every descendant shares by construction.
type Instance struct {
	Name      string
	Type      ptype.Descriptor
	Offset    int
	Footprint int
	Subsystem *Subsystem
	Parent    *Instance
	Children  []*Instance

	// BitFields holds the addressable per-field instances of a
	// BitParameterBlock leaf, kept separate from
	// Children so assignOffsets' cumulative-sum math over Children is
	// undisturbed; bit fields share their containing block's byte range.
	BitFields []*Instance
}

// IsLeaf reports whether this instance has no children, i.e. it is a
// directly addressable parameter rather than a component/array branch.
func (in *Instance) IsLeaf() bool { return len(in.Children) == 0 }

// ResolveSubsystem returns the Subsystem owning this instance, walking
// up to the tree root where it is actually set.
func (in *Instance) ResolveSubsystem() *Subsystem {
	cur := in
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur.Subsystem
}

// Path returns the instance's full "/"-joined path from the tree root.
func (in *Instance) Path() string {
	if in.Parent == nil {
		return "/" + in.Name
	}
	return in.Parent.Path() + "/" + in.Name
}

// Tree is the built, immutable structure: one root Instance per
// Subsystem, plus a path trie for O(path length) lookup.
type Tree struct {
	Subsystems []*Subsystem
	Roots      []*Instance
	root       *trieNode
	totalSize  int
}

type trieNode struct {
	children map[string]*trieNode
	instance *Instance
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// Builder assembles a Tree by adding one Subsystem at a time, assigning
// offsets as it goes; once built the tree never changes.
type Builder struct {
	tree   *Tree
	cursor int
}

// NewBuilder starts an empty tree.
func NewBuilder() *Builder {
	return &Builder{tree: &Tree{root: newTrieNode()}}
}

// AddSubsystem declares one subsystem root and assigns offsets to its
// whole subtree, starting at the builder's running cursor, which
// continues across subsystems so every instance in the structure sits
// at a distinct offset in one shared main blackboard.
func (b *Builder) AddSubsystem(sub *Subsystem, rootName string, rootType ptype.Descriptor, childBuilder func(*Instance) []*Instance) (*Instance, error) {
	b.tree.Subsystems = append(b.tree.Subsystems, sub)
	root := &Instance{Name: rootName, Type: rootType, Subsystem: sub, Offset: b.cursor}
	if childBuilder != nil {
		root.Children = childBuilder(root)
	}
	footprint, err := assignOffsets(root, b.cursor)
	if err != nil {
		return nil, err
	}
	root.Footprint = footprint
	b.cursor += footprint
	b.tree.Roots = append(b.tree.Roots, root)
	if err := insertTrie(b.tree.root, root); err != nil {
		return nil, err
	}
	return root, nil
}

// assignOffsets walks depth-first, giving each leaf its type's own
// footprint and each branch the sum of its children's footprints.
func assignOffsets(in *Instance, base int) (int, error) {
	if in.IsLeaf() {
		if in.Type == nil {
			return 0, paramerrors.New(paramerrors.SchemaError, "structure.assignOffsets").WithPath(in.Path()).WithDetail("leaf has no type")
		}
		in.Offset = base
		in.Footprint = in.Type.SizeBytes()
		for _, bf := range in.BitFields {
			bf.Parent = in
			bf.Offset = in.Offset
			bf.Footprint = in.Footprint
		}
		return in.Footprint, nil
	}
	offset := base
	total := 0
	for _, child := range in.Children {
		child.Parent = in
		size, err := assignOffsets(child, offset)
		if err != nil {
			return 0, err
		}
		offset += size
		total += size
	}
	in.Offset = base
	in.Footprint = total
	return total, nil
}

// insertTrie registers in and its whole subtree into the path trie
// rooted at root.
func insertTrie(root *trieNode, in *Instance) error {
	var visit func(*Instance) error
	visit = func(cur *Instance) error {
		node := root
		for _, seg := range pathSegments(cur) {
			next, ok := node.children[seg]
			if !ok {
				next = newTrieNode()
				node.children[seg] = next
			}
			node = next
		}
		if node.instance != nil {
			return paramerrors.New(paramerrors.SchemaError, "structure.insertTrie").WithPath(cur.Path()).WithDetail("duplicate path")
		}
		node.instance = cur
		for _, c := range cur.Children {
			if err := visit(c); err != nil {
				return err
			}
		}
		for _, bf := range cur.BitFields {
			if err := visit(bf); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(in)
}

func pathSegments(in *Instance) []string {
	return strings.Split(strings.TrimPrefix(in.Path(), "/"), "/")
}

// Build finalizes the tree; no further subsystems may be added.
func (b *Builder) Build() *Tree {
	total := 0
	for _, r := range b.tree.Roots {
		total += r.Footprint
	}
	b.tree.totalSize = total
	return b.tree
}

// TotalSize is the aggregate footprint of the whole structure, i.e. the
// required size of the main blackboard.
func (t *Tree) TotalSize() int { return t.totalSize }

// Lookup resolves a "/"-rooted path to its Instance.
func (t *Tree) Lookup(path string) (*Instance, error) {
	node := t.root
	for _, seg := range strings.Split(strings.TrimPrefix(path, "/"), "/") {
		next, ok := node.children[seg]
		if !ok {
			return nil, paramerrors.New(paramerrors.UnknownPath, "structure.Lookup").WithPath(path)
		}
		node = next
	}
	if node.instance == nil {
		return nil, paramerrors.New(paramerrors.UnknownPath, "structure.Lookup").WithPath(path)
	}
	return node.instance, nil
}

// Walk performs a depth-first traversal of the whole tree, calling fn
// on every instance including branches.
func (t *Tree) Walk(fn func(*Instance)) {
	var visit func(*Instance)
	visit = func(in *Instance) {
		fn(in)
		for _, c := range in.Children {
			visit(c)
		}
	}
	for _, r := range t.Roots {
		visit(r)
	}
}

// IsAncestor reports whether a is a strict ancestor of b (or a == b),
// used by domain.Registry to enforce the disjointness invariants.
func IsAncestor(a, b *Instance) bool {
	for cur := b; cur != nil; cur = cur.Parent {
		if cur == a {
			return true
		}
	}
	return false
}
