// Package criterion implements the selection-criteria registry and its
// exclusive/inclusive state semantics.
package criterion

import (
	"strconv"

	"paramforge/paramerrors"
)

// Kind distinguishes exclusive (single-valued) from inclusive
// (bitset-valued) criteria.
type Kind int

const (
	Exclusive Kind = iota
	Inclusive
)

// reservedNone is the inclusive criterion's implicit empty value, the
// only value permitted to carry numeric 0.
const reservedNone = "none"

// maxInclusiveUserValues caps user-declared values at 31, leaving bit 31
// reserved so tagged-integer interchange formats stay representable.
const maxInclusiveUserValues = 31

// ValueEntry is one named numeric value of a criterion, in the
// declaration order the caller supplied to Register.
type ValueEntry struct {
	Literal string
	Numeric uint32
}

// Criterion is one registered selection criterion. Values preserves
// declaration order: an exclusive criterion's default state is its
// first registered value.
type Criterion struct {
	Name      string
	Kind      Kind
	Values    []ValueEntry
	byLiteral map[string]uint32
	byNumber  map[uint32]string
	State     uint32
	Modified  uint32
}

// ValueOf resolves a literal to its registered numeric value.
func (c *Criterion) ValueOf(literal string) (uint32, bool) {
	num, ok := c.byLiteral[literal]
	return num, ok
}

// LiteralOf resolves a numeric value back to its registered literal.
func (c *Criterion) LiteralOf(num uint32) (string, bool) {
	lit, ok := c.byNumber[num]
	return lit, ok
}

// Registry holds criteria by name.
type Registry struct {
	criteria map[string]*Criterion
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{criteria: make(map[string]*Criterion)}
}

// Register declares a new criterion. values is taken in the caller's
// declaration order: an exclusive criterion's State initializes to its
// first entry's Numeric.
func (r *Registry) Register(name string, kind Kind, values []ValueEntry) (*Criterion, error) {
	if _, exists := r.criteria[name]; exists {
		return nil, paramerrors.New(paramerrors.InvalidRule, "criterion.Register").WithPath(name).WithDetail("duplicate criterion name")
	}

	byNumber := make(map[uint32]string, len(values))
	byLiteral := make(map[string]uint32, len(values))
	hasNone := false
	for _, v := range values {
		if kind == Inclusive && v.Numeric == 0 && v.Literal != reservedNone {
			return nil, paramerrors.New(paramerrors.InvalidRule, "criterion.Register").WithPath(name).WithDetail("inclusive value " + v.Literal + " reuses reserved numeric 0")
		}
		if other, dup := byNumber[v.Numeric]; dup {
			return nil, paramerrors.New(paramerrors.InvalidRule, "criterion.Register").WithPath(name).WithDetail("numeric value " + strconv.FormatUint(uint64(v.Numeric), 10) + " duplicated by " + other + " and " + v.Literal)
		}
		byNumber[v.Numeric] = v.Literal
		byLiteral[v.Literal] = v.Numeric
		if v.Literal == reservedNone {
			hasNone = true
		}
	}

	if kind == Inclusive {
		userValues := len(values)
		if hasNone {
			userValues--
		}
		if userValues > maxInclusiveUserValues {
			return nil, paramerrors.New(paramerrors.InvalidRule, "criterion.Register").WithPath(name).WithDetail("more than 31 user values")
		}
	}

	c := &Criterion{Name: name, Kind: kind, Values: values, byLiteral: byLiteral, byNumber: byNumber}
	if kind == Exclusive && len(values) > 0 {
		c.State = values[0].Numeric
	}
	r.criteria[name] = c
	return c, nil
}

// Lookup resolves a criterion by name.
func (r *Registry) Lookup(name string) (*Criterion, error) {
	c, ok := r.criteria[name]
	if !ok {
		return nil, paramerrors.New(paramerrors.UnknownCriterion, "criterion.Lookup").WithPath(name)
	}
	return c, nil
}

// SetState updates the criterion's state. It is idempotent: setting the
// same state leaves Modified unchanged and reports no change occurred.
func (c *Criterion) SetState(state uint32) (changed bool) {
	if c.State == state {
		return false
	}
	c.State = state
	c.Modified++
	return true
}

// ResetModified clears every criterion's Modified counter; called once
// per commit.
func (r *Registry) ResetModified() {
	for _, c := range r.criteria {
		c.Modified = 0
	}
}

// MultiplyModified returns the names of every criterion whose Modified
// counter is greater than 1, i.e. those that passed through an
// intermediate state never observed by a commit.
// Must be called before ResetModified.
func (r *Registry) MultiplyModified() []string {
	var out []string
	for name, c := range r.criteria {
		if c.Modified > 1 {
			out = append(out, name)
		}
	}
	return out
}

// Snapshot captures criterion states at one instant for rule evaluation,
// decoupling rule.Node from the live, mutable Registry.
type Snapshot map[string]SnapshotEntry

// SnapshotEntry is one criterion's kind and state at snapshot time.
type SnapshotEntry struct {
	Kind  Kind
	State uint32
}

// Snapshot captures the current state of every registered criterion.
func (r *Registry) Snapshot() Snapshot {
	snap := make(Snapshot, len(r.criteria))
	for name, c := range r.criteria {
		snap[name] = SnapshotEntry{Kind: c.Kind, State: c.State}
	}
	return snap
}
