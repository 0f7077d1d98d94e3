// Package rule implements the boolean rule tree that selects a
// configuration's winner during commit.
package rule

import (
	"paramforge/criterion"
	"paramforge/paramerrors"
)

// CompositeOp is the boolean combinator of a Composite node.
type CompositeOp int

const (
	All CompositeOp = iota
	Any
)

// MatchMethod is one atomic comparison against a criterion's state.
type MatchMethod int

const (
	Is MatchMethod = iota
	IsNot
	Includes
	Excludes
)

// Node is one rule tree node: Composite or Atomic.
type Node interface {
	Evaluate(snap criterion.Snapshot) (bool, error)
	// Validate cross-checks match methods against criterion kinds at
	// load time, before any Evaluate call.
	Validate(snap criterion.Snapshot) error
}

// Composite combines children with All (short-circuits on first false)
// or Any (short-circuits on first true).
type Composite struct {
	Op       CompositeOp
	Children []Node
}

func (c *Composite) Evaluate(snap criterion.Snapshot) (bool, error) {
	switch c.Op {
	case All:
		for _, child := range c.Children {
			ok, err := child.Evaluate(snap)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case Any:
		for _, child := range c.Children {
			ok, err := child.Evaluate(snap)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, paramerrors.New(paramerrors.InvalidRule, "Composite.Evaluate").WithDetail("unknown composite op")
	}
}

func (c *Composite) Validate(snap criterion.Snapshot) error {
	for _, child := range c.Children {
		if err := child.Validate(snap); err != nil {
			return err
		}
	}
	return nil
}

// Atomic compares one criterion's state against Operand by Method.
type Atomic struct {
	Criterion string
	Method    MatchMethod
	Operand   uint32
}

func (a *Atomic) Evaluate(snap criterion.Snapshot) (bool, error) {
	entry, ok := snap[a.Criterion]
	if !ok {
		return false, paramerrors.New(paramerrors.UnknownCriterion, "Atomic.Evaluate").WithPath(a.Criterion)
	}
	switch a.Method {
	case Is:
		return entry.State == a.Operand, nil
	case IsNot:
		return entry.State != a.Operand, nil
	case Includes:
		return entry.State&a.Operand == a.Operand, nil
	case Excludes:
		return entry.State&a.Operand == 0, nil
	default:
		return false, paramerrors.New(paramerrors.InvalidRule, "Atomic.Evaluate").WithDetail("unknown match method")
	}
}

// Validate rejects Is/IsNot against an Inclusive criterion and
// Includes/Excludes against an Exclusive one.
func (a *Atomic) Validate(snap criterion.Snapshot) error {
	entry, ok := snap[a.Criterion]
	if !ok {
		return paramerrors.New(paramerrors.UnknownCriterion, "Atomic.Validate").WithPath(a.Criterion)
	}
	switch a.Method {
	case Is, IsNot:
		if entry.Kind == criterion.Inclusive {
			return paramerrors.New(paramerrors.InvalidRule, "Atomic.Validate").WithPath(a.Criterion).WithDetail("Is/IsNot against inclusive criterion")
		}
	case Includes, Excludes:
		if entry.Kind == criterion.Exclusive {
			return paramerrors.New(paramerrors.InvalidRule, "Atomic.Validate").WithPath(a.Criterion).WithDetail("Includes/Excludes against exclusive criterion")
		}
	default:
		return paramerrors.New(paramerrors.InvalidRule, "Atomic.Validate").WithDetail("unknown match method")
	}
	return nil
}
