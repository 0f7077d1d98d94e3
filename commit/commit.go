// Package commit implements the six-step apply pipeline: snapshot,
// select, compose, diff, sync, log.
package commit

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"paramforge/backend"
	"paramforge/blackboard"
	"paramforge/criterion"
	"paramforge/domain"
	"paramforge/paramerrors"
	"paramforge/structure"
	"paramforge/telemetry/logging"
	"paramforge/telemetry/metrics"
)

var tracer = otel.Tracer("paramforge/commit")

// SubsystemSync resolves a subsystem name to its instantiated sync
// object, built once at engine startup from backend.Registry.
type SubsystemSync interface {
	Lookup(subsystemName string) (backend.SyncObject, bool)
}

// Pipeline wires together everything one Commit call needs.
type Pipeline struct {
	Tree     *structure.Tree
	Criteria *criterion.Registry
	Domains  []*domain.Domain
	Main     *blackboard.Blackboard
	Backends SubsystemSync
	Logger   logging.Logger
	Metrics  metrics.Provider
}

// Result reports what one commit did.
type Result struct {
	ID           uuid.UUID
	Winners      map[string]string // domain name -> winning configuration name
	DirtyRegions map[string][]blackboard.Region
	Errors       []error
}

// Commit runs the full select/compose/diff/sync/log pipeline against
// the pipeline's current criteria snapshot. Sync failures are collected
// but never abort the commit: the pending blackboard is still promoted
// to main.
func (p *Pipeline) Commit(ctx context.Context) (*Result, error) {
	ctx, span := tracer.Start(ctx, "commit.Commit")
	defer span.End()

	id := uuid.New()
	result := &Result{ID: id, Winners: make(map[string]string), DirtyRegions: make(map[string][]blackboard.Region)}

	// Step 1: snapshot criteria.
	snap := p.Criteria.Snapshot()

	// Step 2: select, in domain declaration order.
	winners := make(map[*domain.Domain]*domain.Configuration)
	for _, d := range p.Domains {
		cfg, err := selectWinner(d, snap)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if cfg != nil {
			winners[d] = cfg
			result.Winners[d.Name] = cfg.Name
		}
	}

	// Step 3: compose into a pending blackboard.
	pending := p.Main.Clone()
	for d, cfg := range winners {
		if err := compose(pending, d, cfg, p.Tree); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}

	// Step 4: diff per owning subsystem, each region grown to the
	// footprint boundaries of the leaf parameters it touches.
	regions := blackboard.Diff(p.Main, pending)
	ordered := splitBySubsystem(regions, p.Tree)
	for _, sr := range ordered {
		result.DirtyRegions[sr.name] = sr.regions
	}

	// Step 5: sync in the order subsystem roots appear in the structure
	// tree, collecting failures.
	if p.Backends != nil {
		for _, sr := range ordered {
			sync, ok := p.Backends.Lookup(sr.name)
			if !ok {
				result.Errors = append(result.Errors, paramerrors.New(paramerrors.BackendError, "commit.Commit").WithPath(sr.name).WithDetail("no sync object for subsystem"))
				continue
			}
			for _, r := range sr.regions {
				data := pending.ReadBytes(r.Offset, r.Size)
				if err := sync.Send(ctx, r, data); err != nil {
					result.Errors = append(result.Errors, err)
				}
			}
		}
	}
	p.Main.WriteBytes(0, pending.Bytes())
	multiplyModified := p.Criteria.MultiplyModified()
	p.Criteria.ResetModified()

	// Step 6: log one event per winner, a warning per multiply-modified
	// criterion observed in this snapshot.
	if p.Logger != nil {
		for domainName, cfgName := range result.Winners {
			p.Logger.InfoCtx(ctx, "configuration applied", map[string]any{
				"commit_id": id.String(), "domain": domainName, "configuration": cfgName,
			})
		}
		for _, name := range multiplyModified {
			p.Logger.WarnCtx(ctx, "criterion changed multiple times between commits", map[string]any{
				"commit_id": id.String(), "criterion": name,
			})
		}
	}
	if p.Metrics != nil {
		counter := p.Metrics.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
			Namespace: "paramforge", Subsystem: "commit", Name: "total", Help: "total commits executed",
		}})
		counter.Inc(1)
	}

	if len(result.Errors) > 0 {
		span.AddEvent(fmt.Sprintf("commit completed with %d backend errors", len(result.Errors)))
	}
	return result, nil
}

func selectWinner(d *domain.Domain, snap criterion.Snapshot) (*domain.Configuration, error) {
	for _, cfg := range d.Configurations {
		if cfg.Rule == nil {
			continue
		}
		ok, err := cfg.Rule.Evaluate(snap)
		if err != nil {
			return nil, paramerrors.Wrap(paramerrors.InvalidRule, "commit.selectWinner", err).WithPath(d.Name)
		}
		if ok {
			return cfg, nil
		}
	}
	return nil, nil
}

// compose merges cfg's stored area into pending, per element, handling
// both flat byte regions and bitwise fields.
func compose(pending *blackboard.Blackboard, d *domain.Domain, cfg *domain.Configuration, tree *structure.Tree) error {
	elements := d.Elements
	if d.SequenceAware && len(d.Sequence) > 0 {
		elements = d.Sequence
	}
	for _, path := range elements {
		area, ok := cfg.Area[path]
		if !ok {
			continue
		}
		in, err := tree.Lookup(path)
		if err != nil {
			return err
		}
		if len(area.Bitwise) > 0 {
			for _, bw := range area.Bitwise {
				pending.WriteBitField(area.Endian, in.Offset, in.Footprint, bw.Position, bw.Width, bw.Value)
			}
			continue
		}
		if len(area.Region) > 0 {
			pending.WriteBytes(in.Offset, area.Region)
		}
	}
	return nil
}

// subsystemRegions is one subsystem's dirty regions. A slice, not a
// map: the sync loop must call backends in the order their subsystem
// roots appear in the structure tree, not in map iteration order.
type subsystemRegions struct {
	name    string
	regions []blackboard.Region
}

// splitBySubsystem buckets dirty regions under the subsystem owning
// their byte range, in structure-tree order, growing each region to
// whole-leaf boundaries: backends sync complete scalars, strings, and
// bit blocks, never a partial slice of one.
func splitBySubsystem(regions []blackboard.Region, tree *structure.Tree) []subsystemRegions {
	var out []subsystemRegions
	for _, root := range tree.Roots {
		if root.Subsystem == nil {
			continue
		}
		var owned []blackboard.Region
		rootEnd := root.Offset + root.Footprint
		for _, r := range regions {
			// Diff coalesces adjacent bytes across subsystem boundaries,
			// so clip each region to this root's byte range.
			lo, hi := r.Offset, r.End()
			if lo < root.Offset {
				lo = root.Offset
			}
			if hi > rootEnd {
				hi = rootEnd
			}
			if lo < hi {
				owned = append(owned, blackboard.Region{Offset: lo, Size: hi - lo})
			}
		}
		if len(owned) == 0 {
			continue
		}
		out = append(out, subsystemRegions{name: root.Subsystem.Name, regions: alignToLeaves(owned, root)})
	}
	return out
}

// alignToLeaves grows each dirty byte run outward to the footprint
// boundaries of the leaf parameters it intersects, then re-coalesces
// runs that meet after growing. Diff emits regions in ascending offset
// order, which for leaves is depth-first structural order, so the
// result stays ordered.
func alignToLeaves(regions []blackboard.Region, root *structure.Instance) []blackboard.Region {
	var leaves []*structure.Instance
	var collect func(*structure.Instance)
	collect = func(in *structure.Instance) {
		if in.IsLeaf() {
			leaves = append(leaves, in)
			return
		}
		for _, c := range in.Children {
			collect(c)
		}
	}
	collect(root)

	var out []blackboard.Region
	for _, r := range regions {
		start, end := r.Offset, r.End()
		for _, leaf := range leaves {
			lo, hi := leaf.Offset, leaf.Offset+leaf.Footprint
			if hi <= r.Offset || lo >= r.End() {
				continue
			}
			if lo < start {
				start = lo
			}
			if hi > end {
				end = hi
			}
		}
		if n := len(out) - 1; n >= 0 && start <= out[n].End() {
			if end > out[n].End() {
				out[n].Size = end - out[n].Offset
			}
		} else {
			out = append(out, blackboard.Region{Offset: start, Size: end - start})
		}
	}
	return out
}
