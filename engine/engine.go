// Package engine is the top-level facade: one engine mutex serializing
// criterion sets, commits, and handle-mediated reads/writes, plus the
// tuning-mode and auto-sync policy that governs direct blackboard
// writes.
package engine

import (
	"context"
	"errors"
	"io"
	"sync"

	"paramforge/backend"
	"paramforge/blackboard"
	"paramforge/commit"
	"paramforge/criterion"
	"paramforge/domain"
	"paramforge/handle"
	"paramforge/paramerrors"
	"paramforge/ptype"
	"paramforge/rule"
	"paramforge/structure"
	"paramforge/telemetry/health"
	"paramforge/telemetry/logging"
	"paramforge/telemetry/metrics"
	"paramforge/xmlbinding"
)

// Options configures a new Engine. AllowTuning distinguishes a
// locked-down production engine from a tunable one: when false,
// SetTuningMode(true) is refused outright rather than exposed through
// a second engine type.
type Options struct {
	AllowTuning bool
	AutoSync    bool
	// FailureOnMissingSubsystem makes Start fail outright when a
	// subsystem's backend cannot be resolved or instantiated; when
	// false the subsystem is marked missing and skipped.
	FailureOnMissingSubsystem bool
	Logger                    logging.Logger
	Metrics                   metrics.Provider
	Health                    *health.Evaluator
}

// Engine owns the whole runtime state of one parameter-framework
// instance: the immutable structure tree, the mutable criteria and
// domain registries, the main blackboard, and the resolved backend
// sync objects, all serialized by mu.
type Engine struct {
	mu sync.Mutex

	tree     *structure.Tree
	criteria *criterion.Registry
	domains  *domain.Registry
	main     *blackboard.Blackboard
	backends *backend.Registry
	sync     map[string]backend.SyncObject // subsystem name -> instantiated sync object

	tuning        bool
	autoSync      bool
	allowTuning   bool
	failOnMissing bool

	logger  logging.Logger
	metrics metrics.Provider
	health  *health.Evaluator
}

// New constructs an Engine over an already-loaded structure tree and
// domain registry. The main blackboard is allocated to the tree's
// aggregate footprint, zeroed.
func New(tree *structure.Tree, criteria *criterion.Registry, domains *domain.Registry, backends *backend.Registry, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNoop()
	}
	prov := opts.Metrics
	if prov == nil {
		prov = metrics.NewNoopProvider()
	}
	return &Engine{
		tree:          tree,
		criteria:      criteria,
		domains:       domains,
		main:          blackboard.New(tree.TotalSize()),
		backends:      backends,
		sync:          make(map[string]backend.SyncObject),
		autoSync:      opts.AutoSync,
		allowTuning:   opts.AllowTuning,
		failOnMissing: opts.FailureOnMissingSubsystem,
		logger:        logger,
		metrics:       prov,
		health:        opts.Health,
	}
}

// Start resolves and instantiates one SyncObject per declared
// subsystem, matching each root's Subsystem.Type against the backend
// registry, then back-syncs each subsystem's current
// state into the main blackboard through SyncObject.Receive where the
// backend supports it. A backend that cannot be resolved or refuses
// construction either fails Start or leaves its subsystem marked
// missing, per the FailureOnMissingSubsystem policy. After Start, the
// structure is immutable.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.backends == nil {
		return nil
	}
	for _, root := range e.tree.Roots {
		sub := root.Subsystem
		if sub == nil || sub.Type == "" {
			continue
		}
		b, err := e.backends.Resolve(sub.Type)
		if err != nil {
			if e.failOnMissing {
				return err
			}
			e.logger.Warn("subsystem backend missing", map[string]any{"subsystem": sub.Name, "type": sub.Type})
			continue
		}
		if b.Endianness() != sub.Endianness {
			return paramerrors.New(paramerrors.SchemaError, "engine.Start").WithPath(sub.Name).WithDetail("backend endianness mismatch")
		}
		obj, err := b.Instantiate(backend.InstanceDescriptor{Name: sub.Name, Type: sub.Type}, sub.Mapping)
		if err != nil {
			if e.failOnMissing {
				return paramerrors.Wrap(paramerrors.BackendError, "engine.Start", err).WithPath(sub.Name)
			}
			e.logger.Warn("subsystem backend refused construction", map[string]any{"subsystem": sub.Name, "type": sub.Type, "error": err.Error()})
			continue
		}
		e.sync[sub.Name] = obj

		region := blackboard.Region{Offset: root.Offset, Size: root.Footprint}
		data, err := obj.Receive(ctx, region)
		switch {
		case errors.Is(err, backend.ErrUnsupported):
			// write-only backend
		case err != nil:
			e.logger.Warn("subsystem back-sync failed", map[string]any{"subsystem": sub.Name, "error": err.Error()})
		case len(data) != root.Footprint:
			e.logger.Warn("subsystem back-sync returned wrong footprint", map[string]any{"subsystem": sub.Name, "got": len(data), "want": root.Footprint})
		default:
			e.main.WriteBytes(root.Offset, data)
		}
	}
	e.logger.Info("engine started", map[string]any{"subsystems": len(e.sync)})
	return nil
}

// Stop releases nothing of its own; it exists for symmetry with Start
// and as the natural place to drain in-flight auto-sync work in a
// future revision.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("engine stopped", nil)
	return nil
}

// Lookup implements commit.SubsystemSync, handing the pipeline the sync
// objects Start resolved.
func (e *Engine) Lookup(subsystemName string) (backend.SyncObject, bool) {
	obj, ok := e.sync[subsystemName]
	return obj, ok
}

// SetCriterionState updates a criterion's raw numeric state. Outside
// tuning mode with auto-sync on, a state change triggers a deferred
// apply at the end of this call.
func (e *Engine) SetCriterionState(ctx context.Context, name string, state uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setCriterionStateLocked(ctx, name, state)
}

func (e *Engine) setCriterionStateLocked(ctx context.Context, name string, state uint32) error {
	c, err := e.criteria.Lookup(name)
	if err != nil {
		return err
	}
	changed := c.SetState(state)
	if changed && e.autoSync && !e.tuning {
		if _, err := e.applyConfigurationsLocked(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SetCriterionLiteral resolves literal against the criterion's declared
// value table before delegating to SetCriterionState.
func (e *Engine) SetCriterionLiteral(ctx context.Context, name, literal string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.criteria.Lookup(name)
	if err != nil {
		return err
	}
	num, ok := c.ValueOf(literal)
	if !ok {
		return paramerrors.New(paramerrors.UnknownCriterion, "engine.SetCriterionLiteral").WithPath(name).WithDetail("unknown literal " + literal)
	}
	return e.setCriterionStateLocked(ctx, name, num)
}

// ApplyConfigurations runs the full commit pipeline.
// While tuning mode is on, it performs no blackboard mutation and no
// backend call.
func (e *Engine) ApplyConfigurations(ctx context.Context) (*commit.Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyConfigurationsLocked(ctx)
}

func (e *Engine) applyConfigurationsLocked(ctx context.Context) (*commit.Result, error) {
	if e.tuning {
		return &commit.Result{Winners: map[string]string{}, DirtyRegions: map[string][]blackboard.Region{}}, nil
	}
	p := &commit.Pipeline{
		Tree:     e.tree,
		Criteria: e.criteria,
		Domains:  e.domains.All(),
		Main:     e.main,
		Backends: e,
		Logger:   e.logger,
		Metrics:  e.metrics,
	}
	return p.Commit(ctx)
}

// SetTuningMode toggles tuning mode. Enabling it when the engine was
// constructed without AllowTuning is refused with StateConflict,
// preserving the locked-down "platform connector" guarantee without a
// second engine type.
func (e *Engine) SetTuningMode(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on && !e.allowTuning {
		return paramerrors.New(paramerrors.StateConflict, "engine.SetTuningMode").WithDetail("tuning mode disabled for this engine instance")
	}
	e.tuning = on
	return nil
}

// SetAutoSync toggles the auto-sync policy.
func (e *Engine) SetAutoSync(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoSync = on
}

// NewHandle returns a typed accessor bound to path.
func (e *Engine) NewHandle(path string) *handle.Handle {
	return handle.New(path, e)
}

// Descriptor implements handle's accessor interface.
func (e *Engine) Descriptor(path string) (ptype.Descriptor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, err := e.tree.Lookup(path)
	if err != nil {
		return nil, err
	}
	return in.Type, nil
}

// GetRaw implements handle's accessor interface: reads always observe
// committed state or an in-flight tuning-mode write, never a partial
// commit, because they share the engine mutex with Commit.
func (e *Engine) GetRaw(path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, err := e.tree.Lookup(path)
	if err != nil {
		return nil, err
	}
	return e.main.ReadBytes(in.Offset, in.Footprint), nil
}

// Endianness implements handle's accessor interface, resolving the
// byte order governing path from its owning subsystem.
func (e *Engine) Endianness(path string) (blackboard.Endianness, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, err := e.tree.Lookup(path)
	if err != nil {
		return blackboard.Little, err
	}
	if sub := in.ResolveSubsystem(); sub != nil {
		return sub.Endianness, nil
	}
	return blackboard.Little, nil
}

// Children implements handle's accessor interface: the immediate child
// paths of path, including its addressable bit fields, if any; the
// subtree handle operations walk these.
func (e *Engine) Children(path string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	in, err := e.tree.Lookup(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(in.Children)+len(in.BitFields))
	for _, c := range in.Children {
		out = append(out, c.Path())
	}
	for _, bf := range in.BitFields {
		out = append(out, bf.Path())
	}
	return out, nil
}

// SetRaw implements handle's accessor interface: in
// tuning mode, writes go directly to the main blackboard and bypass
// domain ownership. Outside tuning mode, only rogue (domain-unowned)
// paths may be written directly; owned paths are refused with
// NotRogue, and a successful rogue write syncs immediately when
// auto-sync is on.
func (e *Engine) SetRaw(path string, raw []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, err := e.tree.Lookup(path)
	if err != nil {
		return err
	}
	if len(raw) != in.Footprint {
		return paramerrors.New(paramerrors.TypeMismatch, "engine.SetRaw").WithPath(path).WithDetail("wrong footprint")
	}

	if !e.tuning {
		if _, owned := e.domains.OwnerOf(path); owned {
			return paramerrors.New(paramerrors.NotRogue, "engine.SetRaw").WithPath(path)
		}
	}

	if bf, ok := in.Type.(ptype.BitFieldType); ok {
		end := blackboard.Little
		if sub := in.ResolveSubsystem(); sub != nil {
			end = sub.Endianness
		}
		v := blackboard.FromBytes(raw).ReadBitField(end, 0, in.Footprint, bf.Field.Position, bf.Field.Width)
		e.main.WriteBitField(end, in.Offset, in.Footprint, bf.Field.Position, bf.Field.Width, v)
	} else {
		e.main.WriteBytes(in.Offset, raw)
	}

	if !e.tuning && e.autoSync && in.ResolveSubsystem() != nil {
		if sync, ok := e.sync[in.ResolveSubsystem().Name]; ok {
			region := blackboard.Region{Offset: in.Offset, Size: in.Footprint}
			// Send the merged region, not the staged raw: for a bit
			// field, raw is an isolated word holding only this field,
			// and the sink must see its siblings too.
			data := e.main.ReadBytes(in.Offset, in.Footprint)
			if err := sync.Send(context.Background(), region, data); err != nil {
				return paramerrors.Wrap(paramerrors.BackendError, "engine.SetRaw", err).WithPath(path)
			}
		}
	}
	return nil
}

// AddConfigurableElement adds path to the named domain.
func (e *Engine) AddConfigurableElement(domainName, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	return e.domains.AddConfigurableElement(d, path)
}

// RemoveConfigurableElement releases path from the named domain; with
// Split this gives callers the merge recipe (remove all children, add
// the parent back).
func (e *Engine) RemoveConfigurableElement(domainName, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	return e.domains.RemoveConfigurableElement(d, path)
}

// SplitDomainElement replaces a composite element of the named domain
// with its immediate children, each inheriting its slice of every
// configuration's stored values.
func (e *Engine) SplitDomainElement(domainName, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	return e.domains.Split(d, path)
}

// CreateConfiguration appends a new rule-guarded configuration to the
// named domain. Like every configuration mutation, it requires tuning
// mode to be on.
func (e *Engine) CreateConfiguration(domainName, configName string, matchRule rule.Node) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tuning {
		return paramerrors.New(paramerrors.StateConflict, "engine.CreateConfiguration").WithPath(configName).WithDetail("tuning mode is off")
	}
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	if _, exists := d.Configuration(configName); exists {
		return paramerrors.New(paramerrors.StateConflict, "engine.CreateConfiguration").WithPath(configName).WithDetail("configuration name already in use")
	}
	if matchRule != nil {
		if err := matchRule.Validate(e.criteria.Snapshot()); err != nil {
			return err
		}
	}
	d.AddConfiguration(configName, matchRule)
	return nil
}

// RenameConfiguration renames a configuration of the named domain.
func (e *Engine) RenameConfiguration(domainName, oldName, newName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tuning {
		return paramerrors.New(paramerrors.StateConflict, "engine.RenameConfiguration").WithPath(oldName).WithDetail("tuning mode is off")
	}
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	return d.RenameConfiguration(oldName, newName)
}

// DeleteConfiguration removes a configuration from the named domain.
func (e *Engine) DeleteConfiguration(domainName, configName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tuning {
		return paramerrors.New(paramerrors.StateConflict, "engine.DeleteConfiguration").WithPath(configName).WithDetail("tuning mode is off")
	}
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	return d.DeleteConfiguration(configName)
}

// SaveConfiguration snapshots the current main blackboard into cfg's
// stored area, one region per element the domain owns. Requires tuning
// mode: tuning-mode writes are the ground truth being captured.
func (e *Engine) SaveConfiguration(domainName, configName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.tuning {
		return paramerrors.New(paramerrors.StateConflict, "engine.SaveConfiguration").WithPath(configName).WithDetail("tuning mode is off")
	}
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	cfg, ok := d.Configuration(configName)
	if !ok {
		return paramerrors.New(paramerrors.UnknownConfiguration, "engine.SaveConfiguration").WithPath(configName)
	}
	for _, path := range d.Elements {
		in, err := e.tree.Lookup(path)
		if err != nil {
			return err
		}
		end := blackboard.Little
		if sub := in.ResolveSubsystem(); sub != nil {
			end = sub.Endianness
		}
		if bf, ok := in.Type.(ptype.BitFieldType); ok {
			v := e.main.ReadBitField(end, in.Offset, in.Footprint, bf.Field.Position, bf.Field.Width)
			cfg.Area[path] = &domain.ElementArea{
				Path:     path,
				Bitwise:  []domain.BitwiseArea{{Position: bf.Field.Position, Width: bf.Field.Width, Value: v}},
				Endian:   end,
				Offset:   in.Offset,
				BlockLen: in.Footprint,
			}
			continue
		}
		cfg.Area[path] = &domain.ElementArea{
			Path:     path,
			Region:   e.main.ReadBytes(in.Offset, in.Footprint),
			Endian:   end,
			Offset:   in.Offset,
			BlockLen: in.Footprint,
		}
	}
	return nil
}

// RestoreConfiguration composes configName's stored area directly onto
// the main blackboard, bypassing rule evaluation; used to preview or
// force one specific configuration outside the normal commit pipeline.
func (e *Engine) RestoreConfiguration(ctx context.Context, domainName, configName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	cfg, ok := d.Configuration(configName)
	if !ok {
		return paramerrors.New(paramerrors.UnknownConfiguration, "engine.RestoreConfiguration").WithPath(configName)
	}
	for path, area := range cfg.Area {
		in, err := e.tree.Lookup(path)
		if err != nil {
			return err
		}
		if len(area.Bitwise) > 0 {
			for _, bw := range area.Bitwise {
				e.main.WriteBitField(area.Endian, in.Offset, in.Footprint, bw.Position, bw.Width, bw.Value)
			}
			continue
		}
		if len(area.Region) > 0 {
			e.main.WriteBytes(in.Offset, area.Region)
		}
	}
	return nil
}

// ExportDomains writes every domain's settings as XML, stamped with the
// current structure checksum.
func (e *Engine) ExportDomains(w io.Writer) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return xmlbinding.ExportSettings(w, e.domains.All(), e.tree)
}

// ImportDomains replaces every domain's settings from r, all-or-nothing:
// a single checksum or parse failure anywhere leaves every domain's
// current settings untouched.
func (e *Engine) ImportDomains(r io.Reader) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return xmlbinding.ImportSettings(r, e.domains.All(), e.tree)
}

// ExportConfigurationBinary writes one configuration's stored area as
// a checksum-prefixed binary blob.
func (e *Engine) ExportConfigurationBinary(w io.Writer, domainName, configName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	cfg, ok := d.Configuration(configName)
	if !ok {
		return paramerrors.New(paramerrors.UnknownConfiguration, "engine.ExportConfigurationBinary").WithPath(configName)
	}
	return xmlbinding.ExportBinarySettings(w, cfg, d, e.tree)
}

// ImportConfigurationBinary replaces one configuration's stored area
// from a blob produced by ExportConfigurationBinary; a structure
// checksum mismatch rejects the whole blob.
func (e *Engine) ImportConfigurationBinary(data []byte, domainName, configName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, err := e.domains.Lookup(domainName)
	if err != nil {
		return err
	}
	cfg, ok := d.Configuration(configName)
	if !ok {
		return paramerrors.New(paramerrors.UnknownConfiguration, "engine.ImportConfigurationBinary").WithPath(configName)
	}
	return xmlbinding.ImportBinarySettings(data, cfg, d, e.tree)
}

// HealthSnapshot reports the bound health.Evaluator's current snapshot,
// or a healthy empty snapshot if no evaluator was configured.
func (e *Engine) HealthSnapshot(ctx context.Context) health.Snapshot {
	if e.health == nil {
		return health.Snapshot{Overall: health.StatusHealthy}
	}
	return e.health.Evaluate(ctx)
}
