package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"paramforge/backend"
	"paramforge/bootconfig"
	"paramforge/criterion"
	"paramforge/domain"
	"paramforge/engine"
	"paramforge/structure"
	"paramforge/telemetry/health"
	"paramforge/telemetry/logging"
	"paramforge/telemetry/metrics"
	"paramforge/xmlbinding"
)

// app bundles the resolved bootstrap configuration and ambient
// dependencies every subcommand needs to stand up its own engine: one
// shared struct built in PersistentPreRunE and read by every RunE.
type app struct {
	cfg          *bootconfig.ProcessConfig
	criteriaPath string
	logger       logging.Logger
	metrics      metrics.Provider
}

func (a *app) buildTree() (*structure.Tree, error) {
	f, err := os.Open(a.cfg.StructurePath)
	if err != nil {
		return nil, fmt.Errorf("open structure file %s: %w", a.cfg.StructurePath, err)
	}
	defer f.Close()
	return xmlbinding.LoadStructure(f)
}

func (a *app) buildDomains(tree *structure.Tree) (*domain.Registry, error) {
	f, err := os.Open(a.cfg.DomainsPath)
	if err != nil {
		return nil, fmt.Errorf("open domains file %s: %w", a.cfg.DomainsPath, err)
	}
	defer f.Close()
	loaded, err := xmlbinding.LoadDomains(f, tree)
	if err != nil {
		return nil, err
	}
	return domain.NewRegistryFromDomains(tree, loaded)
}

// buildEngine loads structure.xml and domains.xml, registers the
// declared criteria and stock backends, and starts a fresh Engine —
// every subcommand gets its own in-memory engine instance; the only
// cross-invocation persistence is the settings XML and domain
// configurations loaded from disk.
func (a *app) buildEngine(ctx context.Context) (*engine.Engine, error) {
	tree, err := a.buildTree()
	if err != nil {
		return nil, err
	}

	domains, err := a.buildDomains(tree)
	if err != nil {
		return nil, err
	}

	criteria := criterion.NewRegistry()
	if err := loadCriteriaFile(criteria, a.criteriaPath); err != nil {
		return nil, err
	}

	backends := backend.NewRegistry()
	registerBackends(backends, a.logger, 5*time.Second)

	evaluator := health.NewEvaluator(5*time.Second, health.ProbeFunc(func(ctx context.Context) health.ProbeResult {
		return health.ProbeResult{Name: "engine", Status: health.StatusHealthy, CheckedAt: time.Now()}
	}))

	eng := engine.New(tree, criteria, domains, backends, engine.Options{
		AllowTuning:               a.cfg.AllowTuning,
		AutoSync:                  a.cfg.AutoSync,
		FailureOnMissingSubsystem: a.cfg.FailureOnMissingSubsystem,
		Logger:      a.logger,
		Metrics:     a.metrics,
		Health:      evaluator,
	})
	if err := eng.Start(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}
