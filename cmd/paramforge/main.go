// Command paramforge is a thin out-of-core caller of the engine
// package: it loads a process bootstrap configuration (bootconfig),
// wires structure.xml/domains.xml through xmlbinding, starts an
// engine.Engine, and exposes cobra subcommands to drive it:
// PersistentPreRunE builds shared state, PersistentFlags carry global
// options, one cobra.Command per operation.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"paramforge/adapters/telemetryhttp"
	"paramforge/blackboard"
	"paramforge/bootconfig"
	"paramforge/engine"
	"paramforge/telemetry/logging"
	"paramforge/telemetry/metrics"
)

var (
	cfgPath      string
	criteriaPath string
	metricsKind  string

	a *app
)

func main() {
	root := &cobra.Command{
		Use:   "paramforge",
		Short: "paramforge — a typed, rule-driven runtime configuration engine",
		Long: `paramforge loads a structure definition and a set of configurable
domains, then selects and commits parameter values as selection
criteria change, syncing the result to pluggable subsystem backends.`,
		PersistentPreRunE: bootstrap,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "paramforge.yaml", "process bootstrap config file")
	root.PersistentFlags().String("structure_path", "", "override structure.xml path")
	root.PersistentFlags().String("domains_path", "", "override domains.xml path")
	root.PersistentFlags().String("log_level", "", "override log level (debug|info|warn|error)")
	root.PersistentFlags().String("metrics_addr", "", "override telemetry HTTP bind address")
	root.PersistentFlags().Bool("allow_tuning", false, "override allow_tuning")
	root.PersistentFlags().Bool("auto_sync", false, "override auto_sync")
	root.PersistentFlags().StringVar(&criteriaPath, "criteria", "criteria.yaml", "criteria declaration file")
	root.PersistentFlags().StringVar(&metricsKind, "metrics", "noop", "metrics provider: noop|prometheus|otel")

	root.AddCommand(
		validateCmd(),
		serveCmd(),
		applyCmd(),
		getCmd(),
		setCmd(),
		exportSettingsCmd(),
		importSettingsCmd(),
		configCmd(),
		bootconfigCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// bootstrap resolves the ProcessConfig (defaults < YAML file <
// PARAMFORGE_* env < flags) and builds the shared app state every
// subcommand reads from, matching bootconfig.Load's documented layering.
func bootstrap(cmd *cobra.Command, args []string) error {
	cfg, err := bootconfig.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	zerolog.SetGlobalLevel(level)
	logger := logging.New(os.Stderr, "paramforge")

	prov, err := buildMetricsProvider(metricsKind)
	if err != nil {
		return err
	}

	a = &app{cfg: cfg, criteriaPath: criteriaPath, logger: logger, metrics: prov}
	return nil
}

func buildMetricsProvider(kind string) (metrics.Provider, error) {
	switch kind {
	case "", "noop":
		return metrics.NewNoopProvider(), nil
	case "prometheus":
		return metrics.NewPrometheusProvider(metrics.PrometheusProviderOptions{}), nil
	case "otel":
		return metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "paramforge"}), nil
	default:
		return nil, fmt.Errorf("unknown metrics provider %q", kind)
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "load structure.xml and domains.xml and report errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)
			fmt.Println("ok")
			return nil
		},
	}
}

// applyResult mirrors commit.Result for JSON output, rendering Errors
// as strings since error values carry no exported fields json.Marshal
// can serialize meaningfully.
type applyResult struct {
	ID           uuid.UUID                      `json:"id"`
	Winners      map[string]string              `json:"winners"`
	DirtyRegions map[string][]blackboard.Region `json:"dirty_regions"`
	Errors       []string                       `json:"errors,omitempty"`
}

func errorStrings(errs []error) []string {
	if len(errs) == 0 {
		return nil
	}
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Error()
	}
	return out
}

func applyCmd() *cobra.Command {
	var criterionFlags []string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "set criteria and run the commit pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)

			for _, kv := range criterionFlags {
				name, literal, err := splitKV(kv)
				if err != nil {
					return err
				}
				if err := eng.SetCriterionLiteral(ctx, name, literal); err != nil {
					return fmt.Errorf("criterion %s: %w", name, err)
				}
			}

			result, err := eng.ApplyConfigurations(ctx)
			if err != nil {
				return err
			}
			return printJSON(applyResult{
				ID:           result.ID,
				Winners:      result.Winners,
				DirtyRegions: result.DirtyRegions,
				Errors:       errorStrings(result.Errors),
			})
		},
	}
	cmd.Flags().StringArrayVar(&criterionFlags, "criterion", nil, "name=literal, repeatable")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "read one parameter's current value as XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)

			h := eng.NewHandle(args[0])
			out, err := h.GetAsXML()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func setCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <path> <value>",
		Short: "write one parameter's value directly (requires tuning mode)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)

			if err := eng.SetTuningMode(true); err != nil {
				return err
			}
			h := eng.NewHandle(args[0])
			if err := h.SetAsXML(fmt.Sprintf(`<Parameter Value=%q/>`, args[1])); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func exportSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-settings <out-file>",
		Short: "export every domain's stored settings as XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return eng.ExportDomains(f)
		},
	}
}

func importSettingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-settings <in-file>",
		Short: "replace every domain's stored settings from XML, all-or-nothing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			if err := eng.ImportDomains(f); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

// serveCmd starts a long-running process exposing /healthz, /readyz,
// and /metrics, and watches the bootstrap config file for edits. A
// bootstrap config edit is only logged: the running engine, its flags
// and the already-loaded structure tree are left as they are.
func serveCmd() *cobra.Command {
	var settingsFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the engine as a long-lived process with a telemetry HTTP endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)

			watcher, err := bootconfig.NewWatcher(cfgPath)
			if err != nil {
				return err
			}
			defer watcher.Stop()
			changes, watchErrs := watcher.Watch(ctx)
			go func() {
				for {
					select {
					case change, ok := <-changes:
						if !ok {
							return
						}
						a.logger.Info("bootstrap config changed", map[string]any{
							"log_level":  change.Config.LogLevel,
							"changed_at": change.ChangedAt,
						})
					case err, ok := <-watchErrs:
						if !ok {
							return
						}
						a.logger.Warn("config watch error", map[string]any{"error": err.Error()})
					case <-ctx.Done():
						return
					}
				}
			}()

			if settingsFile != "" {
				settingsErrs, err := eng.WatchSettingsFile(ctx, settingsFile)
				if err != nil {
					return err
				}
				go func() {
					for err := range settingsErrs {
						a.logger.Warn("settings reload failed", map[string]any{"error": err.Error(), "file": settingsFile})
					}
				}()
				a.logger.Info("watching settings file for external edits", map[string]any{"file": settingsFile})
			}

			mux := http.NewServeMux()
			mux.Handle("/healthz", telemetryhttp.NewHealthHandler(telemetryhttp.HealthHandlerOptions{Engine: eng, IncludeProbes: true}))
			mux.Handle("/readyz", telemetryhttp.NewReadinessHandler(telemetryhttp.HealthHandlerOptions{Engine: eng, IncludeProbes: true}))
			mux.Handle("/metrics", telemetryhttp.NewMetricsHandler(a.metrics))

			srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			a.logger.Info("serving telemetry endpoint", map[string]any{"addr": a.cfg.MetricsAddr})
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&settingsFile, "watch-settings", "", "reload domain settings when this XML file changes externally")
	return cmd
}

// configCmd groups the per-configuration lifecycle operations. The
// mutating ones flip tuning mode on first, since the engine refuses
// them otherwise.
func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "manage a domain's named configurations"}

	withEngine := func(run func(ctx context.Context, eng *engine.Engine, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer eng.Stop(ctx)
			return run(ctx, eng, args)
		}
	}
	tuned := func(eng *engine.Engine, do func() error) error {
		if err := eng.SetTuningMode(true); err != nil {
			return err
		}
		if err := do(); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "save <domain> <config>",
		Short: "snapshot the current blackboard into a configuration's stored values",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(func(ctx context.Context, eng *engine.Engine, args []string) error {
			return tuned(eng, func() error { return eng.SaveConfiguration(args[0], args[1]) })
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore <domain> <config>",
		Short: "apply a configuration's stored values to the blackboard directly",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(func(ctx context.Context, eng *engine.Engine, args []string) error {
			if err := eng.RestoreConfiguration(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <domain> <old> <new>",
		Short: "rename a configuration, keeping its evaluation position",
		Args:  cobra.ExactArgs(3),
		RunE: withEngine(func(ctx context.Context, eng *engine.Engine, args []string) error {
			return tuned(eng, func() error { return eng.RenameConfiguration(args[0], args[1], args[2]) })
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <domain> <config>",
		Short: "remove a configuration and its stored values",
		Args:  cobra.ExactArgs(2),
		RunE: withEngine(func(ctx context.Context, eng *engine.Engine, args []string) error {
			return tuned(eng, func() error { return eng.DeleteConfiguration(args[0], args[1]) })
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export-binary <domain> <config> <out-file>",
		Short: "export one configuration's stored values as a checksummed binary blob",
		Args:  cobra.ExactArgs(3),
		RunE: withEngine(func(ctx context.Context, eng *engine.Engine, args []string) error {
			f, err := os.Create(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			return eng.ExportConfigurationBinary(f, args[0], args[1])
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "import-binary <domain> <config> <in-file>",
		Short: "replace one configuration's stored values from a binary blob",
		Args:  cobra.ExactArgs(3),
		RunE: withEngine(func(ctx context.Context, eng *engine.Engine, args []string) error {
			data, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			if err := eng.ImportConfigurationBinary(data, args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		}),
	})
	return cmd
}

func bootconfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "bootconfig", Short: "inspect and manage the process bootstrap configuration"}
	cmd.AddCommand(bootconfigShowCmd(), bootconfigVersionsCmd())
	return cmd
}

func bootconfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "print the resolved bootstrap configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(a.cfg)
		},
	}
}

func bootconfigVersionsCmd() *cobra.Command {
	var dir string
	var save string
	var rollback string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "save, list, or roll back bootstrap configuration snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := bootconfig.NewVersionedStore(dir)
			if err != nil {
				return err
			}
			if save != "" {
				id, err := store.Save(a.cfg, save)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			}
			if rollback != "" {
				id, err := parseUUIDArg(rollback)
				if err != nil {
					return err
				}
				cfg, err := store.RollbackTo(id)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			}
			history, err := store.History()
			if err != nil {
				return err
			}
			return printJSON(history)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "versions", "version history directory")
	cmd.Flags().StringVar(&save, "save", "", "save the current config with this description")
	cmd.Flags().StringVar(&rollback, "rollback", "", "print the snapshot saved under this version id")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUUIDArg(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func splitKV(s string) (key, value string, err error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("expected name=value, got %q", s)
}
