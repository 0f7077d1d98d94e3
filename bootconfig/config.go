// Package bootconfig is the engine PROCESS's own bootstrap
// configuration: where the structure/domains XML live, the
// failure_on_missing_subsystem policy, initial tuning/auto-sync flags,
// and the telemetry bind address. This is distinct from the domain
// configurations the engine itself manages — it is the configuration
// of the configuration engine.
package bootconfig

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProcessConfig is the full bootstrap configuration for one paramforge
// process.
type ProcessConfig struct {
	Version                   string    `yaml:"version" json:"version" mapstructure:"version"`
	StructurePath             string    `yaml:"structure_path" json:"structure_path" mapstructure:"structure_path"`
	DomainsPath               string    `yaml:"domains_path" json:"domains_path" mapstructure:"domains_path"`
	FailureOnMissingSubsystem bool      `yaml:"failure_on_missing_subsystem" json:"failure_on_missing_subsystem" mapstructure:"failure_on_missing_subsystem"`
	AllowTuning               bool      `yaml:"allow_tuning" json:"allow_tuning" mapstructure:"allow_tuning"`
	AutoSync                  bool      `yaml:"auto_sync" json:"auto_sync" mapstructure:"auto_sync"`
	LogLevel                  string    `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	MetricsAddr               string    `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	UpdatedAt                 time.Time `yaml:"updated_at" json:"updated_at"`
	Checksum                  string    `yaml:"checksum,omitempty" json:"checksum,omitempty" mapstructure:"checksum"`
}

// Default returns the out-of-the-box ProcessConfig.
func Default() *ProcessConfig {
	return &ProcessConfig{
		Version:                   "v1",
		StructurePath:             "structure.xml",
		DomainsPath:               "domains.xml",
		FailureOnMissingSubsystem: false,
		AllowTuning:               true,
		AutoSync:                  false,
		LogLevel:                  "info",
		MetricsAddr:               ":9090",
	}
}

// Load reads ProcessConfig from a layered source: built-in defaults,
// then the YAML file at path (if it exists), then PARAMFORGE_*
// environment variables, then flags already bound to fs (if non-nil).
// A cobra/pflag flag set, when given, is the fourth and
// highest-priority layer.
func Load(path string, fs *pflag.FlagSet) (*ProcessConfig, error) {
	v := viper.New()

	def := Default()
	defBytes, err := yaml.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("bootconfig: marshal defaults: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(string(defBytes))); err != nil {
		return nil, fmt.Errorf("bootconfig: load defaults: %w", err)
	}

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("bootconfig: read config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(statErr) {
			return nil, fmt.Errorf("bootconfig: stat config file %s: %w", path, statErr)
		}
	}

	v.SetEnvPrefix("PARAMFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bootconfig: bind flags: %w", err)
		}
	}

	var cfg ProcessConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("bootconfig: unmarshal: %w", err)
	}
	cfg.UpdatedAt = time.Now()
	cfg.Checksum = Checksum(&cfg)
	return &cfg, nil
}

// Checksum is the SHA-256 of cfg's canonical JSON form with Checksum
// itself blanked out.
func Checksum(cfg *ProcessConfig) string {
	cp := *cfg
	cp.Checksum = ""
	data, _ := json.Marshal(cp)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Validate fails loud on nonsense, not on absence: only present but
// invalid values are errors.
func (c *ProcessConfig) Validate() error {
	if c.StructurePath == "" {
		return fmt.Errorf("bootconfig: structure_path is required")
	}
	if c.DomainsPath == "" {
		return fmt.Errorf("bootconfig: domains_path is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("bootconfig: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// SaveToPath writes cfg as YAML to path, creating parent directories as
// needed.
func (c *ProcessConfig) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("bootconfig: create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("bootconfig: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
