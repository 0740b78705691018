package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scangate/scangate/pkg/types"
)

// Default budgets applied when the file leaves them unset.
const (
	DefaultGlobalTimeout  = 15 * time.Minute
	DefaultAdapterTimeout = 5 * time.Minute
	DefaultRetryCount     = 1
)

// ConfigurationError reports one or more invalid configuration values. It is
// surfaced before any adapter runs; no orchestration starts when it is non-nil.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Duration wraps time.Duration so YAML values like "5m" parse directly.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration, with a fallback when unset.
func (d Duration) Std(fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return time.Duration(d)
}

// ScannerConfig holds the per-scanner declarative options.
type ScannerConfig struct {
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled"`
	// Args are extra native arguments appended to the adapter's invocation.
	Args []string `yaml:"args"`
	// SeverityMap overrides the adapter's native-to-unified severity mapping.
	// Keys are the tool's native names, values must be on the unified scale.
	SeverityMap map[string]string `yaml:"severity_map"`

	// Quality-server fields, used by the sonarqube adapter only.
	URL        string `yaml:"url"`
	ProjectKey string `yaml:"project_key"`
	// TokenEnv names the environment variable holding the server token.
	TokenEnv string `yaml:"token_env"`
}

// IsEnabled reports whether the scanner participates in the run.
func (s ScannerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// GatingConfig controls the pass/fail decision.
type GatingConfig struct {
	// Threshold is the minimum representative severity that fails the run.
	Threshold types.Severity `yaml:"threshold"`
	// Required lists scanner ids whose own execution failure fails the run
	// independent of findings.
	Required []string `yaml:"required"`
}

// OrchestratorConfig bounds the concurrent run.
type OrchestratorConfig struct {
	// MaxParallelism of zero means unlimited up to adapter count.
	MaxParallelism int      `yaml:"max_parallelism"`
	GlobalTimeout  Duration `yaml:"global_timeout"`
	AdapterTimeout Duration `yaml:"adapter_timeout"`
	// RetryCount is the number of retries after the first attempt for
	// transient invocation errors. Negative means use the default.
	RetryCount *int `yaml:"retry_count"`
	FailFast   bool `yaml:"fail_fast"`
}

// Retries returns the configured retry count or the default.
func (o OrchestratorConfig) Retries() int {
	if o.RetryCount == nil || *o.RetryCount < 0 {
		return DefaultRetryCount
	}
	return *o.RetryCount
}

// Config is the full run configuration.
type Config struct {
	Target       string                   `yaml:"target"`
	Gating       GatingConfig             `yaml:"gating"`
	Orchestrator OrchestratorConfig       `yaml:"orchestrator"`
	Scanners     map[string]ScannerConfig `yaml:"scanners"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ConfigurationError{Problems: []string{err.Error()}}
	}
	return &cfg, nil
}

// Validate checks the configuration against the set of known scanner ids.
// It returns a *ConfigurationError listing every problem found, or nil.
func (c *Config) Validate(knownScanners []string) error {
	var problems []string

	if strings.TrimSpace(c.Target) == "" {
		problems = append(problems, "target path is required")
	}

	known := make(map[string]bool, len(knownScanners))
	for _, id := range knownScanners {
		known[id] = true
	}

	for id := range c.Scanners {
		if !known[id] {
			problems = append(problems, fmt.Sprintf("unknown scanner id %q in scanners", id))
		}
	}
	for _, id := range c.Gating.Required {
		if !known[id] {
			problems = append(problems, fmt.Sprintf("unknown scanner id %q in gating.required", id))
			continue
		}
		if sc, ok := c.Scanners[id]; ok && !sc.IsEnabled() {
			problems = append(problems, fmt.Sprintf("required scanner %q is disabled", id))
		}
	}

	for id, sc := range c.Scanners {
		for native, unified := range sc.SeverityMap {
			if _, err := types.ParseSeverity(unified); err != nil {
				problems = append(problems,
					fmt.Sprintf("scanner %q: severity_map[%q]: %v", id, native, err))
			}
		}
	}

	if c.Orchestrator.MaxParallelism < 0 {
		problems = append(problems, "orchestrator.max_parallelism cannot be negative")
	}

	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}
