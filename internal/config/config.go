package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mutiny/internal/logging"
)

// FileName is the configuration file looked up in the workspace root.
const FileName = "mutiny.yaml"

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all mutiny configuration.
type Config struct {
	// Python source file under test, relative to the workspace.
	Target string `yaml:"target"`

	// Pytest paths handed to the test command.
	Tests []string `yaml:"tests"`

	// Interpreter used as `<python> -m pytest`.
	Python string `yaml:"python"`

	PytestArgs []string `yaml:"pytest_args"`

	// Enabled operator codes. Empty enables every operator.
	Operators []string `yaml:"operators,omitempty"`

	// Routines copied into tested_routines_source.py. Empty means every
	// routine that holds at least one mutant.
	Routines []string `yaml:"routines,omitempty"`

	// Drop rewrites that produce the same mutated line twice.
	Dedupe bool `yaml:"dedupe"`

	Execution ExecutionConfig `yaml:"execution"`
	Output    OutputConfig    `yaml:"output"`
	Store     StoreConfig     `yaml:"store"`
	Logging   logging.Options `yaml:"logging"`
}

// KnownOperators lists the operator codes accepted in `operators`.
var KnownOperators = []string{
	"AOR", "ROR", "LCR", "CDL", "UOI", "RIL",
	"STR", "MSI", "IOD", "TYP", "DCI", "FCR",
}

// DefaultPytestArgs mirror `pytest -v --tb=short -x` with the cache plugin
// disabled so runs leave no .pytest_cache behind.
var DefaultPytestArgs = []string{"-v", "--tb=short", "-x", "-p", "no:cacheprovider"}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Tests:      []string{"tests"},
		Python:     "python3",
		PytestArgs: append([]string(nil), DefaultPytestArgs...),
		Dedupe:     true,
		Execution:  DefaultExecutionConfig(),
		Output:     DefaultOutputConfig(),
		Store:      DefaultStoreConfig(),
		Logging: logging.Options{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadWorkspace loads <ws>/mutiny.yaml.
func LoadWorkspace(ws string) (*Config, error) {
	return Load(filepath.Join(ws, FileName))
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MUTINY_TARGET"); v != "" {
		c.Target = v
	}
	if v := os.Getenv("MUTINY_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("MUTINY_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Execution.Workers = n
		}
	}
	if v := os.Getenv("MUTINY_SANDBOX"); v != "" {
		c.Execution.Sandbox = v
	}
	if v := os.Getenv("MUTINY_PYTHON"); v != "" {
		c.Python = v
	}
	if v := os.Getenv("MUTINY_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
}

// GetTimeout returns the per-mutant timeout as a duration.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Execution.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// EnabledOperators returns the configured operator codes upper-cased, or all
// known codes when none are configured.
func (c *Config) EnabledOperators() []string {
	if len(c.Operators) == 0 {
		return append([]string(nil), KnownOperators...)
	}
	out := make([]string, 0, len(c.Operators))
	for _, op := range c.Operators {
		out = append(out, strings.ToUpper(strings.TrimSpace(op)))
	}
	return out
}

// ResolvePath joins a workspace-relative path with ws. Absolute paths are
// returned unchanged.
func ResolvePath(ws, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ws, p)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("%w: target not configured (set target in %s or MUTINY_TARGET)", ErrInvalid, FileName)
	}
	if c.Python == "" {
		return fmt.Errorf("%w: python interpreter is empty", ErrInvalid)
	}
	for _, op := range c.EnabledOperators() {
		if !contains(KnownOperators, op) {
			return fmt.Errorf("%w: unknown operator %q (valid: %v)", ErrInvalid, op, KnownOperators)
		}
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Output.validate(); err != nil {
		return err
	}
	return c.Store.validate()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// FindWorkspaceRoot walks up from the working directory looking for
// mutiny.yaml or a .mutiny directory. If neither is found the working
// directory is returned.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, ".mutiny")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return originalDir, nil
}
