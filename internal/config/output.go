package config

import "fmt"

// OutputConfig configures the results directory and report shaping.
type OutputConfig struct {
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// Save mutation_results.json after this many tested mutants. 0 disables.
	CheckpointEvery int `yaml:"checkpoint_every" json:"checkpoint_every,omitempty"`

	// Survivors listed in the "needs analysis" section of the report.
	SurvivorPreview int `yaml:"survivor_preview" json:"survivor_preview,omitempty"`

	// Characters of test output quoted per mutant in mutation_report.md.
	TestOutputLimit int `yaml:"test_output_limit" json:"test_output_limit,omitempty"`

	Title string `yaml:"title" json:"title,omitempty"`
}

// DefaultOutputConfig returns sensible defaults.
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{
		Dir:             "mutation_output",
		CheckpointEvery: 10,
		SurvivorPreview: 10,
		TestOutputLimit: 1000,
		Title:           "Mutation Testing Report",
	}
}

func (o OutputConfig) validate() error {
	if o.Dir == "" {
		return fmt.Errorf("%w: output.dir is empty", ErrInvalid)
	}
	if o.CheckpointEvery < 0 || o.SurvivorPreview < 0 || o.TestOutputLimit < 0 {
		return fmt.Errorf("%w: output limits must not be negative", ErrInvalid)
	}
	return nil
}

// Store drivers.
const (
	DriverModernc = "sqlite"
	DriverCGO     = "sqlite3"
)

// StoreConfig configures the sqlite result cache and run history.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Driver  string `yaml:"driver" json:"driver,omitempty"`
	Path    string `yaml:"path" json:"path,omitempty"`
}

// DefaultStoreConfig returns sensible defaults.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Enabled: true,
		Driver:  DriverModernc,
		Path:    ".mutiny/results.db",
	}
}

func (s StoreConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	switch s.Driver {
	case DriverModernc, DriverCGO:
	default:
		return fmt.Errorf("%w: unknown store driver %q (valid: sqlite, sqlite3)", ErrInvalid, s.Driver)
	}
	if s.Path == "" {
		return fmt.Errorf("%w: store.path is empty", ErrInvalid)
	}
	return nil
}
