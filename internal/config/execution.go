package config

import "fmt"

// Sandbox modes.
const (
	SandboxNone   = "none"
	SandboxDocker = "docker"
)

// ExecutionConfig configures how the test suite is run for each mutant.
type ExecutionConfig struct {
	// Per-mutant timeout, e.g. "30s".
	Timeout string `yaml:"timeout" json:"timeout,omitempty"`

	// Number of mutants tested concurrently. Each worker owns a project copy.
	Workers int `yaml:"workers" json:"workers,omitempty"`

	// none runs pytest directly, docker runs it in DockerImage. The default
	// image is the repository Dockerfile built with `docker build -t mutiny .`.
	Sandbox     string `yaml:"sandbox" json:"sandbox,omitempty"`
	DockerImage string `yaml:"docker_image" json:"docker_image,omitempty"`

	// Output beyond this many bytes per stream is dropped.
	MaxOutputBytes int `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`

	// Environment variables passed through from the parent process.
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`
}

// DefaultExecutionConfig returns sensible defaults.
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		Timeout:        "30s",
		Workers:        1,
		Sandbox:        SandboxNone,
		DockerImage:    "mutiny:latest",
		MaxOutputBytes: 1024 * 1024,
		AllowedEnvVars: []string{"PATH", "HOME", "LANG", "LC_ALL", "VIRTUAL_ENV", "PYTHONPATH", "TMPDIR"},
	}
}

func (e ExecutionConfig) validate() error {
	if e.Workers < 1 {
		return fmt.Errorf("%w: execution.workers must be positive, got %d", ErrInvalid, e.Workers)
	}
	switch e.Sandbox {
	case SandboxNone, SandboxDocker:
	default:
		return fmt.Errorf("%w: unknown sandbox %q (valid: none, docker)", ErrInvalid, e.Sandbox)
	}
	if e.Sandbox == SandboxDocker && e.DockerImage == "" {
		return fmt.Errorf("%w: execution.docker_image is required with the docker sandbox", ErrInvalid)
	}
	if e.MaxOutputBytes < 0 {
		return fmt.Errorf("%w: execution.max_output_bytes must not be negative", ErrInvalid)
	}
	return nil
}
