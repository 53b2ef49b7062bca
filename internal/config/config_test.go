package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"MUTINY_TARGET", "MUTINY_OUTPUT_DIR", "MUTINY_WORKERS", "MUTINY_SANDBOX", "MUTINY_PYTHON", "MUTINY_STORE_PATH"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Python != "python3" {
		t.Errorf("expected Python=python3, got %s", cfg.Python)
	}
	if len(cfg.Tests) != 1 || cfg.Tests[0] != "tests" {
		t.Errorf("expected Tests=[tests], got %v", cfg.Tests)
	}
	if cfg.Execution.Workers != 1 {
		t.Errorf("expected Workers=1, got %d", cfg.Execution.Workers)
	}
	if cfg.Execution.DockerImage != "mutiny:latest" {
		t.Errorf("expected DockerImage=mutiny:latest, got %s", cfg.Execution.DockerImage)
	}
	if cfg.Output.Dir != "mutation_output" {
		t.Errorf("expected Output.Dir=mutation_output, got %s", cfg.Output.Dir)
	}
	if cfg.Output.CheckpointEvery != 10 {
		t.Errorf("expected CheckpointEvery=10, got %d", cfg.Output.CheckpointEvery)
	}
	if !cfg.Dedupe {
		t.Error("dedupe should default to true")
	}
	if cfg.Store.Driver != DriverModernc {
		t.Errorf("expected pure Go sqlite driver by default, got %s", cfg.Store.Driver)
	}
	if cfg.Logging.DebugMode {
		t.Error("logging must be off by default")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GetTimeout() != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.GetTimeout())
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", FileName)

	cfg := DefaultConfig()
	cfg.Target = "src/encoders.py"
	cfg.Operators = []string{"AOR", "ROR"}
	cfg.Execution.Workers = 4
	cfg.Execution.Timeout = "45s"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Target != "src/encoders.py" {
		t.Errorf("expected Target=src/encoders.py, got %s", loaded.Target)
	}
	if loaded.Execution.Workers != 4 {
		t.Errorf("expected Workers=4, got %d", loaded.Execution.Workers)
	}
	if loaded.GetTimeout() != 45*time.Second {
		t.Errorf("expected 45s, got %v", loaded.GetTimeout())
	}
	if got := loaded.EnabledOperators(); len(got) != 2 || got[0] != "AOR" || got[1] != "ROR" {
		t.Errorf("unexpected operators %v", got)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), FileName)
	data := "target: pkg/mod.py\nexecution:\n  workers: 2\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Execution.Workers != 2 {
		t.Errorf("expected Workers=2, got %d", cfg.Execution.Workers)
	}
	if cfg.Execution.Timeout != "30s" {
		t.Errorf("unset timeout should keep default, got %q", cfg.Execution.Timeout)
	}
	if cfg.Output.Dir != "mutation_output" {
		t.Errorf("unset output dir should keep default, got %q", cfg.Output.Dir)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("target: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MUTINY_TARGET", "env/target.py")
	t.Setenv("MUTINY_OUTPUT_DIR", "out")
	t.Setenv("MUTINY_WORKERS", "3")
	t.Setenv("MUTINY_SANDBOX", "docker")
	t.Setenv("MUTINY_PYTHON", "python3.12")
	t.Setenv("MUTINY_STORE_PATH", "/tmp/r.db")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Target != "env/target.py" {
		t.Errorf("expected env target, got %s", cfg.Target)
	}
	if cfg.Output.Dir != "out" {
		t.Errorf("expected env output dir, got %s", cfg.Output.Dir)
	}
	if cfg.Execution.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Execution.Workers)
	}
	if cfg.Execution.Sandbox != SandboxDocker {
		t.Errorf("expected docker sandbox, got %s", cfg.Execution.Sandbox)
	}
	if cfg.Python != "python3.12" {
		t.Errorf("expected python3.12, got %s", cfg.Python)
	}
	if cfg.Store.Path != "/tmp/r.db" {
		t.Errorf("expected store path override, got %s", cfg.Store.Path)
	}
}

func TestConfig_EnvOverrides_BadWorkersIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("MUTINY_WORKERS", "many")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	if cfg.Execution.Workers != 1 {
		t.Errorf("expected default workers, got %d", cfg.Execution.Workers)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected ErrInvalid for missing target, got %v", err)
	}

	cfg.Target = "encoders.py"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got error: %v", err)
	}

	cases := map[string]func(c *Config){
		"unknown operator": func(c *Config) { c.Operators = []string{"XYZ"} },
		"zero workers":     func(c *Config) { c.Execution.Workers = 0 },
		"unknown sandbox":  func(c *Config) { c.Execution.Sandbox = "vm" },
		"unknown driver":   func(c *Config) { c.Store.Driver = "postgres" },
		"empty output dir": func(c *Config) { c.Output.Dir = "" },
		"empty python":     func(c *Config) { c.Python = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			c.Target = "encoders.py"
			mutate(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestConfig_Validate_StoreDisabledSkipsDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Target = "encoders.py"
	cfg.Store.Enabled = false
	cfg.Store.Driver = "whatever"
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled store should not be validated: %v", err)
	}
}

func TestEnabledOperators_Normalizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Operators = []string{" aor", "Ror "}
	got := cfg.EnabledOperators()
	if got[0] != "AOR" || got[1] != "ROR" {
		t.Errorf("expected upper-cased codes, got %v", got)
	}

	cfg.Operators = nil
	if len(cfg.EnabledOperators()) != len(KnownOperators) {
		t.Error("empty operator list should enable all operators")
	}
}

func TestGetTimeout_Fallback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Execution.Timeout = "soon"
	if cfg.GetTimeout() != 30*time.Second {
		t.Errorf("expected fallback, got %v", cfg.GetTimeout())
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/ws", "a/b.py"); got != filepath.Join("/ws", "a/b.py") {
		t.Errorf("unexpected %s", got)
	}
	if got := ResolvePath("/ws", "/abs/b.py"); got != "/abs/b.py" {
		t.Errorf("absolute path should pass through, got %s", got)
	}
}

func TestFindWorkspaceRoot_PrefersConfigFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, FileName), []byte("target: x.py\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir nested: %v", err)
	}

	origWD, _ := os.Getwd()
	if err := os.Chdir(nested); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWD) })

	got, err := FindWorkspaceRoot()
	if err != nil {
		t.Fatalf("FindWorkspaceRoot: %v", err)
	}
	want, _ := filepath.EvalSymlinks(root)
	gotResolved, _ := filepath.EvalSymlinks(got)
	if gotResolved != want {
		t.Errorf("expected %s, got %s", want, gotResolved)
	}
}
