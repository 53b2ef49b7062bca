package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"mutiny/internal/logging"
)

// ErrDockerUnavailable is returned when the docker sandbox is requested but
// the docker CLI is missing or the daemon does not answer.
var ErrDockerUnavailable = errors.New("docker is not available")

// DockerRemediation is shown alongside ErrDockerUnavailable.
const DockerRemediation = `To fix:
  1. Start Docker Desktop (or the docker service: sudo systemctl start docker).
  2. Verify the daemon is up with: docker info
  3. If it still fails, restart Docker and try again.
  4. Or run without a container: mutiny run --sandbox none`

// DefaultMountPath is where the project copy is mounted inside the container.
const DefaultMountPath = "/app"

// DefaultDockerImage is the tag the repository Dockerfile is built under
// (docker build -t mutiny .). It carries the interpreter, pytest and the
// project's own dependencies.
const DefaultDockerImage = "mutiny:latest"

// DockerExecutor executes commands inside throwaway Docker containers.
type DockerExecutor struct {
	config ExecutorConfig

	// dockerPath is the path to the docker binary
	dockerPath string

	// unavailable is non-nil when detection failed
	unavailable error

	// killContainer stops a named container whose docker client was killed.
	// Defaults to `docker kill`.
	killContainer func(name string) error
}

// daemonCheck runs `docker version` and returns the daemon's complaint on failure.
type daemonCheck func(ctx context.Context, dockerPath string) error

// NewDockerExecutor creates a new Docker executor.
func NewDockerExecutor() *DockerExecutor {
	return NewDockerExecutorWithConfig(DefaultExecutorConfig())
}

// NewDockerExecutorWithConfig creates a new Docker executor with custom config.
func NewDockerExecutorWithConfig(config ExecutorConfig) *DockerExecutor {
	return newDockerExecutor(config, exec.LookPath, pingDaemon)
}

func newDockerExecutor(config ExecutorConfig, lookPath func(string) (string, error), ping daemonCheck) *DockerExecutor {
	e := &DockerExecutor{config: config}
	e.detectDocker(lookPath, ping)
	return e
}

// detectDocker checks if the docker CLI exists and the daemon answers.
func (e *DockerExecutor) detectDocker(lookPath func(string) (string, error), ping daemonCheck) {
	dockerPath, err := lookPath("docker")
	if err != nil {
		e.unavailable = fmt.Errorf("%w: docker CLI not found in PATH\n\n%s", ErrDockerUnavailable, DockerRemediation)
		logging.TactileWarn("Docker CLI not found: %v", err)
		return
	}
	e.dockerPath = dockerPath

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ping(ctx, dockerPath); err != nil {
		e.unavailable = fmt.Errorf("%w: %v\n\n%s", ErrDockerUnavailable, err, DockerRemediation)
		logging.TactileWarn("Docker daemon not reachable: %v", err)
		return
	}
	logging.TactileDebug("Docker available at %s", dockerPath)
}

func pingDaemon(ctx context.Context, dockerPath string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, dockerPath, "version", "--format", "{{.Server.Version}}")
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return errors.New(firstLine(msg))
		}
		return err
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Available returns nil when Docker can be used, or an error wrapping
// ErrDockerUnavailable with remediation steps.
func (e *DockerExecutor) Available() error {
	return e.unavailable
}

// IsAvailable returns whether Docker is available on this system.
func (e *DockerExecutor) IsAvailable() bool {
	return e.unavailable == nil
}

// Capabilities returns what this executor supports.
func (e *DockerExecutor) Capabilities() ExecutorCapabilities {
	modes := []SandboxMode{}
	if e.IsAvailable() {
		modes = append(modes, SandboxDocker)
	}
	return ExecutorCapabilities{
		Name:                     "docker",
		Platform:                 runtime.GOOS,
		SupportedSandboxModes:    modes,
		SupportsNetworkIsolation: true,
		MaxTimeout:               e.config.MaxTimeout,
		DefaultTimeout:           e.config.DefaultTimeout,
	}
}

// Validate checks if a command can be executed.
func (e *DockerExecutor) Validate(cmd Command) error {
	if e.unavailable != nil {
		return e.unavailable
	}
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	if cmd.Sandbox != nil && cmd.Sandbox.Mode != SandboxDocker {
		return fmt.Errorf("DockerExecutor only supports SandboxDocker mode, got %s", cmd.Sandbox.Mode)
	}
	return nil
}

// Execute runs a command inside a Docker container with the working
// directory bind-mounted read-write.
func (e *DockerExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryTactile, "Docker command execution")
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	if cmd.Sandbox == nil {
		cmd.Sandbox = &SandboxConfig{Mode: SandboxDocker}
	}

	result := &ExecutionResult{
		ExitCode:    -1,
		SandboxUsed: SandboxDocker,
	}

	name := "mutiny-" + uuid.NewString()
	args := e.buildDockerArgs(cmd, name)
	logging.TactileDebug("docker %s", strings.Join(args, " "))

	// The docker client itself gets the host environment so it can find the
	// daemon; the container environment is passed with -e.
	runProcess(ctx, e.dockerPath, args, "", os.Environ(), cmd.Timeout, cmd.MaxOutputBytes, result)

	// Killing the client leaves the container running.
	if result.Killed {
		kill := e.killContainer
		if kill == nil {
			kill = e.dockerKill
		}
		if err := kill(name); err != nil {
			logging.TactileWarn("Failed to stop container %s: %v", name, err)
		} else {
			logging.TactileDebug("Stopped container %s (%s)", name, result.KillReason)
		}
	}

	// docker run reports its own failures (image pull, daemon errors) as 125.
	if result.ExitCode == 125 {
		result.Success = false
		result.Error = strings.TrimSpace(firstLine(result.Stderr))
		if strings.Contains(result.Stderr, "Cannot connect to the Docker daemon") {
			result.Error = fmt.Sprintf("%v: %s\n\n%s", ErrDockerUnavailable, result.Error, DockerRemediation)
		}
	}

	logging.Tactile("Container completed: %s -> exit=%d, duration=%s", cmd.Binary, result.ExitCode, result.Duration)
	return result, nil
}

// dockerKill runs `docker kill` on its own context; the command's context
// is usually the one that just expired.
func (e *DockerExecutor) dockerKill(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.dockerPath, "kill", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("docker kill %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// buildDockerArgs constructs the docker run command arguments for a
// container called name.
func (e *DockerExecutor) buildDockerArgs(cmd Command, name string) []string {
	args := []string{"run", "--rm", "--name", name}

	sandbox := cmd.Sandbox
	if sandbox == nil {
		sandbox = &SandboxConfig{}
	}

	image := sandbox.Image
	if image == "" {
		image = e.config.DockerImage
	}
	if image == "" {
		image = DefaultDockerImage
	}

	networkMode := sandbox.NetworkMode
	if networkMode == "" {
		networkMode = "none"
	}
	args = append(args, "--network", networkMode)

	// Keep files written into the mount owned by the invoking user.
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 && gid >= 0 {
		args = append(args, "--user", fmt.Sprintf("%d:%d", uid, gid))
	}

	mount := sandbox.MountPath
	if mount == "" {
		mount = DefaultMountPath
	}
	if cmd.WorkingDirectory != "" {
		args = append(args, "-v", fmt.Sprintf("%s:%s:rw", cmd.WorkingDirectory, mount))
		args = append(args, "-w", mount)
	}

	for _, env := range cmd.Environment {
		args = append(args, "-e", env)
	}

	args = append(args, image, cmd.Binary)
	return append(args, cmd.Arguments...)
}

// ImageExists checks if a Docker image exists locally.
func (e *DockerExecutor) ImageExists(ctx context.Context, image string) bool {
	if e.unavailable != nil {
		return false
	}
	return exec.CommandContext(ctx, e.dockerPath, "image", "inspect", image).Run() == nil
}
