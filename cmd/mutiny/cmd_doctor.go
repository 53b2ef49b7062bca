package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mutiny/cmd/mutiny/ui"
	"mutiny/internal/config"
	"mutiny/internal/tactile"
)

// check is one doctor check result.
type check struct {
	name   string
	ok     bool
	detail string
	fix    string
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that python, pytest and (optionally) docker are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()

			checks := runChecks(ctx, ws, cfg, tactile.NewDirectExecutorWithConfig(tactile.DefaultExecutorConfig()),
				tactile.NewDockerExecutorWithConfig(tactile.DefaultExecutorConfig()))
			if failed := printChecks(cmd.OutOrStdout(), checks); failed > 0 {
				return fmt.Errorf("%d checks failed", failed)
			}
			return nil
		},
	}
}

// dockerInspector is the part of the docker executor doctor needs.
type dockerInspector interface {
	Available() error
	ImageExists(ctx context.Context, image string) bool
	Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error)
}

func runChecks(ctx context.Context, ws string, cfg *config.Config, exec tactile.Executor, docker dockerInspector) []check {
	var checks []check

	if err := cfg.Validate(); err != nil {
		checks = append(checks, check{name: "config", detail: err.Error(), fix: "edit " + config.FileName + " or run 'mutiny init'"})
	} else {
		checks = append(checks, check{name: "config", ok: true, detail: "target " + cfg.Target})
	}

	runPython := func(args ...string) (string, bool) {
		return pythonCheck(ctx, exec, tactile.Command{
			Binary:           cfg.Python,
			Arguments:        args,
			WorkingDirectory: ws,
			Timeout:          30 * time.Second,
		})
	}

	if detail, ok := runPython("--version"); ok {
		checks = append(checks, check{name: "python", ok: true, detail: detail})
	} else {
		checks = append(checks, check{name: "python", detail: detail, fix: "install Python 3 or set python in " + config.FileName})
	}
	if detail, ok := runPython("-m", "pytest", "--version"); ok {
		checks = append(checks, check{name: "pytest", ok: true, detail: detail})
	} else {
		checks = append(checks, check{name: "pytest", detail: detail, fix: cfg.Python + " -m pip install pytest"})
	}

	// Docker only matters when it is the configured sandbox, but its state
	// is always reported.
	required := cfg.Execution.Sandbox == config.SandboxDocker
	switch err := docker.Available(); {
	case err != nil:
		c := check{name: "docker", ok: !required, detail: firstLine(err.Error())}
		if required {
			c.fix = tactile.DockerRemediation
		} else {
			c.detail += " (not required: sandbox is none)"
		}
		checks = append(checks, c)
	default:
		checks = append(checks, check{name: "docker", ok: true, detail: "daemon reachable"})
		if required {
			checks = append(checks, imageCheck(ctx, ws, cfg, docker))
		}
	}
	return checks
}

// imageCheck runs pytest inside the configured image, which is where every
// mutant will run.
func imageCheck(ctx context.Context, ws string, cfg *config.Config, docker dockerInspector) check {
	image := cfg.Execution.DockerImage
	fix := "docker build -t " + strings.TrimSuffix(image, ":latest") + " .   (from the repository Dockerfile)\n" +
		"or set execution.docker_image to an image with pytest and the project installed"
	if !docker.ImageExists(ctx, image) {
		return check{name: "image", detail: image + " not found locally", fix: fix}
	}
	detail, ok := pythonCheck(ctx, docker, tactile.Command{
		Binary:           cfg.Python,
		Arguments:        []string{"-m", "pytest", "--version"},
		WorkingDirectory: ws,
		Timeout:          2 * time.Minute,
		Sandbox:          &tactile.SandboxConfig{Mode: tactile.SandboxDocker, Image: image, MountPath: tactile.DefaultMountPath},
	})
	if !ok {
		return check{name: "image", detail: image + ": " + detail, fix: fix}
	}
	return check{name: "image", ok: true, detail: detail + " in " + image}
}

type commandRunner interface {
	Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error)
}

// pythonCheck runs a short interpreter command and returns its first output
// line and whether it exited 0.
func pythonCheck(ctx context.Context, exec commandRunner, cmd tactile.Command) (string, bool) {
	res, err := exec.Execute(ctx, cmd)
	if err != nil {
		return err.Error(), false
	}
	if res.IsError() {
		return res.Error, false
	}
	return firstLine(strings.TrimSpace(res.Output())), res.ExitCode == 0
}

func printChecks(out io.Writer, checks []check) int {
	styles := ui.DefaultStyles()
	failed := 0
	for _, c := range checks {
		mark := styles.Success.Render("ok  ")
		if !c.ok {
			mark = styles.Error.Render("FAIL")
			failed++
		}
		fmt.Fprintf(out, "%s %-7s %s\n", mark, c.name, c.detail)
		if c.fix != "" && !c.ok {
			for _, line := range strings.Split(c.fix, "\n") {
				fmt.Fprintf(out, "             %s\n", line)
			}
		}
	}
	return failed
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
