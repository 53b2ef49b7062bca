package tactile

import (
	"fmt"
)

// NewExecutor returns the executor for a sandbox mode. Requesting docker on
// a host without a reachable daemon fails with ErrDockerUnavailable instead
// of silently falling back to the host.
func NewExecutor(mode SandboxMode, config ExecutorConfig) (Executor, error) {
	switch mode {
	case SandboxNone, "":
		return NewDirectExecutorWithConfig(config), nil
	case SandboxDocker:
		docker := NewDockerExecutorWithConfig(config)
		if err := docker.Available(); err != nil {
			return nil, err
		}
		return docker, nil
	default:
		return nil, fmt.Errorf("unknown sandbox mode: %s", mode)
	}
}
