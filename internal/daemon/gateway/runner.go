package gateway

import (
	"context"
	"os/exec"
	"strings"

	"github.com/grovetools/relay/errors"
	"github.com/sirupsen/logrus"
)

// Executor creates exec.Cmd instances. This abstraction allows for dependency
// injection, enabling test-specific command creation logic without modifying
// production code.
type Executor interface {
	// CommandContext creates a new context-aware exec.Cmd instance.
	CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd
}

// RealExecutor is the production implementation of the Executor interface,
// which uses the standard os/exec package to create commands.
type RealExecutor struct{}

// CommandContext creates a standard context-aware exec.Cmd.
func (e *RealExecutor) CommandContext(ctx context.Context, name string, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, name, args...)
}

// HookRunner executes commands by invoking an external hook program with the
// command identifier as its single argument. This is how the daemon bridges
// to the editor it mirrors without linking against it.
type HookRunner struct {
	hook     string
	executor Executor
	logger   *logrus.Entry
}

// NewHookRunner creates a runner that shells out to the given hook program.
func NewHookRunner(hook string, logger *logrus.Entry) *HookRunner {
	return &HookRunner{
		hook:     hook,
		executor: &RealExecutor{},
		logger:   logger,
	}
}

// SetExecutor replaces the command factory, for tests.
func (r *HookRunner) SetExecutor(e Executor) {
	r.executor = e
}

// Run invokes the hook with the command identifier and waits for completion.
func (r *HookRunner) Run(ctx context.Context, command string) error {
	cmd := r.executor.CommandContext(ctx, r.hook, command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		relayErr := errors.CommandFailed(command, err)
		if trimmed := strings.TrimSpace(string(output)); trimmed != "" {
			relayErr = relayErr.WithDetail("output", trimmed)
		}
		return relayErr
	}
	r.logger.WithField("command", command).Debug("Hook completed")
	return nil
}
