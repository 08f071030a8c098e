// Package gateway validates remote command requests against a static
// allowlist and executes admitted commands. The gateway is a trust boundary:
// no failure of the underlying command, panic included, escapes it.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ValidationResult is the outcome of admission checking a command identifier.
// Reason is set iff Valid is false.
type ValidationResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// ExecutionResult is the outcome of executing a command. Error is set iff
// Success is false.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Runner is the external command execution collaborator. Run may block for
// the duration of the command; it should honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, command string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, command string) error

func (f RunnerFunc) Run(ctx context.Context, command string) error {
	return f(ctx, command)
}

// Group is a namespace bucket of allowed commands, for reporting only.
type Group struct {
	Namespace string   `json:"namespace"`
	Commands  []string `json:"commands"`
}

// Gateway admits and runs remote commands. Concurrent executions are
// independent; a hung command never blocks validation or other executions.
type Gateway struct {
	allowed map[string]struct{}
	ordered []string // sorted
	runner  Runner
	logger  *logrus.Entry

	mu       sync.Mutex
	disposed bool
}

// New creates a gateway over the given allowlist. The list is copied; the
// gateway's view never changes afterwards.
func New(runner Runner, allowlist []string, logger *logrus.Entry) *Gateway {
	allowed := make(map[string]struct{}, len(allowlist))
	ordered := make([]string, 0, len(allowlist))
	for _, cmd := range allowlist {
		if _, dup := allowed[cmd]; dup {
			continue
		}
		allowed[cmd] = struct{}{}
		ordered = append(ordered, cmd)
	}
	sort.Strings(ordered)

	return &Gateway{
		allowed: allowed,
		ordered: ordered,
		runner:  runner,
		logger:  logger,
	}
}

// Validate admission-checks a command identifier. Matching is exact and
// case-sensitive.
func (g *Gateway) Validate(command string) ValidationResult {
	if strings.TrimSpace(command) == "" {
		return ValidationResult{Valid: false, Reason: "empty command"}
	}
	if _, ok := g.allowed[command]; !ok {
		return ValidationResult{Valid: false, Reason: "not in allowlist"}
	}
	return ValidationResult{Valid: true}
}

// Execute validates and runs a command. An invalid command is reported
// without ever reaching the runner; a runner error or panic is captured into
// the result.
func (g *Gateway) Execute(ctx context.Context, command string) ExecutionResult {
	if v := g.Validate(command); !v.Valid {
		return ExecutionResult{Success: false, Error: v.Reason}
	}

	g.mu.Lock()
	disposed := g.disposed
	g.mu.Unlock()
	if disposed {
		return ExecutionResult{Success: false, Error: "gateway disposed"}
	}

	if err := g.run(ctx, command); err != nil {
		g.logger.WithField("command", command).WithError(err).Warn("Command failed")
		return ExecutionResult{Success: false, Error: err.Error()}
	}
	return ExecutionResult{Success: true}
}

// run invokes the runner, converting a panic into an error so it cannot
// cross the gateway boundary.
func (g *Gateway) run(ctx context.Context, command string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return g.runner.Run(ctx, command)
}

// AllowedCommands returns the sorted allowlist.
func (g *Gateway) AllowedCommands() []string {
	out := make([]string, len(g.ordered))
	copy(out, g.ordered)
	return out
}

// GroupedCommands buckets the allowlist by its first dot-separated segment,
// groups sorted by namespace. Presentation helper for reporting endpoints.
func (g *Gateway) GroupedCommands() []Group {
	byNS := make(map[string][]string)
	for _, cmd := range g.ordered {
		ns := cmd
		if i := strings.Index(cmd, "."); i >= 0 {
			ns = cmd[:i]
		}
		byNS[ns] = append(byNS[ns], cmd)
	}

	namespaces := make([]string, 0, len(byNS))
	for ns := range byNS {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	groups := make([]Group, 0, len(namespaces))
	for _, ns := range namespaces {
		groups = append(groups, Group{Namespace: ns, Commands: byNS[ns]})
	}
	return groups
}

// Dispose marks the gateway as shut down. In-flight executions are allowed
// to finish; new ones are refused. Safe to call multiple times.
func (g *Gateway) Dispose() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disposed = true
}
