// Package system exposes host-level operations: read-only metrics plus
// a fixed set of destructive verbs. Every mutating verb maps to a
// whitelisted argument vector; no caller-supplied value ever reaches
// the command line.
package system

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luigi-home/luigid/internal/audit"
	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/modules"
)

// ErrConfirmationRequired is returned when a destructive verb is called
// without confirm=true.
var ErrConfirmationRequired = errors.New("confirmation required")

// Verb identifies one host-level operation.
type Verb string

const (
	VerbReboot   Verb = "reboot"
	VerbShutdown Verb = "shutdown"
	VerbUpdate   Verb = "update"
	VerbCleanup  Verb = "cleanup"
)

// operation binds a verb to its fixed command sequence and whether it
// needs the explicit confirm flag.
type operation struct {
	commands       []command.Argv
	timeout        time.Duration
	requireConfirm bool
}

// The complete whitelist. Reboot and shutdown are single invocations;
// update and cleanup run two package-manager steps in order.
var operations = map[Verb]operation{
	VerbReboot: {
		commands:       []command.Argv{{"systemctl", "reboot"}},
		timeout:        30 * time.Second,
		requireConfirm: true,
	},
	VerbShutdown: {
		commands:       []command.Argv{{"systemctl", "poweroff"}},
		timeout:        30 * time.Second,
		requireConfirm: true,
	},
	VerbUpdate: {
		commands: []command.Argv{
			{"apt-get", "update"},
			{"apt-get", "upgrade", "-y"},
		},
		timeout: 15 * time.Minute,
	},
	VerbCleanup: {
		commands: []command.Argv{
			{"apt-get", "autoremove", "-y"},
			{"apt-get", "clean"},
		},
		timeout: 5 * time.Minute,
	},
}

// Service implements the host-level operations.
type Service struct {
	runner  command.Runner
	auditor *audit.Logger
	logger  *logging.Logger
	metrics *MetricsReader
}

// New creates a system Service.
func New(runner command.Runner, auditor *audit.Logger, logger *logging.Logger, metrics *MetricsReader) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = NewMetricsReader("")
	}
	return &Service{
		runner:  runner,
		auditor: auditor,
		logger:  logger.WithComponent("system"),
		metrics: metrics,
	}
}

// Metrics returns the current host metrics snapshot. Read-only and
// idempotent; individual probe failures surface as absent fields.
func (s *Service) Metrics() (*Metrics, error) {
	return s.metrics.Read()
}

// Execute runs one host-level verb. Destructive verbs are rejected
// before anything executes unless confirm is true. Each invocation is
// audited with the actor and outcome; a multi-step verb stops at the
// first failing step.
func (s *Service) Execute(ctx context.Context, verb Verb, confirm bool, caller modules.Caller) (command.Result, error) {
	op, ok := operations[verb]
	if !ok {
		return command.Result{}, fmt.Errorf("unknown system verb: %s", verb)
	}

	if op.requireConfirm && !confirm {
		if s.auditor != nil {
			s.auditor.Violation(caller.Identity, caller.IP, string(verb), map[string]any{"error": "missing confirmation"})
		}
		return command.Result{}, ErrConfirmationRequired
	}

	s.logger.Warn("system operation requested", "verb", string(verb), "actor", caller.Identity)

	var last command.Result
	for _, argv := range op.commands {
		result, err := s.runner.Run(ctx, argv, op.timeout)
		last = result

		detail := map[string]any{"command": argv[0], "exit_code": result.ExitCode}
		if result.TimedOut {
			detail["timed_out"] = true
		}
		if err != nil {
			detail["error"] = err.Error()
		}
		if s.auditor != nil {
			s.auditor.Operation(caller.Identity, caller.IP, string(verb), err == nil && result.Success, detail)
		}

		if err != nil {
			return result, fmt.Errorf("%s: %w", verb, err)
		}
		if !result.Success {
			return result, nil
		}
	}

	return last, nil
}
