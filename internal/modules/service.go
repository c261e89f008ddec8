// Package modules maps registry module names onto service manager
// operations. Mutating verbs are serialized per module so concurrent
// requests never race the service manager on the same unit.
package modules

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/luigi-home/luigid/internal/audit"
	"github.com/luigi-home/luigid/internal/clock"
	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/logging"
	"github.com/luigi-home/luigid/internal/registry"
	"github.com/luigi-home/luigid/internal/validation"
)

// Status is the fixed vocabulary shared by list and status.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusFailed    Status = "failed"
	StatusInstalled Status = "installed" // in the registry but no loaded unit
	StatusUnknown   Status = "unknown"
)

// Summary is the cheap projection returned by List.
type Summary struct {
	Name         string   `json:"name"`
	Status       Status   `json:"status"`
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Detail is the full status of one module. PID, uptime and memory are
// best-effort and null when unavailable.
type Detail struct {
	Summary
	ServiceUnit    string `json:"service_unit"`
	Category       string `json:"category,omitempty"`
	SubState       string `json:"sub_state,omitempty"`
	PID            *int   `json:"pid"`
	UptimeSeconds  *int64 `json:"uptime_seconds"`
	MemoryRSSBytes *int64 `json:"memory_rss_bytes"`
}

// ErrNotFound is returned for names absent from the registry.
type ErrNotFound struct{ Name string }

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("module not found: %s", e.Name)
}

// Service implements module lifecycle operations.
type Service struct {
	registry *registry.Registry
	runner   command.Runner
	auditor  *audit.Logger
	logger   *logging.Logger
	clk      clock.Clock
	timeout  time.Duration
	procRoot string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets the per-command timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithProcRoot overrides /proc for tests.
func WithProcRoot(root string) Option {
	return func(s *Service) { s.procRoot = root }
}

// New creates a module Service.
func New(reg *registry.Registry, runner command.Runner, auditor *audit.Logger, logger *logging.Logger, clk clock.Clock, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	s := &Service{
		registry: reg,
		runner:   runner,
		auditor:  auditor,
		logger:   logger.WithComponent("modules"),
		clk:      clk,
		timeout:  30 * time.Second,
		procRoot: "/proc",
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lockFor returns the serialization mutex for a module name.
func (s *Service) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// List returns the summary projection for every registered module. One
// batched is-active invocation covers all units, keeping the call cheap
// enough for frequent polling.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	descriptors := s.registry.List()
	if len(descriptors) == 0 {
		return []Summary{}, nil
	}

	argv := command.Argv{"systemctl", "is-active"}
	for _, d := range descriptors {
		argv = append(argv, d.ServiceUnit)
	}

	statuses := make([]Status, len(descriptors))
	for i := range statuses {
		statuses[i] = StatusUnknown
	}

	// is-active exits non-zero when any unit is not active; the output
	// still carries one state per line.
	result, err := s.runner.Run(ctx, argv, s.timeout)
	if err == nil && !result.TimedOut {
		lines := strings.Split(strings.TrimSpace(result.Stdout), "\n")
		for i := range descriptors {
			if i < len(lines) {
				statuses[i] = mapActiveState(strings.TrimSpace(lines[i]))
			}
		}
	}

	summaries := make([]Summary, len(descriptors))
	for i, d := range descriptors {
		summaries[i] = Summary{
			Name:         d.Name,
			Status:       statuses[i],
			Version:      d.Version,
			Capabilities: d.Capabilities,
		}
	}
	return summaries, nil
}

// Status returns the full detail for one module. The service manager
// query determines the status; PID, uptime and memory are best-effort
// extras whose failure never fails the call.
func (s *Service) Status(ctx context.Context, name string) (*Detail, error) {
	if err := validation.ValidateModuleName(name); err != nil {
		return nil, err
	}

	desc, ok := s.registry.Get(name)
	if !ok {
		return nil, &ErrNotFound{Name: name}
	}

	detail := &Detail{
		Summary: Summary{
			Name:         desc.Name,
			Status:       StatusUnknown,
			Version:      desc.Version,
			Capabilities: desc.Capabilities,
		},
		ServiceUnit: desc.ServiceUnit,
		Category:    desc.Category,
	}

	argv := command.Argv{"systemctl", "show", desc.ServiceUnit,
		"--property=ActiveState,SubState,LoadState,MainPID,ActiveEnterTimestamp"}
	result, err := s.runner.Run(ctx, argv, s.timeout)
	if err != nil || result.TimedOut {
		return detail, nil
	}

	props := parseProperties(result.Stdout)

	if props["LoadState"] == "not-found" {
		detail.Status = StatusInstalled
		return detail, nil
	}

	detail.Status = mapActiveState(props["ActiveState"])
	detail.SubState = props["SubState"]

	if pid, err := strconv.Atoi(props["MainPID"]); err == nil && pid > 0 {
		detail.PID = &pid

		if ts, err := parseSystemdTimestamp(props["ActiveEnterTimestamp"]); err == nil {
			uptime := int64(s.clk.Since(ts).Seconds())
			if uptime >= 0 {
				detail.UptimeSeconds = &uptime
			}
		}

		if rss, err := readRSS(s.procRoot, pid); err == nil {
			detail.MemoryRSSBytes = &rss
		}
	}

	return detail, nil
}

// Caller identifies the authenticated requester for auditing.
type Caller struct {
	Identity string
	IP       string
}

// Start starts a module.
func (s *Service) Start(ctx context.Context, name string, caller Caller) (command.Result, error) {
	return s.lifecycle(ctx, "start", name, caller)
}

// Stop stops a module.
func (s *Service) Stop(ctx context.Context, name string, caller Caller) (command.Result, error) {
	return s.lifecycle(ctx, "stop", name, caller)
}

// Restart restarts a module.
func (s *Service) Restart(ctx context.Context, name string, caller Caller) (command.Result, error) {
	return s.lifecycle(ctx, "restart", name, caller)
}

// lifecycle validates, serializes per module, executes and audits one
// mutating verb. The per-module lock is held across the whole command.
func (s *Service) lifecycle(ctx context.Context, verb, name string, caller Caller) (command.Result, error) {
	if err := validation.ValidateModuleName(name); err != nil {
		if s.auditor != nil {
			s.auditor.Violation(caller.Identity, caller.IP, name, map[string]any{"verb": verb, "error": err.Error()})
		}
		return command.Result{}, err
	}

	desc, ok := s.registry.Get(name)
	if !ok {
		return command.Result{}, &ErrNotFound{Name: name}
	}

	argv, err := validation.ModuleCommand(verb, desc.ServiceUnit)
	if err != nil {
		return command.Result{}, err
	}

	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	s.logger.Info("module operation", "verb", verb, "module", name, "actor", caller.Identity)

	result, runErr := s.runner.Run(ctx, argv, s.timeout)

	detail := map[string]any{"verb": verb, "exit_code": result.ExitCode}
	if result.TimedOut {
		detail["timed_out"] = true
	}
	if stderr := strings.TrimSpace(result.Stderr); stderr != "" {
		detail["stderr"] = stderr
	}
	if runErr != nil {
		detail["error"] = runErr.Error()
	}
	if s.auditor != nil {
		s.auditor.Operation(caller.Identity, caller.IP, name, runErr == nil && result.Success, detail)
	}

	if runErr != nil {
		return result, fmt.Errorf("%s %s: %w", verb, name, runErr)
	}
	return result, nil
}

// mapActiveState maps systemctl output onto the fixed status enum.
func mapActiveState(state string) Status {
	switch state {
	case "active", "activating", "reloading":
		return StatusActive
	case "inactive", "deactivating":
		return StatusInactive
	case "failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// parseProperties parses systemctl show key=value output.
func parseProperties(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if found && key != "" {
			props[key] = value
		}
	}
	return props
}

// parseSystemdTimestamp parses ActiveEnterTimestamp values like
// "Mon 2026-04-01 09:00:00 UTC".
func parseSystemdTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "n/a" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	return time.Parse("Mon 2006-01-02 15:04:05 MST", s)
}

// readRSS reads VmRSS from /proc/<pid>/status, in bytes.
func readRSS(procRoot string, pid int) (int64, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/status", procRoot, pid))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not found for pid %d", pid)
}
