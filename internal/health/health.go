// Package health performs daemon health checks and serves them over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check result.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker performs health checks with a short result cache.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
	cache  *Report
	ttl    time.Duration
}

// NewChecker creates a Checker with the standard daemon checks.
// registryPath and auditDir come from the daemon configuration.
func NewChecker(registryPath, auditDir string) *Checker {
	c := &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    5 * time.Second,
	}

	c.Register("registry", CheckRegistryReadable(registryPath))
	c.Register("audit", CheckAuditWritable(auditDir))
	c.Register("memory", CheckMemory)

	return c
}

// Register adds a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Check runs all health checks and returns a report. Results are cached
// briefly so frequent probes stay cheap.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && time.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	checkFuncs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checkFuncs[name] = fn
	}
	c.mu.RUnlock()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checkFuncs {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			check := fn(ctx)
			check.Name = name

			mu.Lock()
			checks[name] = check
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
			} else if check.Status == StatusDegraded && overallStatus != StatusUnhealthy {
				overallStatus = StatusDegraded
			}
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	report := Report{
		Status:    overallStatus,
		Checks:    checks,
		Timestamp: clock.Now(),
	}

	c.mu.Lock()
	c.cache = &report
	c.mu.Unlock()

	return report
}

// Handler returns an HTTP handler serving the health report.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	}
}

// CheckRegistryReadable verifies the module registry file can be read.
func CheckRegistryReadable(path string) CheckFunc {
	return func(ctx context.Context) Check {
		start := clock.Now()
		check := Check{LastChecked: start}

		if _, err := os.ReadFile(path); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("cannot read registry: %v", err)
		} else {
			check.Status = StatusHealthy
			check.Message = "registry readable"
		}

		check.Duration = time.Since(start)
		return check
	}
}

// CheckAuditWritable verifies the audit directory accepts writes. A
// read-only audit trail is a hard failure: operations must not proceed
// unaudited.
func CheckAuditWritable(dir string) CheckFunc {
	return func(ctx context.Context) Check {
		start := clock.Now()
		check := Check{LastChecked: start}

		probe := filepath.Join(dir, ".health_probe")
		if err := os.WriteFile(probe, []byte("probe"), 0640); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("audit dir not writable: %v", err)
		} else {
			os.Remove(probe)
			check.Status = StatusHealthy
			check.Message = "audit dir writable"
		}

		check.Duration = time.Since(start)
		return check
	}
}

// CheckMemory verifies memory is available.
func CheckMemory(ctx context.Context) Check {
	start := clock.Now()
	check := Check{LastChecked: start}

	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("cannot read meminfo: %v", err)
	} else {
		check.Status = StatusHealthy
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(line, "MemAvailable:") {
				check.Message = line
				break
			}
		}
		if check.Message == "" {
			check.Message = "memory info available"
		}
	}

	check.Duration = time.Since(start)
	return check
}
