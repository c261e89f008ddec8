// Package command wraps process invocation for the privileged operations.
// Commands are always argument vectors, never shell strings, and every
// invocation carries a hard timeout.
package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/luigi-home/luigid/internal/clock"
)

// MaxOutputBytes bounds captured stdout/stderr per stream. Output beyond
// the bound is truncated with a marker.
const MaxOutputBytes = 64 * 1024

const truncationMarker = "\n[output truncated]"

// Argv is a validated argument vector. The first element is the program.
type Argv []string

// Result describes one completed (or timed out) invocation.
type Result struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	TimedOut bool          `json:"timed_out"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Runner executes argument vectors. Production code uses Executor;
// tests substitute a fake to observe argv without spawning processes.
type Runner interface {
	Run(ctx context.Context, argv Argv, timeout time.Duration) (Result, error)
}

// Executor runs commands via the OS process launcher.
type Executor struct {
	clk clock.Clock
}

// New creates an Executor.
func New(clk clock.Clock) *Executor {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	return &Executor{clk: clk}
}

// Run spawns argv with the given timeout and captures bounded output.
// A timeout kills the child and is reported distinctly from a non-zero
// exit. The returned error covers spawn failures only; command failure
// is expressed through Result.
func (e *Executor) Run(ctx context.Context, argv Argv, timeout time.Duration) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty argument vector")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &boundedWriter{w: &stdout}
	cmd.Stderr = &boundedWriter{w: &stderr}

	start := e.clk.Now()
	err := cmd.Run()
	result := Result{
		Duration: e.clk.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// Spawn failure: program missing, permission denied, etc.
		return result, err
	}

	result.Success = true
	result.ExitCode = 0
	return result, nil
}

// boundedWriter accepts at most MaxOutputBytes and appends a truncation
// marker once the bound is hit. Further writes are discarded but still
// reported as successful so the child never blocks on a full pipe.
type boundedWriter struct {
	w         *bytes.Buffer
	written   int
	truncated bool
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	if b.truncated {
		return len(p), nil
	}

	remaining := MaxOutputBytes - b.written
	if len(p) <= remaining {
		b.written += len(p)
		return b.w.Write(p)
	}

	b.w.Write(p[:remaining])
	b.w.WriteString(truncationMarker)
	b.written = MaxOutputBytes
	b.truncated = true
	return len(p), nil
}
