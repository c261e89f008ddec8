package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/registry"
	"github.com/luigi-home/luigid/internal/validation"
)

// fakeRunner records invocations and serves canned results.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []command.Argv
	results  map[string]command.Result
	inFlight map[string]int
	overlap  bool
	delay    time.Duration
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results:  make(map[string]command.Result),
		inFlight: make(map[string]int),
	}
}

func (f *fakeRunner) Run(ctx context.Context, argv command.Argv, timeout time.Duration) (command.Result, error) {
	key := fmt.Sprint([]string(argv))

	f.mu.Lock()
	f.calls = append(f.calls, argv)
	unit := argv[len(argv)-1]
	f.inFlight[unit]++
	if f.inFlight[unit] > 1 {
		f.overlap = true
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.inFlight[unit]--
	result, ok := f.results[key]
	f.mu.Unlock()

	if ok {
		return result, nil
	}
	return command.Result{Success: true, ExitCode: 0}, nil
}

func (f *fakeRunner) lastCall() command.Argv {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules.yaml")
	content := `modules:
  - name: mario
    capabilities: [start, stop, restart]
    category: entertainment
    version: "1.2.0"
  - name: climate
    category: environment
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	reg, err := registry.Load(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestStart_InvokesExpectedArgv(t *testing.T) {
	runner := newFakeRunner()
	svc := New(testRegistry(t), runner, nil, nil, nil)

	result, err := svc.Start(context.Background(), "mario", Caller{Identity: "admin", IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.True(t, result.Success)

	assert.Equal(t, command.Argv{"systemctl", "start", "mario.service"}, runner.lastCall())
}

func TestStopAndRestart_InvokeExpectedArgv(t *testing.T) {
	runner := newFakeRunner()
	svc := New(testRegistry(t), runner, nil, nil, nil)

	_, err := svc.Stop(context.Background(), "climate", Caller{Identity: "admin"})
	require.NoError(t, err)
	assert.Equal(t, command.Argv{"systemctl", "stop", "climate.service"}, runner.lastCall())

	_, err = svc.Restart(context.Background(), "climate", Caller{Identity: "admin"})
	require.NoError(t, err)
	assert.Equal(t, command.Argv{"systemctl", "restart", "climate.service"}, runner.lastCall())
}

func TestLifecycle_RejectsInvalidName(t *testing.T) {
	runner := newFakeRunner()
	svc := New(testRegistry(t), runner, nil, nil, nil)

	_, err := svc.Start(context.Background(), "mario; reboot", Caller{Identity: "admin"})
	require.Error(t, err)
	assert.True(t, validation.IsValidationError(err))
	assert.Empty(t, runner.calls, "no command may run for invalid input")
}

func TestLifecycle_UnknownModule(t *testing.T) {
	runner := newFakeRunner()
	svc := New(testRegistry(t), runner, nil, nil, nil)

	_, err := svc.Start(context.Background(), "unregistered", Caller{Identity: "admin"})
	var notFound *ErrNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Empty(t, runner.calls)
}

func TestLifecycle_SerializesPerModule(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 20 * time.Millisecond
	svc := New(testRegistry(t), runner, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				svc.Start(context.Background(), "mario", Caller{Identity: "admin"})
			} else {
				svc.Stop(context.Background(), "mario", Caller{Identity: "admin"})
			}
		}(i)
	}
	wg.Wait()

	assert.False(t, runner.overlap, "same-module operations overlapped at the runner boundary")
	assert.Len(t, runner.calls, 8)
}

func TestLifecycle_DifferentModulesRunIndependently(t *testing.T) {
	runner := newFakeRunner()
	runner.delay = 50 * time.Millisecond
	svc := New(testRegistry(t), runner, nil, nil, nil)

	start := time.Now()
	var wg sync.WaitGroup
	for _, name := range []string{"mario", "climate"} {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			svc.Start(context.Background(), name, Caller{Identity: "admin"})
		}(name)
	}
	wg.Wait()

	// Two independent modules should not take two full delays.
	assert.Less(t, time.Since(start), 95*time.Millisecond)
}

func TestList(t *testing.T) {
	runner := newFakeRunner()
	key := fmt.Sprint([]string{"systemctl", "is-active", "climate.service", "mario.service"})
	runner.results[key] = command.Result{ExitCode: 3, Stdout: "inactive\nactive\n"}

	svc := New(testRegistry(t), runner, nil, nil, nil)

	summaries, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	// Registry listing is sorted by name.
	assert.Equal(t, "climate", summaries[0].Name)
	assert.Equal(t, StatusInactive, summaries[0].Status)
	assert.Equal(t, "mario", summaries[1].Name)
	assert.Equal(t, StatusActive, summaries[1].Status)
	assert.Equal(t, "1.2.0", summaries[1].Version)
}

func TestList_RunnerFailureYieldsUnknown(t *testing.T) {
	runner := newFakeRunner()
	key := fmt.Sprint([]string{"systemctl", "is-active", "climate.service", "mario.service"})
	runner.results[key] = command.Result{TimedOut: true}

	svc := New(testRegistry(t), runner, nil, nil, nil)

	summaries, err := svc.List(context.Background())
	require.NoError(t, err)
	for _, s := range summaries {
		assert.Equal(t, StatusUnknown, s.Status)
	}
}

func TestStatus_Active(t *testing.T) {
	procRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(procRoot, "4242"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(procRoot, "4242", "status"),
		[]byte("Name:\tmario\nVmRSS:\t  10240 kB\n"), 0644))

	runner := newFakeRunner()
	key := fmt.Sprint([]string{"systemctl", "show", "mario.service",
		"--property=ActiveState,SubState,LoadState,MainPID,ActiveEnterTimestamp"})
	runner.results[key] = command.Result{Success: true, Stdout: "ActiveState=active\nSubState=running\nLoadState=loaded\nMainPID=4242\nActiveEnterTimestamp=Mon 2026-04-01 09:00:00 UTC\n"}

	svc := New(testRegistry(t), runner, nil, nil, nil, WithProcRoot(procRoot))

	detail, err := svc.Status(context.Background(), "mario")
	require.NoError(t, err)

	assert.Equal(t, StatusActive, detail.Status)
	assert.Equal(t, "running", detail.SubState)
	require.NotNil(t, detail.PID)
	assert.Equal(t, 4242, *detail.PID)
	require.NotNil(t, detail.MemoryRSSBytes)
	assert.Equal(t, int64(10240*1024), *detail.MemoryRSSBytes)
	require.NotNil(t, detail.UptimeSeconds)
}

func TestStatus_BestEffortExtrasNull(t *testing.T) {
	runner := newFakeRunner()
	key := fmt.Sprint([]string{"systemctl", "show", "mario.service",
		"--property=ActiveState,SubState,LoadState,MainPID,ActiveEnterTimestamp"})
	runner.results[key] = command.Result{Success: true, Stdout: "ActiveState=inactive\nSubState=dead\nLoadState=loaded\nMainPID=0\nActiveEnterTimestamp=n/a\n"}

	svc := New(testRegistry(t), runner, nil, nil, nil)

	detail, err := svc.Status(context.Background(), "mario")
	require.NoError(t, err)

	assert.Equal(t, StatusInactive, detail.Status)
	assert.Nil(t, detail.PID)
	assert.Nil(t, detail.UptimeSeconds)
	assert.Nil(t, detail.MemoryRSSBytes)
}

func TestStatus_UnitNotLoadedIsInstalled(t *testing.T) {
	runner := newFakeRunner()
	key := fmt.Sprint([]string{"systemctl", "show", "mario.service",
		"--property=ActiveState,SubState,LoadState,MainPID,ActiveEnterTimestamp"})
	runner.results[key] = command.Result{Success: true, Stdout: "ActiveState=inactive\nSubState=dead\nLoadState=not-found\nMainPID=0\n"}

	svc := New(testRegistry(t), runner, nil, nil, nil)

	detail, err := svc.Status(context.Background(), "mario")
	require.NoError(t, err)
	assert.Equal(t, StatusInstalled, detail.Status)
}

func TestStatus_FixedVocabulary(t *testing.T) {
	valid := map[Status]bool{
		StatusActive: true, StatusInactive: true, StatusFailed: true,
		StatusInstalled: true, StatusUnknown: true,
	}
	for _, state := range []string{"active", "inactive", "failed", "activating", "deactivating", "reloading", "garbage", ""} {
		got := mapActiveState(state)
		assert.True(t, valid[got], "mapActiveState(%q) = %q outside the fixed enum", state, got)
	}
}

func TestStatus_UnknownModule(t *testing.T) {
	svc := New(testRegistry(t), newFakeRunner(), nil, nil, nil)

	_, err := svc.Status(context.Background(), "unregistered")
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}
