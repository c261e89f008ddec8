package system

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luigi-home/luigid/internal/command"
	"github.com/luigi-home/luigid/internal/modules"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []command.Argv
	fail  bool
}

func (r *recordingRunner) Run(ctx context.Context, argv command.Argv, timeout time.Duration) (command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, argv)
	if r.fail {
		return command.Result{Success: false, ExitCode: 1}, nil
	}
	return command.Result{Success: true, ExitCode: 0}, nil
}

func TestExecute_RebootRequiresConfirm(t *testing.T) {
	runner := &recordingRunner{}
	svc := New(runner, nil, nil, nil)

	_, err := svc.Execute(context.Background(), VerbReboot, false, modules.Caller{Identity: "admin"})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Empty(t, runner.calls, "command must not run without confirmation")

	result, err := svc.Execute(context.Background(), VerbReboot, true, modules.Caller{Identity: "admin"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, command.Argv{"systemctl", "reboot"}, runner.calls[0])
}

func TestExecute_ShutdownArgv(t *testing.T) {
	runner := &recordingRunner{}
	svc := New(runner, nil, nil, nil)

	_, err := svc.Execute(context.Background(), VerbShutdown, true, modules.Caller{Identity: "admin"})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, command.Argv{"systemctl", "poweroff"}, runner.calls[0])
}

func TestExecute_UpdateRunsBothSteps(t *testing.T) {
	runner := &recordingRunner{}
	svc := New(runner, nil, nil, nil)

	_, err := svc.Execute(context.Background(), VerbUpdate, false, modules.Caller{Identity: "admin"})
	require.NoError(t, err)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, command.Argv{"apt-get", "update"}, runner.calls[0])
	assert.Equal(t, command.Argv{"apt-get", "upgrade", "-y"}, runner.calls[1])
}

func TestExecute_CleanupRunsBothSteps(t *testing.T) {
	runner := &recordingRunner{}
	svc := New(runner, nil, nil, nil)

	_, err := svc.Execute(context.Background(), VerbCleanup, false, modules.Caller{Identity: "admin"})
	require.NoError(t, err)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, command.Argv{"apt-get", "autoremove", "-y"}, runner.calls[0])
	assert.Equal(t, command.Argv{"apt-get", "clean"}, runner.calls[1])
}

func TestExecute_StopsAtFirstFailingStep(t *testing.T) {
	runner := &recordingRunner{fail: true}
	svc := New(runner, nil, nil, nil)

	result, err := svc.Execute(context.Background(), VerbUpdate, false, modules.Caller{Identity: "admin"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Len(t, runner.calls, 1, "second step must not run after a failure")
}

func TestExecute_UnknownVerb(t *testing.T) {
	runner := &recordingRunner{}
	svc := New(runner, nil, nil, nil)

	_, err := svc.Execute(context.Background(), Verb("format-disk"), true, modules.Caller{Identity: "admin"})
	assert.Error(t, err)
	assert.Empty(t, runner.calls)
}
