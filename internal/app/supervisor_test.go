package app

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/pylift/internal/venv"
)

func fakeEnv(t *testing.T) venv.Environment {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "venv")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyvenv.cfg"), []byte("version = 3.10.12\n"), 0o644))
	return venv.New(dir)
}

type fakeProc struct {
	pid      int
	alive    map[int]bool
	signals  []syscall.Signal
	startErr error
}

func (f *fakeProc) options() []Option {
	return []Option{
		WithStarter(func(venv.Environment, Settings) (int, error) {
			if f.startErr != nil {
				return 0, f.startErr
			}
			f.alive[f.pid] = true
			return f.pid, nil
		}),
		WithSignaler(func(pid int, sig syscall.Signal) error {
			f.signals = append(f.signals, sig)
			if sig == syscall.SIGINT || sig == syscall.SIGKILL {
				f.alive[pid] = false
			}
			return nil
		}),
		WithLivenessCheck(func(pid int) bool { return f.alive[pid] }),
		WithProbe(func(context.Context, int) error { return nil }),
	}
}

func newFakeProc(pid int) *fakeProc {
	return &fakeProc{pid: pid, alive: map[int]bool{}}
}

func TestStartPersistsStateAndPid(t *testing.T) {
	stateDir := t.TempDir()
	proc := newFakeProc(4242)
	sup := NewSupervisor(stateDir, Settings{Entrypoint: "app.py", Port: 8501}, proc.options()...)

	state, err := sup.Start(context.Background(), fakeEnv(t))
	require.NoError(t, err)
	require.Equal(t, 4242, state.PID)

	data, err := os.ReadFile(sup.PidPath())
	require.NoError(t, err)
	require.Equal(t, "4242\n", string(data))

	loaded, running, err := sup.Status()
	require.NoError(t, err)
	require.True(t, running)
	require.Equal(t, 8501, loaded.Port)
}

func TestStartRefusesDoubleStart(t *testing.T) {
	stateDir := t.TempDir()
	proc := newFakeProc(4242)
	sup := NewSupervisor(stateDir, Settings{Entrypoint: "app.py", Port: 8501}, proc.options()...)
	env := fakeEnv(t)

	_, err := sup.Start(context.Background(), env)
	require.NoError(t, err)
	_, err = sup.Start(context.Background(), env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already running")
}

func TestStopInterruptsAndClearsState(t *testing.T) {
	stateDir := t.TempDir()
	proc := newFakeProc(4242)
	sup := NewSupervisor(stateDir, Settings{Entrypoint: "app.py", Port: 8501}, proc.options()...)

	_, err := sup.Start(context.Background(), fakeEnv(t))
	require.NoError(t, err)
	require.NoError(t, sup.Stop(context.Background()))
	require.Equal(t, []syscall.Signal{syscall.SIGINT}, proc.signals)

	_, running, err := sup.Status()
	require.NoError(t, err)
	require.False(t, running)
	require.NoFileExists(t, sup.PidPath())
}

func TestStopWithoutStateIsNotRunning(t *testing.T) {
	sup := NewSupervisor(t.TempDir(), Settings{Port: 8501}, newFakeProc(1).options()...)
	err := sup.Stop(context.Background())
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestStalePidFileTreatedAsStopped(t *testing.T) {
	stateDir := t.TempDir()
	proc := newFakeProc(4242)
	sup := NewSupervisor(stateDir, Settings{Entrypoint: "app.py", Port: 8501}, proc.options()...)

	_, err := sup.Start(context.Background(), fakeEnv(t))
	require.NoError(t, err)
	proc.alive[4242] = false // process died behind our back

	_, running, err := sup.Status()
	require.NoError(t, err)
	require.False(t, running)

	// Stop on a stale pid cleans up without signaling.
	require.NoError(t, sup.Stop(context.Background()))
	require.Empty(t, proc.signals)
}

func TestRestartCyclesProcess(t *testing.T) {
	stateDir := t.TempDir()
	proc := newFakeProc(4242)
	sup := NewSupervisor(stateDir, Settings{Entrypoint: "app.py", Port: 8501}, proc.options()...)
	env := fakeEnv(t)

	_, err := sup.Start(context.Background(), env)
	require.NoError(t, err)

	proc.pid = 4343
	state, err := sup.Restart(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, 4343, state.PID)
	require.Equal(t, []syscall.Signal{syscall.SIGINT}, proc.signals)
}

func TestRestartWhenNothingRunningJustStarts(t *testing.T) {
	proc := newFakeProc(99)
	sup := NewSupervisor(t.TempDir(), Settings{Entrypoint: "app.py", Port: 8501}, proc.options()...)
	state, err := sup.Restart(context.Background(), fakeEnv(t))
	require.NoError(t, err)
	require.Equal(t, 99, state.PID)
}
