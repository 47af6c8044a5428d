// Package app supervises the Streamlit process served from the managed
// virtual environment: start, graceful stop, restart, and status. State is
// written under .pylift/runbook/app/ so a later pylift invocation can adopt
// a process it did not spawn itself.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/yourusername/pylift/internal/venv"
)

const (
	pidFileName   = "app.pid"
	stateFileName = "app.state.json"

	// stopGrace bounds how long we wait after SIGINT before SIGKILL.
	stopGrace = 10 * time.Second
)

// ErrNotRunning is returned when no live app process is recorded.
var ErrNotRunning = errors.New("app: not running")

// State persists what we know about the managed process.
type State struct {
	PID        int       `json:"pid"`
	Port       int       `json:"port"`
	Entrypoint string    `json:"entrypoint"`
	VenvDir    string    `json:"venv_dir"`
	StartedAt  time.Time `json:"started_at"`
}

// Settings configures how the app is launched.
type Settings struct {
	Entrypoint     string
	Port           int
	Headless       bool
	StartupTimeout time.Duration
	WorkDir        string
}

// Supervisor owns the app process lifecycle for one project.
type Supervisor struct {
	stateDir string
	settings Settings

	startProcess func(env venv.Environment, settings Settings) (int, error)
	signal       func(pid int, sig syscall.Signal) error
	alive        func(pid int) bool
	probe        Probe
	now          func() time.Time
}

// Option customizes a Supervisor (tests swap the process plumbing).
type Option func(*Supervisor)

// WithStarter overrides process spawning.
func WithStarter(start func(env venv.Environment, settings Settings) (int, error)) Option {
	return func(s *Supervisor) {
		if start != nil {
			s.startProcess = start
		}
	}
}

// WithSignaler overrides signal delivery.
func WithSignaler(signal func(pid int, sig syscall.Signal) error) Option {
	return func(s *Supervisor) {
		if signal != nil {
			s.signal = signal
		}
	}
}

// WithLivenessCheck overrides pid liveness detection.
func WithLivenessCheck(alive func(pid int) bool) Option {
	return func(s *Supervisor) {
		if alive != nil {
			s.alive = alive
		}
	}
}

// WithProbe overrides the HTTP readiness probe.
func WithProbe(probe Probe) Option {
	return func(s *Supervisor) {
		if probe != nil {
			s.probe = probe
		}
	}
}

// WithClock overrides timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Supervisor) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewSupervisor creates a supervisor persisting state under stateDir.
func NewSupervisor(stateDir string, settings Settings, opts ...Option) *Supervisor {
	s := &Supervisor{
		stateDir:     stateDir,
		settings:     settings,
		startProcess: spawnStreamlit,
		signal:       sendSignal,
		alive:        pidAlive,
		probe:        HTTPProbe,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PidPath returns the pid file location.
func (s *Supervisor) PidPath() string {
	return filepath.Join(s.stateDir, pidFileName)
}

// StatePath returns the state file location.
func (s *Supervisor) StatePath() string {
	return filepath.Join(s.stateDir, stateFileName)
}

// Status reports the recorded state plus whether the pid is actually alive.
// A stale pid file (dead process) reports running=false with the old state.
func (s *Supervisor) Status() (State, bool, error) {
	state, err := s.loadState()
	if err != nil {
		if errors.Is(err, ErrNotRunning) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	return state, s.alive(state.PID), nil
}

// Start launches Streamlit from the given environment and waits for the
// readiness probe. Refuses to double-start a live process.
func (s *Supervisor) Start(ctx context.Context, env venv.Environment) (State, error) {
	if state, running, err := s.Status(); err != nil {
		return State{}, err
	} else if running {
		return state, fmt.Errorf("app: already running (pid %d)", state.PID)
	}
	if !env.Exists() {
		return State{}, venv.ErrNoEnvironment
	}
	pid, err := s.startProcess(env, s.settings)
	if err != nil {
		return State{}, fmt.Errorf("app: start streamlit: %w", err)
	}
	state := State{
		PID:        pid,
		Port:       s.settings.Port,
		Entrypoint: s.settings.Entrypoint,
		VenvDir:    env.Dir,
		StartedAt:  s.now().UTC(),
	}
	if err := s.saveState(state); err != nil {
		return State{}, err
	}
	probeCtx := ctx
	if s.settings.StartupTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, s.settings.StartupTimeout)
		defer cancel()
	}
	if err := s.probe(probeCtx, s.settings.Port); err != nil {
		return state, fmt.Errorf("app: started pid %d but readiness probe failed: %w", pid, err)
	}
	return state, nil
}

// Stop interrupts the recorded process and escalates to SIGKILL after the
// grace period. A stale pid file is cleaned up and treated as stopped.
func (s *Supervisor) Stop(ctx context.Context) error {
	state, err := s.loadState()
	if err != nil {
		return err
	}
	if !s.alive(state.PID) {
		return s.clearState()
	}
	if err := s.signal(state.PID, syscall.SIGINT); err != nil {
		return fmt.Errorf("app: interrupt pid %d: %w", state.PID, err)
	}
	deadline := s.now().Add(stopGrace)
	for s.alive(state.PID) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.now().After(deadline) {
			if err := s.signal(state.PID, syscall.SIGKILL); err != nil {
				return fmt.Errorf("app: kill pid %d: %w", state.PID, err)
			}
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return s.clearState()
}

// Restart stops any recorded process and starts fresh from env.
func (s *Supervisor) Restart(ctx context.Context, env venv.Environment) (State, error) {
	if err := s.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return State{}, err
	}
	return s.Start(ctx, env)
}

func (s *Supervisor) loadState() (State, error) {
	data, err := os.ReadFile(s.StatePath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrNotRunning
		}
		return State{}, fmt.Errorf("app: read state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("app: parse state: %w", err)
	}
	if state.PID <= 0 {
		return State{}, ErrNotRunning
	}
	return state, nil
}

func (s *Supervisor) saveState(state State) error {
	if err := os.MkdirAll(s.stateDir, 0o755); err != nil {
		return fmt.Errorf("app: ensure state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("app: encode state: %w", err)
	}
	if err := os.WriteFile(s.StatePath(), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("app: write state: %w", err)
	}
	return os.WriteFile(s.PidPath(), []byte(strconv.Itoa(state.PID)+"\n"), 0o644)
}

func (s *Supervisor) clearState() error {
	for _, path := range []string{s.StatePath(), s.PidPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("app: remove %s: %w", path, err)
		}
	}
	return nil
}

// spawnStreamlit launches the real process detached from our stdio.
func spawnStreamlit(env venv.Environment, settings Settings) (int, error) {
	args := []string{"run", settings.Entrypoint, "--server.port", strconv.Itoa(settings.Port)}
	if settings.Headless {
		args = append(args, "--server.headless", "true")
	}
	cmd := exec.Command(env.StreamlitPath(), args...)
	cmd.Dir = settings.WorkDir
	cmd.Env = append(os.Environ(), "PATH="+env.BinDir()+string(os.PathListSeparator)+os.Getenv("PATH"))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap in the background so the child never zombies under us.
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func sendSignal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// pidAlive probes with signal 0.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM) || strings.Contains(err.Error(), "operation not permitted")
}
