// Package venv performs virtual environment operations by shelling out to
// the selected interpreter (`python -m venv`) and the environment's own pip.
// It owns no dependency resolution; pip's diagnostics pass through untouched.
package venv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/yourusername/pylift/internal/python"
)

// ErrNoEnvironment is returned when the configured venv directory is absent.
var ErrNoEnvironment = errors.New("venv: environment does not exist")

// Environment describes an on-disk virtual environment.
type Environment struct {
	Dir string
}

// New wraps a venv directory. The directory does not have to exist yet.
func New(dir string) Environment {
	return Environment{Dir: filepath.Clean(dir)}
}

// Exists reports whether the directory looks like a venv (has pyvenv.cfg).
func (e Environment) Exists() bool {
	info, err := os.Stat(e.ConfigPath())
	return err == nil && !info.IsDir()
}

// ConfigPath returns the path of the env's pyvenv.cfg.
func (e Environment) ConfigPath() string {
	return filepath.Join(e.Dir, "pyvenv.cfg")
}

// BinDir returns the scripts directory (bin/ on POSIX, Scripts\ on Windows).
func (e Environment) BinDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(e.Dir, "Scripts")
	}
	return filepath.Join(e.Dir, "bin")
}

// PythonPath returns the env's interpreter binary.
func (e Environment) PythonPath() string {
	name := "python"
	if runtime.GOOS == "windows" {
		name = "python.exe"
	}
	return filepath.Join(e.BinDir(), name)
}

// StreamlitPath returns the env's streamlit launcher.
func (e Environment) StreamlitPath() string {
	name := "streamlit"
	if runtime.GOOS == "windows" {
		name = "streamlit.exe"
	}
	return filepath.Join(e.BinDir(), name)
}

// Info captures the fields of pyvenv.cfg that matter to the upgrade runbook.
type Info struct {
	Home    string
	Version python.Version
}

// Inspect parses pyvenv.cfg to learn which interpreter built the env.
func (e Environment) Inspect() (Info, error) {
	file, err := os.Open(e.ConfigPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, ErrNoEnvironment
		}
		return Info{}, fmt.Errorf("venv: open %s: %w", e.ConfigPath(), err)
	}
	defer file.Close()

	var info Info
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(strings.ToLower(key))
		value = strings.TrimSpace(value)
		switch key {
		case "home":
			info.Home = value
		case "version", "version_info":
			parsed, err := python.ParseVersion(value)
			if err != nil {
				return Info{}, fmt.Errorf("venv: %s: %w", e.ConfigPath(), err)
			}
			info.Version = parsed
		}
	}
	if err := scanner.Err(); err != nil {
		return Info{}, fmt.Errorf("venv: read %s: %w", e.ConfigPath(), err)
	}
	if info.Version == (python.Version{}) {
		return Info{}, fmt.Errorf("venv: %s carries no version field", e.ConfigPath())
	}
	return info, nil
}

// Creator builds fresh environments.
type Creator struct {
	run python.CommandRunner
}

// NewCreator returns a Creator; a nil runner uses the host default.
func NewCreator(run python.CommandRunner) *Creator {
	if run == nil {
		run = HostRunner
	}
	return &Creator{run: run}
}

// Create runs `<interpreter> -m venv <dir>`. The directory must not already
// hold an environment; callers back up first (the runbook enforces this).
func (c *Creator) Create(ctx context.Context, interp python.Interpreter, dir string) (Environment, error) {
	env := New(dir)
	if env.Exists() {
		return Environment{}, fmt.Errorf("venv: %s already holds an environment; back it up first", dir)
	}
	if out, err := c.run(ctx, interp.Path, "-m", "venv", dir); err != nil {
		return Environment{}, fmt.Errorf("venv: create %s: %w\n%s", dir, err, strings.TrimSpace(string(out)))
	}
	if !env.Exists() {
		return Environment{}, fmt.Errorf("venv: %s created but pyvenv.cfg is missing", dir)
	}
	return env, nil
}

// PythonVersion asks the env's own interpreter what it is.
func (e Environment) PythonVersion(ctx context.Context, run python.CommandRunner) (python.Version, error) {
	if run == nil {
		run = HostRunner
	}
	if !e.Exists() {
		return python.Version{}, ErrNoEnvironment
	}
	out, err := run(ctx, e.PythonPath(), "--version")
	if err != nil {
		return python.Version{}, fmt.Errorf("venv: run %s --version: %w", e.PythonPath(), err)
	}
	return python.ParseVersion(string(out))
}
