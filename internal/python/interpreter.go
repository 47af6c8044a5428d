package python

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotFound is returned when no interpreter on PATH satisfies the target.
var ErrNotFound = errors.New("python: no matching interpreter found")

// Interpreter is a resolved CPython binary.
type Interpreter struct {
	Path    string  `json:"path"`
	Version Version `json:"-"`

	// VersionString is the dotted form persisted in interpreter.json.
	VersionString string `json:"version"`
}

// CommandRunner executes an external binary and returns its combined output.
// Swappable in tests so discovery never depends on the host Python install.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func defaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	// CPython <= 3.3 printed --version to stderr; capture both.
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// Finder locates interpreters matching a target version.
type Finder struct {
	lookPath func(string) (string, error)
	run      CommandRunner
}

// FinderOption customizes a Finder (used by tests).
type FinderOption func(*Finder)

// WithLookPath overrides PATH resolution.
func WithLookPath(fn func(string) (string, error)) FinderOption {
	return func(f *Finder) {
		if fn != nil {
			f.lookPath = fn
		}
	}
}

// WithRunner overrides subprocess execution.
func WithRunner(run CommandRunner) FinderOption {
	return func(f *Finder) {
		if run != nil {
			f.run = run
		}
	}
}

// NewFinder builds a Finder with host defaults.
func NewFinder(opts ...FinderOption) *Finder {
	f := &Finder{
		lookPath: exec.LookPath,
		run:      defaultRunner,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Candidates returns the binary names probed for a target, most specific
// first: python3.10, python3, python.
func Candidates(target Version) []string {
	return []string{
		fmt.Sprintf("python%s", target.MajorMinor()),
		"python3",
		"python",
	}
}

// Find returns the first interpreter on PATH whose reported version matches
// the target. An explicit path short-circuits the PATH walk but is still
// version-checked.
func (f *Finder) Find(ctx context.Context, target Version, explicitPath string) (Interpreter, error) {
	if explicitPath != "" {
		interp, err := f.inspect(ctx, explicitPath)
		if err != nil {
			return Interpreter{}, fmt.Errorf("python: inspect %s: %w", explicitPath, err)
		}
		if !interp.Version.Matches(target) {
			return Interpreter{}, fmt.Errorf("python: %s reports %s, want %s: %w",
				explicitPath, interp.Version, target, ErrNotFound)
		}
		return interp, nil
	}

	var seen []string
	for _, name := range Candidates(target) {
		path, err := f.lookPath(name)
		if err != nil {
			continue
		}
		interp, err := f.inspect(ctx, path)
		if err != nil {
			continue
		}
		if interp.Version.Matches(target) {
			return interp, nil
		}
		seen = append(seen, fmt.Sprintf("%s=%s", path, interp.Version))
	}
	if len(seen) > 0 {
		return Interpreter{}, fmt.Errorf("python: found %s but none match %s (install python%s and retry): %w",
			strings.Join(seen, ", "), target, target.MajorMinor(), ErrNotFound)
	}
	return Interpreter{}, fmt.Errorf("python: no interpreter on PATH (install python%s and retry): %w",
		target.MajorMinor(), ErrNotFound)
}

// inspect runs `<path> --version` and parses the result.
func (f *Finder) inspect(ctx context.Context, path string) (Interpreter, error) {
	out, err := f.run(ctx, path, "--version")
	if err != nil {
		return Interpreter{}, fmt.Errorf("python: run %s --version: %w", path, err)
	}
	version, err := ParseVersion(string(out))
	if err != nil {
		return Interpreter{}, err
	}
	return Interpreter{Path: path, Version: version, VersionString: version.String()}, nil
}
