package venv

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/tidwall/gjson"
)

// HostRunner executes a binary on the host and returns combined output.
func HostRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}

// OutputSink receives subprocess output lines as they matter to the caller
// (the deps-install step tees pip output into the logbook through this).
type OutputSink func(line string)

// Package is one installed distribution reported by pip.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Pip drives the environment's own pip binary.
type Pip struct {
	env  Environment
	run  func(ctx context.Context, name string, args ...string) ([]byte, error)
	sink OutputSink

	// IndexURL and ExtraIndexURLs mirror the config overrides.
	IndexURL       string
	ExtraIndexURLs []string
}

// PipOption customizes the Pip runner.
type PipOption func(*Pip)

// WithPipRunner swaps subprocess execution (tests).
func WithPipRunner(run func(ctx context.Context, name string, args ...string) ([]byte, error)) PipOption {
	return func(p *Pip) {
		if run != nil {
			p.run = run
		}
	}
}

// WithOutputSink tees install output line by line.
func WithOutputSink(sink OutputSink) PipOption {
	return func(p *Pip) {
		p.sink = sink
	}
}

// WithIndexes sets package index overrides.
func WithIndexes(indexURL string, extra []string) PipOption {
	return func(p *Pip) {
		p.IndexURL = indexURL
		p.ExtraIndexURLs = extra
	}
}

// NewPip binds a Pip runner to an environment.
func NewPip(env Environment, opts ...PipOption) *Pip {
	p := &Pip{env: env, run: HostRunner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// pipArgs prefixes every invocation with `-m pip` so the env's interpreter —
// not whatever pip is first on PATH — does the work.
func (p *Pip) pipArgs(args ...string) []string {
	return append([]string{"-m", "pip"}, args...)
}

// InstallRequirements runs `pip install -r <file>` inside the environment.
func (p *Pip) InstallRequirements(ctx context.Context, requirementsPath string) error {
	if !p.env.Exists() {
		return ErrNoEnvironment
	}
	args := []string{"install", "-r", requirementsPath}
	if p.IndexURL != "" {
		args = append(args, "--index-url", p.IndexURL)
	}
	for _, extra := range p.ExtraIndexURLs {
		if extra != "" {
			args = append(args, "--extra-index-url", extra)
		}
	}
	out, err := p.run(ctx, p.env.PythonPath(), p.pipArgs(args...)...)
	p.emit(out)
	if err != nil {
		return fmt.Errorf("venv: pip install -r %s: %w\n%s", requirementsPath, err, tail(out, 20))
	}
	return nil
}

// List returns installed packages via `pip list --format=json`.
func (p *Pip) List(ctx context.Context) ([]Package, []byte, error) {
	if !p.env.Exists() {
		return nil, nil, ErrNoEnvironment
	}
	out, err := p.run(ctx, p.env.PythonPath(), p.pipArgs("list", "--format=json")...)
	if err != nil {
		return nil, nil, fmt.Errorf("venv: pip list: %w\n%s", err, tail(out, 20))
	}
	packages, err := ParsePipList(out)
	if err != nil {
		return nil, nil, err
	}
	return packages, out, nil
}

// Freeze returns the `pip freeze` snapshot.
func (p *Pip) Freeze(ctx context.Context) ([]byte, error) {
	if !p.env.Exists() {
		return nil, ErrNoEnvironment
	}
	out, err := p.run(ctx, p.env.PythonPath(), p.pipArgs("freeze")...)
	if err != nil {
		return nil, fmt.Errorf("venv: pip freeze: %w\n%s", err, tail(out, 20))
	}
	return out, nil
}

// ParsePipList decodes pip's JSON listing. pip occasionally prefixes the
// JSON with warnings on stderr-merged streams, so we scan for the array.
func ParsePipList(out []byte) ([]Package, error) {
	payload := string(out)
	start := strings.Index(payload, "[")
	if start < 0 {
		return nil, fmt.Errorf("venv: pip list output carries no JSON array")
	}
	parsed := gjson.Parse(payload[start:])
	if !parsed.IsArray() {
		return nil, fmt.Errorf("venv: pip list output is not a JSON array")
	}
	var packages []Package
	var bad bool
	parsed.ForEach(func(_, value gjson.Result) bool {
		name := value.Get("name").String()
		if name == "" {
			bad = true
			return false
		}
		packages = append(packages, Package{
			Name:    name,
			Version: value.Get("version").String(),
		})
		return true
	})
	if bad {
		return nil, fmt.Errorf("venv: pip list entry missing name")
	}
	return packages, nil
}

func (p *Pip) emit(out []byte) {
	if p.sink == nil || len(out) == 0 {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(string(out), "\n"), "\n") {
		p.sink(line)
	}
}

func tail(out []byte, lines int) string {
	all := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	return strings.Join(all, "\n")
}
