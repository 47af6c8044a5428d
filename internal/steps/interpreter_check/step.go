package interpreter_check

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/python"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/runtime"
)

const (
	stepID      = "interpreter-check"
	stepVersion = "1.0.0"
)

// Option customizes the interpreter-check step.
type Option func(*Step)

// Step locates a host interpreter matching the configured target version and
// records it in interpreter.json for the rest of the runbook.
type Step struct {
	*step.Base
	now    func() time.Time
	finder *python.Finder
}

// Register installs the step factory.
func Register(reg *step.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(stepID, func(step.Config) (step.Step, error) {
		return New(), nil
	})
}

// New constructs an interpreter-check step with optional overrides.
func New(opts ...Option) *Step {
	info := step.Info{
		ID:          stepID,
		Name:        "Locate Target Interpreter",
		Description: "Resolves a host Python matching the configured target version.",
		Version:     stepVersion,
	}
	base := step.NewBase(info)
	base.SetOutputs(artifact.InterpreterJSON)
	s := &Step{
		Base:   &base,
		now:    time.Now,
		finder: python.NewFinder(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithClock overrides the step timestamp source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Step) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithFinder swaps interpreter discovery (tests).
func WithFinder(finder *python.Finder) Option {
	return func(s *Step) {
		if finder != nil {
			s.finder = finder
		}
	}
}

// Run resolves the interpreter and persists it.
func (s *Step) Run(ctx *step.StepContext) (step.Result, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if done, err := s.IsComplete(ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	} else if done {
		return step.Result{Status: step.StatusNoOp, Message: "interpreter already resolved"}, nil
	}
	target, err := python.ParseVersion(ctx.Config.TargetVersion())
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: parse target version: %w", stepID, err)
	}
	interp, err := s.finder.Find(ctx.Context(), target, ctx.Config.Project.Python.Interpreter)
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	if err := s.writeInterpreter(ctx, interp); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if ctx.Logbook != nil {
		ctx.Logbook.Step(stepID, "resolved python %s at %s", interp.VersionString, interp.Path)
	}
	message := fmt.Sprintf("python %s at %s", interp.VersionString, interp.Path)
	return step.Result{Status: step.StatusCompleted, Message: message}, nil
}

// IsComplete reports true when interpreter.json carries our metadata and the
// recorded binary still exists on disk.
func (s *Step) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return false, err
	}
	result, err := ctx.Artifacts.Check(artifact.InterpreterJSON)
	if err != nil {
		return false, fmt.Errorf("%s: check interpreter.json: %w", stepID, err)
	}
	if result.State != artifact.StateReady {
		return false, nil
	}
	if result.Metadata == nil || result.Metadata.StepID != stepID || result.Metadata.Version != stepVersion {
		return false, nil
	}
	interp, err := LoadInterpreter(ctx)
	if err != nil {
		return false, nil
	}
	if _, err := os.Stat(interp.Path); err != nil {
		// The binary moved out from under us; rerun discovery.
		return false, nil
	}
	return true, nil
}

func (s *Step) writeInterpreter(ctx *step.StepContext, interp python.Interpreter) error {
	body, err := json.Marshal(interpreterPayload{
		Path:       interp.Path,
		Version:    interp.VersionString,
		ResolvedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%s: encode interpreter.json: %w", stepID, err)
	}
	meta := artifact.Metadata{
		ArtifactID: artifact.InterpreterJSON.ID,
		StepID:     stepID,
		Version:    stepVersion,
		Runbook:    ctx.Runbook.Dir(),
	}
	if err := ctx.Artifacts.Write(artifact.InterpreterJSON, body, meta); err != nil {
		return fmt.Errorf("%s: write interpreter.json: %w", stepID, err)
	}
	return nil
}

// LoadInterpreter reads the resolved interpreter back out of interpreter.json.
// Downstream steps use it instead of re-running discovery.
func LoadInterpreter(ctx *step.StepContext) (python.Interpreter, error) {
	path := artifact.InterpreterJSON.Path(ctx.Runbook)
	data, err := os.ReadFile(path)
	if err != nil {
		return python.Interpreter{}, fmt.Errorf("%s: read interpreter.json: %w", stepID, err)
	}
	var payload interpreterPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return python.Interpreter{}, fmt.Errorf("%s: parse interpreter.json: %w", stepID, err)
	}
	version, err := python.ParseVersion(payload.Version)
	if err != nil {
		return python.Interpreter{}, fmt.Errorf("%s: interpreter.json version: %w", stepID, err)
	}
	return python.Interpreter{Path: payload.Path, Version: version, VersionString: payload.Version}, nil
}

type interpreterPayload struct {
	Path       string `json:"path"`
	Version    string `json:"version"`
	ResolvedAt string `json:"resolvedAt"`
}
