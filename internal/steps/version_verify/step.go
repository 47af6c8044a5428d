package version_verify

import (
	"fmt"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/python"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/runtime"
	"github.com/yourusername/pylift/internal/venv"
)

const (
	stepID      = "version-verify"
	stepVersion = "1.0.0"
)

// Option customizes the version-verify step.
type Option func(*Step)

// Step asks the new environment's own interpreter what version it is and
// refuses to proceed on a mismatch. Gated so an operator confirms the
// environment looks right before the app comes back up.
type Step struct {
	*step.Base
	run python.CommandRunner
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

// New constructs a version-verify step.
func New(opts ...Option) *Step {
	info := step.Info{
		ID:          stepID,
		Name:        "Verify Interpreter Version",
		Description: "Confirms the environment's python --version matches the configured target.",
		Version:     stepVersion,
	}
	base := step.NewBase(info)
	base.SetInputs(artifact.VenvDirectory, artifact.PipPackagesJSON)
	base.SetOutputs(artifact.VersionVerifiedMarker)
	s := &Step{
		Base: &base,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithRunner swaps subprocess execution (tests).
func WithRunner(run python.CommandRunner) Option {
	return func(s *Step) {
		if run != nil {
			s.run = run
		}
	}
}

// Run checks the env version and drops the verified marker on a match.
func (s *Step) Run(ctx *step.StepContext) (step.Result, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if missing, err := s.missingInput(ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	} else if missing != "" {
		return step.Result{Status: step.StatusNeedsInput, Message: fmt.Sprintf("waiting for %s", missing)}, nil
	}
	if done, err := s.IsComplete(ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	} else if done {
		return step.Result{Status: step.StatusNoOp, Message: "version already verified"}, nil
	}
	target, err := python.ParseVersion(ctx.Config.TargetVersion())
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: parse target version: %w", stepID, err)
	}
	env := venv.New(ctx.Runbook.VenvDir())
	reported, err := env.PythonVersion(ctx.Context(), s.run)
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	if !reported.Matches(target) {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: environment reports python %s, want %s", stepID, reported, target)
	}
	meta := artifact.Metadata{
		ArtifactID: artifact.VersionVerifiedMarker.ID,
		StepID:     stepID,
		Version:    stepVersion,
		Runbook:    ctx.Runbook.Dir(),
	}
	if err := ctx.Artifacts.Write(artifact.VersionVerifiedMarker, nil, meta); err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: write marker: %w", stepID, err)
	}
	if ctx.Logbook != nil {
		ctx.Logbook.Step(stepID, "environment reports python %s", reported)
	}
	return step.Result{Status: step.StatusCompleted, Message: fmt.Sprintf("python %s", reported)}, nil
}

// IsComplete returns true when the verified marker exists.
func (s *Step) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return false, err
	}
	return runtime.EnsureMarker(ctx, stepID, stepVersion, artifact.VersionVerifiedMarker)
}

func (s *Step) missingInput(ctx *step.StepContext) (string, error) {
	for _, ref := range s.Inputs() {
		result, err := ctx.Artifacts.Check(ref)
		if err != nil {
			return "", fmt.Errorf("%s: check %s: %w", stepID, ref.ID, err)
		}
		if result.State != artifact.StateReady {
			return ref.Name, nil
		}
	}
	return "", nil
}
