package env_create

import (
	"fmt"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/python"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/interpreter_check"
	"github.com/yourusername/pylift/internal/steps/runtime"
	"github.com/yourusername/pylift/internal/venv"
)

const (
	stepID      = "env-create"
	stepVersion = "1.0.0"
)

// Option customizes the env-create step.
type Option func(*Step)

// Step builds a fresh virtualenv on the resolved target interpreter.
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

// New constructs an env-create step.
func New(opts ...Option) *Step {
	info := step.Info{
		ID:          stepID,
		Name:        "Create New Environment",
		Description: "Runs the target interpreter's venv module to build a clean environment.",
		Version:     stepVersion,
		Concurrency: step.ConcurrencyProfile{Exclusive: true},
	}
	base := step.NewBase(info)
	base.SetInputs(artifact.InterpreterJSON, artifact.EnvBackedUpMarker)
	base.SetOutputs(artifact.VenvDirectory)
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

// Run creates the environment.
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
		return step.Result{Status: step.StatusNoOp, Message: "environment already on target interpreter"}, nil
	}
	interp, err := interpreter_check.LoadInterpreter(ctx)
	if err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	creator := venv.NewCreator(s.run)
	env, err := creator.Create(ctx.Context(), interp, ctx.Runbook.VenvDir())
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	if ctx.Logbook != nil {
		ctx.Logbook.Step(stepID, "created %s on python %s", env.Dir, interp.VersionString)
	}
	return step.Result{Status: step.StatusCompleted, Message: fmt.Sprintf("created %s", env.Dir)}, nil
}

// IsComplete reports true when the env exists and its pyvenv.cfg already
// names the target version. A leftover env on the old interpreter is not
// complete; it should have been moved aside by env-backup.
func (s *Step) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return false, err
	}
	result, err := ctx.Artifacts.Check(artifact.VenvDirectory)
	if err != nil {
		return false, fmt.Errorf("%s: check venv dir: %w", stepID, err)
	}
	if result.State != artifact.StateReady {
		return false, nil
	}
	target, err := python.ParseVersion(ctx.Config.TargetVersion())
	if err != nil {
		return false, fmt.Errorf("%s: parse target version: %w", stepID, err)
	}
	info, err := venv.New(ctx.Runbook.VenvDir()).Inspect()
	if err != nil {
		return false, nil
	}
	return info.Version.Matches(target), nil
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
