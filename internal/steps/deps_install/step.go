package deps_install

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/runtime"
	"github.com/yourusername/pylift/internal/venv"
)

const (
	stepID      = "deps-install"
	stepVersion = "1.0.0"
)

// Option customizes the deps-install step.
type Option func(*Step)

// Step installs the pinned requirements into the new environment and
// snapshots what pip ended up with.
type Step struct {
	*step.Base
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
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

// New constructs a deps-install step.
func New(opts ...Option) *Step {
	info := step.Info{
		ID:          stepID,
		Name:        "Install Dependencies",
		Description: "Runs pip install -r requirements.txt and records package snapshots.",
		Version:     stepVersion,
	}
	base := step.NewBase(info)
	base.SetInputs(artifact.VenvDirectory, artifact.RequirementsFile)
	base.SetOutputs(artifact.PipPackagesJSON, artifact.PipFreezeFile)
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
func WithRunner(run func(ctx context.Context, name string, args ...string) ([]byte, error)) Option {
	return func(s *Step) {
		if run != nil {
			s.run = run
		}
	}
}

// Run installs requirements and writes the pip snapshots.
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
		return step.Result{Status: step.StatusNoOp, Message: "dependencies already installed"}, nil
	}
	pip := s.newPip(ctx)
	if err := pip.InstallRequirements(ctx.Context(), ctx.Runbook.RequirementsPath()); err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	packages, _, err := pip.List(ctx.Context())
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	if err := s.writePackagesSnapshot(ctx, packages); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	frozen, err := pip.Freeze(ctx.Context())
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	if err := ctx.Artifacts.Write(artifact.PipFreezeFile, frozen, artifact.Metadata{}); err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: write pip freeze: %w", stepID, err)
	}
	if ctx.Logbook != nil {
		ctx.Logbook.Step(stepID, "installed %d packages", len(packages))
	}
	return step.Result{Status: step.StatusCompleted, Message: fmt.Sprintf("%d packages installed", len(packages))}, nil
}

// IsComplete reports true when the package snapshot carries our metadata and
// the freeze file exists.
func (s *Step) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return false, err
	}
	result, err := ctx.Artifacts.Check(artifact.PipPackagesJSON)
	if err != nil {
		return false, fmt.Errorf("%s: check pip packages: %w", stepID, err)
	}
	if result.State != artifact.StateReady {
		return false, nil
	}
	if result.Metadata == nil || result.Metadata.StepID != stepID || result.Metadata.Version != stepVersion {
		return false, nil
	}
	freeze, err := ctx.Artifacts.Check(artifact.PipFreezeFile)
	if err != nil {
		return false, fmt.Errorf("%s: check pip freeze: %w", stepID, err)
	}
	return freeze.State == artifact.StateReady, nil
}

func (s *Step) newPip(ctx *step.StepContext) *venv.Pip {
	env := venv.New(ctx.Runbook.VenvDir())
	opts := []venv.PipOption{
		venv.WithIndexes(ctx.Config.Project.Venv.IndexURL, ctx.Config.Project.Venv.ExtraIndexURLs),
	}
	if s.run != nil {
		opts = append(opts, venv.WithPipRunner(s.run))
	}
	if ctx.Logbook != nil {
		lb := ctx.Logbook
		opts = append(opts, venv.WithOutputSink(func(line string) {
			lb.Step(stepID, "%s", line)
		}))
	}
	return venv.NewPip(env, opts...)
}

func (s *Step) writePackagesSnapshot(ctx *step.StepContext, packages []venv.Package) error {
	body, err := json.Marshal(packagesPayload{Packages: packages, Count: len(packages)})
	if err != nil {
		return fmt.Errorf("%s: encode pip packages: %w", stepID, err)
	}
	meta := artifact.Metadata{
		ArtifactID: artifact.PipPackagesJSON.ID,
		StepID:     stepID,
		Version:    stepVersion,
		Runbook:    ctx.Runbook.Dir(),
	}
	runtime.WithInputs(s.Inputs()...)(&meta)
	if err := ctx.Artifacts.Write(artifact.PipPackagesJSON, body, meta); err != nil {
		return fmt.Errorf("%s: write pip packages: %w", stepID, err)
	}
	return nil
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

type packagesPayload struct {
	Packages []venv.Package `json:"packages"`
	Count    int            `json:"count"`
}
