package env_backup

import (
	"errors"
	"fmt"
	"time"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/runtime"
	"github.com/yourusername/pylift/internal/venv"
)

const (
	stepID      = "env-backup"
	stepVersion = "1.0.0"
)

// Option customizes the env-backup step.
type Option func(*Step)

// Step moves the existing virtualenv aside before the upgrade replaces it.
// This is the runbook's point of no return, so it sits behind a manual gate.
type Step struct {
	*step.Base
	now func() time.Time
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

// New constructs an env-backup step.
func New(opts ...Option) *Step {
	info := step.Info{
		ID:          stepID,
		Name:        "Back Up Old Environment",
		Description: "Renames the existing virtualenv aside and records it in the backup manifest.",
		Version:     stepVersion,
		Concurrency: step.ConcurrencyProfile{Exclusive: true},
	}
	base := step.NewBase(info)
	base.SetInputs(artifact.InterpreterJSON)
	base.SetOutputs(artifact.EnvBackedUpMarker)
	s := &Step{
		Base: &base,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithClock overrides the backup timestamp source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Step) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Run renames the env aside, prunes old backups, and drops the marker.
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
		return step.Result{Status: step.StatusNoOp, Message: "environment already backed up"}, nil
	}
	env := venv.New(ctx.Runbook.VenvDir())
	backups := venv.NewBackups(ctx.Runbook.BackupManifestPath(), ctx.Config.Project.Venv.KeepBackupCount()).WithClock(s.now)
	entry, err := backups.Backup(env, s.runID())
	if err != nil {
		if errors.Is(err, venv.ErrNoEnvironment) {
			// Fresh project: nothing to move, the marker still records the decision.
			if err := s.writeMarker(ctx); err != nil {
				return step.Result{Status: step.StatusFailed}, err
			}
			return step.Result{Status: step.StatusCompleted, Message: "no existing environment to back up"}, nil
		}
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	if err := backups.Prune(); err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: prune backups: %w", stepID, err)
	}
	if err := s.writeMarker(ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if ctx.Logbook != nil {
		ctx.Logbook.Step(stepID, "moved %s to %s", entry.Original, entry.BackupDir)
	}
	return step.Result{Status: step.StatusCompleted, Message: fmt.Sprintf("moved to %s", entry.BackupDir)}, nil
}

// IsComplete returns true when the backed-up marker exists.
func (s *Step) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return false, err
	}
	return runtime.EnsureMarker(ctx, stepID, stepVersion, artifact.EnvBackedUpMarker)
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

func (s *Step) writeMarker(ctx *step.StepContext) error {
	meta := artifact.Metadata{
		ArtifactID: artifact.EnvBackedUpMarker.ID,
		StepID:     stepID,
		Version:    stepVersion,
		Runbook:    ctx.Runbook.Dir(),
	}
	if err := ctx.Artifacts.Write(artifact.EnvBackedUpMarker, nil, meta); err != nil {
		return fmt.Errorf("%s: write marker: %w", stepID, err)
	}
	return nil
}

func (s *Step) runID() string {
	return s.now().UTC().Format("20060102T150405")
}
