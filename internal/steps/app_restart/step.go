package app_restart

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/pylift/internal/app"
	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/interpreter_check"
	"github.com/yourusername/pylift/internal/steps/runtime"
	"github.com/yourusername/pylift/internal/venv"
)

const (
	stepID      = "app-restart"
	stepVersion = "1.0.0"
)

// Option customizes the app-restart step.
type Option func(*Step)

// Step brings the Streamlit app back up on the upgraded environment and
// emits the final upgrade report.
type Step struct {
	*step.Base
	now        func() time.Time
	supervisor func(ctx *step.StepContext) *app.Supervisor
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

// New constructs an app-restart step.
func New(opts ...Option) *Step {
	info := step.Info{
		ID:          stepID,
		Name:        "Restart App",
		Description: "Restarts the Streamlit process on the new environment and writes the upgrade report.",
		Version:     stepVersion,
		Concurrency: step.ConcurrencyProfile{Exclusive: true},
	}
	base := step.NewBase(info)
	base.SetInputs(artifact.VenvDirectory, artifact.VersionVerifiedMarker)
	base.SetOutputs(artifact.AppRestartedMarker, artifact.UpgradeReportDoc)
	s := &Step{
		Base:       &base,
		now:        time.Now,
		supervisor: defaultSupervisor,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// WithClock overrides the report timestamp source (tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Step) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSupervisorFactory swaps how the process supervisor is obtained (tests).
func WithSupervisorFactory(factory func(ctx *step.StepContext) *app.Supervisor) Option {
	return func(s *Step) {
		if factory != nil {
			s.supervisor = factory
		}
	}
}

// Run restarts the app, drops the marker, and writes the upgrade report.
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
		return step.Result{Status: step.StatusNoOp, Message: "app already restarted"}, nil
	}
	supervisor := s.supervisor(ctx)
	if supervisor == nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: supervisor unavailable", stepID)
	}
	env := venv.New(ctx.Runbook.VenvDir())
	state, err := supervisor.Restart(ctx.Context(), env)
	if err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: %w", stepID, err)
	}
	meta := artifact.Metadata{
		ArtifactID: artifact.AppRestartedMarker.ID,
		StepID:     stepID,
		Version:    stepVersion,
		Runbook:    ctx.Runbook.Dir(),
	}
	if err := ctx.Artifacts.Write(artifact.AppRestartedMarker, nil, meta); err != nil {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("%s: write marker: %w", stepID, err)
	}
	if err := s.writeUpgradeReport(ctx, state); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if ctx.Logbook != nil {
		ctx.Logbook.Step(stepID, "app running as pid %d on port %d", state.PID, state.Port)
	}
	return step.Result{Status: step.StatusCompleted, Message: fmt.Sprintf("pid %d on port %d", state.PID, state.Port)}, nil
}

// IsComplete returns true when the restarted marker and upgrade report exist,
// and the recorded process is still alive.
func (s *Step) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := runtime.ValidateContext(stepID, ctx); err != nil {
		return false, err
	}
	ready, err := runtime.EnsureMarker(ctx, stepID, stepVersion, artifact.AppRestartedMarker)
	if err != nil || !ready {
		return false, err
	}
	report, err := ctx.Artifacts.Check(artifact.UpgradeReportDoc)
	if err != nil {
		return false, fmt.Errorf("%s: check upgrade report: %w", stepID, err)
	}
	if report.State != artifact.StateReady {
		return false, nil
	}
	supervisor := s.supervisor(ctx)
	if supervisor == nil {
		return true, nil
	}
	if _, alive, err := supervisor.Status(); err == nil && !alive {
		// The marker claims a restart but the process died; rerun.
		return false, nil
	}
	return true, nil
}

func defaultSupervisor(ctx *step.StepContext) *app.Supervisor {
	if ctx.Supervisor != nil {
		return ctx.Supervisor
	}
	appCfg := ctx.Config.Project.App
	return app.NewSupervisor(ctx.Runbook.AppDir(), app.Settings{
		Entrypoint:     ctx.Config.EntrypointPath(),
		Port:           appCfg.Port,
		Headless:       appCfg.Headless,
		StartupTimeout: appCfg.StartupTimeout(),
		WorkDir:        ctx.Config.ProjectDir,
	})
}

func (s *Step) writeUpgradeReport(ctx *step.StepContext, state app.State) error {
	body := s.renderReport(ctx, state)
	meta := artifact.Metadata{
		ArtifactID: artifact.UpgradeReportDoc.ID,
		StepID:     stepID,
		Version:    stepVersion,
		Runbook:    ctx.Runbook.Dir(),
	}
	runtime.WithInputs(s.Inputs()...)(&meta)
	if err := ctx.Artifacts.Write(artifact.UpgradeReportDoc, []byte(body), meta); err != nil {
		return fmt.Errorf("%s: write upgrade report: %w", stepID, err)
	}
	return nil
}

func (s *Step) renderReport(ctx *step.StepContext, state app.State) string {
	var b strings.Builder
	timestamp := s.now().UTC().Format(time.RFC3339)
	b.WriteString("# Upgrade Report\n\n")
	b.WriteString(fmt.Sprintf("Generated at %s UTC.\n\n", timestamp))
	b.WriteString("## Environment\n\n")
	if interp, err := interpreter_check.LoadInterpreter(ctx); err == nil {
		b.WriteString(fmt.Sprintf("- Interpreter: %s (%s)\n", interp.Path, interp.VersionString))
	}
	b.WriteString(fmt.Sprintf("- Virtualenv: %s\n", ctx.Runbook.VenvDir()))
	b.WriteString(fmt.Sprintf("- Target version: %s\n", ctx.Config.TargetVersion()))
	if entry, ok := s.latestBackup(ctx); ok {
		b.WriteString(fmt.Sprintf("- Previous env backed up to: %s\n", entry.BackupDir))
	}
	b.WriteString("\n## Packages\n\n")
	packages := s.readPackages(ctx)
	if len(packages) == 0 {
		b.WriteString("_No package snapshot recorded._\n")
	} else {
		sorted := append([]venv.Package(nil), packages...)
		sort.Slice(sorted, func(i, j int) bool {
			return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
		})
		b.WriteString(fmt.Sprintf("%d packages installed:\n\n", len(sorted)))
		for _, pkg := range sorted {
			b.WriteString(fmt.Sprintf("- %s %s\n", pkg.Name, pkg.Version))
		}
	}
	b.WriteString("\n## App\n\n")
	b.WriteString(fmt.Sprintf("- Entrypoint: %s\n", state.Entrypoint))
	b.WriteString(fmt.Sprintf("- PID: %d\n", state.PID))
	b.WriteString(fmt.Sprintf("- Port: %d\n", state.Port))
	if !state.StartedAt.IsZero() {
		b.WriteString(fmt.Sprintf("- Started at: %s\n", state.StartedAt.UTC().Format(time.RFC3339)))
	}
	return b.String()
}

func (s *Step) latestBackup(ctx *step.StepContext) (venv.BackupEntry, bool) {
	backups := venv.NewBackups(ctx.Runbook.BackupManifestPath(), ctx.Config.Project.Venv.KeepBackupCount())
	manifest, err := backups.Load()
	if err != nil || len(manifest.Entries) == 0 {
		return venv.BackupEntry{}, false
	}
	return manifest.Entries[len(manifest.Entries)-1], true
}

func (s *Step) readPackages(ctx *step.StepContext) []venv.Package {
	data, err := os.ReadFile(artifact.PipPackagesJSON.Path(ctx.Runbook))
	if err != nil {
		return nil
	}
	var payload struct {
		Packages []venv.Package `json:"packages"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil
	}
	return payload.Packages
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
