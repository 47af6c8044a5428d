package tui

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/engine"
	"github.com/yourusername/pylift/internal/step"
)

func TestRunbookStartAndResume(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	app := newTestApp(t, projectDir)
	model, cmd := app.startRunbookRun(false)
	app = runCommands(t, model, cmd)
	if app.runbookView == nil {
		t.Fatalf("runbook view must be initialized")
	}
	firstRun := app.runbookView.state.RunID
	if firstRun == "" {
		t.Fatalf("expected run id to be set")
	}

	app2 := newTestApp(t, projectDir)
	model, cmd = app2.startRunbookRun(true)
	app2 = runCommands(t, model, cmd)
	if app2.runbookView == nil {
		t.Fatalf("resume should attach runbook view")
	}
	if app2.runbookView.state.RunID != firstRun {
		t.Fatalf("expected resume to keep run id, got %s want %s", app2.runbookView.state.RunID, firstRun)
	}
}

func TestHandleStepRunMarksCompletion(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	app := newTestApp(t, projectDir)
	model, cmd := app.startRunbookRun(false)
	app = runCommands(t, model, cmd)
	view := app.runbookView
	if view == nil {
		t.Fatalf("runbook view missing")
	}
	if got := view.state.Status; got != engine.EngineStatusRunning {
		t.Fatalf("expected running status, got %s", got)
	}
	resolved, err := view.registry.Resolve("stub-alpha", nil)
	if err != nil {
		t.Fatalf("resolve step: %v", err)
	}
	if _, err := resolved.Run(view.stepCtx); err != nil {
		t.Fatalf("run step: %v", err)
	}
	view.handleStepRunFinished(stepRunFinishedMsg{id: "alpha", result: step.Result{Status: step.StatusCompleted}})
	if got := view.state.Status; got != engine.EngineStatusComplete {
		t.Fatalf("expected complete status after step run, got %s", got)
	}
}

func TestRunbookCompletionReturnsToMainMenu(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	app := newTestApp(t, projectDir)
	model, cmd := app.startRunbookRun(false)
	app = runCommands(t, model, cmd)
	view := app.runbookView
	if view == nil {
		t.Fatalf("runbook view missing")
	}
	resolved, err := view.registry.Resolve("stub-alpha", nil)
	if err != nil {
		t.Fatalf("resolve step: %v", err)
	}
	if _, err := resolved.Run(view.stepCtx); err != nil {
		t.Fatalf("run step: %v", err)
	}
	finishCmd := view.handleStepRunFinished(stepRunFinishedMsg{id: "alpha", result: step.Result{Status: step.StatusCompleted}})
	if finishCmd == nil {
		t.Fatalf("expected runbook completion command")
	}
	msg := finishCmd()
	if msg == nil {
		t.Fatalf("expected runbook completion message")
	}
	nextModel, nextCmd := app.Update(msg)
	app = runCommands(t, nextModel, nextCmd)
	if app.state != stateMainMenu {
		t.Fatalf("expected return to main menu after completion, got state %d", app.state)
	}
}

func TestRunbookCompletionQuitsWithoutParent(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	app := newTestApp(t, projectDir)
	app.runbookReturnState = stateUpgradeRun
	model, cmd := app.handleRunbookFinished(runbookFinishedMsg{RunbookID: "upgrade-env", Status: engine.EngineStatusComplete})
	var ok bool
	app, ok = model.(*App)
	if !ok {
		t.Fatalf("expected app model, got %T", model)
	}
	if cmd == nil {
		t.Fatalf("expected quit command")
	}
	if msg := cmd(); msg == nil {
		t.Fatalf("expected quit message")
	} else {
		if _, ok := msg.(tea.QuitMsg); !ok {
			t.Fatalf("expected tea.QuitMsg, got %T", msg)
		}
	}
}

func TestRunbookSelectionPersistsAndLoadsDefinition(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	loaderCalls := map[string]int{}
	loader := func(cfg *config.Config, runbookID string) (runbook.RunbookDefinition, error) {
		loaderCalls[runbookID]++
		return runbook.RunbookDefinition{
			ID:   runbookID,
			Name: strings.ToUpper(runbookID),
			Steps: []runbook.StepRef{
				{ID: "alpha", StepID: "stub-alpha", Name: "Alpha"},
			},
		}, nil
	}
	app := newTestApp(t, projectDir, WithRunbookDefinitionLoader(loader))
	if err := app.setRunbookSelection("patch-only"); err != nil {
		t.Fatalf("set runbook selection: %v", err)
	}
	if got := app.config.DefaultRunbook(); got != "patch-only" {
		t.Fatalf("expected config default to update, got %s", got)
	}
	model, cmd := app.startRunbookRun(false)
	app = runCommands(t, model, cmd)
	if app.runbookView == nil {
		t.Fatalf("runbook view missing after selection")
	}
	if got := app.runbookView.state.RunbookID; got != "patch-only" {
		t.Fatalf("runbook view launched %s, want patch-only", got)
	}
	if loaderCalls["patch-only"] == 0 {
		t.Fatalf("expected runbook loader to be invoked for patch-only")
	}
}

func TestRunbookSelectorIncludesBuiltin(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	app := newTestApp(t, projectDir)
	app.config.Project.Runbooks.Available = nil
	app.selectedRunbook = ""
	app.refreshRunbookMenu()
	ids := map[string]struct{}{}
	for _, option := range app.runbookChoices {
		ids[option.ID()] = struct{}{}
	}
	if _, ok := ids[runbook.DefaultRunbookID]; !ok {
		t.Fatalf("runbook menu missing %s", runbook.DefaultRunbookID)
	}
}

func TestDefaultRunbookLoaderPrefersProjectOverride(t *testing.T) {
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}

	// No YAML on disk: the builtin definition serves upgrade-env.
	def, err := defaultRunbookLoader(cfg, runbook.DefaultRunbookID)
	if err != nil {
		t.Fatalf("builtin fallback: %v", err)
	}
	if len(def.GatedSteps()) == 0 {
		t.Fatalf("builtin runbook should carry manual gates")
	}

	dir := filepath.Join(cfg.PyliftProjectDir, runbook.DefaultDefinitionDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir runbooks: %v", err)
	}
	override := "id: upgrade-env\nname: Custom Upgrade\nsteps:\n  - step: interpreter-check\n"
	if err := os.WriteFile(filepath.Join(dir, "upgrade-env.yaml"), []byte(override), 0o644); err != nil {
		t.Fatalf("write override: %v", err)
	}
	def, err = defaultRunbookLoader(cfg, runbook.DefaultRunbookID)
	if err != nil {
		t.Fatalf("load override: %v", err)
	}
	if def.Name != "Custom Upgrade" {
		t.Fatalf("expected project override to win, got %q", def.Name)
	}

	if _, err := defaultRunbookLoader(cfg, "does-not-exist"); err == nil {
		t.Fatalf("expected error for unknown runbook")
	}
}

func newTestApp(t *testing.T, projectDir string, opts ...AppOption) *App {
	t.Helper()
	loader := func(cfg *config.Config, runbookID string) (runbook.RunbookDefinition, error) {
		id := strings.TrimSpace(runbookID)
		if id == "" {
			id = "test-runbook"
		}
		return runbook.RunbookDefinition{
			ID:   id,
			Name: "Test Runbook",
			Steps: []runbook.StepRef{
				{ID: "alpha", StepID: "stub-alpha", Name: "Alpha"},
			},
		}, nil
	}
	factory := func(*config.Config) (*step.Registry, error) {
		reg := step.NewRegistry()
		reg.MustRegister("stub-alpha", func(step.Config) (step.Step, error) {
			return &stubStep{id: "stub-alpha"}, nil
		})
		return reg, nil
	}
	baseOpts := []AppOption{WithRunbookDefinitionLoader(loader), WithStepRegistryFactory(factory)}
	baseOpts = append(baseOpts, opts...)
	app, err := NewApp(projectDir, baseOpts...)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return app
}

func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			break
		}
		nextModel, nextCmd := app.Update(msg)
		var ok bool
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		cmd = nextCmd
	}
	return app
}

type stubStep struct {
	id string
}

func (s *stubStep) Info() step.Info {
	return step.Info{ID: s.id, Name: strings.ToUpper(s.id), Version: "1.0.0"}
}

func (s *stubStep) Inputs() []artifact.ArtifactRef { return nil }

func (s *stubStep) Outputs() []artifact.ArtifactRef { return nil }

func (s *stubStep) IsComplete(ctx *step.StepContext) (bool, error) {
	path := s.markerPath(ctx)
	if path == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}
	return false, nil
}

func (s *stubStep) Run(ctx *step.StepContext) (step.Result, error) {
	path := s.markerPath(ctx)
	if path == "" {
		return step.Result{Status: step.StatusFailed}, fmt.Errorf("missing marker path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if err := os.WriteFile(path, []byte("done"), 0o644); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	return step.Result{Status: step.StatusCompleted, Message: "ok"}, nil
}

func (s *stubStep) markerPath(ctx *step.StepContext) string {
	if ctx == nil || ctx.Runbook == nil {
		return ""
	}
	return filepath.Join(ctx.Runbook.Dir(), "engine-test", s.id+".marker")
}
