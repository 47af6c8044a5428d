package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/step"
)

func TestNewCommandStep(t *testing.T) {
	def := StepDefinition{
		ID:      "smoke-test",
		Name:    "Smoke Test",
		Version: "1.0.0",
		Command: CommandDefinition{Program: "scripts/smoke.sh"},
		Outputs: []ArtifactBinding{{Artifact: "app-restarted"}},
	}
	s, err := newCommandStep(def, nil)
	if err != nil {
		t.Fatalf("newCommandStep: %v", err)
	}
	if s.Info().ID != "smoke-test" || len(s.Outputs()) != 1 {
		t.Fatalf("unexpected step info: %+v", s.Info())
	}
}

func TestCommandStepRunCompletesWhenOutputsAppear(t *testing.T) {
	ctx := newTestContext(t)
	def := StepDefinition{
		ID:      "smoke-test",
		Version: "1.0.0",
		Command: CommandDefinition{Program: "scripts/smoke.sh"},
		Outputs: []ArtifactBinding{{Artifact: "app-restarted"}},
	}
	s, err := newCommandStep(def, nil)
	if err != nil {
		t.Fatalf("newCommandStep: %v", err)
	}
	s.runner = func(context.Context, string, []string, []string, string) ([]byte, error) {
		// The plugin command drops the marker itself.
		if err := ctx.Runbook.WriteMarker(ctx.Runbook.AppRestartedPath()); err != nil {
			t.Fatalf("write marker: %v", err)
		}
		return []byte("smoke ok\n"), nil
	}
	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
}

func TestCommandStepRunReportsIncompleteOutputs(t *testing.T) {
	ctx := newTestContext(t)
	def := StepDefinition{
		ID:      "smoke-test",
		Version: "1.0.0",
		Command: CommandDefinition{Program: "scripts/smoke.sh"},
		Outputs: []ArtifactBinding{{Artifact: "app-restarted"}},
	}
	s, err := newCommandStep(def, nil)
	if err != nil {
		t.Fatalf("newCommandStep: %v", err)
	}
	s.runner = func(context.Context, string, []string, []string, string) ([]byte, error) {
		return []byte("ran but produced nothing\n"), nil
	}
	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusNeedsInput {
		t.Fatalf("expected needs-input, got %+v", result)
	}
}

func TestCommandStepRunRendersTemplates(t *testing.T) {
	ctx := newTestContext(t)
	def := StepDefinition{
		ID:      "smoke-test",
		Version: "1.0.0",
		Command: CommandDefinition{
			Program: "{{.PythonPath}}",
			Args:    []string{"-m", "pytest", "{{.ProjectDir}}/tests"},
			Env:     map[string]string{"PYLIFT_VENV": "{{.VenvDir}}"},
		},
		Outputs: []ArtifactBinding{{Artifact: "app-restarted"}},
	}
	s, err := newCommandStep(def, nil)
	if err != nil {
		t.Fatalf("newCommandStep: %v", err)
	}
	var gotProgram, gotDir string
	var gotArgs, gotEnv []string
	s.runner = func(_ context.Context, program string, args []string, env []string, dir string) ([]byte, error) {
		gotProgram, gotArgs, gotEnv, gotDir = program, args, env, dir
		return nil, nil
	}
	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(gotProgram, ctx.Runbook.VenvDir()) {
		t.Fatalf("expected program under venv, got %s", gotProgram)
	}
	if len(gotArgs) != 3 || gotArgs[2] != filepath.Join(ctx.Config.ProjectDir, "tests") {
		t.Fatalf("unexpected args: %+v", gotArgs)
	}
	if gotDir != ctx.Config.ProjectDir {
		t.Fatalf("unexpected workdir: %s", gotDir)
	}
	found := false
	for _, kv := range gotEnv {
		if kv == "PYLIFT_VENV="+ctx.Runbook.VenvDir() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected rendered env var, got %d entries", len(gotEnv))
	}
}

func TestCommandStepRunFailsOnCommandError(t *testing.T) {
	ctx := newTestContext(t)
	def := StepDefinition{
		ID:      "smoke-test",
		Version: "1.0.0",
		Command: CommandDefinition{Program: "scripts/smoke.sh"},
		Outputs: []ArtifactBinding{{Artifact: "app-restarted"}},
	}
	s, err := newCommandStep(def, nil)
	if err != nil {
		t.Fatalf("newCommandStep: %v", err)
	}
	s.runner = func(context.Context, string, []string, []string, string) ([]byte, error) {
		return []byte("boom"), os.ErrPermission
	}
	result, err := s.Run(ctx)
	if err == nil {
		t.Fatalf("expected command failure, got %+v", result)
	}
	if result.Status != step.StatusFailed {
		t.Fatalf("expected failed status, got %+v", result)
	}
}

func TestMergeConfigs(t *testing.T) {
	base := step.Config{"foo": "bar", "keep": true}
	over := step.Config{"foo": "override", "baz": 42}
	merged := mergeConfigs(base, over)
	if merged["foo"] != "override" || merged["baz"] != 42 || merged["keep"] != true {
		t.Fatalf("unexpected merge: %+v", merged)
	}
}

func newTestContext(t *testing.T) *step.StepContext {
	t.Helper()
	projectDir := t.TempDir()
	if err := config.InitPyliftDir(projectDir); err != nil {
		t.Fatalf("init pylift dir: %v", err)
	}
	cfg := &config.Config{
		ProjectDir:       projectDir,
		PyliftProjectDir: filepath.Join(projectDir, config.PyliftDir),
	}
	cfg.Project.Python.Version = "3.10"
	rb := runbook.New(cfg.PyliftProjectDir, filepath.Join(projectDir, "venv"), filepath.Join(projectDir, "requirements.txt"))
	if err := rb.Initialize(); err != nil {
		t.Fatalf("initialize runbook: %v", err)
	}
	return step.NewContext(cfg, rb, nil, nil)
}
