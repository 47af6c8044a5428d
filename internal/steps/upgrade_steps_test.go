package steps_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/yourusername/pylift/internal/app"
	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/python"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps"
	"github.com/yourusername/pylift/internal/steps/app_restart"
	"github.com/yourusername/pylift/internal/steps/deps_install"
	"github.com/yourusername/pylift/internal/steps/env_backup"
	"github.com/yourusername/pylift/internal/steps/env_create"
	"github.com/yourusername/pylift/internal/steps/interpreter_check"
	"github.com/yourusername/pylift/internal/steps/version_verify"
	"github.com/yourusername/pylift/internal/venv"
)

func TestRegisterBuiltinsInstallsAllSteps(t *testing.T) {
	reg := step.NewRegistry()
	steps.RegisterBuiltins(reg)
	expected := []string{
		"interpreter-check",
		"env-backup",
		"env-create",
		"deps-install",
		"version-verify",
		"app-restart",
	}
	for _, id := range expected {
		if _, err := reg.Resolve(id, nil); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}
}

func TestInterpreterCheckResolvesAndPersists(t *testing.T) {
	ctx := newStepContext(t)
	binary := filepath.Join(t.TempDir(), "python3.10")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	ctx.Config.Project.Python.Interpreter = binary
	s := interpreter_check.New(interpreter_check.WithFinder(fakeFinder(t, "Python 3.10.12")))

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if !strings.Contains(result.Message, "3.10.12") {
		t.Fatalf("expected version in message, got %q", result.Message)
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
	payload := readJSONFile(t, ctx.Runbook.InterpreterPath())
	if payload["path"].(string) != binary {
		t.Fatalf("unexpected interpreter path: %+v", payload)
	}
	meta := payload["_pylift"].(map[string]any)
	if meta["step"].(string) != "interpreter-check" {
		t.Fatalf("unexpected step metadata: %+v", meta)
	}

	// Second run is a no-op.
	result, err = s.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if result.Status != step.StatusNoOp {
		t.Fatalf("expected no-op, got %+v", result)
	}
}

func TestInterpreterCheckFailsOnVersionMismatch(t *testing.T) {
	ctx := newStepContext(t)
	binary := filepath.Join(t.TempDir(), "python3.9")
	if err := os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	ctx.Config.Project.Python.Interpreter = binary
	s := interpreter_check.New(interpreter_check.WithFinder(fakeFinder(t, "Python 3.9.18")))

	result, err := s.Run(ctx)
	if err == nil {
		t.Fatalf("expected mismatch error, got %+v", result)
	}
	if result.Status != step.StatusFailed {
		t.Fatalf("expected failed status, got %+v", result)
	}
}

func TestEnvBackupMovesEnvironmentAside(t *testing.T) {
	ctx := newStepContext(t)
	seedInterpreterArtifact(t, ctx, "/usr/bin/python3.10", "3.10.12")
	writePyvenvCfg(t, ctx.Runbook.VenvDir(), "3.9.18")
	clockTime := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s := env_backup.New(env_backup.WithClock(func() time.Time { return clockTime }))

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if _, err := os.Stat(ctx.Runbook.VenvDir()); !os.IsNotExist(err) {
		t.Fatalf("expected venv dir moved aside, stat err=%v", err)
	}
	backupDir := venv.BackupDirName(ctx.Runbook.VenvDir(), clockTime)
	if _, err := os.Stat(backupDir); err != nil {
		t.Fatalf("expected backup dir %s: %v", backupDir, err)
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
	manifest := readJSONFile(t, ctx.Runbook.BackupManifestPath())
	entries := manifest["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected one manifest entry, got %+v", entries)
	}
}

func TestEnvBackupCompletesWithoutEnvironment(t *testing.T) {
	ctx := newStepContext(t)
	seedInterpreterArtifact(t, ctx, "/usr/bin/python3.10", "3.10.12")
	s := env_backup.New()

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if !strings.Contains(result.Message, "no existing environment") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
}

func TestEnvBackupWaitsForInterpreter(t *testing.T) {
	ctx := newStepContext(t)
	s := env_backup.New()

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusNeedsInput {
		t.Fatalf("expected needs-input, got %+v", result)
	}
}

func TestEnvCreateBuildsEnvironmentOnTarget(t *testing.T) {
	ctx := newStepContext(t)
	seedInterpreterArtifact(t, ctx, "/usr/bin/python3.10", "3.10.12")
	seedMarker(t, ctx, artifact.EnvBackedUpMarker, "env-backup")
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "/usr/bin/python3.10" || len(args) != 3 || args[0] != "-m" || args[1] != "venv" {
			t.Fatalf("unexpected command %s %v", name, args)
		}
		writePyvenvCfg(t, args[2], "3.10.12")
		return nil, nil
	}
	s := env_create.New(env_create.WithRunner(run))

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

func TestEnvCreateIgnoresLeftoverOldEnvironment(t *testing.T) {
	ctx := newStepContext(t)
	seedInterpreterArtifact(t, ctx, "/usr/bin/python3.10", "3.10.12")
	seedMarker(t, ctx, artifact.EnvBackedUpMarker, "env-backup")
	writePyvenvCfg(t, ctx.Runbook.VenvDir(), "3.9.18")
	s := env_create.New()

	// An env on the old interpreter must not count as done.
	complete, err := s.IsComplete(ctx)
	if err != nil {
		t.Fatalf("IsComplete: %v", err)
	}
	if complete {
		t.Fatalf("expected stale environment to be incomplete")
	}
}

func TestDepsInstallSnapshotsPackages(t *testing.T) {
	ctx := newStepContext(t)
	writePyvenvCfg(t, ctx.Runbook.VenvDir(), "3.10.12")
	if err := os.WriteFile(ctx.Runbook.RequirementsPath(), []byte("streamlit==1.37.0\n"), 0o644); err != nil {
		t.Fatalf("write requirements: %v", err)
	}
	run := func(_ context.Context, _ string, args ...string) ([]byte, error) {
		joined := strings.Join(args, " ")
		switch {
		case strings.Contains(joined, "install"):
			return []byte("Successfully installed streamlit-1.37.0"), nil
		case strings.Contains(joined, "list"):
			return []byte(`[{"name":"streamlit","version":"1.37.0"},{"name":"pandas","version":"2.2.2"}]`), nil
		case strings.Contains(joined, "freeze"):
			return []byte("pandas==2.2.2\nstreamlit==1.37.0\n"), nil
		default:
			t.Fatalf("unexpected pip invocation: %v", args)
			return nil, nil
		}
	}
	s := deps_install.New(deps_install.WithRunner(run))

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if !strings.Contains(result.Message, "2 packages") {
		t.Fatalf("unexpected message: %q", result.Message)
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
	snapshot := readJSONFile(t, ctx.Runbook.PipPackagesPath())
	if int(snapshot["count"].(float64)) != 2 {
		t.Fatalf("unexpected package count: %+v", snapshot)
	}
	frozen, err := os.ReadFile(ctx.Runbook.PipFreezePath())
	if err != nil {
		t.Fatalf("read freeze file: %v", err)
	}
	if !strings.Contains(string(frozen), "streamlit==1.37.0") {
		t.Fatalf("unexpected freeze contents: %q", frozen)
	}
}

func TestVersionVerifyWritesMarkerOnMatch(t *testing.T) {
	ctx := newStepContext(t)
	writePyvenvCfg(t, ctx.Runbook.VenvDir(), "3.10.12")
	seedPipSnapshot(t, ctx)
	run := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("Python 3.10.12\n"), nil
	}
	s := version_verify.New(version_verify.WithRunner(run))

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if !ctx.Runbook.HasMarker(ctx.Runbook.VersionVerifiedPath()) {
		t.Fatalf("expected verified marker")
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
}

func TestVersionVerifyFailsOnMismatch(t *testing.T) {
	ctx := newStepContext(t)
	writePyvenvCfg(t, ctx.Runbook.VenvDir(), "3.9.18")
	seedPipSnapshot(t, ctx)
	run := func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte("Python 3.9.18\n"), nil
	}
	s := version_verify.New(version_verify.WithRunner(run))

	result, err := s.Run(ctx)
	if err == nil {
		t.Fatalf("expected mismatch error, got %+v", result)
	}
	if result.Status != step.StatusFailed {
		t.Fatalf("expected failed status, got %+v", result)
	}
	if ctx.Runbook.HasMarker(ctx.Runbook.VersionVerifiedPath()) {
		t.Fatalf("marker must not exist after mismatch")
	}
}

func TestAppRestartBringsAppUpAndWritesReport(t *testing.T) {
	ctx := newStepContext(t)
	writePyvenvCfg(t, ctx.Runbook.VenvDir(), "3.10.12")
	seedMarker(t, ctx, artifact.VersionVerifiedMarker, "version-verify")
	seedInterpreterArtifact(t, ctx, "/usr/bin/python3.10", "3.10.12")
	seedPipSnapshot(t, ctx)
	clockTime := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	supervisor := stubSupervisor(ctx, 4242)
	s := app_restart.New(
		app_restart.WithClock(func() time.Time { return clockTime }),
		app_restart.WithSupervisorFactory(func(*step.StepContext) *app.Supervisor { return supervisor }),
	)

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != step.StatusCompleted {
		t.Fatalf("unexpected status: %+v", result)
	}
	if !strings.Contains(result.Message, "4242") {
		t.Fatalf("expected pid in message, got %q", result.Message)
	}
	if !ctx.Runbook.HasMarker(ctx.Runbook.AppRestartedPath()) {
		t.Fatalf("expected restarted marker")
	}
	report, err := os.ReadFile(ctx.Runbook.UpgradeReportPath())
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	body := string(report)
	for _, want := range []string{"# Upgrade Report", "/usr/bin/python3.10", "streamlit 1.37.0", "PID: 4242"} {
		if !strings.Contains(body, want) {
			t.Fatalf("report missing %q:\n%s", want, body)
		}
	}
	if complete, err := s.IsComplete(ctx); err != nil || !complete {
		t.Fatalf("expected completion, complete=%v err=%v", complete, err)
	}
}

func newStepContext(t *testing.T) *step.StepContext {
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
	keepBackups := 2
	cfg.Project.Venv.KeepBackups = &keepBackups
	cfg.Project.App.Port = 8501
	rb := runbook.New(cfg.PyliftProjectDir, filepath.Join(projectDir, "venv"), filepath.Join(projectDir, "requirements.txt"))
	if err := rb.Initialize(); err != nil {
		t.Fatalf("initialize runbook: %v", err)
	}
	return step.NewContext(cfg, rb, nil, nil)
}

func fakeFinder(t *testing.T, versionOutput string) *python.Finder {
	t.Helper()
	return python.NewFinder(python.WithRunner(func(_ context.Context, _ string, _ ...string) ([]byte, error) {
		return []byte(versionOutput + "\n"), nil
	}))
}

func seedInterpreterArtifact(t *testing.T, ctx *step.StepContext, path, version string) {
	t.Helper()
	body, err := json.Marshal(map[string]string{"path": path, "version": version})
	if err != nil {
		t.Fatalf("encode interpreter payload: %v", err)
	}
	meta := artifact.Metadata{
		ArtifactID: artifact.InterpreterJSON.ID,
		StepID:     "interpreter-check",
		Version:    "1.0.0",
		Runbook:    ctx.Runbook.Dir(),
	}
	if err := ctx.Artifacts.Write(artifact.InterpreterJSON, body, meta); err != nil {
		t.Fatalf("write interpreter artifact: %v", err)
	}
}

func seedPipSnapshot(t *testing.T, ctx *step.StepContext) {
	t.Helper()
	body := []byte(`{"packages":[{"name":"streamlit","version":"1.37.0"}],"count":1}`)
	meta := artifact.Metadata{
		ArtifactID: artifact.PipPackagesJSON.ID,
		StepID:     "deps-install",
		Version:    "1.0.0",
		Runbook:    ctx.Runbook.Dir(),
	}
	if err := ctx.Artifacts.Write(artifact.PipPackagesJSON, body, meta); err != nil {
		t.Fatalf("write pip snapshot: %v", err)
	}
}

func seedMarker(t *testing.T, ctx *step.StepContext, ref artifact.ArtifactRef, stepID string) {
	t.Helper()
	meta := artifact.Metadata{ArtifactID: ref.ID, StepID: stepID, Version: "1.0.0", Runbook: ctx.Runbook.Dir()}
	if err := ctx.Artifacts.Write(ref, nil, meta); err != nil {
		t.Fatalf("write marker %s: %v", ref.ID, err)
	}
}

func writePyvenvCfg(t *testing.T, envDir, version string) {
	t.Helper()
	if err := os.MkdirAll(envDir, 0o755); err != nil {
		t.Fatalf("mkdir env: %v", err)
	}
	content := "home = /usr/bin\nversion = " + version + "\n"
	if err := os.WriteFile(filepath.Join(envDir, "pyvenv.cfg"), []byte(content), 0o644); err != nil {
		t.Fatalf("write pyvenv.cfg: %v", err)
	}
}

func stubSupervisor(ctx *step.StepContext, pid int) *app.Supervisor {
	settings := app.Settings{
		Entrypoint:     filepath.Join(ctx.Config.ProjectDir, "app.py"),
		Port:           8501,
		StartupTimeout: time.Second,
	}
	return app.NewSupervisor(ctx.Runbook.AppDir(), settings,
		app.WithStarter(func(venv.Environment, app.Settings) (int, error) { return pid, nil }),
		app.WithLivenessCheck(func(int) bool { return true }),
		app.WithProbe(func(context.Context, int) error { return nil }),
		app.WithSignaler(func(int, syscall.Signal) error { return nil }),
	)
}

func readJSONFile(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return payload
}
