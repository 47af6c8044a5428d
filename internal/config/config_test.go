package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	pyliftDir := filepath.Join(projectDir, ".pylift")
	if err := os.MkdirAll(pyliftDir, 0755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, PyliftProjectDir: pyliftDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.DefaultRunbook() != defaultRunbookID {
		t.Fatalf("expected default runbook %q, got %q", defaultRunbookID, c.DefaultRunbook())
	}
	if c.TargetVersion() != "3.10" {
		t.Fatalf("expected default target version 3.10, got %q", c.TargetVersion())
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	pyliftDir := filepath.Join(projectDir, ".pylift")
	if err := os.MkdirAll(pyliftDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
python:
  version: "3.11"
venv:
  path: .venv
  requirements: requirements/prod.txt
  keep_backups: 5
app:
  entrypoint: scripts/frontend/main.py
  port: 8600
  headless: false
  startup_timeout_seconds: 30
runbooks:
  default: upgrade-env
  available:
    - upgrade-env
    - reinstall-deps
`)
	if err := os.WriteFile(filepath.Join(pyliftDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, PyliftProjectDir: pyliftDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.TargetVersion() != "3.11" {
		t.Fatalf("wrong target version: %s", c.TargetVersion())
	}
	if !strings.HasPrefix(c.VenvDir(), projectDir) || filepath.Base(c.VenvDir()) != ".venv" {
		t.Fatalf("expected venv path resolved under project dir, got %s", c.VenvDir())
	}
	if !strings.HasPrefix(c.RequirementsPath(), projectDir) {
		t.Fatalf("expected requirements path to be resolved, got %s", c.RequirementsPath())
	}
	if c.Project.App.Port != 8600 {
		t.Fatalf("wrong app port: %d", c.Project.App.Port)
	}
	if c.Project.Venv.KeepBackupCount() != 5 {
		t.Fatalf("wrong keep_backups: %d", c.Project.Venv.KeepBackupCount())
	}
	if c.DefaultRunbook() != "upgrade-env" {
		t.Fatalf("wrong default runbook: %s", c.DefaultRunbook())
	}
}

func TestLoadProjectConfigKeepsExplicitZeroBackups(t *testing.T) {
	projectDir := t.TempDir()
	pyliftDir := filepath.Join(projectDir, ".pylift")
	if err := os.MkdirAll(pyliftDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
python:
  version: "3.10"
venv:
  path: venv
  requirements: requirements.txt
  keep_backups: 0
app:
  entrypoint: app.py
  port: 8501
runbooks:
  default: upgrade-env
`)
	if err := os.WriteFile(filepath.Join(pyliftDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, PyliftProjectDir: pyliftDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if got := c.Project.Venv.KeepBackupCount(); got != 0 {
		t.Fatalf("explicit keep_backups: 0 should keep no backups, got %d", got)
	}
}

func TestKeepBackupCountDefaultsWhenAbsent(t *testing.T) {
	var venv VenvConfig
	if got := venv.KeepBackupCount(); got != defaultKeepBackups {
		t.Fatalf("absent keep_backups should fall back to %d, got %d", defaultKeepBackups, got)
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	pyliftDir := filepath.Join(projectDir, ".pylift")
	if err := os.MkdirAll(pyliftDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
python:
  version: ""
app:
  port: 99999
`)
	if err := os.WriteFile(filepath.Join(pyliftDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, PyliftProjectDir: pyliftDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestInitPyliftDirWritesDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitPyliftDir(projectDir); err != nil {
		t.Fatalf("InitPyliftDir returned error: %v", err)
	}
	for _, rel := range []string{"logs", "runbook/engine", "runbook/backups", "runbook/reports", "runbook/app", "steps"} {
		info, err := os.Stat(filepath.Join(projectDir, PyliftDir, rel))
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", rel, err)
		}
	}
	data, err := os.ReadFile(filepath.Join(projectDir, PyliftDir, "config.yaml"))
	if err != nil {
		t.Fatalf("expected default config written: %v", err)
	}
	if !strings.Contains(string(data), "upgrade-env") {
		t.Fatalf("default config missing default runbook: %s", data)
	}
}
