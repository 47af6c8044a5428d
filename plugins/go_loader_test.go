package plugins

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const goPluginSource = `package main

func StepDefinitions() ([]map[string]any, error) {
	return []map[string]any{
		{
			"id":      "go-plugin",
			"version": "1.0.0",
			"command": map[string]any{
				"program": "scripts/migrate.sh",
			},
			"outputs": []map[string]any{
				{"artifact": "app-restarted"},
			},
		},
	}, nil
}`

func TestLoadGoDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "go-plugin.go"), []byte(goPluginSource), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	defs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		t.Fatalf("load go defs: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Definition.ID != "go-plugin" {
		t.Fatalf("unexpected id: %+v", defs[0].Definition)
	}
	if defs[0].Definition.Command.Program != "scripts/migrate.sh" {
		t.Fatalf("unexpected program: %+v", defs[0].Definition.Command)
	}
}

func TestLoadGoDefinitionDirRejectsWrongSignature(t *testing.T) {
	dir := t.TempDir()
	source := "package main\n\nfunc StepDefinitions() string { return \"nope\" }\n"
	if err := os.WriteFile(filepath.Join(dir, "wrong.go"), []byte(source), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	_, err := LoadGoDefinitionDir(dir)
	if err == nil {
		t.Fatalf("expected error for wrong StepDefinitions signature")
	}
	if !strings.Contains(err.Error(), "func() ([]map[string]any, error)") {
		t.Fatalf("expected signature hint in error, got %v", err)
	}
}

func TestLoadGoDefinitionDirMissingFunc(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.go"), []byte("package main\n"), 0644); err != nil {
		t.Fatalf("write broken plugin: %v", err)
	}
	if _, err := LoadGoDefinitionDir(dir); err == nil {
		t.Fatalf("expected error for missing StepDefinitions function")
	}
}
