package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleDefinition = `id: smoke-test
version: 1.0.0
name: Smoke Test
command:
  program: "{{.PythonPath}}"
  args: ["-m", "pytest", "tests/smoke"]
outputs:
  - artifact: app-restarted
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "smoke-test" || def.Command.Program != "{{.PythonPath}}" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.Command.Args) != 3 {
		t.Fatalf("unexpected args: %+v", def.Command.Args)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plugin.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinition), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	defs, err := LoadDefinitionDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, defs[0].Path)
	}
	if defs[0].Definition.ID != "smoke-test" {
		t.Fatalf("unexpected id: %+v", defs[0].Definition)
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
