package plugins

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/step"
)

const sampleYAML = `id: yaml-plugin
version: 1.0.0
command:
  program: scripts/smoke.sh
outputs:
  - artifact: app-restarted
`

func TestRegisterCommandPlugins(t *testing.T) {
	cfg := initTestConfig(t)
	if err := os.WriteFile(filepath.Join(cfg.StepsDir(), "plugin.yaml"), []byte(sampleYAML), 0644); err != nil {
		t.Fatalf("write plugin: %v", err)
	}
	reg := step.NewRegistry()
	if err := RegisterCommandPlugins(reg, cfg); err != nil {
		t.Fatalf("register plugins: %v", err)
	}
	if _, err := reg.Resolve("yaml-plugin", nil); err != nil {
		t.Fatalf("resolve plugin: %v", err)
	}
}

func TestRegisterCommandPluginsRejectsDuplicates(t *testing.T) {
	cfg := initTestConfig(t)
	for _, name := range []string{"a.yaml", "b.yaml"} {
		if err := os.WriteFile(filepath.Join(cfg.StepsDir(), name), []byte(sampleYAML), 0644); err != nil {
			t.Fatalf("write plugin %s: %v", name, err)
		}
	}
	reg := step.NewRegistry()
	if err := RegisterCommandPlugins(reg, cfg); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func initTestConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	if err := config.InitPyliftDir(root); err != nil {
		t.Fatalf("init pylift: %v", err)
	}
	return &config.Config{
		ProjectDir:       root,
		PyliftProjectDir: filepath.Join(root, config.PyliftDir),
	}
}
