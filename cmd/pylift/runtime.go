package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/pylift/internal/app"
	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/logbook"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/engine"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps"
	"github.com/yourusername/pylift/plugins"
)

// cliRuntime bundles the project plumbing every subcommand needs.
type cliRuntime struct {
	cfg        *config.Config
	runbook    *runbook.Runbook
	supervisor *app.Supervisor
	logbook    *logbook.Logbook
	stepCtx    *step.StepContext
	registry   *step.Registry
	engine     *engine.Engine
}

func newRuntime() (*cliRuntime, error) {
	dir, err := resolveProjectDir()
	if err != nil {
		return nil, err
	}
	if err := config.InitPyliftDir(dir); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", config.PyliftDir, err)
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	rb := runbook.New(cfg.PyliftProjectDir, cfg.VenvDir(), cfg.RequirementsPath())
	supervisor := app.NewSupervisor(rb.AppDir(), app.Settings{
		Entrypoint:     cfg.EntrypointPath(),
		Port:           cfg.Project.App.Port,
		Headless:       cfg.Project.App.Headless,
		StartupTimeout: cfg.Project.App.StartupTimeout(),
		WorkDir:        cfg.ProjectDir,
	})
	lb, err := logbook.New(filepath.Join(cfg.LogsDir(), "upgrade.log"))
	if err != nil {
		return nil, fmt.Errorf("open logbook: %w", err)
	}
	stepCtx := step.NewContext(cfg, rb, supervisor, lb)
	reg := step.NewRegistry()
	steps.RegisterBuiltins(reg)
	if err := plugins.RegisterCommandPlugins(reg, cfg); err != nil {
		return nil, fmt.Errorf("load plugins: %w", err)
	}
	eng, err := engine.New(reg, engine.NewRepository(rb))
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return &cliRuntime{
		cfg:        cfg,
		runbook:    rb,
		supervisor: supervisor,
		logbook:    lb,
		stepCtx:    stepCtx,
		registry:   reg,
		engine:     eng,
	}, nil
}

// loadDefinition prefers project-local YAML definitions and falls back to the
// built-in upgrade runbook.
func (rt *cliRuntime) loadDefinition(runbookID string) (runbook.RunbookDefinition, error) {
	id := strings.TrimSpace(runbookID)
	if id == "" {
		id = strings.TrimSpace(rt.cfg.DefaultRunbook())
	}
	if id == "" {
		id = runbook.DefaultRunbookID
	}
	for _, base := range []string{rt.cfg.PyliftProjectDir, rt.cfg.ProjectDir} {
		for _, name := range []string{id + ".yaml", id + ".yml"} {
			path := filepath.Join(base, runbook.DefaultDefinitionDir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return runbook.LoadDefinitionFile(path)
			}
		}
	}
	if id == runbook.DefaultRunbookID {
		return runbook.UpgradeEnvDefinition(), nil
	}
	return runbook.RunbookDefinition{}, fmt.Errorf("runbook definition %s not found", id)
}

func stepRefMap(def runbook.RunbookDefinition) map[string]runbook.StepRef {
	refs := make(map[string]runbook.StepRef, len(def.Steps))
	for _, ref := range def.Steps {
		refs[ref.InstanceID()] = ref
	}
	return refs
}

func toStepConfig(cfg runbook.StepConfig) step.Config {
	if len(cfg) == 0 {
		return nil
	}
	out := make(step.Config, len(cfg))
	for key, value := range cfg {
		out[key] = value
	}
	return out
}

func stepLabel(info step.Info, fallback string) string {
	if name := strings.TrimSpace(info.Name); name != "" {
		return name
	}
	if id := strings.TrimSpace(info.ID); id != "" {
		return id
	}
	return strings.TrimSpace(fallback)
}
