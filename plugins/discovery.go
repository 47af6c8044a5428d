package plugins

import (
	"fmt"

	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/step"
)

// RegisterCommandPlugins discovers YAML and Go step definitions under
// .pylift/steps and registers them.
func RegisterCommandPlugins(reg *step.Registry, cfg *config.Config) error {
	if reg == nil || cfg == nil {
		return nil
	}
	dir := cfg.StepsDir()
	defs, err := loadAllDefinitionFiles(dir)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}
	seen := make(map[string]string)
	for _, file := range defs {
		def := file.Definition
		if existing, ok := seen[def.ID]; ok {
			return fmt.Errorf("plugin: duplicate step id %s (%s and %s)", def.ID, existing, file.Path)
		}
		seen[def.ID] = file.Path
		defCopy := def
		if err := reg.Register(defCopy.ID, func(cfg step.Config) (step.Step, error) {
			return newCommandStep(defCopy, cfg)
		}); err != nil {
			return fmt.Errorf("plugin: register %s from %s: %w", def.ID, file.Path, err)
		}
	}
	return nil
}

func loadAllDefinitionFiles(dir string) ([]DefinitionFile, error) {
	yamlDefs, err := LoadDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	goDefs, err := LoadGoDefinitionDir(dir)
	if err != nil {
		return nil, err
	}
	return append(yamlDefs, goDefs...), nil
}
