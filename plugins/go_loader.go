package plugins

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"
)

// Go plugins are single-file scripts interpreted at load time. Each script
// declares its steps by exporting this function; the raw maps it returns go
// through the same validation path as .yaml plugin files.
const goDefinitionFunc = "StepDefinitions"

type definitionsFunc = func() ([]map[string]any, error)

// LoadGoDefinitionDir interprets every .go file in dir and collects the step
// definitions declared via StepDefinitions(). A missing directory loads
// nothing. Entries come back in filename order, with each definition's Path
// recording the script plus its position within it.
func LoadGoDefinitionDir(dir string) ([]DefinitionFile, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(trimmed)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	var defs []DefinitionFile
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		fileDefs, err := evalDefinitionScript(filepath.Join(trimmed, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, fileDefs...)
	}
	return defs, nil
}

// evalDefinitionScript runs one plugin script in a fresh interpreter. Each
// script gets its own interpreter so symbols in one cannot leak into another.
func evalDefinitionScript(path string) ([]DefinitionFile, error) {
	it := interp.New(interp.Options{})
	if err := it.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: interpreter for %s: %w", path, err)
	}
	if _, err := it.EvalPath(path); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", path, err)
	}
	value, err := it.Eval(goDefinitionFunc)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must declare %s() ([]map[string]any, error): %w", path, goDefinitionFunc, err)
	}
	declare, ok := value.Interface().(definitionsFunc)
	if !ok {
		return nil, fmt.Errorf("plugin: %s: %s must have signature func() ([]map[string]any, error)", path, goDefinitionFunc)
	}
	raws, err := declare()
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}
	files := make([]DefinitionFile, 0, len(raws))
	for idx, raw := range raws {
		def, err := decodeRawDefinition(raw)
		if err != nil {
			return nil, fmt.Errorf("plugin: %s definition[%d]: %w", path, idx, err)
		}
		files = append(files, DefinitionFile{Definition: def, Path: fmt.Sprintf("%s#%d", path, idx+1)})
	}
	return files, nil
}

// decodeRawDefinition funnels an interpreted definition through the YAML
// schema so Go plugins and .yaml plugins obey identical validation rules.
func decodeRawDefinition(raw map[string]any) (StepDefinition, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return StepDefinition{}, err
	}
	return ParseDefinitionYAML(payload)
}
