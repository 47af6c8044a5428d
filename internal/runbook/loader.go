package runbook

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultDefinitionDir points to the conventional location for YAML runbook
// definitions when loading from disk.
const DefaultDefinitionDir = "runbooks"

// ParseDefinitionYAML decodes a runbook definition from YAML/JSON bytes.
func ParseDefinitionYAML(data []byte) (RunbookDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return RunbookDefinition{}, fmt.Errorf("runbook: definition payload is empty")
	}
	var def RunbookDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return RunbookDefinition{}, fmt.Errorf("runbook: decode definition: %w", err)
	}
	return def.Normalized()
}

// LoadDefinitionReader reads runbook definition data from an io.Reader.
func LoadDefinitionReader(r io.Reader) (RunbookDefinition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return RunbookDefinition{}, fmt.Errorf("runbook: read definition: %w", err)
	}
	return ParseDefinitionYAML(content)
}

// LoadDefinitionFile loads a runbook definition from an explicit file path.
func LoadDefinitionFile(path string) (RunbookDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return RunbookDefinition{}, fmt.Errorf("runbook: read %s: %w", path, err)
	}
	def, parseErr := ParseDefinitionYAML(content)
	if parseErr != nil {
		return RunbookDefinition{}, fmt.Errorf("runbook: %s: %w", path, parseErr)
	}
	return def, nil
}

// LoadDefinitionRelative loads a definition from the runbooks directory (or a
// custom baseDir if provided).
func LoadDefinitionRelative(baseDir, name string) (RunbookDefinition, error) {
	if baseDir == "" {
		baseDir = DefaultDefinitionDir
	}
	path := filepath.Join(baseDir, name)
	return LoadDefinitionFile(path)
}
