// internal/config/config.go
//
// This package handles configuration and the .pylift directory structure.
// Every project managed by pylift gets a .pylift/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// PyliftDir is the name of the directory we create in each project
	PyliftDir = ".pylift"

	defaultRunbookID         = "upgrade-env"
	defaultVenvPath          = "venv"
	defaultRequirementsFile  = "requirements.txt"
	defaultEntrypoint        = "app.py"
	defaultAppPort           = 8501
	defaultKeepBackups       = 2
	defaultStartupTimeoutSec = 60
)

const defaultProjectConfigYAML = `# pylift project configuration
version: 1

python:
  # Target interpreter version. Major.minor is enough; 3.10 matches 3.10.12.
  version: "3.10"
  # Optional absolute path to the interpreter. Leave empty to search PATH.
  # interpreter: /usr/local/bin/python3.10

venv:
  path: venv
  requirements: requirements.txt
  keep_backups: 2
  # index_url: https://pypi.org/simple
  # extra_index_urls: []

app:
  entrypoint: app.py
  port: 8501
  headless: true
  startup_timeout_seconds: 60

runbooks:
  default: upgrade-env

bridge:
  enabled: false
  # host: 127.0.0.1
  # port: 8766
`

// PythonConfig selects the target interpreter.
type PythonConfig struct {
	Version     string `yaml:"version"`
	Interpreter string `yaml:"interpreter,omitempty"`
}

// VenvConfig describes the managed virtual environment.
type VenvConfig struct {
	Path         string `yaml:"path"`
	Requirements string `yaml:"requirements"`
	// KeepBackups is a pointer so an explicit 0 (keep no backups) is
	// distinguishable from the key being absent.
	KeepBackups    *int     `yaml:"keep_backups,omitempty"`
	IndexURL       string   `yaml:"index_url,omitempty"`
	ExtraIndexURLs []string `yaml:"extra_index_urls,omitempty"`
}

// KeepBackupCount returns how many renamed env folders to retain. An absent
// keep_backups key falls back to the default; an explicit zero keeps none.
func (v VenvConfig) KeepBackupCount() int {
	if v.KeepBackups == nil {
		return defaultKeepBackups
	}
	return *v.KeepBackups
}

// AppConfig describes the Streamlit application served from the venv.
type AppConfig struct {
	Entrypoint            string `yaml:"entrypoint"`
	Port                  int    `yaml:"port"`
	Headless              bool   `yaml:"headless"`
	StartupTimeoutSeconds int    `yaml:"startup_timeout_seconds"`
}

// StartupTimeout returns the readiness probe budget as a duration.
func (a AppConfig) StartupTimeout() time.Duration {
	seconds := a.StartupTimeoutSeconds
	if seconds <= 0 {
		seconds = defaultStartupTimeoutSec
	}
	return time.Duration(seconds) * time.Second
}

// RunbookConfig captures runbook preferences.
type RunbookConfig struct {
	Default   string   `yaml:"default"`
	Available []string `yaml:"available,omitempty"`
}

// BridgeConfig holds raw status bridge settings (interpreted by the bridge package).
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ProjectConfig models .pylift/config.yaml.
type ProjectConfig struct {
	Version  int           `yaml:"version"`
	Python   PythonConfig  `yaml:"python"`
	Venv     VenvConfig    `yaml:"venv"`
	App      AppConfig     `yaml:"app"`
	Runbooks RunbookConfig `yaml:"runbooks"`
	Bridge   BridgeConfig  `yaml:"bridge,omitempty"`
}

// Config holds the runtime configuration for pylift.
type Config struct {
	// ProjectDir is the directory where the user ran `pylift` from
	ProjectDir string

	// PyliftProjectDir is ProjectDir/.pylift
	PyliftProjectDir string

	Project ProjectConfig
}

// InitPyliftDir creates the .pylift directory structure in the given project directory.
// This is called on every CLI startup.
//
// Structure created:
// .pylift/
// ├── logs/         <- upgrade.log and pylift.log
// ├── runbook/      <- Run state (git-trackable)
// │   ├── engine/   <- Persisted engine snapshots
// │   ├── backups/  <- Backup manifest for renamed env folders
// │   ├── reports/  <- Upgrade report, pip snapshots
// │   └── app/      <- App pid/state files and markers
// └── steps/        <- User-defined plugin steps (*.yaml, *.go)
func InitPyliftDir(projectDir string) error {
	pyliftDir := filepath.Join(projectDir, PyliftDir)

	dirs := []string{
		filepath.Join(pyliftDir, "logs"),
		filepath.Join(pyliftDir, "runbook"),
		filepath.Join(pyliftDir, "runbook", "engine"),
		filepath.Join(pyliftDir, "runbook", "backups"),
		filepath.Join(pyliftDir, "runbook", "reports"),
		filepath.Join(pyliftDir, "runbook", "app"),
		filepath.Join(pyliftDir, "steps"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return ensureProjectConfig(filepath.Join(pyliftDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:       projectDir,
		PyliftProjectDir: filepath.Join(projectDir, PyliftDir),
		Project:          defaultProjectConfig(),
	}

	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.PyliftProjectDir, "logs")
}

// StepsDir returns the directory holding user-defined plugin steps
func (c *Config) StepsDir() string {
	return filepath.Join(c.PyliftProjectDir, "steps")
}

// RunbookDir returns the path to the runbook state directory
func (c *Config) RunbookDir() string {
	return filepath.Join(c.PyliftProjectDir, "runbook")
}

// VenvDir returns the absolute path of the managed virtual environment.
func (c *Config) VenvDir() string {
	return resolvePath(c.ProjectDir, c.Project.Venv.Path)
}

// RequirementsPath returns the absolute path of the pinned requirements file.
func (c *Config) RequirementsPath() string {
	return resolvePath(c.ProjectDir, c.Project.Venv.Requirements)
}

// EntrypointPath returns the absolute path of the Streamlit entry script.
func (c *Config) EntrypointPath() string {
	return resolvePath(c.ProjectDir, c.Project.App.Entrypoint)
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.PyliftProjectDir, "config.yaml")
}

// TargetVersion returns the configured target interpreter version string.
func (c *Config) TargetVersion() string {
	return c.Project.Python.Version
}

// DefaultRunbook returns the configured default runbook identifier.
func (c *Config) DefaultRunbook() string {
	return c.Project.Runbooks.Default
}

// SetDefaultRunbook updates the default runbook identifier and persists the
// value back to .pylift/config.yaml. The runbook ID is also appended to the
// available list so the selector can display it on future launches.
func (c *Config) SetDefaultRunbook(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("config: runbook id is required")
	}
	c.Project.Runbooks.Default = id
	if !contains(c.Project.Runbooks.Available, id) {
		c.Project.Runbooks.Available = append(c.Project.Runbooks.Available, id)
	}
	return c.saveProjectConfig()
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Python:  PythonConfig{Version: "3.10"},
		Venv: VenvConfig{
			Path:         defaultVenvPath,
			Requirements: defaultRequirementsFile,
		},
		App: AppConfig{
			Entrypoint:            defaultEntrypoint,
			Port:                  defaultAppPort,
			Headless:              true,
			StartupTimeoutSeconds: defaultStartupTimeoutSec,
		},
		Runbooks: RunbookConfig{
			Default: defaultRunbookID,
		},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Venv.Path == "" {
		pc.Venv.Path = defaultVenvPath
	}
	if pc.Venv.Requirements == "" {
		pc.Venv.Requirements = defaultRequirementsFile
	}
	if pc.App.Entrypoint == "" {
		pc.App.Entrypoint = defaultEntrypoint
	}
	if pc.App.Port == 0 {
		pc.App.Port = defaultAppPort
	}
	if pc.App.StartupTimeoutSeconds == 0 {
		pc.App.StartupTimeoutSeconds = defaultStartupTimeoutSec
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Python.Version = strings.TrimSpace(pc.Python.Version)
	pc.Python.Interpreter = strings.TrimSpace(pc.Python.Interpreter)
	pc.Venv.Path = strings.TrimSpace(pc.Venv.Path)
	pc.Venv.Requirements = strings.TrimSpace(pc.Venv.Requirements)
	pc.Venv.IndexURL = strings.TrimSpace(pc.Venv.IndexURL)
	for i := range pc.Venv.ExtraIndexURLs {
		pc.Venv.ExtraIndexURLs[i] = strings.TrimSpace(pc.Venv.ExtraIndexURLs[i])
	}
	pc.App.Entrypoint = strings.TrimSpace(pc.App.Entrypoint)
	pc.Runbooks.Default = strings.TrimSpace(pc.Runbooks.Default)
	if pc.Runbooks.Default == "" {
		pc.Runbooks.Default = defaultRunbookID
	}
	if len(pc.Runbooks.Available) > 0 && !contains(pc.Runbooks.Available, pc.Runbooks.Default) {
		pc.Runbooks.Available = append(pc.Runbooks.Available, pc.Runbooks.Default)
	}
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Python.Version == "" {
		return fmt.Errorf("python.version is required")
	}
	if pc.Venv.KeepBackups != nil && *pc.Venv.KeepBackups < 0 {
		return fmt.Errorf("venv.keep_backups must be >= 0")
	}
	if pc.App.Port < 1 || pc.App.Port > 65535 {
		return fmt.Errorf("app.port must be between 1 and 65535")
	}
	if pc.App.StartupTimeoutSeconds < 1 {
		return fmt.Errorf("app.startup_timeout_seconds must be >= 1")
	}
	if strings.TrimSpace(pc.Runbooks.Default) == "" {
		return fmt.Errorf("runbooks.default is required")
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), target) {
			return true
		}
	}
	return false
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

func (c *Config) saveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.PyliftProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure pylift dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ProjectConfigPath(), data, 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}
