// internal/runbook/runbook.go
//
// Defines the runbook directory structure and file constants.
// All runbook state is stored in .pylift/runbook/ for git tracking.

package runbook

import (
	"os"
	"path/filepath"
)

// Directory names within .pylift/
const (
	RunbookDir = "runbook"
	EngineDir  = "engine"
	BackupsDir = "backups"
	ReportsDir = "reports"
	AppDir     = "app"
)

// File names for runbook artifacts
const (
	FileInterpreter    = "interpreter.json"
	FileBackupManifest = "manifest.json"
	FilePipPackages    = "pip-packages.json"
	FilePipFreeze      = "pip-freeze.txt"
	FileUpgradeReport  = "UPGRADE_REPORT.md"
	FileAppPid         = "app.pid"
	FileAppState       = "app.state.json"
)

// Marker files (empty files that signal step completion)
const (
	MarkerEnvBackedUp     = ".env-backed-up"
	MarkerVersionVerified = ".version-verified"
	MarkerAppRestarted    = ".restarted"
)

// Runbook manages the runbook directory structure. It also carries the
// resolved environment paths so artifact resolution does not need to
// re-read config.
type Runbook struct {
	// Base path to .pylift directory
	pyliftDir string
	// Absolute path of the virtualenv being upgraded
	venvDir string
	// Absolute path of the requirements file feeding the new env
	requirementsPath string
}

// New creates a new Runbook manager rooted at the .pylift directory.
func New(pyliftDir, venvDir, requirementsPath string) *Runbook {
	return &Runbook{
		pyliftDir:        pyliftDir,
		venvDir:          venvDir,
		requirementsPath: requirementsPath,
	}
}

// Dir returns the base runbook directory path
func (r *Runbook) Dir() string {
	return filepath.Join(r.pyliftDir, RunbookDir)
}

// EngineDir returns the path to the engine state directory
func (r *Runbook) EngineDir() string {
	return filepath.Join(r.Dir(), EngineDir)
}

// BackupsDir returns the path to the backups directory
func (r *Runbook) BackupsDir() string {
	return filepath.Join(r.Dir(), BackupsDir)
}

// ReportsDir returns the path to the reports directory
func (r *Runbook) ReportsDir() string {
	return filepath.Join(r.Dir(), ReportsDir)
}

// AppDir returns the path to the app supervision directory
func (r *Runbook) AppDir() string {
	return filepath.Join(r.Dir(), AppDir)
}

// VenvDir returns the virtualenv directory this runbook operates on
func (r *Runbook) VenvDir() string {
	return r.venvDir
}

// RequirementsPath returns the requirements file the new env installs from
func (r *Runbook) RequirementsPath() string {
	return r.requirementsPath
}

// InterpreterPath returns the path to interpreter.json
func (r *Runbook) InterpreterPath() string {
	return filepath.Join(r.Dir(), FileInterpreter)
}

// BackupManifestPath returns the path to backups/manifest.json
func (r *Runbook) BackupManifestPath() string {
	return filepath.Join(r.BackupsDir(), FileBackupManifest)
}

// PipPackagesPath returns the path to reports/pip-packages.json
func (r *Runbook) PipPackagesPath() string {
	return filepath.Join(r.ReportsDir(), FilePipPackages)
}

// PipFreezePath returns the path to reports/pip-freeze.txt
func (r *Runbook) PipFreezePath() string {
	return filepath.Join(r.ReportsDir(), FilePipFreeze)
}

// UpgradeReportPath returns the path to reports/UPGRADE_REPORT.md
func (r *Runbook) UpgradeReportPath() string {
	return filepath.Join(r.ReportsDir(), FileUpgradeReport)
}

// EnvBackedUpPath returns the marker path written after the old env is moved aside
func (r *Runbook) EnvBackedUpPath() string {
	return filepath.Join(r.BackupsDir(), MarkerEnvBackedUp)
}

// VersionVerifiedPath returns the marker path written after the operator confirms the version
func (r *Runbook) VersionVerifiedPath() string {
	return filepath.Join(r.Dir(), MarkerVersionVerified)
}

// AppRestartedPath returns the marker path written after the app comes back up
func (r *Runbook) AppRestartedPath() string {
	return filepath.Join(r.AppDir(), MarkerAppRestarted)
}

// Initialize creates the runbook directory structure
func (r *Runbook) Initialize() error {
	dirs := []string{
		r.Dir(),
		r.EngineDir(),
		r.BackupsDir(),
		r.ReportsDir(),
		r.AppDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

// WriteMarker creates an empty marker file
func (r *Runbook) WriteMarker(path string) error {
	return os.WriteFile(path, []byte{}, 0644)
}

// HasMarker checks if a marker file exists
func (r *Runbook) HasMarker(path string) bool {
	return fileExistsAt(path)
}

// Reset removes the entire runbook directory (for starting fresh)
func (r *Runbook) Reset() error {
	return os.RemoveAll(r.Dir())
}

func fileExistsAt(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
