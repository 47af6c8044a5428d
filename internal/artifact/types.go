// Package artifact defines the filesystem-level contracts (inputs/outputs)
// that steps exchange. Each artifact has a stable identifier, kind, and a
// resolver that maps to the actual path within the project's .pylift tree.

package artifact

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/yourusername/pylift/internal/runbook"
)

// Kind captures the storage shape and serialization format for an artifact.
type Kind string

const (
	// KindDocument represents a markdown-like text document with YAML frontmatter.
	KindDocument Kind = "document"
	// KindJSON represents a JSON document enriched with a _pylift metadata block.
	KindJSON Kind = "json"
	// KindMarker represents an empty file used as a marker/flag.
	KindMarker Kind = "marker"
	// KindDirectory represents a directory that must exist.
	KindDirectory Kind = "directory"
	// KindFile represents an opaque file checked for existence only (no envelope).
	KindFile Kind = "file"
)

// PathResolver returns the fully-qualified path to an artifact for the current runbook run.
type PathResolver func(*runbook.Runbook) string

// ArtifactRef declares a stable identifier and metadata for an artifact.
type ArtifactRef struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	Optional    bool
	path        PathResolver
}

// Path resolves the artifact path for the provided runbook instance.
func (r ArtifactRef) Path(rb *runbook.Runbook) string {
	if rb == nullRunbook || r.path == nil {
		return ""
	}
	return filepath.Clean(r.path(rb))
}

// Validate ensures the reference is well-formed.
func (r ArtifactRef) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("artifact: id is required")
	}
	if r.Kind == "" {
		return fmt.Errorf("artifact: kind is required for %s", r.ID)
	}
	if r.path == nil {
		return fmt.Errorf("artifact: path resolver missing for %s", r.ID)
	}
	return nil
}

var nullRunbook *runbook.Runbook

// Metadata captures provenance stored inside artifact frontmatter or metadata blocks.
type Metadata struct {
	ArtifactID string
	StepID     string
	Version    string
	Runbook    string
	Inputs     []string
	CreatedAt  time.Time
	Checksum   string
	Notes      map[string]string
}

// WithDefaults ensures metadata carries the artifact ID and timestamps.
func (m Metadata) WithDefaults(ref ArtifactRef, now time.Time) Metadata {
	clone := m
	if clone.ArtifactID == "" {
		clone.ArtifactID = ref.ID
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = now.UTC()
	} else {
		clone.CreatedAt = clone.CreatedAt.UTC()
	}
	return clone
}

// ValidateFor ensures metadata matches the artifact contract.
func (m Metadata) ValidateFor(ref ArtifactRef) error {
	if m.ArtifactID != ref.ID {
		return fmt.Errorf("artifact: metadata id %s does not match ref %s", m.ArtifactID, ref.ID)
	}
	if m.StepID == "" {
		return fmt.Errorf("artifact: step id is required for %s", ref.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("artifact: version is required for %s", ref.ID)
	}
	return nil
}

// State captures the readiness of an artifact on disk.
type State string

const (
	StateMissing State = "missing"
	StateReady   State = "ready"
	StateInvalid State = "invalid"
	StateError   State = "error"
)

// CheckResult captures Store.Check results.
type CheckResult struct {
	Ref      ArtifactRef
	Path     string
	State    State
	Metadata *Metadata
	Err      error
}

// helper to register global references
func register(ref ArtifactRef) ArtifactRef {
	if refs == nil {
		refs = map[string]ArtifactRef{}
	}
	refs[ref.ID] = ref
	return ref
}

var refs map[string]ArtifactRef

// Lookup returns a registered artifact reference by ID.
func Lookup(id string) (ArtifactRef, bool) {
	ref, ok := refs[id]
	return ref, ok
}

// newDocRef creates a markdown document reference helper.
func newDocRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindDocument,
		path:        resolver,
	}
}

// newJSONRef creates a JSON artifact reference helper.
func newJSONRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindJSON,
		path:        resolver,
	}
}

// newMarkerRef creates a marker file reference helper.
func newMarkerRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindMarker,
		path:        resolver,
	}
}

// newDirectoryRef creates a directory reference helper.
func newDirectoryRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindDirectory,
		path:        resolver,
	}
}

// newFileRef creates an opaque file reference helper.
func newFileRef(id, name, desc string, resolver PathResolver) ArtifactRef {
	return ArtifactRef{
		ID:          id,
		Name:        name,
		Description: desc,
		Kind:        KindFile,
		path:        resolver,
	}
}

// Canonical artifact references for the upgrade runbook.
var (
	RequirementsFile = register(newFileRef("requirements-file", "Requirements File", "Pinned dependency list the new environment installs from", func(rb *runbook.Runbook) string { return rb.RequirementsPath() }))

	InterpreterJSON = register(newJSONRef("interpreter-json", "Interpreter Record", "interpreter.json describing the resolved target interpreter", func(rb *runbook.Runbook) string { return rb.InterpreterPath() }))

	VenvDirectory = register(newDirectoryRef("venv-dir", "Virtual Environment", "The virtualenv directory being upgraded", func(rb *runbook.Runbook) string { return rb.VenvDir() }))

	EnvBackedUpMarker = register(newMarkerRef("env-backed-up", "Environment Backed Up Marker", "Marker written after the old environment is moved aside (or found absent)", func(rb *runbook.Runbook) string { return rb.EnvBackedUpPath() }))

	PipPackagesJSON = register(newJSONRef("pip-packages-json", "Installed Packages Report", "pip-packages.json snapshot of the environment after install", func(rb *runbook.Runbook) string { return rb.PipPackagesPath() }))

	PipFreezeFile = register(newFileRef("pip-freeze", "Freeze Snapshot", "pip-freeze.txt capturing exact installed versions", func(rb *runbook.Runbook) string { return rb.PipFreezePath() }))

	VersionVerifiedMarker = register(newMarkerRef("version-verified", "Version Verified Marker", "Marker written after the operator confirms the interpreter version", func(rb *runbook.Runbook) string { return rb.VersionVerifiedPath() }))

	AppRestartedMarker = register(newMarkerRef("app-restarted", "App Restarted Marker", "Marker written after the app comes back up on the new environment", func(rb *runbook.Runbook) string { return rb.AppRestartedPath() }))

	UpgradeReportDoc = register(newDocRef("upgrade-report", "Upgrade Report", "UPGRADE_REPORT.md summarizing the completed upgrade", func(rb *runbook.Runbook) string { return rb.UpgradeReportPath() }))
)
