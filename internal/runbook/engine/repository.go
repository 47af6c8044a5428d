package engine

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yourusername/pylift/internal/runbook"
)

// ErrStateNotFound is returned when no persisted engine state exists yet.
var ErrStateNotFound = errors.New("runbook engine: state not found")

// StateStore persists runbook engine state snapshots.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores engine state within the runbook directory.
type Repository struct {
	path string
}

// NewRepository creates a repository rooted at the runbook engine directory.
func NewRepository(rb *runbook.Runbook) *Repository {
	return &Repository{path: filepath.Join(rb.EngineDir(), "state.json")}
}

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{}, ErrStateNotFound
		}
		return State{}, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Save writes the engine state to disk with best-effort atomicity.
func (r *Repository) Save(state State) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, append(encoded, '\n'), 0o644)
}
