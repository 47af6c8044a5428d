package venv

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// BackupEntry records one renamed environment folder.
type BackupEntry struct {
	Original    string    `json:"original"`
	BackupDir   string    `json:"backup_dir"`
	PyVersion   string    `json:"python_version,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	RunbookRun  string    `json:"runbook_run,omitempty"`
	PrunedAfter bool      `json:"-"`
}

// Manifest is the JSON file tracking every backup under runbook/backups/.
type Manifest struct {
	Entries []BackupEntry `json:"entries"`
}

// Backups manages renamed env folders and their manifest.
type Backups struct {
	manifestPath string
	keep         int
	now          func() time.Time
}

// NewBackups creates a manager writing to the provided manifest path.
// keep bounds how many renamed folders survive pruning; zero keeps none.
func NewBackups(manifestPath string, keep int) *Backups {
	return &Backups{manifestPath: manifestPath, keep: keep, now: time.Now}
}

// WithClock overrides the timestamp source (tests).
func (b *Backups) WithClock(clock func() time.Time) *Backups {
	if clock != nil {
		b.now = clock
	}
	return b
}

// BackupDirName renders the renamed folder for an env dir, mirroring the
// manual runbook's `mv venv venv_old_<stamp>` convention.
func BackupDirName(envDir string, at time.Time) string {
	return fmt.Sprintf("%s_old_%s", filepath.Clean(envDir), at.Format("20060102T150405"))
}

// Backup renames the environment aside and records it in the manifest.
// Returns the backup entry; ErrNoEnvironment when there is nothing to move.
func (b *Backups) Backup(env Environment, runID string) (BackupEntry, error) {
	if !env.Exists() {
		return BackupEntry{}, ErrNoEnvironment
	}
	var pyVersion string
	if info, err := env.Inspect(); err == nil {
		pyVersion = info.Version.String()
	}
	at := b.now()
	backupDir := BackupDirName(env.Dir, at)
	if _, err := os.Stat(backupDir); err == nil {
		return BackupEntry{}, fmt.Errorf("venv: backup target %s already exists", backupDir)
	}
	if err := os.Rename(env.Dir, backupDir); err != nil {
		return BackupEntry{}, fmt.Errorf("venv: rename %s to %s: %w", env.Dir, backupDir, err)
	}
	entry := BackupEntry{
		Original:   env.Dir,
		BackupDir:  backupDir,
		PyVersion:  pyVersion,
		CreatedAt:  at.UTC(),
		RunbookRun: runID,
	}
	manifest, err := b.Load()
	if err != nil {
		return BackupEntry{}, err
	}
	manifest.Entries = append(manifest.Entries, entry)
	if err := b.save(manifest); err != nil {
		return BackupEntry{}, err
	}
	if err := b.Prune(); err != nil {
		return BackupEntry{}, err
	}
	return entry, nil
}

// Load reads the manifest; a missing file is an empty manifest.
func (b *Backups) Load() (Manifest, error) {
	data, err := os.ReadFile(b.manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, nil
		}
		return Manifest{}, fmt.Errorf("venv: read backup manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("venv: parse backup manifest: %w", err)
	}
	return manifest, nil
}

// Prune deletes the oldest backup folders beyond the retention limit and
// rewrites the manifest. Folders already gone from disk are dropped silently.
func (b *Backups) Prune() error {
	manifest, err := b.Load()
	if err != nil {
		return err
	}
	entries := manifest.Entries
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })

	var kept []BackupEntry
	excess := len(entries) - b.keep
	for idx, entry := range entries {
		if idx < excess {
			if err := os.RemoveAll(entry.BackupDir); err != nil {
				return fmt.Errorf("venv: prune %s: %w", entry.BackupDir, err)
			}
			continue
		}
		if _, err := os.Stat(entry.BackupDir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		kept = append(kept, entry)
	}
	manifest.Entries = kept
	return b.save(manifest)
}

func (b *Backups) save(manifest Manifest) error {
	if err := os.MkdirAll(filepath.Dir(b.manifestPath), 0o755); err != nil {
		return fmt.Errorf("venv: ensure backup dir: %w", err)
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("venv: encode backup manifest: %w", err)
	}
	return os.WriteFile(b.manifestPath, append(data, '\n'), 0o644)
}
