package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yourusername/pylift/internal/runbook"
)

func testRunbook(t *testing.T) *runbook.Runbook {
	t.Helper()
	dir := t.TempDir()
	rb := runbook.New(
		filepath.Join(dir, ".pylift"),
		filepath.Join(dir, "venv"),
		filepath.Join(dir, "requirements.txt"),
	)
	if err := rb.Initialize(); err != nil {
		t.Fatalf("initialize runbook: %v", err)
	}
	return rb
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestStoreWritesAndChecksJSONArtifact(t *testing.T) {
	rb := testRunbook(t)
	store := NewStore(rb, WithClock(fixedClock))

	body := []byte(`{"path": "/usr/bin/python3.10", "version": "3.10.12"}`)
	meta := Metadata{StepID: "interpreter-check", Version: "1.0.0", Runbook: "upgrade-env"}
	if err := store.Write(InterpreterJSON, body, meta); err != nil {
		t.Fatalf("write interpreter artifact: %v", err)
	}

	raw, err := os.ReadFile(rb.InterpreterPath())
	if err != nil {
		t.Fatalf("read interpreter.json: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("parse interpreter.json: %v", err)
	}
	if _, ok := payload["_pylift"]; !ok {
		t.Fatalf("expected _pylift metadata block, got %s", raw)
	}

	result, err := store.Check(InterpreterJSON)
	if err != nil {
		t.Fatalf("check interpreter artifact: %v", err)
	}
	if result.State != StateReady {
		t.Fatalf("expected ready state, got %s (err=%v)", result.State, result.Err)
	}
	if result.Metadata == nil || result.Metadata.StepID != "interpreter-check" {
		t.Fatalf("expected step metadata, got %+v", result.Metadata)
	}
}

func TestStoreRejectsForeignJSONMetadata(t *testing.T) {
	rb := testRunbook(t)
	store := NewStore(rb)

	// plain JSON written outside the store lacks the metadata block
	if err := os.WriteFile(rb.InterpreterPath(), []byte(`{"version": "3.10"}`), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	result, _ := store.Check(InterpreterJSON)
	if result.State != StateInvalid {
		t.Fatalf("expected invalid state, got %s", result.State)
	}
}

func TestStoreDocumentFrontMatterRoundTrip(t *testing.T) {
	rb := testRunbook(t)
	store := NewStore(rb, WithClock(fixedClock))

	body := []byte("# Upgrade Report\n\nEverything went fine.\n")
	meta := Metadata{
		StepID:  "app-restart",
		Version: "1.0.0",
		Runbook: "upgrade-env",
		Inputs:  []string{"pip-packages-json"},
		Notes:   map[string]string{"python": "3.10.12"},
	}
	if err := store.Write(UpgradeReportDoc, body, meta); err != nil {
		t.Fatalf("write report: %v", err)
	}

	raw, err := os.ReadFile(rb.UpgradeReportPath())
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.HasPrefix(string(raw), "---\n") {
		t.Fatalf("expected frontmatter fence, got %q", raw[:16])
	}
	parsed, parsedBody, err := ParseFrontMatter(raw)
	if err != nil {
		t.Fatalf("parse frontmatter: %v", err)
	}
	if parsed.ArtifactID != UpgradeReportDoc.ID {
		t.Fatalf("expected artifact id %s, got %s", UpgradeReportDoc.ID, parsed.ArtifactID)
	}
	if parsed.Notes["python"] != "3.10.12" {
		t.Fatalf("expected notes to survive round trip, got %+v", parsed.Notes)
	}
	if !strings.Contains(string(parsedBody), "Everything went fine.") {
		t.Fatalf("body lost in round trip: %q", parsedBody)
	}
}

func TestStoreMarkerAndMissingStates(t *testing.T) {
	rb := testRunbook(t)
	store := NewStore(rb)

	result, err := store.Check(VersionVerifiedMarker)
	if err != nil {
		t.Fatalf("check missing marker: %v", err)
	}
	if result.State != StateMissing {
		t.Fatalf("expected missing, got %s", result.State)
	}

	if err := store.Write(VersionVerifiedMarker, nil, Metadata{}); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	result, err = store.Check(VersionVerifiedMarker)
	if err != nil {
		t.Fatalf("check marker: %v", err)
	}
	if result.State != StateReady {
		t.Fatalf("expected ready, got %s", result.State)
	}
}

func TestRegisteredRefsResolvePaths(t *testing.T) {
	rb := testRunbook(t)

	if got := VenvDirectory.Path(rb); got != rb.VenvDir() {
		t.Fatalf("venv dir resolver mismatch: %s != %s", got, rb.VenvDir())
	}
	if got := RequirementsFile.Path(rb); got != rb.RequirementsPath() {
		t.Fatalf("requirements resolver mismatch: %s != %s", got, rb.RequirementsPath())
	}
	ref, ok := Lookup("pip-packages-json")
	if !ok {
		t.Fatalf("expected pip-packages-json to be registered")
	}
	if ref.Kind != KindJSON {
		t.Fatalf("expected json kind, got %s", ref.Kind)
	}
}
