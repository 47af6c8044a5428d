package runtime

import (
	"fmt"
	"os"
	"strings"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/step"
)

// MetadataOption customizes the metadata written for an artifact.
type MetadataOption func(*artifact.Metadata)

// WithInputs records the upstream artifact identifiers in metadata.
func WithInputs(refs ...artifact.ArtifactRef) MetadataOption {
	return func(meta *artifact.Metadata) {
		if len(refs) == 0 {
			return
		}
		ids := make([]string, 0, len(refs))
		for _, ref := range refs {
			if ref.ID != "" {
				ids = append(ids, ref.ID)
			}
		}
		if len(ids) > 0 {
			meta.Inputs = ids
		}
	}
}

// WithFingerprint records a fingerprint value for the provided artifact.
func WithFingerprint(ref artifact.ArtifactRef, value string) MetadataOption {
	return func(meta *artifact.Metadata) {
		if strings.TrimSpace(value) == "" {
			return
		}
		if meta.Notes == nil {
			meta.Notes = map[string]string{}
		}
		meta.Notes[step.FingerprintNoteKey(ref.ID)] = value
	}
}

// ValidateContext ensures steps receive a usable context.
func ValidateContext(stepID string, ctx *step.StepContext) error {
	if ctx == nil {
		return fmt.Errorf("%s: context is nil", stepID)
	}
	if ctx.Config == nil {
		return fmt.Errorf("%s: config is required", stepID)
	}
	if ctx.Runbook == nil {
		return fmt.Errorf("%s: runbook is required", stepID)
	}
	if ctx.Artifacts == nil {
		return fmt.Errorf("%s: artifact store is required", stepID)
	}
	return nil
}

// EnsureDocument checks the artifact and rewrites it with pylift metadata if needed.
func EnsureDocument(ctx *step.StepContext, stepID, version string, ref artifact.ArtifactRef, opts ...MetadataOption) (bool, error) {
	result, err := ctx.Artifacts.Check(ref)
	if err != nil {
		return false, fmt.Errorf("%s: check %s: %w", stepID, ref.ID, err)
	}
	switch result.State {
	case artifact.StateReady:
		if result.Metadata == nil || result.Metadata.StepID != stepID || result.Metadata.Version != version {
			if err := writeDocument(ctx, stepID, version, ref, opts...); err != nil {
				return false, err
			}
			return false, nil
		}
		return true, nil
	case artifact.StateMissing:
		return false, nil
	case artifact.StateInvalid:
		if err := writeDocument(ctx, stepID, version, ref, opts...); err != nil {
			return false, err
		}
		return false, nil
	case artifact.StateError:
		if result.Err != nil {
			return false, fmt.Errorf("%s: %s: %w", stepID, ref.ID, result.Err)
		}
		return false, fmt.Errorf("%s: %s encountered an unknown error", stepID, ref.ID)
	default:
		return false, nil
	}
}

// EnsureMarker validates marker artifacts.
func EnsureMarker(ctx *step.StepContext, stepID, version string, ref artifact.ArtifactRef) (bool, error) {
	result, err := ctx.Artifacts.Check(ref)
	if err != nil {
		return false, fmt.Errorf("%s: check %s: %w", stepID, ref.ID, err)
	}
	switch result.State {
	case artifact.StateReady:
		return true, nil
	case artifact.StateMissing:
		return false, nil
	case artifact.StateInvalid:
		if err := ctx.Artifacts.Write(ref, nil, artifact.Metadata{ArtifactID: ref.ID, StepID: stepID, Version: version, Runbook: ctx.Runbook.Dir()}); err != nil {
			return false, fmt.Errorf("%s: rewrite %s: %w", stepID, ref.ID, err)
		}
		return false, nil
	case artifact.StateError:
		if result.Err != nil {
			return false, fmt.Errorf("%s: %s: %w", stepID, ref.ID, result.Err)
		}
		return false, fmt.Errorf("%s: %s encountered an unknown error", stepID, ref.ID)
	default:
		return false, nil
	}
}

func writeDocument(ctx *step.StepContext, stepID, version string, ref artifact.ArtifactRef, opts ...MetadataOption) error {
	path := ref.Path(ctx.Runbook)
	if path == "" {
		return fmt.Errorf("%s: unable to resolve path for %s", stepID, ref.ID)
	}
	body, err := readDocumentBody(path)
	if err != nil {
		return fmt.Errorf("%s: read %s: %w", stepID, ref.ID, err)
	}
	meta := artifact.Metadata{
		ArtifactID: ref.ID,
		StepID:     stepID,
		Version:    version,
		Runbook:    ctx.Runbook.Dir(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&meta)
		}
	}
	if err := ctx.Artifacts.Write(ref, body, meta); err != nil {
		return fmt.Errorf("%s: write %s: %w", stepID, ref.ID, err)
	}
	return nil
}

func readDocumentBody(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	if _, body, err := artifact.ParseFrontMatter(data); err == nil {
		return body, nil
	}
	return data, nil
}
