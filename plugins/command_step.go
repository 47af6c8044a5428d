package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/venv"
)

const defaultCommandTimeout = 10 * time.Minute

// commandRunner executes a rendered plugin command and returns its combined output.
type commandRunner func(ctx context.Context, program string, args []string, env []string, dir string) ([]byte, error)

type commandStep struct {
	*step.Base
	definition StepDefinition
	inputs     []artifact.ArtifactRef
	outputs    []artifact.ArtifactRef
	inputIDs   []string
	config     step.Config
	runner     commandRunner
}

func newCommandStep(def StepDefinition, overrides step.Config) (*commandStep, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	normalized := def.Normalized()
	inputs, inputIDs, err := resolveBindings(normalized.Inputs)
	if err != nil {
		return nil, err
	}
	outputs, _, err := resolveBindings(normalized.Outputs)
	if err != nil {
		return nil, err
	}
	info := step.Info{
		ID:          normalized.ID,
		Name:        defaultStepName(normalized),
		Description: normalized.Description,
		Version:     normalized.Version,
		Concurrency: normalized.Concurrency,
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	base := step.NewBase(info)
	base.SetInputs(inputs...)
	base.SetOutputs(outputs...)
	merged := mergeConfigs(normalized.Config, overrides)
	return &commandStep{
		Base:       &base,
		definition: normalized,
		inputs:     inputs,
		outputs:    outputs,
		inputIDs:   inputIDs,
		config:     merged,
		runner:     execCommand,
	}, nil
}

func (s *commandStep) Run(ctx *step.StepContext) (step.Result, error) {
	if err := validateCommandContext(ctx); err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	complete, err := s.IsComplete(ctx)
	if err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	if complete {
		return step.Result{Status: step.StatusNoOp, Message: fmt.Sprintf("%s already complete", s.definition.ID)}, nil
	}
	for _, ref := range s.inputs {
		if ref.Optional {
			continue
		}
		result, err := ctx.Artifacts.Check(ref)
		if err != nil {
			return step.Result{Status: step.StatusFailed}, fmt.Errorf("command-step: check %s: %w", ref.ID, err)
		}
		if result.State != artifact.StateReady {
			return step.Result{Status: step.StatusNeedsInput, Message: fmt.Sprintf("waiting for %s", ref.Name)}, nil
		}
	}
	program, args, env, dir, err := s.renderCommand(ctx)
	if err != nil {
		return step.Result{Status: step.StatusFailed}, err
	}
	runCtx := ctx.Context()
	timeout := defaultCommandTimeout
	if s.definition.Command.TimeoutSeconds > 0 {
		timeout = time.Duration(s.definition.Command.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(runCtx, timeout)
	defer cancel()
	out, runErr := s.runner(runCtx, program, args, env, dir)
	if ctx.Logbook != nil {
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				ctx.Logbook.Step(s.definition.ID, "%s", line)
			}
		}
	}
	if runErr != nil {
		return step.Result{Status: step.StatusFailed},
			fmt.Errorf("command-step: %s: %s %s: %w", s.definition.ID, program, strings.Join(args, " "), runErr)
	}
	ready := true
	for _, ref := range s.outputs {
		ok, err := s.ensureArtifact(ctx, ref)
		if err != nil {
			return step.Result{Status: step.StatusFailed}, err
		}
		if !ok && !ref.Optional {
			ready = false
		}
	}
	if !ready {
		return step.Result{Status: step.StatusNeedsInput, Message: fmt.Sprintf("%s ran but outputs are incomplete", s.definition.ID)}, nil
	}
	return step.Result{Status: step.StatusCompleted, Message: fmt.Sprintf("%s completed", s.definition.ID)}, nil
}

func (s *commandStep) IsComplete(ctx *step.StepContext) (bool, error) {
	if err := validateCommandContext(ctx); err != nil {
		return false, err
	}
	for _, ref := range s.outputs {
		if ref.Optional {
			continue
		}
		ready, err := s.checkArtifact(ctx, ref)
		if err != nil {
			return false, err
		}
		if !ready {
			return false, nil
		}
	}
	return true, nil
}

// checkArtifact is the read-only variant used by IsComplete.
func (s *commandStep) checkArtifact(ctx *step.StepContext, ref artifact.ArtifactRef) (bool, error) {
	result, err := ctx.Artifacts.Check(ref)
	if err != nil {
		return false, err
	}
	switch result.State {
	case artifact.StateReady:
		if ref.Kind == artifact.KindMarker || ref.Kind == artifact.KindDirectory || ref.Kind == artifact.KindFile {
			return true, nil
		}
		if result.Metadata == nil || result.Metadata.StepID != s.definition.ID || result.Metadata.Version != s.definition.Version {
			return false, nil
		}
		return true, nil
	case artifact.StateError:
		if result.Err != nil {
			return false, result.Err
		}
		return false, fmt.Errorf("command-step: %s unknown error", ref.ID)
	default:
		return false, nil
	}
}

// ensureArtifact stamps freshly produced envelope artifacts with our metadata.
func (s *commandStep) ensureArtifact(ctx *step.StepContext, ref artifact.ArtifactRef) (bool, error) {
	result, err := ctx.Artifacts.Check(ref)
	if err != nil {
		return false, err
	}
	switch result.State {
	case artifact.StateMissing:
		return false, nil
	case artifact.StateInvalid:
		if err := s.writeMetadata(ctx, ref); err != nil {
			return false, err
		}
		return true, nil
	case artifact.StateError:
		if result.Err != nil {
			return false, result.Err
		}
		return false, fmt.Errorf("command-step: %s unknown error", ref.ID)
	case artifact.StateReady:
		if ref.Kind == artifact.KindMarker || ref.Kind == artifact.KindDirectory || ref.Kind == artifact.KindFile {
			return true, nil
		}
		if result.Metadata == nil || result.Metadata.StepID != s.definition.ID || result.Metadata.Version != s.definition.Version {
			if err := s.writeMetadata(ctx, ref); err != nil {
				return false, err
			}
		}
		return true, nil
	default:
		return false, nil
	}
}

func (s *commandStep) writeMetadata(ctx *step.StepContext, ref artifact.ArtifactRef) error {
	path := ref.Path(ctx.Runbook)
	if path == "" {
		return fmt.Errorf("command-step: %s path unresolved", ref.ID)
	}
	body, err := readArtifactBody(ref, path)
	if err != nil {
		return fmt.Errorf("command-step: read %s: %w", ref.ID, err)
	}
	meta := artifact.Metadata{
		ArtifactID: ref.ID,
		StepID:     s.definition.ID,
		Version:    s.definition.Version,
		Runbook:    ctx.Runbook.Dir(),
		Inputs:     append([]string{}, s.inputIDs...),
	}
	if err := ctx.Artifacts.Write(ref, body, meta); err != nil {
		return fmt.Errorf("command-step: write metadata for %s: %w", ref.ID, err)
	}
	return nil
}

func (s *commandStep) renderCommand(ctx *step.StepContext) (string, []string, []string, string, error) {
	data := s.templateData(ctx)
	program, err := renderTemplate("program", s.definition.Command.Program, data)
	if err != nil {
		return "", nil, nil, "", err
	}
	args := make([]string, 0, len(s.definition.Command.Args))
	for idx, raw := range s.definition.Command.Args {
		rendered, err := renderTemplate(fmt.Sprintf("arg[%d]", idx), raw, data)
		if err != nil {
			return "", nil, nil, "", err
		}
		args = append(args, rendered)
	}
	env := os.Environ()
	for key, raw := range s.definition.Command.Env {
		rendered, err := renderTemplate("env."+key, raw, data)
		if err != nil {
			return "", nil, nil, "", err
		}
		env = append(env, fmt.Sprintf("%s=%s", key, rendered))
	}
	dir := ctx.Config.ProjectDir
	if s.definition.Command.WorkDir != "" {
		rendered, err := renderTemplate("workdir", s.definition.Command.WorkDir, data)
		if err != nil {
			return "", nil, nil, "", err
		}
		if !filepath.IsAbs(rendered) {
			rendered = filepath.Join(ctx.Config.ProjectDir, rendered)
		}
		dir = rendered
	}
	return program, args, env, dir, nil
}

func (s *commandStep) templateData(ctx *step.StepContext) map[string]any {
	env := venv.New(ctx.Runbook.VenvDir())
	return map[string]any{
		"ProjectDir": ctx.Config.ProjectDir,
		"RunbookDir": ctx.Runbook.Dir(),
		"VenvDir":    ctx.Runbook.VenvDir(),
		"PythonPath": env.PythonPath(),
		"Config":     s.config,
		"Variables":  s.definition.Command.Variables,
	}
}

func renderTemplate(name, raw string, data map[string]any) (string, error) {
	tmpl, err := template.New(name).Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(raw)
	if err != nil {
		return "", fmt.Errorf("command-step: parse %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("command-step: render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func defaultStepName(def StepDefinition) string {
	if strings.TrimSpace(def.Name) != "" {
		return def.Name
	}
	return def.ID
}

func resolveBindings(bindings []ArtifactBinding) ([]artifact.ArtifactRef, []string, error) {
	if len(bindings) == 0 {
		return nil, nil, nil
	}
	resolved := make([]artifact.ArtifactRef, len(bindings))
	ids := make([]string, len(bindings))
	for i, binding := range bindings {
		ref, err := binding.Resolve()
		if err != nil {
			return nil, nil, err
		}
		resolved[i] = ref
		ids[i] = ref.ID
	}
	return resolved, ids, nil
}

func mergeConfigs(base step.Config, override step.Config) step.Config {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	merged := make(step.Config)
	for k, v := range base {
		if key := strings.TrimSpace(k); key != "" {
			merged[key] = v
		}
	}
	for k, v := range override {
		if key := strings.TrimSpace(k); key != "" {
			merged[key] = v
		}
	}
	return merged
}

func validateCommandContext(ctx *step.StepContext) error {
	if ctx == nil {
		return fmt.Errorf("command-step: context is nil")
	}
	if ctx.Config == nil {
		return fmt.Errorf("command-step: config is required")
	}
	if ctx.Runbook == nil {
		return fmt.Errorf("command-step: runbook is required")
	}
	if ctx.Artifacts == nil {
		return fmt.Errorf("command-step: artifact store is required")
	}
	return nil
}

func readArtifactBody(ref artifact.ArtifactRef, path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if ref.Kind == artifact.KindJSON {
		return data, nil
	}
	if _, body, err := artifact.ParseFrontMatter(data); err == nil {
		return body, nil
	}
	return data, nil
}

func execCommand(ctx context.Context, program string, args []string, env []string, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = dir
	cmd.Env = env
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.Bytes(), err
}
