package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/resolver"
	"github.com/yourusername/pylift/internal/runbook/scheduler"
	"github.com/yourusername/pylift/internal/step"
)

// Engine coordinates the resolver and scheduler while persisting runbook state.
type Engine struct {
	registry *step.Registry
	repo     StateStore
	clock    func() time.Time
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New wires a runbook engine to the step registry and persistence store.
func New(registry *step.Registry, repo StateStore, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("runbook engine: step registry is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("runbook engine: state store is required")
	}
	engine := &Engine{
		registry: registry,
		repo:     repo,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine, nil
}

// StartRequest bootstraps a runbook definition with the engine runtime.
type StartRequest struct {
	Definition runbook.RunbookDefinition
	Runtime    *RuntimeOverrides
}

// ResumeRequest refreshes persistent state after process restarts.
type ResumeRequest struct {
	Runtime *RuntimeOverrides
}

// StepStatusUpdate informs the engine that a step finished running.
type StepStatusUpdate struct {
	ID         string
	Result     step.Result
	Err        error
	FinishedAt time.Time
}

// UpdateRequest applies runtime overrides and step result updates.
type UpdateRequest struct {
	Runtime *RuntimeOverrides
	Results []StepStatusUpdate
}

// Start evaluates a runbook definition from scratch.
func (e *Engine) Start(ctx *step.StepContext, req StartRequest) (State, error) {
	if ctx == nil {
		return State{}, fmt.Errorf("runbook engine: step context is required")
	}
	normalized, err := req.Definition.Normalized()
	if err != nil {
		return State{}, err
	}
	runtime := applyRuntimeOverrides(EngineRuntime{}, req.Runtime)
	state, err := e.buildState(ctx, normalized, runtime, nil)
	if err != nil {
		return State{}, err
	}
	now := e.now()
	state.RunID = generateRunID(normalized.ID, now)
	state.RunbookID = normalized.ID
	state.UpdatedAt = now
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Resume reloads persisted state and refreshes resolver/scheduler snapshots.
func (e *Engine) Resume(ctx *step.StepContext, req ResumeRequest) (State, error) {
	if ctx == nil {
		return State{}, fmt.Errorf("runbook engine: step context is required")
	}
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	runtime := current.Runtime
	// Persisted claims belong to the process that took them. On resume no
	// executor is attached to any of them, so an interrupted step must be
	// released or the scheduler would park it as already-running forever.
	runtime.Running = nil
	runtime = applyRuntimeOverrides(runtime, req.Runtime)
	state, err := e.buildState(ctx, current.Definition, runtime, current.Runs)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.RunbookID = current.RunbookID
	state.UpdatedAt = e.now()
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Update merges step results, reapplies runtime overrides, and refreshes state.
func (e *Engine) Update(ctx *step.StepContext, req UpdateRequest) (State, error) {
	if ctx == nil {
		return State{}, fmt.Errorf("runbook engine: step context is required")
	}
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	updatedRuns := mergeRuns(current.Runs, req.Results, e.now)
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	runtime.Running = releaseRunning(runtime.Running, req.Results)
	state, err := e.buildState(ctx, current.Definition, runtime, updatedRuns)
	if err != nil {
		return State{}, err
	}
	state.RunID = current.RunID
	state.RunbookID = current.RunbookID
	state.UpdatedAt = e.now()
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Approve records operator approval for a gated step and refreshes the state.
func (e *Engine) Approve(ctx *step.StepContext, stepID, note string) (State, error) {
	if strings.TrimSpace(stepID) == "" {
		return State{}, fmt.Errorf("runbook engine: step id is required for approval")
	}
	current, err := e.repo.Load()
	if err != nil {
		return State{}, err
	}
	gates := cloneManualGates(current.Runtime.ManualGates)
	if gates == nil {
		gates = map[string]scheduler.ManualGateState{}
	}
	gate := gates[stepID]
	gate.Required = true
	gate.Approved = true
	gate.Note = note
	gates[stepID] = gate
	return e.Update(ctx, UpdateRequest{Runtime: &RuntimeOverrides{ManualGates: &gates}})
}

// View returns the last persisted snapshot without recomputing resolver state.
func (e *Engine) View() (State, error) {
	return e.repo.Load()
}

func (e *Engine) buildState(ctx *step.StepContext, def runbook.RunbookDefinition, runtime EngineRuntime, runs map[string]StepRun) (State, error) {
	runtime = applyRunbookRuntime(def, runtime)
	runtime = seedManualGates(def, runtime)
	res, err := resolver.New(def, e.registry)
	if err != nil {
		return State{}, err
	}
	if err := res.Refresh(ctx); err != nil {
		return State{}, err
	}
	sched, err := scheduler.New(res)
	if err != nil {
		return State{}, err
	}
	batch, err := sched.Runnable(runtime.schedulerRequest())
	if err != nil {
		return State{}, err
	}
	nodes := summarizeNodes(res, runs)
	runtime.Running = dropCompletedRunning(runtime.Running, nodes)
	status, reason := deriveEngineStatus(nodes, runtime, runs)
	state := State{
		RunbookID:    def.ID,
		Definition:   def.Clone(),
		Runtime:      runtime.clone(),
		Nodes:        nodes,
		Runnable:     runnableIDs(batch.Nodes),
		Skipped:      cloneSkipped(batch.Skipped),
		Runs:         cloneRuns(runs),
		Status:       status,
		StatusReason: reason,
	}
	return state, nil
}

func summarizeNodes(res *resolver.Resolver, runs map[string]StepRun) []StepStatus {
	nodes := res.Nodes()
	result := make([]StepStatus, 0, len(nodes))
	for _, node := range nodes {
		info := node.Step.Info()
		ref := node.Ref
		status := StepStatus{
			ID:           node.ID,
			StepID:       ref.StepID,
			Name:         pickName(ref, info),
			Description:  ref.Description,
			Optional:     ref.Optional,
			Gated:        ref.Gated,
			Concurrency:  info.Concurrency,
			State:        node.State,
			Dependencies: cloneStrings(node.Dependencies),
			Dependents:   cloneStrings(node.Dependents),
			BlockedBy:    cloneStrings(node.BlockedBy),
		}
		if node.Err != nil {
			status.Error = node.Err.Error()
		}
		if len(node.Artifacts) > 0 {
			status.Artifacts = make(map[string]ArtifactStatus, len(node.Artifacts))
			for id, report := range node.Artifacts {
				status.Artifacts[id] = ArtifactStatus{
					ID:                  id,
					Status:              report.Status,
					ExpectedFingerprint: report.ExpectedFingerprint,
					StoredFingerprint:   report.StoredFingerprint,
					Error:               errorString(report.Err),
				}
			}
		}
		if run, ok := runs[node.ID]; ok {
			copyRun := run
			status.LastRun = &copyRun
		}
		result = append(result, status)
	}
	return result
}

func pickName(ref runbook.StepRef, info step.Info) string {
	if ref.Name != "" {
		return ref.Name
	}
	if info.Name != "" {
		return info.Name
	}
	if ref.StepID != "" {
		return ref.StepID
	}
	return ref.InstanceID()
}

func deriveEngineStatus(nodes []StepStatus, runtime EngineRuntime, runs map[string]StepRun) (EngineStatus, string) {
	for _, status := range nodes {
		if status.State == resolver.NodeStateError {
			return EngineStatusError, fmt.Sprintf("%s encountered an error", status.ID)
		}
	}
	for id, run := range runs {
		if run.Status == step.StatusFailed {
			return EngineStatusError, fmt.Sprintf("%s failed", id)
		}
	}
	hasReady := false
	hasPending := false
	for _, status := range nodes {
		switch status.State {
		case resolver.NodeStateReady:
			hasReady = true
		case resolver.NodeStatePending, resolver.NodeStateBlocked, resolver.NodeStateUnknown:
			hasPending = true
		}
	}
	if !hasReady && !hasPending {
		return EngineStatusComplete, ""
	}
	if hasReady || len(runtime.Running) > 0 {
		return EngineStatusRunning, ""
	}
	return EngineStatusBlocked, ""
}

func runnableIDs(nodes []*resolver.Node) []string {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}

func cloneSkipped(values map[string]scheduler.SkipReason) map[string]scheduler.SkipReason {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]scheduler.SkipReason, len(values))
	for id, reason := range values {
		out[id] = reason
	}
	return out
}

func cloneRuns(values map[string]StepRun) map[string]StepRun {
	if len(values) == 0 {
		return map[string]StepRun{}
	}
	out := make(map[string]StepRun, len(values))
	for id, run := range values {
		out[id] = run
	}
	return out
}

func mergeRuns(existing map[string]StepRun, updates []StepStatusUpdate, clock func() time.Time) map[string]StepRun {
	result := cloneRuns(existing)
	if len(updates) == 0 {
		return result
	}
	for _, update := range updates {
		if update.ID == "" {
			continue
		}
		finished := update.FinishedAt
		if finished.IsZero() {
			finished = clock()
		}
		record := StepRun{
			Status:     update.Result.Status,
			Message:    update.Result.Message,
			Error:      errorString(update.Err),
			FinishedAt: finished,
		}
		result[update.ID] = record
	}
	return result
}

func applyRuntimeOverrides(base EngineRuntime, overrides *RuntimeOverrides) EngineRuntime {
	if overrides == nil {
		return base
	}
	if overrides.Targets != nil {
		base.Targets = cloneStrings(*overrides.Targets)
	}
	if overrides.MaxParallel != nil {
		base.MaxParallel = *overrides.MaxParallel
	}
	if overrides.Running != nil {
		base.Running = cloneStrings(*overrides.Running)
	}
	if overrides.ManualGates != nil {
		base.ManualGates = cloneManualGates(*overrides.ManualGates)
	}
	return base
}

func generateRunID(runbookID string, now time.Time) string {
	base := strings.TrimSpace(runbookID)
	if base == "" {
		base = "runbook"
	}
	base = strings.ToLower(strings.ReplaceAll(base, " ", "-"))
	return fmt.Sprintf("%s-%d", base, now.UnixNano())
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
