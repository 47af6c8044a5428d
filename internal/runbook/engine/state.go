package engine

import (
	"time"

	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/resolver"
	"github.com/yourusername/pylift/internal/runbook/scheduler"
	"github.com/yourusername/pylift/internal/step"
)

// EngineStatus enumerates coarse runbook engine phases.
type EngineStatus string

const (
	EngineStatusUnknown  EngineStatus = "unknown"
	EngineStatusRunning  EngineStatus = "running"
	EngineStatusBlocked  EngineStatus = "blocked"
	EngineStatusComplete EngineStatus = "complete"
	EngineStatusError    EngineStatus = "error"
)

// State captures the persisted snapshot of a runbook run.
type State struct {
	RunID      string                    `json:"run_id"`
	RunbookID  string                    `json:"runbook_id"`
	Definition runbook.RunbookDefinition `json:"definition"`
	Status     EngineStatus              `json:"status"`
	// StatusReason provides human readable explanation for non-running states.
	StatusReason string                          `json:"status_reason,omitempty"`
	Runtime      EngineRuntime                   `json:"runtime"`
	Nodes        []StepStatus                    `json:"nodes"`
	Runnable     []string                        `json:"runnable"`
	Skipped      map[string]scheduler.SkipReason `json:"skipped,omitempty"`
	Runs         map[string]StepRun              `json:"runs,omitempty"`
	UpdatedAt    time.Time                       `json:"updated_at"`
}

// EngineRuntime mirrors scheduler constraints that survive across updates.
type EngineRuntime struct {
	Targets     []string                             `json:"targets,omitempty"`
	MaxParallel int                                  `json:"max_parallel,omitempty"`
	Running     []string                             `json:"running,omitempty"`
	ManualGates map[string]scheduler.ManualGateState `json:"manual_gates,omitempty"`
}

// RuntimeOverrides selectively mutates EngineRuntime fields.
type RuntimeOverrides struct {
	Targets     *[]string
	MaxParallel *int
	Running     *[]string
	ManualGates *map[string]scheduler.ManualGateState
}

// StepStatus exposes resolver metadata for a runbook node.
type StepStatus struct {
	ID           string                    `json:"id"`
	StepID       string                    `json:"step_id"`
	Name         string                    `json:"name"`
	Description  string                    `json:"description,omitempty"`
	Optional     bool                      `json:"optional,omitempty"`
	Gated        bool                      `json:"gated,omitempty"`
	Concurrency  step.ConcurrencyProfile   `json:"concurrency"`
	State        resolver.NodeState        `json:"state"`
	Dependencies []string                  `json:"dependencies,omitempty"`
	Dependents   []string                  `json:"dependents,omitempty"`
	BlockedBy    []string                  `json:"blocked_by,omitempty"`
	Error        string                    `json:"error,omitempty"`
	Artifacts    map[string]ArtifactStatus `json:"artifacts,omitempty"`
	LastRun      *StepRun                  `json:"last_run,omitempty"`
}

// ArtifactStatus mirrors resolver artifact evaluation for UI/state consumers.
type ArtifactStatus struct {
	ID                  string              `json:"id"`
	Status              step.ArtifactStatus `json:"status"`
	ExpectedFingerprint string              `json:"expected_fingerprint,omitempty"`
	StoredFingerprint   string              `json:"stored_fingerprint,omitempty"`
	Error               string              `json:"error,omitempty"`
}

// StepRun persists the last known runtime result for a step execution.
type StepRun struct {
	Status     step.Status `json:"status"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	FinishedAt time.Time   `json:"finished_at"`
}

// schedulerRequest converts EngineRuntime into a scheduler request payload.
func (rt EngineRuntime) schedulerRequest() scheduler.RunnableRequest {
	return scheduler.RunnableRequest{
		Targets:     cloneStrings(rt.Targets),
		MaxParallel: rt.MaxParallel,
		Running:     cloneStrings(rt.Running),
		ManualGates: cloneManualGates(rt.ManualGates),
	}
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func cloneManualGates(values map[string]scheduler.ManualGateState) map[string]scheduler.ManualGateState {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]scheduler.ManualGateState, len(values))
	for id, state := range values {
		out[id] = state
	}
	return out
}

func (rt EngineRuntime) clone() EngineRuntime {
	return EngineRuntime{
		Targets:     cloneStrings(rt.Targets),
		MaxParallel: rt.MaxParallel,
		Running:     cloneStrings(rt.Running),
		ManualGates: cloneManualGates(rt.ManualGates),
	}
}
