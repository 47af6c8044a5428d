package engine

import (
	"fmt"

	"github.com/yourusername/pylift/internal/step"
)

// ClaimRequest asks the engine to reserve runnable steps for execution.
type ClaimRequest struct {
	Runtime *RuntimeOverrides
	// Limit caps how many runnable steps may be claimed at once. Zero means "all".
	Limit int
	// Steps restricts claims to a subset of runnable step IDs. When empty,
	// every runnable step is eligible.
	Steps []string
}

// WorkClaim describes a runnable step that has been reserved for execution.
type WorkClaim struct {
	ID          string                  `json:"id"`
	StepID      string                  `json:"step_id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Optional    bool                    `json:"optional,omitempty"`
	Concurrency step.ConcurrencyProfile `json:"concurrency"`
}

// ClaimResult returns the new engine state plus the reserved steps.
type ClaimResult struct {
	Claims []WorkClaim
	State  State
}

// Claim reserves runnable steps, marks them as running, and persists the new
// engine snapshot so other surfaces observe the updated runtime state.
func (e *Engine) Claim(ctx *step.StepContext, req ClaimRequest) (ClaimResult, error) {
	if ctx == nil {
		return ClaimResult{}, fmt.Errorf("runbook engine: step context is required")
	}
	current, err := e.repo.Load()
	if err != nil {
		return ClaimResult{}, err
	}
	runtime := applyRuntimeOverrides(current.Runtime, req.Runtime)
	state, err := e.buildState(ctx, current.Definition, runtime, current.Runs)
	if err != nil {
		return ClaimResult{}, err
	}
	state.RunID = current.RunID
	state.RunbookID = current.RunbookID
	runnable := filterClaimable(state.Runnable, req.Steps)
	limit := len(runnable)
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	claimIDs := make([]string, limit)
	copy(claimIDs, runnable[:limit])
	claims := make([]WorkClaim, 0, len(claimIDs))
	for _, id := range claimIDs {
		status, ok := findStepStatus(state.Nodes, id)
		if !ok {
			continue
		}
		claims = append(claims, WorkClaim{
			ID:          status.ID,
			StepID:      status.StepID,
			Name:        status.Name,
			Description: status.Description,
			Optional:    status.Optional,
			Concurrency: status.Concurrency,
		})
	}
	state.Runtime.Running = appendRunning(state.Runtime.Running, claimIDs)
	state.Runnable = stripIDs(state.Runnable, claimIDs)
	state.Status, state.StatusReason = deriveEngineStatus(state.Nodes, state.Runtime, state.Runs)
	state.UpdatedAt = e.now()
	if err := e.repo.Save(state); err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{Claims: claims, State: state}, nil
}

func findStepStatus(nodes []StepStatus, id string) (StepStatus, bool) {
	for _, node := range nodes {
		if node.ID == id {
			return node, true
		}
	}
	return StepStatus{}, false
}
