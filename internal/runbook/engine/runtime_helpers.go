package engine

import (
	"strings"

	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/resolver"
	"github.com/yourusername/pylift/internal/runbook/scheduler"
	"github.com/yourusername/pylift/internal/step"
)

func applyRunbookRuntime(def runbook.RunbookDefinition, runtime EngineRuntime) EngineRuntime {
	if def.Runtime.MaxParallel > 0 && runtime.MaxParallel <= 0 {
		runtime.MaxParallel = def.Runtime.MaxParallel
	}
	return runtime
}

// seedManualGates installs a pending gate for every gated step the runtime does
// not already track. Approvals recorded in the runtime survive; new gated steps
// start unapproved.
func seedManualGates(def runbook.RunbookDefinition, runtime EngineRuntime) EngineRuntime {
	gated := def.GatedSteps()
	if len(gated) == 0 {
		return runtime
	}
	gates := cloneManualGates(runtime.ManualGates)
	if gates == nil {
		gates = make(map[string]scheduler.ManualGateState, len(gated))
	}
	for _, id := range gated {
		if _, tracked := gates[id]; tracked {
			continue
		}
		gates[id] = scheduler.ManualGateState{Required: true}
	}
	runtime.ManualGates = gates
	return runtime
}

// dropCompletedRunning removes running entries whose node already reached a
// terminal resolver state, so stale claims do not hold scheduler capacity.
func dropCompletedRunning(running []string, nodes []StepStatus) []string {
	if len(running) == 0 {
		return running
	}
	terminal := map[string]struct{}{}
	for _, node := range nodes {
		switch node.State {
		case resolver.NodeStateComplete, resolver.NodeStateError:
			terminal[node.ID] = struct{}{}
		}
	}
	if len(terminal) == 0 {
		return running
	}
	filtered := make([]string, 0, len(running))
	for _, id := range running {
		if _, done := terminal[id]; done {
			continue
		}
		filtered = append(filtered, id)
	}
	return filtered
}

func releaseRunning(running []string, updates []StepStatusUpdate) []string {
	if len(running) == 0 || len(updates) == 0 {
		return running
	}
	released := map[string]struct{}{}
	for _, update := range updates {
		id := strings.TrimSpace(update.ID)
		if id == "" {
			continue
		}
		status := update.Result.Status
		if status == "" {
			if update.Err != nil {
				status = step.StatusFailed
			} else {
				status = step.StatusCompleted
			}
		}
		if status == step.StatusNeedsInput {
			continue
		}
		released[id] = struct{}{}
	}
	if len(released) == 0 {
		return running
	}
	filtered := make([]string, 0, len(running))
	for _, id := range running {
		if _, drop := released[id]; drop {
			continue
		}
		filtered = append(filtered, id)
	}
	return filtered
}

func appendRunning(running []string, ids []string) []string {
	if len(ids) == 0 {
		return running
	}
	set := make(map[string]struct{}, len(running))
	for _, id := range running {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	for _, id := range ids {
		clean := strings.TrimSpace(id)
		if clean == "" {
			continue
		}
		if _, exists := set[clean]; exists {
			continue
		}
		running = append(running, clean)
		set[clean] = struct{}{}
	}
	return running
}

func stripIDs(values []string, ids []string) []string {
	if len(values) == 0 || len(ids) == 0 {
		return values
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		drop[id] = struct{}{}
	}
	if len(drop) == 0 {
		return values
	}
	filtered := make([]string, 0, len(values))
	for _, id := range values {
		if _, remove := drop[id]; remove {
			continue
		}
		filtered = append(filtered, id)
	}
	return filtered
}

func filterClaimable(runnable []string, requested []string) []string {
	if len(runnable) == 0 {
		return nil
	}
	if len(requested) == 0 {
		out := make([]string, len(runnable))
		copy(out, runnable)
		return out
	}
	allowed := make(map[string]struct{}, len(requested))
	for _, id := range requested {
		clean := strings.TrimSpace(id)
		if clean == "" {
			continue
		}
		allowed[clean] = struct{}{}
	}
	var filtered []string
	for _, id := range runnable {
		if _, ok := allowed[id]; ok {
			filtered = append(filtered, id)
		}
	}
	return filtered
}
