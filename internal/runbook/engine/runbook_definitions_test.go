package engine

import (
	"testing"

	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/step"
)

func TestUpgradeEnvRunbookRunsToCompletion(t *testing.T) {
	ctx := newTestStepContext(t)
	def := runbook.UpgradeEnvDefinition()
	order := []string{
		"interpreter-check",
		"env-backup",
		"env-create",
		"deps-install",
		"version-verify",
		"app-restart",
	}
	stubs := make(map[string]*stubStep, len(order))
	for _, id := range order {
		stubs[id] = newStubStep(id)
	}
	eng, _ := newCustomEngine(t, ctx, def, stubs)
	state, err := eng.Start(ctx, StartRequest{Definition: def})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < len(order)*3 && state.Status != EngineStatusComplete; i++ {
		if len(state.Runnable) == 0 {
			approved := false
			for id, gate := range state.Runtime.ManualGates {
				if gate.Required && !gate.Approved {
					state, err = eng.Approve(ctx, id, "confirmed")
					if err != nil {
						t.Fatalf("approve %s: %v", id, err)
					}
					approved = true
					break
				}
			}
			if approved {
				continue
			}
			t.Fatalf("run stalled with nothing runnable: status=%s skipped=%+v", state.Status, state.Skipped)
		}
		id := state.Runnable[0]
		stub, ok := stubs[id]
		if !ok {
			t.Fatalf("runnable step %s has no stub", id)
		}
		stub.setComplete(true)
		state, err = eng.Update(ctx, UpdateRequest{Results: []StepStatusUpdate{{
			ID:     id,
			Result: step.Result{Status: step.StatusCompleted},
		}}})
		if err != nil {
			t.Fatalf("update %s: %v", id, err)
		}
	}
	if state.Status != EngineStatusComplete {
		t.Fatalf("expected completed runbook, got %s (%s)", state.Status, state.StatusReason)
	}
	var completed []string
	for _, node := range state.Nodes {
		completed = append(completed, node.ID)
	}
	if len(completed) != len(order) {
		t.Fatalf("expected %d steps, got %+v", len(order), completed)
	}
	for i, id := range order {
		if completed[i] != id {
			t.Fatalf("step order mismatch at %d: want %s, got %s", i, id, completed[i])
		}
	}
	for _, id := range []string{"env-backup", "version-verify"} {
		gate, ok := state.Runtime.ManualGates[id]
		if !ok || !gate.Approved {
			t.Fatalf("expected %s gate approved, got %+v", id, gate)
		}
	}
}
