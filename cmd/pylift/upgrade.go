package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/engine"
	"github.com/yourusername/pylift/internal/runbook/scheduler"
	"github.com/yourusername/pylift/internal/step"
)

var (
	upgradeRunbookID string
	upgradeYes       bool
	upgradePoll      time.Duration
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Run the upgrade runbook without the TUI",
	Long: `Runs the configured runbook headlessly. Steps execute one at a time in
dependency order and progress is persisted, so an interrupted run resumes
where it left off.

Manual gates (environment backup, version verification) prompt on stdin;
pass --yes to approve them automatically, e.g. in CI.`,
	Args: cobra.NoArgs,
	RunE: runUpgrade,
}

func init() {
	upgradeCmd.Flags().StringVar(&upgradeRunbookID, "runbook", "", "runbook to run (default: configured runbook)")
	upgradeCmd.Flags().BoolVarP(&upgradeYes, "yes", "y", false, "approve manual gates without prompting")
	upgradeCmd.Flags().DurationVar(&upgradePoll, "poll", 3*time.Second, "poll interval while waiting for step outputs")
}

func runUpgrade(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	state, err := rt.engine.Resume(rt.stepCtx, engine.ResumeRequest{})
	if errors.Is(err, engine.ErrStateNotFound) {
		def, loadErr := rt.loadDefinition(upgradeRunbookID)
		if loadErr != nil {
			return loadErr
		}
		state, err = rt.engine.Start(rt.stepCtx, engine.StartRequest{Definition: def})
		if err != nil {
			return fmt.Errorf("start runbook: %w", err)
		}
		fmt.Printf("Started runbook %s · run %s\n", state.RunbookID, state.RunID)
	} else if err != nil {
		return fmt.Errorf("resume runbook: %w", err)
	} else {
		fmt.Printf("Resumed runbook %s · run %s · %s\n", state.RunbookID, state.RunID, state.Status)
	}

	refs := stepRefMap(state.Definition)
	runCtx := rt.stepCtx.WithMode("cli-upgrade")
	reader := bufio.NewReader(cmd.InOrStdin())

	for {
		switch state.Status {
		case engine.EngineStatusComplete:
			fmt.Printf("Runbook %s complete · run %s\n", state.RunbookID, state.RunID)
			return nil
		case engine.EngineStatusError:
			return fmt.Errorf("runbook %s ended in error: %s", state.RunbookID, state.StatusReason)
		}

		approved, err := rt.approvePendingGates(cmd, reader, &state, refs)
		if err != nil {
			return err
		}
		if approved {
			continue
		}

		result, err := rt.engine.Claim(rt.stepCtx, engine.ClaimRequest{Limit: 1})
		if err != nil {
			return fmt.Errorf("claim work: %w", err)
		}
		state = result.State
		if len(result.Claims) == 0 {
			if state.Status == engine.EngineStatusComplete {
				continue
			}
			if state.Status == engine.EngineStatusBlocked && !hasPendingGate(state) {
				return fmt.Errorf("runbook %s is blocked: %s", state.RunbookID, state.StatusReason)
			}
			if hasPendingGate(state) {
				continue
			}
			time.Sleep(upgradePoll)
			state, err = rt.engine.Update(rt.stepCtx, engine.UpdateRequest{})
			if err != nil {
				return fmt.Errorf("refresh runbook state: %w", err)
			}
			continue
		}

		for _, claim := range result.Claims {
			ref, ok := refs[claim.ID]
			if !ok {
				return fmt.Errorf("step %s is not defined in runbook %s", claim.ID, state.RunbookID)
			}
			resolved, err := rt.registry.Resolve(ref.StepID, toStepConfig(ref.Config))
			if err != nil {
				return fmt.Errorf("resolve step %s: %w", ref.StepID, err)
			}
			label := stepLabel(resolved.Info(), claim.ID)
			fmt.Printf("→ %s\n", label)
			runResult, runErr := resolved.Run(runCtx)
			update := engine.StepStatusUpdate{
				ID:         claim.ID,
				Result:     runResult,
				Err:        runErr,
				FinishedAt: time.Now(),
			}
			if update.Result.Status == "" {
				if runErr != nil {
					update.Result.Status = step.StatusFailed
				} else {
					update.Result.Status = step.StatusCompleted
				}
			}
			state, err = rt.engine.Update(rt.stepCtx, engine.UpdateRequest{
				Results: []engine.StepStatusUpdate{update},
			})
			if err != nil {
				return fmt.Errorf("record %s result: %w", claim.ID, err)
			}
			if runErr != nil {
				return fmt.Errorf("step %s failed: %w", label, runErr)
			}
			if runResult.Message != "" {
				fmt.Printf("  %s · %s\n", update.Result.Status, runResult.Message)
			} else {
				fmt.Printf("  %s\n", update.Result.Status)
			}
		}
	}
}

// approvePendingGates resolves manual gates that are the only thing holding a
// step back. Returns true when at least one approval was recorded.
func (rt *cliRuntime) approvePendingGates(cmd *cobra.Command, reader *bufio.Reader, state *engine.State, refs map[string]runbook.StepRef) (bool, error) {
	approved := false
	for id, gate := range state.Runtime.ManualGates {
		if !gate.Required || gate.Approved {
			continue
		}
		skip, ok := state.Skipped[id]
		if !ok || skip.Reason != scheduler.SkipReasonManualGate {
			continue
		}
		name := id
		if ref, ok := refs[id]; ok && strings.TrimSpace(ref.Name) != "" {
			name = ref.Name
		}
		note := "auto-approved (--yes)"
		if !upgradeYes {
			fmt.Fprintf(cmd.OutOrStdout(), "Approve step %q? [y/N] ", name)
			line, err := reader.ReadString('\n')
			if err != nil {
				return approved, fmt.Errorf("read approval for %s: %w", id, err)
			}
			answer := strings.ToLower(strings.TrimSpace(line))
			if answer != "y" && answer != "yes" {
				return approved, fmt.Errorf("step %s requires manual approval", id)
			}
			note = "approved interactively"
		}
		next, err := rt.engine.Approve(rt.stepCtx, id, note)
		if err != nil {
			return approved, fmt.Errorf("approve %s: %w", id, err)
		}
		fmt.Printf("Gate approved · %s\n", name)
		*state = next
		approved = true
	}
	return approved, nil
}

func hasPendingGate(state engine.State) bool {
	for id, gate := range state.Runtime.ManualGates {
		if !gate.Required || gate.Approved {
			continue
		}
		if skip, ok := state.Skipped[id]; ok && skip.Reason == scheduler.SkipReasonManualGate {
			return true
		}
	}
	return false
}
