package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourusername/pylift/internal/runbook/engine"
	"github.com/yourusername/pylift/internal/runbook/scheduler"
	"github.com/yourusername/pylift/internal/venv"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runbook, app, and backup status",
	Args:  cobra.NoArgs,
	RunE:  showStatus,
}

func showStatus(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	state, err := engine.NewRepository(rt.runbook).Load()
	switch {
	case errors.Is(err, engine.ErrStateNotFound):
		fmt.Println("No runbook state yet. Run `pylift upgrade` to begin.")
	case err != nil:
		return fmt.Errorf("load runbook state: %w", err)
	default:
		fmt.Printf("Runbook: %s · run %s · %s\n", state.RunbookID, state.RunID, state.Status)
		if state.StatusReason != "" {
			fmt.Printf("Reason: %s\n", state.StatusReason)
		}
		if !state.UpdatedAt.IsZero() {
			fmt.Printf("Updated: %s\n", state.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		for _, node := range state.Nodes {
			line := fmt.Sprintf("  %-20s %s", node.ID, node.State)
			if gate, ok := state.Runtime.ManualGates[node.ID]; ok && gate.Required {
				if gate.Approved {
					line += " · gate approved"
				} else {
					line += " · gate pending"
				}
			}
			if skip, ok := state.Skipped[node.ID]; ok && skip.Reason != scheduler.SkipReasonNotReady {
				line += fmt.Sprintf(" · %s", skip.Reason)
			}
			if node.Error != "" {
				line += fmt.Sprintf(" · %s", node.Error)
			}
			fmt.Println(line)
		}
		fmt.Println()
	}

	appState, alive, err := rt.supervisor.Status()
	if err != nil {
		return fmt.Errorf("app status: %w", err)
	}
	if alive {
		fmt.Printf("App: running · PID %d · port %d", appState.PID, appState.Port)
		if venvBase := strings.TrimSpace(appState.VenvDir); venvBase != "" {
			fmt.Printf(" · venv %s", filepath.Base(venvBase))
		}
		fmt.Println()
	} else {
		fmt.Println("App: not running")
	}

	manifest, err := venv.NewBackups(rt.runbook.BackupManifestPath(), rt.cfg.Project.Venv.KeepBackupCount()).Load()
	if err != nil {
		return fmt.Errorf("load backup manifest: %w", err)
	}
	fmt.Printf("Backups: %d\n", len(manifest.Entries))
	for _, entry := range manifest.Entries {
		line := fmt.Sprintf("  %s", filepath.Base(entry.BackupDir))
		if entry.PyVersion != "" {
			line += fmt.Sprintf(" · python %s", entry.PyVersion)
		}
		if !entry.CreatedAt.IsZero() {
			line += fmt.Sprintf(" · %s", entry.CreatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println(line)
	}
	return nil
}
