// cmd/pylift/main.go
//
// Entry point for the pylift CLI. Running `pylift` with no arguments
// launches the interactive TUI; subcommands cover headless upgrades,
// single-step runs, status, watch mode, report rendering, and the
// local status bridge.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/tui"
)

var flagProjectDir string

var rootCmd = &cobra.Command{
	Use:   "pylift",
	Short: "pylift - guided Python environment upgrades",
	Long: `pylift moves a project's virtualenv onto a target Python version as a
resumable runbook: interpreter check, environment backup, env re-creation,
dependency install, version verification, and an app restart.

Run without arguments to open the interactive board. Use "pylift upgrade"
for a headless run (CI friendly with --yes).`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return launchTUI()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagProjectDir, "project", "p", "", "project directory (default: current)")

	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(stepCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveProjectDir resolves --project (or the cwd) to an absolute path.
func resolveProjectDir() (string, error) {
	dir := strings.TrimSpace(flagProjectDir)
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project dir: %w", err)
	}
	return abs, nil
}

func launchTUI() error {
	dir, err := resolveProjectDir()
	if err != nil {
		return err
	}
	if err := config.InitPyliftDir(dir); err != nil {
		return fmt.Errorf("initialize %s: %w", config.PyliftDir, err)
	}
	app, err := tui.NewApp(dir)
	if err != nil {
		return fmt.Errorf("start pylift: %w", err)
	}
	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
