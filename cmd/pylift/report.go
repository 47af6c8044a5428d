package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/runbook"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render the upgrade report",
	Long:  `Pretty-prints reports/UPGRADE_REPORT.md from the last completed upgrade.`,
	Args:  cobra.NoArgs,
	RunE:  showReport,
}

func showReport(cmd *cobra.Command, args []string) error {
	dir, err := resolveProjectDir()
	if err != nil {
		return err
	}
	cfg, err := config.NewConfig(dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rb := runbook.New(cfg.PyliftProjectDir, cfg.VenvDir(), cfg.RequirementsPath())
	data, err := os.ReadFile(rb.UpgradeReportPath())
	if os.IsNotExist(err) {
		return fmt.Errorf("no upgrade report yet; run `pylift upgrade` first")
	}
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		fmt.Print(string(data))
		return nil
	}
	out, err := renderer.Render(string(data))
	if err != nil {
		fmt.Print(string(data))
		return nil
	}
	fmt.Print(out)
	return nil
}
