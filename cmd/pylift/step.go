package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/yourusername/pylift/internal/step"
)

var (
	stepConfigFile string
	stepSets       []string
	stepPoll       time.Duration
)

var stepCmd = &cobra.Command{
	Use:   "step [step-id]",
	Short: "Run a single step and wait for its outputs",
	Long: `Executes one registered step outside the runbook engine, then polls its
artifact outputs until they exist.

Examples:
  pylift step interpreter-check
  pylift step deps-install --set requirements=requirements-dev.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runSingleStep,
}

func init() {
	stepCmd.Flags().StringVar(&stepConfigFile, "config-file", "", "path to YAML/JSON file with step config overrides")
	stepCmd.Flags().StringArrayVar(&stepSets, "set", nil, "step config override (key=value, repeatable)")
	stepCmd.Flags().DurationVar(&stepPoll, "poll", 3*time.Second, "poll interval while waiting for completion")
}

func runSingleStep(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	overrides, err := buildStepOverrides(stepConfigFile, stepSets)
	if err != nil {
		return fmt.Errorf("load config overrides: %w", err)
	}
	resolved, err := rt.registry.Resolve(args[0], overrides)
	if err != nil {
		return fmt.Errorf("resolve step: %w", err)
	}
	label := stepLabel(resolved.Info(), args[0])
	runCtx := rt.stepCtx.WithMode("cli-step")

	result, err := resolved.Run(runCtx)
	if err != nil {
		return fmt.Errorf("run %s: %w", label, err)
	}
	fmt.Printf("Run status: %s\n", result.Status)
	if result.Message != "" {
		fmt.Println(result.Message)
	}
	if result.Status == step.StatusCompleted || result.Status == step.StatusNoOp {
		fmt.Printf("%s completed without polling.\n", label)
		return nil
	}

	ticker := time.NewTicker(stepPoll)
	defer ticker.Stop()
	for {
		complete, err := resolved.IsComplete(runCtx)
		if err != nil {
			return fmt.Errorf("check completion: %w", err)
		}
		if complete {
			fmt.Printf("%s completed successfully.\n", label)
			return nil
		}
		fmt.Printf("Waiting for %s outputs...\n", label)
		select {
		case <-ticker.C:
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}

func buildStepOverrides(configFile string, sets []string) (step.Config, error) {
	var cfg step.Config
	if path := strings.TrimSpace(configFile); path != "" {
		fileCfg, err := readStepConfigFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	for _, pair := range sets {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("override key is empty in %q", pair)
		}
		if cfg == nil {
			cfg = step.Config{}
		}
		cfg[key] = parts[1]
	}
	if len(cfg) == 0 {
		return nil, nil
	}
	return cfg, nil
}

func readStepConfigFile(path string) (step.Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open config file %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected a file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, fmt.Errorf("config file %s is empty", path)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	cfg := make(step.Config, len(raw))
	for key, value := range raw {
		cfg[key] = value
	}
	return cfg, nil
}
