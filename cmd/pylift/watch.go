package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/pylift/internal/logging"
	"github.com/yourusername/pylift/internal/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reinstall dependencies when the requirements file changes",
	Long: `Watches the project's requirements file. After edits settle, runs the
deps-install step against the current virtualenv and restarts the app.

Runs until interrupted (ctrl-c).`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "quiet period before reacting to changes")
}

func runWatch(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runCtx := rt.stepCtx.WithMode("cli-watch")
	handler := func(hctx context.Context, path string) {
		fmt.Printf("%s changed · reinstalling dependencies\n", filepath.Base(path))
		rt.logbook.Info("Watch · %s changed", filepath.Base(path))
		for _, id := range []string{"deps-install", "app-restart"} {
			resolved, err := rt.registry.Resolve(id, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "resolve %s: %v\n", id, err)
				return
			}
			result, err := resolved.Run(runCtx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "%s failed: %v\n", id, err)
				rt.logbook.Step(id, "watch run failed: %v", err)
				return
			}
			fmt.Printf("  %s · %s\n", id, result.Status)
		}
	}

	diag, err := logging.New(rt.cfg.ProjectDir)
	if err != nil {
		return fmt.Errorf("open diagnostic log: %w", err)
	}
	defer diag.Close()

	watcher, err := watch.New([]string{rt.cfg.RequirementsPath()}, handler,
		watch.WithDebounce(watchDebounce),
		watch.WithLogger(diag),
	)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	fmt.Printf("Watching %s (ctrl-c to stop)\n", rt.cfg.RequirementsPath())
	<-ctx.Done()
	fmt.Println("Watch stopped.")
	return nil
}
