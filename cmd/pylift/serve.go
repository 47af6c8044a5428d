package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/pylift/internal/bridge"
	"github.com/yourusername/pylift/internal/logging"
	"github.com/yourusername/pylift/internal/runbook/engine"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local status bridge",
	Long: `Starts the HTTP status bridge so CI jobs or dashboards can follow an
upgrade: GET /health, GET /state for the engine snapshot, and POST /events
for step lifecycle events.

Binds to localhost only unless configured otherwise.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind host (default: configured bridge host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "bind port (default: configured bridge port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	settings := bridge.SettingsFromConfig(rt.cfg)
	// Explicitly serving overrides a disabled bridge config.
	settings.Enabled = true
	if host := strings.TrimSpace(serveHost); host != "" {
		settings.Host = host
	}
	if servePort > 0 {
		settings.Port = servePort
	}

	diag, err := logging.New(rt.cfg.ProjectDir)
	if err != nil {
		return fmt.Errorf("open diagnostic log: %w", err)
	}
	defer diag.Close()

	router := bridge.NewRouter(bridge.RouterWithLogger(diag))
	processor := bridge.EventProcessorFunc(func(event bridge.Event) error {
		if event.StepID != "" {
			rt.logbook.Step(event.StepID, "bridge event · %s", event.Type)
		} else {
			rt.logbook.Info("bridge event · %s (%s)", event.Type, event.Source)
		}
		return router.HandleEvent(event)
	})
	repo := engine.NewRepository(rt.runbook)
	server := bridge.NewServer(settings,
		bridge.WithProcessor(processor),
		bridge.WithLogger(diag),
		bridge.WithStateProvider(func(ctx context.Context) (any, error) {
			state, err := repo.Load()
			if errors.Is(err, engine.ErrStateNotFound) {
				return map[string]string{"status": "idle"}, nil
			}
			if err != nil {
				return nil, err
			}
			return state, nil
		}),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	fmt.Printf("Status bridge listening on %s (ctrl-c to stop)\n", server.BaseURL())
	rt.logbook.Info("Bridge · listening on %s", server.BaseURL())

	<-ctx.Done()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown bridge: %w", err)
	}
	fmt.Println("Bridge stopped.")
	return nil
}
