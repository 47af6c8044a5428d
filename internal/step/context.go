package step

import (
	"context"

	"github.com/yourusername/pylift/internal/app"
	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/logbook"
	"github.com/yourusername/pylift/internal/runbook"
)

// StepContext carries shared runtime dependencies into every step.
type StepContext struct {
	Ctx        context.Context
	Config     *config.Config
	Runbook    *runbook.Runbook
	Supervisor *app.Supervisor
	Logbook    *logbook.Logbook
	Artifacts  *artifact.Store
	OriginMode string
}

// NewContext builds a StepContext with a fresh artifact store.
func NewContext(cfg *config.Config, rb *runbook.Runbook, sup *app.Supervisor, lb *logbook.Logbook) *StepContext {
	return &StepContext{
		Ctx:        context.Background(),
		Config:     cfg,
		Runbook:    rb,
		Supervisor: sup,
		Logbook:    lb,
		Artifacts:  artifact.NewStore(rb),
	}
}

// Context returns the ambient context, defaulting to Background.
func (ctx *StepContext) Context() context.Context {
	if ctx.Ctx == nil {
		return context.Background()
	}
	return ctx.Ctx
}

// WithContext attaches a cancellation context for subprocess work.
func (ctx *StepContext) WithContext(c context.Context) *StepContext {
	clone := *ctx
	clone.Ctx = c
	return &clone
}

// WithArtifacts allows dependency injection of a pre-built store.
func (ctx *StepContext) WithArtifacts(store *artifact.Store) *StepContext {
	clone := *ctx
	clone.Artifacts = store
	return &clone
}

// WithMode records which surface triggered the invocation (tui, cli, watch).
func (ctx *StepContext) WithMode(name string) *StepContext {
	clone := *ctx
	clone.OriginMode = name
	return &clone
}
