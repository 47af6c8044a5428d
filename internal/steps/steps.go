package steps

import (
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps/app_restart"
	"github.com/yourusername/pylift/internal/steps/deps_install"
	"github.com/yourusername/pylift/internal/steps/env_backup"
	"github.com/yourusername/pylift/internal/steps/env_create"
	"github.com/yourusername/pylift/internal/steps/interpreter_check"
	"github.com/yourusername/pylift/internal/steps/version_verify"
)

// RegisterBuiltins installs all of the built-in step factories into the
// provided registry.
func RegisterBuiltins(reg *step.Registry) {
	if reg == nil {
		return
	}
	interpreter_check.Register(reg)
	env_backup.Register(reg)
	env_create.Register(reg)
	deps_install.Register(reg)
	version_verify.Register(reg)
	app_restart.Register(reg)
}
