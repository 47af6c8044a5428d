package runbook

// DefaultRunbookID names the built-in environment upgrade runbook.
const DefaultRunbookID = "upgrade-env"

// UpgradeEnvDefinition returns the built-in runbook that moves a project's
// virtualenv onto the configured target interpreter and restarts the app.
// Projects can override it by dropping an upgrade-env.yaml into
// .pylift/runbooks/.
func UpgradeEnvDefinition() RunbookDefinition {
	def := RunbookDefinition{
		ID:          DefaultRunbookID,
		Name:        "Environment Upgrade",
		Description: "Move the virtualenv to the target Python and bring the app back up",
		Steps: []StepRef{
			{
				StepID:      "interpreter-check",
				Name:        "Locate Target Interpreter",
				Description: "Resolve a host interpreter matching the configured version",
			},
			{
				StepID:      "env-backup",
				Name:        "Back Up Old Environment",
				Description: "Move the existing virtualenv aside before replacing it",
				DependsOn:   []string{"interpreter-check"},
				Gated:       true,
			},
			{
				StepID:      "env-create",
				Name:        "Create New Environment",
				Description: "Build a fresh virtualenv on the target interpreter",
				DependsOn:   []string{"env-backup"},
			},
			{
				StepID:      "deps-install",
				Name:        "Install Dependencies",
				Description: "Install the pinned requirements into the new environment",
				DependsOn:   []string{"env-create"},
			},
			{
				StepID:      "version-verify",
				Name:        "Verify Interpreter Version",
				Description: "Confirm the environment reports the expected Python version",
				DependsOn:   []string{"deps-install"},
				Gated:       true,
			},
			{
				StepID:      "app-restart",
				Name:        "Restart App",
				Description: "Restart the Streamlit app on the upgraded environment",
				DependsOn:   []string{"version-verify"},
			},
		},
		Metadata: map[string]string{
			"builtin": "true",
		},
	}
	normalized, err := def.Normalized()
	if err != nil {
		// The built-in definition is fixed at compile time; a validation
		// failure here is a programming error.
		panic(err)
	}
	return normalized
}
