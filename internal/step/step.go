package step

import (
	"fmt"

	"github.com/yourusername/pylift/internal/artifact"
)

// Info describes a step's identity and intent.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
	Concurrency ConcurrencyProfile
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("step: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("step: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("step: version is required for %s", i.ID)
	}
	if err := i.Concurrency.validate(i.ID); err != nil {
		return err
	}
	return nil
}

// ConcurrencyProfile declares how many scheduler slots a step consumes and
// whether it requires exclusive execution.
type ConcurrencyProfile struct {
	// Slots describes how many scheduler capacity units are required to execute
	// the step. Zero or negative values default to one slot.
	Slots int
	// Exclusive forces the step to run without any other steps occupying the
	// runbook engine. Env moves and app restarts cannot share the machine state
	// they mutate.
	Exclusive bool
}

func (p ConcurrencyProfile) slotsOrDefault() int {
	if p.Slots <= 0 {
		return 1
	}
	return p.Slots
}

func (p ConcurrencyProfile) validate(stepID string) error {
	if p.Slots < 0 {
		return fmt.Errorf("step: concurrency slots must be >= 0 for %s", stepID)
	}
	return nil
}

// SlotCost returns how many scheduler slots the step consumes simultaneously.
func (i Info) SlotCost() int {
	return i.Concurrency.slotsOrDefault()
}

// RequiresExclusiveExecution reports whether the step must run without other
// concurrent steps.
func (i Info) RequiresExclusiveExecution() bool {
	return i.Concurrency.Exclusive
}

// Result captures the outcome of a step execution.
type Result struct {
	Status  Status
	Message string
}

// Status enumerates step run outcomes.
type Status string

const (
	StatusCompleted  Status = "completed"
	StatusNoOp       Status = "no-op"
	StatusNeedsInput Status = "needs-input"
	StatusFailed     Status = "failed"
)

// Step is implemented by every runtime unit.
type Step interface {
	Info() Info
	Inputs() []artifact.ArtifactRef
	Outputs() []artifact.ArtifactRef
	IsComplete(ctx *StepContext) (bool, error)
	Run(ctx *StepContext) (Result, error)
}
