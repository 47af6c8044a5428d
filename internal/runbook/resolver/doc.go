// Package resolver contains the dependency resolver core for step-based
// runbooks. It inspects runbook definitions, instantiates steps from the
// registry, and evaluates dependency readiness for the runbook engine.
package resolver
