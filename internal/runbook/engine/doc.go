// Package engine ties the runbook resolver and scheduler together. It exposes
// a persistence-backed engine that can start new runbook runs, resume
// existing ones, and incrementally update scheduler decisions as steps
// complete or fail.
package engine
