// Package scheduler performs the admission step between the dependency
// resolver and the runbook engine: given a resolver snapshot plus the live
// runtime facts (active claims, parallel cap, manual gate approvals) it
// decides which upgrade steps may start now and why the rest must wait.
package scheduler
