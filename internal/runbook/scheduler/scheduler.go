package scheduler

import (
	"fmt"

	"github.com/yourusername/pylift/internal/runbook/resolver"
)

// Scheduler decides which runbook steps may start right now. It walks the
// resolver's dependency-ordered queue and admits steps until the configured
// parallel capacity runs out, holding back anything still blocked, already
// claimed by an executor, or waiting on operator approval.
type Scheduler struct {
	resolver *resolver.Resolver
}

// New wires a Scheduler to a resolver snapshot.
func New(res *resolver.Resolver) (*Scheduler, error) {
	if res == nil {
		return nil, fmt.Errorf("runbook: scheduler requires a resolver")
	}
	return &Scheduler{resolver: res}, nil
}

// RunnableRequest carries the runtime facts an admission pass depends on.
type RunnableRequest struct {
	// Targets narrows scheduling to the named steps and their dependencies.
	// Empty means the whole runbook.
	Targets []string
	// MaxParallel caps how many steps may be active at once, counting the
	// entries in Running. Values <= 0 disable the cap.
	MaxParallel int
	// Running lists step instance IDs currently claimed by an executor so
	// they are not dispatched twice.
	Running []string
	// ManualGates maps step instance IDs to their approval state.
	ManualGates map[string]ManualGateState
}

// ManualGateState records whether an operator must approve a step before it
// runs, and whether they already have.
type ManualGateState struct {
	Required bool
	Approved bool
	Note     string
}

// RunnableBatch is the outcome of one admission pass: the steps that may
// start now, plus the reason each remaining queued step was held back.
type RunnableBatch struct {
	Nodes   []*resolver.Node
	Skipped map[string]SkipReason
}

// SkipReason explains why a queued step was not admitted.
type SkipReason struct {
	Reason SkipReasonCode
	Detail string
}

// SkipReasonCode enumerates scheduler skip reasons.
type SkipReasonCode string

const (
	SkipReasonNotReady    SkipReasonCode = "not-ready"
	SkipReasonManualGate  SkipReasonCode = "manual-gate"
	SkipReasonConcurrency SkipReasonCode = "concurrency"
	SkipReasonActive      SkipReasonCode = "already-running"
)

// Runnable performs one admission pass over the queue for req.Targets. Every
// queued step lands either in Nodes or in Skipped, so callers can surface why
// a run is not making progress.
func (s *Scheduler) Runnable(req RunnableRequest) (RunnableBatch, error) {
	queue, err := s.resolver.Queue(req.Targets...)
	if err != nil {
		return RunnableBatch{}, err
	}
	running := claimSet(req.Running)
	capacity := req.capacity(len(running))
	batch := RunnableBatch{}
	for _, node := range queue {
		if reason := hold(node, running, req.ManualGates); reason != nil {
			batch.skip(node.ID, *reason)
			continue
		}
		if capacity == 0 {
			batch.skip(node.ID, SkipReason{
				Reason: SkipReasonConcurrency,
				Detail: fmt.Sprintf("max parallel %d reached", req.MaxParallel),
			})
			continue
		}
		batch.Nodes = append(batch.Nodes, node)
		if capacity > 0 {
			capacity--
		}
	}
	return batch, nil
}

// hold reports why a queued step cannot start, or nil when it is admissible.
func hold(node *resolver.Node, running map[string]struct{}, gates map[string]ManualGateState) *SkipReason {
	if _, claimed := running[node.ID]; claimed {
		return &SkipReason{Reason: SkipReasonActive, Detail: "step already running"}
	}
	if node.State != resolver.NodeStateReady {
		return &SkipReason{Reason: SkipReasonNotReady, Detail: string(node.State)}
	}
	if gate, ok := gates[node.ID]; ok && gate.Required && !gate.Approved {
		note := gate.Note
		if note == "" {
			note = "awaiting manual approval"
		}
		return &SkipReason{Reason: SkipReasonManualGate, Detail: note}
	}
	return nil
}

// capacity returns how many more steps may start. A negative value means
// unlimited; zero means every claim slot is already held.
func (req RunnableRequest) capacity(runningCount int) int {
	if req.MaxParallel <= 0 {
		return -1
	}
	remaining := req.MaxParallel - runningCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

func claimSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

func (b *RunnableBatch) skip(id string, reason SkipReason) {
	if id == "" {
		return
	}
	if b.Skipped == nil {
		b.Skipped = make(map[string]SkipReason)
	}
	b.Skipped[id] = reason
}
