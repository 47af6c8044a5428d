package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/pylift/internal/artifact"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/step"
)

// NodeState represents the resolver's understanding of a step's readiness.
type NodeState string

const (
	NodeStateUnknown  NodeState = "unknown"
	NodeStatePending  NodeState = "pending"
	NodeStateReady    NodeState = "ready"
	NodeStateBlocked  NodeState = "blocked"
	NodeStateComplete NodeState = "complete"
	NodeStateError    NodeState = "error"
)

// Node captures a runbook step instance plus its dependency metadata.
type Node struct {
	ID           string
	Ref          runbook.StepRef
	Step         step.Step
	Dependencies []string
	Dependents   []string

	State     NodeState
	BlockedBy []string
	Err       error

	Artifacts    map[string]ArtifactReport
	fingerprints map[string]string
}

// ArtifactReport captures the resolver's understanding of an output artifact.
type ArtifactReport struct {
	Ref                 artifact.ArtifactRef
	Status              step.ArtifactStatus
	Metadata            *artifact.Metadata
	Err                 error
	StoredFingerprint   string
	ExpectedFingerprint string
}

// Resolver builds and evaluates the runbook dependency graph.
type Resolver struct {
	definition runbook.RunbookDefinition
	nodes      map[string]*Node
	orderedIDs []string
}

// New constructs a resolver for the provided runbook definition. Steps are
// instantiated via the registry immediately so downstream code can run them.
func New(def runbook.RunbookDefinition, registry *step.Registry) (*Resolver, error) {
	if registry == nil {
		return nil, fmt.Errorf("runbook: step registry is required")
	}
	normalized, err := def.Normalized()
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*Node, len(normalized.Steps))
	ordered := make([]string, 0, len(normalized.Steps))
	for _, ref := range normalized.Steps {
		id := ref.InstanceID()
		built, err := registry.Resolve(ref.StepID, convertConfig(ref.Config))
		if err != nil {
			return nil, fmt.Errorf("runbook %s step %s: %w", normalized.ID, id, err)
		}
		node := &Node{
			ID:           id,
			Ref:          ref,
			Step:         built,
			Dependencies: normalized.Dependencies(id),
		}
		nodes[id] = node
		ordered = append(ordered, id)
	}
	for _, node := range nodes {
		for _, depID := range node.Dependencies {
			dep, ok := nodes[depID]
			if !ok {
				return nil, fmt.Errorf("runbook %s: dependency %s referenced by %s not declared", normalized.ID, depID, node.ID)
			}
			dep.Dependents = append(dep.Dependents, node.ID)
		}
	}
	for _, node := range nodes {
		if len(node.Dependents) > 1 {
			sort.Strings(node.Dependents)
		}
	}
	return &Resolver{
		definition: normalized,
		nodes:      nodes,
		orderedIDs: ordered,
	}, nil
}

// Definition returns a clone of the resolver's runbook definition.
func (r *Resolver) Definition() runbook.RunbookDefinition {
	return r.definition.Clone()
}

// Nodes returns the nodes in runbook declaration order.
func (r *Resolver) Nodes() []*Node {
	out := make([]*Node, 0, len(r.orderedIDs))
	for _, id := range r.orderedIDs {
		if node, ok := r.nodes[id]; ok {
			out = append(out, node)
		}
	}
	return out
}

// Node retrieves a specific step node by runbook instance ID.
func (r *Resolver) Node(id string) (*Node, bool) {
	node, ok := r.nodes[id]
	return node, ok
}

// Refresh re-evaluates step completion status and dependency readiness using
// the provided step context. Callers should invoke Refresh before querying for
// runnable steps to ensure the snapshot reflects on-disk artifacts.
func (r *Resolver) Refresh(ctx *step.StepContext) error {
	if ctx == nil {
		return fmt.Errorf("runbook: step context is required")
	}
	for _, node := range r.nodes {
		node.Err = nil
		node.BlockedBy = nil
		node.Artifacts = nil
		node.fingerprints = nil
		node.State = NodeStateUnknown
		if fpProvider, ok := node.Step.(step.Fingerprinter); ok {
			fingerprints, err := fpProvider.ArtifactFingerprints(ctx)
			if err != nil {
				node.State = NodeStateError
				node.Err = fmt.Errorf("runbook: fingerprints for %s: %w", node.ID, err)
				continue
			}
			if len(fingerprints) > 0 {
				node.fingerprints = fingerprints
			}
		}
		complete, err := node.Step.IsComplete(ctx)
		if err != nil {
			node.State = NodeStateError
			node.Err = err
			continue
		}
		if complete {
			node.State = NodeStateComplete
		} else {
			node.State = NodeStatePending
		}
	}
	for _, node := range r.nodes {
		if node.State == NodeStateError {
			continue
		}
		r.refreshArtifacts(ctx, node)
		if node.State == NodeStateComplete && node.hasArtifactIssues() {
			node.State = NodeStatePending
		}
	}
	for _, node := range r.nodes {
		if node.State == NodeStateComplete || node.State == NodeStateError {
			continue
		}
		blockers := r.blockers(node)
		if len(blockers) == 0 {
			node.State = NodeStateReady
		} else {
			node.State = NodeStateBlocked
			node.BlockedBy = blockers
		}
	}
	return nil
}

// Ready returns nodes that are runnable because all dependencies are complete.
func (r *Resolver) Ready() []*Node {
	var ready []*Node
	for _, id := range r.orderedIDs {
		node := r.nodes[id]
		if node.State == NodeStateReady {
			ready = append(ready, node)
		}
	}
	return ready
}

// Queue returns steps that must run to satisfy the requested targets. If no
// targets are provided, every incomplete step is considered. Dependencies are
// returned before the steps that require them, and already-complete steps are
// skipped.
func (r *Resolver) Queue(targets ...string) ([]*Node, error) {
	if len(targets) == 0 {
		targets = append([]string{}, r.orderedIDs...)
	}
	visited := make(map[string]bool, len(targets))
	ordered := make([]*Node, 0, len(r.nodes))
	var visit func(string) error
	visit = func(id string) error {
		if visited[id] {
			return nil
		}
		node, ok := r.nodes[id]
		if !ok {
			return fmt.Errorf("runbook: unknown step %s", id)
		}
		visited[id] = true
		for _, dep := range node.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		if node.State != NodeStateComplete {
			ordered = append(ordered, node)
		}
		return nil
	}
	for _, id := range targets {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (r *Resolver) blockers(node *Node) []string {
	if len(node.Dependencies) == 0 {
		return nil
	}
	blockers := make([]string, 0, len(node.Dependencies))
	for _, depID := range node.Dependencies {
		dep, ok := r.nodes[depID]
		if !ok || dep.State != NodeStateComplete {
			blockers = append(blockers, depID)
		}
	}
	if len(blockers) == 0 {
		return nil
	}
	return blockers
}

func (r *Resolver) refreshArtifacts(ctx *step.StepContext, node *Node) {
	outputs := node.Step.Outputs()
	if len(outputs) == 0 {
		node.Artifacts = nil
		return
	}
	if node.Artifacts == nil {
		node.Artifacts = make(map[string]ArtifactReport, len(outputs))
	} else {
		for key := range node.Artifacts {
			delete(node.Artifacts, key)
		}
	}
	for _, ref := range outputs {
		report := r.CheckArtifact(ctx, node, ref)
		node.Artifacts[ref.ID] = report
	}
}

func (n *Node) hasArtifactIssues() bool {
	if len(n.Artifacts) == 0 {
		return false
	}
	for _, report := range n.Artifacts {
		switch report.Status {
		case step.ArtifactStatusFresh, step.ArtifactStatusReady:
			continue
		default:
			return true
		}
	}
	return false
}

// hasEnvelope reports whether the artifact kind carries provenance metadata
// that the resolver can compare against the producing step.
func hasEnvelope(kind artifact.Kind) bool {
	switch kind {
	case artifact.KindDocument, artifact.KindJSON:
		return true
	default:
		return false
	}
}

// CheckArtifact evaluates a single artifact and returns its resolver status.
func (r *Resolver) CheckArtifact(ctx *step.StepContext, node *Node, ref artifact.ArtifactRef) ArtifactReport {
	report := ArtifactReport{Ref: ref, Status: step.ArtifactStatusUnknown}
	if ctx == nil || ctx.Artifacts == nil {
		report.Status = step.ArtifactStatusError
		report.Err = fmt.Errorf("runbook: artifact store unavailable")
		r.emitInvalidation(ctx, node, report, step.InvalidationReasonCheckError)
		return report
	}
	result, err := ctx.Artifacts.Check(ref)
	report.Metadata = result.Metadata
	if err != nil {
		report.Err = err
	}
	switch result.State {
	case artifact.StateMissing:
		report.Status = step.ArtifactStatusMissing
		r.emitInvalidation(ctx, node, report, step.InvalidationReasonMissing)
	case artifact.StateInvalid:
		if report.Err == nil {
			report.Err = result.Err
		}
		report.Status = step.ArtifactStatusInvalid
		r.emitInvalidation(ctx, node, report, step.InvalidationReasonInvalidMetadata)
	case artifact.StateError:
		if report.Err == nil {
			report.Err = result.Err
		}
		if report.Err == nil {
			report.Err = fmt.Errorf("runbook: %s encountered an unknown error", ref.ID)
		}
		report.Status = step.ArtifactStatusError
		r.emitInvalidation(ctx, node, report, step.InvalidationReasonCheckError)
	case artifact.StateReady:
		// Markers, directories, and opaque files carry no envelope; existing
		// on disk is as fresh as they get.
		if !hasEnvelope(ref.Kind) {
			report.Status = step.ArtifactStatusReady
			break
		}
		info := node.Step.Info()
		meta := result.Metadata
		if meta == nil {
			report.Status = step.ArtifactStatusInvalid
			report.Err = fmt.Errorf("runbook: %s missing metadata", ref.ID)
			r.emitInvalidation(ctx, node, report, step.InvalidationReasonInvalidMetadata)
			break
		}
		if meta.StepID != info.ID {
			report.Status = step.ArtifactStatusInvalid
			report.Err = fmt.Errorf("runbook: %s created by %s expected %s", ref.ID, meta.StepID, info.ID)
			r.emitInvalidation(ctx, node, report, step.InvalidationReasonInvalidMetadata)
			break
		}
		if meta.Version != info.Version {
			report.Status = step.ArtifactStatusOutdated
			r.emitInvalidation(ctx, node, report, step.InvalidationReasonVersionMismatch)
			break
		}
		expected, hasExpected, fpErr := r.expectedFingerprint(ctx, node, ref)
		if fpErr != nil {
			report.Status = step.ArtifactStatusError
			report.Err = fpErr
			r.emitInvalidation(ctx, node, report, step.InvalidationReasonCheckError)
			break
		}
		if !hasExpected {
			report.Status = step.ArtifactStatusReady
			break
		}
		stored := fingerprintFromMetadata(meta, ref.ID)
		report.ExpectedFingerprint = expected
		report.StoredFingerprint = stored
		if strings.TrimSpace(stored) == "" {
			report.Status = step.ArtifactStatusReady
			break
		}
		if stored != expected {
			report.Status = step.ArtifactStatusOutdated
			r.emitInvalidation(ctx, node, report, step.InvalidationReasonFingerprint)
			break
		}
		report.Status = step.ArtifactStatusFresh
	default:
		report.Status = step.ArtifactStatusUnknown
	}
	return report
}

func (r *Resolver) expectedFingerprint(ctx *step.StepContext, node *Node, ref artifact.ArtifactRef) (string, bool, error) {
	if node == nil {
		return "", false, nil
	}
	if node.fingerprints == nil {
		provider, ok := node.Step.(step.Fingerprinter)
		if !ok {
			return "", false, nil
		}
		fingerprints, err := provider.ArtifactFingerprints(ctx)
		if err != nil {
			return "", false, err
		}
		node.fingerprints = fingerprints
	}
	value, ok := node.fingerprints[ref.ID]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return value, true, nil
}

func fingerprintFromMetadata(meta *artifact.Metadata, artifactID string) string {
	if meta == nil || len(meta.Notes) == 0 {
		return ""
	}
	return meta.Notes[step.FingerprintNoteKey(artifactID)]
}

func (r *Resolver) emitInvalidation(ctx *step.StepContext, node *Node, report ArtifactReport, reason step.ArtifactInvalidationReason) {
	handler, ok := node.Step.(step.ArtifactInvalidationHandler)
	if !ok {
		return
	}
	event := step.ArtifactInvalidation{
		Artifact:            report.Ref,
		Status:              report.Status,
		Reason:              reason,
		StoredFingerprint:   report.StoredFingerprint,
		ExpectedFingerprint: report.ExpectedFingerprint,
		Metadata:            report.Metadata,
		Err:                 report.Err,
	}
	if err := handler.OnArtifactInvalidation(ctx, event); err != nil {
		node.State = NodeStateError
		node.Err = err
	}
}

func convertConfig(cfg runbook.StepConfig) step.Config {
	if len(cfg) == 0 {
		return nil
	}
	out := make(step.Config, len(cfg))
	for key, value := range cfg {
		out[key] = value
	}
	return out
}
