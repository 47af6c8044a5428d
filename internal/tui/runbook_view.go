package tui

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/engine"
	"github.com/yourusername/pylift/internal/runbook/scheduler"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/steps"
	"github.com/yourusername/pylift/plugins"
)

const engineRefreshInterval = 5 * time.Second

var (
	labelStyleReady   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleGate    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleSkipped = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

type runbookView struct {
	app             *App
	stepCtx         *step.StepContext
	registry        *step.Registry
	engine          *engine.Engine
	runbookID       string
	definition      runbook.RunbookDefinition
	stepRefs        map[string]runbook.StepRef
	state           engine.State
	stateLoaded     bool
	err             error
	selection       int
	running         map[string]struct{}
	manualGates     map[string]scheduler.ManualGateState
	targets         []string
	loader          RunbookDefinitionLoader
	registryFactory func(*config.Config) (*step.Registry, error)
	finished        bool
}

type stepLabel struct {
	text  string
	style lipgloss.Style
}

type runbookInitMsg struct {
	state engine.State
	err   error
}

type runbookStateMsg struct {
	state engine.State
	err   error
}

type engineRefreshRequest struct{}

type stepRunFinishedMsg struct {
	id     string
	result step.Result
	err    error
}

type workClaimMsg struct {
	result engine.ClaimResult
	err    error
}

type runbookFinishedMsg struct {
	RunbookID string
	RunID     string
	Status    engine.EngineStatus
	Reason    string
}

func newRunbookView(app *App, runbookID string) *runbookView {
	id := strings.TrimSpace(runbookID)
	if id == "" {
		id = strings.TrimSpace(app.config.DefaultRunbook())
	}
	if id == "" {
		id = runbook.DefaultRunbookID
	}
	view := &runbookView{
		app:         app,
		runbookID:   id,
		running:     map[string]struct{}{},
		manualGates: map[string]scheduler.ManualGateState{},
	}
	view.loader = app.runbookLoader
	view.registryFactory = app.registryFactory
	return view
}

func (v *runbookView) Init(resume bool) tea.Cmd {
	return func() tea.Msg {
		state, err := v.bootstrap(resume)
		return runbookInitMsg{state: state, err: err}
	}
}

func (v *runbookView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case runbookInitMsg:
		if m.err != nil {
			v.err = m.err
			v.setStatus(fmt.Sprintf("Runbook error: %v", m.err))
			return nil
		}
		v.err = nil
		v.stateLoaded = true
		cmd := v.applyState(m.state)
		v.setStatus("Runbook engine ready")
		if v.finished {
			return cmd
		}
		refresh := v.scheduleRefresh()
		if cmd != nil && refresh != nil {
			return tea.Batch(cmd, refresh)
		}
		if cmd != nil {
			return cmd
		}
		return refresh
	case runbookStateMsg:
		if m.err != nil {
			v.err = m.err
			v.setStatus(fmt.Sprintf("Engine update failed: %v", m.err))
			return nil
		}
		v.err = nil
		return v.applyState(m.state)
	case engineRefreshRequest:
		if !v.stateLoaded || v.finished {
			return nil
		}
		refresh := v.refreshEngineState()
		schedule := v.scheduleRefresh()
		if refresh != nil && schedule != nil {
			return tea.Batch(refresh, schedule)
		}
		if refresh != nil {
			return refresh
		}
		return schedule
	case stepRunFinishedMsg:
		return v.handleStepRunFinished(m)
	case workClaimMsg:
		if m.err != nil {
			v.err = m.err
			v.setStatus(fmt.Sprintf("Claim failed: %v", m.err))
			return nil
		}
		v.err = nil
		cmd := v.applyState(m.result.State)
		if len(m.result.Claims) == 0 {
			v.setStatus("No runnable steps satisfied the request")
			return cmd
		}
		launch := v.launchClaims(m.result.Claims)
		if cmd != nil && launch != nil {
			return tea.Batch(cmd, launch)
		}
		if cmd != nil {
			return cmd
		}
		return launch
	case tea.KeyMsg:
		return v.handleKeyMsg(m)
	default:
		return nil
	}
}

func (v *runbookView) View() string {
	if v.err != nil {
		return fmt.Sprintf("Runbook error: %v", v.err)
	}
	if !v.stateLoaded {
		return "Preparing runbook engine…"
	}
	statusLine := fmt.Sprintf("Runbook: %s · Status: %s", v.state.RunbookID, friendlyLabel(string(v.state.Status)))
	if v.state.StatusReason != "" {
		statusLine += fmt.Sprintf(" · %s", v.state.StatusReason)
	}
	lines := []string{statusLine, fmt.Sprintf("Ready steps: %d", len(v.state.Runnable)), ""}
	for i, node := range v.state.Nodes {
		lines = append(lines, v.renderStepLine(i, node))
		if i == v.selection {
			lines = append(lines, v.renderStepDetails(node))
		}
	}
	lines = append(lines,
		"",
		"enter=run  r=refresh  s=skip optional  g=toggle gate  a=approve gate",
		"esc=back to menu",
	)
	return strings.Join(lines, "\n")
}

func (v *runbookView) renderStepLine(idx int, node engine.StepStatus) string {
	indicator := " "
	if idx == v.selection {
		indicator = ">"
	}
	name := node.Name
	if strings.TrimSpace(name) == "" {
		name = node.ID
	}
	labelSpecs := v.stepLabelSpecs(node)
	if len(labelSpecs) == 0 {
		labelSpecs = []stepLabel{{text: "Unknown", style: labelStyleDefault}}
	}
	rendered := make([]string, 0, len(labelSpecs))
	for _, spec := range labelSpecs {
		rendered = append(rendered, spec.style.Render(spec.text))
	}
	return fmt.Sprintf("%s %s · [%s]", indicator, name, strings.Join(rendered, ", "))
}

func (v *runbookView) renderStepDetails(node engine.StepStatus) string {
	var details []string
	if node.Description != "" {
		details = append(details, node.Description)
	}
	if len(node.BlockedBy) > 0 {
		details = append(details, fmt.Sprintf("Blocked by: %s", strings.Join(node.BlockedBy, ", ")))
	}
	if run, ok := v.state.Runs[node.ID]; ok {
		runLine := fmt.Sprintf("Last run: %s", run.Status)
		if run.Message != "" {
			runLine += fmt.Sprintf(" · %s", run.Message)
		}
		if run.Error != "" {
			runLine += fmt.Sprintf(" · error: %s", run.Error)
		}
		details = append(details, runLine)
	}
	if len(details) == 0 {
		return detailTextStyle.Render("  no additional details")
	}
	body := "  " + strings.Join(details, "\n  ")
	return detailTextStyle.Render(body)
}

func (v *runbookView) stepLabelSpecs(node engine.StepStatus) []stepLabel {
	var specs []stepLabel
	add := func(text string, style lipgloss.Style) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		for _, existing := range specs {
			if existing.text == text {
				return
			}
		}
		specs = append(specs, stepLabel{text: text, style: style})
	}
	stateText := friendlyLabel(string(node.State))
	add(stateText, labelStyleForState(string(node.State)))
	if v.isRunnable(node.ID) {
		add("Ready", labelStyleReady)
	}
	if _, ok := v.running[node.ID]; ok {
		add("Running", labelStyleRunning)
	}
	if gate, ok := v.manualGates[node.ID]; ok && gate.Required {
		label := "Gate Pending"
		style := labelStyleGate
		if gate.Approved {
			label = "Gate Approved"
			style = labelStyleReady
		}
		add(label, style)
	}
	if skip, ok := v.state.Skipped[node.ID]; ok {
		detail := strings.TrimSpace(skip.Detail)
		label := "Skipped"
		if detail != "" {
			label = fmt.Sprintf("Skipped (%s)", friendlyLabel(detail))
		}
		add(label, labelStyleSkipped)
	}
	return specs
}

func labelStyleForState(state string) lipgloss.Style {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ready":
		return labelStyleReady
	case "blocked":
		return labelStyleBlocked
	case "running":
		return labelStyleRunning
	case "skipped":
		return labelStyleSkipped
	default:
		return labelStyleDefault
	}
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func (v *runbookView) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "up", "k":
		if v.selection > 0 {
			v.selection--
		}
	case "down", "j":
		if v.selection < len(v.state.Nodes)-1 {
			v.selection++
		}
	case "enter":
		return v.runSelectedStep()
	case "r":
		return v.refreshEngineState()
	case "s":
		if v.skipSelectedStep() {
			return v.syncRuntime()
		}
	case "g":
		if v.toggleGateRequirement() {
			return v.syncRuntime()
		}
	case "a":
		return v.approveSelectedGate()
	}
	return nil
}

func (v *runbookView) ensureRuntime() error {
	if v.stepCtx == nil {
		v.stepCtx = step.NewContext(v.app.config, v.app.runbook, v.app.supervisor, v.app.logbook)
	}
	if v.registry == nil {
		factory := v.registryFactory
		if factory == nil {
			factory = defaultStepRegistryFactory
		}
		reg, err := factory(v.app.config)
		if err != nil {
			return err
		}
		v.registry = reg
	}
	if v.engine == nil {
		repo := engine.NewRepository(v.app.runbook)
		eng, err := engine.New(v.registry, repo)
		if err != nil {
			return err
		}
		v.engine = eng
	}
	if v.loader == nil {
		v.loader = defaultRunbookLoader
	}
	return nil
}

func (v *runbookView) bootstrap(resume bool) (engine.State, error) {
	if err := v.ensureRuntime(); err != nil {
		return engine.State{}, err
	}
	if resume {
		state, err := v.engine.Resume(v.stepCtx, engine.ResumeRequest{Runtime: v.runtimeOverrides()})
		if err != nil {
			if errors.Is(err, engine.ErrStateNotFound) {
				resume = false
			} else {
				return engine.State{}, err
			}
		} else {
			return state, nil
		}
	}
	def := v.definition
	if def.ID == "" {
		loaded, err := v.loader(v.app.config, v.runbookID)
		if err != nil {
			return engine.State{}, err
		}
		def = loaded
	}
	state, err := v.engine.Start(v.stepCtx, engine.StartRequest{Definition: def})
	if err != nil {
		return engine.State{}, err
	}
	return state, nil
}

func (v *runbookView) runSelectedStep() tea.Cmd {
	if !v.stateLoaded || len(v.state.Nodes) == 0 {
		return nil
	}
	node := v.state.Nodes[v.selection]
	if _, ok := v.running[node.ID]; ok {
		v.setStatus(fmt.Sprintf("%s is already running", node.Name))
		return nil
	}
	if !v.isRunnable(node.ID) {
		v.setStatus(fmt.Sprintf("%s is not ready", node.Name))
		return nil
	}
	return v.claimSteps([]string{node.ID})
}

func (v *runbookView) claimSteps(ids []string) tea.Cmd {
	if v.engine == nil {
		return nil
	}
	requested := cloneIDs(ids)
	limit := len(requested)
	if limit == 0 {
		limit = 1
	}
	overrides := v.runtimeOverrides()
	return func() tea.Msg {
		result, err := v.engine.Claim(v.stepCtx, engine.ClaimRequest{
			Runtime: overrides,
			Limit:   limit,
			Steps:   requested,
		})
		return workClaimMsg{result: result, err: err}
	}
}

func (v *runbookView) launchClaims(claims []engine.WorkClaim) tea.Cmd {
	if len(claims) == 0 {
		return nil
	}
	cmds := make([]tea.Cmd, 0, len(claims))
	for _, claim := range claims {
		ref, ok := v.stepRefs[claim.ID]
		if !ok {
			v.setStatus(fmt.Sprintf("Step %s is undefined", claim.ID))
			continue
		}
		resolved, err := v.registry.Resolve(ref.StepID, convertStepConfig(ref.Config))
		if err != nil {
			v.setStatus(fmt.Sprintf("Resolve %s: %v", claim.Name, err))
			continue
		}
		cmds = append(cmds, v.executeStep(claim.ID, resolved))
	}
	if len(cmds) == 0 {
		return nil
	}
	return tea.Batch(cmds...)
}

func (v *runbookView) executeStep(id string, s step.Step) tea.Cmd {
	ctx := v.stepCtx.WithMode("runbook-engine")
	return func() tea.Msg {
		result, err := s.Run(ctx)
		return stepRunFinishedMsg{id: id, result: result, err: err}
	}
}

func (v *runbookView) handleStepRunFinished(msg stepRunFinishedMsg) tea.Cmd {
	if v.engine == nil {
		return nil
	}
	update := engine.StepStatusUpdate{
		ID:         msg.id,
		Result:     msg.result,
		Err:        msg.err,
		FinishedAt: time.Now(),
	}
	result := msg.result
	if result.Status == "" {
		if msg.err != nil {
			result.Status = step.StatusFailed
		} else {
			result.Status = step.StatusCompleted
		}
		update.Result = result
	}
	state, err := v.engine.Update(v.stepCtx, engine.UpdateRequest{
		Runtime: v.runtimeOverrides(),
		Results: []engine.StepStatusUpdate{update},
	})
	if err != nil {
		v.setStatus(fmt.Sprintf("Engine update failed: %v", err))
		return nil
	}
	return v.applyState(state)
}

func (v *runbookView) refreshEngineState() tea.Cmd {
	if v.engine == nil || v.finished {
		return nil
	}
	return func() tea.Msg {
		state, err := v.engine.Update(v.stepCtx, engine.UpdateRequest{Runtime: v.runtimeOverrides()})
		return runbookStateMsg{state: state, err: err}
	}
}

func (v *runbookView) scheduleRefresh() tea.Cmd {
	if v.engine == nil || v.finished {
		return nil
	}
	return tea.Tick(engineRefreshInterval, func(time.Time) tea.Msg {
		return engineRefreshRequest{}
	})
}

func (v *runbookView) skipSelectedStep() bool {
	if len(v.state.Nodes) == 0 {
		return false
	}
	node := v.state.Nodes[v.selection]
	ref, ok := v.stepRefs[node.ID]
	if !ok || !ref.Optional {
		v.setStatus(fmt.Sprintf("%s cannot be skipped", node.Name))
		return false
	}
	if len(v.targets) == 0 {
		return false
	}
	updated := make([]string, 0, len(v.targets))
	removed := false
	for _, id := range v.targets {
		if id == node.ID {
			removed = true
			continue
		}
		updated = append(updated, id)
	}
	if !removed {
		v.setStatus(fmt.Sprintf("%s already skipped", node.Name))
		return false
	}
	v.targets = updated
	v.setStatus(fmt.Sprintf("Skipped optional step %s", node.Name))
	return true
}

func (v *runbookView) toggleGateRequirement() bool {
	node := v.currentNode()
	if node == nil {
		return false
	}
	gate := v.manualGates[node.ID]
	gate.Required = !gate.Required
	if !gate.Required {
		gate.Approved = false
		gate.Note = ""
	}
	if v.manualGates == nil {
		v.manualGates = map[string]scheduler.ManualGateState{}
	}
	v.manualGates[node.ID] = gate
	if gate.Required {
		v.setStatus(fmt.Sprintf("Manual approval required for %s", node.Name))
	} else {
		v.setStatus(fmt.Sprintf("Manual gate removed for %s", node.Name))
	}
	return true
}

// approveSelectedGate records operator sign-off through the engine so the
// approval survives restarts.
func (v *runbookView) approveSelectedGate() tea.Cmd {
	node := v.currentNode()
	if node == nil || v.engine == nil {
		return nil
	}
	gate, ok := v.manualGates[node.ID]
	if !ok || !gate.Required {
		v.setStatus("Manual gate not required for this step")
		return nil
	}
	if gate.Approved {
		v.setStatus(fmt.Sprintf("%s already approved", node.Name))
		return nil
	}
	id := node.ID
	name := node.Name
	v.setStatus(fmt.Sprintf("Approving %s…", name))
	return func() tea.Msg {
		state, err := v.engine.Approve(v.stepCtx, id, "approved from board")
		return runbookStateMsg{state: state, err: err}
	}
}

func (v *runbookView) currentNode() *engine.StepStatus {
	if !v.stateLoaded || len(v.state.Nodes) == 0 {
		return nil
	}
	if v.selection < 0 {
		v.selection = 0
	}
	if v.selection >= len(v.state.Nodes) {
		v.selection = len(v.state.Nodes) - 1
	}
	return &v.state.Nodes[v.selection]
}

func (v *runbookView) installDefinition(def runbook.RunbookDefinition) {
	if len(def.Steps) == 0 {
		return
	}
	refs := make(map[string]runbook.StepRef, len(def.Steps))
	for _, ref := range def.Steps {
		refs[ref.InstanceID()] = ref
	}
	v.definition = def
	v.stepRefs = refs
	if len(v.targets) == 0 {
		v.targets = def.StepIDs()
	}
}

func (v *runbookView) installRuntimeState(state engine.State) {
	v.running = map[string]struct{}{}
	for _, id := range state.Runtime.Running {
		if strings.TrimSpace(id) == "" {
			continue
		}
		v.running[id] = struct{}{}
	}
	if len(state.Runtime.ManualGates) > 0 {
		v.manualGates = cloneGates(state.Runtime.ManualGates)
	}
	if len(state.Runtime.Targets) > 0 {
		v.targets = cloneIDs(state.Runtime.Targets)
	} else if len(v.targets) == 0 && len(state.Definition.Steps) > 0 {
		v.targets = state.Definition.StepIDs()
	}
	if v.selection >= len(state.Nodes) {
		v.selection = max(0, len(state.Nodes)-1)
	}
}

func (v *runbookView) applyState(state engine.State) tea.Cmd {
	v.state = state
	v.installDefinition(state.Definition)
	v.installRuntimeState(state)
	return v.checkForCompletion()
}

func (v *runbookView) checkForCompletion() tea.Cmd {
	if v.finished {
		return nil
	}
	if v.state.Status == engine.EngineStatusComplete {
		return v.runbookFinished("engine-complete")
	}
	if len(v.state.Nodes) == 0 {
		return v.runbookFinished("no-steps")
	}
	return nil
}

func (v *runbookView) runbookFinished(reason string) tea.Cmd {
	if v.finished {
		return nil
	}
	v.finished = true
	status := strings.TrimSpace(string(v.state.Status))
	if status == "" {
		status = "complete"
	}
	v.setStatus(fmt.Sprintf("Runbook finished (%s) · returning to menu", friendlyLabel(status)))
	msg := runbookFinishedMsg{
		RunbookID: v.state.RunbookID,
		RunID:     v.state.RunID,
		Status:    v.state.Status,
		Reason:    reason,
	}
	return func() tea.Msg { return msg }
}

func (v *runbookView) runtimeOverrides() *engine.RuntimeOverrides {
	overrides := &engine.RuntimeOverrides{}
	if len(v.targets) > 0 {
		targets := cloneIDs(v.targets)
		overrides.Targets = &targets
	}
	if len(v.manualGates) > 0 {
		gates := cloneGates(v.manualGates)
		overrides.ManualGates = &gates
	}
	return overrides
}

func (v *runbookView) syncRuntime() tea.Cmd {
	if v.engine == nil {
		return nil
	}
	return func() tea.Msg {
		state, err := v.engine.Update(v.stepCtx, engine.UpdateRequest{Runtime: v.runtimeOverrides()})
		return runbookStateMsg{state: state, err: err}
	}
}

func (v *runbookView) isRunnable(id string) bool {
	for _, runnable := range v.state.Runnable {
		if runnable == id {
			return true
		}
	}
	return false
}

func (v *runbookView) setStatus(message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		return
	}
	v.app.statusMsg = message
	v.app.logProgress(message)
}

func convertStepConfig(cfg runbook.StepConfig) step.Config {
	if len(cfg) == 0 {
		return nil
	}
	out := make(step.Config, len(cfg))
	for key, value := range cfg {
		out[key] = value
	}
	return out
}

func cloneIDs(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	dup := make([]string, len(values))
	copy(dup, values)
	return dup
}

func cloneGates(values map[string]scheduler.ManualGateState) map[string]scheduler.ManualGateState {
	if len(values) == 0 {
		return nil
	}
	dup := make(map[string]scheduler.ManualGateState, len(values))
	for id, state := range values {
		dup[id] = state
	}
	return dup
}

func defaultStepRegistryFactory(cfg *config.Config) (*step.Registry, error) {
	reg := step.NewRegistry()
	steps.RegisterBuiltins(reg)
	if err := plugins.RegisterCommandPlugins(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}

// defaultRunbookLoader prefers project-local YAML definitions and falls back
// to the built-in upgrade runbook.
func defaultRunbookLoader(cfg *config.Config, runbookID string) (runbook.RunbookDefinition, error) {
	if cfg == nil {
		return runbook.RunbookDefinition{}, fmt.Errorf("missing project config")
	}
	fileNames := []string{
		fmt.Sprintf("%s.yaml", runbookID),
		fmt.Sprintf("%s.yml", runbookID),
	}
	var candidates []string
	appendPaths := func(base string) {
		if strings.TrimSpace(base) == "" {
			return
		}
		for _, name := range fileNames {
			candidates = append(candidates, filepath.Join(base, runbook.DefaultDefinitionDir, name))
		}
	}
	appendPaths(cfg.PyliftProjectDir)
	appendPaths(cfg.ProjectDir)
	visited := map[string]struct{}{}
	for _, path := range candidates {
		clean := filepath.Clean(path)
		if _, seen := visited[clean]; seen {
			continue
		}
		visited[clean] = struct{}{}
		if info, err := os.Stat(clean); err == nil && !info.IsDir() {
			return runbook.LoadDefinitionFile(clean)
		}
	}
	if runbookID == runbook.DefaultRunbookID {
		return runbook.UpgradeEnvDefinition(), nil
	}
	return runbook.RunbookDefinition{}, fmt.Errorf("runbook definition %s not found", runbookID)
}
