// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for pylift.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: Your application state
// 2. Update: A function that updates state based on messages
// 3. View: A function that renders state to a string
//
// The flow is: User Input -> Message -> Update -> New Model -> View -> Screen

package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yourusername/pylift/internal/app"
	"github.com/yourusername/pylift/internal/config"
	"github.com/yourusername/pylift/internal/logbook"
	"github.com/yourusername/pylift/internal/runbook"
	"github.com/yourusername/pylift/internal/runbook/engine"
	"github.com/yourusername/pylift/internal/runbook/resolver"
	"github.com/yourusername/pylift/internal/step"
	"github.com/yourusername/pylift/internal/venv"
)

// appState represents which "screen" we're on
type appState int

const (
	stateMainMenu      appState = iota // Main menu with "Upgrade Environment", etc.
	stateRunbookSelect                 // Runbook picker before launching the engine
	stateUpgradeRun                    // Running a runbook through the engine view
)

const boardRefreshInterval = 3 * time.Second

// RunbookDefinitionLoader resolves runbook definitions for the engine-backed view.
type RunbookDefinitionLoader func(cfg *config.Config, runbookID string) (runbook.RunbookDefinition, error)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithRunbookDefinitionLoader overrides the runbook definition loader used by the TUI.
func WithRunbookDefinitionLoader(loader RunbookDefinitionLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.runbookLoader = loader
		}
	}
}

// WithStepRegistryFactory allows tests to inject custom step registries.
func WithStepRegistryFactory(factory func(*config.Config) (*step.Registry, error)) AppOption {
	return func(a *App) {
		if factory != nil {
			a.registryFactory = factory
		}
	}
}

type statusRefreshMsg struct {
	app        app.State
	alive      bool
	backups    []venv.BackupEntry
	engineLine string
	err        error
}

type appRestartedMsg struct {
	state app.State
	err   error
}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	state      appState
	config     *config.Config
	runbook    *runbook.Runbook
	supervisor *app.Supervisor
	logbook    *logbook.Logbook

	runbookLoader        RunbookDefinitionLoader
	registryFactory      func(*config.Config) (*step.Registry, error)
	runbookView          *runbookView
	runbookMenu          list.Model
	runbookChoices       []runbookOption
	selectedRunbook      string
	pendingRunbookResume bool
	runbookReturnState   appState

	// UI components
	mainMenu      list.Model // The main menu list
	statusMsg     string     // Status message to display
	err           error      // Any error to display
	lastLogStatus string

	// Window size (we get this from bubbletea)
	width  int
	height int

	// Status board data
	appStatus   app.State
	appAlive    bool
	backups     []venv.BackupEntry
	engineLine  string
	boardErr    string
	lastRefresh time.Time
}

// menuItem implements list.Item interface for our menu items
type menuItem struct {
	title string
	desc  string
}

func (i menuItem) Title() string       { return i.title }
func (i menuItem) Description() string { return i.desc }
func (i menuItem) FilterValue() string { return i.title }

type runbookOption struct {
	id    string
	title string
	desc  string
}

func (o runbookOption) Title() string       { return o.title }
func (o runbookOption) Description() string { return o.desc }
func (o runbookOption) FilterValue() string { return o.id }

func (o runbookOption) ID() string { return o.id }

// NewApp creates a new App instance
func NewApp(projectDir string, opts ...AppOption) (*App, error) {
	cfg, err := config.NewConfig(projectDir)
	if err != nil {
		return nil, err
	}
	rb := runbook.New(cfg.PyliftProjectDir, cfg.VenvDir(), cfg.RequirementsPath())
	supervisor := app.NewSupervisor(rb.AppDir(), app.Settings{
		Entrypoint:     cfg.EntrypointPath(),
		Port:           cfg.Project.App.Port,
		Headless:       cfg.Project.App.Headless,
		StartupTimeout: cfg.Project.App.StartupTimeout(),
		WorkDir:        cfg.ProjectDir,
	})
	logPath := filepath.Join(cfg.LogsDir(), "upgrade.log")
	lb, err := logbook.New(logPath)
	if err == nil {
		lb.Info("Session opened · target python %s", cfg.TargetVersion())
	}

	menuItems := buildMainMenu(rb)

	mainMenu := list.New(menuItems, list.NewDefaultDelegate(), 0, 0)
	mainMenu.Title = "⬡ PYLIFT"
	mainMenu.SetShowStatusBar(false)
	mainMenu.SetFilteringEnabled(false)
	runbookMenu := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	runbookMenu.Title = "Select Runbook"
	runbookMenu.SetShowStatusBar(false)
	runbookMenu.SetFilteringEnabled(false)

	instance := &App{
		state:           stateMainMenu,
		config:          cfg,
		runbook:         rb,
		supervisor:      supervisor,
		logbook:         lb,
		runbookLoader:   defaultRunbookLoader,
		registryFactory: defaultStepRegistryFactory,
		mainMenu:        mainMenu,
		runbookMenu:     runbookMenu,
		selectedRunbook: cfg.DefaultRunbook(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(instance)
		}
	}
	instance.refreshRunbookMenu()
	return instance, nil
}

// buildMainMenu creates the main menu items based on persisted engine state
func buildMainMenu(rb *runbook.Runbook) []list.Item {
	items := []list.Item{}

	if state, err := engine.NewRepository(rb).Load(); err == nil && state.Status != engine.EngineStatusComplete {
		items = append(items, menuItem{
			title: fmt.Sprintf("Resume Upgrade (%s)", friendlyLabel(string(state.Status))),
			desc:  "Continue the run from its persisted state",
		})
	}

	items = append(items,
		menuItem{title: "Upgrade Environment", desc: "Move the virtualenv onto the target Python"},
		menuItem{title: "Restart App", desc: "Restart the Streamlit app on the current venv"},
		menuItem{title: "Exit", desc: "Quit pylift"},
	)

	return items
}

func (a *App) refreshRunbookMenu() {
	options := a.buildRunbookOptions()
	items := make([]list.Item, len(options))
	for i := range options {
		items[i] = options[i]
	}
	a.runbookChoices = options
	a.runbookMenu.SetItems(items)
	if len(items) == 0 {
		return
	}
	idx := a.runbookOptionIndex(a.activeRunbookID())
	if idx < 0 {
		idx = 0
	}
	a.runbookMenu.Select(idx)
}

func (a *App) buildRunbookOptions() []runbookOption {
	ids := a.runbookIDs()
	opts := make([]runbookOption, 0, len(ids))
	loader := a.runbookLoader
	for _, id := range ids {
		option := runbookOption{
			id:    id,
			title: humanizeRunbookID(id),
			desc:  fmt.Sprintf("Runbook ID: %s", id),
		}
		if loader != nil && a.config != nil {
			if def, err := loader(a.config, id); err == nil {
				if name := strings.TrimSpace(def.Name); name != "" {
					option.title = name
				}
				var parts []string
				if desc := strings.TrimSpace(def.Description); desc != "" {
					parts = append(parts, desc)
				}
				parts = append(parts, fmt.Sprintf("ID: %s", id))
				option.desc = strings.Join(parts, " · ")
			} else if err != nil {
				a.logWarn("Runbook %s metadata unavailable: %v", id, err)
			}
		}
		opts = append(opts, option)
	}
	return opts
}

func (a *App) runbookIDs() []string {
	if a.config == nil {
		return []string{runbook.DefaultRunbookID}
	}
	seen := map[string]struct{}{}
	ordered := []string{}
	appendID := func(values ...string) {
		for _, value := range values {
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			key := strings.ToLower(trimmed)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			ordered = append(ordered, trimmed)
		}
	}
	appendID(a.config.Project.Runbooks.Available...)
	appendID(a.config.DefaultRunbook())
	appendID(a.selectedRunbook)
	appendID(runbook.DefaultRunbookID)
	return ordered
}

func (a *App) runbookOptionIndex(id string) int {
	target := strings.ToLower(strings.TrimSpace(id))
	if target == "" {
		return -1
	}
	for idx, option := range a.runbookChoices {
		candidate := strings.ToLower(strings.TrimSpace(option.ID()))
		if candidate == target {
			return idx
		}
	}
	return -1
}

func (a *App) activeRunbookID() string {
	if id := strings.TrimSpace(a.selectedRunbook); id != "" {
		return id
	}
	if a.config != nil {
		if id := strings.TrimSpace(a.config.DefaultRunbook()); id != "" {
			return id
		}
	}
	return runbook.DefaultRunbookID
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

func (a *App) logProgress(status string) {
	status = strings.TrimSpace(status)
	if status == "" || status == a.lastLogStatus {
		return
	}
	a.lastLogStatus = status
	a.logInfo(status)
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.fetchStatusSnapshot()
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.mainMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		a.runbookMenu.SetSize(max(0, msg.Width-6), max(0, msg.Height-10))
		if a.state == stateUpgradeRun && a.runbookView != nil {
			return a, a.runbookView.Update(msg)
		}
		return a, nil

	case statusRefreshMsg:
		a.lastRefresh = time.Now()
		if msg.err != nil {
			a.boardErr = msg.err.Error()
		} else {
			a.boardErr = ""
			a.appStatus = msg.app
			a.appAlive = msg.alive
			a.backups = msg.backups
			a.engineLine = msg.engineLine
		}
		return a, a.scheduleStatusRefresh()

	case appRestartedMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("App restart failed: %v", msg.err)
			a.logError("App restart failed: %v", msg.err)
			return a, nil
		}
		a.statusMsg = fmt.Sprintf("App restarted · PID %d on port %d", msg.state.PID, msg.state.Port)
		a.logInfo("App restarted · PID %d on port %d", msg.state.PID, msg.state.Port)
		return a, a.fetchStatusSnapshot()

	case runbookFinishedMsg:
		return a.handleRunbookFinished(msg)

	case tea.KeyMsg:
		key := msg.String()
		switch key {
		case "ctrl+c":
			return a, tea.Quit
		case "q":
			if a.state == stateMainMenu {
				return a, tea.Quit
			}
		case "esc":
			if a.state != stateMainMenu {
				return a.returnToMainMenu()
			}
		case "R":
			a.statusMsg = "Refreshing status board..."
			return a, a.fetchStatusSnapshot()
		case "enter":
			switch a.state {
			case stateRunbookSelect:
				return a.confirmRunbookSelection()
			case stateMainMenu:
				return a.handleMainMenuSelection()
			}
		}

	}

	var cmds []tea.Cmd
	switch a.state {
	case stateMainMenu:
		var menuCmd tea.Cmd
		a.mainMenu, menuCmd = a.mainMenu.Update(msg)
		if menuCmd != nil {
			cmds = append(cmds, menuCmd)
		}
	case stateRunbookSelect:
		var menuCmd tea.Cmd
		a.runbookMenu, menuCmd = a.runbookMenu.Update(msg)
		if menuCmd != nil {
			cmds = append(cmds, menuCmd)
		}
	case stateUpgradeRun:
		if a.runbookView != nil {
			if cmd := a.runbookView.Update(msg); cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
	}

	return a, tea.Batch(cmds...)
}

// handleMainMenuSelection processes menu item selection
func (a *App) handleMainMenuSelection() (tea.Model, tea.Cmd) {
	item, ok := a.mainMenu.SelectedItem().(menuItem)
	if !ok {
		return a, nil
	}

	switch {
	case item.title == "Upgrade Environment":
		a.logInfo("Menu · Upgrade Environment selected")
		return a.beginRunbookSelection(false)

	case strings.HasPrefix(item.title, "Resume Upgrade"):
		a.logInfo("Menu · Resume Upgrade selected")
		return a.startRunbookRun(true)

	case item.title == "Restart App":
		a.logInfo("Menu · Restart App selected")
		a.statusMsg = "Restarting app..."
		return a, a.restartApp()

	case item.title == "Exit":
		a.logInfo("Menu · Exit selected")
		return a, tea.Quit
	}

	return a, nil
}

func (a *App) beginRunbookSelection(resume bool) (tea.Model, tea.Cmd) {
	if len(a.runbookChoices) == 0 {
		a.refreshRunbookMenu()
	}
	a.state = stateRunbookSelect
	a.pendingRunbookResume = resume
	if a.width > 0 && a.height > 0 {
		a.runbookMenu.SetSize(max(0, a.width-6), max(0, a.height-10))
	}
	a.statusMsg = "Select a runbook to launch"
	return a, nil
}

func (a *App) confirmRunbookSelection() (tea.Model, tea.Cmd) {
	item, ok := a.runbookMenu.SelectedItem().(runbookOption)
	if !ok {
		a.statusMsg = "Runbook selection unavailable"
		return a, nil
	}
	id := item.ID()
	if err := a.setRunbookSelection(id); err != nil {
		a.statusMsg = fmt.Sprintf("Runbook selection failed: %v", err)
		a.logError("Runbook selection failed: %v", err)
		return a, nil
	}
	a.logInfo("Runbook · %s selected", id)
	return a.startRunbookRun(a.pendingRunbookResume)
}

func (a *App) setRunbookSelection(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("runbook id is required")
	}
	if err := a.config.SetDefaultRunbook(id); err != nil {
		return err
	}
	a.selectedRunbook = a.config.DefaultRunbook()
	a.refreshRunbookMenu()
	return nil
}

// startRunbookRun bootstraps the runbook engine UI in either start or resume mode.
func (a *App) startRunbookRun(resume bool) (tea.Model, tea.Cmd) {
	a.runbookReturnState = a.state
	a.state = stateUpgradeRun
	a.pendingRunbookResume = false
	a.runbookView = newRunbookView(a, a.activeRunbookID())
	cmd := a.runbookView.Init(resume)
	return a, cmd
}

// handleRunbookFinished decides where to land once the engine reports completion.
func (a *App) handleRunbookFinished(msg runbookFinishedMsg) (tea.Model, tea.Cmd) {
	a.logInfo("Runbook %s finished · %s (%s)", msg.RunbookID, msg.Status, msg.Reason)
	if a.runbookReturnState == stateUpgradeRun {
		// Launched straight into the run view; nothing to go back to.
		return a, tea.Quit
	}
	return a.returnToMainMenu()
}

// returnToMainMenu transitions back to the main menu
func (a *App) returnToMainMenu() (tea.Model, tea.Cmd) {
	a.state = stateMainMenu
	a.runbookView = nil
	a.pendingRunbookResume = false
	a.logInfo("Returned to main menu")

	// Refresh menu items (engine state may have changed)
	a.mainMenu.SetItems(buildMainMenu(a.runbook))
	a.refreshRunbookMenu()

	return a, nil
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(32, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
	}
	if leftWidth < 20 {
		leftWidth = width
		rightWidth = 0
	}
	if a.state == stateMainMenu {
		a.mainMenu.SetSize(max(20, leftWidth-4), max(10, a.height-10))
	}
	var content string
	switch a.state {
	case stateMainMenu:
		content = a.mainMenu.View()
	case stateRunbookSelect:
		content = a.renderRunbookSelection()
	case stateUpgradeRun:
		if a.runbookView != nil {
			content = a.runbookView.View()
		} else {
			content = "Loading runbook..."
		}
	}
	return a.renderStatusBoard(content, leftWidth, rightWidth)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, _ := a.logbook.Tail(8)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s", fileName))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
	return box
}

func (a *App) renderStatusBoard(mainContent string, leftWidth, rightWidth int) string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		MarginBottom(1).
		Render("⬡ PYLIFT")
	left := lipgloss.JoinVertical(lipgloss.Left,
		a.renderProjectPanel(leftWidth-4),
		"",
		a.renderMainArea(mainContent, leftWidth-4),
	)
	leftBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Width(max(20, leftWidth)).
		Render(left)
	var body string
	if rightWidth > 0 {
		right := lipgloss.JoinVertical(lipgloss.Left,
			a.renderAppPanel(rightWidth-4),
			"",
			a.renderBackupsPanel(rightWidth-4),
		)
		rightBox := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1).
			Width(max(20, rightWidth)).
			Render(right)
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render(a.statusMsg)
	sections = append(sections, footer)
	return strings.Join(sections, "\n")
}

func (a *App) renderProjectPanel(width int) string {
	lines := []string{
		fmt.Sprintf("Target: Python %s", a.config.TargetVersion()),
		fmt.Sprintf("Venv: %s", a.config.Project.Venv.Path),
		fmt.Sprintf("App: %s · port %d", a.config.Project.App.Entrypoint, a.config.Project.App.Port),
	}
	if a.engineLine != "" {
		lines = append(lines, a.engineLine)
	}
	if a.boardErr != "" {
		lines = append(lines, fmt.Sprintf("⚠ %s", a.boardErr))
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(strings.Join(lines, "\n"))
}

func (a *App) renderMainArea(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		content = "Ready to upgrade."
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(content)
}

func (a *App) renderRunbookSelection() string {
	view := a.runbookMenu.View()
	if strings.TrimSpace(view) == "" {
		view = "No runbooks available"
	}
	hint := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		MarginTop(1).
		Render("Enter → launch runbook    Esc → cancel")
	return lipgloss.JoinVertical(lipgloss.Left, view, hint)
}

func (a *App) renderAppPanel(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render("App")
	var lines []string
	if a.appAlive {
		lines = append(lines, fmt.Sprintf("Running · PID %d · port %d", a.appStatus.PID, a.appStatus.Port))
		if !a.appStatus.StartedAt.IsZero() {
			lines = append(lines, fmt.Sprintf("Up %s", humanizeDuration(time.Since(a.appStatus.StartedAt))))
		}
		if a.appStatus.VenvDir != "" {
			lines = append(lines, fmt.Sprintf("Venv: %s", filepath.Base(a.appStatus.VenvDir)))
		}
	} else {
		lines = append(lines, "Not running")
	}
	body := lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC")).Render(strings.Join(lines, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (a *App) renderBackupsPanel(width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("Backups (%d)", len(a.backups)))
	if len(a.backups) == 0 {
		note := lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).Render("No environment backups yet.")
		return lipgloss.JoinVertical(lipgloss.Left, title, note)
	}
	var rows []string
	for _, entry := range a.backups {
		line := filepath.Base(entry.BackupDir)
		if entry.PyVersion != "" {
			line += fmt.Sprintf(" · python %s", entry.PyVersion)
		}
		if !entry.CreatedAt.IsZero() {
			line += fmt.Sprintf(" · %s ago", humanizeDuration(time.Since(entry.CreatedAt)))
		}
		rows = append(rows, line)
	}
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#CCCCCC")).
		Width(max(20, width)).
		Render(strings.Join(rows, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (a *App) fetchStatusSnapshot() tea.Cmd {
	return func() tea.Msg {
		return a.buildStatusSnapshot()
	}
}

func (a *App) scheduleStatusRefresh() tea.Cmd {
	return tea.Tick(boardRefreshInterval, func(time.Time) tea.Msg {
		return a.buildStatusSnapshot()
	})
}

func (a *App) buildStatusSnapshot() statusRefreshMsg {
	appState, alive, err := a.supervisor.Status()
	if err != nil {
		return statusRefreshMsg{err: err}
	}
	manifest, err := venv.NewBackups(a.runbook.BackupManifestPath(), a.config.Project.Venv.KeepBackupCount()).Load()
	if err != nil {
		return statusRefreshMsg{app: appState, alive: alive, err: err}
	}
	engineLine := ""
	if state, err := engine.NewRepository(a.runbook).Load(); err == nil {
		done := 0
		for _, node := range state.Nodes {
			if node.State == resolver.NodeStateComplete {
				done++
			}
		}
		engineLine = fmt.Sprintf("Runbook %s · %s · %d/%d steps complete",
			state.RunbookID, friendlyLabel(string(state.Status)), done, len(state.Nodes))
	}
	return statusRefreshMsg{
		app:        appState,
		alive:      alive,
		backups:    manifest.Entries,
		engineLine: engineLine,
	}
}

func (a *App) restartApp() tea.Cmd {
	env := venv.New(a.runbook.VenvDir())
	supervisor := a.supervisor
	return func() tea.Msg {
		state, err := supervisor.Restart(context.Background(), env)
		return appRestartedMsg{state: state, err: err}
	}
}

func humanizeDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func humanizeRunbookID(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "Runbook"
	}
	replacer := strings.NewReplacer("-", " ", "_", " ")
	sanitized := replacer.Replace(trimmed)
	parts := strings.Fields(sanitized)
	if len(parts) == 0 {
		return "Runbook"
	}
	for i, part := range parts {
		lower := strings.ToLower(part)
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
