// internal/tui/app.go
//
// The PlotWeave terminal UI. It uses bubbletea (The Elm Architecture):
// messages flow into Update, which changes state, which View renders.
//
// Streaming turns run on their own goroutines. Their controllers publish a
// message on the App's update channel for every applied event; a command
// parked on that channel turns each one into a tea.Msg, so every event
// triggers a re-render. Leaving a project cancels its context, which ends
// its turns and stops their deliveries.

package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/session"
)

// appState represents which screen is shown.
type appState int

const (
	stateProjects appState = iota // project picker
	stateNaming                   // naming a new project
	stateLoading                  // opening a project
	stateWorkspace                // an open project
	stateBlocked                  // opening failed; nothing but Esc works
)

// Backend is everything the TUI needs from the backend client.
type Backend interface {
	session.Backend
	ListProjects(ctx context.Context) ([]backend.Project, error)
	CreateProject(ctx context.Context, name string) (backend.Project, error)
}

// Logger receives TUI diagnostics.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// AppOption customizes App construction.
type AppOption func(*App)

// WithLogger routes TUI and session logs to l.
func WithLogger(l Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithHeartbeatInterval sets how often an open project's lease is renewed.
// Zero disables the heartbeat.
func WithHeartbeatInterval(d time.Duration) AppOption {
	return func(a *App) { a.heartbeat = d }
}

// WithMarkdown toggles glamour rendering of answers and drafts.
func WithMarkdown(enabled bool) AppOption {
	return func(a *App) { a.markdown = enabled }
}

// WithFrameLimit bounds stream frames.
func WithFrameLimit(n int) AppOption {
	return func(a *App) { a.frameLimit = n }
}

// WithAutoSaveDelay sets how long outline edits must settle before they are
// saved. Zero leaves saving to Ctrl+S.
func WithAutoSaveDelay(d time.Duration) AppOption {
	return func(a *App) { a.autoSave = d }
}

// WithProject opens projectID immediately instead of showing the picker.
func WithProject(projectID string) AppOption {
	return func(a *App) { a.initialProject = strings.TrimSpace(projectID) }
}

// App is the root bubbletea model.
type App struct {
	state   appState
	backend Backend
	logger  Logger

	heartbeat      time.Duration
	autoSave       time.Duration
	markdown       bool
	frameLimit     int
	initialProject string

	ctx     context.Context
	cancel  context.CancelFunc
	updates chan tea.Msg

	projects  list.Model
	nameInput textinput.Model
	spinner   spinner.Model
	workspace *workspaceView
	opened    *session.Workspace

	statusMsg string
	err       error
	width     int
	height    int
}

type projectItem struct {
	project backend.Project
}

func (i projectItem) Title() string { return i.project.Name }
func (i projectItem) Description() string {
	return fmt.Sprintf("%s · %s", i.project.Phase.FriendlyName(), i.project.ID)
}
func (i projectItem) FilterValue() string { return i.project.Name }

type projectsLoadedMsg struct {
	projects []backend.Project
	err      error
}

type projectCreatedMsg struct {
	project backend.Project
	err     error
}

type workspaceOpenedMsg struct {
	ws     *session.Workspace
	ctx    context.Context
	cancel context.CancelFunc
	err    error
}

// controllerUpdateMsg signals that a streaming controller changed.
type controllerUpdateMsg struct {
	snap session.Snapshot
}

// NewApp creates the root model. Call Close when the program exits.
func NewApp(b Backend, opts ...AppOption) *App {
	projects := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	projects.Title = "⬡ PLOTWEAVE · projects"
	projects.SetShowStatusBar(false)
	projects.SetFilteringEnabled(false)
	projects.DisableQuitKeybindings()

	name := textinput.New()
	name.Placeholder = "Name of the new novel"
	name.CharLimit = 120

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		state:     stateProjects,
		backend:   b,
		logger:    nopLogger{},
		heartbeat: 15 * time.Second,
		autoSave:  800 * time.Millisecond,
		markdown:  true,
		ctx:       ctx,
		cancel:    cancel,
		updates:   make(chan tea.Msg, 64),
		projects:  projects,
		nameInput: name,
		spinner:   sp,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.initialProject != "" {
		a.state = stateLoading
	}
	return a
}

// Close stops background work owned by the App.
func (a *App) Close() {
	a.cancel()
	a.closeWorkspace()
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	first := a.loadProjects()
	if a.initialProject != "" {
		first = a.openProject(a.initialProject)
	}
	return tea.Batch(first, a.listen(), a.spinner.Tick)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.projects.SetSize(max(0, msg.Width-6), max(0, msg.Height-8))
		if a.workspace != nil {
			return a, a.workspace.Update(msg)
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case projectsLoadedMsg:
		if msg.err != nil {
			a.statusMsg = fmt.Sprintf("Could not list projects: %v", msg.err)
			a.logger.Printf("tui: list projects: %v", msg.err)
			return a, nil
		}
		items := make([]list.Item, len(msg.projects))
		for i, p := range msg.projects {
			items[i] = projectItem{project: p}
		}
		a.projects.SetItems(items)
		a.statusMsg = fmt.Sprintf("%d project(s)", len(items))
		return a, nil

	case projectCreatedMsg:
		if msg.err != nil {
			a.state = stateProjects
			a.statusMsg = fmt.Sprintf("Could not create project: %v", msg.err)
			return a, nil
		}
		return a, a.openProject(msg.project.ID)

	case workspaceOpenedMsg:
		return a.handleOpened(msg)

	case controllerUpdateMsg:
		var cmd tea.Cmd
		if a.workspace != nil {
			cmd = a.workspace.Update(msg)
		}
		return a, tea.Batch(cmd, a.listen())

	case tea.KeyMsg:
		if model, cmd, handled := a.handleKey(msg); handled {
			return model, cmd
		}
	}

	switch a.state {
	case stateProjects:
		var cmd tea.Cmd
		a.projects, cmd = a.projects.Update(msg)
		return a, cmd
	case stateNaming:
		var cmd tea.Cmd
		a.nameInput, cmd = a.nameInput.Update(msg)
		return a, cmd
	case stateWorkspace:
		if a.workspace != nil {
			return a, a.workspace.Update(msg)
		}
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	switch msg.String() {
	case "ctrl+c":
		a.Close()
		return a, tea.Quit, true
	case "esc":
		switch a.state {
		case stateNaming, stateBlocked:
			a.state = stateProjects
			a.err = nil
			return a, a.loadProjects(), true
		case stateWorkspace:
			if a.workspace != nil && a.workspace.stopEditing() {
				return a, nil, true
			}
			return a, a.returnToProjects(), true
		}
	}

	if a.state == stateNaming && msg.String() == "enter" {
		return a, a.submitName(), true
	}
	if a.state != stateProjects {
		return a, nil, false
	}
	switch msg.String() {
	case "q":
		a.Close()
		return a, tea.Quit, true
	case "n":
		a.state = stateNaming
		a.nameInput.SetValue("")
		a.nameInput.Focus()
		return a, textinput.Blink, true
	case "r":
		a.statusMsg = "Refreshing…"
		return a, a.loadProjects(), true
	case "enter":
		item, ok := a.projects.SelectedItem().(projectItem)
		if !ok {
			return a, nil, true
		}
		return a, a.openProject(item.project.ID), true
	}
	return a, nil, false
}

func (a *App) handleOpened(msg workspaceOpenedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		a.state = stateBlocked
		a.err = msg.err
		a.logger.Printf("tui: open project: %v", msg.err)
		return a, nil
	}
	a.closeWorkspace()
	a.opened = msg.ws
	if a.heartbeat > 0 {
		msg.ws.StartHeartbeat(msg.ctx, a.heartbeat)
	}
	cfg := viewConfig{markdown: a.markdown, autoSave: a.autoSave}
	a.workspace = newWorkspaceView(msg.ctx, msg.cancel, msg.ws, cfg, a.width, a.height)
	a.state = stateWorkspace
	a.statusMsg = ""
	return a, nil
}

// returnToProjects leaves the open project. A turn still streaming is
// cancelled and its remaining events are never shown.
func (a *App) returnToProjects() tea.Cmd {
	a.closeWorkspace()
	a.state = stateProjects
	return a.loadProjects()
}

func (a *App) closeWorkspace() {
	if a.workspace != nil {
		a.workspace.close()
		a.workspace = nil
	}
	if a.opened != nil {
		a.opened.Close()
		a.opened = nil
	}
}

func (a *App) loadProjects() tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		projects, err := a.backend.ListProjects(ctx)
		return projectsLoadedMsg{projects: projects, err: err}
	}
}

func (a *App) openProject(id string) tea.Cmd {
	a.state = stateLoading
	a.statusMsg = ""
	ctx, cancel := context.WithCancel(a.ctx)
	opts := []session.Option{
		session.WithLogger(a.logger),
		session.WithFrameLimit(a.frameLimit),
		session.WithControllerHooks(session.Hooks{
			OnUpdate: func(snap session.Snapshot) { a.publish(ctx, snap) },
		}),
	}
	return func() tea.Msg {
		ws, err := session.Open(ctx, a.backend, id, opts...)
		if err != nil {
			cancel()
		}
		return workspaceOpenedMsg{ws: ws, ctx: ctx, cancel: cancel, err: err}
	}
}

// submitName creates a project from the name input.
func (a *App) submitName() tea.Cmd {
	name := strings.TrimSpace(a.nameInput.Value())
	if name == "" {
		a.statusMsg = "A name is required."
		return nil
	}
	a.state = stateLoading
	ctx := a.ctx
	return func() tea.Msg {
		p, err := a.backend.CreateProject(ctx, name)
		return projectCreatedMsg{project: p, err: err}
	}
}

// publish forwards a controller snapshot to the update loop. It blocks until
// the loop takes it, so no event is lost, unless the workspace owning ctx
// was left, in which case the snapshot is dropped.
func (a *App) publish(ctx context.Context, snap session.Snapshot) {
	if ctx.Err() != nil {
		return
	}
	select {
	case a.updates <- controllerUpdateMsg{snap: snap}:
	case <-ctx.Done():
	}
}

func (a *App) listen() tea.Cmd {
	ch, ctx := a.updates, a.ctx
	return func() tea.Msg {
		select {
		case msg := <-ch:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

// View renders the current screen.
func (a *App) View() string {
	header := headerStyle.Render("⬡ PLOTWEAVE")
	var body string
	switch a.state {
	case stateProjects:
		body = a.projects.View() + "\n" + hintStyle.Render("Enter open · n new · r refresh · q quit")
	case stateNaming:
		body = titleStyle.Render("New project") + "\n\n" + a.nameInput.View() + "\n\n" +
			hintStyle.Render("Enter create · Esc cancel")
	case stateLoading:
		body = a.spinner.View() + " Loading project…"
	case stateWorkspace:
		if a.workspace != nil {
			body = a.workspace.View()
		}
	case stateBlocked:
		body = a.renderBlocked()
	}
	width := a.width
	if width <= 0 {
		width = 100
	}
	sections := []string{header, panelStyle.Width(max(20, width-4)).Render(body)}
	if a.statusMsg != "" {
		sections = append(sections, hintStyle.Render(a.statusMsg))
	}
	return strings.Join(sections, "\n")
}

func (a *App) renderBlocked() string {
	title := errorStyle.Render("This project could not be opened.")
	detail := ""
	if a.err != nil {
		detail = a.err.Error()
	}
	var apiErr *backend.APIError
	switch {
	case errors.Is(a.err, backend.ErrNotFound):
		detail += "\nIt may have been deleted or evicted after going idle."
	case errors.As(a.err, &apiErr) && apiErr.Temporary():
		detail += "\nThe backend is temporarily unavailable. Go back and try again in a moment."
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, "", detail, "", hintStyle.Render("Esc back to projects"))
}
