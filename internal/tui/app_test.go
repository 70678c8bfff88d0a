package tui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/devserver"
	"github.com/shadow3aaa/PlotWeave/internal/outline"
	"github.com/shadow3aaa/PlotWeave/internal/session"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/transcript"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

func TestProjectsLoad(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	for _, name := range []string{"雾港", "Salt Roads"} {
		if _, err := client.CreateProject(context.Background(), name); err != nil {
			t.Fatalf("create project: %v", err)
		}
	}

	app := newTestApp(t, client)
	app = runCommands(t, app, app.loadProjects())

	if got := len(app.projects.Items()); got != 2 {
		t.Fatalf("expected 2 projects, got %d", got)
	}
	if app.state != stateProjects {
		t.Fatalf("expected project picker, got state %d", app.state)
	}
	if !strings.Contains(app.View(), "Salt Roads") {
		t.Fatalf("project list should render project names:\n%s", app.View())
	}
}

func TestOpenProjectAndReturn(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	project, err := client.CreateProject(context.Background(), "雾港")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	app := newTestApp(t, client)
	app = runCommands(t, app, app.openProject(project.ID))
	if app.state != stateWorkspace || app.workspace == nil {
		t.Fatalf("expected workspace, got state %d (err %v)", app.state, app.err)
	}
	if app.opened.Phase() != workflow.PhaseOutline {
		t.Fatalf("new project should start at the outline, got %s", app.opened.Phase())
	}
	if view := app.View(); !strings.Contains(view, "Ctrl+S save outline") {
		t.Fatalf("outline phase should offer saving:\n%s", view)
	}

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	app = runCommands(t, model, cmd)
	if app.state != stateProjects || app.opened != nil {
		t.Fatalf("esc should close the workspace, got state %d", app.state)
	}
	if got := len(app.projects.Items()); got != 1 {
		t.Fatalf("expected the project list to reload, got %d items", got)
	}
}

func TestOpenMissingProjectBlocks(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	app := newTestApp(t, client)

	app = runCommands(t, app, app.openProject("missing"))
	if app.state != stateBlocked {
		t.Fatalf("expected blocking error state, got %d", app.state)
	}
	if view := app.View(); !strings.Contains(view, "could not be opened") {
		t.Fatalf("blocked view should explain the failure:\n%s", view)
	}

	// Only Esc leaves the blocked state.
	model, _ := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	app = model.(*App)
	if app.state != stateBlocked {
		t.Fatalf("keys other than esc must be ignored, got state %d", app.state)
	}
	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	app = runCommands(t, model, cmd)
	if app.state != stateProjects || app.err != nil {
		t.Fatalf("esc should return to projects, got state %d", app.state)
	}
}

func TestCreateProjectFromPicker(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	app := newTestApp(t, client)

	model, _ := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	app = model.(*App)
	if app.state != stateNaming {
		t.Fatalf("n should start naming a project, got state %d", app.state)
	}
	model, _ = app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("灯塔")})
	app = model.(*App)

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	app = runCommands(t, model, cmd)
	if app.state != stateWorkspace {
		t.Fatalf("expected the new project to open, got state %d (err %v)", app.state, app.err)
	}
	if got := app.opened.Project().Name; got != "灯塔" {
		t.Fatalf("unexpected project name %q", got)
	}
}

func TestSubmitWhileTurnInFlightIsIgnored(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{EventDelay: 40 * time.Millisecond})
	ctx := context.Background()
	project, err := client.CreateProject(ctx, "雾港")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := client.UpdateOutline(ctx, project.ID, "title: 雾港\nplots:\n  - 码头失火\n"); err != nil {
		t.Fatalf("save outline: %v", err)
	}
	if _, err := client.UpdateProjectPhase(ctx, project.ID, workflow.PhaseWorldSetup); err != nil {
		t.Fatalf("advance: %v", err)
	}

	app := newTestApp(t, client)
	drainUpdates(t, app)
	app = runCommands(t, app, app.openProject(project.ID))
	if app.state != stateWorkspace {
		t.Fatalf("expected workspace, got state %d (err %v)", app.state, app.err)
	}

	typeText(t, app, "港口常年起雾")
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter should start a chat turn")
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	deadline := time.Now().Add(5 * time.Second)
	for !app.opened.State().TurnInFlight {
		if time.Now().After(deadline) {
			t.Fatalf("turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	typeText(t, app, "继续")
	if _, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Fatalf("a second submit during a turn must not start work")
	}
	if !strings.Contains(app.workspace.status, "still answering") {
		t.Fatalf("expected an in-flight notice, got %q", app.workspace.status)
	}
	if got := app.workspace.input.Value(); got != "继续" {
		t.Fatalf("ignored input should be kept, got %q", got)
	}

	select {
	case msg := <-done:
		model, _ := app.Update(msg)
		app = model.(*App)
	case <-time.After(10 * time.Second):
		t.Fatalf("chat turn did not finish")
	}

	users := 0
	for _, m := range app.opened.ChatController().Snapshot().Messages {
		if m.Role == transcript.RoleUser {
			users++
		}
	}
	if users != 1 {
		t.Fatalf("expected exactly one user message, got %d", users)
	}
	if app.workspace.status != "chat: done" {
		t.Fatalf("unexpected status %q", app.workspace.status)
	}
	if !strings.Contains(app.View(), "Noted for the world") {
		t.Fatalf("answer should be rendered:\n%s", app.View())
	}
}

// unavailableBackend answers every project fetch with 503.
type unavailableBackend struct {
	*backend.Client
}

func (unavailableBackend) GetProject(context.Context, string) (backend.Project, error) {
	return backend.Project{}, &backend.APIError{Op: "fetch project", Status: http.StatusServiceUnavailable}
}

func TestOpenDuringOutageSuggestsRetry(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	project, err := client.CreateProject(context.Background(), "雾港")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	app := newTestApp(t, unavailableBackend{Client: client})
	app = runCommands(t, app, app.openProject(project.ID))
	if app.state != stateBlocked {
		t.Fatalf("expected blocking error state, got %d", app.state)
	}
	if view := app.View(); !strings.Contains(view, "temporarily unavailable") {
		t.Fatalf("a 503 should suggest trying again:\n%s", view)
	}
}

func TestLeavingMidTurnCancelsIt(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{EventDelay: 40 * time.Millisecond})
	ctx := context.Background()
	project, err := client.CreateProject(ctx, "雾港")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if err := client.UpdateOutline(ctx, project.ID, "title: 雾港\n"); err != nil {
		t.Fatalf("save outline: %v", err)
	}
	if _, err := client.UpdateProjectPhase(ctx, project.ID, workflow.PhaseWorldSetup); err != nil {
		t.Fatalf("advance: %v", err)
	}

	app := newTestApp(t, client)
	drainUpdates(t, app)
	app = runCommands(t, app, app.openProject(project.ID))
	chat := app.opened.ChatController()

	typeText(t, app, "港口常年起雾")
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatalf("enter should start a chat turn")
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()

	deadline := time.Now().Add(5 * time.Second)
	for !chat.Generating() {
		if time.Now().After(deadline) {
			t.Fatalf("turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	app = runCommands(t, model, cmd)
	if app.state != stateProjects || app.workspace != nil || app.opened != nil {
		t.Fatalf("esc mid-turn should return to projects, got state %d", app.state)
	}

	var finished actionDoneMsg
	select {
	case msg := <-done:
		finished = msg.(actionDoneMsg)
	case <-time.After(10 * time.Second):
		t.Fatalf("cancelled turn did not finish")
	}
	if finished.outcome != stream.OutcomeCancelled {
		t.Fatalf("expected a cancelled turn, got %s (err %v)", finished.outcome, finished.err)
	}
	model, _ = app.Update(finished)
	app = model.(*App)
	if app.state != stateProjects {
		t.Fatalf("a late result must not reopen the workspace, got state %d", app.state)
	}

	snap := chat.Snapshot()
	if snap.Generating || snap.LastErr != nil {
		t.Fatalf("cancelled turn should end quietly: generating=%v err=%v", snap.Generating, snap.LastErr)
	}
	for _, m := range snap.Messages {
		if strings.Contains(m.Content, transcript.ErrorMarkerPrefix) {
			t.Fatalf("cancellation must not add an error marker: %q", m.Content)
		}
	}
}

func TestEditAndSaveChapter(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	id := chapterWritingProject(t, client)

	app := newTestApp(t, client)
	app = runCommands(t, app, app.openProject(id))
	if app.opened.Phase() != workflow.PhaseChapterWriting {
		t.Fatalf("expected chapter writing, got %s", app.opened.Phase())
	}

	model, _ := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	app = model.(*App)
	if _, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("e")}); cmd != nil {
		t.Fatalf("a locked chapter must not be loaded for editing")
	}
	if !strings.Contains(app.workspace.status, "locked") {
		t.Fatalf("expected a locked notice, got %q", app.workspace.status)
	}

	model, _ = app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	app = model.(*App)
	model, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("e")})
	app = runCommands(t, model, cmd)
	if app.workspace.editing != 0 {
		t.Fatalf("expected chapter 1 in the editor, got %d (%s)", app.workspace.editing, app.workspace.status)
	}
	if !strings.Contains(app.View(), "Editing chapter 1") {
		t.Fatalf("editor should be shown:\n%s", app.View())
	}

	app.workspace.chapterEditor.SetValue("手写的第一章")
	model, cmd = app.Update(tea.KeyMsg{Type: tea.KeyCtrlS})
	app = runCommands(t, model, cmd)
	if app.workspace.status != "save chapter: done" {
		t.Fatalf("unexpected status %q", app.workspace.status)
	}
	ch, err := client.GetChapter(context.Background(), id, 0)
	if err != nil {
		t.Fatalf("fetch chapter: %v", err)
	}
	if ch.Content != "手写的第一章" {
		t.Fatalf("chapter was not saved, got %q", ch.Content)
	}

	// Esc closes the editor first and only then the project.
	model, cmd = app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	app = runCommands(t, model, cmd)
	if app.state != stateWorkspace || app.workspace.editing != -1 {
		t.Fatalf("esc should only close the editor, got state %d", app.state)
	}
	if !strings.Contains(app.View(), "手写的第一章") {
		t.Fatalf("saved chapter should be shown:\n%s", app.View())
	}
}

func TestOutlineAutoSavesOnceEditsSettle(t *testing.T) {
	client := newTestBackend(t, devserver.Settings{})
	project, err := client.CreateProject(context.Background(), "雾港")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	app := newTestApp(t, client)
	app = runCommands(t, app, app.openProject(project.ID))

	app.workspace.editor.SetValue("title: 雾港\nplots:\n  - 码头失火")
	if _, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("!")}); cmd == nil {
		t.Fatalf("an outline edit should schedule an auto-save")
	}
	if status, _ := app.opened.OutlineStatus(); status != outline.StatusPending {
		t.Fatalf("expected pending outline, got %s", status)
	}
	seq := app.workspace.editSeq

	if _, cmd := app.Update(outlineSettledMsg{view: app.workspace, seq: seq - 1}); cmd != nil {
		t.Fatalf("a superseded timer must not save")
	}
	model, cmd := app.Update(outlineSettledMsg{view: app.workspace, seq: seq})
	if cmd == nil {
		t.Fatalf("the newest timer should save")
	}
	app = runCommands(t, model, cmd)
	if app.workspace.status != "auto-save: done" {
		t.Fatalf("unexpected status %q", app.workspace.status)
	}
	if status, err := app.opened.OutlineStatus(); status != outline.StatusSaved || err != nil {
		t.Fatalf("expected saved outline, got %s (%v)", status, err)
	}
	text, err := client.GetOutline(context.Background(), project.ID)
	if err != nil {
		t.Fatalf("fetch outline: %v", err)
	}
	if !strings.Contains(text, "码头失火!") {
		t.Fatalf("auto-save wrote %q", text)
	}
	if err := app.opened.Authorize(workflow.ActionAdvancePhase, 0); err != nil {
		t.Fatalf("a saved outline should allow advancing: %v", err)
	}
}

// chapterWritingProject walks a new project to chapter writing with two
// planned chapters and returns its ID.
func chapterWritingProject(t *testing.T, client *backend.Client) string {
	t.Helper()
	ctx := context.Background()
	project, err := client.CreateProject(ctx, "雾港")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	ws, err := session.Open(ctx, client, project.ID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()

	if err := ws.SaveOutline(ctx, "title: 雾港\nplots:\n  - 码头失火\n"); err != nil {
		t.Fatalf("save outline: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := ws.Advance(ctx); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	for _, intent := range []string{"火起", "灯灭"} {
		if _, err := ws.Chat(ctx, intent); err != nil {
			t.Fatalf("plan chapter: %v", err)
		}
	}
	if _, err := ws.Advance(ctx); err != nil {
		t.Fatalf("advance to writing: %v", err)
	}
	return project.ID
}

func newTestBackend(t *testing.T, settings devserver.Settings) *backend.Client {
	t.Helper()
	srv := httptest.NewServer(devserver.NewServer(settings).Handler())
	t.Cleanup(srv.Close)
	client, err := backend.New(srv.URL, backend.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}
	return client
}

func newTestApp(t *testing.T, b Backend, opts ...AppOption) *App {
	t.Helper()
	base := []AppOption{WithMarkdown(false), WithHeartbeatInterval(0)}
	app := NewApp(b, append(base, opts...)...)
	model, _ := app.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	app = model.(*App)
	t.Cleanup(app.Close)
	return app
}

// runCommands feeds each command's message back into Update until the chain
// ends. Commands must not block.
func runCommands(t *testing.T, model tea.Model, cmd tea.Cmd) *App {
	t.Helper()
	app, ok := model.(*App)
	if !ok {
		t.Fatalf("unexpected model type: %T", model)
	}
	for cmd != nil {
		msg := cmd()
		if msg == nil {
			break
		}
		nextModel, nextCmd := app.Update(msg)
		var ok bool
		app, ok = nextModel.(*App)
		if !ok {
			t.Fatalf("unexpected model type: %T", nextModel)
		}
		cmd = nextCmd
	}
	return app
}

// drainUpdates stands in for the program loop's listener so streaming
// controllers never wait on a full channel.
func drainUpdates(t *testing.T, app *App) {
	t.Helper()
	stop := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-app.updates:
			case <-stop:
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-finished
	})
}

func typeText(t *testing.T, app *App, text string) {
	t.Helper()
	// The returned cursor blink command sleeps and is not needed here.
	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
}
