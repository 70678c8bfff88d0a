package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/shadow3aaa/PlotWeave/internal/outline"
	"github.com/shadow3aaa/PlotWeave/internal/session"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

// workspaceView is the screen of one open project. Its layout follows the
// project's phase. Everything it starts runs on ctx, which is cancelled
// when the user leaves the project.
type workspaceView struct {
	ctx    context.Context
	cancel context.CancelFunc
	ws     *session.Workspace
	md     markdown

	input         textarea.Model
	editor        textarea.Model
	chapterEditor textarea.Model
	viewport      viewport.Model

	autoSave time.Duration
	editSeq  int

	expanded map[string]bool
	selected int
	viewing  int
	editing  int
	status   string
	phase    workflow.Phase

	width  int
	height int
}

// viewConfig carries the App settings a workspace screen needs.
type viewConfig struct {
	markdown bool
	autoSave time.Duration
}

// actionDoneMsg reports the end of a background workspace call. Turns also
// report how their stream ended.
type actionDoneMsg struct {
	view    *workspaceView
	label   string
	outcome stream.Outcome
	err     error
}

// outlineSettledMsg fires once outline edits have been quiet for the
// auto-save delay. Only the newest seq saves.
type outlineSettledMsg struct {
	view *workspaceView
	seq  int
}

type chapterLoadedMsg struct {
	view    *workspaceView
	index   int
	content string
	err     error
}

func newWorkspaceView(ctx context.Context, cancel context.CancelFunc, ws *session.Workspace, cfg viewConfig, width, height int) *workspaceView {
	input := textarea.New()
	input.Placeholder = "Message the agent… (Enter to send)"
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.CharLimit = 8192

	editor := textarea.New()
	editor.ShowLineNumbers = true
	editor.CharLimit = 0
	editor.SetValue(ws.Outline())

	chapterEditor := textarea.New()
	chapterEditor.ShowLineNumbers = false
	chapterEditor.CharLimit = 0

	v := &workspaceView{
		ctx:           ctx,
		cancel:        cancel,
		ws:            ws,
		md:            newMarkdown(cfg.markdown, width-8),
		input:         input,
		editor:        editor,
		chapterEditor: chapterEditor,
		viewport:      viewport.New(80, 20),
		autoSave:      cfg.autoSave,
		expanded:      map[string]bool{},
		viewing:       -1,
		editing:       -1,
		phase:         ws.Phase(),
	}
	v.resize(width, height)
	v.focusForPhase()
	v.refresh()
	return v
}

func (v *workspaceView) resize(width, height int) {
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = 30
	}
	v.width, v.height = width, height
	inner := max(20, width-6)
	v.input.SetWidth(inner)
	v.editor.SetWidth(inner)
	v.editor.SetHeight(max(5, height-12))
	v.viewport.Width = inner
	v.viewport.Height = max(5, height-16)
	if v.phase == workflow.PhaseChapterWriting {
		v.viewport.Width = max(20, inner-chapterListWidth-4)
	}
	v.chapterEditor.SetWidth(v.viewport.Width)
	v.chapterEditor.SetHeight(v.viewport.Height)
}

// close cancels every call the view started, streaming turns included.
func (v *workspaceView) close() {
	v.cancel()
}

const chapterListWidth = 34

func (v *workspaceView) focusForPhase() {
	v.input.Blur()
	v.editor.Blur()
	switch {
	case v.phase == workflow.PhaseOutline:
		v.editor.Focus()
	case v.phase.HasChat():
		v.input.Focus()
	}
}

// Update handles a message routed to the workspace and returns a command.
func (v *workspaceView) Update(msg tea.Msg) tea.Cmd {
	switch m := msg.(type) {
	case tea.WindowSizeMsg:
		v.resize(m.Width, m.Height)
		v.refresh()
		return nil
	case controllerUpdateMsg:
		v.refresh()
		return nil
	case actionDoneMsg:
		if m.view != v {
			return nil
		}
		v.finishAction(m)
		v.refresh()
		return nil
	case outlineSettledMsg:
		if m.view != v || m.seq != v.editSeq || v.phase != workflow.PhaseOutline {
			return nil
		}
		if status, _ := v.ws.OutlineStatus(); status == outline.StatusSaved {
			return nil
		}
		return v.saveOutline("auto-save")
	case chapterLoadedMsg:
		if m.view != v {
			return nil
		}
		v.startEditing(m)
		return nil
	case tea.KeyMsg:
		return v.handleKey(m)
	}
	return v.forward(msg)
}

func (v *workspaceView) handleKey(msg tea.KeyMsg) tea.Cmd {
	if v.editing >= 0 {
		if msg.String() == "ctrl+s" {
			return v.saveChapter()
		}
		var cmd tea.Cmd
		v.chapterEditor, cmd = v.chapterEditor.Update(msg)
		return cmd
	}

	switch msg.String() {
	case "ctrl+n":
		return v.advance()
	case "ctrl+r":
		return v.run("refresh", func(ctx context.Context) error { return v.ws.Refresh(ctx) })
	case "tab":
		v.toggleLatestDiagnostics()
		v.refresh()
		return nil
	}

	switch v.phase {
	case workflow.PhaseOutline:
		if msg.String() == "ctrl+s" {
			return v.saveOutline("save outline")
		}
		cmd := v.forward(msg)
		if value := v.editor.Value(); value != v.ws.Outline() {
			if err := v.ws.EditOutline(value); err != nil {
				v.status = err.Error()
				return cmd
			}
			return tea.Batch(cmd, v.scheduleAutoSave())
		}
		return cmd
	case workflow.PhaseWorldSetup, workflow.PhaseChaptering:
		if msg.String() == "enter" {
			return v.submit()
		}
		return v.forward(msg)
	case workflow.PhaseChapterWriting:
		return v.handleChapterKey(msg)
	}
	return nil
}

func (v *workspaceView) handleChapterKey(msg tea.KeyMsg) tea.Cmd {
	chapters := v.ws.Chapters()
	switch msg.String() {
	case "up", "k":
		if v.selected > 0 {
			v.selected--
		}
	case "down", "j":
		if v.selected < len(chapters)-1 {
			v.selected++
		}
	case "enter":
		if _, err := v.ws.Chapter(v.selected); err != nil {
			v.status = err.Error()
			return nil
		}
		v.viewing = v.selected
		v.status = fmt.Sprintf("Viewing chapter %d", v.selected+1)
	case "g":
		return v.generate(v.selected)
	case "e":
		return v.loadForEditing(v.selected)
	default:
		var cmd tea.Cmd
		v.viewport, cmd = v.viewport.Update(msg)
		return cmd
	}
	v.refresh()
	return nil
}

func (v *workspaceView) forward(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	switch {
	case v.phase == workflow.PhaseOutline:
		v.editor, cmd = v.editor.Update(msg)
	case v.phase.HasChat():
		var vpCmd tea.Cmd
		v.input, cmd = v.input.Update(msg)
		v.viewport, vpCmd = v.viewport.Update(msg)
		cmd = tea.Batch(cmd, vpCmd)
	default:
		v.viewport, cmd = v.viewport.Update(msg)
	}
	return cmd
}

func (v *workspaceView) submit() tea.Cmd {
	text := strings.TrimSpace(v.input.Value())
	if text == "" {
		return nil
	}
	if v.ws.State().TurnInFlight {
		v.status = "The agent is still answering; wait for it to finish."
		return nil
	}
	v.input.Reset()
	v.status = "Sending…"
	return v.runTurn("chat", func(ctx context.Context) (stream.Outcome, error) {
		return v.ws.Chat(ctx, text)
	})
}

func (v *workspaceView) generate(index int) tea.Cmd {
	if err := v.ws.Authorize(workflow.ActionGenerateChapter, index); err != nil {
		v.status = err.Error()
		return nil
	}
	v.viewing = -1
	v.status = fmt.Sprintf("Generating chapter %d…", index+1)
	return v.runTurn("generate", func(ctx context.Context) (stream.Outcome, error) {
		return v.ws.Generate(ctx, index)
	})
}

func (v *workspaceView) saveOutline(label string) tea.Cmd {
	text := v.editor.Value()
	v.status = "Saving outline…"
	return v.run(label, func(ctx context.Context) error {
		return v.ws.SaveOutline(ctx, text)
	})
}

// scheduleAutoSave saves the outline once edits stop for the auto-save
// delay. A zero delay leaves saving to Ctrl+S.
func (v *workspaceView) scheduleAutoSave() tea.Cmd {
	if v.autoSave <= 0 {
		return nil
	}
	v.editSeq++
	seq := v.editSeq
	return tea.Tick(v.autoSave, func(time.Time) tea.Msg {
		return outlineSettledMsg{view: v, seq: seq}
	})
}

func (v *workspaceView) loadForEditing(index int) tea.Cmd {
	if err := v.ws.Authorize(workflow.ActionEditChapter, index); err != nil {
		v.status = err.Error()
		return nil
	}
	v.status = fmt.Sprintf("Loading chapter %d…", index+1)
	ctx := v.ctx
	return func() tea.Msg {
		ch, err := v.ws.LoadChapter(ctx, index)
		return chapterLoadedMsg{view: v, index: index, content: ch.Content, err: err}
	}
}

func (v *workspaceView) startEditing(m chapterLoadedMsg) {
	if m.err != nil {
		v.status = fmt.Sprintf("Could not load chapter %d: %v", m.index+1, m.err)
		return
	}
	if v.phase != workflow.PhaseChapterWriting {
		return
	}
	v.editing = m.index
	v.chapterEditor.SetValue(m.content)
	v.chapterEditor.Focus()
	v.status = fmt.Sprintf("Editing chapter %d", m.index+1)
}

// stopEditing leaves the chapter editor and reports whether it was open.
// Unsaved text is dropped.
func (v *workspaceView) stopEditing() bool {
	if v.editing < 0 {
		return false
	}
	v.viewing = v.editing
	v.editing = -1
	v.chapterEditor.Blur()
	v.status = ""
	v.refresh()
	return true
}

func (v *workspaceView) saveChapter() tea.Cmd {
	index := v.editing
	if err := v.ws.Authorize(workflow.ActionSaveChapter, index); err != nil {
		v.status = err.Error()
		return nil
	}
	text := v.chapterEditor.Value()
	v.status = fmt.Sprintf("Saving chapter %d…", index+1)
	return v.run("save chapter", func(ctx context.Context) error {
		return v.ws.SaveChapter(ctx, index, text)
	})
}

func (v *workspaceView) advance() tea.Cmd {
	if err := v.ws.Authorize(workflow.ActionAdvancePhase, 0); err != nil {
		v.status = err.Error()
		return nil
	}
	v.status = "Advancing…"
	return v.run("advance", func(ctx context.Context) error {
		_, err := v.ws.Advance(ctx)
		return err
	})
}

// run executes fn off the update loop and reports its result.
func (v *workspaceView) run(label string, fn func(context.Context) error) tea.Cmd {
	ctx := v.ctx
	return func() tea.Msg {
		return actionDoneMsg{view: v, label: label, err: fn(ctx)}
	}
}

func (v *workspaceView) runTurn(label string, fn func(context.Context) (stream.Outcome, error)) tea.Cmd {
	ctx := v.ctx
	return func() tea.Msg {
		outcome, err := fn(ctx)
		return actionDoneMsg{view: v, label: label, outcome: outcome, err: err}
	}
}

func (v *workspaceView) finishAction(m actionDoneMsg) {
	if phase := v.ws.Phase(); phase != v.phase {
		v.phase = phase
		v.selected, v.viewing, v.editing = 0, -1, -1
		v.expanded = map[string]bool{}
		v.resize(v.width, v.height)
		v.focusForPhase()
	}
	var advErr *session.AdvanceError
	switch {
	case m.outcome == stream.OutcomeCancelled:
		v.status = fmt.Sprintf("%s: cancelled", m.label)
	case m.err == nil && m.outcome == stream.OutcomeFailed:
		v.status = fmt.Sprintf("%s: the agent reported an error", m.label)
	case m.err == nil:
		v.status = fmt.Sprintf("%s: done", m.label)
	case errors.Is(m.err, session.ErrTurnInFlight):
		v.status = "The agent is still answering; wait for it to finish."
	case errors.As(m.err, &advErr):
		v.status = fmt.Sprintf("The backend refused to advance to %s: %v", advErr.To.FriendlyName(), advErr.Err)
	default:
		v.status = fmt.Sprintf("%s failed: %v", m.label, m.err)
	}
}

func (v *workspaceView) toggleLatestDiagnostics() {
	c := v.ws.ChatController()
	if c == nil {
		return
	}
	groups := c.Snapshot().Groups
	for i := len(groups) - 1; i >= 0; i-- {
		if k := groups[i].Key(); groups[i].Len() > 0 && groups[i].Messages[0].IsDiagnostic() {
			v.expanded[k] = !v.expanded[k]
			return
		}
	}
}

// refresh re-renders the scrolling area from the controllers' state.
func (v *workspaceView) refresh() {
	switch {
	case v.phase.HasChat():
		c := v.ws.ChatController()
		if c == nil {
			return
		}
		v.viewport.SetContent(renderTranscript(c.Snapshot().Groups, v.expanded, v.md))
		v.viewport.GotoBottom()
	case v.phase == workflow.PhaseChapterWriting:
		v.viewport.SetContent(v.documentContent())
		if v.viewing < 0 {
			v.viewport.GotoBottom()
		}
	}
}

func (v *workspaceView) documentContent() string {
	if v.viewing >= 0 {
		ch, err := v.ws.Chapter(v.viewing)
		if err != nil {
			return errorStyle.Render(err.Error())
		}
		if ch.Content == "" {
			return hintStyle.Render("This chapter is empty. Press g on the frontier chapter to generate it.")
		}
		return v.md.render(ch.Content)
	}
	w := v.ws.WriterController()
	if w == nil {
		return hintStyle.Render("Select a chapter: Enter to read, g to generate the frontier chapter.")
	}
	return v.md.render(w.Snapshot().Content)
}

// View renders the workspace.
func (v *workspaceView) View() string {
	project := v.ws.Project()
	header := titleStyle.Render(project.Name) + hintStyle.Render(fmt.Sprintf("  (%s)", project.ID))
	sections := []string{header, renderPhaseBar(v.phase), ""}

	switch {
	case v.phase == workflow.PhaseOutline:
		saveStatus, err := v.ws.OutlineStatus()
		line := hintStyle.Render("Outline: " + saveStatus.String())
		if err != nil {
			line = errorStyle.Render(fmt.Sprintf("Outline: %s · %v", saveStatus, err))
		}
		sections = append(sections, v.editor.View(), line)
	case v.phase.HasChat():
		sections = append(sections, v.viewport.View(), v.input.View())
	default:
		sections = append(sections, v.renderWriting())
	}

	if v.status != "" {
		sections = append(sections, hintStyle.Render(v.status))
	}
	sections = append(sections, hintStyle.Render(v.hints()))
	return strings.Join(sections, "\n")
}

func (v *workspaceView) renderWriting() string {
	chapters := v.ws.Chapters()
	lines := []string{titleStyle.Render(fmt.Sprintf("Chapters (%d)", len(chapters)))}
	for i, ch := range chapters {
		lines = append(lines, renderChapterLine(ch, i == v.selected))
	}
	list := panelStyle.Width(chapterListWidth).Render(strings.Join(lines, "\n"))

	var logs string
	if w := v.ws.WriterController(); w != nil {
		snap := w.Snapshot()
		logs = renderLogs(snap.Logs, 6)
		if snap.Generating {
			logs = frontierStyle.Render("writing…") + "\n" + logs
		}
	} else {
		logs = renderLogs(nil, 6)
	}
	body := v.viewport.View()
	if v.editing >= 0 {
		body = titleStyle.Render(fmt.Sprintf("Editing chapter %d", v.editing+1)) + "\n" + v.chapterEditor.View()
	}
	right := lipgloss.JoinVertical(lipgloss.Left,
		panelStyle.Render(body),
		panelStyle.Render(logs),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, list, right)
}

func (v *workspaceView) hints() string {
	common := "Ctrl+N next phase · Ctrl+R refresh · Esc projects"
	switch {
	case v.phase == workflow.PhaseOutline:
		return "Ctrl+S save outline · " + common
	case v.phase.HasChat():
		return "Enter send · Tab toggle agent steps · " + common
	case v.editing >= 0:
		return "Ctrl+S save chapter · Esc stop editing"
	default:
		return "↑/↓ select · Enter read · e edit · g generate · " + common
	}
}
