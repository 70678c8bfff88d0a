package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/outline"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

// ErrUnavailable wraps any failure to load a project when opening it.
var ErrUnavailable = errors.New("session: project unavailable")

// AdvanceError reports a phase transition the backend refused or never
// acknowledged. The local phase is unchanged.
type AdvanceError struct {
	From workflow.Phase
	To   workflow.Phase
	Err  error
}

func (e *AdvanceError) Error() string {
	return fmt.Sprintf("session: advance %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *AdvanceError) Unwrap() error {
	return e.Err
}

// Backend is the slice of the backend client a workspace drives.
type Backend interface {
	Streamer
	Pinger
	outline.Saver
	GetProject(ctx context.Context, projectID string) (backend.Project, error)
	UpdateProjectPhase(ctx context.Context, projectID string, phase workflow.Phase) (backend.Project, error)
	GetOutline(ctx context.Context, projectID string) (string, error)
	ListChapters(ctx context.Context, projectID string) ([]backend.Chapter, error)
	GetChapter(ctx context.Context, projectID string, index int) (backend.Chapter, error)
	UpdateChapter(ctx context.Context, projectID string, index int, content string) (backend.Chapter, error)
	WritableCursor(ctx context.Context, projectID string) (*int, error)
}

// ChapterView is a chapter as the workspace presents it.
type ChapterView struct {
	backend.Chapter
	Lock     workflow.LockState
	Frontier bool
}

// Option customizes a Workspace.
type Option func(*Workspace)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithControllerHooks installs hooks on every controller the workspace creates.
func WithControllerHooks(h Hooks) Option {
	return func(w *Workspace) { w.hooks = h }
}

// WithFrameLimit bounds stream frames of every turn.
func WithFrameLimit(n int) Option {
	return func(w *Workspace) { w.maxFrame = n }
}

// Workspace is an open project: its metadata, outline buffer, chapters and
// the controllers streaming into them. Every mutating call is checked by the
// workflow gate before any request is sent.
type Workspace struct {
	backend  Backend
	logger   Logger
	hooks    Hooks
	maxFrame int
	saver    *outline.AutoSaver

	mu        sync.RWMutex
	project   backend.Project
	outline   string
	chapters  []backend.Chapter
	cursor    workflow.Cursor
	chat      *Controller
	writer    *Controller
	heartbeat *Heartbeat
}

// Open loads projectID. The project, its outline, chapters and cursor are
// fetched concurrently; any failure is wrapped in ErrUnavailable.
func Open(ctx context.Context, b Backend, projectID string, opts ...Option) (*Workspace, error) {
	w := &Workspace{backend: b, logger: nopLogger{}}
	for _, opt := range opts {
		opt(w)
	}

	var (
		project  backend.Project
		text     string
		chapters []backend.Chapter
		cursor   *int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		project, err = b.GetProject(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		text, err = b.GetOutline(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		chapters, err = b.ListChapters(gctx, projectID)
		return err
	})
	g.Go(func() (err error) {
		cursor, err = b.WritableCursor(gctx, projectID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, projectID, err)
	}
	if !project.Phase.Valid() {
		return nil, fmt.Errorf("%w: %s: unknown phase %d", ErrUnavailable, projectID, int(project.Phase))
	}

	if project.ID == "" {
		project.ID = projectID
	}
	w.project = project
	w.outline = text
	w.chapters = chapters
	w.cursor.Observe(cursor)
	w.saver = outline.NewAutoSaver(b, projectID, w.logger)
	w.saver.MarkSaved(text)
	w.chat = w.newChatController(project.Phase)
	w.logger.Printf("session: opened %s in %s", projectID, project.Phase)
	return w, nil
}

// Project returns the project metadata as last seen.
func (w *Workspace) Project() backend.Project {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.project
}

// Phase returns the local phase.
func (w *Workspace) Phase() workflow.Phase {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.project.Phase
}

// Cursor returns the writable cursor, nil when no chapter is writable.
func (w *Workspace) Cursor() *int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cursor.Value()
}

// Outline returns the outline buffer.
func (w *Workspace) Outline() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.outline
}

// OutlineStatus returns the auto-save status of the outline buffer.
func (w *Workspace) OutlineStatus() (outline.Status, error) {
	return w.saver.Status(), w.saver.Err()
}

// Chapters returns every chapter with its lock state.
func (w *Workspace) Chapters() []ChapterView {
	w.mu.RLock()
	defer w.mu.RUnlock()
	cursor := w.cursor.Value()
	views := make([]ChapterView, len(w.chapters))
	for i, ch := range w.chapters {
		views[i] = ChapterView{
			Chapter:  ch,
			Lock:     workflow.ChapterLock(cursor, i),
			Frontier: workflow.IsFrontier(cursor, i),
		}
	}
	return views
}

// ChatController returns the controller of the current phase's chat, or nil
// when the phase has none.
func (w *Workspace) ChatController() *Controller {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.chat
}

// WriterController returns the controller of the most recent generation.
func (w *Workspace) WriterController() *Controller {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.writer
}

// State builds the gate's view of the workspace.
func (w *Workspace) State() workflow.State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stateLocked()
}

// Authorize asks the gate whether action on chapter may run now.
func (w *Workspace) Authorize(action workflow.Action, chapter int) error {
	return workflow.Check(w.State(), workflow.Request{Action: action, Chapter: chapter})
}

// EditOutline replaces the outline buffer without saving it.
func (w *Workspace) EditOutline(text string) error {
	if err := w.Authorize(workflow.ActionEditOutline, 0); err != nil {
		return err
	}
	w.mu.Lock()
	w.outline = text
	w.mu.Unlock()
	w.saver.Edit(text)
	return nil
}

// SaveOutline validates and writes text as the outline.
func (w *Workspace) SaveOutline(ctx context.Context, text string) error {
	if err := w.Authorize(workflow.ActionSaveOutline, 0); err != nil {
		return err
	}
	w.mu.Lock()
	w.outline = text
	w.mu.Unlock()
	return w.saver.Save(ctx, text)
}

// Chat sends text to the current phase's conversation and streams the reply.
// After a chaptering turn the chapter list is re-fetched.
func (w *Workspace) Chat(ctx context.Context, text string) (stream.Outcome, error) {
	w.mu.RLock()
	chat := w.chat
	phase := w.project.Phase
	w.mu.RUnlock()

	stage, ok := backend.StageFor(phase)
	action := workflow.ActionWorldChat
	if ok {
		action = stage.Action()
	}
	if err := w.Authorize(action, 0); err != nil {
		return stream.OutcomeEOF, err
	}

	outcome, err := chat.Submit(ctx, text)
	if errors.Is(err, ErrTurnInFlight) {
		return outcome, err
	}
	if stage == backend.StageChapters {
		if rerr := w.RefreshChapters(ctx); rerr != nil {
			w.logger.Printf("session: refresh chapters after chat: %v", rerr)
		}
	}
	return outcome, err
}

// Generate asks the backend to write chapter index and streams the draft.
// Afterwards the chapters and cursor are re-fetched.
func (w *Workspace) Generate(ctx context.Context, index int) (stream.Outcome, error) {
	if err := w.Authorize(workflow.ActionGenerateChapter, index); err != nil {
		return stream.OutcomeEOF, err
	}

	w.mu.Lock()
	if w.writer != nil && w.writer.Generating() {
		w.mu.Unlock()
		return stream.OutcomeEOF, ErrTurnInFlight
	}
	if w.writer == nil || w.writer.Kind() != (GenerationTurn{Chapter: index}) {
		w.writer = NewController(w.project.ID, GenerationTurn{Chapter: index}, w.backend, w.controllerOptions()...)
	}
	writer := w.writer
	w.mu.Unlock()

	outcome, err := writer.Generate(ctx)
	if errors.Is(err, ErrTurnInFlight) {
		return outcome, err
	}
	if rerr := w.Refresh(ctx); rerr != nil {
		w.logger.Printf("session: refresh after generation: %v", rerr)
	}
	return outcome, err
}

// SaveChapter writes content to chapter index.
func (w *Workspace) SaveChapter(ctx context.Context, index int, content string) error {
	if err := w.Authorize(workflow.ActionSaveChapter, index); err != nil {
		return err
	}
	w.mu.RLock()
	projectID := w.project.ID
	w.mu.RUnlock()

	ch, err := w.backend.UpdateChapter(ctx, projectID, index, content)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if index < len(w.chapters) {
		w.chapters[index] = ch
	}
	w.mu.Unlock()
	return w.RefreshCursor(ctx)
}

// Chapter returns chapter index if it may be viewed.
func (w *Workspace) Chapter(index int) (backend.Chapter, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	req := workflow.Request{Action: workflow.ActionViewChapter, Chapter: index}
	if err := workflow.Check(w.stateLocked(), req); err != nil {
		return backend.Chapter{}, err
	}
	return w.chapters[index], nil
}

// LoadChapter re-fetches chapter index for editing and stores the result.
func (w *Workspace) LoadChapter(ctx context.Context, index int) (backend.Chapter, error) {
	if err := w.Authorize(workflow.ActionEditChapter, index); err != nil {
		return backend.Chapter{}, err
	}
	w.mu.RLock()
	projectID := w.project.ID
	w.mu.RUnlock()

	ch, err := w.backend.GetChapter(ctx, projectID, index)
	if err != nil {
		return backend.Chapter{}, err
	}
	w.mu.Lock()
	if index < len(w.chapters) {
		w.chapters[index] = ch
	}
	w.mu.Unlock()
	return ch, nil
}

// Advance moves the project to the next phase. The local phase changes only
// after the backend acknowledges; from then on earlier-phase actions are
// refused without a re-fetch. The chat controller is replaced by one for the
// new phase.
func (w *Workspace) Advance(ctx context.Context) (workflow.Phase, error) {
	decision := workflow.Authorize(w.State(), workflow.Request{Action: workflow.ActionAdvancePhase})
	if err := decision.Error(); err != nil {
		return w.Phase(), err
	}

	w.mu.RLock()
	from := w.project.Phase
	projectID := w.project.ID
	w.mu.RUnlock()

	project, err := w.backend.UpdateProjectPhase(ctx, projectID, decision.Next)
	if err != nil {
		return from, &AdvanceError{From: from, To: decision.Next, Err: err}
	}

	w.mu.Lock()
	if project.ID == projectID {
		w.project = project
	}
	w.project.Phase = decision.Next
	w.chat = w.newChatController(decision.Next)
	w.mu.Unlock()
	w.logger.Printf("session: %s advanced %s -> %s", projectID, from, decision.Next)

	if decision.Next == workflow.PhaseChapterWriting {
		if err := w.RefreshCursor(ctx); err != nil {
			w.logger.Printf("session: refresh cursor after advance: %v", err)
		}
	}
	return decision.Next, nil
}

// Refresh re-fetches the project, chapters and cursor. The local phase never
// moves backwards on refresh.
func (w *Workspace) Refresh(ctx context.Context) error {
	w.mu.RLock()
	projectID := w.project.ID
	w.mu.RUnlock()

	project, err := w.backend.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	if project.Phase >= w.project.Phase && project.Phase.Valid() {
		if project.Phase != w.project.Phase {
			w.chat = w.newChatController(project.Phase)
		}
		w.project = project
	}
	w.mu.Unlock()

	if err := w.RefreshChapters(ctx); err != nil {
		return err
	}
	return w.RefreshCursor(ctx)
}

// RefreshChapters re-fetches the chapter list.
func (w *Workspace) RefreshChapters(ctx context.Context) error {
	w.mu.RLock()
	projectID := w.project.ID
	w.mu.RUnlock()

	chapters, err := w.backend.ListChapters(ctx, projectID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.chapters = chapters
	w.mu.Unlock()
	return nil
}

// RefreshCursor re-fetches the writable cursor. Values that would re-lock an
// unlocked chapter are ignored and logged.
func (w *Workspace) RefreshCursor(ctx context.Context) error {
	w.mu.RLock()
	projectID := w.project.ID
	w.mu.RUnlock()

	next, err := w.backend.WritableCursor(ctx, projectID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	_, regressed := w.cursor.Observe(next)
	w.mu.Unlock()
	if regressed {
		w.logger.Printf("session: ignored cursor regression for %s", projectID)
	}
	return nil
}

// StartHeartbeat begins renewing the project's lease. Close stops it.
func (w *Workspace) StartHeartbeat(ctx context.Context, interval time.Duration) *Heartbeat {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.heartbeat != nil {
		return w.heartbeat
	}
	w.heartbeat = StartHeartbeat(ctx, w.backend, w.project.ID, interval, w.logger)
	return w.heartbeat
}

// Close stops the heartbeat if one is running.
func (w *Workspace) Close() {
	w.mu.Lock()
	hb := w.heartbeat
	w.heartbeat = nil
	w.mu.Unlock()
	hb.Stop()
}

func (w *Workspace) stateLocked() workflow.State {
	inFlight := false
	if w.chat != nil && w.chat.Generating() {
		inFlight = true
	}
	if w.writer != nil && w.writer.Generating() {
		inFlight = true
	}
	return workflow.State{
		Phase:        w.project.Phase,
		Cursor:       w.cursor.Value(),
		ChapterCount: len(w.chapters),
		OutlineSaved: w.saver.LastSaveSucceeded(),
		TurnInFlight: inFlight,
	}
}

func (w *Workspace) newChatController(phase workflow.Phase) *Controller {
	stage, ok := backend.StageFor(phase)
	if !ok {
		return nil
	}
	return NewController(w.project.ID, ChatTurn{Stage: stage}, w.backend, w.controllerOptions()...)
}

func (w *Workspace) controllerOptions() []ControllerOption {
	return []ControllerOption{
		WithHooks(w.hooks),
		WithControllerLogger(w.logger),
		WithMaxFrameBytes(w.maxFrame),
	}
}
