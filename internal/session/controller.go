// Package session runs streaming turns against the backend and keeps the
// per-project workspace state the workflow gate is evaluated against.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/transcript"
)

var (
	// ErrTurnInFlight is returned when a submission arrives while a turn is
	// still streaming. The submission was ignored; callers may drop it.
	ErrTurnInFlight = errors.New("session: a turn is already streaming")
	// ErrWrongTurnKind is returned when a chat controller is asked to
	// generate or a generation controller receives a chat message.
	ErrWrongTurnKind = errors.New("session: operation does not match the controller's turn kind")
)

// TurnKind selects what a Controller streams into.
type TurnKind interface {
	isTurnKind()
	String() string
}

// ChatTurn streams agent replies into a transcript.
type ChatTurn struct {
	Stage backend.ChatStage
}

// GenerationTurn streams a chapter draft into a document.
type GenerationTurn struct {
	Chapter int
}

func (ChatTurn) isTurnKind()       {}
func (GenerationTurn) isTurnKind() {}

func (t ChatTurn) String() string       { return "chat:" + string(t.Stage) }
func (t GenerationTurn) String() string { return fmt.Sprintf("generate:%d", t.Chapter) }

// Streamer opens turn streams. *backend.Client satisfies it.
type Streamer interface {
	OpenChat(ctx context.Context, projectID string, stage backend.ChatStage, message string) (io.ReadCloser, error)
	StartGeneration(ctx context.Context, projectID string, index int) error
	OpenGenerationStream(ctx context.Context, projectID string, index int) (io.ReadCloser, error)
}

// Logger matches the method set of *logging.Logger used here.
type Logger interface {
	Printf(format string, args ...any)
	Debugf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
func (nopLogger) Debugf(string, ...any) {}

// Snapshot is a copy of a controller's state, safe to render.
type Snapshot struct {
	Kind       TurnKind
	Generating bool
	Messages   []transcript.Message
	Groups     []transcript.Group
	Content    string
	Logs       []transcript.LogEntry
	LastErr    error
}

// Hooks observe a controller. Every hook runs on the turn's goroutine, in
// event order, without the controller's lock held.
type Hooks struct {
	// OnUpdate runs after every change to the transcript or document.
	OnUpdate func(Snapshot)
	// OnEvent runs for every interpreted event, before OnUpdate.
	OnEvent func(stream.Event)
	// OnDone runs once per started turn.
	OnDone func(TurnKind, stream.Outcome, error)
}

// Controller owns one conversation or one chapter's generation. At most one
// turn streams at a time; the generating flag is the only admission check.
type Controller struct {
	projectID string
	kind      TurnKind
	streamer  Streamer
	logger    Logger
	maxFrame  int
	hooks     Hooks

	mu         sync.Mutex
	generating bool
	transcript *transcript.Transcript
	document   *transcript.Document
	lastErr    error
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithHooks installs observation hooks.
func WithHooks(h Hooks) ControllerOption {
	return func(c *Controller) { c.hooks = h }
}

// WithControllerLogger overrides the default no-op logger.
func WithControllerLogger(l Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMaxFrameBytes bounds stream frames.
func WithMaxFrameBytes(n int) ControllerOption {
	return func(c *Controller) { c.maxFrame = n }
}

// WithTranscript supplies the transcript, mainly to control message IDs.
func WithTranscript(t *transcript.Transcript) ControllerOption {
	return func(c *Controller) {
		if t != nil {
			c.transcript = t
		}
	}
}

// NewController returns an idle controller for projectID.
func NewController(projectID string, kind TurnKind, streamer Streamer, opts ...ControllerOption) *Controller {
	c := &Controller{
		projectID:  projectID,
		kind:       kind,
		streamer:   streamer,
		logger:     nopLogger{},
		transcript: transcript.New(),
		document:   transcript.NewDocument(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kind returns the controller's turn kind.
func (c *Controller) Kind() TurnKind {
	return c.kind
}

// Generating reports whether a turn is streaming.
func (c *Controller) Generating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generating
}

// Snapshot copies the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Reset clears the transcript and document. It is refused mid-turn.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.transcript.Reset()
	c.document.Reset()
	c.lastErr = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitUpdate(snap)
	return nil
}

// Submit sends text as a chat turn and streams the reply until the turn ends.
// While another turn is streaming the submission is ignored: nothing is
// appended, nothing is sent, and ErrTurnInFlight is returned.
func (c *Controller) Submit(ctx context.Context, text string) (stream.Outcome, error) {
	chat, ok := c.kind.(ChatTurn)
	if !ok {
		return stream.OutcomeEOF, ErrWrongTurnKind
	}

	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return stream.OutcomeEOF, ErrTurnInFlight
	}
	c.generating = true
	c.lastErr = nil
	targetID := c.transcript.AppendUser(text)
	target := c.transcript.Bind(targetID)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitUpdate(snap)

	return c.run(ctx, target, func(ctx context.Context) (io.ReadCloser, error) {
		return c.streamer.OpenChat(ctx, c.projectID, chat.Stage, text)
	})
}

// Generate starts generation of the controller's chapter and streams the
// draft until the turn ends. The document is cleared first.
func (c *Controller) Generate(ctx context.Context) (stream.Outcome, error) {
	gen, ok := c.kind.(GenerationTurn)
	if !ok {
		return stream.OutcomeEOF, ErrWrongTurnKind
	}

	c.mu.Lock()
	if c.generating {
		c.mu.Unlock()
		return stream.OutcomeEOF, ErrTurnInFlight
	}
	c.generating = true
	c.lastErr = nil
	c.document.Reset()
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitUpdate(snap)

	return c.run(ctx, c.document, func(ctx context.Context) (io.ReadCloser, error) {
		if err := c.streamer.StartGeneration(ctx, c.projectID, gen.Chapter); err != nil {
			return nil, err
		}
		return c.streamer.OpenGenerationStream(ctx, c.projectID, gen.Chapter)
	})
}

func (c *Controller) run(ctx context.Context, target transcript.Target, open func(context.Context) (io.ReadCloser, error)) (stream.Outcome, error) {
	outcome, err := c.stream(ctx, target, open)
	switch {
	case outcome == stream.OutcomeCancelled:
		c.logger.Debugf("session: %s turn cancelled", c.kind)
	case err != nil:
		c.logger.Printf("session: %s turn failed: %v", c.kind, err)
		c.mu.Lock()
		target.Fail(err)
		c.lastErr = err
		c.mu.Unlock()
	}

	c.mu.Lock()
	c.generating = false
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.emitUpdate(snap)
	if c.hooks.OnDone != nil {
		c.hooks.OnDone(c.kind, outcome, err)
	}
	return outcome, err
}

func (c *Controller) stream(ctx context.Context, target transcript.Target, open func(context.Context) (io.ReadCloser, error)) (stream.Outcome, error) {
	body, err := open(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stream.OutcomeCancelled, ctxErr
		}
		return stream.OutcomeBroken, err
	}
	defer body.Close()
	// Unblocks a read parked on a body that ignores ctx.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	handler := stream.HandlerFunc(func(ev stream.Event) {
		c.mu.Lock()
		target.Apply(ev)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		if c.hooks.OnEvent != nil {
			c.hooks.OnEvent(ev)
		}
		c.emitUpdate(snap)
	})
	return stream.Pump(ctx, body, handler,
		stream.WithLogger(c.logger),
		stream.WithMaxFrameBytes(c.maxFrame),
	)
}

func (c *Controller) emitUpdate(snap Snapshot) {
	if c.hooks.OnUpdate != nil {
		c.hooks.OnUpdate(snap)
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Kind:       c.kind,
		Generating: c.generating,
		Messages:   c.transcript.Messages(),
		Groups:     c.transcript.Group(),
		Content:    c.document.Content(),
		Logs:       c.document.Logs(),
		LastErr:    c.lastErr,
	}
}
