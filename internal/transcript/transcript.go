package transcript

import (
	"github.com/google/uuid"

	"github.com/shadow3aaa/PlotWeave/internal/stream"
)

// Transcript is the ordered message list of a chat session.
type Transcript struct {
	messages []Message
	newID    func() string
}

// Option customizes a Transcript.
type Option func(*Transcript)

// WithIDGenerator replaces the uuid generator, mainly for tests.
func WithIDGenerator(gen func() string) Option {
	return func(t *Transcript) {
		if gen != nil {
			t.newID = gen
		}
	}
}

// New returns an empty transcript.
func New(opts ...Option) *Transcript {
	t := &Transcript{newID: uuid.NewString}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AppendUser records a submission and the empty assistant answer it awaits.
// It returns the placeholder's ID, which addresses the turn's events.
func (t *Transcript) AppendUser(text string) string {
	user := Message{ID: t.newID(), Role: RoleUser, Content: text}
	placeholder := Message{ID: t.newID(), Role: RoleAssistant, Kind: KindFinal}
	t.messages = append(t.messages, user, placeholder)
	return placeholder.ID
}

// Apply folds ev into the turn whose placeholder is targetID. Diagnostic
// events become new messages just before the placeholder, answer fragments
// are appended to it, error events append a marker, end is a no-op.
func (t *Transcript) Apply(ev stream.Event, targetID string) {
	switch {
	case ev.Kind.IsDiagnostic():
		t.insertBefore(targetID, Message{
			ID:      t.newID(),
			Role:    RoleAssistant,
			Kind:    kindOf(ev.Kind),
			Content: ev.Data,
		})
	case ev.Kind.IsFragment():
		if i := t.indexOf(targetID); i >= 0 {
			t.messages[i].Content += ev.Data
		}
	case ev.Kind == stream.KindError:
		t.mark(targetID, ev.Data)
	}
}

// Fail appends a transport failure marker to the target.
func (t *Transcript) Fail(targetID string, err error) {
	if err == nil {
		return
	}
	t.mark(targetID, err.Error())
}

// Bind returns a Target that addresses targetID.
func (t *Transcript) Bind(targetID string) Target {
	return boundTarget{t: t, id: targetID}
}

// Messages returns a copy of the message list.
func (t *Transcript) Messages() []Message {
	return append([]Message(nil), t.messages...)
}

// Message returns the message with the given ID.
func (t *Transcript) Message(id string) (Message, bool) {
	i := t.indexOf(id)
	if i < 0 {
		return Message{}, false
	}
	return t.messages[i], true
}

// Len reports the number of messages, placeholders included.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Group folds the current messages into render groups.
func (t *Transcript) Group() []Group {
	return GroupMessages(t.messages)
}

// Reset drops every message.
func (t *Transcript) Reset() {
	t.messages = nil
}

func (t *Transcript) mark(targetID, msg string) {
	if i := t.indexOf(targetID); i >= 0 {
		m := &t.messages[i]
		if !m.marked {
			m.marked = true
			m.bodyLen = len(m.Content)
		}
		m.Content = FormatError(m.Content, msg)
	}
}

func (t *Transcript) insertBefore(targetID string, m Message) {
	i := t.indexOf(targetID)
	if i < 0 {
		t.messages = append(t.messages, m)
		return
	}
	t.messages = append(t.messages, Message{})
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
}

func (t *Transcript) indexOf(id string) int {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

type boundTarget struct {
	t  *Transcript
	id string
}

func (b boundTarget) Apply(ev stream.Event) { b.t.Apply(ev, b.id) }
func (b boundTarget) Fail(err error)        { b.t.Fail(b.id, err) }
