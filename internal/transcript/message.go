// Package transcript folds streamed events into the messages a user sees.
//
// Two targets exist: Transcript for conversational turns and Document for
// chapter generation. Both are plain data structures; callers serialize
// access and re-render after every applied event.
package transcript

import (
	"strings"

	"github.com/shadow3aaa/PlotWeave/internal/stream"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind classifies assistant messages. User messages carry KindNone.
type Kind string

const (
	KindNone       Kind = ""
	KindThinking   Kind = "thinking"
	KindToolResult Kind = "tool_result"
	KindFinal      Kind = "final"
)

// Message is one entry in a conversation.
type Message struct {
	ID      string
	Role    Role
	Kind    Kind
	Content string

	// marked is set once an error marker was appended; bodyLen is the
	// length of Content before the first one.
	marked  bool
	bodyLen int
}

// SplitMarkers separates the answer text from the error markers appended to
// it. Text that merely looks like a marker stays in the body.
func (m Message) SplitMarkers() (body, markers string) {
	if !m.marked || m.bodyLen > len(m.Content) {
		return m.Content, ""
	}
	return m.Content[:m.bodyLen], strings.TrimLeft(m.Content[m.bodyLen:], "\n")
}

// IsDiagnostic reports whether m records the agent's intermediate work.
func (m Message) IsDiagnostic() bool {
	return m.Kind == KindThinking || m.Kind == KindToolResult
}

// IsPlaceholder reports whether m is an assistant answer that has not
// received any content yet.
func (m Message) IsPlaceholder() bool {
	return m.Role == RoleAssistant && m.Kind == KindFinal && m.Content == ""
}

func kindOf(k stream.Kind) Kind {
	switch k {
	case stream.KindThinking:
		return KindThinking
	case stream.KindToolResult:
		return KindToolResult
	default:
		return KindNone
	}
}

// ErrorMarkerPrefix starts every error marker appended to a message.
const ErrorMarkerPrefix = "[error] "

// FormatError renders msg as a visible marker appended to existing content.
func FormatError(existing, msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown error"
	}
	if existing == "" {
		return ErrorMarkerPrefix + msg
	}
	return existing + "\n\n" + ErrorMarkerPrefix + msg
}

// Target receives the events of one turn.
type Target interface {
	Apply(ev stream.Event)
	Fail(err error)
}
