package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind names the type tag of a streamed event.
type Kind string

const (
	KindThinking     Kind = "thinking"
	KindToolResult   Kind = "tool_result"
	KindToken        Kind = "token"
	KindContentChunk Kind = "content_chunk"
	KindEnd          Kind = "end"
	KindError        Kind = "error"
)

// Known reports whether k is one of the kinds this client understands.
func (k Kind) Known() bool {
	switch k {
	case KindThinking, KindToolResult, KindToken, KindContentChunk, KindEnd, KindError:
		return true
	default:
		return false
	}
}

// IsDiagnostic reports whether events of this kind describe the agent's
// intermediate work rather than its answer.
func (k Kind) IsDiagnostic() bool {
	return k == KindThinking || k == KindToolResult
}

// IsFragment reports whether events of this kind carry answer text.
func (k Kind) IsFragment() bool {
	return k == KindToken || k == KindContentChunk
}

// IsTerminal reports whether an event of this kind ends the turn.
func (k Kind) IsTerminal() bool {
	return k == KindEnd || k == KindError
}

// Event is one typed notification decoded from a stream payload.
type Event struct {
	Kind Kind   `json:"type"`
	Data string `json:"data"`
}

var (
	// ErrMalformedEvent reports a payload that is not a JSON object with a type.
	ErrMalformedEvent = errors.New("stream: malformed event")
	// ErrUnknownKind reports a well-formed event with an unrecognised type.
	ErrUnknownKind = errors.New("stream: unknown event kind")
)

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Parse decodes one payload into an Event.
func Parse(payload string) (Event, error) {
	var raw wireEvent
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	kind := Kind(strings.TrimSpace(raw.Type))
	if kind == "" {
		return Event{}, fmt.Errorf("%w: type is required", ErrMalformedEvent)
	}
	data, err := decodeData(raw.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: data: %v", ErrMalformedEvent, err)
	}
	if !kind.Known() {
		return Event{Kind: kind, Data: data}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return Event{Kind: kind, Data: data}, nil
}

// decodeData accepts a JSON string, null or an absent field. Any other JSON
// value is kept verbatim so newer servers do not break older clients.
func decodeData(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] != '"' {
		return string(trimmed), nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Frame renders ev in the wire framing used by the backend.
func Frame(ev Event) ([]byte, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("stream: encode event: %w", err)
	}
	out := make([]byte, 0, len(body)+8)
	out = append(out, "data: "...)
	out = append(out, body...)
	out = append(out, '\n', '\n')
	return out, nil
}
