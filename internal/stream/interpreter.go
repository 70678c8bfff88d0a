package stream

import (
	"context"
	"errors"
	"io"
)

// ErrStreamClosed reports a stream that reached end of data before an end or
// error event.
var ErrStreamClosed = errors.New("stream: closed before end of turn")

// Handler consumes interpreted events in arrival order.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(Event)

// HandleEvent executes f(ev).
func (f HandlerFunc) HandleEvent(ev Event) {
	if f == nil {
		return
	}
	f(ev)
}

// Interpreter turns payloads into events, dropping the ones it cannot use.
type Interpreter struct {
	logger  Logger
	dropped int
}

// NewInterpreter returns an Interpreter that reports dropped payloads to
// logger. A nil logger discards them.
func NewInterpreter(logger Logger) *Interpreter {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Interpreter{logger: logger}
}

// Interpret parses payload. Malformed payloads and unknown kinds are logged
// and reported with ok=false; neither stops the stream.
func (i *Interpreter) Interpret(payload string) (Event, bool) {
	ev, err := Parse(payload)
	if err == nil {
		return ev, true
	}
	i.dropped++
	switch {
	case errors.Is(err, ErrUnknownKind):
		i.logger.Debugf("stream: ignoring event: %v", err)
	default:
		i.logger.Printf("stream: dropping payload %q: %v", truncate(payload, 120), err)
	}
	return Event{}, false
}

// Dropped counts payloads rejected so far.
func (i *Interpreter) Dropped() int {
	return i.dropped
}

// Outcome reports how a pumped stream ended.
type Outcome int

const (
	// OutcomeEOF means the stream ended without a terminal event.
	OutcomeEOF Outcome = iota
	// OutcomeEnded means an end event arrived.
	OutcomeEnded
	// OutcomeFailed means an error event arrived.
	OutcomeFailed
	// OutcomeCancelled means the context was cancelled mid-stream.
	OutcomeCancelled
	// OutcomeBroken means reading the stream failed.
	OutcomeBroken
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEOF:
		return "eof"
	case OutcomeEnded:
		return "ended"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Pump decodes r and delivers every usable event to h, one at a time, until a
// terminal event, end of data, a read failure or cancellation of ctx. The
// caller owns r and should tie its lifetime to ctx (an HTTP response body
// does this already) so a blocked read is released on cancellation.
//
// The returned error is non-nil for transport problems only: a read failure,
// an oversized frame, or ErrStreamClosed when data ran out mid-turn.
// Cancellation returns ctx.Err() with OutcomeCancelled and is otherwise
// silent. Error events are delivered to h and reported as OutcomeFailed.
func Pump(ctx context.Context, r io.Reader, h Handler, opts ...Option) (Outcome, error) {
	o := buildOptions(opts)
	dec := NewDecoder(r, opts...)
	interp := NewInterpreter(o.logger)
	for dec.Next() {
		if err := ctx.Err(); err != nil {
			return OutcomeCancelled, err
		}
		ev, ok := interp.Interpret(dec.Payload())
		if !ok {
			continue
		}
		h.HandleEvent(ev)
		switch ev.Kind {
		case KindEnd:
			return OutcomeEnded, nil
		case KindError:
			return OutcomeFailed, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return OutcomeCancelled, err
	}
	if err := dec.Err(); err != nil {
		return OutcomeBroken, err
	}
	return OutcomeEOF, ErrStreamClosed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
