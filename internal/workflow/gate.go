package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongPhase rejects an action whose phase is not the occupied one.
	// Earlier phases are read-only, later ones not yet reachable.
	ErrWrongPhase = errors.New("workflow: action not available in this phase")
	// ErrChapterLocked rejects access to a chapter past the writable cursor.
	ErrChapterLocked = errors.New("workflow: chapter is locked")
	// ErrNoSuchChapter rejects an index outside the chapter list.
	ErrNoSuchChapter = errors.New("workflow: no such chapter")
	// ErrNotFrontier rejects generation of any chapter but the cursor's.
	ErrNotFrontier = errors.New("workflow: only the frontier chapter can be generated")
	// ErrTerminalPhase rejects advancing out of the last phase.
	ErrTerminalPhase = errors.New("workflow: already in the final phase")
	// ErrExitPrecondition rejects advancing before the phase is finished.
	ErrExitPrecondition = errors.New("workflow: phase exit condition not met")
	// ErrUnknownAction rejects actions the gate does not know.
	ErrUnknownAction = errors.New("workflow: unknown action")
)

// State is everything the gate looks at. It is a value; callers build it
// from their current view of the project.
type State struct {
	Phase        Phase
	Cursor       *int
	ChapterCount int
	// OutlineSaved is true when the most recent outline save succeeded and
	// nothing has been edited since.
	OutlineSaved bool
	// TurnInFlight is true while any chat or generation turn is streaming.
	TurnInFlight bool
}

// Request names the action and, for chapter actions, the chapter index.
type Request struct {
	Action  Action
	Chapter int
}

// DenyError explains a refused request.
type DenyError struct {
	Request Request
	Phase   Phase
	Reason  error
	Detail  string
}

func (e *DenyError) Error() string {
	msg := fmt.Sprintf("%s denied in %s", e.Request.Action, e.Phase)
	if e.Request.Action.ChapterScoped() {
		msg = fmt.Sprintf("%s %d denied in %s", e.Request.Action, e.Request.Chapter, e.Phase)
	}
	msg += ": " + e.Reason.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *DenyError) Unwrap() error {
	return e.Reason
}

// Decision is the gate's answer. For ActionAdvancePhase an allowed decision
// carries the target phase in Next.
type Decision struct {
	Allowed bool
	Next    Phase
	Err     *DenyError
}

// Error returns the denial as an error, or nil when allowed.
func (d Decision) Error() error {
	if d.Allowed || d.Err == nil {
		return nil
	}
	return d.Err
}

// Authorize decides whether req may proceed in state. It performs no I/O and
// its answer depends only on its arguments.
func Authorize(state State, req Request) Decision {
	deny := func(reason error, detail string) Decision {
		return Decision{Err: &DenyError{Request: req, Phase: state.Phase, Reason: reason, Detail: detail}}
	}

	if !req.Action.known() {
		return deny(ErrUnknownAction, "")
	}
	if req.Action == ActionAdvancePhase {
		return authorizeAdvance(state, deny)
	}

	phase, _ := req.Action.Phase()
	if phase != state.Phase {
		return deny(ErrWrongPhase, "belongs to "+phase.String())
	}
	if !req.Action.ChapterScoped() {
		return Decision{Allowed: true}
	}

	if req.Chapter < 0 || req.Chapter >= state.ChapterCount {
		return deny(ErrNoSuchChapter, fmt.Sprintf("%d chapters", state.ChapterCount))
	}
	if ChapterLock(state.Cursor, req.Chapter) == Locked {
		return deny(ErrChapterLocked, cursorDetail(state.Cursor))
	}
	if req.Action == ActionGenerateChapter && !IsFrontier(state.Cursor, req.Chapter) {
		return deny(ErrNotFrontier, cursorDetail(state.Cursor))
	}
	return Decision{Allowed: true}
}

// Check is Authorize reduced to an error.
func Check(state State, req Request) error {
	return Authorize(state, req).Error()
}

func authorizeAdvance(state State, deny func(error, string) Decision) Decision {
	if !state.Phase.Valid() {
		return deny(ErrWrongPhase, "unknown phase")
	}
	if state.Phase.IsTerminal() {
		return deny(ErrTerminalPhase, "")
	}
	if state.TurnInFlight {
		return deny(ErrExitPrecondition, "a turn is still streaming")
	}
	switch state.Phase {
	case PhaseOutline:
		if !state.OutlineSaved {
			return deny(ErrExitPrecondition, "outline has unsaved or invalid changes")
		}
	case PhaseChaptering:
		if state.ChapterCount == 0 {
			return deny(ErrExitPrecondition, "no chapters planned")
		}
	}
	return Decision{Allowed: true, Next: state.Phase.Next()}
}

func cursorDetail(cursor *int) string {
	if cursor == nil {
		return "no writable chapter"
	}
	return fmt.Sprintf("writable up to %d", *cursor)
}
