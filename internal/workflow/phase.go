// internal/workflow/phase.go
//
// Phases of the authoring workflow. A project occupies exactly one phase at a
// time, the value is owned by the backend, and it only ever moves forward one
// step at a time.

package workflow

import "fmt"

// Phase represents a stage in the authoring workflow
type Phase int

const (
	PhaseOutline Phase = iota
	PhaseWorldSetup
	PhaseChaptering
	PhaseChapterWriting
)

// Phases lists every phase in workflow order.
func Phases() []Phase {
	return []Phase{PhaseOutline, PhaseWorldSetup, PhaseChaptering, PhaseChapterWriting}
}

// ParsePhase converts the backend's ordinal into a Phase.
func ParsePhase(n int) (Phase, error) {
	p := Phase(n)
	if !p.Valid() {
		return 0, fmt.Errorf("workflow: unknown phase %d", n)
	}
	return p, nil
}

// String returns the canonical name for the phase
func (p Phase) String() string {
	switch p {
	case PhaseOutline:
		return "OUTLINE"
	case PhaseWorldSetup:
		return "WORLD_SETUP"
	case PhaseChaptering:
		return "CHAPTERING"
	case PhaseChapterWriting:
		return "CHAPTER_WRITING"
	default:
		return "UNKNOWN"
	}
}

// FriendlyName returns a short description suitable for menu display
func (p Phase) FriendlyName() string {
	switch p {
	case PhaseOutline:
		return "Outline"
	case PhaseWorldSetup:
		return "World Setup"
	case PhaseChaptering:
		return "Chaptering"
	case PhaseChapterWriting:
		return "Chapter Writing"
	default:
		return p.String()
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p >= PhaseOutline && p <= PhaseChapterWriting
}

// Next returns the next phase in the workflow
func (p Phase) Next() Phase {
	if p >= PhaseChapterWriting {
		return PhaseChapterWriting
	}
	return p + 1
}

// IsTerminal returns true for the last phase, which cannot be advanced
func (p Phase) IsTerminal() bool {
	return p == PhaseChapterWriting
}

// HasChat reports whether the phase is driven by a conversation with the agent.
func (p Phase) HasChat() bool {
	return p == PhaseWorldSetup || p == PhaseChaptering
}
