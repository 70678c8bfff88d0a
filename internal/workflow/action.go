package workflow

// Action is a user operation subject to gating.
type Action int

const (
	ActionEditOutline Action = iota + 1
	ActionSaveOutline
	ActionWorldChat
	ActionChapterChat
	ActionViewChapter
	ActionEditChapter
	ActionSaveChapter
	ActionGenerateChapter
	ActionAdvancePhase
)

func (a Action) String() string {
	switch a {
	case ActionEditOutline:
		return "edit outline"
	case ActionSaveOutline:
		return "save outline"
	case ActionWorldChat:
		return "world chat"
	case ActionChapterChat:
		return "chapter chat"
	case ActionViewChapter:
		return "view chapter"
	case ActionEditChapter:
		return "edit chapter"
	case ActionSaveChapter:
		return "save chapter"
	case ActionGenerateChapter:
		return "generate chapter"
	case ActionAdvancePhase:
		return "advance phase"
	default:
		return "unknown action"
	}
}

// Phase returns the phase the action belongs to. Advancing belongs to
// whichever phase is occupied, so it reports ok=false.
func (a Action) Phase() (Phase, bool) {
	switch a {
	case ActionEditOutline, ActionSaveOutline:
		return PhaseOutline, true
	case ActionWorldChat:
		return PhaseWorldSetup, true
	case ActionChapterChat:
		return PhaseChaptering, true
	case ActionViewChapter, ActionEditChapter, ActionSaveChapter, ActionGenerateChapter:
		return PhaseChapterWriting, true
	default:
		return 0, false
	}
}

// ChapterScoped reports whether the action addresses a single chapter.
func (a Action) ChapterScoped() bool {
	switch a {
	case ActionViewChapter, ActionEditChapter, ActionSaveChapter, ActionGenerateChapter:
		return true
	default:
		return false
	}
}

func (a Action) known() bool {
	return a >= ActionEditOutline && a <= ActionAdvancePhase
}
