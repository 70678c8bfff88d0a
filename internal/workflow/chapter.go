package workflow

// ChapterStatus is derived from a chapter's content.
type ChapterStatus string

const (
	StatusEmpty ChapterStatus = "empty"
	StatusDraft ChapterStatus = "draft"
)

// StatusOf derives the status of a chapter holding content.
func StatusOf(content string) ChapterStatus {
	if content == "" {
		return StatusEmpty
	}
	return StatusDraft
}

// LockState reports whether a chapter may be opened.
type LockState int

const (
	Locked LockState = iota
	Unlocked
)

func (l LockState) String() string {
	if l == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// ChapterLock reports the lock state of chapter i under cursor. Without a
// cursor every chapter is locked.
func ChapterLock(cursor *int, i int) LockState {
	if cursor == nil || i < 0 || i > *cursor {
		return Locked
	}
	return Unlocked
}

// IsFrontier reports whether chapter i is the one the cursor points at, the
// only chapter that may be generated.
func IsFrontier(cursor *int, i int) bool {
	return cursor != nil && i == *cursor
}
