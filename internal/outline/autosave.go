package outline

import (
	"context"
	"errors"
	"sync"
)

// Status is the auto-save state of the outline buffer.
type Status int

const (
	// StatusIdle means nothing was loaded or edited yet.
	StatusIdle Status = iota
	// StatusPending means the buffer differs from the last saved text.
	StatusPending
	// StatusSaving means a write is in flight.
	StatusSaving
	// StatusSaved means the buffer matches what the backend holds.
	StatusSaved
	// StatusInvalid means the buffer failed validation and was not written.
	StatusInvalid
	// StatusFailed means the backend rejected the write or was unreachable.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "unsaved"
	case StatusSaving:
		return "saving"
	case StatusSaved:
		return "saved"
	case StatusInvalid:
		return "invalid"
	case StatusFailed:
		return "save failed"
	default:
		return "unknown"
	}
}

// Saver writes the outline document. *backend.Client satisfies it.
type Saver interface {
	UpdateOutline(ctx context.Context, projectID, content string) error
}

// Logger records save failures.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// AutoSaver validates and writes outline edits, tracking whether the last
// attempt succeeded. Saves are serialized.
type AutoSaver struct {
	saver     Saver
	projectID string
	logger    Logger

	saveMu sync.Mutex

	mu      sync.Mutex
	status  Status
	lastErr error
	saved   string
	// buffer is the newest text seen by Edit, Save or MarkSaved.
	buffer string
}

// NewAutoSaver returns an AutoSaver writing projectID's outline through saver.
func NewAutoSaver(saver Saver, projectID string, logger Logger) *AutoSaver {
	if logger == nil {
		logger = nopLogger{}
	}
	return &AutoSaver{saver: saver, projectID: projectID, logger: logger}
}

// MarkSaved records text as the content the backend currently holds, for
// example right after fetching it.
func (a *AutoSaver) MarkSaved(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saved = text
	a.buffer = text
	a.status = StatusSaved
	a.lastErr = nil
}

// Edit notes that the buffer now holds text without saving it. An edit made
// while a save is in flight is remembered; that save then ends as pending.
func (a *AutoSaver) Edit(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buffer = text
	if a.status == StatusSaving {
		return
	}
	if text == a.saved && a.status != StatusIdle {
		a.status = StatusSaved
		a.lastErr = nil
		return
	}
	a.status = StatusPending
}

// Save validates text and writes it. Invalid text is refused without a
// write. Text identical to the last successful save is not rewritten.
func (a *AutoSaver) Save(ctx context.Context, text string) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	if _, err := Parse(text); err != nil {
		a.setResult(StatusInvalid, err)
		return err
	}

	a.mu.Lock()
	a.buffer = text
	if a.status == StatusSaved && text == a.saved {
		a.mu.Unlock()
		return nil
	}
	a.status = StatusSaving
	a.lastErr = nil
	a.mu.Unlock()

	if err := a.saver.UpdateOutline(ctx, a.projectID, text); err != nil {
		a.logger.Printf("outline: save %s failed: %v", a.projectID, err)
		a.setResult(StatusFailed, err)
		return err
	}

	a.mu.Lock()
	a.saved = text
	a.status = StatusSaved
	if a.buffer != text {
		a.status = StatusPending
	}
	a.mu.Unlock()
	return nil
}

// Status returns the current auto-save status.
func (a *AutoSaver) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Err returns the error of the last failed or refused save.
func (a *AutoSaver) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// LastSaveSucceeded reports whether the backend holds the current buffer.
func (a *AutoSaver) LastSaveSucceeded() bool {
	return a.Status() == StatusSaved
}

// Saved returns the text of the last successful save.
func (a *AutoSaver) Saved() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saved
}

// IsValidation reports whether err is an outline validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func (a *AutoSaver) setResult(status Status, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
	a.lastErr = err
}
