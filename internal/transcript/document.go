package transcript

import (
	"strings"

	"github.com/shadow3aaa/PlotWeave/internal/stream"
)

// LogEntry is one diagnostic line shown beside a generated document.
type LogEntry struct {
	Kind stream.Kind
	Text string
}

// Document accumulates a generated chapter. Content and diagnostics are kept
// apart: content_chunk (and token) grow the buffer, everything else that
// carries text goes to the log.
type Document struct {
	content strings.Builder
	logs    []LogEntry
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{}
}

// Apply folds ev into the document.
func (d *Document) Apply(ev stream.Event) {
	switch {
	case ev.Kind.IsFragment():
		d.content.WriteString(ev.Data)
	case ev.Kind.IsDiagnostic(), ev.Kind == stream.KindError:
		d.logs = append(d.logs, LogEntry{Kind: ev.Kind, Text: ev.Data})
	}
}

// Fail appends a visible error marker to the live buffer.
func (d *Document) Fail(err error) {
	if err == nil {
		return
	}
	marked := FormatError(d.content.String(), err.Error())
	d.content.Reset()
	d.content.WriteString(marked)
}

// Content returns the buffer so far.
func (d *Document) Content() string {
	return d.content.String()
}

// Logs returns a copy of the diagnostic log.
func (d *Document) Logs() []LogEntry {
	return append([]LogEntry(nil), d.logs...)
}

// Reset clears buffer and log.
func (d *Document) Reset() {
	d.content.Reset()
	d.logs = nil
}
