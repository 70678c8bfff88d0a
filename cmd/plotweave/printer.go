package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/shadow3aaa/PlotWeave/internal/stream"
)

var (
	stepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
)

// printer writes a streaming turn to a terminal as it arrives. Answer and
// draft text is printed raw; agent steps are shown only when verbose.
type printer struct {
	out     io.Writer
	verbose bool
	midLine bool
}

func newPrinter(out io.Writer, verbose bool) *printer {
	return &printer{out: out, verbose: verbose}
}

func (p *printer) event(ev stream.Event) {
	switch {
	case ev.Kind.IsFragment():
		fmt.Fprint(p.out, ev.Data)
		p.midLine = ev.Data != "" && !strings.HasSuffix(ev.Data, "\n")
	case ev.Kind.IsDiagnostic():
		if p.verbose {
			p.line(stepStyle.Render(fmt.Sprintf("· %s: %s", ev.Kind, ev.Data)))
		}
	case ev.Kind == stream.KindError:
		p.line(errStyle.Render("[error] " + ev.Data))
	case ev.Kind == stream.KindEnd:
		p.newline()
	}
}

func (p *printer) line(s string) {
	p.newline()
	fmt.Fprintln(p.out, s)
}

func (p *printer) newline() {
	if p.midLine {
		fmt.Fprintln(p.out)
		p.midLine = false
	}
}
