package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/shadow3aaa/PlotWeave/internal/session"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/transcript"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

var (
	headerStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	panelStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	titleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	phaseCurrent    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	phaseDone       = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	phaseLater      = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	diagnosticStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	lockedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	frontierStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	selectedStyle   = lipgloss.NewStyle().Reverse(true)
)

// renderPhaseBar shows every phase in order. Earlier phases are done and
// read-only, later ones are not reachable yet.
func renderPhaseBar(current workflow.Phase) string {
	parts := make([]string, 0, len(workflow.Phases()))
	for i, p := range workflow.Phases() {
		label := fmt.Sprintf("%d %s", i+1, p.FriendlyName())
		switch {
		case p == current:
			parts = append(parts, phaseCurrent.Render("● "+label))
		case p < current:
			parts = append(parts, phaseDone.Render("✓ "+label))
		default:
			parts = append(parts, phaseLater.Render("○ "+label))
		}
	}
	return strings.Join(parts, phaseLater.Render("  →  "))
}

// markdown renders final answers and drafts. A nil renderer passes text
// through unchanged.
type markdown struct {
	renderer *glamour.TermRenderer
}

func newMarkdown(enabled bool, width int) markdown {
	if !enabled {
		return markdown{}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(max(20, width)),
	)
	if err != nil {
		return markdown{}
	}
	return markdown{renderer: r}
}

func (m markdown) render(text string) string {
	if m.renderer == nil || strings.TrimSpace(text) == "" {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// renderTranscript draws grouped messages. Diagnostic groups not listed in
// expanded collapse to a one-line summary.
func renderTranscript(groups []transcript.Group, expanded map[string]bool, md markdown) string {
	if len(groups) == 0 {
		return hintStyle.Render("No messages yet. Type below and press Enter.")
	}
	blocks := make([]string, 0, len(groups))
	for _, g := range groups {
		switch g.Kind {
		case transcript.GroupDiagnostics:
			blocks = append(blocks, renderDiagnostics(g, expanded[g.Key()]))
		default:
			blocks = append(blocks, renderMessage(g.Messages[0], md))
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderDiagnostics(g transcript.Group, open bool) string {
	if !open {
		return diagnosticStyle.Render(fmt.Sprintf("▸ %d agent step(s) · tab to expand", g.Len()))
	}
	lines := []string{diagnosticStyle.Render(fmt.Sprintf("▾ %d agent step(s)", g.Len()))}
	for _, m := range g.Messages {
		lines = append(lines, diagnosticStyle.Render(fmt.Sprintf("  %s: %s", m.Kind, m.Content)))
	}
	return strings.Join(lines, "\n")
}

func renderMessage(m transcript.Message, md markdown) string {
	if m.Role == transcript.RoleUser {
		return userStyle.Render("You") + "\n" + m.Content
	}
	body, markers := m.SplitMarkers()
	out := md.render(strings.TrimRight(body, "\n"))
	if markers != "" {
		if strings.TrimSpace(out) != "" {
			out += "\n"
		}
		out += errorStyle.Render(markers)
	}
	return out
}

func renderChapterLine(v session.ChapterView, selected bool) string {
	marker := "•"
	style := lipgloss.NewStyle()
	switch {
	case v.Lock == workflow.Locked:
		marker = "🔒"
		style = lockedStyle
	case v.Frontier:
		marker = "▶"
		style = frontierStyle
	}
	title := v.Title
	if title == "" {
		title = fmt.Sprintf("Chapter %d", v.Index+1)
	}
	line := style.Render(fmt.Sprintf("%s %d. %s [%s]", marker, v.Index+1, title, v.Status()))
	if selected {
		line = selectedStyle.Render(line)
	}
	return line
}

func renderLogs(logs []transcript.LogEntry, limit int) string {
	if len(logs) == 0 {
		return hintStyle.Render("No agent activity yet.")
	}
	if len(logs) > limit {
		logs = logs[len(logs)-limit:]
	}
	lines := make([]string, len(logs))
	for i, l := range logs {
		style := diagnosticStyle
		if l.Kind == stream.KindError {
			style = errorStyle
		}
		lines[i] = style.Render(fmt.Sprintf("%s: %s", l.Kind, l.Text))
	}
	return strings.Join(lines, "\n")
}
