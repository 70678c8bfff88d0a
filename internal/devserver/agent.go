package devserver

import (
	"fmt"
	"strings"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
)

// ChapterPlan is a chapter proposed during chaptering.
type ChapterPlan struct {
	Title  string
	Intent string
}

// ChatReply is an agent's answer to one chat message: the events to stream
// and, for the chaptering stage, chapters to append to the plan.
type ChatReply struct {
	Events   []stream.Event
	Chapters []ChapterPlan
}

// Agent produces the event sequences the dev server streams. Implementations
// must not block; the server paces delivery.
type Agent interface {
	Chat(stage backend.ChatStage, message string, project ProjectView) ChatReply
	Write(chapter backend.Chapter, project ProjectView) []stream.Event
}

// ScriptedAgent is a deterministic stand-in for the real writing agents.
type ScriptedAgent struct{}

// Chat echoes the message back through a thinking step, a tool call and a
// tokenised answer. In the chaptering stage every message plans one chapter.
func (ScriptedAgent) Chat(stage backend.ChatStage, message string, project ProjectView) ChatReply {
	message = strings.TrimSpace(message)
	var reply ChatReply
	reply.Events = append(reply.Events, stream.Event{
		Kind: stream.KindThinking,
		Data: fmt.Sprintf("Reading the outline of %q before answering.", project.Project.Name),
	})

	var answer string
	switch stage {
	case backend.StageChapters:
		plan := ChapterPlan{
			Title:  fmt.Sprintf("Chapter %d", len(project.Chapters)+1),
			Intent: message,
		}
		reply.Chapters = append(reply.Chapters, plan)
		reply.Events = append(reply.Events, stream.Event{
			Kind: stream.KindToolResult,
			Data: fmt.Sprintf("add_chapter(%q): ok", plan.Title),
		})
		answer = fmt.Sprintf("Planned %s: %s", plan.Title, plan.Intent)
	default:
		reply.Events = append(reply.Events, stream.Event{
			Kind: stream.KindToolResult,
			Data: fmt.Sprintf("save_world_note: %d notes", len(project.World)+1),
		})
		answer = "Noted for the world: " + message
	}

	for _, tok := range tokenize(answer) {
		reply.Events = append(reply.Events, stream.Event{Kind: stream.KindToken, Data: tok})
	}
	reply.Events = append(reply.Events, stream.Event{Kind: stream.KindEnd})
	return reply
}

// Write drafts a chapter from its title and intent.
func (ScriptedAgent) Write(chapter backend.Chapter, project ProjectView) []stream.Event {
	events := []stream.Event{
		{Kind: stream.KindThinking, Data: fmt.Sprintf("Drafting %s of %q.", chapter.Title, project.Project.Name)},
		{Kind: stream.KindToolResult, Data: fmt.Sprintf("load_chapter_info(%d): ok", chapter.Index)},
		{Kind: stream.KindContentChunk, Data: "# " + chapter.Title + "\n\n"},
	}
	body := chapter.Intent
	if body == "" {
		body = "The story continues."
	}
	for _, tok := range tokenize(body) {
		events = append(events, stream.Event{Kind: stream.KindContentChunk, Data: tok})
	}
	events = append(events,
		stream.Event{Kind: stream.KindContentChunk, Data: "\n"},
		stream.Event{Kind: stream.KindEnd},
	)
	return events
}

// tokenize splits s into word-sized pieces that concatenate back to s.
func tokenize(s string) []string {
	var out []string
	var b strings.Builder
	for _, r := range s {
		b.WriteRune(r)
		if r == ' ' || r > 0x2E80 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
