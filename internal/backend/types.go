package backend

import (
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

// Project is the backend's project metadata.
type Project struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Phase               workflow.Phase `json:"phase"`
	WritingChapterIndex int            `json:"writing_chapter_index"`
}

// Chapter is one planned chapter and its current text.
type Chapter struct {
	Index   int    `json:"index"`
	Title   string `json:"title"`
	Intent  string `json:"intent"`
	Content string `json:"content"`
}

// Status derives the chapter's status from its content.
func (c Chapter) Status() workflow.ChapterStatus {
	return workflow.StatusOf(c.Content)
}

// ChatStage selects the conversation endpoint of a chat turn.
type ChatStage string

const (
	StageWorld    ChatStage = "world"
	StageChapters ChatStage = "chapter_infos"
)

// StageFor returns the chat stage served in phase p.
func StageFor(p workflow.Phase) (ChatStage, bool) {
	switch p {
	case workflow.PhaseWorldSetup:
		return StageWorld, true
	case workflow.PhaseChaptering:
		return StageChapters, true
	default:
		return "", false
	}
}

// Action returns the gated action a chat in this stage performs.
func (s ChatStage) Action() workflow.Action {
	if s == StageChapters {
		return workflow.ActionChapterChat
	}
	return workflow.ActionWorldChat
}

type projectList struct {
	Projects []Project `json:"projects"`
}

type chapterList struct {
	Chapters []Chapter `json:"chapters"`
}

type createProjectRequest struct {
	Name string `json:"name"`
}

type updateProjectRequest struct {
	Phase workflow.Phase `json:"phase"`
}

type contentBody struct {
	Content string `json:"content"`
}

type messageBody struct {
	Message string `json:"message"`
}

type statusBody struct {
	Status string `json:"status"`
}

type cursorBody struct {
	Index *int `json:"index"`
}

type errorBody struct {
	Detail any `json:"detail"`
}
