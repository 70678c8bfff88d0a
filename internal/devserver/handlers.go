package devserver

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/outline"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

// writeError mirrors the backend's {"detail": ...} error body.
func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errProjectNotFound), errors.Is(err, errChapterNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, errChapterLocked), errors.Is(err, errNotFrontier):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, errWrongPhase), errors.Is(err, errPhaseStep), errors.Is(err, errNotStarted):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusBadRequest, err.Error())
	}
}

func chapterIndex(c *gin.Context) (int, bool) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "chapter index must be an integer")
		return 0, false
	}
	return index, true
}

func (s *Server) listProjects(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"projects": s.store.list()})
}

func (s *Server) createProject(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	project, err := s.store.create(req.Name)
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) getProject(c *gin.Context) {
	view, err := s.store.view(c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, view.Project)
}

func (s *Server) updateProject(c *gin.Context) {
	var req struct {
		Phase *workflow.Phase `json:"phase"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Phase == nil {
		writeError(c, http.StatusUnprocessableEntity, "phase is required")
		return
	}
	project, err := s.store.setPhase(c.Param("id"), *req.Phase)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

func (s *Server) deleteProject(c *gin.Context) {
	if err := s.store.remove(c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "project deleted"})
}

func (s *Server) heartbeat(c *gin.Context) {
	if err := s.store.heartbeat(c.Param("id")); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getOutline(c *gin.Context) {
	view, err := s.store.view(c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": view.Outline})
}

func (s *Server) updateOutline(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if _, err := outline.Parse(req.Content); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.setOutline(c.Param("id"), req.Content); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": req.Content})
}

func (s *Server) chat(c *gin.Context) {
	id := c.Param("id")
	stage := backend.StageWorld
	if strings.HasSuffix(c.FullPath(), "/chapter_infos/chat") {
		stage = backend.StageChapters
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.store.requireChat(id, stage); err != nil {
		writeStoreError(c, err)
		return
	}
	view, err := s.store.view(id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	reply := s.agent.Chat(stage, req.Message, view)
	if err := s.store.recordChat(id, stage, req.Message, reply); err != nil {
		writeStoreError(c, err)
		return
	}
	s.streamEvents(c, reply.Events, nil)
}

func (s *Server) listChapters(c *gin.Context) {
	view, err := s.store.view(c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	chapters := view.Chapters
	if chapters == nil {
		chapters = []backend.Chapter{}
	}
	c.JSON(http.StatusOK, gin.H{"chapters": chapters})
}

func (s *Server) getChapter(c *gin.Context) {
	index, ok := chapterIndex(c)
	if !ok {
		return
	}
	chapter, err := s.store.chapter(c.Param("id"), index)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, chapter)
}

func (s *Server) updateChapter(c *gin.Context) {
	index, ok := chapterIndex(c)
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	chapter, err := s.store.setChapter(c.Param("id"), index, req.Content)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, chapter)
}

func (s *Server) startGeneration(c *gin.Context) {
	index, ok := chapterIndex(c)
	if !ok {
		return
	}
	if err := s.store.acceptGeneration(c.Param("id"), index); err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) generationStream(c *gin.Context) {
	id := c.Param("id")
	index, ok := chapterIndex(c)
	if !ok {
		return
	}
	chapter, err := s.store.claimGeneration(id, index)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	view, err := s.store.view(id)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	events := s.agent.Write(chapter, view)
	commit := func() {
		var content strings.Builder
		for _, ev := range events {
			if ev.Kind.IsFragment() {
				content.WriteString(ev.Data)
			}
		}
		if err := s.store.completeGeneration(id, index, content.String()); err != nil {
			s.logger.Printf("devserver: complete generation: %v", err)
		}
	}
	if containsKind(events, stream.KindError) {
		commit = nil
	}
	if !s.streamEvents(c, events, commit) {
		s.logger.Printf("devserver: generation of chapter %d abandoned by client", index)
	}
}

func (s *Server) writableChapter(c *gin.Context) {
	cursor, err := s.store.cursor(c.Param("id"))
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": cursor})
}

// streamEvents writes events as SSE frames, pacing them by EventDelay. A
// non-nil beforeEnd runs just before a final end frame is written, so state
// is committed by the time the client sees the turn finish. It reports false
// if the client went away before the last frame.
func (s *Server) streamEvents(c *gin.Context, events []stream.Event, beforeEnd func()) bool {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	next := 0
	clientGone := c.Stream(func(w io.Writer) bool {
		if next >= len(events) {
			return false
		}
		if next > 0 && s.settings.EventDelay > 0 {
			select {
			case <-c.Request.Context().Done():
				return false
			case <-time.After(s.settings.EventDelay):
			}
		}
		if beforeEnd != nil && next == len(events)-1 && events[next].Kind == stream.KindEnd {
			beforeEnd()
		}
		frame, err := stream.Frame(events[next])
		if err != nil {
			s.logger.Printf("devserver: %v", err)
			return false
		}
		if _, err := w.Write(frame); err != nil {
			return false
		}
		next++
		return next < len(events)
	})
	return !clientGone && next == len(events)
}

func containsKind(events []stream.Event, kind stream.Kind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}
