package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/outline"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

var (
	errProjectNotFound = errors.New("project not found")
	errChapterNotFound = errors.New("chapter not found")
	errWrongPhase      = errors.New("operation not available in the current phase")
	errPhaseStep       = errors.New("phase can only advance one step forward")
	errChapterLocked   = errors.New("chapter is locked")
	errNotFrontier     = errors.New("only the current writing chapter can be generated")
	errNotStarted      = errors.New("generation has not been started")
)

type projectState struct {
	meta          backend.Project
	created       time.Time
	outline       string
	worldNotes    []string
	chapters      []backend.Chapter
	pending       map[int]bool
	lastHeartbeat time.Time
}

// ProjectView is the read-only snapshot handed to an Agent.
type ProjectView struct {
	Project  backend.Project
	Outline  string
	World    []string
	Chapters []backend.Chapter
}

type store struct {
	mu       sync.Mutex
	clock    func() time.Time
	projects map[string]*projectState
}

func newStore(clock func() time.Time) *store {
	return &store{clock: clock, projects: map[string]*projectState{}}
}

func (s *store) list() []backend.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]*projectState, 0, len(s.projects))
	for _, p := range s.projects {
		states = append(states, p)
	}
	sort.Slice(states, func(i, j int) bool {
		if !states[i].created.Equal(states[j].created) {
			return states[i].created.Before(states[j].created)
		}
		return states[i].meta.ID < states[j].meta.ID
	})
	out := make([]backend.Project, len(states))
	for i, p := range states {
		out[i] = p.meta
	}
	return out
}

func (s *store) create(name string) (backend.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return backend.Project{}, fmt.Errorf("name is required")
	}
	text, err := outline.Default().Marshal()
	if err != nil {
		return backend.Project{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &projectState{
		meta:    backend.Project{ID: uuid.NewString(), Name: name, Phase: workflow.PhaseOutline},
		created: s.clock(),
		outline: text,
		pending: map[int]bool{},
	}
	s.projects[p.meta.ID] = p
	return p.meta, nil
}

func (s *store) remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return errProjectNotFound
	}
	delete(s.projects, id)
	return nil
}

// with runs fn on the project under the store lock.
func (s *store) with(id string, fn func(p *projectState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return errProjectNotFound
	}
	return fn(p)
}

func (s *store) view(id string) (ProjectView, error) {
	var v ProjectView
	err := s.with(id, func(p *projectState) error {
		v = ProjectView{
			Project:  p.meta,
			Outline:  p.outline,
			World:    append([]string(nil), p.worldNotes...),
			Chapters: append([]backend.Chapter(nil), p.chapters...),
		}
		return nil
	})
	return v, err
}

func (s *store) heartbeat(id string) error {
	return s.with(id, func(p *projectState) error {
		p.lastHeartbeat = s.clock()
		return nil
	})
}

func (s *store) setPhase(id string, phase workflow.Phase) (backend.Project, error) {
	var out backend.Project
	err := s.with(id, func(p *projectState) error {
		if !phase.Valid() || phase != p.meta.Phase+1 {
			return errPhaseStep
		}
		p.meta.Phase = phase
		out = p.meta
		return nil
	})
	return out, err
}

func (s *store) setOutline(id, text string) error {
	return s.with(id, func(p *projectState) error {
		if p.meta.Phase != workflow.PhaseOutline {
			return errWrongPhase
		}
		p.outline = text
		return nil
	})
}

func (s *store) chapter(id string, index int) (backend.Chapter, error) {
	var out backend.Chapter
	err := s.with(id, func(p *projectState) error {
		if index < 0 || index >= len(p.chapters) {
			return errChapterNotFound
		}
		out = p.chapters[index]
		return nil
	})
	return out, err
}

func (s *store) setChapter(id string, index int, content string) (backend.Chapter, error) {
	var out backend.Chapter
	err := s.with(id, func(p *projectState) error {
		if p.meta.Phase != workflow.PhaseChapterWriting {
			return errWrongPhase
		}
		if index < 0 || index >= len(p.chapters) {
			return errChapterNotFound
		}
		if index > p.meta.WritingChapterIndex {
			return errChapterLocked
		}
		p.chapters[index].Content = content
		out = p.chapters[index]
		return nil
	})
	return out, err
}

func (s *store) cursor(id string) (*int, error) {
	var out *int
	err := s.with(id, func(p *projectState) error {
		if p.meta.Phase == workflow.PhaseChapterWriting {
			v := p.meta.WritingChapterIndex
			out = &v
		}
		return nil
	})
	return out, err
}

func (s *store) requireChat(id string, stage backend.ChatStage) error {
	return s.with(id, func(p *projectState) error {
		want, ok := backend.StageFor(p.meta.Phase)
		if !ok || want != stage {
			return errWrongPhase
		}
		return nil
	})
}

// recordChat applies the side effects of an agent reply.
func (s *store) recordChat(id string, stage backend.ChatStage, message string, reply ChatReply) error {
	return s.with(id, func(p *projectState) error {
		switch stage {
		case backend.StageWorld:
			p.worldNotes = append(p.worldNotes, message)
		case backend.StageChapters:
			for _, plan := range reply.Chapters {
				p.chapters = append(p.chapters, backend.Chapter{
					Index:  len(p.chapters),
					Title:  plan.Title,
					Intent: plan.Intent,
				})
			}
		}
		return nil
	})
}

func (s *store) acceptGeneration(id string, index int) error {
	return s.with(id, func(p *projectState) error {
		if p.meta.Phase != workflow.PhaseChapterWriting {
			return errWrongPhase
		}
		if index < 0 || index >= len(p.chapters) {
			return errChapterNotFound
		}
		if index != p.meta.WritingChapterIndex {
			return errNotFrontier
		}
		p.pending[index] = true
		return nil
	})
}

func (s *store) claimGeneration(id string, index int) (backend.Chapter, error) {
	var out backend.Chapter
	err := s.with(id, func(p *projectState) error {
		if !p.pending[index] {
			return errNotStarted
		}
		delete(p.pending, index)
		out = p.chapters[index]
		return nil
	})
	return out, err
}

// completeGeneration stores the generated text and moves the writing cursor
// past the chapter.
func (s *store) completeGeneration(id string, index int, content string) error {
	return s.with(id, func(p *projectState) error {
		if index < 0 || index >= len(p.chapters) {
			return errChapterNotFound
		}
		p.chapters[index].Content = content
		if index == p.meta.WritingChapterIndex {
			p.meta.WritingChapterIndex++
		}
		return nil
	})
}

func (s *store) lastHeartbeat(id string) (time.Time, bool) {
	var out time.Time
	err := s.with(id, func(p *projectState) error {
		out = p.lastHeartbeat
		return nil
	})
	return out, err == nil && !out.IsZero()
}
