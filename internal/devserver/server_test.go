package devserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/config"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

func newTestClient(t *testing.T, opts ...Option) (*Server, *backend.Client) {
	t.Helper()
	srv := NewServer(Settings{}, opts...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	client, err := backend.New(ts.URL, backend.WithHTTPClient(ts.Client()))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return srv, client
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var apiErr *backend.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	return apiErr.Status
}

// drain pumps a stream body and returns what it carried.
func drain(t *testing.T, body io.ReadCloser) (stream.Outcome, []stream.Event) {
	t.Helper()
	defer body.Close()
	var events []stream.Event
	outcome, err := stream.Pump(context.Background(), body, stream.HandlerFunc(func(ev stream.Event) {
		events = append(events, ev)
	}))
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	return outcome, events
}

func TestSettingsFromConfigHonorsEnv(t *testing.T) {
	t.Setenv("PLOTWEAVE_DEVSERVER_PORT", "9001")
	t.Setenv("PLOTWEAVE_DEVSERVER_HOST", "0.0.0.0")
	t.Setenv("PLOTWEAVE_DEVSERVER_EVENT_DELAY", "20ms")
	settings := SettingsFromConfig(nil)
	if settings.Port != 9001 {
		t.Fatalf("expected port 9001, got %d", settings.Port)
	}
	if settings.Host != "0.0.0.0" {
		t.Fatalf("expected host override, got %s", settings.Host)
	}
	if settings.EventDelay != 20*time.Millisecond {
		t.Fatalf("expected event delay override, got %s", settings.EventDelay)
	}
	if settings.MaxBodyBytes != DefaultMaxBodyBytes {
		t.Fatalf("expected default body limit, got %d", settings.MaxBodyBytes)
	}
}

func TestSettingsFromConfigFile(t *testing.T) {
	cfg := &config.Config{Project: config.ProjectConfig{DevServer: config.DevServerConfig{
		Host:       "::1",
		Port:       8123,
		EventDelay: 5 * time.Millisecond,
	}}}
	settings := SettingsFromConfig(cfg)
	if settings.Address() != "[::1]:8123" {
		t.Fatalf("unexpected address %s", settings.Address())
	}
	if settings.EventDelay != 5*time.Millisecond {
		t.Fatalf("expected configured event delay, got %s", settings.EventDelay)
	}
	if settings.ReadTimeout != DefaultReadTimeout {
		t.Fatalf("expected default read timeout, got %s", settings.ReadTimeout)
	}

	t.Setenv("PLOTWEAVE_DEVSERVER_PORT", "not-a-port")
	if got := SettingsFromConfig(cfg).Port; got != 8123 {
		t.Fatalf("invalid env port should be ignored, got %d", got)
	}
}

func TestServerStartAndShutdown(t *testing.T) {
	srv := NewServer(Settings{Host: "127.0.0.1", Port: 0, ReadTimeout: time.Second, IdleTimeout: time.Second})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	if srv.Status() != StatusReady {
		t.Fatalf("expected ready, got %s", srv.Status())
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected second start to fail")
	}

	resp, err := http.Get(srv.BaseURL() + "/")
	if err != nil {
		t.Fatalf("root request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("expected no address after shutdown, got %s", srv.Addr())
	}
	if srv.Status() != StatusStopped {
		t.Fatalf("expected stopped, got %s", srv.Status())
	}
}

func TestProjectLifecycle(t *testing.T) {
	fixed := time.Unix(1730000000, 0).UTC()
	srv, client := newTestClient(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	if _, err := client.CreateProject(ctx, "  "); statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected blank name to be rejected")
	}
	p, err := client.CreateProject(ctx, "雾港")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.Phase != workflow.PhaseOutline || p.ID == "" {
		t.Fatalf("unexpected project %+v", p)
	}

	projects, err := client.ListProjects(ctx)
	if err != nil || len(projects) != 1 {
		t.Fatalf("expected one project, got %v (%v)", projects, err)
	}

	if err := client.Heartbeat(ctx, p.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if at, ok := srv.LastHeartbeat(p.ID); !ok || !at.Equal(fixed) {
		t.Fatalf("expected heartbeat at %s, got %s (%v)", fixed, at, ok)
	}

	if _, err := client.UpdateProjectPhase(ctx, p.ID, workflow.PhaseChaptering); statusOf(t, err) != http.StatusConflict {
		t.Fatalf("expected skipping a phase to conflict")
	}

	if err := client.DeleteProject(ctx, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := client.GetProject(ctx, p.ID); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestOutlineRules(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	p, err := client.CreateProject(ctx, "outline")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := client.UpdateOutline(ctx, p.ID, "title: [\n"); statusOf(t, err) != http.StatusUnprocessableEntity {
		t.Fatalf("expected invalid outline to be rejected")
	}
	if err := client.UpdateOutline(ctx, p.ID, "title: 雾港\n"); err != nil {
		t.Fatalf("update outline: %v", err)
	}
	text, err := client.GetOutline(ctx, p.ID)
	if err != nil || text != "title: 雾港\n" {
		t.Fatalf("unexpected outline %q (%v)", text, err)
	}

	if _, err := client.UpdateProjectPhase(ctx, p.ID, workflow.PhaseWorldSetup); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := client.UpdateOutline(ctx, p.ID, "title: late\n"); statusOf(t, err) != http.StatusConflict {
		t.Fatalf("expected outline to be read-only after the outline phase")
	}
}

// toWriting walks a fresh project to CHAPTER_WRITING with n planned chapters.
func toWriting(t *testing.T, client *backend.Client, n int) backend.Project {
	t.Helper()
	ctx := context.Background()
	p, err := client.CreateProject(ctx, "novel")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, phase := range []workflow.Phase{workflow.PhaseWorldSetup, workflow.PhaseChaptering} {
		if _, err := client.UpdateProjectPhase(ctx, p.ID, phase); err != nil {
			t.Fatalf("advance to %s: %v", phase, err)
		}
	}
	for i := 0; i < n; i++ {
		body, err := client.OpenChat(ctx, p.ID, backend.StageChapters, "intent")
		if err != nil {
			t.Fatalf("chat: %v", err)
		}
		drain(t, body)
	}
	p, err = client.UpdateProjectPhase(ctx, p.ID, workflow.PhaseChapterWriting)
	if err != nil {
		t.Fatalf("advance to writing: %v", err)
	}
	return p
}

func TestChatStreamsAndRecords(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	p, err := client.CreateProject(ctx, "chat")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := client.OpenChat(ctx, p.ID, backend.StageWorld, "hello"); statusOf(t, err) != http.StatusConflict {
		t.Fatalf("expected world chat to be refused in the outline phase")
	}
	if _, err := client.UpdateProjectPhase(ctx, p.ID, workflow.PhaseWorldSetup); err != nil {
		t.Fatalf("advance: %v", err)
	}

	body, err := client.OpenChat(ctx, p.ID, backend.StageWorld, "港口常年起雾")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	outcome, events := drain(t, body)
	if outcome != stream.OutcomeEnded {
		t.Fatalf("expected ended, got %s", outcome)
	}
	if events[0].Kind != stream.KindThinking || events[1].Kind != stream.KindToolResult {
		t.Fatalf("expected diagnostics first, got %v", events[:2])
	}
	var answer strings.Builder
	for _, ev := range events {
		if ev.Kind == stream.KindToken {
			answer.WriteString(ev.Data)
		}
	}
	if answer.String() != "Noted for the world: 港口常年起雾" {
		t.Fatalf("unexpected answer %q", answer.String())
	}
}

func TestGenerationFlow(t *testing.T) {
	_, client := newTestClient(t)
	ctx := context.Background()
	p := toWriting(t, client, 2)

	cursor, err := client.WritableCursor(ctx, p.ID)
	if err != nil || cursor == nil || *cursor != 0 {
		t.Fatalf("expected cursor 0, got %v (%v)", cursor, err)
	}

	if _, err := client.OpenGenerationStream(ctx, p.ID, 0); statusOf(t, err) != http.StatusConflict {
		t.Fatalf("expected stream without start to conflict")
	}
	if err := client.StartGeneration(ctx, p.ID, 1); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("expected non-frontier generation to be forbidden")
	}
	if _, err := client.UpdateChapter(ctx, p.ID, 1, "early"); statusOf(t, err) != http.StatusForbidden {
		t.Fatalf("expected locked chapter write to be forbidden")
	}

	if err := client.StartGeneration(ctx, p.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	body, err := client.OpenGenerationStream(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	outcome, events := drain(t, body)
	if outcome != stream.OutcomeEnded {
		t.Fatalf("expected ended, got %s", outcome)
	}
	var draft strings.Builder
	for _, ev := range events {
		if ev.Kind.IsFragment() {
			draft.WriteString(ev.Data)
		}
	}

	chapter, err := client.GetChapter(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if chapter.Content != draft.String() || !strings.HasPrefix(chapter.Content, "# Chapter 1") {
		t.Fatalf("expected committed draft, got %q", chapter.Content)
	}
	cursor, err = client.WritableCursor(ctx, p.ID)
	if err != nil || cursor == nil || *cursor != 1 {
		t.Fatalf("expected cursor 1 after generation, got %v (%v)", cursor, err)
	}

	if _, err := client.OpenGenerationStream(ctx, p.ID, 0); statusOf(t, err) != http.StatusConflict {
		t.Fatalf("expected a claimed generation not to stream twice")
	}
}

type failingAgent struct{ ScriptedAgent }

func (failingAgent) Write(backend.Chapter, ProjectView) []stream.Event {
	return []stream.Event{
		{Kind: stream.KindContentChunk, Data: "partial"},
		{Kind: stream.KindError, Data: "model overloaded"},
	}
}

func TestFailedGenerationIsNotCommitted(t *testing.T) {
	_, client := newTestClient(t, WithAgent(failingAgent{}))
	ctx := context.Background()
	p := toWriting(t, client, 1)

	if err := client.StartGeneration(ctx, p.ID, 0); err != nil {
		t.Fatalf("start: %v", err)
	}
	body, err := client.OpenGenerationStream(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if outcome, _ := drain(t, body); outcome != stream.OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}

	chapter, err := client.GetChapter(ctx, p.ID, 0)
	if err != nil {
		t.Fatalf("get chapter: %v", err)
	}
	if chapter.Content != "" {
		t.Fatalf("expected failed draft to be discarded, got %q", chapter.Content)
	}
	cursor, _ := client.WritableCursor(ctx, p.ID)
	if cursor == nil || *cursor != 0 {
		t.Fatalf("expected cursor to stay at 0, got %v", cursor)
	}
}
