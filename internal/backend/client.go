package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

const maxErrorBody = 64 * 1024

// Logger records request failures. It matches logging.Logger's Printf.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Client talks to the PlotWeave backend over HTTP. It holds no per-project
// state and is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides http.DefaultClient. Streams are long-lived, so the
// client should not set an overall Timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("backend: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must be http or https", baseURL)
	}
	c := &Client{base: u, http: http.DefaultClient, logger: nopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the root the client was built with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ListProjects returns every project the backend knows.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var out projectList
	if err := c.do(ctx, "list projects", http.MethodGet, c.projectsPath(), nil, &out); err != nil {
		return nil, err
	}
	return out.Projects, nil
}

// CreateProject creates a project in the first phase.
func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var out Project
	err := c.do(ctx, "create project", http.MethodPost, c.projectsPath(), createProjectRequest{Name: name}, &out)
	return out, err
}

// DeleteProject removes a project.
func (c *Client) DeleteProject(ctx context.Context, projectID string) error {
	return c.do(ctx, "delete project", http.MethodDelete, c.projectPath(projectID), nil, nil)
}

// GetProject fetches a project's metadata.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var out Project
	err := c.do(ctx, "fetch project", http.MethodGet, c.projectPath(projectID), nil, &out)
	return out, err
}

// UpdateProjectPhase asks the backend to move the project to phase.
func (c *Client) UpdateProjectPhase(ctx context.Context, projectID string, phase workflow.Phase) (Project, error) {
	var out Project
	err := c.do(ctx, "update project", http.MethodPatch, c.projectPath(projectID), updateProjectRequest{Phase: phase}, &out)
	return out, err
}

// Heartbeat renews the project's lease on the backend.
func (c *Client) Heartbeat(ctx context.Context, projectID string) error {
	return c.do(ctx, "heartbeat", http.MethodPost, c.projectPath(projectID, "heartbeat"), nil, nil)
}

// GetOutline returns the outline document as YAML text.
func (c *Client) GetOutline(ctx context.Context, projectID string) (string, error) {
	var out contentBody
	if err := c.do(ctx, "fetch outline", http.MethodGet, c.projectPath(projectID, "outline"), nil, &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// UpdateOutline replaces the outline document.
func (c *Client) UpdateOutline(ctx context.Context, projectID, content string) error {
	return c.do(ctx, "update outline", http.MethodPost, c.projectPath(projectID, "outline"), contentBody{Content: content}, nil)
}

// ListChapters returns the chapter plan with current contents.
func (c *Client) ListChapters(ctx context.Context, projectID string) ([]Chapter, error) {
	var out chapterList
	if err := c.do(ctx, "list chapters", http.MethodGet, c.projectPath(projectID, "chapters"), nil, &out); err != nil {
		return nil, err
	}
	return out.Chapters, nil
}

// GetChapter fetches one chapter.
func (c *Client) GetChapter(ctx context.Context, projectID string, index int) (Chapter, error) {
	var out Chapter
	err := c.do(ctx, "fetch chapter", http.MethodGet, c.chapterPath(projectID, index), nil, &out)
	return out, err
}

// UpdateChapter replaces a chapter's content.
func (c *Client) UpdateChapter(ctx context.Context, projectID string, index int, content string) (Chapter, error) {
	var out Chapter
	err := c.do(ctx, "update chapter", http.MethodPut, c.chapterPath(projectID, index), contentBody{Content: content}, &out)
	return out, err
}

// StartGeneration asks the backend to begin writing chapter index. Only a
// 202 response with status "accepted" counts as started.
func (c *Client) StartGeneration(ctx context.Context, projectID string, index int) error {
	const op = "start generation"
	resp, err := c.send(ctx, op, http.MethodPost, c.chapterPath(projectID, index, "generate"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: status %d", ErrNotAccepted, resp.StatusCode)
	}
	var body statusBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAccepted, err)
	}
	if body.Status != "accepted" {
		return fmt.Errorf("%w: status %q", ErrNotAccepted, body.Status)
	}
	return nil
}

// OpenGenerationStream opens the event stream of an accepted generation. The
// caller closes the returned body; cancelling ctx also releases it.
func (c *Client) OpenGenerationStream(ctx context.Context, projectID string, index int) (io.ReadCloser, error) {
	return c.openStream(ctx, "generation stream", http.MethodGet, c.chapterPath(projectID, index, "generate", "stream"), nil)
}

// OpenChat submits message to the stage's agent and returns the reply stream.
func (c *Client) OpenChat(ctx context.Context, projectID string, stage ChatStage, message string) (io.ReadCloser, error) {
	return c.openStream(ctx, "chat", http.MethodPost, c.projectPath(projectID, string(stage), "chat"), messageBody{Message: message})
}

// WritableCursor returns the server-owned writable cursor, nil when no
// chapter is writable.
func (c *Client) WritableCursor(ctx context.Context, projectID string) (*int, error) {
	var out cursorBody
	if err := c.do(ctx, "fetch writable chapter", http.MethodGet, c.projectPath(projectID, "writable_chapter"), nil, &out); err != nil {
		return nil, err
	}
	return out.Index, nil
}

func (c *Client) openStream(ctx context.Context, op, method, path string, body any) (io.ReadCloser, error) {
	resp, err := c.send(ctx, op, method, path, body, withHeader("Accept", "text/event-stream"))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	resp, err := c.send(ctx, op, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: %s: decode response: %w", op, err)
	}
	return nil
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// send performs the request and converts non-2xx responses into *APIError.
// On success the caller owns resp.Body.
func (c *Client) send(ctx context.Context, op, method, path string, body any, opts ...requestOption) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := parseAPIError(op, resp.StatusCode, data)
		c.logger.Printf("backend: %s %s: %v", method, path, apiErr)
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) resolve(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

func (c *Client) projectsPath() string {
	return "/api/projects"
}

func (c *Client) projectPath(projectID string, rest ...string) string {
	parts := append([]string{"/api/projects", url.PathEscape(projectID)}, rest...)
	return strings.Join(parts, "/")
}

func (c *Client) chapterPath(projectID string, index int, rest ...string) string {
	parts := append([]string{"chapters", strconv.Itoa(index)}, rest...)
	return c.projectPath(projectID, parts...)
}
