// Package devserver is an in-memory implementation of the PlotWeave backend
// API with a scripted agent. It backs local demos and the client's tests.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// ServerStatus is where a Server is in its listen/serve/stop cycle.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
	StatusStopped  ServerStatus = "stopped"
)

// Logger records server activity. logging.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Server wraps the HTTP listener and the gin engine serving the API.
type Server struct {
	settings Settings
	agent    Agent
	logger   Logger
	clock    func() time.Time
	store    *store

	mu      sync.RWMutex
	httpSrv *http.Server
	addr    net.Addr
	served  chan struct{}
	status  ServerStatus
}

// Option customizes server construction.
type Option func(*Server)

// WithAgent replaces the scripted agent.
func WithAgent(a Agent) Option {
	return func(s *Server) {
		if a != nil {
			s.agent = a
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a dev server using the provided settings.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		agent:    ScriptedAgent{},
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.store = newStore(s.clock)
	return s
}

// Handler returns the API as an http.Handler without binding a listener.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start listens on the configured address and serves in the background
// until Shutdown. ctx becomes the base context of every request, so
// cancelling it ends open streams.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return errors.New("devserver: already started")
	}

	ln, err := net.Listen("tcp", s.settings.Address())
	if err != nil {
		return fmt.Errorf("devserver: listen %s: %w", s.settings.Address(), err)
	}
	srv := &http.Server{
		Handler:     s.routes(),
		ReadTimeout: s.settings.ReadTimeout,
		IdleTimeout: s.settings.IdleTimeout,
	}
	if ctx != nil {
		srv.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("devserver: serve: %v", err)
		}
	}()

	s.httpSrv, s.addr, s.served = srv, ln.Addr(), served
	s.status = StatusReady
	s.logger.Printf("devserver: listening on %s", ln.Addr())
	return nil
}

// Shutdown drains in-flight requests and waits for the serve loop to exit.
// Without a deadline in ctx it allows two seconds.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
	}

	s.status = StatusDraining
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("devserver: shutdown: %w", err)
	}
	<-s.served
	s.httpSrv, s.addr, s.served = nil, nil, nil
	s.status = StatusStopped
	return nil
}

// Addr is the bound address while serving, empty otherwise.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// BaseURL is the URL clients should use: the bound address while serving,
// the configured one before that.
func (s *Server) BaseURL() string {
	if addr := s.Addr(); addr != "" {
		return "http://" + addr
	}
	return s.settings.URL()
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// LastHeartbeat reports when the project last renewed its lease.
func (s *Server) LastHeartbeat(projectID string) (time.Time, bool) {
	return s.store.lastHeartbeat(projectID)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog(), s.limitBody())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "PlotWeave dev server", "status": string(s.Status())})
	})

	api := r.Group("/api/projects")
	api.GET("", s.listProjects)
	api.POST("", s.createProject)

	p := api.Group("/:id")
	p.GET("", s.getProject)
	p.PATCH("", s.updateProject)
	p.DELETE("", s.deleteProject)
	p.POST("/heartbeat", s.heartbeat)
	p.GET("/outline", s.getOutline)
	p.POST("/outline", s.updateOutline)
	p.POST("/world/chat", s.chat)
	p.POST("/chapter_infos/chat", s.chat)
	p.GET("/chapters", s.listChapters)
	p.GET("/chapters/:index", s.getChapter)
	p.PUT("/chapters/:index", s.updateChapter)
	p.POST("/chapters/:index/generate", s.startGeneration)
	p.GET("/chapters/:index/generate/stream", s.generationStream)
	p.GET("/writable_chapter", s.writableChapter)
	return r
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := s.clock()
		c.Next()
		s.logger.Printf("devserver: %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), s.clock().Sub(start))
	}
}

func (s *Server) limitBody() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil && s.settings.MaxBodyBytes > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.settings.MaxBodyBytes)
		}
		c.Next()
	}
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
