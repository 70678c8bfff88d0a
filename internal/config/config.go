// internal/config/config.go
//
// This package handles configuration and the .plotweave directory.
// Settings come from .plotweave/config.yaml, then from the environment
// (a .env file in the project directory is loaded first).

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// Dir is the name of the directory we create in each project
	Dir = ".plotweave"

	DefaultBackendURL        = "http://127.0.0.1:8000"
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultMaxFrameBytes     = 1 << 20
	DefaultLogLevel          = "info"
)

const defaultProjectConfigYAML = `# plotweave client configuration
version: 1

backend:
  # Base URL of the PlotWeave backend.
  url: http://127.0.0.1:8000
  # How often an open project renews its lease.
  heartbeat_interval: 15s
  # Largest single stream frame accepted, in bytes.
  max_frame_bytes: 1048576

logging:
  # debug, info, warn or error
  level: info

ui:
  render_markdown: true

# Local in-memory backend started by "plotweave devserver".
devserver:
  host: 127.0.0.1
  port: 8000
  # Pause between streamed events so answers visibly arrive in pieces.
  event_delay: 0s
`

// BackendConfig locates the backend service.
type BackendConfig struct {
	URL               string        `yaml:"url"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxFrameBytes     int           `yaml:"max_frame_bytes"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// UIConfig holds terminal UI preferences.
type UIConfig struct {
	RenderMarkdown *bool `yaml:"render_markdown,omitempty"`
}

// DevServerConfig is read by devserver.SettingsFromConfig.
type DevServerConfig struct {
	Host       string        `yaml:"host,omitempty"`
	Port       int           `yaml:"port,omitempty"`
	EventDelay time.Duration `yaml:"event_delay,omitempty"`
}

// ProjectConfig models .plotweave/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Backend   BackendConfig   `yaml:"backend"`
	Logging   LoggingConfig   `yaml:"logging"`
	UI        UIConfig        `yaml:"ui"`
	DevServer DevServerConfig `yaml:"devserver"`
}

// Config holds the runtime configuration.
type Config struct {
	// ProjectDir is the directory plotweave was started from
	ProjectDir string

	// StateDir is ProjectDir/.plotweave
	StateDir string

	Project ProjectConfig
}

// InitDir creates .plotweave/ with its logs directory and a commented
// default config file if none exists.
func InitDir(projectDir string) error {
	stateDir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(filepath.Join(stateDir, "logs"), 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", stateDir, err)
	}
	return ensureProjectConfig(filepath.Join(stateDir, "config.yaml"))
}

// Load reads the configuration for projectDir. A missing config file or
// .env file is not an error.
func Load(projectDir string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(projectDir, ".env")); err != nil {
		return nil, err
	}
	cfg := &Config{
		ProjectDir: projectDir,
		StateDir:   filepath.Join(projectDir, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Project.applyEnvOverrides()
	cfg.Project.normalize()
	if err := cfg.Project.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// BackendURL returns the backend base URL without a trailing slash.
func (c *Config) BackendURL() string {
	return c.Project.Backend.URL
}

// HeartbeatInterval returns the lease renewal period.
func (c *Config) HeartbeatInterval() time.Duration {
	return c.Project.Backend.HeartbeatInterval
}

// MaxFrameBytes returns the stream frame limit.
func (c *Config) MaxFrameBytes() int {
	return c.Project.Backend.MaxFrameBytes
}

// LogLevel returns the configured log level.
func (c *Config) LogLevel() string {
	return c.Project.Logging.Level
}

// RenderMarkdown reports whether the TUI renders answers as markdown.
func (c *Config) RenderMarkdown() bool {
	if c.Project.UI.RenderMarkdown == nil {
		return true
	}
	return *c.Project.UI.RenderMarkdown
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Project = parsed
	return nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Backend: BackendConfig{
			URL:               DefaultBackendURL,
			HeartbeatInterval: DefaultHeartbeatInterval,
			MaxFrameBytes:     DefaultMaxFrameBytes,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
	}
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if value := strings.TrimSpace(os.Getenv("PLOTWEAVE_BACKEND_URL")); value != "" {
		pc.Backend.URL = value
	}
	if value := strings.TrimSpace(os.Getenv("PLOTWEAVE_HEARTBEAT_INTERVAL")); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			pc.Backend.HeartbeatInterval = d
		}
	}
	if value := strings.TrimSpace(os.Getenv("PLOTWEAVE_MAX_FRAME_BYTES")); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			pc.Backend.MaxFrameBytes = n
		}
	}
	if value := strings.TrimSpace(os.Getenv("PLOTWEAVE_LOG_LEVEL")); value != "" {
		pc.Logging.Level = value
	}
}

func (pc *ProjectConfig) normalize() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	pc.Backend.URL = strings.TrimRight(strings.TrimSpace(pc.Backend.URL), "/")
	if pc.Backend.URL == "" {
		pc.Backend.URL = DefaultBackendURL
	}
	if pc.Backend.HeartbeatInterval <= 0 {
		pc.Backend.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if pc.Backend.MaxFrameBytes <= 0 {
		pc.Backend.MaxFrameBytes = DefaultMaxFrameBytes
	}
	pc.Logging.Level = strings.ToLower(strings.TrimSpace(pc.Logging.Level))
	if pc.Logging.Level == "" {
		pc.Logging.Level = DefaultLogLevel
	}
	pc.DevServer.Host = strings.TrimSpace(pc.DevServer.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	u, err := url.Parse(pc.Backend.URL)
	if err != nil {
		return fmt.Errorf("backend.url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https, got %q", pc.Backend.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("backend.url has no host")
	}
	switch pc.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	if pc.DevServer.Port < 0 || pc.DevServer.Port > 65535 {
		return fmt.Errorf("devserver.port out of range")
	}
	if pc.DevServer.EventDelay < 0 {
		return fmt.Errorf("devserver.event_delay must not be negative")
	}
	return nil
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
