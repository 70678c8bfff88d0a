package devserver

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shadow3aaa/PlotWeave/internal/config"
)

const (
	DefaultHost = "127.0.0.1"
	// DefaultPort is the backend's port, so the client's default URL reaches
	// a dev server started without flags.
	DefaultPort = 8000
	// DefaultMaxBodyBytes caps request bodies; outlines and chapters are small.
	DefaultMaxBodyBytes int64 = 1 << 20
	DefaultReadTimeout        = 15 * time.Second
	DefaultIdleTimeout        = 60 * time.Second
)

// Settings configure a dev server. The zero value is usable with Handler;
// Start binds Host:Port as given, so Port 0 picks a free port. There is no
// write timeout because a stream stays open for a whole turn.
type Settings struct {
	Host         string
	Port         int
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	IdleTimeout  time.Duration
	// EventDelay spaces out streamed events so output looks incremental.
	EventDelay time.Duration
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Host:         DefaultHost,
		Port:         DefaultPort,
		MaxBodyBytes: DefaultMaxBodyBytes,
		ReadTimeout:  DefaultReadTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// SettingsFromConfig layers the devserver section of .plotweave/config.yaml
// and then PLOTWEAVE_DEVSERVER_* variables over the defaults. Invalid
// values are skipped.
func SettingsFromConfig(cfg *config.Config) Settings {
	s := DefaultSettings()
	if cfg != nil {
		dc := cfg.Project.DevServer
		s.merge(dc.Host, dc.Port, dc.EventDelay)
	}

	host := os.Getenv("PLOTWEAVE_DEVSERVER_HOST")
	port, _ := strconv.Atoi(strings.TrimSpace(os.Getenv("PLOTWEAVE_DEVSERVER_PORT")))
	delay, err := time.ParseDuration(strings.TrimSpace(os.Getenv("PLOTWEAVE_DEVSERVER_EVENT_DELAY")))
	if err != nil {
		delay = 0
	}
	s.merge(host, port, delay)
	return s
}

func (s *Settings) merge(host string, port int, delay time.Duration) {
	if host = strings.TrimSpace(host); host != "" {
		s.Host = host
	}
	if port > 0 && port <= 65535 {
		s.Port = port
	}
	if delay > 0 {
		s.EventDelay = delay
	}
}

// Address returns Host:Port for net.Listen.
func (s Settings) Address() string {
	host := s.Host
	if host == "" {
		host = DefaultHost
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}

// URL is the base URL a client would use for these settings.
func (s Settings) URL() string {
	return "http://" + s.Address()
}
