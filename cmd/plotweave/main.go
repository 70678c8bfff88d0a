// cmd/plotweave/main.go
//
// This is the entry point for the PlotWeave client.
// Running `plotweave` with no subcommand opens the terminal UI; the
// subcommands drive the same workflow from scripts.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shadow3aaa/PlotWeave/internal/backend"
	"github.com/shadow3aaa/PlotWeave/internal/config"
	"github.com/shadow3aaa/PlotWeave/internal/logging"
	"github.com/shadow3aaa/PlotWeave/internal/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries global flags and the state set up before every command.
type cli struct {
	out    io.Writer
	errOut io.Writer

	dir        string
	backendURL string
	projectID  string
	verbose    bool

	cfg     *config.Config
	logFile *logging.Logger
	logger  *logging.Logger
	client  *backend.Client
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "plotweave",
		Short: "PlotWeave - write a novel with an agent, one phase at a time",
		Long: `PlotWeave walks a novel through four phases: outline, world setup,
chaptering and chapter writing. Agents answer and draft in streamed turns.

Run without arguments to start the interactive terminal UI.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) { c.teardown() },
		RunE:              c.runTUI,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVarP(&c.dir, "dir", "d", "", "Directory holding .plotweave/ (default: current)")
	flags.StringVar(&c.backendURL, "backend", "", "Backend base URL (overrides config)")
	flags.StringVarP(&c.projectID, "project", "p", "", "Project ID to operate on")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "Log at debug level and print agent steps")

	root.AddCommand(
		c.tuiCmd(),
		c.projectsCmd(),
		c.outlineCmd(),
		c.chatCmd(),
		c.chaptersCmd(),
		c.generateCmd(),
		c.advanceCmd(),
		c.devserverCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	dir := c.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		dir = wd
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.dir, err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	c.cfg = cfg

	level := cfg.LogLevel()
	if c.verbose {
		level = "debug"
	}
	logger, err := logging.New(cfg.LogsDir(), level)
	if err != nil {
		return err
	}
	c.logFile = logger
	c.logger = logger.With("command", cmd.Name())

	url := strings.TrimSpace(c.backendURL)
	if url == "" {
		url = cfg.BackendURL()
	}
	client, err := backend.New(url, backend.WithLogger(c.logger))
	if err != nil {
		return err
	}
	c.client = client
	return nil
}

func (c *cli) teardown() {
	_ = c.logFile.Close()
}

// openWorkspace loads the --project project. Streaming hooks print to out.
func (c *cli) openWorkspace(ctx context.Context) (*session.Workspace, error) {
	if strings.TrimSpace(c.projectID) == "" {
		return nil, fmt.Errorf("--project is required")
	}
	p := newPrinter(c.out, c.verbose)
	return session.Open(ctx, c.client, c.projectID,
		session.WithLogger(c.logger),
		session.WithFrameLimit(c.cfg.MaxFrameBytes()),
		session.WithControllerHooks(session.Hooks{OnEvent: p.event}),
	)
}
