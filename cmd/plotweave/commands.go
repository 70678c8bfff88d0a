package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/shadow3aaa/PlotWeave/internal/config"
	"github.com/shadow3aaa/PlotWeave/internal/devserver"
	"github.com/shadow3aaa/PlotWeave/internal/outline"
	"github.com/shadow3aaa/PlotWeave/internal/stream"
	"github.com/shadow3aaa/PlotWeave/internal/tui"
	"github.com/shadow3aaa/PlotWeave/internal/workflow"
)

func (c *cli) tuiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive terminal UI (default)",
		Args:  cobra.NoArgs,
		RunE:  c.runTUI,
	}
}

func (c *cli) runTUI(cmd *cobra.Command, _ []string) error {
	if err := config.InitDir(c.cfg.ProjectDir); err != nil {
		return err
	}
	app := tui.NewApp(c.client,
		tui.WithLogger(c.logger),
		tui.WithHeartbeatInterval(c.cfg.HeartbeatInterval()),
		tui.WithMarkdown(c.cfg.RenderMarkdown()),
		tui.WithFrameLimit(c.cfg.MaxFrameBytes()),
		tui.WithProject(c.projectID),
	)
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

func (c *cli) projectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List, create and delete projects",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List projects",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				projects, err := c.client.ListProjects(cmd.Context())
				if err != nil {
					return err
				}
				if len(projects) == 0 {
					fmt.Fprintln(c.out, "No projects yet. Create one with `plotweave projects create <name>`.")
					return nil
				}
				tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tPHASE")
				for _, p := range projects {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.Phase.FriendlyName())
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create a project",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := c.client.CreateProject(cmd.Context(), strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, okStyle.Render(fmt.Sprintf("Created %s (%s)", p.Name, p.ID)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a project",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.client.DeleteProject(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintln(c.out, okStyle.Render("Deleted "+args[0]))
				return nil
			},
		},
	)
	return cmd
}

func (c *cli) outlineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outline",
		Short: "Show, push or watch the project outline",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the outline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			fmt.Fprint(c.out, ws.Outline())
			return nil
		},
	}

	push := &cobra.Command{
		Use:   "push <file|->",
		Short: "Validate and save an outline file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.SaveOutline(cmd.Context(), text); err != nil {
				return err
			}
			fmt.Fprintln(c.out, okStyle.Render("Outline saved."))
			return nil
		},
	}

	var debounce time.Duration
	watch := &cobra.Command{
		Use:   "watch <file>",
		Short: "Save the outline every time a local file changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.watchOutline(cmd.Context(), args[0], debounce)
		},
	}
	watch.Flags().DurationVar(&debounce, "debounce", 300*time.Millisecond, "Quiet period before a change is saved")

	cmd.AddCommand(show, push, watch)
	return cmd
}

func (c *cli) watchOutline(ctx context.Context, path string, debounce time.Duration) error {
	ws, err := c.openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	if err := ws.Authorize(workflow.ActionEditOutline, 0); err != nil {
		return err
	}
	ws.StartHeartbeat(ctx, c.cfg.HeartbeatInterval())

	w, err := outline.NewWatcher(path, ws.SaveOutline,
		outline.WithDebounce(debounce),
		outline.WithWatchLogger(c.logger),
		outline.OnSave(func(_ string, err error) {
			switch {
			case err == nil:
				fmt.Fprintln(c.out, okStyle.Render("Outline saved."))
			case outline.IsValidation(err):
				fmt.Fprintln(c.out, errStyle.Render("Outline not saved: "+err.Error()))
			default:
				fmt.Fprintln(c.out, errStyle.Render("Save failed: "+err.Error()))
			}
		}),
	)
	if err != nil {
		return err
	}
	w.Prime(ws.Outline())
	if err := w.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Watching %s. Press Ctrl+C to stop.\n", path)
	<-ctx.Done()
	w.Stop()
	return nil
}

func (c *cli) chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to the current phase's agent",
		Long: `Send one message to the agent of the project's current phase and
stream the answer. World setup and chaptering have chat agents.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			fmt.Fprintln(c.out, labelStyle.Render(ws.Phase().FriendlyName()+" agent"))
			outcome, err := ws.Chat(cmd.Context(), strings.Join(args, " "))
			return turnResult(outcome, err)
		},
	}
}

func (c *cli) chaptersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "Inspect and edit chapters",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List chapters with their lock state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			chapters := ws.Chapters()
			if len(chapters) == 0 {
				fmt.Fprintln(c.out, "No chapters planned yet.")
				return nil
			}
			tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tTITLE\tSTATUS\tACCESS")
			for _, ch := range chapters {
				access := ch.Lock.String()
				if ch.Frontier {
					access = "frontier"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ch.Index+1, ch.Title, ch.Status(), access)
			}
			return tw.Flush()
		},
	}
	show := &cobra.Command{
		Use:   "show <number>",
		Short: "Print an unlocked chapter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := chapterIndex(args[0])
			if err != nil {
				return err
			}
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			ch, err := ws.Chapter(index)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, ch.Content)
			return nil
		},
	}
	save := &cobra.Command{
		Use:   "save <number> <file|->",
		Short: "Replace an unlocked chapter's text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := chapterIndex(args[0])
			if err != nil {
				return err
			}
			text, err := readInput(args[1], cmd.InOrStdin())
			if err != nil {
				return err
			}
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.SaveChapter(cmd.Context(), index, text); err != nil {
				return err
			}
			fmt.Fprintln(c.out, okStyle.Render(fmt.Sprintf("Chapter %d saved.", index+1)))
			return nil
		},
	}
	cmd.AddCommand(list, show, save)
	return cmd
}

func (c *cli) generateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "generate <number>",
		Short: "Draft the frontier chapter (numbers start at 1)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := chapterIndex(args[0])
			if err != nil {
				return err
			}
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			outcome, err := ws.Generate(cmd.Context(), index)
			return turnResult(outcome, err)
		},
	}
}

func (c *cli) advanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "advance",
		Short: "Move the project to its next phase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := c.openWorkspace(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()
			next, err := ws.Advance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, okStyle.Render("Now in "+next.FriendlyName()))
			return nil
		},
	}
}

func (c *cli) devserverCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory backend with scripted agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings := devserver.SettingsFromConfig(c.cfg)
			if cmd.Flags().Changed("port") {
				settings.Port = port
			}
			srv := devserver.NewServer(settings, devserver.WithLogger(c.logger))
			if err := srv.Start(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Dev server listening on %s. Press Ctrl+C to stop.\n", srv.BaseURL())
			<-cmd.Context().Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().IntVar(&port, "port", devserver.DefaultPort, "Port to listen on")
	return cmd
}

// turnResult turns a finished streaming turn into the command's error.
func turnResult(outcome stream.Outcome, err error) error {
	if err != nil {
		return err
	}
	if outcome == stream.OutcomeFailed {
		return errors.New("the agent reported an error")
	}
	return nil
}

func chapterIndex(arg string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("chapter number must be a positive integer, got %q", arg)
	}
	return n - 1, nil
}

func readInput(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
