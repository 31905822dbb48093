package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZehViking/simple-io-plugin/internal/source"
	"github.com/ZehViking/simple-io-plugin/internal/tail"
	"github.com/ZehViking/simple-io-plugin/internal/tui"
)

type tailOptions struct {
	fromStart bool
	plain     bool
}

func newTailCmd(a *app) *cobra.Command {
	var opts tailOptions
	cmd := &cobra.Command{
		Use:   "tail <file|glob>...",
		Short: "Follow files and print lines as they are appended",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTail(cmd.Context(), args, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.fromStart, "from-start", false, "print existing content before new lines")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "print plain lines even when stdout is a terminal")
	return cmd
}

func (a *app) runTail(ctx context.Context, patterns []string, opts tailOptions, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	interactive := !opts.plain && isTerminal(out)
	log := a.log
	if interactive {
		// stderr shares the screen with the TUI.
		log = zap.NewNop()
	}

	reg := tail.NewRegistry(a.cfg.RegistryOptions(log)...)
	defer reg.Close()

	src := source.NewFileSource(source.FileConfig{Patterns: patterns, FromStart: opts.fromStart}, reg)
	if err := src.Start(ctx); err != nil {
		return err
	}
	defer src.Stop()

	rc := tui.DefaultConfig()
	rc.ShowIDs = len(src.Paths()) > 1
	if w := terminalWidth(out); w > 0 {
		rc.TerminalWidth = w
	}
	r := tui.NewRenderer(rc)

	if interactive {
		return runTUI(ctx, src, r, out)
	}
	return runPlain(src, r, out, log)
}

// runPlain prints every event until the source closes or every session
// has ended on its own.
func runPlain(src *source.FileSource, r *tui.Renderer, out io.Writer, log *zap.Logger) error {
	go func() {
		for err := range src.Errors() {
			log.Warn("tail", zap.Error(err))
		}
	}()

	live := len(src.Paths())
	var failed []string
	for e := range src.Lines() {
		fmt.Fprintln(out, r.RenderEventPlain(e))
		if !e.Terminal {
			continue
		}
		if e.Kind != tail.Stopped {
			failed = append(failed, fmt.Sprintf("%s: %s", tui.Label(e.ID), e.Kind))
		}
		if live--; live == 0 {
			break
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("tailing ended: %s", strings.Join(failed, ", "))
	}
	return nil
}

func runTUI(ctx context.Context, src *source.FileSource, r *tui.Renderer, out io.Writer) error {
	prog := tea.NewProgram(
		tui.NewModel(src.Paths()...),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(out),
	)
	tui.ListenForEvents(src, r, prog)

	final, err := prog.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(tui.Model); ok {
		for _, s := range m.Ended() {
			fmt.Fprintln(out, s)
		}
	}
	return nil
}
