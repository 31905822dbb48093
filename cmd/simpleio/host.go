package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ZehViking/simple-io-plugin/internal/host"
	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// hostQueueSize bounds the events waiting to be written to stdout.
const hostQueueSize = 1024

func newHostCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Serve file commands on stdin, one JSON reply or event per stdout line",
		Long: `Reads one shell-quoted command per line from stdin:

  listenOnFile <id> <path> <skipToEnd>
  stopFileListen <id>
  getTextFile <path>
  fileExists <path>
  isDirectory <path>
  writeLocalAppDataFile <name> <content>
  shutdown

Every command gets a {"cmd","status","data"} reply. Tail sessions report
{"event":"line"} and {"event":"terminal"} objects as they happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHost(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func (a *app) runHost(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Events are written from one goroutine, in order, like a single
	// threaded script host would receive them.
	queue := tail.NewQueue(hostQueueSize, a.log)
	defer queue.Close()

	reg := tail.NewRegistry(append(a.cfg.RegistryOptions(a.log), tail.WithDispatcher(queue))...)
	defer reg.Close()

	h := host.New(reg, host.NewFiles(afero.NewOsFs(), a.cfg.SandboxDir), out, a.log)
	a.log.Info("host ready", zap.String("sandbox", a.cfg.SandboxDir))

	err := h.Serve(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
