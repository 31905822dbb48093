package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ZehViking/simple-io-plugin/internal/config"
	"github.com/ZehViking/simple-io-plugin/internal/logger"
	"github.com/ZehViking/simple-io-plugin/internal/tail"
)

// app holds what every subcommand shares once flags are parsed.
type app struct {
	v       *viper.Viper
	cfgFile string

	cfg *config.Config
	log *zap.Logger
}

// flagKeys maps persistent flag names onto config keys.
var flagKeys = map[string]string{
	"log-level":        "log.level",
	"log-encoding":     "log.encoding",
	"poll-interval":    "poll_interval",
	"read-buffer-size": "read_buffer_size",
	"watch":            "watch",
	"sandbox-dir":      "sandbox_dir",
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:          "simpleio",
		Short:        "Live file tailing and file helpers for scripts",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-encoding", "console", "log encoding: console or json")
	flags.Duration("poll-interval", tail.DefaultPollInterval, "wait between reads when a file is idle")
	flags.Int("read-buffer-size", tail.DefaultReadBufferSize, "bytes read per poll")
	flags.Bool("watch", true, "wake sessions on file system events instead of polling only")
	flags.String("sandbox-dir", "", "directory writeLocalAppDataFile writes into")
	if err := bindFlags(a.v, flags); err != nil {
		panic(err)
	}

	root.AddCommand(newTailCmd(a), newHostCmd(a), newVersionCmd())
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding, []string{"stderr"}, []string{"stderr"})
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
