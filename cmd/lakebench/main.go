package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/basekick-labs/lakebench/internal/config"
	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/basekick-labs/lakebench/internal/logger"
	"github.com/basekick-labs/lakebench/internal/shutdown"
	"github.com/basekick-labs/lakebench/internal/storage"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

// app carries the state shared by every command
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg      *config.Config
	shutdown *shutdown.Coordinator
}

func main() {
	a := &app{}
	root := a.rootCommand()

	err := root.ExecuteContext(context.Background())
	if a.shutdown != nil {
		if serr := a.shutdown.Shutdown(); serr != nil {
			log.Warn().Err(serr).Msg("Shutdown finished with errors")
		}
	}
	if err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lakebench",
		Short:         "TPC-DS data provisioning and benchmarking for a lakehouse query engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: lakebench.toml in ., $HOME/.lakebench, /etc/lakebench)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json (overrides config)")

	root.AddCommand(
		a.tpcdsCommand(),
		a.icebergCommand(),
		a.benchCommand(),
	)
	return root
}

// setup loads configuration, configures logging and derives a context that
// is cancelled on SIGINT/SIGTERM.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	a.cfg = cfg

	a.shutdown = shutdown.New(30*time.Second, logger.Get("main"))
	ctx, stop := a.shutdown.NotifyContext(cmd.Context())
	a.shutdown.RegisterHook("signals", func(context.Context) error {
		stop()
		return nil
	}, 0)
	cmd.SetContext(ctx)

	log.Debug().Str("version", Version).Str("command", cmd.CommandPath()).Msg("Starting lakebench")
	return nil
}

// group returns a command that only dispatches to its subcommands. Running it
// without a valid mode is an error that lists the valid modes.
func group(use, short string, subs ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var modes []string
			for _, c := range cmd.Commands() {
				if c.IsAvailableCommand() {
					modes = append(modes, c.Name())
				}
			}
			sort.Strings(modes)
			if len(args) == 0 {
				return fmt.Errorf("%s requires a mode, valid modes are: %s", cmd.CommandPath(), strings.Join(modes, ", "))
			}
			return fmt.Errorf("unknown mode %q for %s, valid modes are: %s", args[0], cmd.CommandPath(), strings.Join(modes, ", "))
		},
	}
	cmd.AddCommand(subs...)
	return cmd
}

// confirm asks a y/n question on the command's input. Anything but y or yes
// declines.
func confirm(cmd *cobra.Command, question string) bool {
	return confirmFrom(cmd.InOrStdin(), cmd.OutOrStdout(), question)
}

func confirmFrom(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s (y/n): ", question)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// newEngineClient validates the engine settings and logs in, so that bad
// credentials stop a command before any unit of work.
func (a *app) newEngineClient(ctx context.Context) (*engine.Client, error) {
	if err := a.cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	client, err := engine.NewFromConfig(&a.cfg.Engine, logger.Get("engine"))
	if err != nil {
		return nil, err
	}
	if err := client.Authenticate(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

// newBackend validates the storage settings and opens the backend. It is
// closed at shutdown.
func (a *app) newBackend() (storage.Backend, error) {
	if err := a.cfg.Storage.Validate(); err != nil {
		return nil, err
	}
	backend, err := storage.New(&a.cfg.Storage, logger.Get("storage"))
	if err != nil {
		return nil, err
	}
	a.shutdown.Register("storage", backend, shutdown.PriorityStorage)
	return backend, nil
}

// informational reports whether err only means there was nothing to do.
func informational(err error, sentinels ...error) bool {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			log.Info().Msg(err.Error())
			return true
		}
	}
	return false
}
