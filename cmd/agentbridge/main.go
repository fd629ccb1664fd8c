package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"agentbridge/internal/app"
)

// Populated through ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

type rootOptions struct {
	configPath string
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := rootOptions{
		configPath: "agentbridge.yaml",
	}

	root := &cobra.Command{
		Use:           "agentbridge",
		Short:         "Bridge between a conversational agent runtime and a service registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addGlobalFlags(root.PersistentFlags(), &opts)

	root.AddCommand(
		newRunCmd(&opts),
		newSendCmd(&opts),
		newVersionCmd(),
	)

	return root
}

func addGlobalFlags(fs *pflag.FlagSet, opts *rootOptions) {
	fs.StringVar(&opts.configPath, "config", opts.configPath, "path to config file")
}

func setup(opts *rootOptions) (app.Config, *zap.Logger, error) {
	cfg, err := app.LoadConfig(opts.configPath)
	if err != nil {
		return app.Config{}, nil, err
	}
	logger, err := app.NewLogger(cfg.Log)
	if err != nil {
		return app.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return app.New(logger).Run(ctx, cfg)
		},
	}
}

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send [text]",
		Short: "Send one message to the configured remote agent and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(opts)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			reply, err := app.New(logger).SendRemote(ctx, cfg, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "agentbridge %s (%s)\n", version, commit)
		},
	}
}

func signalAwareContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(signals)
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
