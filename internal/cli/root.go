package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"block-streamer/internal/app"
	"block-streamer/internal/config"
	"block-streamer/internal/logging"
)

// rootOptions carries persistent flags and the lazily built application handle.
type rootOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string

	app *app.App
}

// configPath resolves --config, then $APP_CONFIG. An empty result makes
// config.Load search the working directory.
func (o *rootOptions) configPath() string {
	if o.cfgFile != "" {
		return o.cfgFile
	}
	return os.Getenv("APP_CONFIG")
}

func (o *rootOptions) load() error {
	if o.app != nil {
		return nil
	}

	cfg, err := config.Load(o.configPath())
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}

	o.app = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
	return nil
}

func (o *rootOptions) getApp() *app.App {
	if o.app == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return o.app
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "blockstream",
		Short:         "Stream validated Ethereum blocks across redundant RPC providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return opts.load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.cfgFile, "config", "c", "", "Path to configuration file (defaults to $APP_CONFIG, then ./config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log level defined in config")
	flags.StringVar(&opts.logFormat, "log-format", "", "Override log format (json or console)")

	// A bare invocation streams, like "blockstream run".
	run := newRunCommand(opts)
	cmd.Args = run.Args
	cmd.RunE = run.RunE

	cmd.AddCommand(
		run,
		newHeadsCommand(opts),
		newShowCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// Execute runs the root command.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
