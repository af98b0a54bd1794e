package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ChamsBouzaiene/dyno/internal/config"
	"github.com/ChamsBouzaiene/dyno/internal/logging"
)

var (
	cfgFile string
	vp      *viper.Viper
	vpErr   error
)

var rootCmd = &cobra.Command{
	Use:   "dyno",
	Short: "dyno - AI agent that builds mobile apps inside sandboxes",
	Long: `dyno runs a tool-calling agent loop against an isolated sandbox.

The build agent edits files and runs commands to implement a request; the ask
agent answers questions about the project without modifying it. Runs are
exposed over HTTP (serve) or an NDJSON stdin/stdout protocol (run).

Example:
  dyno serve --addr :8080
  dyno sandbox create my-project`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dyno.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
}

func initConfig() {
	vp, vpErr = config.NewViper(cfgFile)
	if vpErr != nil {
		return
	}
	if err := vp.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		vpErr = err
	}
}

// loadConfig returns the validated configuration after flag bindings.
func loadConfig() (*config.Config, error) {
	if vpErr != nil {
		return nil, vpErr
	}
	cfg, err := config.Load(vp)
	if err != nil {
		return nil, err
	}
	if vp.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// bindFlag maps a command flag onto a config key.
func bindFlag(cmd *cobra.Command, key, flag string) error {
	if vp == nil {
		return vpErr
	}
	return vp.BindPFlag(key, cmd.Flags().Lookup(flag))
}

// setupLogging initialises slog and Sentry, writing to out unless a log file
// is configured. The returned func flushes pending reports.
func setupLogging(cfg *config.Config, out io.Writer) (func(), error) {
	err := logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		LogFile:   cfg.Logging.File,
		Output:    out,
		SentryDSN: cfg.Logging.SentryDSN,
		Env:       cfg.Logging.Environment,
		Release:   "dyno@" + version,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if used := vp.ConfigFileUsed(); used != "" {
		slog.Debug("using config file", "path", used)
	}
	return func() { logging.Flush(2 * time.Second) }, nil
}

var version = "dev"
