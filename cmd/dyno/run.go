package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dyno/internal/factory"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Serve agent runs over NDJSON on stdin/stdout",
	Long: `Read one JSON command per line from stdin and write one progress event per
line to stdout. Logs go to stderr.

Commands:
  {"type":"run","project_id":"p1","prompt":"add a login screen","variant":"build"}
  {"type":"cancel","project_id":"p1"}

A run without sandbox_id gets a sandbox created for its project.`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlag(cmd, "sandbox.mode", "sandbox")
	},
	RunE: runStdio,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("sandbox", "auto", "sandbox mode: auto, docker or host")
}

func runStdio(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	flush, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := factory.New(ctx, *cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	return newStdioRunner(cmd.InOrStdin(), cmd.OutOrStdout(), app, app.Sandboxes).Run(ctx)
}
