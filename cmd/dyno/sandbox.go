package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dyno/internal/factory"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Create and delete project sandboxes",
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create <project-id>",
	Short: "Provision a sandbox and print its details as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSandboxes(cmd, func(m *sandbox.Manager) error {
			info, err := m.Create(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		})
	},
}

var sandboxDeleteCmd = &cobra.Command{
	Use:   "delete <sandbox-id>",
	Short: "Destroy a sandbox and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSandboxes(cmd, func(m *sandbox.Manager) error {
			if err := m.Terminate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sandbox %s deleted\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(sandboxCmd)
	sandboxCmd.AddCommand(sandboxCreateCmd, sandboxDeleteCmd)
}

func withSandboxes(cmd *cobra.Command, fn func(*sandbox.Manager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := sandbox.NewManager(cmd.Context(), factory.SandboxConfig(cfg.Sandbox))
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
