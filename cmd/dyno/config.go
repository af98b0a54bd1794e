package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dyno/internal/config"
	"github.com/ChamsBouzaiene/dyno/internal/prompts"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file holding every default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
		return nil
	},
}

var configPromptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List the system prompt versions usable as agent.prompt_version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printPromptVersions(cmd.OutOrStdout(), prompts.DefaultRegistry())
		return nil
	},
}

func printPromptVersions(w io.Writer, registry *prompts.Registry) {
	for _, variant := range registry.Variants() {
		for _, p := range registry.Versions(variant) {
			status := ""
			if p.Deprecated {
				status = " (deprecated)"
			}
			fmt.Fprintf(w, "%s\t%s%s\t%s\n", variant, p.Version, status, p.Description)
		}
	}
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPromptsCmd)
}
