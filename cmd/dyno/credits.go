package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ChamsBouzaiene/dyno/internal/billing"
	"github.com/ChamsBouzaiene/dyno/internal/database"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Inspect and grant user credits",
}

var creditsBalanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Print a user's credit balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(cmd, func(ledger *billing.SQLiteLedger) error {
			balance, err := ledger.Balance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2f credits\n", args[0], balance)
			return nil
		})
	},
}

var creditsGrantCmd = &cobra.Command{
	Use:     "grant <user-id> <credits>",
	Short:   "Add credits to a user's balance",
	Example: `  dyno credits grant user-42 500`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid credit amount %q: %w", args[1], err)
		}
		return withLedger(cmd, func(ledger *billing.SQLiteLedger) error {
			balance, err := ledger.Grant(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %.2f credits to %s, balance %.2f\n", amount, args[0], balance)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)
	creditsCmd.AddCommand(creditsBalanceCmd, creditsGrantCmd)
}

// withLedger opens the configured database for the duration of fn.
func withLedger(cmd *cobra.Command, fn func(*billing.SQLiteLedger) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is not configured")
	}
	db, err := database.Open(cmd.Context(), cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(billing.NewSQLiteLedger(db.SQL(), cfg.Billing.InitialGrant))
}
