package main

import (
	"fmt"

	"github.com/ruralpay/marketplace/internal/config"
	"github.com/ruralpay/marketplace/internal/database"
	"github.com/ruralpay/marketplace/internal/services"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().String("balance", "", "starting balance for created buckets (defaults to accounts.starting_balance)")
}

var provisionCmd = &cobra.Command{
	Use:   "provision-accounts",
	Short: "Open missing balance buckets for every user",
	Long: `Creates every missing payment method bucket for every user at the starting
balance. Existing buckets are never modified, so the command is safe to re-run.`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func runProvision(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	starting := config.Accounts().StartingBalance
	if raw, _ := cmd.Flags().GetString("balance"); raw != "" {
		value, err := decimal.NewFromString(raw)
		if err != nil || value.IsNegative() {
			return fmt.Errorf("invalid --balance %q", raw)
		}
		starting = value
	}

	db, err := database.Open(ctx, database.GetConfig())
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := services.NewAccountService(db).ProvisionMissing(ctx, starting)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Provisioned %d buckets for %d users at %s.\n",
		report.Buckets, report.Users, starting.String())
	return nil
}
