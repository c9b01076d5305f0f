package main

import (
	"fmt"
	"os"

	"github.com/ruralpay/marketplace/internal/config"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "marketctl",
	Short: "Operate the marketplace settlement database",
	Long: `marketctl runs maintenance tasks against the marketplace database:
schema migration and back-filling balance buckets for users registered
before a payment method existed.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Init(configFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", ".env", "path to the env config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
