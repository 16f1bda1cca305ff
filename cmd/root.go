package cmd

import (
	"github.com/spf13/cobra"

	"github.com/BatmanBruc/billing-engine/internal/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "billing",
		Short:         "Billing and usage accounting service",
		Long:          "billing records contributions and subscriptions from payment provider webhooks, meters account usage and serves cost estimates.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "file with KEY=VALUE settings loaded into the environment")

	loadConfig := func() (config.Config, error) {
		return config.Load(envFile)
	}

	rootCmd.AddCommand(
		newServeCmd(loadConfig),
		newMigrateCmd(loadConfig),
		newFeeCmd(loadConfig),
		newEstimateCmd(loadConfig),
	)
	return rootCmd
}
