package cmd

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BatmanBruc/billing-engine/internal/pricing"
	"github.com/BatmanBruc/billing-engine/types"
)

func newEstimateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <account-id>",
		Short: "Print the cost estimate of an account as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			acct, err := st.GetAccount(cmd.Context(), types.AccountID(strings.TrimSpace(args[0])))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(pricing.NewEstimator(cfg.Costs).Estimate(acct))
		},
	}
}
