package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BatmanBruc/billing-engine/internal/pricing"
)

func newFeeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "fee <amount>",
		Short: "Show the processor fee and net amount for a gross payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			gross, err := pricing.ParseAmount(args[0])
			if err != nil {
				return err
			}
			b := cfg.Fees.Breakdown(gross)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "gross %s\nfee   %s\nnet   %s\n",
				b.Gross.StringFixed(2), b.Fee.StringFixed(2), b.Net.StringFixed(2))
			return err
		},
	}
}
