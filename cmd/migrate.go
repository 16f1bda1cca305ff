package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BatmanBruc/billing-engine/store"
)

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			s, err := store.NewPostgresStore(cmd.Context(), cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer s.Close()
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return err
		},
	}
}
