package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired soft locks from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Service.SweepExpiredHolds(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d expired hold(s) removed\n", n)
			return nil
		},
	}
}
