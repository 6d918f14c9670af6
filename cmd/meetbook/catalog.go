package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meetbook/internal/config"
)

func NewSyncCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-catalog",
		Short: "Write the room and slot catalog into the ledger once",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			catalog, err := config.LoadCatalog(a.Config.Catalog.Path)
			if err != nil {
				return err
			}
			res, err := a.SyncCatalog(cmd.Context(), catalog)
			if err != nil {
				return err
			}
			logger.Info().Str("catalog", catalog.String()).Stringer("sync", res).Msg("catalog synced")
			fmt.Fprintln(cmd.OutOrStdout(), catalog.String())
			fmt.Fprintln(cmd.OutOrStdout(), "synced:", res.String())
			return nil
		},
	}
}
