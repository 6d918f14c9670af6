package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"meetbook/internal/model"
	"meetbook/internal/workbook"
)

func NewExportCommand() *cobra.Command {
	var (
		out  string
		from string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export bookings and recurring reservations to an xlsx report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, err := bootstrap(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			start := a.Service.Today()
			if from != "" {
				if start, err = model.ParseDate(from); err != nil {
					return err
				}
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := workbook.ExportReport(cmd.Context(), a.Ledger, start, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s (from %s)\n", out, start)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "meetbook-report.xlsx", "output file")
	cmd.Flags().StringVar(&from, "from", "", "first date to include, YYYY/MM/DD (default today)")
	return cmd
}
