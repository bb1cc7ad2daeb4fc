package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/ledger/internal/app"
)

func (rt *runtime) openPeriodCommand() *cobra.Command {
	var year, month int
	cmd := &cobra.Command{
		Use:   "open-period",
		Short: "Open an accounting period (month 13 is the annual adjustment period)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return rt.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				period, err := svc.Periods.OpenPeriod(ctx, year, month, rt.actor())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "period %s opened (id %d)\n", period.Code(), period.ID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&year, "year", 0, "period year")
	cmd.Flags().IntVar(&month, "month", 0, "period month, 1-13")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("month")
	return cmd
}

func (rt *runtime) closePeriodCommand() *cobra.Command {
	var periodID int64
	var year, month int
	cmd := &cobra.Command{
		Use:   "close-period",
		Short: "Close a period, posting its closing entry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if periodID == 0 && (year == 0 || month == 0) {
				return errors.New("--period-id or --year and --month are required")
			}
			return rt.withServices(cmd, func(ctx context.Context, svc *app.Services) error {
				id := periodID
				if id == 0 {
					periods, err := svc.Periods.ListPeriods(ctx)
					if err != nil {
						return err
					}
					for _, p := range periods {
						if p.Year == year && p.Month == month {
							id = p.ID
							break
						}
					}
					if id == 0 {
						return fmt.Errorf("period %04d-%02d not found", year, month)
					}
				}
				result, err := svc.Periods.ClosePeriod(ctx, id, rt.actor())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "period %s closed by %s, closing entry %s (debit %s credit %s)\n",
					result.Period.Code(), result.Period.ClosedBy, result.ClosingEntry.Number,
					result.ClosingEntry.TotalDebit.StringFixed(2), result.ClosingEntry.TotalCredit.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&periodID, "period-id", 0, "period id")
	cmd.Flags().IntVar(&year, "year", 0, "period year, with --month")
	cmd.Flags().IntVar(&month, "month", 0, "period month, with --year")
	return cmd
}
