package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recently archived reserves of the configured network.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show snapshots")
	}
	if closeStore != nil {
		defer closeStore()
	}

	rows, err := store.ListRecentReserves(ctx, a.Config.Aave.Network, opts.Limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tToken\tSupply%\tBorrow%\tUtilization%\tLiquidity")

	for _, row := range rows {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			row.FetchedAt.UTC().Format(time.RFC3339),
			row.Token,
			formatPercent(row.SupplyAPY, 2),
			formatPercent(row.BorrowAPY, 2),
			formatPercent(row.Utilization, 1),
			formatDecimal(row.Liquidity, 2),
		)
	}

	return writer.Flush()
}

func formatPercent(fraction decimal.Decimal, places int32) string {
	return fraction.Shift(2).StringFixed(places)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
