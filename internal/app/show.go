package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints current holdings and recent net-worth snapshots.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show holdings")
	}
	defer closeStore()

	home := a.Config.Portfolio.HomeCurrency

	stocks, err := store.ListStockAssets(ctx)
	if err != nil {
		return err
	}
	if len(stocks) > 0 {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Symbol\tName\tShares\tPrice\tCurrency\tValue ("+home+")\tUpdated")
		for _, s := range stocks {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				s.Symbol,
				s.Name,
				s.Shares.String(),
				formatDecimal(s.Price, 2),
				s.Currency,
				formatDecimal(s.HomeValue, 2),
				s.UpdatedAt.UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()
		fmt.Fprintln(os.Stdout)
	}

	cash, err := store.ListCashAssets(ctx)
	if err != nil {
		return err
	}
	if len(cash) > 0 {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Currency\tAmount\tValue ("+home+")\tUpdated")
		for _, c := range cash {
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n",
				c.Currency,
				formatDecimal(c.Amount, 2),
				formatDecimal(c.HomeValue, 2),
				c.UpdatedAt.UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()
		fmt.Fprintln(os.Stdout)
	}

	total, err := store.TotalHomeValue(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Total: %s %s\n\n", formatDecimal(total, 2), home)

	snaps, err := store.ListRecentSnapshots(ctx, opts.SnapshotLimit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stdout, "no snapshots recorded yet")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tNet Worth\tDegraded")
	for _, snap := range snaps {
		fmt.Fprintf(writer, "%s\t%s\t%v\n",
			snap.Time.UTC().Format(time.RFC3339),
			formatDecimal(snap.Total, 2),
			snap.Degraded,
		)
	}
	writer.Flush()
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
