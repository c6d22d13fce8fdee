package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"wealthwatcher/internal/marketdata"
)

// Search looks up instruments by free text and prints matches, or the typed
// reason when nothing was found.
func (a *App) Search(ctx context.Context, query string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	market := a.newMarketData(ctx, store)

	outcome, err := market.SearchSymbol(ctx, query)
	if err != nil {
		return err
	}

	if len(outcome.Results) == 0 {
		fmt.Fprintln(os.Stdout, noResultMessage(outcome.Reason))
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tDescription\tType\tCurrency")
	for _, r := range outcome.Results {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", r.Symbol, r.Description, r.Market, r.Currency)
	}
	writer.Flush()
	return nil
}

func noResultMessage(reason marketdata.NoResultReason) string {
	switch reason {
	case marketdata.NoResultNotFound:
		return "no instruments matched the query"
	case marketdata.NoResultAPILimit:
		return "search unavailable: provider request limit reached, try again later"
	case marketdata.NoResultNetwork:
		return "search unavailable: network problem, try again"
	case marketdata.NoResultInvalidQuery:
		return "search query is empty or invalid"
	default:
		return "search unavailable: provider error"
	}
}
