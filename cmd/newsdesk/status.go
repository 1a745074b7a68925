package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/newsdesk/internal/storage"
)

type statusStore interface {
	LatestProbe(ctx context.Context) (*storage.Probe, error)
	Availability(ctx context.Context, last int) (float64, error)
	LatestFetches(ctx context.Context) ([]storage.Fetch, error)
}

func executeStatus(cmd *cobra.Command, db statusStore) error {
	out := cmd.OutOrStdout()
	ctx := context.Background()

	latest, err := db.LatestProbe(ctx)
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}
	if latest == nil {
		fmt.Fprintln(out, "No probe history. Run 'newsdesk serve' first.")
		return nil
	}
	pct, err := db.Availability(ctx, 100)
	if err != nil {
		return fmt.Errorf("querying availability: %w", err)
	}

	fmt.Fprintf(out, "Connectivity: %s (%.1f%% of last 100 probes healthy)\n", latest.Phase, pct)
	if latest.Message != "" {
		fmt.Fprintf(out, "Message:      %s\n", latest.Message)
	}
	fmt.Fprintf(out, "Checked:      %s (%s)\n\n",
		latest.CheckedAt.Local().Format("2006-01-02 15:04:05"),
		(time.Duration(latest.LatencyMs) * time.Millisecond).String(),
	)

	fetches, err := db.LatestFetches(ctx)
	if err != nil {
		return fmt.Errorf("querying widget history: %w", err)
	}
	if len(fetches) == 0 {
		fmt.Fprintln(out, "No widget history.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WIDGET\tPHASE\tLAST FETCHED\tMESSAGE")
	for _, f := range fetches {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			f.Widget,
			f.Phase,
			f.FetchedAt.Local().Format("2006-01-02 15:04:05"),
			f.Message,
		)
	}
	w.Flush()
	return nil
}
