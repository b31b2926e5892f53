package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/podium/internal/verify"
)

func newCheckCommand() *cobra.Command {
	var (
		url     string
		workers int
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a running server: rank order and per-bundle lookups",
		Args:  cobra.NoArgs,
		// talks to a server only; no secrets file needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := verify.New(url, verify.WithWorkers(workers), verify.WithLimit(limit)).Run(cmd.Context())
			out := cmd.OutOrStdout()
			for _, p := range report.Problems {
				fmt.Fprintln(out, "problem:", p)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "check: entries=%d rank_hits=%d top=%.4f mean=%.4f took=%s\n",
				report.Entries, report.RankHits, report.TopScore, report.MeanScore, report.Duration)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://localhost:9080", "base URL of a podium server")
	cmd.Flags().IntVar(&workers, "workers", verify.DefaultWorkers, "concurrent rank lookups")
	cmd.Flags().IntVar(&limit, "limit", 0, "rows to check (default: server maximum)")
	return cmd
}
