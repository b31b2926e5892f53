package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/domain/leaderboard"
)

func newRunCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one full cycle: evaluate, wait for jobs, rebuild and publish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.service().RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s\n", report.RunID)
			printStats(out, "dispatch", report.Dispatch)
			fmt.Fprintf(out, "wait: iterations=%d pending=%d done=%t elapsed=%s\n",
				report.Wait.Iterations, report.Wait.Pending, report.Wait.Done, report.Wait.Elapsed)
			printStats(out, "final", report.Final)
			printPublish(out, report.Published)
			return nil
		},
	}
}

func newUpdateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Rebuild the leaderboard without scheduling and publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report, err := c.service().Finalize(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "final", report.Stats)
			printPublish(cmd.OutOrStdout(), report.PublishErr)
			return nil
		},
	}
}

func newNormalizeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Rebuild the published leaderboard from the raw one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := c.service().Normalize(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "normalize", stats)
			return nil
		},
	}
}

func newPublishCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Upload both leaderboards and push the published one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.service().Publish(cmd.Context())
		},
	}
}

func newCleanupCommand(c *cli) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Release prediction bundles of finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := c.service()
			out := cmd.OutOrStdout()
			if wait {
				report, err := svc.WaitForCompletion(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "wait: iterations=%d pending=%d done=%t\n", report.Iterations, report.Pending, report.Done)
				return nil
			}
			report, err := svc.Cleanup(cmd.Context())
			if err != nil {
				return err
			}
			printCleanup(out, report)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "repeat until no job is pending or poll_max_iterations is spent")
	return cmd
}

func printStats(w io.Writer, label string, s leaderboard.Stats) {
	fmt.Fprintf(w, "%s: total=%d kept=%d dropped=%d anonymized=%d\n", label, s.Total, s.Kept, s.Dropped, s.Anonymized)
}

func printCleanup(w io.Writer, r service.CleanupReport) {
	fmt.Fprintf(w, "cleanup: pending=%d released=%d skipped=%d\n", r.Pending, r.Released, r.Skipped)
}

func printPublish(w io.Writer, err error) {
	if err != nil {
		fmt.Fprintf(w, "publish: failed: %v\n", err)
		return
	}
	fmt.Fprintln(w, "publish: ok")
}
