package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	var resync bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Check disk-vs-store drift, optionally resyncing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectPath, err := resolveProjectPath()
			if err != nil {
				return err
			}

			st, err := buildStack(projectPath)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			report, err := st.Checker.CheckAndWriteStatus(ctx, projectPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project:          %s\n", projectPath)
			fmt.Fprintf(out, "Total files:      %d\n", report.TotalFiles)
			fmt.Fprintf(out, "Up to date:       %d\n", report.UpToDate)
			fmt.Fprintf(out, "Missing in store: %d\n", len(report.MissingFromMcp))
			fmt.Fprintf(out, "Missing on disk:  %d\n", len(report.MissingFromDisk))
			fmt.Fprintf(out, "Content mismatch: %d\n", len(report.ContentMismatch))
			fmt.Fprintf(out, "Sync score:       %.2f\n", report.SyncScore)

			if !resync || report.TotalDrift() == 0 {
				return nil
			}

			result, err := st.Checker.Resync(ctx, projectPath, report)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Resync: added=%d updated=%d deleted=%d failed=%d retried=%d",
				result.Added, result.Updated, result.MarkedDeleted, len(result.Failures), result.Retried)
			if result.DeadlineHit {
				fmt.Fprint(out, " (deadline hit, partial)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&resync, "resync", false, "Apply the drift report after checking")
	return cmd
}
