package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync health from the last recorded check",
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

			health, err := st.Checker.GetSyncHealth(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Project: %s\n", projectPath)
			if health.Healthy {
				fmt.Fprintln(out, "Health:  ok")
			} else {
				fmt.Fprintln(out, "Health:  degraded")
			}
			if !health.LastChecked.IsZero() {
				fmt.Fprintf(out, "Checked: %s (%.0f minutes ago)\n",
					health.LastChecked.Format("2006-01-02 15:04:05"), health.MinutesSinceCheck)
			}
			for _, issue := range health.Issues {
				fmt.Fprintf(out, "Issue:   %s\n", issue)
			}
			return nil
		},
	}
}
