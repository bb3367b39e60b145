package cmd

import (
	"fmt"

	"github.com/bartek5186/stocksync/internal/changelog"
	"github.com/spf13/cobra"
)

func newLogsCmd(f *rootFlags) *cobra.Command {
	var all, wipe bool
	c := &cobra.Command{
		Use:   "logs",
		Short: "Show applied changes (last 7 days by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := f.open()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if wipe {
				if err := a.Changes.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "Logs cleared.")
				return nil
			}

			var entries []changelog.Entry
			if all {
				entries, err = a.Changes.All(ctx)
			} else {
				entries, err = a.Changes.Recent(ctx)
			}
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No changes logged.")
				return nil
			}
			for _, e := range entries {
				printEntry(out, e)
			}
			return nil
		},
	}
	c.Flags().BoolVar(&all, "all", false, "show the whole log, not only the retention window")
	c.Flags().BoolVar(&wipe, "clear", false, "delete all log entries")
	return c
}
