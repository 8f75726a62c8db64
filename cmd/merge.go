package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Rebuild the export from per-year snapshots",
		Long: `Reads every per-year snapshot under the output directory, deduplicates
the records by URL and writes the combined export. Useful after an
interrupted harvest or when years were crawled in separate runs.`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			records, years, uris, err := appInstance.Merge(cmd.Context())
			if err != nil {
				return fmt.Errorf("merge: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Merged %d papers from %d snapshots %v\n", len(records), len(years), years)
			for _, uri := range uris {
				fmt.Fprintf(out, "Wrote %s\n", uri)
			}
			return nil
		}),
	}
	cmd.Flags().String("output-dir", "cvpr_data", "directory holding the snapshots")
	cmd.Flags().String("format", "both", "export format: json, csv or both")
	return cmd
}
