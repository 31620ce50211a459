package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vstu/timetable-tracker/internal/app"
	"github.com/vstu/timetable-tracker/internal/crawler"
)

func UpdateCmd() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Run one sync pass and wait for it",
		Long:  "Run one sync pass against the configured sources, or against the workbooks under --dir.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := app.Options{}
			if dir != "" {
				static, err := crawler.Dir(dir)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", dir, err)
				}
				opts.Crawler = static
			}

			return withApp(opts, func(ctx context.Context, a *app.App) error {
				result, err := a.RunPass(ctx, "cli")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"pass %s: %d workbooks, %d new, %d changed, %d relinked, %d moved, %d unchanged, %d failed, %d visualized, %d deprecated\n",
					result.PassID, result.Candidates, result.New, result.Changed, result.Relinked, result.Moved,
					result.Unchanged, result.Failed, result.Visualized, len(result.Deprecated))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "ingest workbooks from a local directory instead of crawling")
	return cmd
}
