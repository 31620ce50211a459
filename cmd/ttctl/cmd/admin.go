package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vstu/timetable-tracker/internal/app"
	"github.com/vstu/timetable-tracker/internal/service"
)

func SnapshotCmd() *cobra.Command {
	var snapshotType string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Archive the database and local replicas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				snap, err := a.SnapshotService.Create(ctx, snapshotType)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s snapshot written to %s\n", snap.Type, snap.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&snapshotType, "type", service.SnapshotSystem, "system, database or local")
	return cmd
}

func ClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <component>",
		Short: "Delete replicas of a backend, all_storages or the whole system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(app.Options{}, func(ctx context.Context, a *app.App) error {
				removed, err := a.CleanupService.Clear(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d replicas removed\n", removed)
				return nil
			})
		},
	}
}
