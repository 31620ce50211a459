package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/vstu/timetable-tracker/cmd/ttctl/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ttctl",
		Short:         "Operator tools for the timetable tracker",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(cmd.UpdateCmd())
	rootCmd.AddCommand(cmd.MigrateCmd())
	rootCmd.AddCommand(cmd.DiffCmd())
	rootCmd.AddCommand(cmd.SnapshotCmd())
	rootCmd.AddCommand(cmd.ClearCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
