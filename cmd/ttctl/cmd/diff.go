package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/vstu/timetable-tracker/internal/diff"
	"github.com/vstu/timetable-tracker/internal/highlight"
	"github.com/vstu/timetable-tracker/internal/service"
)

func DiffCmd() *cobra.Command {
	var (
		out     string
		days    int
		ageFrom string
	)

	cmd := &cobra.Command{
		Use:   "diff <oldest.xlsx> <newer.xlsx>...",
		Short: "Build a change visualization from local workbooks",
		Long:  "Compare workbooks ordered by modification time and highlight the changes in a copy of the newest one.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			revisions := make([]diff.Revision, 0, len(args))
			newest := diff.Revision{}
			for _, p := range args {
				info, err := os.Stat(p)
				if err != nil {
					return err
				}
				rev := diff.Revision{Path: p, Timestamp: info.ModTime()}
				revisions = append(revisions, rev)
				if !rev.Timestamp.Before(newest.Timestamp) {
					newest = rev
				}
			}

			history, err := diff.CompareAll(cmd.Context(), revisions)
			if err != nil {
				return err
			}

			// highlighting saves its source, so work on a copy
			tmp, err := os.MkdirTemp("", "ttctl-diff-*")
			if err != nil {
				return err
			}
			defer os.RemoveAll(tmp)
			src := filepath.Join(tmp, filepath.Base(newest.Path))
			err = copyFile(newest.Path, src)
			if err != nil {
				return err
			}

			if out == "" {
				out = service.VisName(filepath.Base(newest.Path))
			}
			painted, err := highlight.Apply(cmd.Context(), src, out, history, highlight.Options{
				ExpirationDays: days,
				AgeFrom:        ageFrom,
				Now:            time.Now,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%d changed cells highlighted in %s\n", painted, out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output workbook (default <newest>_Виз.xlsx next to the working dir)")
	cmd.Flags().IntVar(&days, "days", 7, "days until a highlight fades completely")
	cmd.Flags().StringVar(&ageFrom, "age-from", highlight.AgeFromEarliest, "history entry that drives the fade: earliest or latest")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	return errors.Join(err, out.Close())
}
