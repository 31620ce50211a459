// Package highlight paints changed cells of the newest revision with a
// colour that fades as the change ages and attaches the value history as a
// cell comment.
package highlight

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/diff"
	"github.com/vstu/timetable-tracker/internal/logger"
	"github.com/xuri/excelize/v2"
)

const (
	Author     = "Change Tracker"
	TimeLayout = "2006-01-02 15:04:05"
	EmptyValue = "∅"
	NoChanges  = "Нет изменений"

	FreshColor = "#5BED50"
	StaleColor = "#FFFF00"

	AgeFromEarliest = "earliest"
	AgeFromLatest   = "latest"
)

type Options struct {
	ExpirationDays int
	// AgeFrom picks the history entry whose time drives the fill:
	// AgeFromEarliest (the first entry) or AgeFromLatest (the last one).
	AgeFrom  string
	Location *time.Location
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ExpirationDays < 1 {
		o.ExpirationDays = 7
	}
	if o.AgeFrom == "" {
		o.AgeFrom = AgeFromEarliest
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Annotation renders a cell history oldest first, one "<time>: <value>" line
// per value, collapsing consecutive repeats.
func Annotation(changes []diff.Change, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	sorted := sortedChanges(changes)

	var lines []string
	for i, ch := range sorted {
		if i > 0 && ch.Value == sorted[i-1].Value {
			continue
		}
		value := ch.Value
		if value == "" {
			value = EmptyValue
		}
		lines = append(lines, ch.Time.In(loc).Format(TimeLayout)+": "+value)
	}

	if len(lines) == 0 {
		return NoChanges
	}
	return strings.Join(lines, "\n")
}

// ChangeTime picks the time that ages a cell according to ageFrom.
func ChangeTime(changes []diff.Change, ageFrom string) time.Time {
	sorted := sortedChanges(changes)
	if len(sorted) == 0 {
		return time.Time{}
	}
	if ageFrom == AgeFromLatest {
		return sorted[len(sorted)-1].Time
	}
	return sorted[0].Time
}

// Ratio is how far changed sits inside the retention window ending at now:
// 0 for a change made now, 1 for one at or beyond the window's start.
func Ratio(changed, now time.Time, expirationDays int) float64 {
	window := time.Duration(expirationDays) * 24 * time.Hour
	if window <= 0 {
		return 1
	}
	r := float64(now.Sub(changed)) / float64(window)
	return min(max(r, 0), 1)
}

// Gradient interpolates linearly in RGB from FreshColor to StaleColor.
func Gradient(ratio float64) string {
	fresh, _ := colorful.Hex(FreshColor)
	stale, _ := colorful.Hex(StaleColor)
	return strings.ToUpper(fresh.BlendRgb(stale, min(max(ratio, 0), 1)).Clamped().Hex())
}

// Apply highlights every changed cell of src that exists in it and writes
// the workbook back to src. When dst differs from src the result is reloaded
// and saved to dst as well. It returns the number of highlighted cells.
func Apply(ctx context.Context, src, dst string, history diff.History, opts Options) (int, error) {
	opts = opts.withDefaults()
	log := logger.From(ctx).With("component", "highlight")

	f, err := excelize.OpenFile(src)
	if err != nil {
		return 0, apperr.Diff("open "+src, err)
	}
	defer f.Close()

	sheets := make(map[string]bool)
	for _, name := range f.GetSheetList() {
		sheets[name] = true
	}

	now := opts.Now()
	styles := newStyleCache(f)
	commented := make(map[string]map[string]bool)
	painted := 0

	for _, key := range history.Keys() {
		changes := history[key]
		if len(changes) == 0 || !sheets[key.Sheet] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		cell := key.Cell()
		if cell == "" {
			continue
		}

		existing, ok := commented[key.Sheet]
		if !ok {
			existing, err = commentedCells(f, key.Sheet)
			if err != nil {
				return 0, apperr.Diff("read comments", err)
			}
			commented[key.Sheet] = existing
		}
		if existing[cell] {
			err = f.DeleteComment(key.Sheet, cell)
			if err != nil {
				return 0, apperr.Diff("replace comment "+cell, err)
			}
		}

		err = f.AddComment(key.Sheet, excelize.Comment{
			Cell:   cell,
			Author: Author,
			Text:   Annotation(changes, opts.Location),
		})
		if err != nil {
			return 0, apperr.Diff("comment "+cell, err)
		}

		ratio := Ratio(ChangeTime(changes, opts.AgeFrom), now, opts.ExpirationDays)
		err = styles.fill(key.Sheet, cell, Gradient(ratio))
		if err != nil {
			return 0, apperr.Diff("fill "+cell, err)
		}
		painted++
	}

	err = f.Save()
	if err != nil {
		return 0, apperr.Diff("save "+src, err)
	}
	log.Info("highlighted changes", "file", src, "cells", painted, "changed", len(history))

	if dst != "" && dst != src {
		out, err := excelize.OpenFile(src)
		if err != nil {
			return 0, apperr.Diff("reopen "+src, err)
		}
		defer out.Close()

		err = out.SaveAs(dst)
		if err != nil {
			return 0, apperr.Diff("save "+dst, err)
		}
	}

	return painted, nil
}

func commentedCells(f *excelize.File, sheet string) (map[string]bool, error) {
	comments, err := f.GetComments(sheet)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(comments))
	for _, c := range comments {
		out[c.Cell] = true
	}
	return out, nil
}

// styleCache derives one fill style per (base style, colour) pair so the
// cell's borders and fonts survive the highlight.
type styleCache struct {
	f       *excelize.File
	derived map[string]int
}

func newStyleCache(f *excelize.File) *styleCache {
	return &styleCache{f: f, derived: make(map[string]int)}
}

func (c *styleCache) fill(sheet, cell, color string) error {
	base, err := c.f.GetCellStyle(sheet, cell)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%d/%s", base, color)
	id, ok := c.derived[key]
	if !ok {
		style, err := c.f.GetStyle(base)
		if err != nil || style == nil {
			style = &excelize.Style{}
		}
		style.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}

		id, err = c.f.NewStyle(style)
		if err != nil {
			return err
		}
		c.derived[key] = id
	}

	return c.f.SetCellStyle(sheet, cell, cell, id)
}

func sortedChanges(changes []diff.Change) []diff.Change {
	sorted := make([]diff.Change, len(changes))
	copy(sorted, changes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})
	return sorted
}
