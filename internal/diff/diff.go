// Package diff compares successive revisions of a workbook cell by cell and
// folds the differences into a per-cell value history.
package diff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/logger"
	"github.com/xuri/excelize/v2"
)

// Revision is one downloaded workbook and the moment it was observed.
type Revision struct {
	Path      string
	Timestamp time.Time
}

// Key addresses a cell. Row and Col are 1-based.
type Key struct {
	Sheet string
	Row   int
	Col   int
}

func (k Key) Cell() string {
	name, err := excelize.CoordinatesToCellName(k.Col, k.Row)
	if err != nil {
		return ""
	}
	return name
}

// Difference is one cell whose raw value changed between two revisions.
type Difference struct {
	Key
	Old  string
	New  string
	Time time.Time
}

// Change is one entry of a cell's history. An empty Value is an empty cell.
type Change struct {
	Value string
	Time  time.Time
}

// History maps each changed cell to its chronological values.
type History map[Key][]Change

// Keys returns the changed cells in sheet, row, column order.
func (h History) Keys() []Key {
	keys := make([]Key, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Sheet != b.Sheet {
			return a.Sheet < b.Sheet
		}
		if a.Row != b.Row {
			return a.Row < b.Row
		}
		return a.Col < b.Col
	})
	return keys
}

// Merge folds one pair's differences into h. The old value is recorded at
// olderTime only when it is not already the cell's last known value; the new
// value is always appended.
func (h History) Merge(diffs []Difference, olderTime time.Time) {
	for _, d := range diffs {
		changes := h[d.Key]
		if len(changes) == 0 || changes[len(changes)-1].Value != d.Old {
			changes = append(changes, Change{Value: d.Old, Time: olderTime})
		}
		h[d.Key] = append(changes, Change{Value: d.New, Time: d.Time})
	}
}

// Compare reports every cell inside the older workbook's used range whose
// raw value differs in the newer one. Sheets missing from either side are
// not compared.
func Compare(older, newer Revision) ([]Difference, error) {
	a, err := excelize.OpenFile(older.Path)
	if err != nil {
		return nil, apperr.Diff("open "+older.Path, err)
	}
	defer a.Close()

	b, err := excelize.OpenFile(newer.Path)
	if err != nil {
		return nil, apperr.Diff("open "+newer.Path, err)
	}
	defer b.Close()

	newerSheets := make(map[string]bool)
	for _, name := range b.GetSheetList() {
		newerSheets[name] = true
	}

	var diffs []Difference
	for _, sheet := range a.GetSheetList() {
		if !newerSheets[sheet] {
			continue
		}

		oldRows, err := a.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, apperr.Diff("read "+sheet, err)
		}
		newRows, err := b.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, apperr.Diff("read "+sheet, err)
		}

		maxRow, maxCol := usedRange(a, sheet, oldRows)
		for r := 1; r <= maxRow; r++ {
			for c := 1; c <= maxCol; c++ {
				oldValue := valueAt(oldRows, r, c)
				newValue := valueAt(newRows, r, c)
				if oldValue == newValue {
					continue
				}
				diffs = append(diffs, Difference{
					Key:  Key{Sheet: sheet, Row: r, Col: c},
					Old:  oldValue,
					New:  newValue,
					Time: newer.Timestamp,
				})
			}
		}
	}

	return diffs, nil
}

// CompareAll sorts revisions oldest first, compares each consecutive pair
// and merges the result. A pair that cannot be compared is logged and
// skipped; only when every pair fails is an error returned.
func CompareAll(ctx context.Context, revisions []Revision) (History, error) {
	log := logger.From(ctx).With("component", "diff")
	history := History{}
	if len(revisions) < 2 {
		return history, nil
	}

	sorted := make([]Revision, len(revisions))
	copy(sorted, revisions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var errs []error
	for i := 0; i+1 < len(sorted); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		older, newer := sorted[i], sorted[i+1]
		diffs, err := Compare(older, newer)
		if err != nil {
			log.Error("failed to compare revisions", "older", older.Path, "newer", newer.Path, "error", err)
			errs = append(errs, err)
			continue
		}

		log.Debug("compared revisions", "pair", i+1, "differences", len(diffs))
		history.Merge(diffs, older.Timestamp)
	}

	if len(errs) == len(sorted)-1 {
		return nil, apperr.Diff("compare revisions", errors.Join(errs...))
	}
	return history, nil
}

// usedRange is the larger of the populated rows and the declared dimension.
func usedRange(f *excelize.File, sheet string, rows [][]string) (int, int) {
	maxRow := len(rows)
	maxCol := 0
	for _, row := range rows {
		if len(row) > maxCol {
			maxCol = len(row)
		}
	}

	dim, err := f.GetSheetDimension(sheet)
	if err != nil || dim == "" {
		return maxRow, maxCol
	}
	parts := strings.Split(dim, ":")
	col, row, err := excelize.CellNameToCoordinates(parts[len(parts)-1])
	if err != nil {
		return maxRow, maxCol
	}
	return max(maxRow, row), max(maxCol, col)
}

func valueAt(rows [][]string, r, c int) string {
	if r-1 >= len(rows) {
		return ""
	}
	row := rows[r-1]
	if c-1 >= len(row) {
		return ""
	}
	return row[c-1]
}

func (d Difference) String() string {
	return fmt.Sprintf("%s!%s %q -> %q", d.Sheet, d.Cell(), d.Old, d.New)
}
