// Package convert normalizes legacy .xls workbooks to .xlsx.
package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/xuri/excelize/v2"
)

// XLSToXLSX rewrites the cell values of src into a new .xlsx next to it and
// removes src on success. On failure src is left untouched and the error is
// a conversion error.
func XLSToXLSX(src string) (dst string, err error) {
	dst = strings.TrimSuffix(src, filepath.Ext(src)) + ".xlsx"
	if dst == src {
		dst = src + ".xlsx"
	}

	// the BIFF reader panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			_ = os.Remove(dst)
			dst = ""
			err = apperr.Conversion("read xls", fmt.Errorf("panic: %v", r))
		}
	}()

	book, err := xls.Open(src, "utf-8")
	if err != nil {
		return "", apperr.Conversion("open xls", err)
	}

	out := excelize.NewFile()
	defer out.Close()

	sheets := book.NumSheets()
	if sheets == 0 {
		return "", apperr.Conversion("read xls", fmt.Errorf("workbook has no sheets"))
	}

	for i := 0; i < sheets; i++ {
		sheet := book.GetSheet(i)
		if sheet == nil {
			continue
		}

		name := sheetName(sheet.Name, i)
		if i == 0 {
			err = out.SetSheetName("Sheet1", name)
		} else {
			_, err = out.NewSheet(name)
		}
		if err != nil {
			return "", apperr.Conversion("create sheet", err)
		}

		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				continue
			}
			for c := row.FirstCol(); c < row.LastCol(); c++ {
				value := row.Col(c)
				if value == "" {
					continue
				}
				cell, cerr := excelize.CoordinatesToCellName(c+1, r+1)
				if cerr != nil {
					return "", apperr.Conversion("cell name", cerr)
				}
				err = out.SetCellValue(name, cell, value)
				if err != nil {
					return "", apperr.Conversion("write cell", err)
				}
			}
		}
	}

	err = out.SaveAs(dst)
	if err != nil {
		_ = os.Remove(dst)
		return "", apperr.Conversion("save xlsx", err)
	}

	err = os.Remove(src)
	if err != nil {
		return "", apperr.Conversion("remove xls", err)
	}
	return dst, nil
}

// sheetName makes a BIFF sheet name acceptable to excelize.
func sheetName(name string, index int) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return fmt.Sprintf("Sheet%d", index+1)
	}
	if r := []rune(name); len(r) > 31 {
		name = string(r[:31])
	}
	return name
}
