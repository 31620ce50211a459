package convert

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/xuri/excelize/v2"
)

// legacyCopy places a fresh copy of the committed xls fixture in a temp dir.
func legacyCopy(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "table.xls"))
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "ФЭВТ 1 курс.xls")
	if err := os.WriteFile(src, data, 0644); err != nil {
		t.Fatal(err)
	}
	return src
}

func TestXLSToXLSX(t *testing.T) {
	src := legacyCopy(t)

	dst, err := XLSToXLSX(src)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(filepath.Dir(src), "ФЭВТ 1 курс.xlsx"); dst != want {
		t.Fatalf("dst = %q, want %q", dst, want)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("legacy file must be removed: %v", err)
	}

	f, err := excelize.OpenFile(dst)
	if err != nil {
		t.Fatalf("converted workbook does not open: %v", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		t.Fatal("converted workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) == 0 {
		t.Fatal("converted workbook lost its cells")
	}
}

func TestXLSToXLSXIsStable(t *testing.T) {
	var outputs [][]byte
	for range 2 {
		dst, err := XLSToXLSX(legacyCopy(t))
		if err != nil {
			t.Fatal(err)
		}
		data, err := os.ReadFile(dst)
		if err != nil {
			t.Fatal(err)
		}
		outputs = append(outputs, data)
	}
	// equal bytes mean equal hashsums, so reconverting never yields a new version
	if !bytes.Equal(outputs[0], outputs[1]) {
		t.Fatal("converting the same workbook twice produced different files")
	}
}

func TestXLSToXLSXKeepsOriginalOnFailure(t *testing.T) {
	src := filepath.Join(t.TempDir(), "broken.xls")
	garbage := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, []byte("not really a workbook")...)
	if err := os.WriteFile(src, garbage, 0644); err != nil {
		t.Fatal(err)
	}

	dst, err := XLSToXLSX(src)
	if err == nil {
		t.Fatalf("expected error, got %q", dst)
	}
	if !errors.Is(err, apperr.ErrConversion) {
		t.Fatalf("expected conversion error, got %v", err)
	}
	if _, statErr := os.Stat(src); statErr != nil {
		t.Fatalf("original must be kept: %v", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(src), "broken.xlsx")); !os.IsNotExist(statErr) {
		t.Fatal("no partial output may be left behind")
	}
}

func TestSheetName(t *testing.T) {
	tests := map[string]string{
		"Лист1": "Лист1",
		"a/b:c": "a_b_c",
		"  ":    "Sheet3",
		"очень длинное имя листа для проверки": "очень длинное имя листа для про",
	}
	for in, want := range tests {
		if got := sheetName(in, 2); got != want {
			t.Errorf("sheetName(%q) = %q, want %q", in, got, want)
		}
	}
}
