package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	FormatXLSX = "xlsx"
	FormatXLS  = "xls"
)

var ErrNotSpreadsheet = errors.New("not a spreadsheet")

// FileConstraints defines validation rules for downloaded files
type FileConstraints struct {
	Format            string
	Magic             []byte
	AllowedMimeTypes  map[string]bool
	AllowedExtensions map[string]bool
	MaxSize           int64
}

var (
	// XLSXConstraints accepts Office Open XML workbooks (zip containers)
	XLSXConstraints = FileConstraints{
		Format: FormatXLSX,
		Magic:  []byte("PK\x03\x04"),
		AllowedMimeTypes: map[string]bool{
			"application/zip": true,
		},
		AllowedExtensions: map[string]bool{
			".xlsx": true,
			".xlsm": true,
		},
		MaxSize: 50 << 20, // 50MB
	}

	// XLSConstraints accepts legacy BIFF workbooks (OLE2 compound files)
	XLSConstraints = FileConstraints{
		Format: FormatXLS,
		Magic:  []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1},
		AllowedMimeTypes: map[string]bool{
			"application/octet-stream": true,
		},
		AllowedExtensions: map[string]bool{
			".xls": true,
		},
		MaxSize: 50 << 20, // 50MB
	}
)

// ValidateSpreadsheet checks a file on disk against one or more constraint sets
// and returns the format of the first set it matches (OR logic).
// The extension is checked only when the name carries one, since download
// names are not always meaningful.
func ValidateSpreadsheet(path string, constraints ...FileConstraints) (string, error) {
	if len(constraints) == 0 {
		constraints = []FileConstraints{XLSXConstraints, XLSConstraints}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// Read first 512 bytes for magic number detection
	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	head := buffer[:n]

	var lastErr error
	for _, constraint := range constraints {
		err := validateAgainstConstraint(filepath.Base(path), info.Size(), head, constraint)
		if err == nil {
			return constraint.Format, nil
		}
		lastErr = err
	}

	return "", fmt.Errorf("%w: %v", ErrNotSpreadsheet, lastErr)
}

func validateAgainstConstraint(name string, size int64, head []byte, constraints FileConstraints) error {
	if size > constraints.MaxSize {
		maxMB := constraints.MaxSize / (1 << 20)
		return fmt.Errorf("file too large: maximum size is %d MB", maxMB)
	}

	if !bytes.HasPrefix(head, constraints.Magic) {
		return fmt.Errorf("invalid %s signature", constraints.Format)
	}

	detectedType := http.DetectContentType(head)
	if !constraints.AllowedMimeTypes[detectedType] {
		return fmt.Errorf("invalid file type (detected: %s)", detectedType)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" && isSpreadsheetExt(ext) && !constraints.AllowedExtensions[ext] {
		return fmt.Errorf("invalid file extension: %s", ext)
	}

	return nil
}

func isSpreadsheetExt(ext string) bool {
	return XLSXConstraints.AllowedExtensions[ext] || XLSConstraints.AllowedExtensions[ext]
}

// IsSpreadsheetName reports whether a link or file name looks like a workbook.
func IsSpreadsheetName(name string) bool {
	return isSpreadsheetExt(strings.ToLower(filepath.Ext(name)))
}
