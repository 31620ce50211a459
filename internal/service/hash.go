package service

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"
)

// Hashsum returns the hex BLAKE2b-256 digest of the file at path.
func Hashsum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file for hashing: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	_, err = io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ResourceKey normalizes a (path, name) pair so the same workbook published
// with composed or decomposed Cyrillic letters maps to one resource.
func ResourceKey(path, name string) (string, string) {
	segs := strings.Split(norm.NFC.String(path), "/")
	out := segs[:0]
	for _, s := range segs {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, "/"), strings.TrimSpace(norm.NFC.String(name))
}
