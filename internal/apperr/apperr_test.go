package apperr

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := fmt.Errorf("candidate failed: %w", Conversion("xls to xlsx", io.ErrUnexpectedEOF))

	if !errors.Is(err, ErrConversion) {
		t.Fatal("expected conversion error to match ErrConversion")
	}
	if errors.Is(err, ErrDiff) {
		t.Fatal("conversion error must not match ErrDiff")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatal("cause must stay reachable")
	}
	if KindOf(err) != KindConversion {
		t.Fatalf("KindOf = %q", KindOf(err))
	}
	if KindOf(io.EOF) != "" {
		t.Fatal("plain error has no kind")
	}
}

func TestWrapNil(t *testing.T) {
	if Replication("put", nil) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
}

func TestErrorString(t *testing.T) {
	err := Diff("load workbook", errors.New("zip: not a valid zip file"))
	want := "diff: load workbook: zip: not a valid zip file"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
