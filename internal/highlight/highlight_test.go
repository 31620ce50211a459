package highlight

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/vstu/timetable-tracker/internal/diff"
	"github.com/xuri/excelize/v2"
)

var now = time.Date(2025, 9, 10, 12, 0, 0, 0, time.UTC)

func TestAnnotationDeduplicates(t *testing.T) {
	t1 := now.Add(-72 * time.Hour)
	t2 := now.Add(-48 * time.Hour)
	t3 := now.Add(-24 * time.Hour)

	got := Annotation([]diff.Change{{"A", t2}, {"B", t3}, {"A", t1}}, time.UTC)
	want := t1.Format(TimeLayout) + ": A\n" + t3.Format(TimeLayout) + ": B"
	if got != want {
		t.Fatalf("Annotation = %q, want %q", got, want)
	}
	if lines := strings.Count(got, "\n") + 1; lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestAnnotationEmptyValues(t *testing.T) {
	got := Annotation([]diff.Change{{"", now}}, time.UTC)
	if got != now.Format(TimeLayout)+": ∅" {
		t.Fatalf("Annotation = %q", got)
	}
	if Annotation(nil, time.UTC) != NoChanges {
		t.Fatal("empty history renders the no-changes label")
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name    string
		changed time.Time
		want    float64
	}{
		{"now", now, 0},
		{"half window", now.Add(-84 * time.Hour), 0.5},
		{"expired", now.Add(-30 * 24 * time.Hour), 1},
		{"future", now.Add(time.Hour), 0},
	}
	for _, tt := range tests {
		if got := Ratio(tt.changed, now, 7); got != tt.want {
			t.Errorf("%s: Ratio = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGradientEndpoints(t *testing.T) {
	if got := Gradient(0); got != FreshColor {
		t.Fatalf("Gradient(0) = %s", got)
	}
	if got := Gradient(1); got != StaleColor {
		t.Fatalf("Gradient(1) = %s", got)
	}
	if got := Gradient(7); got != StaleColor {
		t.Fatalf("Gradient clamps, got %s", got)
	}
}

func TestGradientMonotonic(t *testing.T) {
	stale, _ := colorful.Hex(StaleColor)
	distance := func(hex string) float64 {
		c, err := colorful.Hex(hex)
		if err != nil {
			t.Fatal(err)
		}
		return c.DistanceRgb(stale)
	}

	// cell one changed before cell two, so it must not look fresher
	older := now.Add(-5 * 24 * time.Hour)
	newer := now.Add(-1 * 24 * time.Hour)
	c1 := Gradient(Ratio(older, now, 7))
	c2 := Gradient(Ratio(newer, now, 7))
	if distance(c1) > distance(c2) {
		t.Fatalf("older change %s is fresher than newer change %s", c1, c2)
	}
}

func TestChangeTime(t *testing.T) {
	early := now.Add(-3 * time.Hour)
	late := now.Add(-time.Hour)
	changes := []diff.Change{{"b", late}, {"a", early}}

	if got := ChangeTime(changes, AgeFromEarliest); !got.Equal(early) {
		t.Fatalf("earliest = %v", got)
	}
	if got := ChangeTime(changes, AgeFromLatest); !got.Equal(late) {
		t.Fatalf("latest = %v", got)
	}
	if !ChangeTime(nil, AgeFromLatest).IsZero() {
		t.Fatal("empty history has no change time")
	}
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "latest.xlsx")
	dst := filepath.Join(dir, "group_Виз.xlsx")

	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "B3", "Y")
	_ = f.SetCellValue("Sheet1", "A1", "untouched")
	if err := f.SaveAs(src); err != nil {
		t.Fatal(err)
	}
	f.Close()

	history := diff.History{
		{Sheet: "Sheet1", Row: 3, Col: 2}:  {{"X", now.Add(-48 * time.Hour)}, {"Y", now.Add(-time.Hour)}},
		{Sheet: "Missing", Row: 1, Col: 1}: {{"a", now}, {"b", now}},
	}

	opts := Options{ExpirationDays: 7, Location: time.UTC, Now: func() time.Time { return now }}
	painted, err := Apply(context.Background(), src, dst, history, opts)
	if err != nil {
		t.Fatal(err)
	}
	if painted != 1 {
		t.Fatalf("painted %d cells, want 1", painted)
	}

	out, err := excelize.OpenFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	comments, err := out.GetComments("Sheet1")
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].Cell != "B3" || comments[0].Author != Author {
		t.Fatalf("comments = %+v", comments)
	}

	styleID, _ := out.GetCellStyle("Sheet1", "B3")
	style, err := out.GetStyle(styleID)
	if err != nil {
		t.Fatal(err)
	}
	wantColor := strings.TrimPrefix(Gradient(Ratio(now.Add(-48*time.Hour), now, 7)), "#")
	if len(style.Fill.Color) != 1 || !strings.HasSuffix(strings.ToUpper(style.Fill.Color[0]), wantColor) {
		t.Fatalf("fill = %+v, want colour %s", style.Fill, wantColor)
	}

	untouched, _ := out.GetCellStyle("Sheet1", "A1")
	if untouched == styleID {
		t.Fatal("unchanged cell must keep its style")
	}

	// a second run replaces the comment instead of stacking another one
	if _, err := Apply(context.Background(), dst, "", history, opts); err != nil {
		t.Fatal(err)
	}
	again, _ := excelize.OpenFile(dst)
	defer again.Close()
	comments, _ = again.GetComments("Sheet1")
	if len(comments) != 1 {
		t.Fatalf("got %d comments after re-run", len(comments))
	}
}

func TestApplyBrokenFile(t *testing.T) {
	_, err := Apply(context.Background(), filepath.Join(t.TempDir(), "missing.xlsx"), "", diff.History{}, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
}
