package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/vstu/timetable-tracker/internal/apperr"
	"github.com/vstu/timetable-tracker/internal/model"
)

const rootPage = `<html><body>
<h2>Очная форма</h2>
<h3>ФЭВТ</h3>
<a href="/files/prin-1.xlsx">ПрИн 1 курс</a>
<a href="/files/prin-1.xlsx">duplicate</a>
<h3>ФАСТИВ</h3>
<a href="files/ast.xls">АСТ</a>
<a href="https://elsewhere.test/x.xlsx">external workbook</a>
<a href="zaochnaya/">Заочная форма</a>
<a href="/news/">outside</a>
<a href="#top">anchor</a>
</body></html>`

const subPage = `<html><body>
<h2>ФЭВТ</h2>
<a href="/files/z-evt.xlsx">ЗЭВТ</a>
</body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/raspisaniya/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(rootPage))
	})
	mux.HandleFunc("/raspisaniya/zaochnaya/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(subPage))
	})
	mux.HandleFunc("/files/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Mon, 01 Sep 2025 08:00:00 GMT")
		_, _ = w.Write([]byte("PK\x03\x04 workbook"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func collect(t *testing.T, c Crawler, root, start string) []Candidate {
	t.Helper()
	seq, err := c.Crawl(context.Background(), root, start)
	if err != nil {
		t.Fatal(err)
	}
	var out []Candidate
	for cand := range seq {
		out = append(out, cand)
	}
	return out
}

func TestIndexCrawl(t *testing.T) {
	srv := newSite(t)
	ix := NewIndex(5*time.Second, "test")

	got := collect(t, ix, srv.URL+"/raspisaniya/", "Расписания/Расписание занятий/")

	byName := map[string]Candidate{}
	for _, c := range got {
		byName[c.Name] = c
	}
	if len(got) != 4 {
		t.Fatalf("got %d candidates: %+v", len(got), got)
	}

	prin := byName["prin-1.xlsx"]
	if prin.Path != "Расписания/Расписание занятий/Очная форма/ФЭВТ" {
		t.Fatalf("path = %q", prin.Path)
	}
	wantTags := []model.Tag{
		{Category: model.TagCategoryEducationForm, Name: "Очная форма"},
		{Category: model.TagCategoryFaculty, Name: "ФЭВТ"},
		{Category: model.TagCategoryTypeTimetable, Name: TypeTimetableLessons},
	}
	if !reflect.DeepEqual(prin.Tags, wantTags) {
		t.Fatalf("tags = %+v", prin.Tags)
	}

	if byName["ast.xls"].Path != "Расписания/Расписание занятий/Очная форма/ФАСТИВ" {
		t.Fatalf("ast path = %q", byName["ast.xls"].Path)
	}

	sub, ok := byName["z-evt.xlsx"]
	if !ok {
		t.Fatal("sub page workbook missing")
	}
	if sub.Path != "Расписания/Расписание занятий/Очная форма/ФАСТИВ/Заочная форма/ФЭВТ" {
		t.Fatalf("sub path = %q", sub.Path)
	}

	fetched, err := prin.Download(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Ext(fetched.Path) != ".xlsx" {
		t.Fatalf("scratch file lost its extension: %s", fetched.Path)
	}
	want := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	if !fetched.LastModified.Equal(want) {
		t.Fatalf("LastModified = %v", fetched.LastModified)
	}
}

func TestIndexRootUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewIndex(time.Second, "").Crawl(context.Background(), srv.URL, "")
	if !errors.Is(err, apperr.ErrTransientIO) {
		t.Fatalf("expected transient io error, got %v", err)
	}
}

func TestDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := Candidate{Name: "x", fetch: func(ctx context.Context, dir string) (Fetched, error) {
		return httpDownload(ctx, srv.Client(), "", srv.URL+"/x.xlsx", dir)
	}}
	dir := t.TempDir()
	if _, err := c.Download(context.Background(), dir); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("failed download left %d files", len(entries))
	}
}

func TestTagsFor(t *testing.T) {
	got := TagsFor([]string{"Бакалавриат", "Очная", "ФЭВТ", "2 курс", "extra"}, "")
	want := []model.Tag{
		{Category: model.TagCategoryDegree, Name: "Бакалавриат"},
		{Category: model.TagCategoryEducationForm, Name: "Очная"},
		{Category: model.TagCategoryFaculty, Name: "ФЭВТ"},
		{Category: model.TagCategoryCourse, Name: "2 курс"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("TagsFor = %+v", got)
	}
}

func TestDirCrawler(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "Очная", "ФЭВТ"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "Очная", "ФЭВТ", "g.xlsx"), []byte("PK\x03\x04"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "readme.txt"), []byte("skip"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Dir(root)
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, s, "", "start")
	if len(got) != 1 {
		t.Fatalf("got %d candidates", len(got))
	}
	if got[0].Path != "start/Очная/ФЭВТ" || got[0].Name != "g.xlsx" {
		t.Fatalf("candidate = %+v", got[0])
	}

	fetched, err := got[0].Download(context.Background(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(fetched.Path)
	if string(data) != "PK\x03\x04" {
		t.Fatalf("copied %q", data)
	}
}

func TestStaticErr(t *testing.T) {
	boom := errors.New("source down")
	_, err := (&Static{Err: boom}).Crawl(context.Background(), "", "")
	if !errors.Is(err, boom) {
		t.Fatalf("Crawl = %v", err)
	}
}
