package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vstu/timetable-tracker/internal/model"
)

func testVersion() (*model.Resource, *model.FileVersion) {
	res := &model.Resource{ID: "r1", Path: "Очная/ФЭВТ/1 курс", Name: "ПрИн-166.xlsx"}
	ver := &model.FileVersion{
		ID:        "v1",
		Hashsum:   "0123456789abcdef0123",
		Timestamp: time.Date(2025, 9, 1, 8, 30, 0, 0, time.UTC),
	}
	return res, ver
}

func TestObjectKey(t *testing.T) {
	res, ver := testVersion()
	got := ObjectKey(res, ver, "/tmp/scratch/abc.xlsx")
	want := "Очная/ФЭВТ/1 курс/ПрИн-166.xlsx/20250901T083000_0123456789ab_abc.xlsx"
	if got != want {
		t.Fatalf("ObjectKey = %q, want %q", got, want)
	}

	res.Path = "../../etc"
	got = ObjectKey(res, ver, "x.xlsx")
	if strings.Contains(got, "..") {
		t.Fatalf("ObjectKey escaped its root: %q", got)
	}
}

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	local, err := NewLocalStorage(root, "http://tracker.test/")
	if err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "abc.xlsx")
	if err := os.WriteFile(src, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}

	res, ver := testVersion()
	st, err := local.Put(ctx, src, res, ver)
	if err != nil {
		t.Fatal(err)
	}
	if st.StorageType != TypeLocal || st.FileVersionID != ver.ID {
		t.Fatalf("storage = %+v", st)
	}
	if !strings.HasPrefix(st.DownloadURL, "http://tracker.test/files/") {
		t.Fatalf("DownloadURL = %q", st.DownloadURL)
	}
	if strings.Contains(st.DownloadURL, " ") {
		t.Fatalf("DownloadURL is not escaped: %q", st.DownloadURL)
	}
	if st.ArchiveURL == nil || !strings.HasSuffix(*st.ArchiveURL, "/") {
		t.Fatalf("ArchiveURL = %v", st.ArchiveURL)
	}
	if local.DownloadURL(st) != st.DownloadURL {
		t.Fatal("DownloadURL must be stable")
	}

	dst := filepath.Join(t.TempDir(), "back.xlsx")
	if err := local.Fetch(ctx, st, dst); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(dst)
	if string(data) != "payload" {
		t.Fatalf("fetched %q", data)
	}

	if err := local.Delete(ctx, st); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(st.Path))); !os.IsNotExist(err) {
		t.Fatalf("replica still present: %v", err)
	}
	// deleting twice is fine
	if err := local.Delete(ctx, st); err != nil {
		t.Fatal(err)
	}
}

func TestLocalPutCancelled(t *testing.T) {
	local, _ := NewLocalStorage(t.TempDir(), "http://x")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, ver := testVersion()
	_, err := local.Put(ctx, "/does/not/matter", res, ver)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSet(t *testing.T) {
	local, _ := NewLocalStorage(t.TempDir(), "http://x")
	set := NewSet(local, nil)

	if len(set.All()) != 1 {
		t.Fatalf("nil backends must be dropped")
	}
	if _, ok := set.Get(TypeLocal); !ok {
		t.Fatal("local backend not found")
	}
	if _, ok := set.Get(TypeGoogleDrive); ok {
		t.Fatal("unexpected drive backend")
	}
	if got := set.Types(); len(got) != 1 || got[0] != TypeLocal {
		t.Fatalf("Types = %v", got)
	}
}

func TestDriveHelpers(t *testing.T) {
	if got := EscapeQuery(`it's a\b`); got != `it\'s a\\b` {
		t.Fatalf("EscapeQuery = %q", got)
	}
	if got := FolderLink("abc"); got != "https://drive.google.com/drive/folders/abc" {
		t.Fatalf("FolderLink = %q", got)
	}
}
