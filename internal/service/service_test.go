package service_test

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vstu/timetable-tracker/internal/crawler"
	"github.com/vstu/timetable-tracker/internal/model"
	"github.com/vstu/timetable-tracker/internal/repository"
	"github.com/vstu/timetable-tracker/internal/service"
	"github.com/vstu/timetable-tracker/internal/storage"
	"github.com/vstu/timetable-tracker/internal/validation"
)

func TestHashsum(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if err := os.WriteFile(a, []byte("timetable"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("timetable!"), 0644); err != nil {
		t.Fatal(err)
	}

	ha, err := service.Hashsum(a)
	if err != nil {
		t.Fatal(err)
	}
	if len(ha) != 64 {
		t.Fatalf("expected 256-bit hex digest, got %q", ha)
	}
	again, _ := service.Hashsum(a)
	hb, _ := service.Hashsum(b)
	if ha != again || ha == hb {
		t.Fatalf("digests: %s %s %s", ha, again, hb)
	}
}

func TestResourceKeyNormalizes(t *testing.T) {
	composed := "Заочная/\u0419-курс"
	decomposed := "Заочная/\u0418\u0306-курс"

	p1, n1 := service.ResourceKey(" "+composed+"/ ", "Группа \u0439.xlsx ")
	p2, n2 := service.ResourceKey(decomposed, "Группа \u0438\u0306.xlsx")
	if p1 != p2 || n1 != n2 {
		t.Fatalf("keys differ: (%q, %q) vs (%q, %q)", p1, n1, p2, n2)
	}
	if p1 != composed {
		t.Fatalf("path = %q", p1)
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	if got := e.settings.UpdateInterval(ctx); got != 180*time.Minute {
		t.Fatalf("default interval = %v", got)
	}

	var notified []string
	e.settings.OnChange(func(ctx context.Context, key, value string) error {
		notified = append(notified, key+"="+value)
		return nil
	})

	if err := e.settings.Set(ctx, model.SettingTimeUpdate, "0"); err == nil {
		t.Fatal("time_update below 1 must be rejected")
	}
	if err := e.settings.Set(ctx, "secret", "x"); !errors.Is(err, validation.ErrUnknownSetting) {
		t.Fatalf("unknown key error = %v", err)
	}
	if err := e.settings.Set(ctx, model.SettingDownloadStorage, "ftp"); err == nil {
		t.Fatal("unconfigured storage must be rejected")
	}
	if err := e.settings.Set(ctx, model.SettingTimeUpdate, " 30 "); err != nil {
		t.Fatal(err)
	}

	if got := e.settings.UpdateInterval(ctx); got != 30*time.Minute {
		t.Fatalf("interval = %v", got)
	}
	if len(notified) != 1 || notified[0] != "time_update=30" {
		t.Fatalf("notified = %v", notified)
	}

	all, err := e.settings.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(model.AvailableSettings) {
		t.Fatalf("All returned %d settings", len(all))
	}
}

func TestSettingsInvalidStoredIntervalFallsBack(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	err := repository.NewSettingRepository(e.db).Upsert(ctx, &model.Setting{Key: model.SettingTimeUpdate, Value: "soon", UpdatedAt: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if got := e.settings.UpdateInterval(ctx); got != 180*time.Minute {
		t.Fatalf("interval = %v", got)
	}
}

func TestListingDrillDown(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	now := time.Date(2026, 10, 1, 9, 30, 0, 0, time.UTC)

	e.crawler.Items = []crawler.StaticItem{
		e.item(t, "fevt-1.xlsx", []string{"Очная", "ФЭВТ", "1 курс"}, now, map[string]string{"A1": "1"}),
		e.item(t, "fastiv-2.xlsx", []string{"Очная", "ФАСТиВ", "2 курс"}, now, map[string]string{"A1": "2"}),
	}
	e.run(t)

	listing := service.NewListingService(e.resources, e.tags, e.versions, e.storages, e.backends, e.settings)

	got, err := listing.Params(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Result != service.ListingSelector || got.SelectorName != model.TagCategoryEducationForm || len(got.SelectorItems) != 1 {
		t.Fatalf("root listing = %+v", got)
	}

	got, _ = listing.Params(ctx, map[string]string{model.TagCategoryEducationForm: "Очная"})
	if got.SelectorName != model.TagCategoryFaculty || len(got.SelectorItems) != 2 {
		t.Fatalf("faculty selector = %+v", got)
	}

	got, _ = listing.Params(ctx, map[string]string{
		model.TagCategoryEducationForm: "Очная",
		model.TagCategoryFaculty:       "ФЭВТ",
	})
	if got.SelectorName != model.TagCategoryCourse || len(got.SelectorItems) != 1 || got.SelectorItems[0] != "1 курс" {
		t.Fatalf("course selector = %+v", got)
	}

	got, _ = listing.Params(ctx, map[string]string{
		model.TagCategoryEducationForm: "Очная",
		model.TagCategoryFaculty:       "ФЭВТ",
		model.TagCategoryCourse:        "1 курс",
	})
	if got.Result != service.ListingFiles || len(got.Files) != 1 {
		t.Fatalf("files = %+v", got)
	}
	file := got.Files[0]
	if file.Name != "fevt-1.xlsx" || file.LastUpdate != "01/10/2026 09:30" {
		t.Fatalf("file = %+v", file)
	}
	if file.DownloadURL == "" || file.ArchiveURLs[storage.TypeLocal] == "" {
		t.Fatalf("file urls = %+v", file)
	}
	if file.VisViewURL != nil || file.LastLastUpdate != nil {
		t.Fatalf("unexpected history fields = %+v", file)
	}

	got, _ = listing.Params(ctx, map[string]string{model.TagCategoryFaculty: "Несуществующий"})
	if got.Result != service.ListingFiles || len(got.Files) != 0 {
		t.Fatalf("unknown tag listing = %+v", got)
	}
}

func TestSnapshotDatabase(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.crawler.Items = []crawler.StaticItem{e.item(t, "a.xlsx", sections, time.Now().UTC(), map[string]string{"A1": "a"})}
	e.run(t)

	snapshots := service.NewSnapshotService(repository.NewSnapshotRepository(e.db), service.SnapshotConfig{
		Dir:       filepath.Join(e.dir, "snapshots"),
		PublicURL: "http://tracker.test",
		LocalRoot: e.local.Root(),
	})

	if _, err := snapshots.Create(ctx, "everything"); !errors.Is(err, service.ErrUnknownSnapshot) {
		t.Fatalf("unknown type error = %v", err)
	}

	snap, err := snapshots.Create(ctx, service.SnapshotSystem)
	if err != nil {
		t.Fatal(err)
	}
	latest, err := snapshots.Latest(ctx, service.SnapshotSystem)
	if err != nil || latest.ID != snap.ID {
		t.Fatalf("latest = %+v, %v", latest, err)
	}

	f, err := os.Open(snap.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	names := map[string]bool{}
	tr := tar.NewReader(zr)
	localFiles := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names[hdr.Name] = true
		if filepath.Dir(hdr.Name) != "database" {
			localFiles++
		}
	}
	for _, table := range repository.DumpTables {
		if !names["database/"+table+".json"] {
			t.Errorf("missing dump of %s in %v", table, names)
		}
	}
	if localFiles != 1 {
		t.Fatalf("expected the one local replica in the archive, got %d", localFiles)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.crawler.Items = []crawler.StaticItem{e.item(t, "a.xlsx", sections, time.Now().UTC(), map[string]string{"A1": "a"})}
	e.run(t)

	cleanup := service.NewCleanupService(e.db, e.storages, e.backends, e.tagCache)

	if _, err := cleanup.Clear(ctx, "ftp"); !errors.Is(err, service.ErrUnknownComponent) {
		t.Fatalf("unknown component error = %v", err)
	}

	replicas, _ := e.storages.ByType(ctx, storage.TypeLocal)
	if len(replicas) != 1 {
		t.Fatalf("replicas = %d", len(replicas))
	}
	file := filepath.Join(e.local.Root(), filepath.FromSlash(replicas[0].Path))

	removed, err := cleanup.Clear(ctx, storage.TypeLocal)
	if err != nil || removed != 1 {
		t.Fatalf("Clear(local) = %d, %v", removed, err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatalf("replica file still present: %v", err)
	}

	_, err = cleanup.Clear(ctx, service.ComponentSystem)
	if err != nil {
		t.Fatal(err)
	}
	all, _ := e.resources.All(ctx)
	if len(all) != 0 {
		t.Fatalf("system clear left %d resources", len(all))
	}
	if n, _ := e.versions.CountAll(ctx); n != 0 {
		t.Fatalf("system clear left %d versions", n)
	}
}

func TestTaskHandlers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.crawler.Items = []crawler.StaticItem{e.item(t, "a.xlsx", sections, time.Now().UTC(), map[string]string{"A1": "a"})}

	update := service.NewUpdateTimetableHandler(e.sync)
	if update.Action() != model.TaskActionUpdateTimetable {
		t.Fatalf("action = %s", update.Action())
	}
	result, err := update.Run(ctx, &model.Task{Params: model.JSON{"action": model.TaskActionUpdateTimetable}})
	if err != nil {
		t.Fatal(err)
	}
	if result.String("finished") == "" {
		t.Fatalf("result = %v", result)
	}

	dell := service.NewClearHandler(service.NewCleanupService(e.db, e.storages, e.backends, e.tagCache))
	if _, err := dell.Run(ctx, &model.Task{Params: model.JSON{"action": model.TaskActionClear}}); err == nil {
		t.Fatal("dell without component must fail")
	}
	result, err = dell.Run(ctx, &model.Task{Params: model.JSON{"action": model.TaskActionClear, "component": service.ComponentAllStorages}})
	if err != nil {
		t.Fatal(err)
	}
	if result.String("removed") != "1" {
		t.Fatalf("result = %v", result)
	}
}
