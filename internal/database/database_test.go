package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "data", "novels.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func strPtr(s string) *string      { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestNew_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novels.db")
	db, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if _, err := db.CreateNovel(ctx, &model.Novel{Name: "Kept"}); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = New(path)
	if err != nil {
		t.Fatalf("reopen: New() error = %v", err)
	}
	defer db.Close()
	novels, err := db.ListNovels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 1 || novels[0].Name != "Kept" {
		t.Errorf("ListNovels() = %+v, want one novel named Kept", novels)
	}
}

func TestNovelLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	latest := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id, err := db.CreateNovel(ctx, &model.Novel{
		Name:           "Lord of Mysteries",
		URL:            "https://www.webnovel.com/book/11022733006234505",
		Source:         "webnovel",
		LocalChap:      100,
		OnlineChap:     1432,
		LatestChapTime: &latest,
		Filepath:       "novels/lord.epub",
	})
	if err != nil {
		t.Fatalf("CreateNovel() error = %v", err)
	}

	n, err := db.GetNovel(ctx, id)
	if err != nil {
		t.Fatalf("GetNovel() error = %v", err)
	}
	if n.OnlineChap != 1432 || n.LocalChap != 100 {
		t.Errorf("chapters = %v/%v, want 100/1432", n.LocalChap, n.OnlineChap)
	}
	if n.LatestChapTime == nil || !n.LatestChapTime.Equal(latest) {
		t.Errorf("LatestChapTime = %v, want %v", n.LatestChapTime, latest)
	}
	if n.UpdatedCount != 0 || n.LastUpdated != nil {
		t.Errorf("fresh novel has UpdatedCount=%d LastUpdated=%v", n.UpdatedCount, n.LastUpdated)
	}

	err = db.UpdateNovel(ctx, id, model.NovelPatch{Notes: strPtr("reread"), LocalChap: floatPtr(120)})
	if err != nil {
		t.Fatalf("UpdateNovel() error = %v", err)
	}
	n, _ = db.GetNovel(ctx, id)
	if n.Notes != "reread" || n.LocalChap != 120 {
		t.Errorf("after update notes=%q local=%v", n.Notes, n.LocalChap)
	}
	if n.Name != "Lord of Mysteries" {
		t.Errorf("untouched Name changed to %q", n.Name)
	}
	if n.UpdatedCount != 1 || n.LastUpdated == nil {
		t.Errorf("UpdatedCount=%d LastUpdated=%v, want 1 and set", n.UpdatedCount, n.LastUpdated)
	}

	if err := db.DeleteNovel(ctx, id); err != nil {
		t.Fatalf("DeleteNovel() error = %v", err)
	}
	if _, err := db.GetNovel(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("GetNovel() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.DeleteNovel(ctx, id); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("second DeleteNovel() error = %v, want ErrNotFound", err)
	}
	if err := db.UpdateNovel(ctx, id, model.NovelPatch{Notes: strPtr("x")}); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("UpdateNovel() missing error = %v, want ErrNotFound", err)
	}
}

func TestUpdateNovel_EmptyPatchIsNoop(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	id, _ := db.CreateNovel(ctx, &model.Novel{Name: "A"})

	if err := db.UpdateNovel(ctx, id, model.NovelPatch{}); err != nil {
		t.Fatalf("UpdateNovel() error = %v", err)
	}
	n, _ := db.GetNovel(ctx, id)
	if n.UpdatedCount != 0 {
		t.Errorf("UpdatedCount = %d, want 0 for empty patch", n.UpdatedCount)
	}
}

func TestListNovels_OrderAndRange(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	var ids []int64
	for _, name := range []string{"charlie", "Alpha", "bravo"} {
		id, err := db.CreateNovel(ctx, &model.Novel{Name: name})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	novels, err := db.ListNovels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, n := range novels {
		names = append(names, n.Name)
	}
	want := []string{"Alpha", "bravo", "charlie"}
	for i := range want {
		if i >= len(names) || names[i] != want[i] {
			t.Fatalf("ListNovels() names = %v, want %v", names, want)
		}
	}

	from, err := db.ListNovelsFrom(ctx, ids[1], 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(from) != 1 || from[0].ID != ids[1] {
		t.Errorf("ListNovelsFrom(%d, 1) = %+v", ids[1], from)
	}
	all, _ := db.ListNovelsFrom(ctx, 0, 0)
	if len(all) != 3 {
		t.Errorf("ListNovelsFrom(0, 0) returned %d novels, want 3", len(all))
	}
}

func TestTrackedFiles_UsesBaseNames(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	db.CreateNovel(ctx, &model.Novel{Name: "A", Filepath: "novels/sub/A.epub", CoverPath: "static/img/cover/1.webp"})
	db.CreateNovel(ctx, &model.Novel{Name: "B", Filepath: `C:\books\B.epub`})
	db.CreateNovel(ctx, &model.Novel{Name: "C"})

	epubs, covers, err := db.TrackedFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"A.epub", "B.epub"} {
		if _, ok := epubs[name]; !ok {
			t.Errorf("epubs missing %q: %v", name, epubs)
		}
	}
	if len(epubs) != 2 {
		t.Errorf("len(epubs) = %d, want 2", len(epubs))
	}
	if _, ok := covers["1.webp"]; !ok || len(covers) != 1 {
		t.Errorf("covers = %v, want only 1.webp", covers)
	}
}

func TestSettings(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.SetSetting(ctx, model.SettingDelayFrom, "5"); err != nil {
		t.Fatal(err)
	}
	if err := db.EnsureSettings(ctx, model.DefaultSettings); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetSetting(ctx, model.SettingDelayFrom)
	if err != nil {
		t.Fatal(err)
	}
	if got != "5" {
		t.Errorf("DELAY_FROM = %q, want existing value 5 kept", got)
	}

	all, err := db.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(model.DefaultSettings) {
		t.Errorf("Settings() has %d keys, want %d", len(all), len(model.DefaultSettings))
	}
	if all[model.SettingDelayTo] != "3" {
		t.Errorf("DELAY_TO = %q, want default 3", all[model.SettingDelayTo])
	}

	db.SetSetting(ctx, model.SettingDelayFrom, "2")
	if got, _ := db.GetSetting(ctx, model.SettingDelayFrom); got != "2" {
		t.Errorf("DELAY_FROM after overwrite = %q, want 2", got)
	}
}
