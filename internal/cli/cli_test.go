package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/database"
	"github.com/bryan-buckman/noveltracker/internal/epub/epubtest"
	"github.com/bryan-buckman/noveltracker/internal/model"
	"github.com/bryan-buckman/noveltracker/internal/server"
	"github.com/bryan-buckman/noveltracker/internal/source"
	"github.com/bryan-buckman/noveltracker/internal/tracker"
)

type testEnv struct {
	url    string
	db     *database.DB
	libDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	db, err := database.New(filepath.Join(root, "novels.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	env := &testEnv{db: db, libDir: filepath.Join(root, "novels")}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := source.NewRegistry(&http.Client{Timeout: time.Second})
	reg.SetDomainDelay(0)
	svc := tracker.New(db, reg, tracker.WithLogger(log))
	if err := svc.EnsureSettings(context.Background(), env.libDir, filepath.Join(root, "covers")); err != nil {
		t.Fatal(err)
	}
	srv, err := server.New(svc, server.WithLogger(log))
	if err != nil {
		t.Fatal(err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	env.url = ts.URL
	return env
}

func (e *testEnv) create(t *testing.T, n model.Novel) string {
	t.Helper()
	id, err := e.db.CreateNovel(context.Background(), &n)
	if err != nil {
		t.Fatal(err)
	}
	return strconv.FormatInt(id, 10)
}

func (e *testEnv) novel(t *testing.T, id string) *model.Novel {
	t.Helper()
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		t.Fatal(err)
	}
	novel, err := e.db.GetNovel(context.Background(), n)
	if err != nil {
		t.Fatal(err)
	}
	return novel
}

func run(t *testing.T, serverURL, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", serverURL}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, model.Novel{Name: "Beta", URL: "https://example.com/b", Source: "manual", LocalChap: 3, OnlineChap: 10})
	env.create(t, model.Novel{Name: "Alpha", URL: "https://example.com/a", Source: "manual", LocalChap: 5, OnlineChap: 5})

	out, err := run(t, env.url, "", "list")
	if err != nil {
		t.Fatalf("list: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Showing 1 to 2 of 2 entries") {
		t.Errorf("list footer missing:\n%s", out)
	}
	if a, b := strings.Index(out, "Alpha"), strings.Index(out, "Beta"); a < 0 || b < 0 || a > b {
		t.Errorf("list not ordered by name:\n%s", out)
	}

	out, err = run(t, env.url, "", "list", "--order", "diff:desc", "--format", "csv")
	if err != nil {
		t.Fatalf("list csv: %v", err)
	}
	if a, b := strings.Index(out, "Alpha"), strings.Index(out, "Beta"); a < 0 || b < 0 || b > a {
		t.Errorf("csv not ordered by diff desc:\n%s", out)
	}

	out, err = run(t, env.url, "", "list", "--search", "alp", "--format", "json")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	if !strings.Contains(out, `"name": "Alpha"`) || strings.Contains(out, "Beta") {
		t.Errorf("search not applied:\n%s", out)
	}

	if _, err := run(t, env.url, "", "list", "--order", "pages"); err == nil {
		t.Error("expected error for unknown column")
	}
	if _, err := run(t, env.url, "", "list", "--length", "12"); err == nil {
		t.Error("expected error for a page length not offered")
	}
	if _, err := run(t, env.url, "", "list", "--format", "yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestAdd(t *testing.T) {
	env := newTestEnv(t)
	out, err := run(t, env.url, "", "add", "--name", "Gamma", "--url", "https://example.com/g", "--source", "Manual", "--localchap", "4")
	if err != nil {
		t.Fatalf("add: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[success] Novel 'Gamma' added successfully") {
		t.Errorf("add output:\n%s", out)
	}
	novels, err := env.db.ListNovels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 1 || novels[0].Source != "manual" || novels[0].LocalChap != 4 {
		t.Errorf("stored = %+v", novels)
	}

	out, err = run(t, env.url, "", "add", "--name", "NoURL")
	if !errors.Is(err, errNotified) || !strings.Contains(out, "[error] Missing required fields") {
		t.Errorf("add without url = %v\n%s", err, out)
	}
}

func TestEdit(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, model.Novel{Name: "Alpha", URL: "https://example.com/a", Source: "manual", Status: "Reading", LocalChap: 2})

	out, err := run(t, env.url, "", "edit", id, "--status", "Finished", "--notes", "vol 2")
	if err != nil {
		t.Fatalf("edit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[success] Updated 'Alpha'.") {
		t.Errorf("edit output:\n%s", out)
	}
	n := env.novel(t, id)
	if n.Status != "Finished" || n.Notes != "vol 2" || n.Name != "Alpha" || n.LocalChap != 2 {
		t.Errorf("edited = %+v", n)
	}

	if _, err := run(t, env.url, "", "edit", "999", "--status", "x"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("edit unknown id = %v", err)
	}
}

func TestEditFromEPUB(t *testing.T) {
	env := newTestEnv(t)
	epubtest.Write(t, filepath.Join(env.libDir, "book.epub"), epubtest.Book{Title: "Book Title", TOC: epubtest.Chapters(4)})
	id := env.create(t, model.Novel{Name: "Placeholder", URL: "https://example.com/p", Source: "manual"})

	out, err := run(t, env.url, "", "edit", id, "--filepath", "book.epub", "--from-epub", "all")
	if err != nil {
		t.Fatalf("edit: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[success] Info fetched successfully") || !strings.Contains(out, "[success] Updated 'Book Title'.") {
		t.Errorf("edit output:\n%s", out)
	}
	n := env.novel(t, id)
	if n.Name != "Book Title" || n.Filepath != "book.epub" || n.LocalChap != 4 {
		t.Errorf("edited = %+v", n)
	}

	id = env.create(t, model.Novel{Name: "NoFile", URL: "https://example.com/n", Source: "manual"})
	out, err = run(t, env.url, "", "edit", id, "--from-epub", "title")
	if !errors.Is(err, errNotified) || !strings.Contains(out, "[warning] Please enter EPUB filename") {
		t.Errorf("edit without file = %v\n%s", err, out)
	}
	if strings.Contains(out, "Updated") {
		t.Errorf("edit saved after a failed fetch:\n%s", out)
	}
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, model.Novel{Name: "Alpha", URL: "https://example.com/a", Source: "manual", LocalChap: 1, OnlineChap: 2})

	out, err := run(t, env.url, "", "update", id)
	if err != nil {
		t.Fatalf("update: %v\n%s", err, out)
	}
	for _, want := range []string{"[info] Updating...", "[success] Unsupported source (offline mode)", "Up to date."} {
		if !strings.Contains(out, want) {
			t.Errorf("update output missing %q:\n%s", want, out)
		}
	}

	id = env.create(t, model.Novel{Name: "NoSource"})
	out, err = run(t, env.url, "", "update", id)
	if !errors.Is(err, errNotified) || !strings.Contains(out, "[error] Missing parameters") {
		t.Errorf("update without source = %v\n%s", err, out)
	}
}

func TestUpdateAll(t *testing.T) {
	env := newTestEnv(t)
	out, err := run(t, env.url, "", "update-all")
	if !errors.Is(err, errNotified) || !strings.Contains(out, "[error] Chapters are not selected") {
		t.Errorf("update-all without checks = %v\n%s", err, out)
	}

	env.create(t, model.Novel{Name: "Gone", Filepath: "gone.epub"})
	out, _ = run(t, env.url, "", "update-all", "--check-epub")
	if !strings.Contains(out, "1 epub files missing") {
		t.Errorf("update-all --check-epub output:\n%s", out)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, model.Novel{Name: "Alpha", URL: "https://example.com/a", Source: "manual"})

	out, err := run(t, env.url, "n\n", "delete", id)
	if err != nil {
		t.Fatalf("delete declined: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Delete 'Alpha' (id "+id+")? (y/N)") || !strings.Contains(out, "Cancelled.") {
		t.Errorf("declined output:\n%s", out)
	}
	env.novel(t, id)

	out, err = run(t, env.url, "", "delete", id, "--yes")
	if err != nil {
		t.Fatalf("delete: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[success] 'Alpha' deleted.") || strings.Contains(out, "Cancelled.") {
		t.Errorf("delete output:\n%s", out)
	}
	novels, err := env.db.ListNovels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 0 {
		t.Errorf("novels after delete = %d", len(novels))
	}
}

func TestScanAndImport(t *testing.T) {
	env := newTestEnv(t)
	out, err := run(t, env.url, "", "scan")
	if err != nil || !strings.Contains(out, "[info] No new files found.") {
		t.Errorf("scan of empty library = %v\n%s", err, out)
	}

	epubtest.Write(t, filepath.Join(env.libDir, "one.epub"), epubtest.Book{Title: "One", TOC: epubtest.Chapters(3)})
	epubtest.Write(t, filepath.Join(env.libDir, "two.epub"), epubtest.Book{Title: "Two", TOC: epubtest.Chapters(1)})

	out, err = run(t, env.url, "", "scan")
	if err != nil {
		t.Fatalf("scan: %v\n%s", err, out)
	}
	for _, want := range []string{"New files (2) Cover files found: (0)", "  one.epub", "  two.epub"} {
		if !strings.Contains(out, want) {
			t.Errorf("scan output missing %q:\n%s", want, out)
		}
	}

	out, err = run(t, env.url, "", "import")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[success] One imported successfully") || !strings.Contains(out, "[success] Two imported successfully") {
		t.Errorf("import output:\n%s", out)
	}
	novels, err := env.db.ListNovels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 2 {
		t.Errorf("novels after import = %d", len(novels))
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	out, err := run(t, env.url, "", "status")
	if err != nil || !strings.Contains(out, "✅ Server is ONLINE") {
		t.Errorf("status = %v\n%s", err, out)
	}

	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	out, err = run(t, down.URL, "", "status")
	if !errors.Is(err, errNotified) || !strings.Contains(out, "❌ Server is OFFLINE") {
		t.Errorf("status of stopped server = %v\n%s", err, out)
	}
}

func TestStatusWatch(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--server", env.url, "status", "--watch", "--interval", "10ms"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("status --watch: %v", err)
	}
	if n := strings.Count(out.String(), "ONLINE"); n != 1 {
		t.Errorf("watch printed %d online lines, want 1 (only changes):\n%s", n, out.String())
	}
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t)
	id := env.create(t, model.Novel{Name: "Alpha", URL: "https://example.com/a", Source: "manual", Author: "Ann", Description: "Space opera"})
	bare := env.create(t, model.Novel{Name: "Bare", URL: "https://example.com/b", Source: "manual"})

	out, err := run(t, env.url, "", "info", id)
	if err != nil {
		t.Fatalf("info: %v\n%s", err, out)
	}
	for _, want := range []string{"Name:        Alpha", "Author:      Ann", "Description: Space opera…"} {
		if !strings.Contains(out, want) {
			t.Errorf("info output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Cover:") {
		t.Errorf("info shows a cover for a novel without one:\n%s", out)
	}

	out, err = run(t, env.url, "", "info", bare)
	if err != nil || !strings.Contains(out, "Author:      Unknown") || strings.Contains(out, "Description:") {
		t.Errorf("info bare = %v\n%s", err, out)
	}
}

func TestServerURL(t *testing.T) {
	t.Setenv("NOVEL_SERVER", "http://tracker.lan:5000")
	if got := (&rootOptions{}).serverURL(); got != "http://tracker.lan:5000" {
		t.Errorf("serverURL from env = %q", got)
	}
	if got := (&rootOptions{server: "http://x"}).serverURL(); got != "http://x" {
		t.Errorf("serverURL from flag = %q", got)
	}
	t.Setenv("NOVEL_SERVER", "")
	if got := (&rootOptions{}).serverURL(); got != "http://localhost:5000" {
		t.Errorf("default serverURL = %q", got)
	}
}

func TestActionsBeyondFirstPage(t *testing.T) {
	env := newTestEnv(t)
	var last string
	for i := range 25 {
		last = env.create(t, model.Novel{
			Name: fmt.Sprintf("Novel %02d", i), URL: fmt.Sprintf("https://example.com/%d", i),
			Source: "manual", Author: fmt.Sprintf("Author %02d", i),
		})
	}

	out, err := run(t, env.url, "", "edit", last, "--notes", "hello")
	if err != nil || !strings.Contains(out, "[success] Updated 'Novel 24'.") {
		t.Fatalf("edit %s = %v\n%s", last, err, out)
	}
	if n := env.novel(t, last); n.Notes != "hello" {
		t.Errorf("notes = %q", n.Notes)
	}

	out, err = run(t, env.url, "", "update", last)
	if err != nil || !strings.Contains(out, "No changes detected for 'Novel 24'") {
		t.Errorf("update %s = %v\n%s", last, err, out)
	}

	out, err = run(t, env.url, "", "info", last)
	if err != nil || !strings.Contains(out, "Author:      Author 24") {
		t.Errorf("info %s = %v\n%s", last, err, out)
	}

	out, err = run(t, env.url, "y\n", "delete", last)
	if err != nil || !strings.Contains(out, "[success] 'Novel 24' deleted.") {
		t.Fatalf("delete %s = %v\n%s", last, err, out)
	}
	novels, err := env.db.ListNovels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != 24 {
		t.Errorf("novels after delete = %d, want 24", len(novels))
	}

	if _, err := run(t, env.url, "", "edit", "999", "--notes", "x"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("edit unknown id = %v", err)
	}
}

func TestImportManyFilesWithDefaultLimits(t *testing.T) {
	env := newTestEnv(t)
	const n = 15
	for i := range n {
		epubtest.Write(t, filepath.Join(env.libDir, fmt.Sprintf("book%02d.epub", i)),
			epubtest.Book{Title: fmt.Sprintf("Book %02d", i), TOC: epubtest.Chapters(2)})
	}

	out, err := run(t, env.url, "", "import")
	if err != nil {
		t.Fatalf("import: %v\n%s", err, out)
	}
	if got := strings.Count(out, "imported successfully"); got != n {
		t.Errorf("imported %d of %d:\n%s", got, n, out)
	}
	novels, err := env.db.ListNovels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(novels) != n {
		t.Errorf("novels after import = %d, want %d", len(novels), n)
	}
}
