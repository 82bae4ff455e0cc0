// Package database provides storage backends for tracked novels and settings.
package database

import (
	"context"
	"database/sql"
	"path"
	"strings"
	"time"

	"github.com/bryan-buckman/noveltracker/internal/model"
)

// Store defines the interface for database operations.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error
	Ping(ctx context.Context) error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// SupportsHighConcurrency returns true if the database can handle
	// many concurrent write operations (e.g., PostgreSQL).
	// SQLite returns false due to write locking limitations.
	SupportsHighConcurrency() bool

	// Novel operations
	ListNovels(ctx context.Context) ([]model.Novel, error)
	ListNovelsFrom(ctx context.Context, startID int64, limit int) ([]model.Novel, error)
	GetNovel(ctx context.Context, id int64) (*model.Novel, error)
	CreateNovel(ctx context.Context, n *model.Novel) (int64, error)
	UpdateNovel(ctx context.Context, id int64, p model.NovelPatch) error
	DeleteNovel(ctx context.Context, id int64) error
	TrackedFiles(ctx context.Context) (epubs, covers map[string]struct{}, err error)

	// Settings operations
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	Settings(ctx context.Context) (map[string]string, error)
	EnsureSettings(ctx context.Context, defaults map[string]string) error
}

const novelColumns = `id, name, url, author, description, cover_path, localchap, onlinechap,
	latestchaptime, status, source, notes, filepath, epub_exists, created_time, last_updated, updated_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNovel(row rowScanner) (model.Novel, error) {
	var n model.Novel
	var url, author, desc, cover, status, source, notes, filepath, exists sql.NullString
	var local, online sql.NullFloat64
	var latest, created, updated sql.NullTime
	err := row.Scan(&n.ID, &n.Name, &url, &author, &desc, &cover, &local, &online,
		&latest, &status, &source, &notes, &filepath, &exists, &created, &updated, &n.UpdatedCount)
	if err != nil {
		return n, err
	}
	n.URL = url.String
	n.Author = author.String
	n.Description = desc.String
	n.CoverPath = cover.String
	n.LocalChap = local.Float64
	n.OnlineChap = online.Float64
	n.Status = status.String
	n.Source = source.String
	n.Notes = notes.String
	n.Filepath = filepath.String
	n.EpubExists = exists.String
	if latest.Valid {
		t := latest.Time
		n.LatestChapTime = &t
	}
	if created.Valid {
		n.CreatedAt = created.Time
	}
	if updated.Valid {
		t := updated.Time
		n.LastUpdated = &t
	}
	return n, nil
}

func scanNovels(rows *sql.Rows) ([]model.Novel, error) {
	var novels []model.Novel
	for rows.Next() {
		n, err := scanNovel(rows)
		if err != nil {
			return nil, err
		}
		novels = append(novels, n)
	}
	return novels, rows.Err()
}

// patchAssignments returns the column names and values a patch writes, in a fixed order.
func patchAssignments(p model.NovelPatch) ([]string, []any) {
	var cols []string
	var args []any
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
	}
	if p.Name != nil {
		add("name", *p.Name)
	}
	if p.URL != nil {
		add("url", *p.URL)
	}
	if p.Author != nil {
		add("author", *p.Author)
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.CoverPath != nil {
		add("cover_path", *p.CoverPath)
	}
	if p.LocalChap != nil {
		add("localchap", *p.LocalChap)
	}
	if p.OnlineChap != nil {
		add("onlinechap", *p.OnlineChap)
	}
	if p.LatestChapTime != nil {
		add("latestchaptime", p.LatestChapTime.UTC())
	}
	if p.Status != nil {
		add("status", *p.Status)
	}
	if p.Source != nil {
		add("source", *p.Source)
	}
	if p.Notes != nil {
		add("notes", *p.Notes)
	}
	if p.Filepath != nil {
		add("filepath", *p.Filepath)
	}
	if p.EpubExists != nil {
		add("epub_exists", *p.EpubExists)
	}
	return cols, args
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// baseName reduces a stored path to the file name the library lists.
func baseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Base(p)
}

func collectTrackedFiles(rows *sql.Rows) (map[string]struct{}, map[string]struct{}, error) {
	epubs := make(map[string]struct{})
	covers := make(map[string]struct{})
	for rows.Next() {
		var fp, cp sql.NullString
		if err := rows.Scan(&fp, &cp); err != nil {
			return nil, nil, err
		}
		if fp.String != "" {
			epubs[baseName(fp.String)] = struct{}{}
		}
		if cp.String != "" {
			covers[baseName(cp.String)] = struct{}{}
		}
	}
	return epubs, covers, rows.Err()
}
