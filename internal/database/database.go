package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/bryan-buckman/noveltracker/internal/database/migrations"
	"github.com/bryan-buckman/noveltracker/internal/model"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path and applies migrations.
func New(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", filepath.ToSlash(path))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// SupportsHighConcurrency returns false for SQLite.
func (db *DB) SupportsHighConcurrency() bool {
	return false
}

func (db *DB) migrate() error {
	driver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	src, err := iofs.New(migrations.Files, "sqlite")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer src.Close()

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// --- Novel Methods ---

// ListNovels returns all novels ordered by name.
func (db *DB) ListNovels(ctx context.Context) ([]model.Novel, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT "+novelColumns+" FROM novels ORDER BY name COLLATE NOCASE, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNovels(rows)
}

// ListNovelsFrom returns novels with id >= startID in id order. A limit below 1 means no limit.
func (db *DB) ListNovelsFrom(ctx context.Context, startID int64, limit int) ([]model.Novel, error) {
	query := "SELECT " + novelColumns + " FROM novels WHERE id >= ? ORDER BY id"
	args := []any{startID}
	if limit >= 1 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanNovels(rows)
}

// GetNovel returns a single novel or model.ErrNotFound.
func (db *DB) GetNovel(ctx context.Context, id int64) (*model.Novel, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+novelColumns+" FROM novels WHERE id = ?", id)
	n, err := scanNovel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNovel inserts a novel. Returns the ID.
func (db *DB) CreateNovel(ctx context.Context, n *model.Novel) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO novels (name, url, author, description, cover_path, localchap, onlinechap,
			latestchaptime, status, source, notes, filepath, epub_exists, created_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Name, n.URL, n.Author, n.Description, n.CoverPath, n.LocalChap, n.OnlineChap,
		nullTime(n.LatestChapTime), n.Status, n.Source, n.Notes, n.Filepath, n.EpubExists, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateNovel writes the non-nil fields of p and bumps the change counters.
func (db *DB) UpdateNovel(ctx context.Context, id int64, p model.NovelPatch) error {
	cols, args := patchAssignments(p)
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, 0, len(cols)+2)
	for _, c := range cols {
		sets = append(sets, c+" = ?")
	}
	sets = append(sets, "last_updated = ?", "updated_count = updated_count + 1")
	args = append(args, time.Now().UTC(), id)

	res, err := db.conn.ExecContext(ctx, "UPDATE novels SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// DeleteNovel removes a novel.
func (db *DB) DeleteNovel(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, "DELETE FROM novels WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// TrackedFiles returns the base names of every EPUB and cover referenced by a novel.
func (db *DB) TrackedFiles(ctx context.Context) (map[string]struct{}, map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT filepath, cover_path FROM novels WHERE filepath IS NOT NULL OR cover_path IS NOT NULL")
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	return collectTrackedFiles(rows)
}

// --- Settings Methods ---

// GetSetting retrieves a setting value.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var val string
	err := db.conn.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&val)
	return val, err
}

// SetSetting saves a setting.
func (db *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = ?", key, value, value)
	return err
}

// Settings returns every stored setting.
func (db *DB) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

// EnsureSettings inserts defaults for keys that have no value yet.
func (db *DB) EnsureSettings(ctx context.Context, defaults map[string]string) error {
	for k, v := range defaults {
		if _, err := db.conn.ExecContext(ctx,
			"INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
	}
	return nil
}
