// Package migrations contains embedded SQL migration files for each database backend.
package migrations

import "embed"

// Files exposes the compiled-in migration SQL files, one directory per driver.
//
//go:embed sqlite/*.sql postgres/*.sql
var Files embed.FS
