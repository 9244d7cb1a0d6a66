// Package migrations embeds the SQLite schema for the lifecycle audit log.
package migrations

import "embed"

// FS holds the *.sql migration files, applied by database.DB.Migrate.
//
//go:embed *.sql
var FS embed.FS
