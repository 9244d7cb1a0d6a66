// Package database provides the optional SQLite store for the bridge's
// device lifecycle audit log.
//
// The store is off by default (database.enabled). When enabled it is opened
// at startup, migrated from the SQL files embedded by the migrations package,
// and written to by the audit package as devices come and go.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
