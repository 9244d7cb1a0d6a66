package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/tivoremote-bridge/migrations"
)

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantOK      bool
	}{
		{"0001_lifecycle_events.sql", "0001", "lifecycle_events", true},
		{"0002_add_index.sql", "0002", "add_index", true},
		{"0001.sql", "", "", false},
		{"README.md", "", "", false},
		{"_nameless.sql", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOK || version != tt.wantVersion || name != tt.wantName {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.filename, version, name, ok, tt.wantVersion, tt.wantName, tt.wantOK)
			}
		})
	}
}

func TestLoadMigrations_Sorted(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_second.sql": {Data: []byte("CREATE TABLE b (x INTEGER);")},
		"0001_first.sql":  {Data: []byte("CREATE TABLE a (x INTEGER);")},
		"notes.txt":       {Data: []byte("ignored")},
	}

	got, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d migrations, want 2", len(got))
	}
	if got[0].Version != "0001" || got[1].Version != "0002" {
		t.Errorf("order = %s, %s", got[0].Version, got[1].Version)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if !applied["0001"] {
		t.Errorf("0001 not recorded: %v", applied)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO lifecycle_events (id, device_id, generation, event, created_at) VALUES ('a', 'd', 'g', 'found', 'now')`,
	); err != nil {
		t.Errorf("lifecycle_events not usable: %v", err)
	}
}

func TestMigrate_FailureStopsAndRollsBack(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"0001_ok.sql":     {Data: []byte("CREATE TABLE ok (x INTEGER);")},
		"0002_broken.sql": {Data: []byte("CREATE TABLE nope (;")},
		"0003_later.sql":  {Data: []byte("CREATE TABLE later (x INTEGER);")},
	}

	if err := db.Migrate(ctx, fsys); err == nil {
		t.Fatal("Migrate() with broken SQL should fail")
	}

	applied, err := db.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions() error = %v", err)
	}
	if !applied["0001"] || applied["0002"] || applied["0003"] {
		t.Errorf("applied = %v, want only 0001", applied)
	}
}
