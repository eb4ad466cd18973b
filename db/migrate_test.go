package db

import (
	"context"
	"testing"
)

func TestEmbeddedMigrations(t *testing.T) {
	n, err := MigrationCount()
	if err != nil {
		t.Fatalf("MigrationCount: %v", err)
	}
	if n < 1 {
		t.Fatalf("embedded up migrations = %d, want >= 1", n)
	}
}

func TestRunMigrations(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	if _, err := database.ExecContext(ctx, `DROP TABLE IF EXISTS playback_history, schema_migrations CASCADE`); err != nil {
		t.Fatalf("clean: %v", err)
	}

	if err := RunMigrations(database); err != nil {
		t.Fatalf("RunMigrations() error = %v", err)
	}
	if err := RunMigrations(database); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	version, dirty, err := GetMigrationVersion(database)
	if err != nil {
		t.Fatalf("GetMigrationVersion() error = %v", err)
	}
	if dirty || version < 1 {
		t.Fatalf("version = %d dirty = %v", version, dirty)
	}

	if err := MigrateDown(database); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	var exists bool
	if err := database.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = 'playback_history')`).Scan(&exists); err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("playback_history should be gone after rolling back")
	}
}
