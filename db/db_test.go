package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	ctx := context.Background()
	for i := range 2 {
		if err := Migrate(ctx, database); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
}

func TestConnectBadDSN(t *testing.T) {
	if _, err := Connect(context.Background(), "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"); err == nil {
		t.Fatal("expected connection error")
	}
}
