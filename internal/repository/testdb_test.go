package repository

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/hitoshi/oauthboard/internal/database"
)

// newTestDB はマイグレーション済みの一時SQLiteデータベースを返す。
func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	if err := database.RunMigrations(url); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	db, err := database.Open(url)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}
