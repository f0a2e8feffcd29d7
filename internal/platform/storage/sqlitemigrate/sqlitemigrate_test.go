package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTempDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyRunsMigrationsInOrder(t *testing.T) {
	sqlDB := openTempDB(t)
	migrations := fstest.MapFS{
		"0001_create.sql": {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
		"0002_extend.sql": {Data: []byte(`ALTER TABLE widgets ADD COLUMN label TEXT;`)},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := sqlDB.Exec(`INSERT INTO widgets (id, label) VALUES ('w1', 'first')`); err != nil {
		t.Fatalf("expected migrated schema to be usable: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	sqlDB := openTempDB(t)
	migrations := fstest.MapFS{
		"0001_create.sql": {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var count int
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(nil, fstest.MapFS{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}
