package relay

import (
	"database/sql"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db")+"?_journal_mode=WAL")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunMigrations_FreshDB(t *testing.T) {
	db := testDB(t)
	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}

	version, err := getSchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if version != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, version)
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := runMigrations(db, testLogger()); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	var rows int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows); err != nil {
		t.Fatal(err)
	}
	if rows != len(migrations) {
		t.Errorf("schema_version rows = %d, want %d", rows, len(migrations))
	}
}

func TestRunMigrations_CreatesTableAndIndex(t *testing.T) {
	db := testDB(t)
	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatal(err)
	}

	for _, obj := range []struct{ kind, name string }{
		{"table", "relay_records"},
		{"table", "schema_version"},
		{"index", "idx_relay_records_created"},
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = ? AND name = ?", obj.kind, obj.name).Scan(&name)
		if err != nil {
			t.Errorf("%s %s missing: %v", obj.kind, obj.name, err)
		}
	}
}

func TestRunMigrations_UpgradesFromV1(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`
		CREATE TABLE schema_version (version INTEGER PRIMARY KEY, description TEXT, applied_at DATETIME DEFAULT CURRENT_TIMESTAMP);
		INSERT INTO schema_version (version, description) VALUES (1, 'v1');
	`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(migrations[0].SQL); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec(`INSERT INTO relay_records (source_id, dest_id, created_at) VALUES (1, 100, 0)`); err != nil {
		t.Fatal(err)
	}

	if err := runMigrations(db, testLogger()); err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	var dest int
	if err := db.QueryRow("SELECT dest_id FROM relay_records WHERE source_id = 1 AND removed_at IS NULL").Scan(&dest); err != nil || dest != 100 {
		t.Fatalf("existing record lost: dest=%d err=%v", dest, err)
	}
}
