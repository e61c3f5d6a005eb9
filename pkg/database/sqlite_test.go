package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitializeCreatesDatabasePath(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "portal.db")

	db, err := Initialize(dbPath)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("expected database directory to exist: %v", err)
	}

	var fk int
	if err := db.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("read foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("expected foreign keys enabled, got %d", fk)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	db, err := Initialize(filepath.Join(t.TempDir(), "schema.db"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema first run failed: %v", err)
	}
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema second run failed: %v", err)
	}

	for _, table := range []string{"admins", "admin_sessions", "audit_logs", "products", "releases", "download_stats"} {
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("expected %s table to exist: %v", table, err)
		}
	}

	if _, err := db.Exec(`UPDATE admins SET tfa_pending_secret = NULL`); err != nil {
		t.Fatalf("expected tfa_pending_secret column: %v", err)
	}
}

func TestInitSchemaMigratesLegacyAdminsTable(t *testing.T) {
	db, err := Initialize(filepath.Join(t.TempDir(), "legacy.db"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`
		CREATE TABLE admins (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'uploader',
			tfa_secret TEXT,
			tfa_enabled INTEGER NOT NULL DEFAULT 0,
			disabled INTEGER NOT NULL DEFAULT 0,
			last_login DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO admins (id, email, password_hash) VALUES ('a1', 'a@x.io', 'h')`); err != nil {
		t.Fatalf("seed legacy row: %v", err)
	}

	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	var pending *string
	if err := db.QueryRow(`SELECT tfa_pending_secret FROM admins WHERE id = 'a1'`).Scan(&pending); err != nil {
		t.Fatalf("select migrated column: %v", err)
	}
	if pending != nil {
		t.Fatalf("expected NULL pending secret, got %q", *pending)
	}
}

func TestAdminEmailIsCaseInsensitiveUnique(t *testing.T) {
	db, err := Initialize(filepath.Join(t.TempDir(), "unique.db"))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer db.Close()
	if err := InitSchema(db); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO admins (id, email, password_hash) VALUES ('a1', 'a@x.io', 'h')`); err != nil {
		t.Fatalf("insert first admin: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO admins (id, email, password_hash) VALUES ('a2', 'A@X.IO', 'h')`); err == nil {
		t.Fatal("expected unique violation for differently cased email")
	}
}
