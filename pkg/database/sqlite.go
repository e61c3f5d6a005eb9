package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Initialize opens the SQLite database at dbPath, creating its directory
// if needed, and applies the connection pragmas the portal relies on.
func Initialize(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// _txlock=immediate makes write transactions take the lock up front,
	// so two concurrent logins never deadlock upgrading a read lock.
	db, err := sql.Open("sqlite3", dbPath+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := pingWithRetry(db, 5); err != nil {
		_ = db.Close()
		return nil, err
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		// Wait instead of failing immediately with SQLITE_BUSY.
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

func pingWithRetry(db *sql.DB, attempts int) error {
	delay := 200 * time.Millisecond
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = db.PingContext(ctx)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < attempts {
			time.Sleep(delay)
			if delay < 2*time.Second {
				delay *= 2
			}
		}
	}
	return fmt.Errorf("failed to ping database after %d attempts: %w", attempts, err)
}

// InitSchema creates all tables and indexes. Safe to call on every startup
// because every statement uses IF NOT EXISTS.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS admins (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'uploader',
			tfa_secret TEXT,
			tfa_enabled INTEGER NOT NULL DEFAULT 0,
			disabled INTEGER NOT NULL DEFAULT 0,
			last_login DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS admin_sessions (
			id TEXT PRIMARY KEY,
			admin_id TEXT NOT NULL,
			token_hash TEXT NOT NULL UNIQUE,
			refresh_token_hash TEXT NOT NULL UNIQUE,
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			ip_address TEXT,
			user_agent TEXT,
			FOREIGN KEY (admin_id) REFERENCES admins(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			admin_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT,
			target_id TEXT,
			details TEXT NOT NULL DEFAULT '{}',
			ip_address TEXT,
			user_agent TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS releases (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL,
			version TEXT NOT NULL,
			file_key TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			checksum_sha256 TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT 'application/zip',
			scan_status TEXT NOT NULL DEFAULT 'pending',
			is_latest INTEGER NOT NULL DEFAULT 0,
			published_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (product_id, version),
			FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS download_stats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id TEXT NOT NULL,
			release_id TEXT NOT NULL,
			ip_hash TEXT NOT NULL,
			bytes INTEGER NOT NULL DEFAULT 0,
			user_agent TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_admin_sessions_admin_id ON admin_sessions(admin_id);
		CREATE INDEX IF NOT EXISTS idx_admin_sessions_expires_at ON admin_sessions(expires_at);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_admin_id ON audit_logs(admin_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
		CREATE INDEX IF NOT EXISTS idx_releases_product_id ON releases(product_id);
		CREATE INDEX IF NOT EXISTS idx_download_stats_product_id ON download_stats(product_id);
		CREATE INDEX IF NOT EXISTS idx_download_stats_created_at ON download_stats(created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Databases created before second-factor enrollment was split into a
	// pending and an active secret lack this column.
	if err := addColumnIfNotExists(db, "admins", "tfa_pending_secret", "TEXT"); err != nil {
		return fmt.Errorf("failed to add tfa_pending_secret column: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func addColumnIfNotExists(db *sql.DB, table, column, colDef string) error {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, colDef))
	return err
}
