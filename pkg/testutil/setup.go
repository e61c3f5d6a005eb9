package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gamingglow/portal/pkg/database"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
)

// TestConfig holds test configuration
type TestConfig struct {
	DBPath string
}

// SetupTest creates a test environment with a temporary database carrying
// the runtime schema.
func SetupTest(t *testing.T) (*sql.DB, *TestConfig, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "portal-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}

	cfg := &TestConfig{
		DBPath: filepath.Join(tmpDir, "test.db"),
	}
	cleanupTmpDir := func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Logf("Failed to remove temp directory %q: %v", tmpDir, err)
		}
	}

	db, err := database.Initialize(cfg.DBPath)
	if err != nil {
		cleanupTmpDir()
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := database.InitSchema(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Failed to close test database after schema init error: %v", closeErr)
		}
		cleanupTmpDir()
		t.Fatalf("Failed to initialize test schema: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
		cleanupTmpDir()
	}

	return db, cfg, cleanup
}

// SetupRedis starts an in-process Redis server for the duration of the test.
// The miniredis handle is returned for TTL inspection and FastForward.
func SetupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("Failed to close redis client: %v", err)
		}
	})
	return client, mr
}
