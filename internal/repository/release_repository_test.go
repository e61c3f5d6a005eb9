package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/pkg/testutil"
)

func TestReleaseRepository_FindBySlug(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	ctx := context.Background()
	repo := NewReleaseRepository(db)
	if err := repo.CreateProduct(ctx, "prod-1", "halo", "Halo", models.ProductPublished); err != nil {
		t.Fatalf("create product: %v", err)
	}

	older := time.Now().Add(-48 * time.Hour)
	newer := time.Now().Add(-time.Hour)
	releases := []*models.Release{
		{ID: "rel-1", ProductID: "prod-1", Version: "1.0", StorageKey: "halo/1.0.zip", FileSize: 10, Checksum: "aa", ScanStatus: models.ScanClean, PublishedAt: &older},
		{ID: "rel-2", ProductID: "prod-1", Version: "2.0", StorageKey: "halo/2.0.zip", FileSize: 20, Checksum: "bb", ScanStatus: models.ScanScanning, IsLatest: true, PublishedAt: &newer},
	}
	for _, rel := range releases {
		if err := repo.CreateRelease(ctx, rel); err != nil {
			t.Fatalf("create release %s: %v", rel.ID, err)
		}
	}

	latest, err := repo.FindBySlug(ctx, "halo", "")
	if err != nil {
		t.Fatalf("find latest: %v", err)
	}
	if latest.ID != "rel-1" || latest.IsLatest || latest.ScanStatus != models.ScanClean {
		t.Fatalf("expected the clean release while the latest one scans, got %+v", latest)
	}
	if latest.ProductStatus != models.ProductPublished || latest.ContentType != "application/zip" {
		t.Fatalf("unexpected product fields: %+v", latest)
	}

	pinned, err := repo.FindBySlug(ctx, "halo", "1.0")
	if err != nil {
		t.Fatalf("find pinned: %v", err)
	}
	if pinned.ID != "rel-1" || pinned.StorageKey != "halo/1.0.zip" || pinned.Checksum != "aa" {
		t.Fatalf("unexpected pinned release: %+v", pinned)
	}

	if _, err := repo.FindBySlug(ctx, "halo", "2.0"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for pinned scanning release, got %v", err)
	}
	if _, err := repo.FindBySlug(ctx, "halo", "9.9"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown version, got %v", err)
	}
	if _, err := repo.FindBySlug(ctx, "nope", ""); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown slug, got %v", err)
	}

	if err := repo.SetScanStatus(ctx, "rel-2", models.ScanClean); err != nil {
		t.Fatalf("set scan status: %v", err)
	}
	latest, err = repo.FindBySlug(ctx, "halo", "")
	if err != nil || latest.ID != "rel-2" || !latest.IsLatest {
		t.Fatalf("expected latest-flagged release once clean, got %+v (%v)", latest, err)
	}
}
