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

func TestSessionRepository_ValidityRequiresRowAndFutureExpiry(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	ctx := context.Background()
	seedPrincipal(t, NewPrincipalRepository(db), "p1", "a@x.io", models.RoleEditor)
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	s := &models.Session{
		ID:               "s1",
		PrincipalID:      "p1",
		TokenHash:        "access-hash",
		RefreshTokenHash: "refresh-hash",
		ExpiresAt:        now.Add(time.Hour),
		CreatedAt:        now,
		IPAddress:        "203.0.113.7",
		UserAgent:        "test-agent",
	}
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := repo.GetValidByTokenHash(ctx, "access-hash", now)
	if err != nil {
		t.Fatalf("expected valid session: %v", err)
	}
	if got.PrincipalID != "p1" || got.UserAgent != "test-agent" {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := repo.GetValidByTokenHash(ctx, "access-hash", now.Add(2*time.Hour)); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected expired session to be invalid, got %v", err)
	}

	deleted, err := repo.DeleteByTokenHash(ctx, "access-hash")
	if err != nil || !deleted {
		t.Fatalf("expected deletion, got deleted=%v err=%v", deleted, err)
	}
	if _, err := repo.GetValidByTokenHash(ctx, "access-hash", now); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected revoked session to be invalid, got %v", err)
	}

	deleted, err = repo.DeleteByTokenHash(ctx, "access-hash")
	if err != nil || deleted {
		t.Fatalf("expected second deletion to be a no-op, got deleted=%v err=%v", deleted, err)
	}
}

func TestSessionRepository_DeleteByPrincipalAndExpired(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	ctx := context.Background()
	principals := NewPrincipalRepository(db)
	seedPrincipal(t, principals, "p1", "a@x.io", models.RoleEditor)
	seedPrincipal(t, principals, "p2", "b@x.io", models.RoleEditor)
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	rows := []models.Session{
		{ID: "s1", PrincipalID: "p1", TokenHash: "t1", RefreshTokenHash: "r1", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "s2", PrincipalID: "p1", TokenHash: "t2", RefreshTokenHash: "r2", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "s3", PrincipalID: "p2", TokenHash: "t3", RefreshTokenHash: "r3", ExpiresAt: now.Add(-time.Minute), CreatedAt: now},
		{ID: "s4", PrincipalID: "p2", TokenHash: "t4", RefreshTokenHash: "r4", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
	}
	for i := range rows {
		if err := repo.Create(ctx, &rows[i]); err != nil {
			t.Fatalf("create %s: %v", rows[i].ID, err)
		}
	}

	n, err := repo.DeleteByPrincipal(ctx, "p1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 revoked sessions, got %d (%v)", n, err)
	}

	n, err = repo.DeleteExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 expired session swept, got %d (%v)", n, err)
	}

	count, err := repo.CountByPrincipal(ctx, "p2")
	if err != nil || count != 1 {
		t.Fatalf("expected one remaining session for p2, got %d (%v)", count, err)
	}
}
