package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/pkg/testutil"
)

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, *models.AuditEntry) error {
	return errors.New("disk I/O error")
}

func (failingAuditStore) List(context.Context, repository.AuditFilter) ([]*models.AuditEntry, error) {
	return nil, errors.New("disk I/O error")
}

func TestAuditService_RecordSanitizesDetails(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	repo := repository.NewAuditRepository(db)
	svc := NewAuditService(repo, 0)
	ctx := context.Background()

	svc.Record(ctx, models.AuditEntry{
		ActorID:   "p1",
		Action:    models.AuditLogin,
		UserAgent: "curl/8\r\nX-Injected: 1",
		Details: map[string]string{
			"Method":  "password",
			"note\n!": strings.Repeat("a", 1000),
		},
	})

	entries, err := svc.List(ctx, repository.AuditFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Details["method"] != "password" {
		t.Fatalf("expected normalized method key, got %v", e.Details)
	}
	if got := e.Details["note"]; len(got) != 256 {
		t.Fatalf("expected value capped at 256 chars, got %d", len(got))
	}
	if strings.ContainsAny(e.UserAgent, "\r\n") {
		t.Fatalf("expected control characters stripped from user agent, got %q", e.UserAgent)
	}
	if e.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}
}

func TestAuditService_DropsUnknownAction(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	svc := NewAuditService(repository.NewAuditRepository(db), 0)
	svc.Record(context.Background(), models.AuditEntry{ActorID: "p1", Action: "DROP_TABLE"})

	entries, err := svc.List(context.Background(), repository.AuditFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected unknown action to be dropped, got %d entries", len(entries))
	}
}

func TestAuditService_StoreFailureDoesNotPropagate(t *testing.T) {
	svc := NewAuditService(failingAuditStore{}, 0)

	// Record has no error to return; reaching the end without panicking is the contract.
	svc.Record(context.Background(), models.AuditEntry{ActorID: "p1", Action: models.AuditLogout})

	if _, err := svc.List(context.Background(), repository.AuditFilter{}); err == nil {
		t.Fatal("expected list error to surface")
	}
}

func TestAuditService_ListFiltersAndCaps(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	svc := NewAuditService(repository.NewAuditRepository(db), 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		svc.Record(ctx, models.AuditEntry{ActorID: "p1", Action: models.AuditLogin})
	}
	svc.Record(ctx, models.AuditEntry{ActorID: "p2", Action: models.AuditLogout})

	entries, err := svc.List(ctx, repository.AuditFilter{ActorID: "p1", Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].ID <= entries[1].ID {
		t.Fatalf("expected two newest-first entries, got %+v", entries)
	}

	entries, err = svc.List(ctx, repository.AuditFilter{Action: models.AuditLogout, Limit: 10_000})
	if err != nil {
		t.Fatalf("list by action: %v", err)
	}
	if len(entries) != 1 || entries[0].ActorID != "p2" {
		t.Fatalf("expected single logout entry, got %+v", entries)
	}

	entries, err = svc.List(ctx, repository.AuditFilter{Action: "NOT_A_THING"})
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty result for unknown action, got %d (%v)", len(entries), err)
	}
}
