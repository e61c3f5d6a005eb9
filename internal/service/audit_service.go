package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/pkg/logger"
	"github.com/gamingglow/portal/pkg/sanitize"
)

const (
	defaultAuditListLimit = 50
	maxAuditListLimit     = 200
)

type AuditStore interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	List(ctx context.Context, f repository.AuditFilter) ([]*models.AuditEntry, error)
}

// AuditService appends audit entries. Record never fails the caller: a
// rejected write is counted and left in the audit log stream only.
type AuditService struct {
	store     AuditStore
	opTimeout time.Duration
	now       func() time.Time
}

func NewAuditService(store AuditStore, opTimeout time.Duration) *AuditService {
	if opTimeout <= 0 {
		opTimeout = time.Second
	}
	return &AuditService{store: store, opTimeout: opTimeout, now: time.Now}
}

func (s *AuditService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record sanitizes the entry and stores it. Unknown actions are dropped.
func (s *AuditService) Record(ctx context.Context, e models.AuditEntry) {
	if !e.Action.Valid() {
		logger.Warn().Str("action", sanitize.AuditValue(string(e.Action))).Msg("Dropping audit entry with unknown action")
		return
	}

	e.TargetType = sanitize.AuditValue(e.TargetType)
	e.TargetID = sanitize.AuditValue(e.TargetID)
	e.UserAgent = sanitize.AuditValue(e.UserAgent)
	e.IPAddress = sanitize.AuditValue(e.IPAddress)
	e.Details = sanitize.AuditDetails(e.Details)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	logger.Audit(string(e.Action), e.ActorID, e.Details)

	// The write outlives a cancelled request.
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()
	if err := s.store.Append(opCtx, &e); err != nil {
		bestEffortFailures.WithLabelValues("audit").Inc()
		logger.Error().Err(err).Str("action", string(e.Action)).Str("actor_id", e.ActorID).Msg("Failed to persist audit entry")
	}
}

// List returns the newest entries first. Limit defaults to 50 and is capped
// at 200.
func (s *AuditService) List(ctx context.Context, f repository.AuditFilter) ([]*models.AuditEntry, error) {
	if f.Action != "" && !f.Action.Valid() {
		return []*models.AuditEntry{}, nil
	}
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAuditListLimit
	case f.Limit > maxAuditListLimit:
		f.Limit = maxAuditListLimit
	}

	entries, err := s.store.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	if entries == nil {
		entries = []*models.AuditEntry{}
	}
	return entries, nil
}
