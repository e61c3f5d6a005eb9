package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gamingglow/portal/internal/models"
)

// AuditRepository is append-only. It exposes no update or delete.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_logs (admin_id, action, target_type, target_id, details, ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullIfEmpty(e.ActorID), string(e.Action), nullIfEmpty(e.TargetType), nullIfEmpty(e.TargetID),
		string(payload), nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), e.CreatedAt.UTC())
	if err != nil {
		return err
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		e.ID = id
	}
	return nil
}

type AuditFilter struct {
	ActorID string
	Action  models.AuditAction
	Limit   int
}

// List returns matching entries, newest first.
func (r *AuditRepository) List(ctx context.Context, f AuditFilter) ([]*models.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "admin_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, admin_id, action, target_type, target_id, details, ip_address, user_agent, created_at FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		var (
			actor, targetType, targetID, ip, ua sql.NullString
			action, details                     string
		)
		if err := rows.Scan(&e.ID, &actor, &action, &targetType, &targetID, &details, &ip, &ua, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorID = actor.String
		e.Action = models.AuditAction(action)
		e.TargetType = targetType.String
		e.TargetID = targetID.String
		e.IPAddress = ip.String
		e.UserAgent = ua.String
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("decode audit details for entry %d: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
