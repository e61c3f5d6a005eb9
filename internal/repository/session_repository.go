package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/gamingglow/portal/internal/models"
)

// SessionRepository is the session ledger. A session is valid only while its
// row exists and expires_at is in the future; revocation deletes the row.
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) Create(ctx context.Context, s *models.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admin_sessions (id, admin_id, token_hash, refresh_token_hash, expires_at, created_at, ip_address, user_agent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.PrincipalID, s.TokenHash, s.RefreshTokenHash, s.ExpiresAt.UTC(), s.CreatedAt.UTC(), s.IPAddress, s.UserAgent)
	return err
}

// GetValidByTokenHash returns the session only if it exists and has not
// expired at now. Otherwise it returns sql.ErrNoRows.
func (r *SessionRepository) GetValidByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error) {
	s := &models.Session{}
	var ip, ua sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, admin_id, token_hash, refresh_token_hash, expires_at, created_at, ip_address, user_agent
		FROM admin_sessions
		WHERE token_hash = ? AND expires_at > ?
	`, tokenHash, now.UTC()).Scan(&s.ID, &s.PrincipalID, &s.TokenHash, &s.RefreshTokenHash, &s.ExpiresAt, &s.CreatedAt, &ip, &ua)
	if err != nil {
		return nil, err
	}
	s.IPAddress = ip.String
	s.UserAgent = ua.String
	return s, nil
}

// DeleteByTokenHash revokes one session. It reports whether a row existed.
func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error) {
	return rowsChanged(r.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE token_hash = ?`, tokenHash))
}

// DeleteByPrincipal revokes every session of a principal.
func (r *SessionRepository) DeleteByPrincipal(ctx context.Context, principalID string) (int64, error) {
	return rowCount(r.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE admin_id = ?`, principalID))
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return rowCount(r.db.ExecContext(ctx, `DELETE FROM admin_sessions WHERE expires_at <= ?`, now.UTC()))
}

func (r *SessionRepository) CountByPrincipal(ctx context.Context, principalID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admin_sessions WHERE admin_id = ?`, principalID).Scan(&n)
	return n, err
}

func rowCount(result sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
