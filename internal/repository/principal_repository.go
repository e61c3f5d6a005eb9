package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gamingglow/portal/internal/models"
)

// ErrInvalidRole is returned when a stored role name does not parse.
var ErrInvalidRole = errors.New("stored role is not recognized")

const principalColumns = `id, email, password_hash, role, tfa_secret, tfa_pending_secret, tfa_enabled, disabled, last_login, created_at`

type PrincipalRepository struct {
	db *sql.DB
}

func NewPrincipalRepository(db *sql.DB) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

func (r *PrincipalRepository) Create(ctx context.Context, p *models.Principal) error {
	if !p.Role.Valid() {
		return fmt.Errorf("create principal: %w", ErrInvalidRole)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO admins (id, email, password_hash, role, tfa_secret, tfa_pending_secret, tfa_enabled, disabled, last_login, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Email, p.PasswordHash, p.Role.String(), p.TFASecret, p.TFAPendingSecret,
		boolToInt(p.TFAEnabled), boolToInt(p.Disabled), nullableTime(p.LastLogin), p.CreatedAt.UTC())
	return err
}

func (r *PrincipalRepository) GetByID(ctx context.Context, id string) (*models.Principal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM admins WHERE id = ?`, id)
	return scanPrincipal(row)
}

// GetByEmail matches case-insensitively.
func (r *PrincipalRepository) GetByEmail(ctx context.Context, email string) (*models.Principal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM admins WHERE email = ? COLLATE NOCASE`, email)
	return scanPrincipal(row)
}

func (r *PrincipalRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE admins SET last_login = ? WHERE id = ?`, at.UTC(), id)
	return err
}

// SetPendingTFASecret stores a not-yet-confirmed secret. The active secret
// and the enabled flag are left untouched.
func (r *PrincipalRepository) SetPendingTFASecret(ctx context.Context, id, secret string) error {
	return expectOneRow(r.db.ExecContext(ctx, `UPDATE admins SET tfa_pending_secret = ? WHERE id = ?`, secret, id))
}

// ActivatePendingTFA promotes the pending secret to active and enables the
// second factor, provided the pending secret is still the one that was
// verified. It reports false if the pending secret changed meanwhile.
func (r *PrincipalRepository) ActivatePendingTFA(ctx context.Context, id, verifiedSecret string) (bool, error) {
	return rowsChanged(r.db.ExecContext(ctx, `
		UPDATE admins
		SET tfa_secret = tfa_pending_secret, tfa_pending_secret = NULL, tfa_enabled = 1
		WHERE id = ? AND tfa_pending_secret = ?
	`, id, verifiedSecret))
}

// ClearTFA removes both secrets and disables the second factor, provided it
// is enabled with verifiedSecret as the active secret.
func (r *PrincipalRepository) ClearTFA(ctx context.Context, id, verifiedSecret string) (bool, error) {
	return rowsChanged(r.db.ExecContext(ctx, `
		UPDATE admins
		SET tfa_secret = NULL, tfa_pending_secret = NULL, tfa_enabled = 0
		WHERE id = ? AND tfa_enabled = 1 AND tfa_secret = ?
	`, id, verifiedSecret))
}

func (r *PrincipalRepository) SetDisabled(ctx context.Context, id string, disabled bool) error {
	return expectOneRow(r.db.ExecContext(ctx, `UPDATE admins SET disabled = ? WHERE id = ?`, boolToInt(disabled), id))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*models.Principal, error) {
	p := &models.Principal{}
	var (
		role                  string
		tfaSecret, tfaPending sql.NullString
		tfaEnabled, disabled  int
		lastLogin             sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &role, &tfaSecret, &tfaPending, &tfaEnabled, &disabled, &lastLogin, &p.CreatedAt); err != nil {
		return nil, err
	}

	parsed, err := models.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("principal %s: %w: %v", p.ID, ErrInvalidRole, err)
	}
	p.Role = parsed
	if tfaSecret.Valid {
		p.TFASecret = &tfaSecret.String
	}
	if tfaPending.Valid {
		p.TFAPendingSecret = &tfaPending.String
	}
	p.TFAEnabled = tfaEnabled == 1
	p.Disabled = disabled == 1
	if lastLogin.Valid {
		t := lastLogin.Time
		p.LastLogin = &t
	}
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func rowsChanged(result sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// expectOneRow maps an update that touched nothing to sql.ErrNoRows.
func expectOneRow(result sql.Result, err error) error {
	changed, err := rowsChanged(result, err)
	if err != nil {
		return err
	}
	if !changed {
		return sql.ErrNoRows
	}
	return nil
}
