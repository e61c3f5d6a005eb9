package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gamingglow/portal/internal/config"
	"github.com/gamingglow/portal/internal/models"
	"github.com/gamingglow/portal/internal/repository"
	"github.com/gamingglow/portal/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
	tokenIDBytes     = 16 // 128 bits
)

type PrincipalStore interface {
	GetByID(ctx context.Context, id string) (*models.Principal, error)
	GetByEmail(ctx context.Context, email string) (*models.Principal, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetPendingTFASecret(ctx context.Context, id, secret string) error
	ActivatePendingTFA(ctx context.Context, id, verifiedSecret string) (bool, error)
	ClearTFA(ctx context.Context, id, verifiedSecret string) (bool, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
}

type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	GetValidByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error)
	DeleteByTokenHash(ctx context.Context, tokenHash string) (bool, error)
	DeleteByPrincipal(ctx context.Context, principalID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type AuthService struct {
	principals PrincipalStore
	sessions   SessionStore
	audit      *AuditService
	totp       *TOTPVerifier
	config     *config.Config
	dummyHash  []byte
	now        func() time.Time
}

type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

func canonicalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NewAuthService(
	principals PrincipalStore,
	sessions SessionStore,
	audit *AuditService,
	cfg *config.Config,
) (*AuthService, error) {
	// Absent principals are compared against this hash so both failure
	// paths cost one bcrypt verification.
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to seed dummy password hash: %w", err)
	}
	dummyHash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(seed)), cfg.Auth.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to build dummy password hash: %w", err)
	}

	return &AuthService{
		principals: principals,
		sessions:   sessions,
		audit:      audit,
		totp:       NewTOTPVerifier(cfg.Auth.TOTPIssuer),
		config:     cfg,
		dummyHash:  dummyHash,
		now:        time.Now,
	}, nil
}

func (s *AuthService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// HashPassword hashes a password at the configured bcrypt cost. It is used
// by seeding and tests; principals are created out of band.
func (s *AuthService) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// lookupByEmail returns nil without error for unknown emails and for rows
// whose stored role does not parse.
func (s *AuthService) lookupByEmail(ctx context.Context, email string) (*models.Principal, error) {
	p, err := s.principals.GetByEmail(ctx, canonicalizeEmail(email))
	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case errors.Is(err, repository.ErrInvalidRole):
		logger.Warn().Err(err).Msg("Principal with unknown role rejected at login")
		return nil, nil
	default:
		return nil, fmt.Errorf("load principal: %w", err)
	}
}

// Authenticate verifies a password. A principal with an enabled second
// factor gets a challenge instead of a session.
func (s *AuthService) Authenticate(ctx context.Context, email, password string, meta models.RequestMeta) (*models.LoginResult, error) {
	p, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	hash := s.dummyHash
	if p != nil {
		hash = []byte(p.PasswordHash)
	}
	passwordErr := bcrypt.CompareHashAndPassword(hash, []byte(password))

	if p == nil {
		authOutcomes.WithLabelValues(models.LoginMethodPassword, "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if p.Disabled {
		authOutcomes.WithLabelValues(models.LoginMethodPassword, "disabled").Inc()
		return nil, ErrAccountDisabled
	}
	if passwordErr != nil {
		authOutcomes.WithLabelValues(models.LoginMethodPassword, "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}

	if p.TFAEnabled {
		authOutcomes.WithLabelValues(models.LoginMethodPassword, "challenge").Inc()
		return &models.LoginResult{SecondFactorRequired: true}, nil
	}

	grant, err := s.issueSession(ctx, p, models.LoginMethodPassword, meta)
	if err != nil {
		return nil, err
	}
	authOutcomes.WithLabelValues(models.LoginMethodPassword, "success").Inc()
	return &models.LoginResult{Session: grant}, nil
}

// CompleteSecondFactor finishes a login for a principal with an enabled
// second factor.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, email, code string, meta models.RequestMeta) (*models.SessionGrant, error) {
	p, err := s.lookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.TFAEnabled || p.TFASecret == nil {
		authOutcomes.WithLabelValues(models.LoginMethodTOTP, "not_enrolled").Inc()
		return nil, ErrNotEnrolled
	}
	if p.Disabled {
		authOutcomes.WithLabelValues(models.LoginMethodTOTP, "disabled").Inc()
		return nil, ErrAccountDisabled
	}
	if !s.totp.Validate(*p.TFASecret, code, s.now()) {
		authOutcomes.WithLabelValues(models.LoginMethodTOTP, "invalid_code").Inc()
		return nil, ErrInvalidCode
	}

	grant, err := s.issueSession(ctx, p, models.LoginMethodTOTP, meta)
	if err != nil {
		return nil, err
	}
	authOutcomes.WithLabelValues(models.LoginMethodTOTP, "success").Inc()
	return grant, nil
}

func (s *AuthService) issueSession(ctx context.Context, p *models.Principal, method string, meta models.RequestMeta) (*models.SessionGrant, error) {
	now := s.now()
	cfg := s.config.Auth

	accessToken, err := s.GenerateToken(p.ID, tokenTypeAccess, now, cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := s.GenerateToken(p.ID, tokenTypeRefresh, now, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	session := &models.Session{
		ID:               uuid.New().String(),
		PrincipalID:      p.ID,
		TokenHash:        hashToken(accessToken),
		RefreshTokenHash: hashToken(refreshToken),
		ExpiresAt:        now.Add(cfg.SessionTTL),
		CreatedAt:        now,
		IPAddress:        meta.IPAddress,
		UserAgent:        meta.UserAgent,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.principals.UpdateLastLogin(ctx, p.ID, now); err != nil {
		logger.Warn().Err(err).Str("principal_id", p.ID).Msg("Failed to update last login")
	} else {
		p.LastLogin = &now
	}

	s.audit.Record(ctx, models.AuditEntry{
		ActorID:    p.ID,
		Action:     models.AuditLogin,
		TargetType: "admin",
		TargetID:   p.ID,
		Details:    map[string]string{"method": method},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})

	return &models.SessionGrant{
		SessionID:        session.ID,
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(cfg.RefreshTokenTTL),
		ExpiresAt:        session.ExpiresAt,
		Principal:        p,
	}, nil
}

// GenerateToken signs an HS256 token with a random 128-bit jti. Access and
// refresh tokens use separate secrets.
func (s *AuthService) GenerateToken(principalID, tokenType string, now time.Time, ttl time.Duration) (string, error) {
	jti, err := randomToken(tokenIDBytes)
	if err != nil {
		return "", err
	}
	claims := &Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   principalID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretFor(tokenType))
}

func (s *AuthService) secretFor(tokenType string) []byte {
	if tokenType == tokenTypeRefresh {
		return []byte(s.config.Auth.JWTRefreshSecret)
	}
	return []byte(s.config.Auth.JWTSecret)
}

func (s *AuthService) ValidateToken(tokenString string, opts ...jwt.ParserOption) (*Claims, error) {
	opts = append(opts, jwt.WithTimeFunc(s.now), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify the signing algorithm is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %v, expected HS256", token.Method.Alg())
		}
		return s.secretFor(tokenTypeAccess), nil
	}, opts...)

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.TokenType == tokenTypeAccess && claims.Subject != "" {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// Authorize resolves an access token to its principal. The token must verify,
// its session must still be in the ledger and the principal must be enabled.
func (s *AuthService) Authorize(ctx context.Context, token string) (*models.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	claims, err := s.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	session, err := s.sessions.GetValidByTokenHash(ctx, hashToken(token), s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, fmt.Errorf("%w: session lookup: %v", ErrStoreUnavailable, err)
	}
	if session.PrincipalID != claims.Subject {
		return nil, ErrSessionExpired
	}

	p, err := s.principals.GetByID(ctx, session.PrincipalID)
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, repository.ErrInvalidRole) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("%w: principal lookup: %v", ErrStoreUnavailable, err)
	}
	if p.Disabled {
		return nil, ErrAccountDisabled
	}
	return p, nil
}

// HasRole reports whether actual ranks at or above required.
func (s *AuthService) HasRole(actual, required models.Role) bool {
	return actual.Satisfies(required)
}

// Logout deletes the session bound to token, if any. Expired or malformed
// tokens are not an error.
func (s *AuthService) Logout(ctx context.Context, token string, meta models.RequestMeta) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	deleted, err := s.sessions.DeleteByTokenHash(ctx, hashToken(token))
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if !deleted {
		return nil
	}

	// The token was issued by us, so its subject is trustworthy even past expiry.
	if claims, err := s.ValidateToken(token, jwt.WithoutClaimsValidation()); err == nil {
		s.audit.Record(ctx, models.AuditEntry{
			ActorID:    claims.Subject,
			Action:     models.AuditLogout,
			TargetType: "admin",
			TargetID:   claims.Subject,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
	}
	return nil
}

// RevokeAllSessions deletes every session of the principal, including the
// caller's own.
func (s *AuthService) RevokeAllSessions(ctx context.Context, principalID string, meta models.RequestMeta) (int64, error) {
	n, err := s.sessions.DeleteByPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	s.audit.Record(ctx, models.AuditEntry{
		ActorID:    principalID,
		Action:     models.AuditSessionsRevoked,
		TargetType: "admin",
		TargetID:   principalID,
		Details:    map[string]string{"count": strconv.FormatInt(n, 10)},
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return n, nil
}

// SetPrincipalDisabled toggles the disabled flag of another principal.
// Only superadmins may do this. Disabling also revokes the target's sessions.
func (s *AuthService) SetPrincipalDisabled(ctx context.Context, actor *models.Principal, targetID string, disabled bool, meta models.RequestMeta) error {
	if actor == nil || !s.HasRole(actor.Role, models.RoleSuperadmin) {
		return ErrForbidden
	}
	if actor.ID == targetID {
		return ErrSelfTarget
	}

	target, err := s.principals.GetByID(ctx, targetID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil && !errors.Is(err, repository.ErrInvalidRole) {
		return fmt.Errorf("load principal: %w", err)
	}

	if err := s.principals.SetDisabled(ctx, targetID, disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("update principal: %w", err)
	}

	action := models.AuditPrincipalEnabled
	if disabled {
		action = models.AuditPrincipalDisabled
		if _, err := s.sessions.DeleteByPrincipal(ctx, targetID); err != nil {
			// Authorize rejects disabled principals regardless.
			logger.Warn().Err(err).Str("principal_id", targetID).Msg("Failed to revoke sessions of disabled principal")
		}
	}

	details := map[string]string{}
	if target != nil {
		details["email"] = target.Email
	}
	s.audit.Record(ctx, models.AuditEntry{
		ActorID:    actor.ID,
		Action:     action,
		TargetType: "admin",
		TargetID:   targetID,
		Details:    details,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// EnrollSecondFactor stores a fresh secret as pending. The active second
// factor, if any, is untouched until ConfirmSecondFactor succeeds.
func (s *AuthService) EnrollSecondFactor(ctx context.Context, principalID string) (*models.TFAEnrollment, error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}

	secret, uri, err := s.totp.Generate(p.Email)
	if err != nil {
		return nil, err
	}
	if err := s.principals.SetPendingTFASecret(ctx, p.ID, secret); err != nil {
		return nil, fmt.Errorf("store pending secret: %w", err)
	}
	return &models.TFAEnrollment{Secret: secret, URI: uri}, nil
}

// ConfirmSecondFactor verifies code against the pending secret and, on
// success, makes it the active second factor.
func (s *AuthService) ConfirmSecondFactor(ctx context.Context, principalID, code string, meta models.RequestMeta) error {
	p, err := s.principals.GetByID(ctx, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load principal: %w", err)
	}
	if p.TFAPendingSecret == nil {
		return ErrNotEnrolled
	}
	secret := *p.TFAPendingSecret
	if !s.totp.Validate(secret, code, s.now()) {
		return ErrInvalidCode
	}

	activated, err := s.principals.ActivatePendingTFA(ctx, p.ID, secret)
	if err != nil {
		return fmt.Errorf("activate second factor: %w", err)
	}
	if !activated {
		// A concurrent enrollment replaced the secret that was verified.
		return ErrNotEnrolled
	}

	s.audit.Record(ctx, models.AuditEntry{
		ActorID:    p.ID,
		Action:     models.Audit2FAEnabled,
		TargetType: "admin",
		TargetID:   p.ID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

// DisableSecondFactor requires a valid code for the active secret.
func (s *AuthService) DisableSecondFactor(ctx context.Context, principalID, code string, meta models.RequestMeta) error {
	p, err := s.principals.GetByID(ctx, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load principal: %w", err)
	}
	if !p.TFAEnabled || p.TFASecret == nil {
		return ErrNotEnabled
	}
	secret := *p.TFASecret
	if !s.totp.Validate(secret, code, s.now()) {
		return ErrInvalidCode
	}

	cleared, err := s.principals.ClearTFA(ctx, p.ID, secret)
	if err != nil {
		return fmt.Errorf("disable second factor: %w", err)
	}
	if !cleared {
		return ErrNotEnabled
	}

	s.audit.Record(ctx, models.AuditEntry{
		ActorID:    p.ID,
		Action:     models.Audit2FADisabled,
		TargetType: "admin",
		TargetID:   p.ID,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	return nil
}

func (s *AuthService) SecondFactorStatus(ctx context.Context, principalID string) (bool, error) {
	p, err := s.principals.GetByID(ctx, principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load principal: %w", err)
	}
	return p.TFAEnabled, nil
}

// SweepExpiredSessions deletes ledger rows past their expiry.
func (s *AuthService) SweepExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired sessions: %w", err)
	}
	return n, nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// randomToken returns n random bytes, hex encoded.
func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
