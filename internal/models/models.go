package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Role is the ordered administrative role. The zero value is not a valid role.
type Role int

const (
	RoleUploader Role = iota + 1
	RoleModerator
	RoleEditor
	RoleSuperadmin
)

var roleNames = map[Role]string{
	RoleUploader:   "uploader",
	RoleModerator:  "moderator",
	RoleEditor:     "editor",
	RoleSuperadmin: "superadmin",
}

// ParseRole maps a stored or submitted role name to a Role. Unknown names are
// rejected rather than defaulted.
func ParseRole(s string) (Role, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for r, n := range roleNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string {
	if n, ok := roleNames[r]; ok {
		return n
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// Rank is the position of the role in the hierarchy, 0 for invalid roles.
func (r Role) Rank() int {
	if !r.Valid() {
		return 0
	}
	return int(r)
}

// Satisfies reports whether r meets or exceeds required. Invalid roles never
// satisfy and are never satisfied.
func (r Role) Satisfies(required Role) bool {
	return r.Valid() && required.Valid() && r.Rank() >= required.Rank()
}

func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Principal is an administrative identity.
type Principal struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	TFASecret        *string    `json:"-"`
	TFAPendingSecret *string    `json:"-"`
	TFAEnabled       bool       `json:"tfa_enabled"`
	Disabled         bool       `json:"disabled"`
	LastLogin        *time.Time `json:"last_login,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Session is a ledger row. Tokens are stored as SHA-256 hex digests only.
type Session struct {
	ID               string
	PrincipalID      string
	TokenHash        string
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	IPAddress        string
	UserAgent        string
}

// SessionGrant is what a successful login hands back to the caller.
type SessionGrant struct {
	SessionID        string     `json:"session_id"`
	AccessToken      string     `json:"-"`
	RefreshToken     string     `json:"-"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	Principal        *Principal `json:"principal"`
}

// LoginResult holds either a session or a pending second-factor challenge,
// never both.
type LoginResult struct {
	Session              *SessionGrant
	SecondFactorRequired bool
}

// TFAEnrollment is returned when a second factor is set up.
type TFAEnrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// RequestMeta carries caller context used for session rows and audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

type AuditAction string

const (
	AuditLogin             AuditAction = "ADMIN_LOGIN"
	AuditLogout            AuditAction = "ADMIN_LOGOUT"
	Audit2FAEnabled        AuditAction = "2FA_ENABLED"
	Audit2FADisabled       AuditAction = "2FA_DISABLED"
	AuditSessionsRevoked   AuditAction = "SESSIONS_REVOKED"
	AuditPrincipalDisabled AuditAction = "PRINCIPAL_DISABLED"
	AuditPrincipalEnabled  AuditAction = "PRINCIPAL_ENABLED"
	AuditDownloadIssued    AuditAction = "DOWNLOAD_ISSUED"
)

// Values of the "method" detail on ADMIN_LOGIN entries.
const (
	LoginMethodPassword = "password"
	LoginMethodTOTP     = "2fa"
)

var auditActions = map[AuditAction]struct{}{
	AuditLogin:             {},
	AuditLogout:            {},
	Audit2FAEnabled:        {},
	Audit2FADisabled:       {},
	AuditSessionsRevoked:   {},
	AuditPrincipalDisabled: {},
	AuditPrincipalEnabled:  {},
	AuditDownloadIssued:    {},
}

func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// AuditEntry is an append-only record of a privileged action. Details keys
// per action:
//
//	ADMIN_LOGIN        method (password|2fa)
//	SESSIONS_REVOKED   count
//	PRINCIPAL_*        email
//	DOWNLOAD_ISSUED    product_id, version, ip_hash
type AuditEntry struct {
	ID         int64             `json:"id"`
	ActorID    string            `json:"actor_id,omitempty"`
	Action     AuditAction       `json:"action"`
	TargetType string            `json:"target_type,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	Details    map[string]string `json:"details"`
	IPAddress  string            `json:"ip_address,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type ProductStatus string

const (
	ProductDraft     ProductStatus = "draft"
	ProductPublished ProductStatus = "published"
	ProductArchived  ProductStatus = "archived"
)

type ScanStatus string

const (
	ScanPending  ScanStatus = "pending"
	ScanScanning ScanStatus = "scanning"
	ScanClean    ScanStatus = "clean"
	ScanInfected ScanStatus = "infected"
	ScanError    ScanStatus = "error"
)

// Release is the catalog lookup result for one downloadable build.
type Release struct {
	ID            string        `json:"id"`
	ProductID     string        `json:"product_id"`
	ProductSlug   string        `json:"product_slug"`
	ProductStatus ProductStatus `json:"product_status"`
	Version       string        `json:"version"`
	StorageKey    string        `json:"-"`
	FileSize      int64         `json:"file_size"`
	Checksum      string        `json:"checksum"`
	ContentType   string        `json:"content_type"`
	ScanStatus    ScanStatus    `json:"scan_status"`
	IsLatest      bool          `json:"is_latest"`
	PublishedAt   *time.Time    `json:"published_at,omitempty"`
}

// DownloadGrant is the one-time token record kept in the grant store.
type DownloadGrant struct {
	Token     string    `json:"-"`
	ReleaseID string    `json:"release_id"`
	ProductID string    `json:"product_id"`
	IPHash    string    `json:"ip_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadTicket is returned to a caller whose download was authorized.
type DownloadTicket struct {
	DownloadURL       string           `json:"downloadUrl"`
	ExpiresAt         time.Time        `json:"expiresAt"`
	Checksum          string           `json:"checksum"`
	ChecksumAlgorithm string           `json:"checksumAlgorithm"`
	Filename          string           `json:"filename"`
	FileSize          int64            `json:"fileSize"`
	Version           string           `json:"version"`
	Token             string           `json:"token"`
	RateLimit         *RateLimitResult `json:"rateLimit,omitempty"`
}

// DownloadStat is a durable per-download row.
type DownloadStat struct {
	ProductID string
	ReleaseID string
	IPHash    string
	Bytes     int64
	UserAgent string
	CreatedAt time.Time
}

type RateLimitResult struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type ProductDownloadStats struct {
	ProductID string       `json:"product_id"`
	Days      []DailyCount `json:"days"`
	Total     int64        `json:"total"`
	Recorded  int64        `json:"recorded"`
}

// DashboardStats is the catalog-wide overview read from the durable
// download rows and release scan states.
type DashboardStats struct {
	DownloadsToday     int64             `json:"downloads_today"`
	DownloadsThisWeek  int64             `json:"downloads_this_week"`
	DownloadsThisMonth int64             `json:"downloads_this_month"`
	TotalDownloads     int64             `json:"total_downloads"`
	PublishedProducts  int64             `json:"published_products"`
	PendingScans       int64             `json:"pending_scans"`
	CleanStorageBytes  int64             `json:"clean_storage_bytes"`
	RecentDownloads    []*RecentDownload `json:"recent_downloads"`
	TopProducts        []*TopProduct     `json:"top_products"`
}

type RecentDownload struct {
	ProductTitle string    `json:"product_title"`
	Version      string    `json:"version"`
	IPHash       string    `json:"ip_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type TopProduct struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	Title         string `json:"title"`
	DownloadCount int64  `json:"download_count"`
}
