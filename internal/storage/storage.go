// Package storage defines persistence contracts for the identity core.
package storage

import (
	"context"
	"time"

	"github.com/loomhost/identity/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// Session is one authenticated device session for a user.
type Session struct {
	ID           string
	UserID       string
	DeviceID     string
	DeviceName   string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	IPAddress    string
	UserAgent    string
}

// LoginRateLimit tracks failed login attempts inside a fixed window.
type LoginRateLimit struct {
	UserID      string
	Count       int
	WindowStart time.Time
}

// DeviceStatus is the lifecycle state of a device authorization.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "pending"
	DeviceStatusApproved DeviceStatus = "approved"
	DeviceStatusDenied   DeviceStatus = "denied"
	DeviceStatusExpired  DeviceStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s DeviceStatus) Terminal() bool {
	return s == DeviceStatusApproved || s == DeviceStatusDenied || s == DeviceStatusExpired
}

// DeviceAuthorization is one RFC 8628 device grant record.
type DeviceAuthorization struct {
	DeviceCode          string
	UserCode            string
	ClientID            string
	Status              DeviceStatus
	CreatedAt           time.Time
	ExpiresAt           time.Time
	LastPolledAt        *time.Time
	PollIntervalSeconds int
	ResultToken         string
	ApprovedBy          string
	Consumed            bool
}

// TenantSecret is one encrypted third-party secret owned by a tenant.
type TenantSecret struct {
	TenantID  string
	KeyName   string
	Envelope  string
	UpdatedAt time.Time
}

// SessionStore persists per-user device sessions.
type SessionStore interface {
	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessionsByUser(ctx context.Context, userID string) ([]Session, error)
	CountSessionsByUser(ctx context.Context, userID string) (int, error)
	TouchSession(ctx context.Context, id string, lastActiveAt time.Time) error
	UpdateSessionExpiry(ctx context.Context, id string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
	// DeleteSessionsByUser removes all sessions for a user except exceptID
	// (pass "" to remove every session) and returns the number removed.
	DeleteSessionsByUser(ctx context.Context, userID, exceptID string) (int, error)
	// DeleteExpiredSessions removes sessions with expiresAt <= now and
	// returns the distinct user IDs that lost at least one session.
	DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, error)
	// NextSessionExpiry returns the earliest expiresAt across all live
	// sessions, or nil when no sessions exist.
	NextSessionExpiry(ctx context.Context) (*time.Time, error)
}

// LoginRateLimitStore persists login attempt counters.
type LoginRateLimitStore interface {
	GetLoginRateLimit(ctx context.Context, userID string) (LoginRateLimit, error)
	PutLoginRateLimit(ctx context.Context, limit LoginRateLimit) error
	DeleteLoginRateLimit(ctx context.Context, userID string) error
}

// DeviceAuthorizationStore persists device grant records.
type DeviceAuthorizationStore interface {
	PutDeviceAuthorization(ctx context.Context, record DeviceAuthorization) error
	GetDeviceAuthorization(ctx context.Context, deviceCode string) (DeviceAuthorization, error)
	GetDeviceAuthorizationByUserCode(ctx context.Context, userCode string) (DeviceAuthorization, error)
	// UserCodeInUse reports whether a non-terminal record already claims the
	// user code.
	UserCodeInUse(ctx context.Context, userCode string) (bool, error)
	// TransitionDeviceAuthorization moves a record from one status to
	// another, stamping the result token and approver on approval. It
	// reports false when the record was not in the from status, so
	// concurrent transitions lose deterministically.
	TransitionDeviceAuthorization(ctx context.Context, deviceCode string, from, to DeviceStatus, resultToken, approvedBy string) (bool, error)
	MarkDevicePolled(ctx context.Context, deviceCode string, at time.Time) error
	// ConsumeDeviceToken marks an approved record's token as consumed,
	// reporting false when it was already consumed.
	ConsumeDeviceToken(ctx context.Context, deviceCode string) (bool, error)
	// ExpireOverdueDeviceAuthorizations marks pending records past their
	// expiry as expired and returns the number transitioned.
	ExpireOverdueDeviceAuthorizations(ctx context.Context, now time.Time) (int64, error)
}

// SecretStore persists encrypted tenant secrets.
type SecretStore interface {
	PutTenantSecret(ctx context.Context, secret TenantSecret) error
	GetTenantSecret(ctx context.Context, tenantID, keyName string) (TenantSecret, error)
	DeleteTenantSecret(ctx context.Context, tenantID, keyName string) error
}
