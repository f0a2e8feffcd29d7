// Package session manages per-user device sessions behind a keyed
// single-writer discipline.
//
// One logical actor exists per user: all operations against that user's
// sessions and login rate-limit state execute one at a time, which makes the
// session cap and the attempt counters race-free without any distributed
// locking. Distinct users run fully in parallel.
package session

import (
	"time"

	"github.com/loomhost/identity/internal/storage"
)

const (
	// MaxSessionsPerUser caps live sessions; creating past the cap evicts
	// the single oldest session first.
	MaxSessionsPerUser = 10

	// TouchInterval bounds lastActiveAt write amplification on validation.
	TouchInterval = 60 * time.Second

	// RateLimitWindow is the fixed login-failure counting window.
	RateLimitWindow = 5 * time.Minute

	// RateLimitMaxAttempts is the failure count that triggers lockout.
	RateLimitMaxAttempts = 5

	// LockoutDuration is measured from the window start, not from the
	// latest failure.
	LockoutDuration = 15 * time.Minute
)

// Store is the persistence surface the session actors require.
type Store interface {
	storage.SessionStore
	storage.LoginRateLimitStore
}

// CreateSessionInput describes a new session request.
type CreateSessionInput struct {
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
	TTL        time.Duration
}

// ValidationResult is the outcome of validating a session ID.
type ValidationResult struct {
	Valid   bool
	Session *storage.Session
}

// RateLimitDecision reports whether a login attempt may proceed.
type RateLimitDecision struct {
	Allowed           bool
	RemainingAttempts int
	ResetAt           time.Time
}
