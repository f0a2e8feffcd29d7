package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	apperrors "github.com/loomhost/identity/internal/platform/errors"
	"github.com/loomhost/identity/internal/platform/id"
	"github.com/loomhost/identity/internal/platform/keyed"
	"github.com/loomhost/identity/internal/storage"
)

// Registry hands out session actors, one logical instance per user.
type Registry struct {
	store       Store
	sweeper     *Sweeper
	locks       *keyed.Mutex
	clock       func() time.Time
	idGenerator func() (string, error)
}

// NewRegistry builds an actor registry over the given store. sweeper may be
// nil in tests that do not exercise expiry.
func NewRegistry(store Store, sweeper *Sweeper) *Registry {
	return &Registry{
		store:       store,
		sweeper:     sweeper,
		locks:       keyed.NewMutex(),
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// Actor returns the actor for one user. Actors are cheap handles; the
// serialization lives in the registry's keyed mutex.
func (r *Registry) Actor(userID string) *Actor {
	return &Actor{registry: r, userID: userID}
}

// Actor serializes all session operations for a single user.
type Actor struct {
	registry *Registry
	userID   string
}

// CreateSession issues a new session, evicting the oldest live session when
// the user is at capacity.
func (a *Actor) CreateSession(ctx context.Context, input CreateSessionInput) (storage.Session, error) {
	if input.TTL <= 0 {
		return storage.Session{}, apperrors.New(apperrors.CodeSessionInvalidTTL, "session ttl must be positive")
	}
	if strings.TrimSpace(input.DeviceID) == "" {
		return storage.Session{}, apperrors.New(apperrors.CodeSessionEmptyDeviceID, "device id is required")
	}

	unlock := a.lock()
	defer unlock()

	now := a.registry.clock().UTC()
	sessions, err := a.registry.store.ListSessionsByUser(ctx, a.userID)
	if err != nil {
		return storage.Session{}, err
	}

	var live []storage.Session
	for _, session := range sessions {
		if session.ExpiresAt.After(now) {
			live = append(live, session)
		}
	}
	if len(live) >= MaxSessionsPerUser {
		sort.Slice(live, func(i, j int) bool {
			return live[i].CreatedAt.Before(live[j].CreatedAt)
		})
		if err := a.registry.store.DeleteSession(ctx, live[0].ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return storage.Session{}, err
		}
	}

	sessionID, err := a.registry.idGenerator()
	if err != nil {
		return storage.Session{}, err
	}
	session := storage.Session{
		ID:           sessionID,
		UserID:       a.userID,
		DeviceID:     input.DeviceID,
		DeviceName:   input.DeviceName,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(input.TTL),
		IPAddress:    input.IPAddress,
		UserAgent:    input.UserAgent,
	}
	if err := a.registry.store.PutSession(ctx, session); err != nil {
		return storage.Session{}, err
	}
	a.notifySweeper(session.ExpiresAt)
	return session, nil
}

// ResolveSession maps a bare session ID to its live session, for callers
// that hold only a cookie value and not a user ID. Expiry is checked and
// lastActiveAt advances under the owning actor's lock.
func (r *Registry) ResolveSession(ctx context.Context, sessionID string) (storage.Session, error) {
	record, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Session{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return storage.Session{}, err
	}
	result, err := r.Actor(record.UserID).ValidateSession(ctx, sessionID, true)
	if err != nil {
		return storage.Session{}, err
	}
	if !result.Valid {
		return storage.Session{}, apperrors.New(apperrors.CodeSessionExpired, "session expired")
	}
	return *result.Session, nil
}

// ValidateSession reports whether a session ID is live. When touch is set,
// lastActiveAt advances, throttled to one write per TouchInterval.
func (a *Actor) ValidateSession(ctx context.Context, sessionID string, touch bool) (ValidationResult, error) {
	unlock := a.lock()
	defer unlock()

	session, err := a.registry.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ValidationResult{}, nil
		}
		return ValidationResult{}, err
	}
	if session.UserID != a.userID {
		return ValidationResult{}, nil
	}

	now := a.registry.clock().UTC()
	if !session.ExpiresAt.After(now) {
		return ValidationResult{}, nil
	}

	if touch && now.Sub(session.LastActiveAt) > TouchInterval {
		if err := a.registry.store.TouchSession(ctx, sessionID, now); err != nil {
			return ValidationResult{}, err
		}
		session.LastActiveAt = now
	}
	return ValidationResult{Valid: true, Session: &session}, nil
}

// RevokeSession deletes one session, reporting whether it existed.
func (a *Actor) RevokeSession(ctx context.Context, sessionID string) (bool, error) {
	unlock := a.lock()
	defer unlock()

	session, err := a.registry.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if session.UserID != a.userID {
		return false, nil
	}
	if err := a.registry.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RevokeAllSessions deletes every session for the user except exceptID
// (pass "" to delete all) and returns the number removed.
func (a *Actor) RevokeAllSessions(ctx context.Context, exceptID string) (int, error) {
	unlock := a.lock()
	defer unlock()

	return a.registry.store.DeleteSessionsByUser(ctx, a.userID, exceptID)
}

// ListSessions returns the user's sessions ordered by most recent activity.
func (a *Actor) ListSessions(ctx context.Context) ([]storage.Session, error) {
	unlock := a.lock()
	defer unlock()

	return a.registry.store.ListSessionsByUser(ctx, a.userID)
}

// ExtendSession pushes a session's expiry further out. Already-expired
// sessions are rejected.
func (a *Actor) ExtendSession(ctx context.Context, sessionID string, extra time.Duration) (bool, error) {
	if extra <= 0 {
		return false, apperrors.New(apperrors.CodeSessionInvalidTTL, "extension must be positive")
	}

	unlock := a.lock()
	defer unlock()

	session, err := a.registry.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if session.UserID != a.userID {
		return false, nil
	}
	now := a.registry.clock().UTC()
	if !session.ExpiresAt.After(now) {
		return false, nil
	}

	expiresAt := session.ExpiresAt.Add(extra)
	if err := a.registry.store.UpdateSessionExpiry(ctx, sessionID, expiresAt); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	a.notifySweeper(expiresAt)
	return true, nil
}

func (a *Actor) lock() func() {
	return a.registry.locks.Lock(a.userID)
}

func (a *Actor) notifySweeper(expiresAt time.Time) {
	if a.registry.sweeper != nil {
		a.registry.sweeper.Notify(expiresAt)
	}
}
