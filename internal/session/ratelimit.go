package session

import (
	"context"
	"errors"

	"github.com/loomhost/identity/internal/storage"
)

// CheckLoginRateLimit reports whether a login attempt may proceed for this
// user. Five failures inside the five-minute window lock the user out for
// fifteen minutes measured from the window start.
func (a *Actor) CheckLoginRateLimit(ctx context.Context) (RateLimitDecision, error) {
	unlock := a.lock()
	defer unlock()

	limit, err := a.registry.store.GetLoginRateLimit(ctx, a.userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return RateLimitDecision{Allowed: true, RemainingAttempts: RateLimitMaxAttempts}, nil
		}
		return RateLimitDecision{}, err
	}

	now := a.registry.clock().UTC()
	if limit.Count >= RateLimitMaxAttempts {
		lockoutEnd := limit.WindowStart.Add(LockoutDuration)
		if now.Before(lockoutEnd) {
			return RateLimitDecision{Allowed: false, RemainingAttempts: 0, ResetAt: lockoutEnd}, nil
		}
		// Lockout elapsed; the stale row resets on the next recorded attempt.
		return RateLimitDecision{Allowed: true, RemainingAttempts: RateLimitMaxAttempts}, nil
	}

	windowEnd := limit.WindowStart.Add(RateLimitWindow)
	if !now.Before(windowEnd) {
		return RateLimitDecision{Allowed: true, RemainingAttempts: RateLimitMaxAttempts}, nil
	}
	return RateLimitDecision{
		Allowed:           true,
		RemainingAttempts: RateLimitMaxAttempts - limit.Count,
		ResetAt:           windowEnd,
	}, nil
}

// RecordLoginAttempt updates the failure counter. A success clears all
// rate-limit state immediately; failures during an active lockout increment
// the counter but never move the window start, so they do not extend the
// lockout.
func (a *Actor) RecordLoginAttempt(ctx context.Context, success bool) error {
	unlock := a.lock()
	defer unlock()

	if success {
		return a.registry.store.DeleteLoginRateLimit(ctx, a.userID)
	}

	now := a.registry.clock().UTC()
	limit, err := a.registry.store.GetLoginRateLimit(ctx, a.userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return a.registry.store.PutLoginRateLimit(ctx, storage.LoginRateLimit{
				UserID:      a.userID,
				Count:       1,
				WindowStart: now,
			})
		}
		return err
	}

	if limit.Count >= RateLimitMaxAttempts {
		lockoutEnd := limit.WindowStart.Add(LockoutDuration)
		if now.Before(lockoutEnd) {
			limit.Count++
			return a.registry.store.PutLoginRateLimit(ctx, limit)
		}
		// Stale lockout: start a fresh window at this failure.
		return a.registry.store.PutLoginRateLimit(ctx, storage.LoginRateLimit{
			UserID:      a.userID,
			Count:       1,
			WindowStart: now,
		})
	}

	if !now.Before(limit.WindowStart.Add(RateLimitWindow)) {
		return a.registry.store.PutLoginRateLimit(ctx, storage.LoginRateLimit{
			UserID:      a.userID,
			Count:       1,
			WindowStart: now,
		})
	}

	limit.Count++
	return a.registry.store.PutLoginRateLimit(ctx, limit)
}
