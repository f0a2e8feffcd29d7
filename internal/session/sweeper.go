package session

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper deletes expired sessions with a single-fire timer armed at the
// earliest persisted expiry. It is re-armed after every session-mutating
// call (via Notify) and after every fire, and its schedule is derived from
// persisted rows on startup rather than any in-memory state, so restarts
// never lose a deadline.
type Sweeper struct {
	store Store
	clock func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	timer    *time.Timer
	deadline time.Time
}

// NewSweeper builds a sweeper over the given store.
func NewSweeper(store Store) *Sweeper {
	return &Sweeper{store: store, clock: time.Now}
}

// Start derives the initial schedule from persisted sessions. The context
// bounds all future sweep work; when it ends the timer is dropped.
func (s *Sweeper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	next, err := s.store.NextSessionExpiry(ctx)
	if err != nil {
		return err
	}
	if next != nil {
		s.Notify(*next)
	}
	return nil
}

// Notify re-arms the sweep when expiresAt is earlier than the current
// deadline, or when no sweep is scheduled.
func (s *Sweeper) Notify(expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.deadline.IsZero() && !expiresAt.Before(s.deadline) {
		return
	}
	s.armLocked(expiresAt)
}

// Stop cancels any scheduled sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.deadline = time.Time{}
}

func (s *Sweeper) armLocked(at time.Time) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.deadline = at
	delay := at.Sub(s.clock())
	if delay < 0 {
		delay = 0
	}
	s.timer = time.AfterFunc(delay, s.sweep)
}

// sweep removes stale sessions, clears rate-limit state for users left with
// no sessions at all (the actor is idle), and re-arms from persisted state.
func (s *Sweeper) sweep() {
	s.mu.Lock()
	ctx := s.ctx
	s.deadline = time.Time{}
	s.timer = nil
	s.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	now := s.clock().UTC()
	users, err := s.store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		log.Printf("session sweep: delete expired sessions: %v", err)
	}
	for _, userID := range users {
		count, err := s.store.CountSessionsByUser(ctx, userID)
		if err != nil {
			log.Printf("session sweep: count sessions for %s: %v", userID, err)
			continue
		}
		if count == 0 {
			if err := s.store.DeleteLoginRateLimit(ctx, userID); err != nil {
				log.Printf("session sweep: clear rate limit for %s: %v", userID, err)
			}
		}
	}

	next, err := s.store.NextSessionExpiry(ctx)
	if err != nil {
		log.Printf("session sweep: next expiry: %v", err)
		return
	}
	if next != nil {
		s.Notify(*next)
	}
}
