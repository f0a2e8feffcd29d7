// Package bridge hands session-creation state across an auth framework's
// callback boundary.
//
// Login callbacks run inside a third-party framework whose return value the
// outer HTTP handler does not control. The handler deposits the context the
// callback will need before delegating, the callback deposits the created
// session on its way out, and the handler takes it after the framework
// returns. Both sides key by the in-flight *http.Request itself, so
// logically identical concurrent requests can never collide.
package bridge

import (
	"net/http"
	"sync"
	"time"

	"github.com/loomhost/identity/internal/session"
	"github.com/loomhost/identity/internal/storage"
)

// MaxEntryAge bounds how long a deposited entry stays takeable. Older
// entries are treated as absent; the request they belonged to is long gone.
const MaxEntryAge = 5 * time.Minute

// LoginContext is what session creation needs from the outer request.
type LoginContext struct {
	UserID     string
	DeviceID   string
	DeviceName string
	IPAddress  string
	UserAgent  string
	TTL        time.Duration
}

// Result carries the outcome of session creation back to the outer handler.
type Result struct {
	Session storage.Session
	Err     error
}

type contextEntry struct {
	value   LoginContext
	addedAt time.Time
}

type resultEntry struct {
	value   Result
	addedAt time.Time
}

// Bridge is a pair of request-keyed stores: login context flows in, the
// session result flows out. One Bridge serves many concurrent requests;
// each entry serves exactly one.
type Bridge struct {
	registry *session.Registry
	clock    func() time.Time

	mu       sync.Mutex
	contexts map[*http.Request]contextEntry
	results  map[*http.Request]resultEntry
}

// New builds a bridge that creates sessions through the given registry.
func New(registry *session.Registry) *Bridge {
	return &Bridge{
		registry: registry,
		clock:    time.Now,
		contexts: make(map[*http.Request]contextEntry),
		results:  make(map[*http.Request]resultEntry),
	}
}

// PutContext deposits the login context for an in-flight request.
func (b *Bridge) PutContext(r *http.Request, lc LoginContext) {
	if r == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contexts[r] = contextEntry{value: lc, addedAt: b.clock()}
}

// TakeContext removes and returns the login context for a request. Stale
// entries are treated as absent.
func (b *Bridge) TakeContext(r *http.Request) (LoginContext, bool) {
	if r == nil {
		return LoginContext{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.contexts[r]
	if !ok {
		return LoginContext{}, false
	}
	delete(b.contexts, r)
	if b.clock().Sub(entry.addedAt) > MaxEntryAge {
		return LoginContext{}, false
	}
	return entry.value, true
}

// Complete is called from inside the auth framework's callback. It resolves
// the deposited context, creates the session through the owning actor, and
// deposits the result for the outer handler.
func (b *Bridge) Complete(r *http.Request) {
	if r == nil {
		return
	}
	lc, ok := b.TakeContext(r)
	if !ok {
		return
	}

	created, err := b.registry.Actor(lc.UserID).CreateSession(r.Context(), session.CreateSessionInput{
		DeviceID:   lc.DeviceID,
		DeviceName: lc.DeviceName,
		IPAddress:  lc.IPAddress,
		UserAgent:  lc.UserAgent,
		TTL:        lc.TTL,
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	b.results[r] = resultEntry{value: Result{Session: created, Err: err}, addedAt: b.clock()}
}

// TakeResult removes and returns the session result for a request once the
// framework has returned control to the outer handler.
func (b *Bridge) TakeResult(r *http.Request) (Result, bool) {
	if r == nil {
		return Result{}, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.results[r]
	if !ok {
		return Result{}, false
	}
	delete(b.results, r)
	if b.clock().Sub(entry.addedAt) > MaxEntryAge {
		return Result{}, false
	}
	return entry.value, true
}

// Prune drops entries whose request finished without consuming them.
func (b *Bridge) Prune() {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.clock().Add(-MaxEntryAge)
	for r, entry := range b.contexts {
		if entry.addedAt.Before(cutoff) {
			delete(b.contexts, r)
		}
	}
	for r, entry := range b.results {
		if entry.addedAt.Before(cutoff) {
			delete(b.results, r)
		}
	}
}
