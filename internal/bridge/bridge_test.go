package bridge

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/loomhost/identity/internal/session"
	sqlitestore "github.com/loomhost/identity/internal/storage/sqlite"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func openTempBridge(t *testing.T) (*Bridge, *fakeClock) {
	t.Helper()
	store, err := sqlitestore.Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	registry := session.NewRegistry(store, nil)
	bridge := New(registry)
	bridge.clock = clock.Now
	return bridge, clock
}

func loginContext() LoginContext {
	return LoginContext{
		UserID:     "user-1",
		DeviceID:   "device-1",
		DeviceName: "Laptop",
		IPAddress:  "192.0.2.7",
		UserAgent:  "browser/1.0",
		TTL:        24 * time.Hour,
	}
}

func TestCompleteCreatesSessionForRequest(t *testing.T) {
	bridge, _ := openTempBridge(t)

	req := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	bridge.PutContext(req, loginContext())
	bridge.Complete(req)

	result, ok := bridge.TakeResult(req)
	if !ok {
		t.Fatal("expected a result for the request")
	}
	if result.Err != nil {
		t.Fatalf("session creation failed: %v", result.Err)
	}
	if result.Session.UserID != "user-1" {
		t.Fatalf("session user = %q, want %q", result.Session.UserID, "user-1")
	}
	if result.Session.ID == "" {
		t.Fatal("expected a session id")
	}

	if _, ok := bridge.TakeResult(req); ok {
		t.Fatal("expected result to be consumed exactly once")
	}
}

func TestIdenticalConcurrentRequestsDoNotCollide(t *testing.T) {
	bridge, _ := openTempBridge(t)

	first := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	second := httptest.NewRequest(http.MethodPost, "/login/callback", nil)

	firstContext := loginContext()
	firstContext.DeviceID = "device-first"
	secondContext := loginContext()
	secondContext.DeviceID = "device-second"

	bridge.PutContext(first, firstContext)
	bridge.PutContext(second, secondContext)
	bridge.Complete(first)
	bridge.Complete(second)

	firstResult, ok := bridge.TakeResult(first)
	if !ok {
		t.Fatal("expected result for first request")
	}
	secondResult, ok := bridge.TakeResult(second)
	if !ok {
		t.Fatal("expected result for second request")
	}
	if firstResult.Session.DeviceID != "device-first" {
		t.Fatalf("first device = %q, want device-first", firstResult.Session.DeviceID)
	}
	if secondResult.Session.DeviceID != "device-second" {
		t.Fatalf("second device = %q, want device-second", secondResult.Session.DeviceID)
	}
}

func TestStaleEntriesAreAbsent(t *testing.T) {
	bridge, clock := openTempBridge(t)

	req := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	bridge.PutContext(req, loginContext())

	clock.Advance(6 * time.Minute)
	if _, ok := bridge.TakeContext(req); ok {
		t.Fatal("expected stale context to be absent")
	}

	other := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	bridge.PutContext(other, loginContext())
	bridge.Complete(other)
	clock.Advance(6 * time.Minute)
	if _, ok := bridge.TakeResult(other); ok {
		t.Fatal("expected stale result to be absent")
	}
}

func TestCompleteWithoutContextIsNoop(t *testing.T) {
	bridge, _ := openTempBridge(t)

	req := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	bridge.Complete(req)
	if _, ok := bridge.TakeResult(req); ok {
		t.Fatal("expected no result without a deposited context")
	}
}

func TestCompleteSurfacesCreationErrors(t *testing.T) {
	bridge, _ := openTempBridge(t)

	req := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	invalid := loginContext()
	invalid.TTL = -time.Hour
	bridge.PutContext(req, invalid)
	bridge.Complete(req)

	result, ok := bridge.TakeResult(req)
	if !ok {
		t.Fatal("expected a result")
	}
	if result.Err == nil {
		t.Fatal("expected the validation error to surface")
	}
}

func TestPruneDropsAbandonedEntries(t *testing.T) {
	bridge, clock := openTempBridge(t)

	abandoned := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	bridge.PutContext(abandoned, loginContext())
	clock.Advance(6 * time.Minute)

	fresh := httptest.NewRequest(http.MethodPost, "/login/callback", nil)
	bridge.PutContext(fresh, loginContext())

	bridge.Prune()

	bridge.mu.Lock()
	_, abandonedKept := bridge.contexts[abandoned]
	_, freshKept := bridge.contexts[fresh]
	bridge.mu.Unlock()
	if abandonedKept {
		t.Fatal("expected abandoned entry to be pruned")
	}
	if !freshKept {
		t.Fatal("expected fresh entry to survive pruning")
	}
}
