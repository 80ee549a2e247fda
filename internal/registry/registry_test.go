package registry

import (
	"errors"
	"testing"
	"time"

	"nexacore/realtime/internal/event"
	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/logging"
)

func newTestRegistry() *Registry {
	return NewRegistry(logging.NewLogger(), 90*time.Second)
}

func newTestSession(id, tenant string) *Session {
	return NewSession(id, auth.Identity{TenantID: tenant, UserID: "user-" + id, Role: "member"}, 8, 0)
}

func TestRegisterAndForEachInTenant(t *testing.T) {
	r := newTestRegistry()
	a := newTestSession("conn-a", "acme")
	b := newTestSession("conn-b", "acme")
	other := newTestSession("conn-c", "other")

	for _, s := range []*Session{a, b, other} {
		if err := r.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.ID, err)
		}
	}

	var seen []string
	r.ForEachInTenant("acme", func(s *Session) { seen = append(seen, s.ID) })
	if len(seen) != 2 {
		t.Fatalf("expected 2 acme sessions, got %v", seen)
	}
	for _, id := range seen {
		if id == "conn-c" {
			t.Fatalf("cross-tenant session visited")
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := newTestRegistry()
	s := newTestSession("conn-a", "acme")
	if err := r.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newTestSession("conn-a", "acme")); !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	r := newTestRegistry()
	s := newTestSession("conn-a", "acme")
	if err := r.Register(s); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Unregister(s, ReasonExplicitClose)
	r.Unregister(s, ReasonKicked) // second call must be a no-op

	select {
	case <-s.Done():
	default:
		t.Fatalf("expected done channel closed")
	}
	if got := s.Reason(); got != ReasonExplicitClose {
		t.Fatalf("expected first reason preserved, got %s", got)
	}
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestSweepEvictsStaleSessions(t *testing.T) {
	r := newTestRegistry()
	stale := newTestSession("conn-stale", "acme")
	fresh := newTestSession("conn-fresh", "acme")
	if err := r.Register(stale); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(fresh); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Only fresh has heartbeated recently.
	stale.lastHeartbeat.Store(time.Now().Add(-5 * time.Minute).UnixNano())
	fresh.Touch()

	if evicted := r.Sweep(time.Now()); evicted != 1 {
		t.Fatalf("expected 1 eviction, got %d", evicted)
	}
	if _, ok := r.Get("acme", "conn-stale"); ok {
		t.Fatalf("stale session still registered")
	}
	if _, ok := r.Get("acme", "conn-fresh"); !ok {
		t.Fatalf("fresh session evicted")
	}
	if got := stale.Reason(); got != ReasonHeartbeatTimeout {
		t.Fatalf("expected heartbeat timeout reason, got %s", got)
	}
}

func TestTenantsAndCount(t *testing.T) {
	r := newTestRegistry()
	for _, s := range []*Session{
		newTestSession("a", "acme"),
		newTestSession("b", "acme"),
		newTestSession("c", "zen"),
	} {
		if err := r.Register(s); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	tenants := r.Tenants()
	if len(tenants) != 2 || tenants[0] != "acme" || tenants[1] != "zen" {
		t.Fatalf("unexpected tenants: %v", tenants)
	}
	if r.Count() != 3 {
		t.Fatalf("expected 3 sessions, got %d", r.Count())
	}
}

func TestTryEnqueueBounds(t *testing.T) {
	s := NewSession("conn-a", auth.Identity{TenantID: "acme"}, 2, 0)

	if !s.TryEnqueue(event.Event{Sequence: 1}) || !s.TryEnqueue(event.Event{Sequence: 2}) {
		t.Fatalf("expected enqueue into free queue to succeed")
	}
	if s.TryEnqueue(event.Event{Sequence: 3}) {
		t.Fatalf("expected enqueue into full queue to fail")
	}

	// A torn-down session drops silently instead of reporting slow.
	s.close(ReasonExplicitClose)
	if !s.TryEnqueue(event.Event{Sequence: 4}) {
		t.Fatalf("expected enqueue on closed session to be a no-op")
	}
}
