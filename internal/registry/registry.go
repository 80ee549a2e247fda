package registry

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"nexacore/realtime/pkg/logging"
)

// ErrDuplicateConnection is returned when the same connection identity is
// registered twice.
var ErrDuplicateConnection = errors.New("connection already registered")

const shardCount = 16

// Registry maintains the live set of sessions partitioned by tenant.
// Tenants hash onto independent shards so unrelated tenants' traffic never
// contends on one lock.
type Registry struct {
	shards           [shardCount]*shard
	logger           logging.Logger
	heartbeatTimeout time.Duration
}

type shard struct {
	mu      sync.RWMutex
	tenants map[string]map[string]*Session
}

// NewRegistry creates a registry. Sessions whose last heartbeat is older
// than heartbeatTimeout are evicted by the sweep, through the same teardown
// path as an explicit disconnect.
func NewRegistry(logger logging.Logger, heartbeatTimeout time.Duration) *Registry {
	r := &Registry{
		logger:           logger,
		heartbeatTimeout: heartbeatTimeout,
	}
	for i := range r.shards {
		r.shards[i] = &shard{tenants: make(map[string]map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(tenantID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(tenantID))
	return r.shards[h.Sum32()%shardCount]
}

// Register adds a session under its tenant. Registering the same connection
// id twice fails with ErrDuplicateConnection.
func (r *Registry) Register(s *Session) error {
	sh := r.shardFor(s.TenantID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	conns := sh.tenants[s.TenantID]
	if conns == nil {
		conns = make(map[string]*Session)
		sh.tenants[s.TenantID] = conns
	}
	if _, exists := conns[s.ID]; exists {
		return ErrDuplicateConnection
	}
	conns[s.ID] = s

	r.logger.WithFields(logging.Fields{
		"connection_id": s.ID,
		"tenant_id":     s.TenantID,
		"user_id":       s.UserID,
	}).Info("Session registered")
	return nil
}

// Unregister removes a session and tears it down with the given reason. It
// is idempotent; every forced-disconnect path converges here and releases
// the registry slot and queue synchronously.
func (r *Registry) Unregister(s *Session, reason CloseReason) {
	sh := r.shardFor(s.TenantID)
	sh.mu.Lock()
	if conns := sh.tenants[s.TenantID]; conns != nil {
		if existing, ok := conns[s.ID]; ok && existing == s {
			delete(conns, s.ID)
			if len(conns) == 0 {
				delete(sh.tenants, s.TenantID)
			}
		}
	}
	sh.mu.Unlock()

	if s.close(reason) {
		r.logger.WithFields(logging.Fields{
			"connection_id": s.ID,
			"tenant_id":     s.TenantID,
			"reason":        string(reason),
		}).Info("Session unregistered")
	}
}

// ForEachInTenant calls fn for every live session of the tenant. fn runs on
// a snapshot, so it may unregister sessions without deadlocking.
func (r *Registry) ForEachInTenant(tenantID string, fn func(*Session)) {
	sh := r.shardFor(tenantID)
	sh.mu.RLock()
	conns := sh.tenants[tenantID]
	snapshot := make([]*Session, 0, len(conns))
	for _, s := range conns {
		snapshot = append(snapshot, s)
	}
	sh.mu.RUnlock()

	for _, s := range snapshot {
		fn(s)
	}
}

// Get returns the session with the given connection id under a tenant.
func (r *Registry) Get(tenantID, connectionID string) (*Session, bool) {
	sh := r.shardFor(tenantID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	s, ok := sh.tenants[tenantID][connectionID]
	return s, ok
}

// SessionsInTenant returns a snapshot of the tenant's sessions.
func (r *Registry) SessionsInTenant(tenantID string) []*Session {
	var sessions []*Session
	r.ForEachInTenant(tenantID, func(s *Session) {
		sessions = append(sessions, s)
	})
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].EstablishedAt.Before(sessions[j].EstablishedAt) })
	return sessions
}

// Tenants returns every tenant with at least one live session.
func (r *Registry) Tenants() []string {
	var tenants []string
	for _, sh := range r.shards {
		sh.mu.RLock()
		for tenantID := range sh.tenants {
			tenants = append(tenants, tenantID)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(tenants)
	return tenants
}

// Count returns the number of live sessions across all tenants.
func (r *Registry) Count() int {
	total := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, conns := range sh.tenants {
			total += len(conns)
		}
		sh.mu.RUnlock()
	}
	return total
}

// Sweep evicts sessions whose heartbeat deadline has passed and returns how
// many were removed.
func (r *Registry) Sweep(now time.Time) int {
	deadline := now.Add(-r.heartbeatTimeout)

	var stale []*Session
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, conns := range sh.tenants {
			for _, s := range conns {
				if s.LastHeartbeatAt().Before(deadline) {
					stale = append(stale, s)
				}
			}
		}
		sh.mu.RUnlock()
	}

	for _, s := range stale {
		r.Unregister(s, ReasonHeartbeatTimeout)
	}
	return len(stale)
}

// RunSweeper runs the heartbeat sweep on a fixed interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if evicted := r.Sweep(now); evicted > 0 {
				r.logger.WithField("evicted", evicted).Warn("Heartbeat sweep evicted stale sessions")
			}
		}
	}
}
