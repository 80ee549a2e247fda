package maintenance

import (
	"errors"
	"sync"
	"time"

	"nexacore/realtime/internal/event"
	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/logging"
)

// ScopeGlobal addresses every tenant at once; any other scope value is a
// tenant id.
const ScopeGlobal = "global"

// ErrAdminRequired is returned when a non-admin identity attempts a toggle.
var ErrAdminRequired = errors.New("admin role required")

// State is the maintenance record for one scope. At most one global record
// and one record per tenant exist.
type State struct {
	Scope     string    `json:"scope"`
	Enabled   bool      `json:"enabled"`
	Message   string    `json:"message,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Publisher is the broadcast dependency the gate notifies through.
type Publisher interface {
	Publish(tenantID, channel, action string, data map[string]interface{}) event.Event
	PublishToAllTenants(channel, action string, data map[string]interface{})
}

// Gate is the process-wide and per-tenant maintenance switch. The state
// store is updated before the change event is broadcast: the write-path
// guard and the status query never observe a stale ACTIVE after Toggle
// returns, while connected clients learn of the change at most one
// broadcast later.
type Gate struct {
	mu      sync.RWMutex
	global  State
	tenants map[string]State

	publisher Publisher
	logger    logging.Logger
}

// NewGate creates a gate with every scope ACTIVE.
func NewGate(publisher Publisher, logger logging.Logger) *Gate {
	return &Gate{
		global:    State{Scope: ScopeGlobal},
		tenants:   make(map[string]State),
		publisher: publisher,
		logger:    logger,
	}
}

// Toggle switches maintenance for a scope. Only admins may toggle. On
// success the updated state is stored and a maintenance_changed event is
// broadcast to every affected tenant.
func (g *Gate) Toggle(scope string, enabled bool, message string, actor auth.Identity) (State, error) {
	if !actor.IsAdmin() {
		g.logger.WithFields(logging.Fields{
			"scope":   scope,
			"user_id": actor.UserID,
			"role":    actor.Role,
		}).Warn("Maintenance toggle denied")
		return State{}, ErrAdminRequired
	}

	state := State{
		Scope:     scope,
		Enabled:   enabled,
		Message:   message,
		UpdatedBy: actor.UserID,
		UpdatedAt: time.Now().UTC(),
	}

	g.mu.Lock()
	if scope == ScopeGlobal {
		g.global = state
	} else {
		g.tenants[scope] = state
	}
	g.mu.Unlock()

	g.logger.WithFields(logging.Fields{
		"scope":      scope,
		"enabled":    enabled,
		"updated_by": actor.UserID,
	}).Info("Maintenance state changed")

	data := map[string]interface{}{
		"scope":   scope,
		"enabled": enabled,
		"message": message,
	}
	if scope == ScopeGlobal {
		g.publisher.PublishToAllTenants(event.SystemChannel, event.ActionMaintenanceChanged, data)
	} else {
		g.publisher.Publish(scope, event.SystemChannel, event.ActionMaintenanceChanged, data)
	}

	return state, nil
}

// Status returns the global record and the tenant's record. The tenant
// record is zero-valued (ACTIVE) when never toggled.
func (g *Gate) Status(tenantID string) (global State, tenant State) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tenant, ok := g.tenants[tenantID]
	if !ok {
		tenant = State{Scope: tenantID}
	}
	return g.global, tenant
}

// Enabled reports whether maintenance is in effect for the tenant, either
// globally or tenant-scoped.
func (g *Gate) Enabled(tenantID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.global.Enabled || g.tenants[tenantID].Enabled
}

// WriteAllowed is the guard the write path consults before accepting
// mutations.
func (g *Gate) WriteAllowed(tenantID string) bool {
	return !g.Enabled(tenantID)
}
