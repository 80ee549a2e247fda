package event

import "time"

// Reserved channel and actions for system-originated events.
const (
	SystemChannel = "system"

	ActionMaintenanceChanged   = "maintenance_changed"
	ActionVersionPolicyChanged = "version_policy_changed"
)

// Event is the wire envelope delivered to clients. Immutable once sequenced.
// Sequence is unique and strictly increasing within a tenant; there is no
// ordering guarantee across tenants.
type Event struct {
	TenantID  string                 `json:"tenant_id"`
	Channel   string                 `json:"channel"`
	Action    string                 `json:"action"`
	Sequence  uint64                 `json:"sequence"`
	Data      map[string]interface{} `json:"data"`
	EmittedAt time.Time              `json:"emitted_at"`
}

// IsSystem reports whether the event travels on the reserved system channel.
func (e Event) IsSystem() bool {
	return e.Channel == SystemChannel
}
