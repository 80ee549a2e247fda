package kafka

import (
	"context"
	"time"
)

// Event represents a domain event consumed from Kafka. The write path
// publishes these after committing its transaction; this service only fans
// them out.
type Event struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id,omitempty"`
	Channel   string                 `json:"channel"`
	Action    string                 `json:"action"`
	Source    string                 `json:"source,omitempty"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler interface for handling consumed events
type EventHandler interface {
	HandleEvent(event Event) error
}

// ConsumerInterface defines the interface for Kafka consumers
type ConsumerInterface interface {
	Subscribe(topics []string) error
	Start(ctx context.Context) error
	Close() error
	HealthCheck() error
}
