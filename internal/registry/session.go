package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"nexacore/realtime/internal/event"
	"nexacore/realtime/pkg/auth"
)

// CloseReason records why a session was torn down.
type CloseReason string

const (
	ReasonExplicitClose    CloseReason = "explicit_close"
	ReasonHeartbeatTimeout CloseReason = "heartbeat_timeout"
	ReasonSlowConsumer     CloseReason = "slow_consumer_disconnect"
	ReasonKicked           CloseReason = "kicked"
	ReasonShutdown         CloseReason = "server_shutdown"
)

// Session is one live connection's registry record. The tenant never changes
// after establishment; a client reconnects to switch tenants. The session
// owns its bounded outbound queue; the connection-handling goroutine drains
// it and no other session can block it.
type Session struct {
	ID            string
	TenantID      string
	UserID        string
	Role          string
	EstablishedAt time.Time
	ResumeCursor  uint64

	queue         chan event.Event
	done          chan struct{}
	lastHeartbeat atomic.Int64 // unix nanos

	mu     sync.Mutex
	closed bool
	reason CloseReason
}

// NewSession creates a session record for an admitted identity.
func NewSession(id string, identity auth.Identity, queueSize int, resumeCursor uint64) *Session {
	s := &Session{
		ID:            id,
		TenantID:      identity.TenantID,
		UserID:        identity.UserID,
		Role:          identity.Role,
		EstablishedAt: time.Now().UTC(),
		ResumeCursor:  resumeCursor,
		queue:         make(chan event.Event, queueSize),
		done:          make(chan struct{}),
	}
	s.lastHeartbeat.Store(s.EstablishedAt.UnixNano())
	return s
}

// TryEnqueue offers an event to the session's outbound queue without
// blocking. It returns false only when the queue is full on a live session;
// the caller treats that as a slow consumer.
func (s *Session) TryEnqueue(ev event.Event) bool {
	select {
	case <-s.done:
		// Already torn down; dropping is correct, not slow.
		return true
	default:
	}

	select {
	case s.queue <- ev:
		return true
	default:
		return false
	}
}

// QueueCapacity returns the outbound queue bound.
func (s *Session) QueueCapacity() int {
	return cap(s.queue)
}

// Events exposes the outbound queue for the connection writer.
func (s *Session) Events() <-chan event.Event {
	return s.queue
}

// Done is closed when the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the session closed, empty while live.
func (s *Session) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Touch records client liveness.
func (s *Session) Touch() {
	s.lastHeartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeatAt returns the time of the last observed client liveness.
func (s *Session) LastHeartbeatAt() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// close marks the session torn down exactly once and wakes its writer.
func (s *Session) close(reason CloseReason) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.reason = reason
	close(s.done)
	return true
}
