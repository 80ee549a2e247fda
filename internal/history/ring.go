package history

import (
	"sync"

	"nexacore/realtime/internal/event"
)

// DefaultCapacity bounds how many events are retained per tenant for replay.
const DefaultCapacity = 512

// Store keeps a bounded in-memory ring of recent events per tenant. Events
// here are not a source of truth; they exist only to satisfy bounded replay
// on reconnect.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*ring
}

type ring struct {
	mu    sync.Mutex
	buf   []event.Event
	start int // index of oldest retained event
	count int
}

// NewStore creates a store retaining up to capacity events per tenant.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// Append records a sequenced event for its tenant, evicting the oldest
// retained event once the ring is full. Callers must append in sequence
// order per tenant; the broadcaster serializes the publish path.
func (s *Store) Append(ev event.Event) {
	r := s.ringFor(ev.TenantID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = ev
		r.count++
		return
	}
	r.buf[r.start] = ev
	r.start = (r.start + 1) % len(r.buf)
}

// Since returns every retained event for the tenant with sequence greater
// than cursor, in order. ok is false when the gap cannot be covered from
// retention, either because the cursor predates the oldest retained event or
// because it lies ahead of the stream (a process restart reset sequencing);
// the caller must then instruct a full resync.
func (s *Store) Since(tenantID string, cursor uint64) (events []event.Event, ok bool) {
	s.mu.RLock()
	r := s.rings[tenantID]
	s.mu.RUnlock()

	if r == nil {
		// Nothing ever published for this tenant this process lifetime.
		if cursor == 0 {
			return nil, true
		}
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		if cursor == 0 {
			return nil, true
		}
		return nil, false
	}

	oldest := r.buf[r.start].Sequence
	newest := r.buf[(r.start+r.count-1)%len(r.buf)].Sequence

	if cursor > newest {
		// Cursor ahead of the stream: sequencing was reset.
		return nil, false
	}
	if cursor == newest {
		return nil, true
	}
	if cursor+1 < oldest {
		// Gap exceeds retention.
		return nil, false
	}

	events = make([]event.Event, 0, newest-cursor)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Sequence > cursor {
			events = append(events, ev)
		}
	}
	return events, true
}

// Newest returns the highest retained sequence for the tenant, zero if none.
func (s *Store) Newest(tenantID string) uint64 {
	s.mu.RLock()
	r := s.rings[tenantID]
	s.mu.RUnlock()

	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.count == 0 {
		return 0
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)].Sequence
}

func (s *Store) ringFor(tenantID string) *ring {
	s.mu.RLock()
	r := s.rings[tenantID]
	s.mu.RUnlock()
	if r != nil {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.rings[tenantID]; r == nil {
		r = &ring{buf: make([]event.Event, s.capacity)}
		s.rings[tenantID] = r
	}
	return r
}
