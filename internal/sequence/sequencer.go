package sequence

import "sync"

// Sequencer hands out per-tenant sequence numbers, strictly increasing from
// 1 for the life of the process. Counters are not persisted; after a restart
// clients observe a lower-than-expected sequence and fall back to a full
// resync.
type Sequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
}

// NewSequencer creates an empty sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{counters: make(map[string]uint64)}
}

// Next returns the next sequence number for the tenant.
func (s *Sequencer) Next(tenantID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[tenantID]++
	return s.counters[tenantID]
}

// Current returns the last assigned sequence for the tenant, zero if none.
func (s *Sequencer) Current(tenantID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[tenantID]
}
