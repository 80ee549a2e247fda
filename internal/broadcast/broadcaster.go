package broadcast

import (
	"sync"
	"time"

	"nexacore/realtime/internal/event"
	"nexacore/realtime/internal/history"
	"nexacore/realtime/internal/metrics"
	"nexacore/realtime/internal/registry"
	"nexacore/realtime/internal/sequence"
	"nexacore/realtime/pkg/logging"
)

// Broadcaster stamps domain events with their tenant sequence and fans them
// out to every same-tenant session. Delivery to each session is independent:
// a session with a full outbound queue is evicted as a slow consumer and
// never blocks publication to the rest.
type Broadcaster struct {
	sequencer *sequence.Sequencer
	history   *history.Store
	registry  *registry.Registry
	logger    logging.Logger
	metrics   *metrics.Metrics

	mu          sync.Mutex
	tenantLocks map[string]*sync.Mutex
}

// NewBroadcaster wires the publish path.
func NewBroadcaster(seq *sequence.Sequencer, hist *history.Store, reg *registry.Registry, logger logging.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		sequencer:   seq,
		history:     hist,
		registry:    reg,
		logger:      logger,
		metrics:     m,
		tenantLocks: make(map[string]*sync.Mutex),
	}
}

// Publish sequences an event and delivers it to every session of its tenant.
// The stamp-retain-deliver path is serialized per tenant so each session's
// queue observes sequence order; publishes for different tenants proceed in
// parallel.
func (b *Broadcaster) Publish(tenantID, channel, action string, data map[string]interface{}) event.Event {
	lock := b.lockFor(tenantID)
	lock.Lock()
	defer lock.Unlock()

	ev := event.Event{
		TenantID:  tenantID,
		Channel:   channel,
		Action:    action,
		Sequence:  b.sequencer.Next(tenantID),
		Data:      data,
		EmittedAt: time.Now().UTC(),
	}

	b.history.Append(ev)

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(channel, action).Inc()
	}

	delivered := 0
	b.registry.ForEachInTenant(tenantID, func(s *registry.Session) {
		if s.TryEnqueue(ev) {
			delivered++
			return
		}
		// Queue full: evict this session only, the rest keep receiving.
		b.registry.Unregister(s, registry.ReasonSlowConsumer)
		if b.metrics != nil {
			b.metrics.SlowConsumers.WithLabelValues(tenantID).Inc()
		}
		b.logger.WithFields(logging.Fields{
			"connection_id": s.ID,
			"tenant_id":     tenantID,
			"sequence":      ev.Sequence,
		}).Warn("Slow consumer disconnected")
	})

	if b.metrics != nil && delivered > 0 {
		b.metrics.EventsDelivered.WithLabelValues(channel).Add(float64(delivered))
	}

	b.logger.WithFields(logging.Fields{
		"tenant_id": tenantID,
		"channel":   channel,
		"action":    action,
		"sequence":  ev.Sequence,
		"delivered": delivered,
	}).Debug("Event published")

	return ev
}

// PublishToAllTenants publishes a system event to every tenant that has at
// least one live session. Each tenant receives the event under its own
// sequence.
func (b *Broadcaster) PublishToAllTenants(channel, action string, data map[string]interface{}) {
	for _, tenantID := range b.registry.Tenants() {
		b.Publish(tenantID, channel, action, data)
	}
}

// Resume computes the backlog for a reconnecting session. It returns the
// exact missed events in order when the gap is covered by retention;
// otherwise resync is true and the client must discard local state and
// re-fetch authoritative state before resuming live delivery.
func (b *Broadcaster) Resume(tenantID string, cursor uint64) (backlog []event.Event, resync bool) {
	events, ok := b.history.Since(tenantID, cursor)
	if b.metrics != nil {
		result := "replayed"
		if !ok {
			result = "resync_required"
		}
		b.metrics.ReplayRequests.WithLabelValues(result).Inc()
	}
	if !ok {
		return nil, true
	}
	return events, false
}

// ResumeAndRegister atomically replays the covered backlog into the
// session's queue and registers it for live delivery, under the tenant's
// publish lock so no event is lost or duplicated between backlog and live
// stream.
func (b *Broadcaster) ResumeAndRegister(s *registry.Session) (resync bool, err error) {
	lock := b.lockFor(s.TenantID)
	lock.Lock()
	defer lock.Unlock()

	backlog, resync := b.Resume(s.TenantID, s.ResumeCursor)
	if !resync && len(backlog) > s.QueueCapacity() {
		// The covered gap outgrows the session's outbound bound; catching up
		// incrementally would immediately evict it as a slow consumer.
		resync = true
		backlog = nil
	}
	if err := b.registry.Register(s); err != nil {
		return resync, err
	}
	for _, ev := range backlog {
		s.TryEnqueue(ev)
	}
	return resync, nil
}

// Head returns the tenant's current sequence head.
func (b *Broadcaster) Head(tenantID string) uint64 {
	return b.sequencer.Current(tenantID)
}

func (b *Broadcaster) lockFor(tenantID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock := b.tenantLocks[tenantID]
	if lock == nil {
		lock = &sync.Mutex{}
		b.tenantLocks[tenantID] = lock
	}
	return lock
}
