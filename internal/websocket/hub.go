package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"nexacore/realtime/internal/broadcast"
	"nexacore/realtime/internal/metrics"
	"nexacore/realtime/internal/registry"
	"nexacore/realtime/internal/versiongate"
	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/logging"
)

// DefaultQueueSize bounds each session's outbound delivery queue.
const DefaultQueueSize = 256

// HeartbeatInterval is how often clients are expected to signal liveness.
// The registry evicts sessions silent for three intervals.
const HeartbeatInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub admits WebSocket connections and binds each one to a registry session
// with its own reader and writer goroutines. Fan-out happens in the
// broadcaster; the hub only owns the transport.
type Hub struct {
	authenticator *auth.Authenticator
	versions      *versiongate.Gate
	registry      *registry.Registry
	broadcaster   *broadcast.Broadcaster
	logger        logging.Logger
	metrics       *metrics.Metrics
	queueSize     int
}

// NewHub creates a hub.
func NewHub(authenticator *auth.Authenticator, versions *versiongate.Gate, reg *registry.Registry, b *broadcast.Broadcaster, logger logging.Logger, m *metrics.Metrics, queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		authenticator: authenticator,
		versions:      versions,
		registry:      reg,
		broadcaster:   b,
		logger:        logger,
		metrics:       m,
		queueSize:     queueSize,
	}
}

// ServeWS handles connection establishment: version gate, then
// authentication, then upgrade, then resume/registration.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if err := h.versions.Check(query.Get("client_version")); err != nil {
		var upgradeErr *versiongate.UpgradeRequiredError
		if errors.As(err, &upgradeErr) {
			writeJSONError(w, http.StatusUpgradeRequired, "upgrade_required", map[string]interface{}{
				"minimum_supported_version": upgradeErr.Minimum,
				"download_url":              upgradeErr.DownloadURL,
			})
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "version_check_failed", nil)
		return
	}

	token := query.Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); len(header) > 7 && header[:7] == "Bearer " {
			token = header[7:]
		}
	}

	identity, err := h.authenticator.Authenticate(token, query.Get("tenant_id"))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTenantMismatch):
			writeJSONError(w, http.StatusForbidden, "tenant_mismatch", nil)
		case errors.Is(err, auth.ErrExpiredToken):
			writeJSONError(w, http.StatusUnauthorized, "expired_token", nil)
		default:
			writeJSONError(w, http.StatusUnauthorized, "invalid_token", nil)
		}
		return
	}

	var resumeCursor uint64
	if raw := query.Get("resume_cursor"); raw != "" {
		cursor, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_resume_cursor", nil)
			return
		}
		resumeCursor = cursor
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	session := registry.NewSession(uuid.New().String(), identity, h.queueSize, resumeCursor)

	resync, err := h.broadcaster.ResumeAndRegister(session)
	if err != nil {
		h.logger.WithError(err).WithFields(logging.Fields{
			"connection_id": session.ID,
			"tenant_id":     session.TenantID,
		}).Error("Failed to register session")
		conn.Close()
		return
	}

	if h.metrics != nil {
		h.metrics.ActiveSessions.WithLabelValues(session.TenantID).Inc()
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		session: session,
		logger: h.logger.WithFields(logging.Fields{
			"connection_id": session.ID,
			"tenant_id":     session.TenantID,
			"user_id":       session.UserID,
		}),
	}

	client.sendControl(map[string]interface{}{
		"type":            "session_established",
		"connection_id":   session.ID,
		"tenant_id":       session.TenantID,
		"sequence_head":   h.broadcaster.Head(session.TenantID),
		"resync_required": resync,
	})

	go client.writePump()
	go client.readPump()
}

// Stats returns hub statistics for health reporting.
func (h *Hub) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_sessions": h.registry.Count(),
		"tenants":        len(h.registry.Tenants()),
	}
}

func writeJSONError(w http.ResponseWriter, status int, code string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": code}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
