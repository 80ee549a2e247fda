package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nexacore/realtime/internal/broadcast"
	"nexacore/realtime/internal/event"
	"nexacore/realtime/internal/maintenance"
	"nexacore/realtime/internal/registry"
	"nexacore/realtime/internal/versiongate"
	ws "nexacore/realtime/internal/websocket"
	"nexacore/realtime/pkg/kafka"
	"nexacore/realtime/pkg/logging"
	"nexacore/realtime/pkg/middleware"
)

// Handlers contains the HTTP handlers for the service
type Handlers struct {
	hub         *ws.Hub
	gate        *maintenance.Gate
	versions    *versiongate.Gate
	broadcaster *broadcast.Broadcaster
	registry    *registry.Registry
	logger      logging.Logger
	startTime   time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(hub *ws.Hub, gate *maintenance.Gate, versions *versiongate.Gate, b *broadcast.Broadcaster, reg *registry.Registry, logger logging.Logger) *Handlers {
	return &Handlers{
		hub:         hub,
		gate:        gate,
		versions:    versions,
		broadcaster: b,
		registry:    reg,
		logger:      logger,
		startTime:   time.Now(),
	}
}

// HandleWebSocket serves WebSocket connection establishment
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// StatusResponse is the unauthenticated polling fallback for clients that
// have not yet connected.
type StatusResponse struct {
	Service                 string            `json:"service"`
	Maintenance             maintenance.State `json:"maintenance"`
	TenantMaintenance       maintenance.State `json:"tenant_maintenance"`
	MinimumSupportedVersion string            `json:"minimum_supported_version"`
	DownloadURL             string            `json:"download_url,omitempty"`
	Uptime                  string            `json:"uptime"`
}

// HandleStatus reports maintenance state and the version policy
func (h *Handlers) HandleStatus(c *gin.Context) {
	global, tenant := h.gate.Status(c.Query("tenant_id"))
	policy := h.versions.Policy()

	c.JSON(http.StatusOK, StatusResponse{
		Service:                 "semaphore",
		Maintenance:             global,
		TenantMaintenance:       tenant,
		MinimumSupportedVersion: policy.MinimumSupported,
		DownloadURL:             policy.DownloadURL,
		Uptime:                  time.Since(h.startTime).String(),
	})
}

// MaintenanceToggleRequest is the admin toggle payload.
type MaintenanceToggleRequest struct {
	Scope   string `json:"scope" binding:"required"`
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// HandleMaintenanceToggle switches maintenance for a scope (admin only)
func (h *Handlers) HandleMaintenanceToggle(c *gin.Context) {
	var req MaintenanceToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	state, err := h.gate.Toggle(req.Scope, req.Enabled, req.Message, middleware.IdentityFromContext(c))
	if err != nil {
		if errors.Is(err, maintenance.ErrAdminRequired) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "toggle_failed"})
		return
	}

	c.JSON(http.StatusOK, state)
}

// VersionPolicyRequest is the admin version policy payload.
type VersionPolicyRequest struct {
	MinimumSupportedVersion string `json:"minimum_supported_version" binding:"required"`
	DownloadURL             string `json:"download_url"`
}

// HandleVersionPolicyUpdate replaces the version policy (admin only)
func (h *Handlers) HandleVersionPolicyUpdate(c *gin.Context) {
	var req VersionPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	policy, err := h.versions.Update(req.MinimumSupportedVersion, req.DownloadURL, middleware.IdentityFromContext(c))
	if err != nil {
		if errors.Is(err, versiongate.ErrAdminRequired) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin_required"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_version", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, policy)
}

// SessionSummary describes one live session for admin introspection.
type SessionSummary struct {
	ConnectionID    string    `json:"connection_id"`
	TenantID        string    `json:"tenant_id"`
	UserID          string    `json:"user_id"`
	Role            string    `json:"role"`
	EstablishedAt   time.Time `json:"established_at"`
	LastHeartbeatAt time.Time `json:"last_heartbeat_at"`
	ResumeCursor    uint64    `json:"resume_cursor"`
}

// HandleListSessions lists a tenant's live sessions (admin only)
func (h *Handlers) HandleListSessions(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	sessions := h.registry.SessionsInTenant(tenantID)

	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, SessionSummary{
			ConnectionID:    s.ID,
			TenantID:        s.TenantID,
			UserID:          s.UserID,
			Role:            s.Role,
			EstablishedAt:   s.EstablishedAt,
			LastHeartbeatAt: s.LastHeartbeatAt(),
			ResumeCursor:    s.ResumeCursor,
		})
	}

	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "sessions": summaries})
}

// HandleKickSession force-disconnects one session (admin only)
func (h *Handlers) HandleKickSession(c *gin.Context) {
	tenantID := c.Param("tenant_id")
	connectionID := c.Param("connection_id")

	session, ok := h.registry.Get(tenantID, connectionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session_not_found"})
		return
	}

	h.registry.Unregister(session, registry.ReasonKicked)
	h.logger.WithFields(logging.Fields{
		"connection_id": connectionID,
		"tenant_id":     tenantID,
		"kicked_by":     c.GetString("user_id"),
	}).Info("Session kicked")

	c.Status(http.StatusNoContent)
}

// PublishRequest is the write path's event ingest payload.
type PublishRequest struct {
	TenantID string                 `json:"tenant_id" binding:"required"`
	Channel  string                 `json:"channel" binding:"required"`
	Action   string                 `json:"action" binding:"required"`
	Data     map[string]interface{} `json:"data"`
}

// HandlePublishEvent ingests a domain event from the write path
// (service-token authenticated)
func (h *Handlers) HandlePublishEvent(c *gin.Context) {
	var req PublishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
		return
	}

	if req.Channel == event.SystemChannel {
		// The system channel is reserved for gate and policy notifications.
		c.JSON(http.StatusBadRequest, gin.H{"error": "reserved_channel"})
		return
	}

	ev := h.broadcaster.Publish(req.TenantID, req.Channel, req.Action, req.Data)
	c.JSON(http.StatusAccepted, ev)
}

// HandleNotFound provides a custom 404 handler
func (h *Handlers) HandleNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error":   "not_found",
		"service": "semaphore",
	})
}

// HandleEvent processes events consumed from Kafka and feeds the broadcast
// path. Events without a tenant are dropped to avoid cross-tenant leakage.
func (h *Handlers) HandleEvent(ev kafka.Event) error {
	if ev.TenantID == "" {
		h.logger.WithFields(logging.Fields{
			"channel": ev.Channel,
			"action":  ev.Action,
			"source":  ev.Source,
		}).Warn("Dropping event without tenant_id")
		return nil
	}
	if ev.Channel == "" || ev.Channel == event.SystemChannel {
		h.logger.WithFields(logging.Fields{
			"channel":   ev.Channel,
			"tenant_id": ev.TenantID,
		}).Warn("Dropping event with missing or reserved channel")
		return nil
	}

	h.broadcaster.Publish(ev.TenantID, ev.Channel, ev.Action, ev.Data)
	return nil
}
