package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nexacore/realtime/internal/broadcast"
	"nexacore/realtime/internal/event"
	"nexacore/realtime/internal/history"
	"nexacore/realtime/internal/maintenance"
	"nexacore/realtime/internal/registry"
	"nexacore/realtime/internal/sequence"
	"nexacore/realtime/internal/versiongate"
	ws "nexacore/realtime/internal/websocket"
	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/kafka"
	"nexacore/realtime/pkg/middleware"
	"nexacore/realtime/pkg/testutil"
)

const testServiceToken = "internal-service-token"

type fixture struct {
	router      *gin.Engine
	handlers    *Handlers
	broadcaster *broadcast.Broadcaster
	registry    *registry.Registry
	jwt         *testutil.JWTTestHelper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	jwtHelper := testutil.NewJWTTestHelper()
	authenticator := auth.NewAuthenticator(auth.NewJWTVerifier(jwtHelper.Secret), logger)

	reg := registry.NewRegistry(logger, time.Minute)
	broadcaster := broadcast.NewBroadcaster(sequence.NewSequencer(), history.NewStore(64), reg, logger, nil)
	gate := maintenance.NewGate(broadcaster, logger)
	versions, err := versiongate.NewGate("2.4.0", "https://downloads.example.com/app", broadcaster, logger)
	if err != nil {
		t.Fatalf("NewGate: %v", err)
	}

	hub := ws.NewHub(authenticator, versions, reg, broadcaster, logger, nil, 16)
	h := NewHandlers(hub, gate, versions, broadcaster, reg, logger)

	router := gin.New()
	router.GET("/status", h.HandleStatus)

	admin := router.Group("/admin")
	admin.Use(middleware.JWTAuthMiddleware(jwtHelper.Secret), middleware.RequireAdmin())
	admin.PUT("/maintenance", h.HandleMaintenanceToggle)
	admin.PUT("/version-policy", h.HandleVersionPolicyUpdate)
	admin.GET("/tenants/:tenant_id/sessions", h.HandleListSessions)
	admin.DELETE("/tenants/:tenant_id/sessions/:connection_id", h.HandleKickSession)

	internal := router.Group("/internal")
	internal.Use(middleware.ServiceAuthMiddleware(testServiceToken))
	internal.POST("/events", h.HandlePublishEvent)

	router.NoRoute(h.HandleNotFound)

	return &fixture{
		router:      router,
		handlers:    h,
		broadcaster: broadcaster,
		registry:    reg,
		jwt:         jwtHelper,
	}
}

func (f *fixture) do(t *testing.T, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return body
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/status?tenant_id=tenant-a", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["service"] != "semaphore" {
		t.Errorf("expected service semaphore, got %v", body["service"])
	}
	if body["minimum_supported_version"] != "2.4.0" {
		t.Errorf("expected version policy in status, got %v", body["minimum_supported_version"])
	}
	global := body["maintenance"].(map[string]interface{})
	if global["enabled"] != false {
		t.Errorf("expected maintenance inactive by default, got %v", global)
	}
}

func TestMaintenanceToggleRequiresAdmin(t *testing.T) {
	f := newFixture(t)
	token, _ := f.jwt.GenerateValidJWT("user-1", "tenant-a", "user")

	w := f.do(t, "PUT", "/admin/maintenance", token, MaintenanceToggleRequest{Scope: "global", Enabled: true})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-admin, got %d", w.Code)
	}
}

func TestMaintenanceToggleGlobal(t *testing.T) {
	f := newFixture(t)
	token, _ := f.jwt.GenerateValidJWT("admin-1", "tenant-a", "admin")

	w := f.do(t, "PUT", "/admin/maintenance", token, MaintenanceToggleRequest{
		Scope:   "global",
		Enabled: true,
		Message: "upgrading storage",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["enabled"] != true || body["message"] != "upgrading storage" {
		t.Errorf("unexpected toggle state: %v", body)
	}

	status := decodeBody(t, f.do(t, "GET", "/status", "", nil))
	if status["maintenance"].(map[string]interface{})["enabled"] != true {
		t.Error("expected status endpoint to reflect the toggle")
	}
}

func TestMaintenanceToggleRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	token, _ := f.jwt.GenerateValidJWT("admin-1", "tenant-a", "admin")

	w := f.do(t, "PUT", "/admin/maintenance", token, map[string]interface{}{"enabled": true})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing scope, got %d", w.Code)
	}
}

func TestVersionPolicyUpdate(t *testing.T) {
	f := newFixture(t)
	token, _ := f.jwt.GenerateValidJWT("admin-1", "tenant-a", "admin")

	w := f.do(t, "PUT", "/admin/version-policy", token, VersionPolicyRequest{
		MinimumSupportedVersion: "3.0.0",
		DownloadURL:             "https://downloads.example.com/v3",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["minimum_supported_version"] != "3.0.0" {
		t.Errorf("unexpected policy: %v", body)
	}

	w = f.do(t, "PUT", "/admin/version-policy", token, VersionPolicyRequest{MinimumSupportedVersion: "not-semver"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unparseable minimum, got %d", w.Code)
	}
}

func TestPublishEvent(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/internal/events", testServiceToken, PublishRequest{
		TenantID: "tenant-a",
		Channel:  "invoices",
		Action:   "created",
		Data:     map[string]interface{}{"invoice_id": "inv-1"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["sequence"].(float64) != 1 {
		t.Errorf("expected stamped sequence 1, got %v", body["sequence"])
	}
	if f.broadcaster.Head("tenant-a") != 1 {
		t.Errorf("expected tenant head to advance, got %d", f.broadcaster.Head("tenant-a"))
	}
}

func TestPublishEventRejectsSystemChannel(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/internal/events", testServiceToken, PublishRequest{
		TenantID: "tenant-a",
		Channel:  event.SystemChannel,
		Action:   "maintenance_changed",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for reserved channel, got %d", w.Code)
	}
	if decodeBody(t, w)["error"] != "reserved_channel" {
		t.Error("expected reserved_channel error code")
	}
}

func TestPublishEventRequiresServiceToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "POST", "/internal/events", "wrong-token", PublishRequest{
		TenantID: "tenant-a",
		Channel:  "invoices",
		Action:   "created",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad service token, got %d", w.Code)
	}
}

func TestListAndKickSessions(t *testing.T) {
	f := newFixture(t)
	adminToken, _ := f.jwt.GenerateValidJWT("admin-1", "tenant-a", "admin")

	session := registry.NewSession("conn-1", auth.Identity{TenantID: "tenant-a", UserID: "user-1", Role: "user"}, 16, 0)
	if err := f.registry.Register(session); err != nil {
		t.Fatalf("Register: %v", err)
	}

	w := f.do(t, "GET", "/admin/tenants/tenant-a/sessions", adminToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	sessions := body["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	summary := sessions[0].(map[string]interface{})
	if summary["connection_id"] != "conn-1" || summary["user_id"] != "user-1" {
		t.Errorf("unexpected summary: %v", summary)
	}

	w = f.do(t, "DELETE", "/admin/tenants/tenant-a/sessions/conn-1", adminToken, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if f.registry.Count() != 0 {
		t.Errorf("expected session removed, count=%d", f.registry.Count())
	}
	if session.Reason() != registry.ReasonKicked {
		t.Errorf("expected kicked reason, got %s", session.Reason())
	}

	w = f.do(t, "DELETE", "/admin/tenants/tenant-a/sessions/conn-1", adminToken, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", w.Code)
	}
}

func TestHandleNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/nope", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleEventFromBroker(t *testing.T) {
	f := newFixture(t)

	if err := f.handlers.HandleEvent(kafka.Event{TenantID: "tenant-a", Channel: "orders", Action: "created"}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if f.broadcaster.Head("tenant-a") != 1 {
		t.Errorf("expected broker event to be sequenced, head=%d", f.broadcaster.Head("tenant-a"))
	}

	// Events without a tenant or on the reserved channel are dropped, not failed.
	if err := f.handlers.HandleEvent(kafka.Event{Channel: "orders", Action: "created"}); err != nil {
		t.Fatalf("HandleEvent without tenant: %v", err)
	}
	if err := f.handlers.HandleEvent(kafka.Event{TenantID: "tenant-a", Channel: event.SystemChannel, Action: "x"}); err != nil {
		t.Fatalf("HandleEvent on reserved channel: %v", err)
	}
	if f.broadcaster.Head("tenant-a") != 1 {
		t.Errorf("expected dropped events to leave head unchanged, head=%d", f.broadcaster.Head("tenant-a"))
	}
}
