package versiongate

import (
	"errors"
	"testing"

	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/logging"
)

type recordingPublisher struct {
	channel string
	action  string
	data    map[string]interface{}
}

func (p *recordingPublisher) PublishToAllTenants(channel, action string, data map[string]interface{}) {
	p.channel, p.action, p.data = channel, action, data
}

func newTestGate(t *testing.T, minimum string) (*Gate, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	g, err := NewGate(minimum, "https://downloads.example.com/app", pub, logging.NewLogger())
	if err != nil {
		t.Fatalf("new gate: %v", err)
	}
	return g, pub
}

func TestCheck(t *testing.T) {
	g, _ := newTestGate(t, "2.4.0")

	cases := []struct {
		version string
		ok      bool
	}{
		{"2.4.0", true},
		{"2.4.1", true},
		{"3.0.0", true},
		{"v2.5.0", true},
		{"2.3.9", false},
		{"1.0.0", false},
		{"garbage", false},
		{"", false},
	}
	for _, tc := range cases {
		err := g.Check(tc.version)
		if tc.ok && err != nil {
			t.Errorf("%q: expected ok, got %v", tc.version, err)
		}
		if !tc.ok {
			var upgradeErr *UpgradeRequiredError
			if !errors.As(err, &upgradeErr) {
				t.Errorf("%q: expected UpgradeRequiredError, got %v", tc.version, err)
				continue
			}
			if upgradeErr.DownloadURL == "" {
				t.Errorf("%q: expected download reference", tc.version)
			}
		}
	}
}

func TestNewGateInvalidMinimum(t *testing.T) {
	if _, err := NewGate("not-a-version", "", nil, logging.NewLogger()); err == nil {
		t.Fatalf("expected error for invalid minimum")
	}
}

func TestUpdateRequiresAdmin(t *testing.T) {
	g, pub := newTestGate(t, "2.4.0")
	_, err := g.Update("2.5.0", "", auth.Identity{UserID: "user-1", Role: "member"})
	if !errors.Is(err, ErrAdminRequired) {
		t.Fatalf("expected ErrAdminRequired, got %v", err)
	}
	if pub.action != "" {
		t.Fatalf("denied update must not broadcast")
	}
}

func TestUpdateBroadcastsPolicyChange(t *testing.T) {
	g, pub := newTestGate(t, "2.4.0")

	policy, err := g.Update("2.6.0", "https://downloads.example.com/v2.6", auth.Identity{UserID: "admin-1", Role: "admin"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if policy.MinimumSupported != "2.6.0" {
		t.Fatalf("unexpected policy: %+v", policy)
	}

	if pub.action != "version_policy_changed" || pub.channel != "system" {
		t.Fatalf("expected system broadcast, got %s/%s", pub.channel, pub.action)
	}
	if pub.data["minimum_supported_version"] != "2.6.0" {
		t.Fatalf("unexpected payload: %+v", pub.data)
	}

	if err := g.Check("2.5.0"); err == nil {
		t.Fatalf("expected 2.5.0 rejected after update")
	}
}
