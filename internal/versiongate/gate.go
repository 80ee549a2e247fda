package versiongate

import (
	"errors"
	"fmt"
	"sync"

	"github.com/blang/semver/v4"

	"nexacore/realtime/internal/event"
	"nexacore/realtime/pkg/auth"
	"nexacore/realtime/pkg/logging"
)

// ErrAdminRequired is returned when a non-admin identity attempts an update.
var ErrAdminRequired = errors.New("admin role required")

// Policy is the singleton minimum-version requirement clients are checked
// against at admission time.
type Policy struct {
	MinimumSupported string `json:"minimum_supported_version"`
	DownloadURL      string `json:"download_url,omitempty"`
}

// UpgradeRequiredError tells a client to upgrade and retry, as opposed to an
// authentication failure.
type UpgradeRequiredError struct {
	ClientVersion string
	Minimum       string
	DownloadURL   string
}

func (e *UpgradeRequiredError) Error() string {
	return fmt.Sprintf("client version %s below minimum supported %s", e.ClientVersion, e.Minimum)
}

// Publisher is the broadcast dependency used to announce policy changes.
type Publisher interface {
	PublishToAllTenants(channel, action string, data map[string]interface{})
}

// Gate compares client-declared versions against the configured minimum
// using semantic ordering.
type Gate struct {
	mu          sync.RWMutex
	minimum     semver.Version
	downloadURL string

	publisher Publisher
	logger    logging.Logger
}

// NewGate parses the minimum supported version and creates the gate.
func NewGate(minimum, downloadURL string, publisher Publisher, logger logging.Logger) (*Gate, error) {
	parsed, err := semver.ParseTolerant(minimum)
	if err != nil {
		return nil, fmt.Errorf("invalid minimum supported version %q: %w", minimum, err)
	}
	return &Gate{
		minimum:     parsed,
		downloadURL: downloadURL,
		publisher:   publisher,
		logger:      logger,
	}, nil
}

// Check validates a client version. A version that cannot be parsed is
// treated as below minimum rather than admitted blind.
func (g *Gate) Check(clientVersion string) error {
	g.mu.RLock()
	minimum := g.minimum
	downloadURL := g.downloadURL
	g.mu.RUnlock()

	parsed, err := semver.ParseTolerant(clientVersion)
	if err != nil || parsed.LT(minimum) {
		return &UpgradeRequiredError{
			ClientVersion: clientVersion,
			Minimum:       minimum.String(),
			DownloadURL:   downloadURL,
		}
	}
	return nil
}

// Policy returns the current version policy.
func (g *Gate) Policy() Policy {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Policy{
		MinimumSupported: g.minimum.String(),
		DownloadURL:      g.downloadURL,
	}
}

// Update replaces the policy and announces the change on the system channel.
// Only admins may update.
func (g *Gate) Update(minimum, downloadURL string, actor auth.Identity) (Policy, error) {
	if !actor.IsAdmin() {
		return Policy{}, ErrAdminRequired
	}

	parsed, err := semver.ParseTolerant(minimum)
	if err != nil {
		return Policy{}, fmt.Errorf("invalid minimum supported version %q: %w", minimum, err)
	}

	g.mu.Lock()
	g.minimum = parsed
	g.downloadURL = downloadURL
	g.mu.Unlock()

	g.logger.WithFields(logging.Fields{
		"minimum_supported_version": parsed.String(),
		"updated_by":                actor.UserID,
	}).Info("Version policy updated")

	if g.publisher != nil {
		g.publisher.PublishToAllTenants(event.SystemChannel, event.ActionVersionPolicyChanged, map[string]interface{}{
			"minimum_supported_version": parsed.String(),
			"download_url":              downloadURL,
		})
	}

	return g.Policy(), nil
}
