package auth

import (
	"errors"

	"nexacore/realtime/pkg/logging"
)

// ErrTenantMismatch is returned when a token's tenant claim does not match
// the tenant the connection declared.
var ErrTenantMismatch = errors.New("token tenant claim does not match declared tenant")

// Identity is the outcome of a successful admission check.
type Identity struct {
	TenantID string
	UserID   string
	Role     string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == "admin"
}

// TokenVerifier validates a bearer token and yields its claims. Token
// signature and expiry checks live behind this boundary; the authenticator
// only enforces the resulting claims against the connection request.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// JWTVerifier verifies HS256-signed session tokens.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify implements TokenVerifier.
func (v *JWTVerifier) Verify(token string) (*Claims, error) {
	return ValidateJWT(token, v.secret)
}

// Authenticator admits or rejects inbound connections. Admission or
// rejection is the sole observable outcome beyond decision logging.
type Authenticator struct {
	verifier TokenVerifier
	logger   logging.Logger
}

// NewAuthenticator creates an authenticator backed by the given verifier.
func NewAuthenticator(verifier TokenVerifier, logger logging.Logger) *Authenticator {
	return &Authenticator{verifier: verifier, logger: logger}
}

// Authenticate validates the bearer token and, when the connection declares
// a tenant, enforces that it matches the token's tenant claim.
func (a *Authenticator) Authenticate(token, declaredTenant string) (Identity, error) {
	claims, err := a.verifier.Verify(token)
	if err != nil {
		a.logger.WithError(err).WithFields(logging.Fields{
			"declared_tenant": declaredTenant,
		}).Info("Connection rejected")
		return Identity{}, err
	}

	if declaredTenant != "" && declaredTenant != claims.TenantID {
		a.logger.WithFields(logging.Fields{
			"declared_tenant": declaredTenant,
			"claim_tenant":    claims.TenantID,
			"user_id":         claims.UserID,
		}).Warn("Connection rejected: tenant mismatch")
		return Identity{}, ErrTenantMismatch
	}

	identity := Identity{
		TenantID: claims.TenantID,
		UserID:   claims.UserID,
		Role:     claims.Role,
	}

	a.logger.WithFields(logging.Fields{
		"tenant_id": identity.TenantID,
		"user_id":   identity.UserID,
		"role":      identity.Role,
	}).Debug("Connection admitted")

	return identity, nil
}
