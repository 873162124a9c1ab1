// Package provider defines the identity-provider boundary consumed by
// the credential cache. The provider client is constructed once and
// injected; there is no process-wide registry.
package provider

import (
	"context"
	"time"

	"github.com/mousybusiness/cognauth/pkg/creds"
)

// Session is the provider's view of an authenticated user: the issued
// tokens plus their expiry instant.
type Session struct {
	IDToken      creds.IDToken
	AccessToken  creds.AccessToken
	RefreshToken creds.RefreshToken
	Expiry       time.Time
}

// Provider authenticates users and maintains its own long-lived session
// state. CurrentSession renews internally when the provider's session
// is stale, so callers always receive usable tokens or the provider's
// raw error (e.g. a revoked session).
type Provider interface {
	Authenticate(ctx context.Context, username, password string) (Session, error)
	CurrentSession(ctx context.Context) (Session, error)
	SignOut()
}

// Fresh reports whether the session's tokens can still be used,
// applying the same skew as creds.Credentials.
func (s Session) Fresh(now time.Time) bool {
	return s.Expiry.Sub(now) > creds.ExpirySkew
}

// TokenSet is the result of a refresh-token exchange against the
// provider's token endpoint. RefreshToken may be empty when the
// endpoint does not rotate refresh tokens.
type TokenSet struct {
	AccessToken  creds.AccessToken
	IDToken      creds.IDToken
	RefreshToken creds.RefreshToken
	ExpiresIn    time.Duration
}

// Exchanger trades a long-lived refresh token for a fresh token set.
// Used for externally obtained (federated) credentials which the
// provider's own session state does not cover.
type Exchanger interface {
	RefreshTokens(ctx context.Context, token creds.RefreshToken) (TokenSet, error)
}
