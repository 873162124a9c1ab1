package creds

import (
	"time"
)

// ExpirySkew is subtracted from a credential's remaining lifetime when
// deciding freshness. This guards against the race between a freshness
// check and the token's actual use in a network call.
const ExpirySkew = time.Minute

type (
	// AccessToken authorizes API calls on behalf of the user.
	AccessToken string

	// IDToken is a signed JWT which contains verified information
	// about the authenticated user. Custom claims can be added
	// to the IDToken via your user management technology.
	IDToken string

	// RefreshToken is used to refresh user credentials
	// without requiring user input. Keep this secure.
	RefreshToken string

	// Credentials is a container for the returned authentication data.
	// A Credentials value is never mutated after creation; a refresh
	// produces a replacement.
	Credentials struct {
		UID string
		AccessToken
		IDToken
		RefreshToken
		Expiry time.Time
	}
)

// Fresh reports whether the credentials can still be attached to an
// outgoing request, allowing ExpirySkew of buffer before actual expiry.
func (c Credentials) Fresh(now time.Time) bool {
	return c.Expiry.Sub(now) > ExpirySkew
}
