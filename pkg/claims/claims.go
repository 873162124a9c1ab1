// Package claims extracts identity claims from an ID token without
// verifying its signature. Verification is the resource server's job;
// callers here only need the identity fields Cognito embeds in the
// token payload.
package claims

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/mousybusiness/cognauth/pkg/creds"
)

const (
	subjectClaim  = "sub"
	usernameClaim = "cognito:username"
)

var (
	// ErrInvalidToken means the token is not a three part, dot delimited JWT.
	ErrInvalidToken = errors.New("token must have three dot-separated segments")

	// ErrInvalidBase64 means the payload segment is not valid base64url.
	ErrInvalidBase64 = errors.New("token payload is not valid base64url")

	// ErrInvalidJSON means the decoded payload is not a JSON object.
	ErrInvalidJSON = errors.New("token payload is not a JSON object")
)

// MissingClaimError is returned when the payload decodes cleanly but
// the requested claim is absent.
type MissingClaimError struct {
	Claim string
}

func (e MissingClaimError) Error() string {
	return fmt.Sprintf("claim %q not found in token", e.Claim)
}

// Extract returns the named claim from the token's payload segment.
func Extract(token creds.IDToken, name string) (string, error) {
	payload, err := decodePayload(token)
	if err != nil {
		return "", err
	}

	v, ok := payload[name]
	if !ok {
		return "", MissingClaimError{Claim: name}
	}

	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}

// Subject returns the provider's unique user id from the "sub" claim.
func Subject(token creds.IDToken) (string, error) {
	return Extract(token, subjectClaim)
}

// Username returns the Cognito username claim.
func Username(token creds.IDToken) (string, error) {
	return Extract(token, usernameClaim)
}

func decodePayload(token creds.IDToken) (map[string]interface{}, error) {
	parts := strings.Split(string(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	b, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// tolerate padded encoders
		if b, err = base64.URLEncoding.DecodeString(parts[1]); err != nil {
			return nil, ErrInvalidBase64
		}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, ErrInvalidJSON
	}

	return payload, nil
}
