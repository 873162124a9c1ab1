// Package cognito implements the identity-provider boundary against an
// AWS Cognito user pool. Password sign-in and native session renewal go
// through the cognitoidentityprovider API; federated refresh-token
// exchange goes through the pool's hosted-UI token endpoint.
package cognito

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/mousybusiness/go-web/web"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mousybusiness/cognauth/internal/errs"
	"github.com/mousybusiness/cognauth/pkg/creds"
	"github.com/mousybusiness/cognauth/pkg/provider"
)

const (
	tokenPath      = "/oauth2/token"
	exchangeTimeout = time.Second * 60

	usernameParam     = "USERNAME"
	passwordParam     = "PASSWORD"
	refreshTokenParam = "REFRESH_TOKEN"
)

type Config struct {
	// Region of the user pool, e.g. "ap-southeast-2"
	Region string
	// ClientID of the app client. Must not have a client secret
	// configured since this SDK authenticates from user devices.
	// e.g. "6ghi7jklmnopqr3stu0vwxyz12"
	ClientID string
	// Domain is the hosted UI domain, required only for federated
	// refresh-token exchange.
	// e.g. "https://myapp.auth.ap-southeast-2.amazoncognito.com"
	Domain string
}

// api is the slice of the Cognito SDK used by the client.
type api interface {
	InitiateAuth(ctx context.Context, params *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
}

type Client struct {
	config Config
	api    api

	mu      sync.Mutex
	session provider.Session
}

// New creates a Cognito-backed provider client.
func New(config Config) (*Client, error) {
	if config.Region == "" {
		return nil, errors.New("require Region")
	}

	if config.ClientID == "" {
		return nil, errors.New("require ClientID")
	}

	return &Client{
		config: config,
		api:    cip.New(cip.Options{Region: config.Region}),
	}, nil
}

// Authenticate signs the user in with the USER_PASSWORD_AUTH flow and
// retains the resulting session for later renewal. Cognito's own error
// is returned untouched on rejected credentials.
func (c *Client) Authenticate(ctx context.Context, username, password string) (provider.Session, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(c.config.ClientID),
		AuthParameters: map[string]string{
			usernameParam: username,
			passwordParam: password,
		},
	})
	if err != nil {
		return provider.Session{}, err
	}

	session, err := c.toSession(out.AuthenticationResult, "")
	if err != nil {
		return provider.Session{}, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()

	log.Debugf("authenticated, session expires at %v", session.Expiry)
	return session, nil
}

// CurrentSession returns the held session, renewing it with the
// REFRESH_TOKEN_AUTH flow when it is stale. A revoked refresh token
// surfaces as Cognito's raw error so the caller can treat the user
// as signed out.
func (c *Client) CurrentSession(ctx context.Context) (provider.Session, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session.IDToken == "" && session.RefreshToken == "" {
		return provider.Session{}, errors.New("no session, sign in first")
	}

	if session.Fresh(time.Now()) {
		return session, nil
	}

	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(c.config.ClientID),
		AuthParameters: map[string]string{
			refreshTokenParam: string(session.RefreshToken),
		},
	})
	if err != nil {
		return provider.Session{}, err
	}

	// the refresh grant doesn't rotate the refresh token
	renewed, err := c.toSession(out.AuthenticationResult, session.RefreshToken)
	if err != nil {
		return provider.Session{}, err
	}

	c.mu.Lock()
	c.session = renewed
	c.mu.Unlock()

	log.Debugf("session renewed, expires at %v", renewed.Expiry)
	return renewed, nil
}

// SignOut drops the held session state.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.session = provider.Session{}
	c.mu.Unlock()
}

// RefreshTokens exchanges a federated refresh token at the hosted-UI
// token endpoint.
func (c *Client) RefreshTokens(ctx context.Context, token creds.RefreshToken) (provider.TokenSet, error) {
	if c.config.Domain == "" {
		return provider.TokenSet{}, errors.New("require Domain for token exchange")
	}

	params := url.Values{}
	params.Add("grant_type", "refresh_token")
	params.Add("client_id", c.config.ClientID)
	params.Add("refresh_token", string(token))

	b := []byte(params.Encode())
	code, body, err := web.Post(strings.TrimSuffix(c.config.Domain, "/")+tokenPath, exchangeTimeout, b,
		web.KV{Key: "Accept", Value: "application/json"},
		web.KV{Key: "Content-Type", Value: "application/x-www-form-urlencoded"},
		web.KV{Key: "Cache-Control", Value: "no-cache"},
	)
	if err != nil {
		return provider.TokenSet{}, err
	}

	if code != http.StatusOK {
		return provider.TokenSet{}, errs.NewHttpError(code, body, "error response from token exchange")
	}

	var responseData map[string]interface{}
	if err := json.Unmarshal(body, &responseData); err != nil {
		return provider.TokenSet{}, err
	}

	return extractFromResponse(responseData)
}

func extractFromResponse(responseData map[string]interface{}) (provider.TokenSet, error) {
	var accessToken string
	var idToken string
	var refreshToken string
	var expiresIn float64

	if acc, ok := responseData["access_token"].(string); ok {
		accessToken = acc
	}

	if idt, ok := responseData["id_token"].(string); ok {
		idToken = idt
	}

	if rft, ok := responseData["refresh_token"].(string); ok {
		refreshToken = rft
	}

	if ei, ok := responseData["expires_in"].(float64); ok {
		expiresIn = ei
	}

	if accessToken != "" && idToken != "" && expiresIn != 0 {
		return provider.TokenSet{
			AccessToken:  creds.AccessToken(accessToken),
			IDToken:      creds.IDToken(idToken),
			RefreshToken: creds.RefreshToken(refreshToken),
			ExpiresIn:    time.Duration(expiresIn) * time.Second,
		}, nil
	}

	return provider.TokenSet{}, errors.Errorf("unable to get data from response, accessToken: %v, idToken: %v, expiresIn: %v",
		accessToken != "", idToken != "", expiresIn != 0)
}

func (c *Client) toSession(result *types.AuthenticationResultType, keep creds.RefreshToken) (provider.Session, error) {
	if result == nil {
		return provider.Session{}, errors.New("authentication result missing from response")
	}

	session := provider.Session{
		IDToken:      creds.IDToken(aws.ToString(result.IdToken)),
		AccessToken:  creds.AccessToken(aws.ToString(result.AccessToken)),
		RefreshToken: creds.RefreshToken(aws.ToString(result.RefreshToken)),
		Expiry:       time.Now().Add(time.Duration(result.ExpiresIn) * time.Second),
	}
	if session.RefreshToken == "" {
		session.RefreshToken = keep
	}

	return session, nil
}
