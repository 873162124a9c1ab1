// Package client executes authenticated HTTP requests against a single
// base URL. The current identity token is attached as a bearer header,
// and a request rejected with 401 is retried exactly once after a
// forced credential refresh.
package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mousybusiness/cognauth/internal/redact"
	"github.com/mousybusiness/cognauth/pkg/creds"
)

// Param is an ordered key-value pair.
type Param struct {
	Key   string
	Value string
}

// Request describes one logical API call.
type Request struct {
	// Path is appended to the client's base URL, e.g. "/v1/profile".
	Path string
	// Method is one of GET, POST, PUT, DELETE. Defaults to GET.
	Method string
	// Body is sent as-is. The Content-Type defaults to application/json.
	Body []byte
	// Query parameters are appended in the order given.
	Query []Param
	// Headers are set after the defaults and may override them.
	Headers map[string]string
}

// TokenSource supplies bearer credentials for outgoing requests.
// *cache.Cache satisfies this interface.
type TokenSource interface {
	Tokens(ctx context.Context) (creds.IDToken, creds.AccessToken, error)
	ForceRefresh(ctx context.Context) (creds.IDToken, creds.AccessToken, error)
}

type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

type Option func(*Client)

// WithTokenSource makes requests authenticated. Without it every
// request is sent bare, which supports public endpoints.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithHTTPClient overrides the underlying transport. Timeout policy
// belongs to the http.Client, this layer adds none of its own.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("require baseURL")
	}

	c := &Client{
		base: strings.TrimSuffix(baseURL, "/"),
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do sends the request and returns the response body. On a 401 the
// cache is asked for one forced refresh and the identical request is
// resent once; any further rejection is terminal. Other non-2xx
// statuses and transport failures are never retried here.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		// can't tell an expired token from a missing configuration
		// before the first send, so don't retry
		return nil, &AuthError{Err: err}
	}

	status, body, err := c.send(ctx, req, token)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if isSuccess(status) {
		return body, nil
	}
	if status != http.StatusUnauthorized || c.tokens == nil {
		return nil, &HTTPError{StatusCode: status, Body: body}
	}

	// the provider rejected the credential, recover once
	log.Debugf("unauthorized response for %v %v, forcing token refresh", req.Method, req.Path)
	fresh, _, rerr := c.tokens.ForceRefresh(ctx)
	if rerr != nil {
		log.Warnf("forced refresh failed: %v", rerr)
		return nil, &HTTPError{StatusCode: status, Body: body}
	}

	status, body, err = c.send(ctx, req, fresh)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	if isSuccess(status) {
		return body, nil
	}
	return nil, &HTTPError{StatusCode: status, Body: body}
}

func (c *Client) bearer(ctx context.Context) (creds.IDToken, error) {
	if c.tokens == nil {
		return "", nil
	}
	id, _, err := c.tokens.Tokens(ctx)
	return id, err
}

func (c *Client) send(ctx context.Context, r Request, token creds.IDToken) (int, []byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var reqBody io.Reader
	if r.Body != nil {
		reqBody = bytes.NewReader(r.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.url(r), reqBody)
	if err != nil {
		return 0, nil, errors.Wrap(err, "couldn't build request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+string(token))
	}

	log.WithFields(log.Fields{
		"method":  method,
		"url":     httpReq.URL.String(),
		"headers": redact.Headers(httpReq.Header),
		"body":    redact.Body(r.Body),
	}).Debug("sending request")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, errors.Wrap(err, "couldn't read response body")
	}

	log.WithFields(log.Fields{
		"method": method,
		"url":    httpReq.URL.String(),
		"status": resp.StatusCode,
		"body":   redact.Body(body),
	}).Debug("received response")

	return resp.StatusCode, body, nil
}

func (c *Client) url(r Request) string {
	u := c.base + r.Path
	if len(r.Query) == 0 {
		return u
	}

	var sb strings.Builder
	sb.WriteString(u)
	for i, p := range r.Query {
		if i == 0 {
			sb.WriteByte('?')
		} else {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(p.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
