package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mousybusiness/cognauth/pkg/creds"
)

type fakeTokens struct {
	mu           sync.Mutex
	token        creds.IDToken
	refreshed    creds.IDToken
	tokensErr    error
	refreshErr   error
	refreshCalls int
}

func (f *fakeTokens) Tokens(context.Context) (creds.IDToken, creds.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokensErr != nil {
		return "", "", f.tokensErr
	}
	return f.token, "access", nil
}

func (f *fakeTokens) ForceRefresh(context.Context) (creds.IDToken, creds.AccessToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return "", "", f.refreshErr
	}
	return f.refreshed, "access", nil
}

// recorder counts requests and replays canned statuses in order.
type recorder struct {
	mu       sync.Mutex
	statuses []int
	requests []*http.Request
	bearers  []string
}

func (rec *recorder) handler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.requests = append(rec.requests, r.Clone(context.Background()))
		rec.bearers = append(rec.bearers, r.Header.Get("Authorization"))
		status := http.StatusOK
		if len(rec.statuses) > 0 {
			status = rec.statuses[0]
			rec.statuses = rec.statuses[1:]
		}
		rec.mu.Unlock()

		w.WriteHeader(status)
		if status >= 200 && status < 300 {
			_, _ = w.Write([]byte(body))
		} else {
			_, _ = w.Write([]byte(`{"error":"rejected"}`))
		}
	}
}

func TestDoSuccess(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(`{"ok":true}`))
	defer srv.Close()

	ts := &fakeTokens{token: "id-token"}
	c, err := New(srv.URL, WithTokenSource(ts))
	require.NoError(t, err)

	body, err := c.Do(context.Background(), Request{Path: "/v1/profile"})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	require.Len(t, rec.requests, 1)
	assert.Equal(t, "Bearer id-token", rec.bearers[0])
	assert.Equal(t, http.MethodGet, rec.requests[0].Method)
	assert.Equal(t, "application/json", rec.requests[0].Header.Get("Content-Type"))
}

func TestDoRetriesOnceAfter401(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	srv := httptest.NewServer(rec.handler(`{"ok":true}`))
	defer srv.Close()

	ts := &fakeTokens{token: "stale-token", refreshed: "fresh-token"}
	c, err := New(srv.URL, WithTokenSource(ts))
	require.NoError(t, err)

	body, err := c.Do(context.Background(), Request{Path: "/v1/profile", Method: http.MethodPost, Body: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))

	require.Len(t, rec.requests, 2, "exactly two sends")
	assert.Equal(t, "Bearer stale-token", rec.bearers[0])
	assert.Equal(t, "Bearer fresh-token", rec.bearers[1])
	assert.Equal(t, 1, ts.refreshCalls)
}

func TestDoNoSecondRetry(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	srv := httptest.NewServer(rec.handler(""))
	defer srv.Close()

	ts := &fakeTokens{token: "stale-token", refreshed: "fresh-token"}
	c, err := New(srv.URL, WithTokenSource(ts))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/v1/profile"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Len(t, rec.requests, 2, "no third attempt")
}

func TestDoRefreshFailureSurfacesOriginal(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusUnauthorized}}
	srv := httptest.NewServer(rec.handler(""))
	defer srv.Close()

	ts := &fakeTokens{token: "stale-token", refreshErr: errors.New("session revoked")}
	c, err := New(srv.URL, WithTokenSource(ts))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/v1/profile"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Len(t, rec.requests, 1)
	assert.Equal(t, 1, ts.refreshCalls)
}

func TestDoNonAuthFailureNotRetried(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusInternalServerError}}
	srv := httptest.NewServer(rec.handler(""))
	defer srv.Close()

	ts := &fakeTokens{token: "id-token"}
	c, err := New(srv.URL, WithTokenSource(ts))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/v1/profile"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	assert.Contains(t, string(httpErr.Body), "rejected")
	assert.Len(t, rec.requests, 1)
	assert.Zero(t, ts.refreshCalls)
}

func TestDoTokenFetchFailure(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(""))
	defer srv.Close()

	ts := &fakeTokens{tokensErr: errors.New("no tokens available")}
	c, err := New(srv.URL, WithTokenSource(ts))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/v1/profile"})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Empty(t, rec.requests, "nothing should be sent without a token")
	assert.Zero(t, ts.refreshCalls)
}

func TestDoUnauthenticated(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(`{"public":true}`))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	body, err := c.Do(context.Background(), Request{Path: "/v1/status"})
	require.NoError(t, err)
	assert.Equal(t, `{"public":true}`, string(body))
	require.Len(t, rec.requests, 1)
	assert.Empty(t, rec.bearers[0])
}

func TestDoUnauthenticated401NotRetried(t *testing.T) {
	rec := &recorder{statuses: []int{http.StatusUnauthorized}}
	srv := httptest.NewServer(rec.handler(""))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/v1/status"})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Len(t, rec.requests, 1)
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(base, WithTokenSource(&fakeTokens{token: "id-token"}))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{Path: "/v1/profile"})
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestDoQueryOrderAndHeaders(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler("ok"))
	defer srv.Close()

	c, err := New(srv.URL+"/", WithTokenSource(&fakeTokens{token: "id-token"}))
	require.NoError(t, err)

	_, err = c.Do(context.Background(), Request{
		Path:   "/v1/search",
		Method: http.MethodGet,
		Query:  []Param{{"z", "last first"}, {"a", "second"}},
		Headers: map[string]string{
			"Content-Type": "text/plain",
			"X-Request-Id": "req-1",
		},
	})
	require.NoError(t, err)

	require.Len(t, rec.requests, 1)
	r := rec.requests[0]
	assert.Equal(t, "/v1/search", r.URL.Path)
	assert.Equal(t, "z=last+first&a=second", r.URL.RawQuery)
	assert.Equal(t, "text/plain", r.Header.Get("Content-Type"))
	assert.Equal(t, "req-1", r.Header.Get("X-Request-Id"))
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
