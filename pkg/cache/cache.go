// Package cache owns the current credential state. It decides when a
// cached credential is still usable, serializes concurrent refresh
// attempts down to a single in-flight operation, and persists
// externally obtained credentials across process restarts.
//
// Two credential sources exist, at most one of each: a native session
// held by the identity provider itself, and an external token set
// obtained out-of-band (e.g. a federated sign-in exchange). The
// external source wins while it is usable; a failed external refresh
// demotes to the native session rather than surfacing an error.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mousybusiness/cognauth/pkg/creds"
	"github.com/mousybusiness/cognauth/pkg/provider"
	"github.com/mousybusiness/cognauth/pkg/store"
)

const defaultStoreKey = "credentials"

// maxNativeAttempts bounds the re-derive loop against a provider that
// keeps answering with already-stale sessions.
const maxNativeAttempts = 2

// ErrNoTokens means no usable credential exists after exhausting both
// the external and native sources. Sign in (or set external tokens)
// to recover.
var ErrNoTokens = errors.New("no tokens available")

// record is the serialized form of the external source.
type record struct {
	AccessToken  string    `json:"accessToken"`
	IDToken      string    `json:"idToken"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry"`
}

// refreshHandle is a single-flight future for one refresh operation.
// Every caller that arrives while it is outstanding awaits the same
// resolution; it is replaced, never reused, once its result goes stale.
type refreshHandle struct {
	done    chan struct{}
	session provider.Session
	err     error
}

func newRefreshHandle() *refreshHandle {
	return &refreshHandle{done: make(chan struct{})}
}

func (h *refreshHandle) resolve(session provider.Session, err error) {
	h.session = session
	h.err = err
	close(h.done)
}

func (h *refreshHandle) resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Cache is safe for concurrent use. All reads and writes of the
// current sources and the outstanding refresh handle are serialized
// through its mutex.
type Cache struct {
	provider  provider.Provider
	exchanger provider.Exchanger
	store     store.Store
	key       string
	now       func() time.Time

	mu       sync.Mutex
	external *creds.Credentials
	handle   *refreshHandle
}

type Option func(*Cache)

// WithStoreKey overrides the key the external source is persisted under.
func WithStoreKey(key string) Option {
	return func(c *Cache) { c.key = key }
}

// WithClock overrides the freshness clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New builds a cache around the given collaborators, any of which may
// be nil. The store is read once to restore an external source from a
// previous process; a missing or unreadable record means no external
// source.
func New(p provider.Provider, x provider.Exchanger, s store.Store, opts ...Option) *Cache {
	c := &Cache{
		provider:  p,
		exchanger: x,
		store:     s,
		key:       defaultStoreKey,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.restore()
	return c
}

// Tokens returns the current identity and access tokens, refreshing
// them first if required. A fresh external source is served without
// any network call; a stale one is exchanged and, on failure, demoted
// in favor of the native session. Concurrent callers on a stale cache
// share a single refresh operation.
func (c *Cache) Tokens(ctx context.Context) (creds.IDToken, creds.AccessToken, error) {
	c.mu.Lock()
	if c.external != nil {
		if c.external.Fresh(c.now()) {
			id, access := c.external.IDToken, c.external.AccessToken
			c.mu.Unlock()
			return id, access, nil
		}

		cred, err := c.refreshExternalLocked(ctx)
		if err == nil {
			c.mu.Unlock()
			return cred.IDToken, cred.AccessToken, nil
		}
		c.demoteLocked(err)
	}
	c.mu.Unlock()

	return c.nativeTokens(ctx)
}

// SignIn authenticates the user against the identity provider and
// publishes the freshly authenticated session as the current refresh
// handle, so subsequent Tokens calls reuse it instead of
// re-authenticating. The provider's own error is returned untouched
// on rejected credentials.
func (c *Cache) SignIn(ctx context.Context, username, password string) error {
	c.mu.Lock()
	if c.provider == nil {
		c.mu.Unlock()
		return errors.New("no identity provider configured")
	}
	h := newRefreshHandle()
	c.handle = h
	c.mu.Unlock()

	session, err := c.provider.Authenticate(context.WithoutCancel(ctx), username, password)
	h.resolve(session, err)
	if err != nil {
		c.mu.Lock()
		if c.handle == h {
			c.handle = nil
		}
		c.mu.Unlock()
		return err
	}

	log.Debugf("signed in, session expires at %v", session.Expiry)
	return nil
}

// SetExternalTokens installs or replaces the external source and
// persists it before returning. Subsequent Tokens calls prefer it
// over the native session.
func (c *Cache) SetExternalTokens(access creds.AccessToken, id creds.IDToken, refresh creds.RefreshToken, expiresIn time.Duration) error {
	cred := creds.Credentials{
		AccessToken:  access,
		IDToken:      id,
		RefreshToken: refresh,
		Expiry:       c.now().Add(expiresIn),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.external = &cred
	return c.persistLocked(cred)
}

// Clear signs out: both sources are dropped, any outstanding refresh
// handle is discarded, the persisted record is deleted and the
// provider's local session state is invalidated. Safe to call with no
// active session.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.external = nil
	c.handle = nil

	if c.provider != nil {
		c.provider.SignOut()
	}

	if c.store != nil {
		if err := c.store.Delete(c.key); err != nil && !errors.Is(err, store.ErrItemNotFound) {
			return errors.Wrap(err, "couldn't delete persisted credentials")
		}
	}
	return nil
}

// ForceRefresh re-derives credentials regardless of freshness. Used
// after the server rejects a token the cache still considered fresh.
func (c *Cache) ForceRefresh(ctx context.Context) (creds.IDToken, creds.AccessToken, error) {
	c.mu.Lock()
	if c.external != nil {
		cred, err := c.refreshExternalLocked(ctx)
		if err == nil {
			c.mu.Unlock()
			return cred.IDToken, cred.AccessToken, nil
		}
		c.demoteLocked(err)
	}
	if c.handle != nil && c.handle.resolved() {
		c.handle = nil
	}
	c.mu.Unlock()

	return c.nativeTokens(ctx)
}

// nativeTokens resolves tokens from the provider's session, funnelling
// all concurrent callers through one refresh handle.
func (c *Cache) nativeTokens(ctx context.Context) (creds.IDToken, creds.AccessToken, error) {
	for attempt := 0; attempt < maxNativeAttempts; attempt++ {
		c.mu.Lock()
		h := c.handle
		if h == nil {
			if c.provider == nil {
				c.mu.Unlock()
				return "", "", ErrNoTokens
			}
			h = newRefreshHandle()
			c.handle = h
			// a started refresh runs to completion, callers cannot abort it
			go func(ctx context.Context) {
				session, err := c.provider.CurrentSession(ctx)
				h.resolve(session, err)
			}(context.WithoutCancel(ctx))
		}
		c.mu.Unlock()

		<-h.done

		c.mu.Lock()
		if h.err != nil {
			if c.handle == h {
				c.handle = nil
			}
			c.mu.Unlock()
			return "", "", h.err
		}
		if h.session.Fresh(c.now()) {
			session := h.session
			c.mu.Unlock()
			if session.IDToken == "" || session.AccessToken == "" {
				return "", "", ErrNoTokens
			}
			return session.IDToken, session.AccessToken, nil
		}
		// result went stale while it was cached, re-derive
		if c.handle == h {
			c.handle = nil
		}
		c.mu.Unlock()
	}

	return "", "", ErrNoTokens
}

// refreshExternalLocked exchanges the external refresh token for a new
// token set, replaces the external source and persists it. Callers
// hold c.mu, which also guarantees at most one exchange at a time.
func (c *Cache) refreshExternalLocked(ctx context.Context) (creds.Credentials, error) {
	if c.exchanger == nil {
		return creds.Credentials{}, errors.New("no token exchanger configured")
	}
	if c.external.RefreshToken == "" {
		return creds.Credentials{}, errors.New("external source has no refresh token")
	}

	set, err := c.exchanger.RefreshTokens(context.WithoutCancel(ctx), c.external.RefreshToken)
	if err != nil {
		return creds.Credentials{}, err
	}

	cred := creds.Credentials{
		AccessToken:  set.AccessToken,
		IDToken:      set.IDToken,
		RefreshToken: set.RefreshToken,
		Expiry:       c.now().Add(set.ExpiresIn),
	}
	if cred.RefreshToken == "" {
		// endpoint didn't rotate the refresh token
		cred.RefreshToken = c.external.RefreshToken
	}

	c.external = &cred
	if err := c.persistLocked(cred); err != nil {
		// tokens are good even if the write wasn't, don't lose them
		log.Errorf("couldn't persist refreshed credentials: %v", err)
	}

	log.Debugf("external tokens refreshed, expire at %v", cred.Expiry)
	return cred, nil
}

// demoteLocked discards the external source after a failed refresh so
// the native session can take over.
func (c *Cache) demoteLocked(cause error) {
	log.Warnf("demoting to native session, external token refresh failed: %v", cause)
	c.external = nil
	if c.store != nil {
		if err := c.store.Delete(c.key); err != nil && !errors.Is(err, store.ErrItemNotFound) {
			log.Errorf("couldn't delete persisted credentials: %v", err)
		}
	}
}

func (c *Cache) persistLocked(cred creds.Credentials) error {
	if c.store == nil {
		return nil
	}

	b, err := json.Marshal(record{
		AccessToken:  string(cred.AccessToken),
		IDToken:      string(cred.IDToken),
		RefreshToken: string(cred.RefreshToken),
		Expiry:       cred.Expiry,
	})
	if err != nil {
		return errors.Wrap(err, "couldn't marshal credential record")
	}

	if err := c.store.Save(b, c.key); err != nil {
		return errors.Wrap(err, "couldn't save credential record")
	}
	return nil
}

// restore reads the persisted external source once at construction.
// Anything unusable is treated as no external source.
func (c *Cache) restore() {
	if c.store == nil {
		return
	}

	b, err := c.store.Load(c.key)
	if err != nil {
		if !errors.Is(err, store.ErrItemNotFound) {
			log.Warnf("couldn't restore credentials: %v", err)
		}
		return
	}

	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		log.Warnf("discarding unreadable credential record: %v", err)
		return
	}
	if r.IDToken == "" || r.AccessToken == "" {
		log.Warn("discarding incomplete credential record")
		return
	}

	c.external = &creds.Credentials{
		AccessToken:  creds.AccessToken(r.AccessToken),
		IDToken:      creds.IDToken(r.IDToken),
		RefreshToken: creds.RefreshToken(r.RefreshToken),
		Expiry:       r.Expiry,
	}
	log.Debugf("restored external credentials, expire at %v", r.Expiry)
}
