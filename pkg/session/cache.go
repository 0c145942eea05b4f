package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrIncompleteCredential is returned when a credential field is missing.
	// No login is attempted in that case.
	ErrIncompleteCredential = errors.New("incomplete credentials")

	// ErrLoginFailed is returned when the login call failed or returned no session id.
	ErrLoginFailed = errors.New("login failed")
)

// AuthError is returned by Resolve for invalid credentials and failed logins.
type AuthError struct {
	Tenant string
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication for tenant %q: %v", e.Tenant, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// LoginFunc performs the login call and returns the session id.
type LoginFunc func(ctx context.Context, cred Credential) (string, error)

// Config holds the token cache configuration.
type Config struct {
	// Store holds the tokens. Defaults to a MemoryStore.
	Store Store

	// TTL is how long a token is reused. Defaults to DefaultTTL.
	TTL time.Duration

	// Logger defaults to the global logger tagged with component=session.
	Logger *zerolog.Logger

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Cache resolves session tokens per tenant.
//
// Concurrent callers for a tenant without a valid token share one login:
// the first caller starts it and everybody else attaches to the same
// in-flight call. The in-flight entry is removed as soon as the login
// finishes, so a later caller can start a fresh one.
type Cache struct {
	login  LoginFunc
	store  Store
	ttl    time.Duration
	now    func() time.Time
	group  singleflight.Group
	logger zerolog.Logger
}

// NewCache creates a token cache that logs in through login.
func NewCache(login LoginFunc, cfg Config) *Cache {
	if login == nil {
		panic("login func cannot be nil")
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.With().Str("component", "session").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Cache{
		login:  login,
		store:  cfg.Store,
		ttl:    cfg.TTL,
		now:    cfg.Now,
		logger: logger,
	}
}

// TTL returns the configured token lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Resolve returns a session token for the credential's tenant, logging in
// when no valid token is cached. Invalid credentials and failed logins are
// an *AuthError; a caller whose ctx ends while waiting for the login gets
// the context error.
func (c *Cache) Resolve(ctx context.Context, cred Credential) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", &AuthError{Tenant: cred.CompanyDB, Err: err}
	}
	tenant := cred.CompanyDB

	if token, ok := c.cached(ctx, tenant); ok {
		TokenHits.Inc()
		c.logger.Debug().Str("tenant", tenant).Msg("Session token cache hit")
		return token.Value, nil
	}
	TokenMisses.Inc()

	// The login must outlive the caller that happened to start it,
	// other callers may be attached to it.
	loginCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(tenant, func() (interface{}, error) {
		return c.doLogin(loginCtx, cred)
	})

	select {
	case res := <-ch:
		if res.Shared {
			SharedLogins.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", fmt.Errorf("wait for login of tenant %q: %w", tenant, ctx.Err())
	}
}

// Invalidate drops the cached token for tenant, forcing the next Resolve to log in.
func (c *Cache) Invalidate(ctx context.Context, tenant string) error {
	if err := c.store.Delete(ctx, tenant); err != nil {
		return fmt.Errorf("invalidate session for %q: %w", tenant, err)
	}
	c.logger.Debug().Str("tenant", tenant).Msg("Session token invalidated")
	return nil
}

// InvalidateIf drops the tenant's token only while it still holds value, so
// a late rejection of an old session does not discard a newer login. It
// reports whether a token was dropped.
func (c *Cache) InvalidateIf(ctx context.Context, tenant, value string) (bool, error) {
	token, err := c.store.Get(ctx, tenant)
	if errors.Is(err, ErrNoToken) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read session for %q: %w", tenant, err)
	}
	if token.Value != value {
		c.logger.Debug().Str("tenant", tenant).Msg("Session already renewed, keeping token")
		return false, nil
	}
	if err := c.Invalidate(ctx, tenant); err != nil {
		return false, err
	}
	return true, nil
}

// doLogin runs inside the single-flight group, at most once per tenant at a time.
func (c *Cache) doLogin(ctx context.Context, cred Credential) (string, error) {
	tenant := cred.CompanyDB

	// Another login may have completed between the fast path and joining the group.
	if token, ok := c.cached(ctx, tenant); ok {
		return token.Value, nil
	}

	start := c.now()
	value, err := c.login(ctx, cred)
	if err == nil && value == "" {
		err = errors.New("empty session id")
	}
	if err != nil {
		Logins.WithLabelValues("failure").Inc()
		if delErr := c.store.Delete(ctx, tenant); delErr != nil {
			c.logger.Warn().Err(delErr).Str("tenant", tenant).Msg("Failed to drop session token after login failure")
		}
		c.logger.Error().
			Err(err).
			Str("tenant", tenant).
			Str("user", cred.UserName).
			Msg("Service Layer login failed")
		return "", &AuthError{Tenant: tenant, Err: fmt.Errorf("%w: %w", ErrLoginFailed, err)}
	}

	Logins.WithLabelValues("success").Inc()
	token := Token{Value: value, IssuedAt: c.now()}
	if err := c.store.Set(ctx, tenant, token); err != nil {
		// The caller still gets a usable token; only reuse is lost.
		c.logger.Warn().Err(err).Str("tenant", tenant).Msg("Failed to store session token")
	}

	c.logger.Info().
		Str("tenant", tenant).
		Dur("duration", token.IssuedAt.Sub(start)).
		Msg("Service Layer login succeeded")

	return value, nil
}

// cached returns the stored token for tenant and whether it is still valid.
func (c *Cache) cached(ctx context.Context, tenant string) (Token, bool) {
	token, err := c.store.Get(ctx, tenant)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			c.logger.Warn().Err(err).Str("tenant", tenant).Msg("Token store get error")
		}
		return Token{}, false
	}
	return token, token.IsValid(c.now(), c.ttl)
}
