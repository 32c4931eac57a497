package linkedin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// DefaultTokenURL is LinkedIn's OAuth token endpoint.
const DefaultTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"

// refreshTimeout bounds a shared token exchange independently of the callers
// waiting on it.
const refreshTimeout = 30 * time.Second

// ErrRefreshUnavailable is returned when a refresh is requested without a
// refresh token or client id.
var ErrRefreshUnavailable = errors.New("linkedin refresh token or client id not configured")

// CredentialsConfig seeds the credential state.
type CredentialsConfig struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client
}

// snapshot is an immutable view of the credential state. A new snapshot is
// swapped in whenever the token changes, which drops the cached author.
type snapshot struct {
	accessToken  string
	refreshToken string
	author       string
}

// Credentials owns the process-wide LinkedIn access token, refresh token and
// cached author URN. Reads are lock-free; refresh-and-swap is serialized.
type Credentials struct {
	current atomic.Pointer[snapshot]

	mu    sync.Mutex
	group singleflight.Group

	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *slog.Logger

	refreshes atomic.Int64
}

// NewCredentials creates the credential state from cfg.
func NewCredentials(cfg CredentialsConfig, logger *slog.Logger) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Credentials{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logger,
	}
	c.current.Store(&snapshot{accessToken: cfg.AccessToken, refreshToken: cfg.RefreshToken})
	return c
}

// AccessToken returns the current access token.
func (c *Credentials) AccessToken() string {
	return c.current.Load().accessToken
}

// CanRefresh reports whether a refresh can be attempted.
func (c *Credentials) CanRefresh() bool {
	return c.current.Load().refreshToken != "" && c.oauth.ClientID != ""
}

// Refreshes returns how many successful refreshes have happened.
func (c *Credentials) Refreshes() int64 {
	return c.refreshes.Load()
}

// Author returns the cached author URN bound to token, if any.
func (c *Credentials) Author(token string) (string, bool) {
	s := c.current.Load()
	if s.accessToken != token || s.author == "" {
		return "", false
	}
	return s.author, true
}

// CacheAuthor records urn as the author for token. It is a no-op if the token
// was replaced in the meantime.
func (c *Credentials) CacheAuthor(token, urn string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current.Load()
	if s.accessToken != token {
		return
	}
	next := *s
	next.author = urn
	c.current.Store(&next)
}

// Refresh exchanges the refresh token for a new access token. stale is the
// token the caller saw rejected; if another caller has already replaced it the
// refresh is skipped. Concurrent callers share one exchange, which outlives
// any single caller's ctx; each caller stops waiting when its own ctx is done.
func (c *Credentials) Refresh(ctx context.Context, stale string) error {
	if c.AccessToken() != stale {
		return nil
	}
	if !c.CanRefresh() {
		return ErrRefreshUnavailable
	}

	ch := c.group.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, c.refresh(rctx, stale)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Credentials) refresh(ctx context.Context, stale string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.current.Load()
	if s.accessToken != stale {
		return nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		c.logger.Error("LinkedIn token refresh failed", "error", err)
		return fmt.Errorf("refresh access token: %w", err)
	}

	next := &snapshot{accessToken: tok.AccessToken, refreshToken: s.refreshToken}
	if tok.RefreshToken != "" {
		next.refreshToken = tok.RefreshToken
	}
	c.current.Store(next)
	c.refreshes.Add(1)

	c.logger.Info("LinkedIn access token refreshed", "refresh_token_rotated", next.refreshToken != s.refreshToken)
	return nil
}
