// Package auth guards outbound authenticated calls against access-token
// expiry. Concurrent callers that hit an expired token collapse into a single
// refresh request; everyone waits on the shared result and replays once.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/marcus/inv/internal/remote"
)

// State is the credential lifecycle state.
type State string

const (
	StateValid      State = "valid"
	StateExpired    State = "expired"
	StateRefreshing State = "refreshing"
	StateInvalid    State = "invalid"
)

// ErrSessionExpired is returned once the refresh token has been revoked.
// Terminal until the user logs in again.
var ErrSessionExpired = errors.New("session expired: re-authentication required")

// tokenSkew refreshes slightly ahead of the wall-clock expiry so a token
// does not expire mid-request.
const tokenSkew = 30 * time.Second

// Credentials is the in-memory access/refresh token pair.
type Credentials struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

// Store persists credentials across restarts.
type Store interface {
	Load() (*Credentials, error)
	Save(*Credentials) error
	Clear() error
}

// Refresher exchanges a refresh token for a new pair. Satisfied by *remote.Client.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*remote.TokenPair, error)
}

// Guard wraps outbound calls with transparent token refresh.
type Guard struct {
	store     Store
	refresher Refresher
	onExpired func()

	group singleflight.Group

	mu           sync.Mutex
	creds        *Credentials
	state        State
	expiredFired bool
}

// NewGuard loads stored credentials and returns a ready guard. onExpired is
// invoked at most once per terminal invalidation; it may be nil.
func NewGuard(store Store, refresher Refresher, onExpired func()) (*Guard, error) {
	creds, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	g := &Guard{store: store, refresher: refresher, onExpired: onExpired}
	if creds == nil || creds.RefreshToken == "" {
		g.state = StateInvalid
	} else {
		g.creds = creds
		g.state = StateValid
	}
	return g, nil
}

// SetCredentials installs a fresh pair (after login) and persists it.
func (g *Guard) SetCredentials(creds *Credentials) error {
	g.mu.Lock()
	g.creds = creds
	g.state = StateValid
	g.expiredFired = false
	g.mu.Unlock()
	return g.store.Save(creds)
}

// State returns the current credential state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Do runs call with a valid access token. If the server rejects the token,
// the guard refreshes (once, shared across concurrent callers) and replays
// the call exactly once.
func (g *Guard) Do(ctx context.Context, call func(token string) error) error {
	token, err := g.token(ctx)
	if err != nil {
		return err
	}

	err = call(token)
	if !errors.Is(err, remote.ErrUnauthorized) {
		return err
	}

	token, rerr := g.refresh(ctx)
	if rerr != nil {
		return rerr
	}
	return call(token)
}

// token returns the current access token, refreshing first when the clock
// says it has already expired.
func (g *Guard) token(ctx context.Context) (string, error) {
	g.mu.Lock()
	if g.state == StateInvalid || g.creds == nil {
		g.mu.Unlock()
		return "", ErrSessionExpired
	}
	if time.Now().Before(g.creds.AccessExpiresAt.Add(-tokenSkew)) {
		token := g.creds.AccessToken
		g.mu.Unlock()
		return token, nil
	}
	g.state = StateExpired
	g.mu.Unlock()

	return g.refresh(ctx)
}

// refresh performs the single-flight token refresh. Concurrent callers share
// one network call and one outcome.
func (g *Guard) refresh(ctx context.Context) (string, error) {
	v, err, _ := g.group.Do("refresh", func() (any, error) {
		g.mu.Lock()
		if g.state == StateInvalid || g.creds == nil {
			g.mu.Unlock()
			return nil, ErrSessionExpired
		}
		refreshToken := g.creds.RefreshToken
		g.state = StateRefreshing
		g.mu.Unlock()

		pair, err := g.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, remote.ErrInvalidGrant) {
				g.invalidate()
				return nil, ErrSessionExpired
			}
			// Transient failure: keep the pair so a later cycle can retry.
			g.mu.Lock()
			g.state = StateExpired
			g.mu.Unlock()
			return nil, fmt.Errorf("refresh credentials: %w", err)
		}

		expiry, err := pair.AccessExpiry()
		if err != nil {
			g.mu.Lock()
			g.state = StateExpired
			g.mu.Unlock()
			return nil, fmt.Errorf("parse token expiry: %w", err)
		}

		creds := &Credentials{
			AccessToken:     pair.AccessToken,
			AccessExpiresAt: expiry,
			RefreshToken:    pair.RefreshToken,
		}

		g.mu.Lock()
		g.creds = creds
		g.state = StateValid
		g.expiredFired = false
		g.mu.Unlock()

		if err := g.store.Save(creds); err != nil {
			slog.Warn("persist refreshed credentials", "err", err)
		}

		slog.Debug("credentials refreshed", "expires_at", expiry)
		return creds.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// invalidate is the terminal transition: tokens cleared, session-expired
// signal fired at most once.
func (g *Guard) invalidate() {
	g.mu.Lock()
	g.creds = nil
	g.state = StateInvalid
	fire := !g.expiredFired
	g.expiredFired = true
	g.mu.Unlock()

	if err := g.store.Clear(); err != nil {
		slog.Warn("clear stored credentials", "err", err)
	}
	if fire && g.onExpired != nil {
		g.onExpired()
	}
}
