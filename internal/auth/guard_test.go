package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/inv/internal/remote"
)

type memStore struct {
	mu    sync.Mutex
	creds *Credentials
}

func (s *memStore) Load() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds, nil
}

func (s *memStore) Save(c *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = c
	return nil
}

func (s *memStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

func (s *memStore) stored() *Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds
}

type fakeRefresher struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (r *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*remote.TokenPair, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return &remote.TokenPair{
		AccessToken:  "fresh-access",
		ExpiresAt:    time.Now().Add(time.Hour).Format(time.RFC3339),
		RefreshToken: "fresh-refresh",
	}, nil
}

func validCreds() *Credentials {
	return &Credentials{
		AccessToken:     "old-access",
		AccessExpiresAt: time.Now().Add(time.Hour),
		RefreshToken:    "old-refresh",
	}
}

func expiredCreds() *Credentials {
	return &Credentials{
		AccessToken:     "old-access",
		AccessExpiresAt: time.Now().Add(-time.Minute),
		RefreshToken:    "old-refresh",
	}
}

func TestConcurrentExpiredCallsShareOneRefresh(t *testing.T) {
	store := &memStore{creds: expiredCreds()}
	refresher := &fakeRefresher{delay: 50 * time.Millisecond}
	guard, err := NewGuard(store, refresher, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	var wg sync.WaitGroup
	var calls atomic.Int32
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- guard.Do(context.Background(), func(token string) error {
				calls.Add(1)
				if token != "fresh-access" {
					return fmt.Errorf("stale token: %s", token)
				}
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Do: %v", err)
		}
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("refresh network calls: got %d, want 1", n)
	}
	if n := calls.Load(); n != 10 {
		t.Errorf("call invocations: got %d, want 10", n)
	}
	if guard.State() != StateValid {
		t.Errorf("state: got %s, want %s", guard.State(), StateValid)
	}
}

func TestServerRejectReplaysOnce(t *testing.T) {
	store := &memStore{creds: validCreds()}
	refresher := &fakeRefresher{}
	guard, err := NewGuard(store, refresher, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	attempts := 0
	err = guard.Do(context.Background(), func(token string) error {
		attempts++
		if attempts == 1 {
			// Clock said valid but the server disagrees (revoked early).
			return fmt.Errorf("%w: token revoked", remote.ErrUnauthorized)
		}
		if token != "fresh-access" {
			t.Errorf("replay token: got %s, want fresh-access", token)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts: got %d, want 2", attempts)
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("refreshes: got %d, want 1", n)
	}

	// Replay is exactly once: a second rejection surfaces as-is.
	err = guard.Do(context.Background(), func(token string) error {
		return fmt.Errorf("%w: still no", remote.ErrUnauthorized)
	})
	if !errors.Is(err, remote.ErrUnauthorized) {
		t.Errorf("persistent rejection: got %v, want ErrUnauthorized", err)
	}
	if n := refresher.calls.Load(); n != 2 {
		t.Errorf("refreshes: got %d, want 2", n)
	}
}

func TestInvalidGrantIsTerminal(t *testing.T) {
	store := &memStore{creds: expiredCreds()}
	refresher := &fakeRefresher{err: fmt.Errorf("%w: revoked", remote.ErrInvalidGrant)}

	var expiredSignals atomic.Int32
	guard, err := NewGuard(store, refresher, func() { expiredSignals.Add(1) })
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	err = guard.Do(context.Background(), func(token string) error { return nil })
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got %v, want ErrSessionExpired", err)
	}

	if guard.State() != StateInvalid {
		t.Errorf("state: got %s, want %s", guard.State(), StateInvalid)
	}
	if store.stored() != nil {
		t.Error("stored credentials should be cleared")
	}

	// Terminal: subsequent calls fail immediately, no more refresh attempts
	// and no repeated signal.
	err = guard.Do(context.Background(), func(token string) error { return nil })
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("second Do: got %v, want ErrSessionExpired", err)
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("refresh attempts: got %d, want 1", n)
	}
	if n := expiredSignals.Load(); n != 1 {
		t.Errorf("expired signals: got %d, want 1", n)
	}
}

func TestTransientRefreshFailureKeepsTokens(t *testing.T) {
	store := &memStore{creds: expiredCreds()}
	refresher := &fakeRefresher{err: errors.New("connection refused")}
	guard, err := NewGuard(store, refresher, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}

	err = guard.Do(context.Background(), func(token string) error { return nil })
	if err == nil || errors.Is(err, ErrSessionExpired) {
		t.Fatalf("got %v, want transient refresh error", err)
	}

	if guard.State() != StateExpired {
		t.Errorf("state: got %s, want %s", guard.State(), StateExpired)
	}
	if store.stored() == nil {
		t.Fatal("tokens must survive a transient refresh failure")
	}

	// Once the network is back the same refresh token succeeds.
	refresher.err = nil
	err = guard.Do(context.Background(), func(token string) error {
		if token != "fresh-access" {
			t.Errorf("token: got %s, want fresh-access", token)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	if guard.State() != StateValid {
		t.Errorf("state: got %s, want %s", guard.State(), StateValid)
	}
}

func TestLoginInstallsFreshCredentials(t *testing.T) {
	store := &memStore{}
	guard, err := NewGuard(store, &fakeRefresher{}, nil)
	if err != nil {
		t.Fatalf("new guard: %v", err)
	}
	if guard.State() != StateInvalid {
		t.Fatalf("state without credentials: got %s, want %s", guard.State(), StateInvalid)
	}

	if err := guard.SetCredentials(validCreds()); err != nil {
		t.Fatalf("set credentials: %v", err)
	}
	if guard.State() != StateValid {
		t.Errorf("state: got %s, want %s", guard.State(), StateValid)
	}

	err = guard.Do(context.Background(), func(token string) error {
		if token != "old-access" {
			t.Errorf("token: got %s, want old-access", token)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
}
