package auth

import (
	"fmt"
	"time"

	"github.com/marcus/inv/internal/config"
)

// FileStore persists credentials through the config package's auth.json.
type FileStore struct{}

// Load reads the stored token pair. Returns nil, nil when not logged in.
func (FileStore) Load() (*Credentials, error) {
	stored, err := config.LoadAuth()
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}
	expiry, err := time.Parse(time.RFC3339, stored.AccessExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse stored expiry: %w", err)
	}
	return &Credentials{
		AccessToken:     stored.AccessToken,
		AccessExpiresAt: expiry,
		RefreshToken:    stored.RefreshToken,
	}, nil
}

// Save writes the token pair, replacing any previous one wholesale.
func (FileStore) Save(creds *Credentials) error {
	existing, _ := config.LoadAuth()
	stored := &config.AuthCredentials{
		AccessToken:     creds.AccessToken,
		AccessExpiresAt: creds.AccessExpiresAt.Format(time.RFC3339),
		RefreshToken:    creds.RefreshToken,
	}
	if existing != nil {
		stored.Email = existing.Email
		stored.ServerURL = existing.ServerURL
	}
	return config.SaveAuth(stored)
}

// Clear removes the stored tokens.
func (FileStore) Clear() error {
	return config.ClearAuth()
}
