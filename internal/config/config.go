package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL               string `json:"url"`
	Interval          string `json:"interval,omitempty"`            // duration string, default "5m"
	BatchSize         int    `json:"batch_size,omitempty"`          // default 100
	OnUpdateOfDeleted string `json:"on_update_of_deleted,omitempty"` // "drop" (default) or "dead_letter"
}

// Config is the global inv config stored at ~/.config/inv/config.json.
type Config struct {
	DeviceID string     `json:"device_id,omitempty"`
	Sync     SyncConfig `json:"sync"`
}

// AuthCredentials stores the token pair at ~/.config/inv/auth.json.
// Replaced wholesale on every successful refresh.
type AuthCredentials struct {
	AccessToken     string `json:"access_token"`
	AccessExpiresAt string `json:"access_expires_at"` // RFC3339
	RefreshToken    string `json:"refresh_token"`
	Email           string `json:"email,omitempty"`
	ServerURL       string `json:"server_url,omitempty"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/inv, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "inv")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/inv/config.json.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config to ~/.config/inv/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads the stored token pair from ~/.config/inv/auth.json.
// Returns nil, nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes the token pair to ~/.config/inv/auth.json (0600 perms).
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the inventory server URL.
// Priority: INV_SERVER_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("INV_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// IsAuthenticated returns true if a token pair is stored.
func IsAuthenticated() bool {
	creds, err := LoadAuth()
	return err == nil && creds != nil && creds.RefreshToken != ""
}

// GetDeviceID returns the installation's device ID, generating and persisting
// one on first use.
func GetDeviceID() (string, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return "", err
	}
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	cfg.DeviceID = uuid.NewString()
	if err := SaveConfig(cfg); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return cfg.DeviceID, nil
}

// GetSyncInterval returns the periodic sync interval.
// Priority: INV_SYNC_INTERVAL env > config.json sync.interval > 5m
func GetSyncInterval() time.Duration {
	if v := os.Getenv("INV_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Interval != "" {
		if d, err := time.ParseDuration(cfg.Sync.Interval); err == nil {
			return d
		}
	}
	return 5 * time.Minute
}

// GetSyncBatchSize returns how many outbox entries a push batch drains at once.
func GetSyncBatchSize() int {
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.BatchSize > 0 {
		return cfg.Sync.BatchSize
	}
	return 100
}

// GetUpdateOfDeletedPolicy returns the conflict policy for a local update that
// races a remote delete: "drop" discards the local edit, "dead_letter" parks
// the entry for manual review.
func GetUpdateOfDeletedPolicy() string {
	if v := os.Getenv("INV_ON_UPDATE_OF_DELETED"); v == "drop" || v == "dead_letter" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && (cfg.Sync.OnUpdateOfDeleted == "drop" || cfg.Sync.OnUpdateOfDeleted == "dead_letter") {
		return cfg.Sync.OnUpdateOfDeleted
	}
	return "drop"
}
