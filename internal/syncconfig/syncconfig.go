// Package syncconfig loads engine settings from the user config directory
// with environment overrides.
package syncconfig

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// SyncConfig holds sync tuning settings.
type SyncConfig struct {
	URL            string `json:"url"`
	Interval       string `json:"interval,omitempty"`        // duration string, default "30s"
	MaxRetries     *int   `json:"max_retries,omitempty"`     // nil = default 3
	SendTimeout    string `json:"send_timeout,omitempty"`    // duration string, default "10s"
	ConnectTimeout string `json:"connect_timeout,omitempty"` // duration string, default "10s"
	Strategy       string `json:"strategy,omitempty"`        // default resolution strategy
}

// Config is the global config stored at ~/.config/fieldsync/config.json.
type Config struct {
	Sync SyncConfig `json:"sync"`
}

// AuthCredentials stores authentication state at ~/.config/fieldsync/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	ServerURL string `json:"server_url"`
	DeviceID  string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns ~/.config/fieldsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "fieldsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config from ~/.config/fieldsync/config.json.
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

// SaveConfig writes the global config to ~/.config/fieldsync/config.json.
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

// LoadAuth reads auth credentials from ~/.config/fieldsync/auth.json.
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

// SaveAuth writes auth credentials to ~/.config/fieldsync/auth.json (0600 perms).
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

// GetServerURL returns the sync server URL.
// Priority: FIELDSYNC_SERVER_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("FIELDSYNC_SERVER_URL"); v != "" {
		return v
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// WebSocketURL derives the push-stream endpoint from an HTTP base URL.
func WebSocketURL(serverURL string) string {
	ws := serverURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/v1/sync/ws"
}

// GetAPIKey returns the API key.
// Priority: FIELDSYNC_API_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("FIELDSYNC_API_KEY"); v != "" {
		return v
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// GetDeviceID returns the device ID from auth.json, generating and
// persisting one on first use.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}

	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetSyncInterval returns the periodic sync interval.
// Priority: FIELDSYNC_SYNC_INTERVAL env > config.json > 30s
func GetSyncInterval() time.Duration {
	return durationSetting("FIELDSYNC_SYNC_INTERVAL", func(c *Config) string { return c.Sync.Interval }, 30*time.Second)
}

// GetSendTimeout returns the per-send timeout.
// Priority: FIELDSYNC_SEND_TIMEOUT env > config.json > 10s
func GetSendTimeout() time.Duration {
	return durationSetting("FIELDSYNC_SEND_TIMEOUT", func(c *Config) string { return c.Sync.SendTimeout }, 10*time.Second)
}

// GetConnectTimeout returns the initialize connect timeout.
// Priority: FIELDSYNC_CONNECT_TIMEOUT env > config.json > 10s
func GetConnectTimeout() time.Duration {
	return durationSetting("FIELDSYNC_CONNECT_TIMEOUT", func(c *Config) string { return c.Sync.ConnectTimeout }, 10*time.Second)
}

// GetMaxRetries returns the transient-failure retry bound.
// Priority: FIELDSYNC_MAX_RETRIES env > config.json > 3
func GetMaxRetries() int {
	if v := os.Getenv("FIELDSYNC_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.MaxRetries != nil && *cfg.Sync.MaxRetries >= 0 {
		return *cfg.Sync.MaxRetries
	}
	return models.DefaultMaxRetries
}

// GetDefaultStrategy returns the default conflict resolution strategy.
// Priority: FIELDSYNC_STRATEGY env > config.json > server_wins
func GetDefaultStrategy() models.Strategy {
	if v := os.Getenv("FIELDSYNC_STRATEGY"); v != "" {
		if s := models.Strategy(v); models.ValidStrategy(s) {
			return s
		}
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.Sync.Strategy != "" {
		if s := models.Strategy(cfg.Sync.Strategy); models.ValidStrategy(s) {
			return s
		}
	}
	return models.StrategyServerWins
}

func durationSetting(envKey string, fromConfig func(*Config) string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envKey); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	cfg, err := LoadConfig()
	if err == nil {
		if v := fromConfig(cfg); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				return d
			}
		}
	}
	return fallback
}
