package syncconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/michaelayoade/fieldsync/internal/models"
)

// isolateHome points the config dir at a temp directory so tests never touch
// the real ~/.config/fieldsync.
func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home
}

func TestDefaultsWithoutConfig(t *testing.T) {
	isolateHome(t)
	t.Setenv("FIELDSYNC_SERVER_URL", "")
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "")
	t.Setenv("FIELDSYNC_MAX_RETRIES", "")
	t.Setenv("FIELDSYNC_STRATEGY", "")

	if got := GetServerURL(); got != "http://localhost:8080" {
		t.Errorf("GetServerURL() = %s", got)
	}
	if got := GetSyncInterval(); got != 30*time.Second {
		t.Errorf("GetSyncInterval() = %s", got)
	}
	if got := GetSendTimeout(); got != 10*time.Second {
		t.Errorf("GetSendTimeout() = %s", got)
	}
	if got := GetMaxRetries(); got != models.DefaultMaxRetries {
		t.Errorf("GetMaxRetries() = %d", got)
	}
	if got := GetDefaultStrategy(); got != models.StrategyServerWins {
		t.Errorf("GetDefaultStrategy() = %s", got)
	}
}

func TestEnvOverridesConfig(t *testing.T) {
	isolateHome(t)
	retries := 7
	cfg := &Config{Sync: SyncConfig{
		URL:        "http://filecfg:9000",
		Interval:   "2m",
		MaxRetries: &retries,
		Strategy:   "merge",
	}}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	t.Setenv("FIELDSYNC_SERVER_URL", "http://envcfg:9999")
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "45s")
	t.Setenv("FIELDSYNC_MAX_RETRIES", "1")
	t.Setenv("FIELDSYNC_STRATEGY", "client_wins")

	if got := GetServerURL(); got != "http://envcfg:9999" {
		t.Errorf("GetServerURL() = %s", got)
	}
	if got := GetSyncInterval(); got != 45*time.Second {
		t.Errorf("GetSyncInterval() = %s", got)
	}
	if got := GetMaxRetries(); got != 1 {
		t.Errorf("GetMaxRetries() = %d", got)
	}
	if got := GetDefaultStrategy(); got != models.StrategyClientWins {
		t.Errorf("GetDefaultStrategy() = %s", got)
	}
}

func TestConfigFileValues(t *testing.T) {
	isolateHome(t)
	t.Setenv("FIELDSYNC_SERVER_URL", "")
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "")
	t.Setenv("FIELDSYNC_SEND_TIMEOUT", "")

	cfg := &Config{Sync: SyncConfig{URL: "http://office:8080", Interval: "90s", SendTimeout: "5s"}}
	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	if got := GetServerURL(); got != "http://office:8080" {
		t.Errorf("GetServerURL() = %s", got)
	}
	if got := GetSyncInterval(); got != 90*time.Second {
		t.Errorf("GetSyncInterval() = %s", got)
	}
	if got := GetSendTimeout(); got != 5*time.Second {
		t.Errorf("GetSendTimeout() = %s", got)
	}
}

func TestInvalidEnvValuesFallThrough(t *testing.T) {
	isolateHome(t)
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "soonish")
	t.Setenv("FIELDSYNC_MAX_RETRIES", "-4")
	t.Setenv("FIELDSYNC_STRATEGY", "coin_flip")

	if got := GetSyncInterval(); got != 30*time.Second {
		t.Errorf("GetSyncInterval() = %s, want default for unparseable env", got)
	}
	if got := GetMaxRetries(); got != models.DefaultMaxRetries {
		t.Errorf("GetMaxRetries() = %d, want default for negative env", got)
	}
	if got := GetDefaultStrategy(); got != models.StrategyServerWins {
		t.Errorf("GetDefaultStrategy() = %s, want default for unknown strategy", got)
	}
}

func TestWebSocketURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/v1/sync/ws"},
		{"https://sync.example.com", "wss://sync.example.com/v1/sync/ws"},
		{"http://localhost:8080/", "ws://localhost:8080/v1/sync/ws"},
	}
	for _, c := range cases {
		if got := WebSocketURL(c.in); got != c.want {
			t.Errorf("WebSocketURL(%s) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestDeviceIDPersists(t *testing.T) {
	home := isolateHome(t)

	id, err := GetDeviceID()
	if err != nil {
		t.Fatalf("get device id: %v", err)
	}
	if len(id) != 32 {
		t.Errorf("device id = %q, want 32 hex chars", id)
	}

	again, err := GetDeviceID()
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("second call returned %q, want the persisted %q", again, id)
	}

	if _, err := os.Stat(filepath.Join(home, ".config", "fieldsync", "auth.json")); err != nil {
		t.Errorf("auth.json not written: %v", err)
	}
}

func TestAuthRoundTrip(t *testing.T) {
	isolateHome(t)

	if creds, err := LoadAuth(); err != nil || creds != nil {
		t.Fatalf("LoadAuth on empty dir = %v, %v", creds, err)
	}

	in := &AuthCredentials{APIKey: "sk-test", ServerURL: "http://office:8080", DeviceID: "dev-1"}
	if err := SaveAuth(in); err != nil {
		t.Fatalf("save auth: %v", err)
	}

	out, err := LoadAuth()
	if err != nil {
		t.Fatal(err)
	}
	if out.APIKey != in.APIKey || out.ServerURL != in.ServerURL || out.DeviceID != in.DeviceID {
		t.Errorf("LoadAuth = %+v, want %+v", out, in)
	}
}
