// Package engineconfig loads the engine's tunables via viper, mirroring
// internal/config/config.go's three-tier search path and
// singleton-plus-accessor shape: project file, XDG config dir, home
// directory, with environment variables taking precedence over the
// config file and defaults filling in everything else.
package engineconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/prabhask5/goalsync/internal/syncengine"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be
// called once at process startup, mirroring config.Initialize.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Project-local ./.goalsync/config.yaml
	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, ".goalsync", "config.yaml")
		if _, statErr := os.Stat(p); statErr == nil {
			v.SetConfigFile(p)
			configFileSet = true
		}
	}

	// 2. $XDG_CONFIG_HOME/goalsync/config.yaml
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			p := filepath.Join(configDir, "goalsync", "config.yaml")
			if _, statErr := os.Stat(p); statErr == nil {
				v.SetConfigFile(p)
				configFileSet = true
			}
		}
	}

	// 3. ~/.goalsync/config.yaml
	if !configFileSet {
		if home, err := os.UserHomeDir(); err == nil {
			p := filepath.Join(home, ".goalsync", "config.yaml")
			if _, statErr := os.Stat(p); statErr == nil {
				v.SetConfigFile(p)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("GOALSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("user-id", "")
	v.SetDefault("database", defaultDatabasePath())

	v.SetDefault("remote.dsn", "")
	v.SetDefault("remote.ws-url", "")
	v.SetDefault("remote.ws-secret", "")

	// Engine tuning defaults, matching spec §4.4's 1.5-2.0s debounce
	// window, §4.6's 15-minute reconcile fallback, and §4.8's echo/edit
	// protection windows.
	v.SetDefault("engine.push-debounce", "1.75s")
	v.SetDefault("engine.reconcile-interval", "15m")
	v.SetDefault("engine.echo-window", "2s")
	v.SetDefault("engine.edit-ttl", "2m")
	v.SetDefault("engine.delete-animation", "500ms")

	// Retention sweep defaults (spec §9 "SHOULD add"): daily sweep of
	// rows soft-deleted more than 30 days ago.
	v.SetDefault("engine.retention-interval", "24h")
	v.SetDefault("engine.retention-age", "720h")

	// Network monitor defaults (spec §4.3).
	v.SetDefault("engine.probe-url", "")
	v.SetDefault("engine.probe-interval", "5s")
	v.SetDefault("engine.probe-stabilise", "500ms")
	v.SetDefault("engine.offline-override", "")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("engineconfig: read config file: %w", err)
		}
	}
	return nil
}

// ResetForTesting clears the config singleton so Initialize can be
// called again within the same process, mirroring
// config.ResetForTesting. Not safe for concurrent use.
func ResetForTesting() {
	v = nil
}

// ConfigFileUsed returns the path of the config file that was loaded,
// or "" if none was found.
func ConfigFileUsed() string {
	if v == nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func defaultDatabasePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "goalsync.db"
	}
	return filepath.Join(dir, "goalsync", "local.db")
}

func getString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

func getDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// UserID returns the configured user id (env GOALSYNC_USER_ID, config
// key user-id).
func UserID() string {
	return getString("user-id")
}

// DatabasePath returns the local SQLite file path for C1.
func DatabasePath() string {
	return getString("database")
}

// RemoteConfig holds the remote store and realtime channel connection
// settings.
type RemoteConfig struct {
	DSN        string // postgres connection string for internal/remote/postgres
	WSURL      string // ws(s):// base URL for internal/remote/wsrealtime
	WSSecret   string // HMAC secret for channel handshake tokens
	ConfigFile string
}

// Remote returns the remote connection settings.
func Remote() RemoteConfig {
	return RemoteConfig{
		DSN:      getString("remote.dsn"),
		WSURL:    getString("remote.ws-url"),
		WSSecret: getString("remote.ws-secret"),
	}
}

// ProbeConfig holds the network monitor's tunables (spec §4.3).
type ProbeConfig struct {
	URL             string
	Interval        time.Duration
	StabiliseDelay  time.Duration
	OfflineOverride string
}

// Probe returns the network monitor settings.
func Probe() ProbeConfig {
	return ProbeConfig{
		URL:             getString("engine.probe-url"),
		Interval:        getDuration("engine.probe-interval"),
		StabiliseDelay:  getDuration("engine.probe-stabilise"),
		OfflineOverride: getString("engine.offline-override"),
	}
}

// RetentionConfig holds the retention-sweep tunables.
type RetentionConfig struct {
	Interval time.Duration
	Age      time.Duration
}

// Retention returns the retention sweep settings.
func Retention() RetentionConfig {
	return RetentionConfig{
		Interval: getDuration("engine.retention-interval"),
		Age:      getDuration("engine.retention-age"),
	}
}

// EngineConfig assembles a syncengine.Config from the loaded settings.
// DeviceID is left empty; the caller fills it in from internal/device
// once the per-install identity is resolved, since that is runtime
// state rather than something a config file would carry.
func EngineConfig() syncengine.Config {
	retention := Retention()
	return syncengine.Config{
		UserID:            UserID(),
		PushDebounce:      getDuration("engine.push-debounce"),
		ReconcileInterval: getDuration("engine.reconcile-interval"),
		EchoWindow:        getDuration("engine.echo-window"),
		EditTTL:           getDuration("engine.edit-ttl"),
		DeleteAnimation:   getDuration("engine.delete-animation"),
		RetentionInterval: retention.Interval,
		RetentionAge:      retention.Age,
	}
}
