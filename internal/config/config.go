// Package config holds the process-wide viper configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/untoldecay/kira/internal/debug"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// startup. Precedence: project .kira/config.yaml (walking up from the
// working directory) > ~/.config/kira/config.yaml > ~/.kira/config.yaml.
// Environment variables with the KIRA_ prefix override everything.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// Walk up from CWD so commands work from vault subdirectories.
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".kira", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "kira", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".kira", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// KIRA_VAULT_PATH maps to "vault.path", and so on.
	v.SetEnvPrefix("KIRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		debug.Logf("config: loaded %s", v.ConfigFileUsed())
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("vault.path", "")
	v.SetDefault("vault.tz", "Europe/Brussels")
	v.SetDefault("vault.lock_timeout", "10s")
	v.SetDefault("vault.week_start", "monday")
	v.SetDefault("buffer.grace_period", "5s")
	v.SetDefault("buffer.max_size", 1000)
	v.SetDefault("dedupe.ttl_days", 30)
	v.SetDefault("scheduler.tick", "50ms")
	v.SetDefault("log.level", "info")
	v.SetDefault("json", false)
}

// active returns the singleton, initializing lazily so library consumers
// and tests work without an explicit Initialize call.
func active() *viper.Viper {
	if v == nil {
		if err := Initialize(); err != nil {
			v = viper.New()
			setDefaults(v)
		}
	}
	return v
}

// Reset clears the singleton. Tests use this to re-read the environment.
func Reset() {
	v = nil
}

// VaultPath resolves the vault directory: config value, else the working
// directory when it looks like a vault, else empty.
func VaultPath() string {
	if path := active().GetString("vault.path"); path != "" {
		return path
	}
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			if _, err := os.Stat(filepath.Join(dir, ".kira")); err == nil {
				return dir
			}
		}
	}
	return ""
}

// Timezone loads the configured vault timezone.
func Timezone() (*time.Location, error) {
	name := active().GetString("vault.tz")
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", name, err)
	}
	return tz, nil
}

// LockTimeout is the per-entity lock acquisition budget.
func LockTimeout() time.Duration {
	return durationOr("vault.lock_timeout", 10*time.Second)
}

// GracePeriod is the event buffer window, clamped to the supported 3-10s
// range when out of bounds (sub-second values pass through for tests).
func GracePeriod() time.Duration {
	d := durationOr("buffer.grace_period", 5*time.Second)
	if d >= time.Second {
		if d < 3*time.Second {
			d = 3 * time.Second
		}
		if d > 10*time.Second {
			d = 10 * time.Second
		}
	}
	return d
}

// MaxBufferSize is the grace buffer's event cap.
func MaxBufferSize() int {
	return active().GetInt("buffer.max_size")
}

// DedupeTTLDays is the retention of the seen-event set.
func DedupeTTLDays() int {
	return active().GetInt("dedupe.ttl_days")
}

// SchedulerTick is the scheduler poll interval.
func SchedulerTick() time.Duration {
	return durationOr("scheduler.tick", 50*time.Millisecond)
}

// WeekStart maps the configured week start day, defaulting to Monday.
func WeekStart() time.Weekday {
	switch strings.ToLower(active().GetString("vault.week_start")) {
	case "sunday":
		return time.Sunday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}

// LogLevel is the zerolog level name.
func LogLevel() string {
	return active().GetString("log.level")
}

// JSON reports whether CLI output should be machine readable.
func JSON() bool {
	return active().GetBool("json")
}

// GetString exposes raw config values for ad-hoc keys.
func GetString(key string) string {
	return active().GetString(key)
}

func durationOr(key string, fallback time.Duration) time.Duration {
	raw := active().GetString(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		debug.Logf("config: bad duration %s=%q, using %s", key, raw, fallback)
		return fallback
	}
	return d
}
