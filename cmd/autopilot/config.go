package main

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/rendis/autopilot/internal/engine"
	"github.com/rendis/autopilot/pkg/schema"
)

// Backend names accepted by the backend setting.
const (
	backendAuto   = "auto"
	backendMemory = "memory"
	backendRod    = "rod"
)

// Config holds all autopilot CLI configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// Backend is auto, memory or rod. auto uses the memory backend when the
	// script carries a fixture and a browser otherwise.
	Backend    string `json:"backend"`
	Headless   bool   `json:"headless"`
	BrowserBin string `json:"browser_bin"`
	ProfileDir string `json:"profile_dir"`

	ResolveAttempts int             `json:"resolve_attempts"`
	ResolveDelay    schema.Duration `json:"resolve_delay"`
	PollInterval    schema.Duration `json:"poll_interval"`
	MaxWait         schema.Duration `json:"max_wait"`
	SettleDelay     schema.Duration `json:"settle_delay"`
	TypeDelay       schema.Duration `json:"type_delay"`
	DefaultWait     schema.Duration `json:"default_wait"`

	// Policy is a gateway expression; empty grants every request.
	Policy     string `json:"policy"`
	PolicyLang string `json:"policy_lang"`
}

func defaultConfig() Config {
	d := engine.DefaultConfig()
	return Config{
		LogLevel:        "info",
		LogFormat:       "text",
		Backend:         backendAuto,
		Headless:        true,
		ResolveAttempts: d.Resolve.Attempts,
		ResolveDelay:    schema.Duration(d.Resolve.Delay),
		PollInterval:    schema.Duration(d.PollInterval),
		MaxWait:         schema.Duration(d.MaxWait),
		SettleDelay:     schema.Duration(d.SettleDelay),
		TypeDelay:       schema.Duration(d.TypeDelay),
		DefaultWait:     schema.Duration(d.DefaultWaitDelay),
		PolicyLang:      "expr",
	}
}

func autopilotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autopilot"
	}
	return filepath.Join(home, ".autopilot")
}

func settingsPath() string {
	return filepath.Join(autopilotDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *schema.Duration) {
		if v := getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				*dst = schema.Duration(d)
			}
		}
	}
	str("AUTOPILOT_LOG_LEVEL", &cfg.LogLevel)
	str("AUTOPILOT_LOG_FORMAT", &cfg.LogFormat)
	str("AUTOPILOT_BACKEND", &cfg.Backend)
	str("AUTOPILOT_BROWSER_BIN", &cfg.BrowserBin)
	str("AUTOPILOT_PROFILE_DIR", &cfg.ProfileDir)
	str("AUTOPILOT_POLICY", &cfg.Policy)
	str("AUTOPILOT_POLICY_LANG", &cfg.PolicyLang)
	if v := getenv("AUTOPILOT_HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
	if v := getenv("AUTOPILOT_RESOLVE_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ResolveAttempts = n
		}
	}
	dur("AUTOPILOT_RESOLVE_DELAY", &cfg.ResolveDelay)
	dur("AUTOPILOT_POLL_INTERVAL", &cfg.PollInterval)
	dur("AUTOPILOT_MAX_WAIT", &cfg.MaxWait)
	dur("AUTOPILOT_SETTLE_DELAY", &cfg.SettleDelay)
	dur("AUTOPILOT_TYPE_DELAY", &cfg.TypeDelay)
	dur("AUTOPILOT_DEFAULT_WAIT", &cfg.DefaultWait)

	return cfg
}

// engineConfig maps the CLI settings onto the execution core's knobs.
// A zero delay from the settings disables the pause rather than restoring
// the engine default.
func (c Config) engineConfig() engine.Config {
	disableIfZero := func(d schema.Duration) time.Duration {
		if d == 0 {
			return -1
		}
		return d.Std()
	}
	return engine.Config{
		Resolve: engine.RetryPolicy{
			Attempts: c.ResolveAttempts,
			Delay:    c.ResolveDelay.Std(),
			Backoff:  engine.BackoffConstant,
		},
		PollInterval:     c.PollInterval.Std(),
		MaxWait:          c.MaxWait.Std(),
		SettleDelay:      disableIfZero(c.SettleDelay),
		TypeDelay:        disableIfZero(c.TypeDelay),
		DefaultWaitDelay: c.DefaultWait.Std(),
	}
}
