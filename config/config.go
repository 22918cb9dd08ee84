// Package config centralizes loading and validation of control-plane tunables.
//
// Values come from environment variables (a .env file is loaded best-effort),
// falling back to documented defaults. Malformed values produce errors naming
// the offending variable rather than being silently replaced.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ClassLimit is the quota for one route class.
type ClassLimit struct {
	Requests int           `validate:"min=1"`
	Window   time.Duration `validate:"gt=0"`
}

// Config holds every tunable of the admission control plane.
type Config struct {
	// Route-class quotas.
	Login        ClassLimit
	Register     ClassLimit
	MutatingRisk ClassLimit
	Strict       ClassLimit
	Default      ClassLimit

	// Session/device tracking.
	MaxDevicesPerIdentity   int           `validate:"min=1"`
	DeviceWarnThreshold     int           `validate:"min=1,ltefield=MaxDevicesPerIdentity"`
	MaxConcurrentIdentities int           `validate:"min=1"`
	IdleTimeout             time.Duration `validate:"gt=0"`

	// TTL cache.
	DefaultCacheTTL time.Duration `validate:"gt=0"`

	// Ledgers and traffic counters.
	LedgerCapacity int `validate:"min=1"`
	TrafficMaxKeys int `validate:"min=1"`
	TrafficTopN    int `validate:"min=1,ltefield=TrafficMaxKeys"`

	// Background reclamation.
	SweepInterval time.Duration `validate:"gt=0"`
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Login:        ClassLimit{Requests: 8, Window: time.Minute},
		Register:     ClassLimit{Requests: 5, Window: time.Minute},
		MutatingRisk: ClassLimit{Requests: 30, Window: time.Minute},
		Strict:       ClassLimit{Requests: 20, Window: time.Minute},
		Default:      ClassLimit{Requests: 120, Window: time.Minute},

		MaxDevicesPerIdentity:   5,
		DeviceWarnThreshold:     3,
		MaxConcurrentIdentities: 10000,
		IdleTimeout:             30 * time.Minute,

		DefaultCacheTTL: 5 * time.Minute,

		LedgerCapacity: 1000,
		TrafficMaxKeys: 1000,
		TrafficTopN:    100,

		SweepInterval: time.Minute,
	}
}

// Load builds a Config from the environment on top of Default and validates it.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	var err error
	if cfg.Login, err = loadClass("GATE_LOGIN", cfg.Login); err != nil {
		return Config{}, err
	}
	if cfg.Register, err = loadClass("GATE_REGISTER", cfg.Register); err != nil {
		return Config{}, err
	}
	if cfg.MutatingRisk, err = loadClass("GATE_MUTATING_RISK", cfg.MutatingRisk); err != nil {
		return Config{}, err
	}
	if cfg.Strict, err = loadClass("GATE_STRICT", cfg.Strict); err != nil {
		return Config{}, err
	}
	if cfg.Default, err = loadClass("GATE_DEFAULT", cfg.Default); err != nil {
		return Config{}, err
	}

	if cfg.MaxDevicesPerIdentity, err = intEnv("GATE_MAX_DEVICES_PER_IDENTITY", cfg.MaxDevicesPerIdentity); err != nil {
		return Config{}, err
	}
	if cfg.DeviceWarnThreshold, err = intEnv("GATE_DEVICE_WARN_THRESHOLD", cfg.DeviceWarnThreshold); err != nil {
		return Config{}, err
	}
	if cfg.MaxConcurrentIdentities, err = intEnv("GATE_MAX_CONCURRENT_IDENTITIES", cfg.MaxConcurrentIdentities); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = durationEnv("GATE_IDLE_TIMEOUT_SECONDS", cfg.IdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.DefaultCacheTTL, err = durationEnv("GATE_CACHE_TTL_SECONDS", cfg.DefaultCacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.LedgerCapacity, err = intEnv("GATE_LEDGER_CAPACITY", cfg.LedgerCapacity); err != nil {
		return Config{}, err
	}
	if cfg.TrafficMaxKeys, err = intEnv("GATE_TRAFFIC_MAX_KEYS", cfg.TrafficMaxKeys); err != nil {
		return Config{}, err
	}
	if cfg.TrafficTopN, err = intEnv("GATE_TRAFFIC_TOP_N", cfg.TrafficTopN); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("GATE_SWEEP_INTERVAL_SECONDS", cfg.SweepInterval); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the struct-level constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func loadClass(prefix string, def ClassLimit) (ClassLimit, error) {
	requests, err := intEnv(prefix+"_REQUESTS", def.Requests)
	if err != nil {
		return ClassLimit{}, err
	}
	window, err := durationEnv(prefix+"_WINDOW_SECONDS", def.Window)
	if err != nil {
		return ClassLimit{}, err
	}
	return ClassLimit{Requests: requests, Window: window}, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return time.Duration(secs) * time.Second, nil
}
