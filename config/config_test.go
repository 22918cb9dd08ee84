package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed validation: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATE_LOGIN_REQUESTS", "3")
	t.Setenv("GATE_LOGIN_WINDOW_SECONDS", "30")
	t.Setenv("GATE_MAX_DEVICES_PER_IDENTITY", "4")
	t.Setenv("GATE_IDLE_TIMEOUT_SECONDS", "600")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Login.Requests != 3 {
		t.Errorf("Login.Requests = %d, want 3", cfg.Login.Requests)
	}
	if cfg.Login.Window != 30*time.Second {
		t.Errorf("Login.Window = %v, want 30s", cfg.Login.Window)
	}
	if cfg.MaxDevicesPerIdentity != 4 {
		t.Errorf("MaxDevicesPerIdentity = %d, want 4", cfg.MaxDevicesPerIdentity)
	}
	if cfg.IdleTimeout != 10*time.Minute {
		t.Errorf("IdleTimeout = %v, want 10m", cfg.IdleTimeout)
	}
	// Untouched values keep their defaults.
	if cfg.Register.Requests != Default().Register.Requests {
		t.Errorf("Register.Requests = %d, want default %d", cfg.Register.Requests, Default().Register.Requests)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		envKey  string
		envVal  string
		wantSub string
	}{
		{
			name:    "malformed int names the variable",
			envKey:  "GATE_LOGIN_REQUESTS",
			envVal:  "abc",
			wantSub: "GATE_LOGIN_REQUESTS",
		},
		{
			name:    "malformed duration names the variable",
			envKey:  "GATE_SWEEP_INTERVAL_SECONDS",
			envVal:  "soon",
			wantSub: "GATE_SWEEP_INTERVAL_SECONDS",
		},
		{
			name:    "out of range value fails validation",
			envKey:  "GATE_LEDGER_CAPACITY",
			envVal:  "0",
			wantSub: "invalid config",
		},
		{
			name:    "warn threshold above device cap fails validation",
			envKey:  "GATE_DEVICE_WARN_THRESHOLD",
			envVal:  "50",
			wantSub: "invalid config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.envKey, tt.envVal)
			_, err := Load()
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}
