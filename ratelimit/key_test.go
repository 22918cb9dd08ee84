package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func verifyDemo(token string) (Identity, error) {
	if token == "valid-token" {
		return Identity{ID: "42"}, nil
	}
	return Identity{}, fmt.Errorf("unknown token")
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*http.Request)
		wantKey  string
		wantUser string
	}{
		{
			name: "verified bearer credential",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer valid-token")
			},
			wantKey:  "user:42",
			wantUser: "42",
		},
		{
			name:    "anonymous falls back to remote addr",
			setup:   func(r *http.Request) {},
			wantKey: "ip:10.0.0.5",
		},
		{
			name: "forged credential degrades to address form",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer forged")
			},
			wantKey: "ip:10.0.0.5",
		},
		{
			name: "malformed authorization header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
			},
			wantKey: "ip:10.0.0.5",
		},
		{
			name: "x-forwarded-for wins",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
			},
			wantKey: "ip:203.0.113.9",
		},
		{
			name: "x-real-ip second",
			setup: func(r *http.Request) {
				r.Header.Set("X-Real-IP", "203.0.113.7")
			},
			wantKey: "ip:203.0.113.7",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/risks", http.NoBody)
			req.RemoteAddr = "10.0.0.5:1234"
			tt.setup(req)

			key, identityID := ClientKey(req, verifyDemo)
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
			if identityID != tt.wantUser {
				t.Errorf("identityID = %q, want %q", identityID, tt.wantUser)
			}
		})
	}
}

func TestClientKeyWithoutVerifier(t *testing.T) {
	req := httptest.NewRequest("GET", "/risks", http.NoBody)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("Authorization", "Bearer valid-token")

	key, identityID := ClientKey(req, nil)
	if key != "ip:10.0.0.5" || identityID != "" {
		t.Errorf("ClientKey without verifier = (%q, %q), want address form", key, identityID)
	}
}
