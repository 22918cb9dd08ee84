package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// Identity is the verified principal behind a bearer credential.
type Identity struct {
	ID string
}

// TokenVerifier validates a bearer credential and returns the verified
// identity. Verification is an external capability; the limiter only uses it
// to derive a stable client key. Returning an error degrades the key to the
// source-address form rather than failing the request.
type TokenVerifier func(token string) (Identity, error)

// BearerToken extracts the bearer credential from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(auth, prefix)
	if token == "" {
		return "", false
	}
	return token, true
}

// ClientKey derives the identity unit rate limiting is scoped to:
// "user:<id>" when a valid bearer credential is present, "ip:<addr>"
// otherwise. Claims embedded in an unverifiable credential are never
// trusted, so forged tokens still fall under address-based limiting.
// The returned identityID is empty for anonymous or unverifiable traffic.
func ClientKey(r *http.Request, verify TokenVerifier) (key, identityID string) {
	if verify != nil {
		if token, ok := BearerToken(r); ok {
			if id, err := verify(token); err == nil && id.ID != "" {
				return "user:" + id.ID, id.ID
			}
		}
	}
	return "ip:" + ClientIP(r), ""
}

// ClientIP resolves the source address, honoring X-Forwarded-For and
// X-Real-IP before falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
