package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives an opaque device identifier from the source address,
// User-Agent, and Accept-Language of a request. It is deterministic and not
// reversible. Collisions are tolerated: two physically different devices may
// coincidentally fingerprint the same.
func Fingerprint(addr, userAgent, acceptLanguage string) string {
	return digest(addr + "|" + userAgent + "|" + acceptLanguage)[:16]
}

// sessionID is deterministic over (identity, address, user agent) so a repeat
// login from the same device and network reuses its slot instead of creating
// a duplicate session.
func sessionID(identityID, addr, userAgent string) string {
	return digest(identityID + "|" + addr + "|" + userAgent)[:32]
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
