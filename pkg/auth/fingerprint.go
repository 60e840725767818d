package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// FingerprintMissing is the sentinel fingerprint for requests with no
// usable principal identifier. It is a valid log value, never a valid
// principal.
const FingerprintMissing = "missing"

// fingerprintLength is the number of hex characters retained from the
// digest. Short enough to scan in logs, long enough that accidental
// collisions between distinct principals are not a practical concern.
const fingerprintLength = 12

// Fingerprint returns a short non-reversible identifier for the
// principal of an authentication outcome. The same principal always
// yields the same fingerprint, so operators can correlate activity in
// logs and traces without ever recording the identifier itself.
//
// A nil, unauthenticated, or principal-less context yields
// [FingerprintMissing].
func Fingerprint(actx *AuthContext) string {
	if actx == nil || !actx.Authenticated {
		return FingerprintMissing
	}
	return FingerprintPrincipal(actx.PrincipalID)
}

// FingerprintPrincipal fingerprints a raw principal identifier.
// An empty identifier yields [FingerprintMissing].
func FingerprintPrincipal(principalID string) string {
	if principalID == "" {
		return FingerprintMissing
	}
	sum := sha256.Sum256([]byte(principalID))
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// deriveUserID produces the stable pseudonymous user identifier for a
// principal. Unlike the fingerprint it is long enough to serve as a
// storage key, but it is equally non-reversible.
func deriveUserID(principalID string) string {
	sum := sha256.Sum256([]byte(principalID))
	return "u_" + hex.EncodeToString(sum[:])[:16]
}
