// Package auth provides request authentication for services running on the
// Mnemora memory platform. It resolves every inbound request to a single
// [AuthContext] — either an authenticated principal or a denial with a
// status code — and is the only trust gate the rest of the platform uses.
//
// # Operating Modes
//
// A deployment runs in one of three modes (see [Mode]):
//
//   - access: requests must carry a signed access token issued by the
//     team's identity proxy. Fails closed when the issuer configuration
//     is incomplete.
//   - token: requests authenticate with a pre-shared legacy credential
//     (Authorization bearer or, for upgrade requests, a query parameter).
//   - hybrid: access-token verification is tried first; the legacy
//     credential remains available as a fallback when no token candidate
//     is present.
//
// Independent of the mode, a service-identity header pair (client id +
// client secret) is always honored first as an operational bypass for
// machine-to-machine callers.
//
// # Fail-Closed Semantics
//
// Every error path denies. Missing server-side configuration is reported
// as status 500 so operators can alert on it separately from client
// mistakes (401 missing/invalid credential, 403 rejected credential).
// A candidate token that fails verification is a hard stop: no further
// credential source is consulted.
//
// # Key Material
//
// Access tokens are verified against the team's published signing keys,
// fetched from the team-domain certs endpoint and cached with a TTL by
// [KeysetCache]. Concurrent cache misses collapse into a single fetch,
// and an unknown key id triggers exactly one forced refresh to absorb
// key rotation without turning verification into a retry storm.
//
// # Observability
//
// Resolution outcomes are logged with mode, method and reason — never
// with credential material. [Fingerprint] derives a short, non-reversible
// correlation id from the resolved principal for trace headers and logs.
package auth
