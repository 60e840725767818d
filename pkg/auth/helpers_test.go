package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// Standard claim values used across the auth test suite.
const (
	authTestAudience = "mnemora-backend"
	authTestSubject  = "user-abc-123"
	authTestEmail    = "person@mnemora.test"
	authTestKid      = "key-1"
)

// authTestGenerateRSAKey generates a 2048-bit RSA key pair for testing.
func authTestGenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key pair")
	return key
}

// authTestSignToken creates an RS256-signed compact token with the given
// claims and kid. Fails the test immediately if signing fails.
func authTestSignToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	compact, err := token.SignedString(key)
	require.NoError(t, err, "failed to sign token")
	return compact
}

// authTestClaims returns a claim set that verifies successfully against
// a resolver or verifier built from the given key server.
func authTestClaims(issuer string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuer,
		"aud":   authTestAudience,
		"sub":   authTestSubject,
		"email": authTestEmail,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

// authTestKeyServer serves a JWKS document at the well-known certs path
// and counts how many fetches it received. The published key map can be
// swapped at any time to simulate key rotation.
type authTestKeyServer struct {
	srv  *httptest.Server
	hits atomic.Int32
	keys atomic.Value // map[string]*rsa.PublicKey
}

// newAuthTestKeyServer starts a certs endpoint publishing the given
// keys. The server is closed automatically when the test finishes.
func newAuthTestKeyServer(t *testing.T, keys map[string]*rsa.PublicKey) *authTestKeyServer {
	t.Helper()
	s := &authTestKeyServer{}
	s.setKeys(keys)
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if r.URL.Path != certsPath {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(authTestJWKSDocument(s.currentKeys()))
	}))
	t.Cleanup(s.srv.Close)
	return s
}

// domain returns the server's base URL, usable as a team domain.
func (s *authTestKeyServer) domain() string { return s.srv.URL }

// fetches returns how many requests the certs endpoint has served.
func (s *authTestKeyServer) fetches() int { return int(s.hits.Load()) }

// setKeys swaps the published key map, simulating a key rotation.
func (s *authTestKeyServer) setKeys(keys map[string]*rsa.PublicKey) {
	copied := make(map[string]*rsa.PublicKey, len(keys))
	for kid, pub := range keys {
		copied[kid] = pub
	}
	s.keys.Store(copied)
}

func (s *authTestKeyServer) currentKeys() map[string]*rsa.PublicKey {
	return s.keys.Load().(map[string]*rsa.PublicKey)
}

// authTestJWKSDocument builds the JSON document shape the certs
// endpoint publishes.
func authTestJWKSDocument(keys map[string]*rsa.PublicKey) map[string]any {
	entries := make([]map[string]any, 0, len(keys))
	for kid, pub := range keys {
		entries = append(entries, map[string]any{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return map[string]any{"keys": entries}
}

// authTestVerifier builds a verifier against the given key server with
// the standard test audience.
func authTestVerifier(t *testing.T, srv *authTestKeyServer) *Verifier {
	t.Helper()
	cache, err := NewKeysetCache(srv.domain(), 0, nil)
	require.NoError(t, err)
	verifier, err := NewVerifier(cache, srv.domain(), authTestAudience, 0)
	require.NoError(t, err)
	return verifier
}

// authTestResolver builds a resolver in access mode against the given
// key server. The mutate callback adjusts the configuration before
// construction.
func authTestResolver(t *testing.T, srv *authTestKeyServer, mutate func(*ResolverConfig)) *Resolver {
	t.Helper()
	cfg := ResolverConfig{
		Mode:       ModeAccess,
		TeamDomain: srv.domain(),
		Audience:   authTestAudience,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	resolver, err := NewResolver(cfg, nil)
	require.NoError(t, err)
	return resolver
}
