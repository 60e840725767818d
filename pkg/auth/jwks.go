package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	merr "github.com/mnemora/mnemora-core/pkg/errors"
)

// DefaultKeyCacheTTL is how long a fetched keyset is served from memory
// before being refreshed from the team-domain certs endpoint.
const DefaultKeyCacheTTL = 10 * time.Minute

// maxKeysetResponseSize caps the certs endpoint response body (1 MB) to
// prevent resource exhaustion from a misbehaving or hostile upstream.
const maxKeysetResponseSize = 1 << 20

// certsPath is the well-known path under the team domain where the
// identity proxy publishes its current signing keys.
const certsPath = "/cdn-cgi/access/certs"

// HTTPClient abstracts the HTTP client used for fetching key material.
// This allows callers to provide custom clients with specific timeouts,
// transport settings, or middleware. The standard [http.Client] satisfies
// this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// keysetEntry is one immutable cache generation: the full key map and
// its validity window. Entries are replaced wholesale, never mutated,
// so readers holding a snapshot never observe a half-updated keyset.
type keysetEntry struct {
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	expiresAt time.Time
}

// KeysetCache fetches and caches the set of public verification keys
// published at the team domain's certs endpoint. It is the process-wide
// key material store shared by every token verification.
//
// Reads are lock-free in the common case: a non-expired entry is
// returned without I/O. Cache misses — whether from expiry or a forced
// refresh — collapse into a single in-flight fetch shared by all
// concurrent callers, and the in-flight slot is cleared when the fetch
// completes, successfully or not.
//
// KeysetCache is safe for concurrent use by multiple goroutines.
type KeysetCache struct {
	certsURL string
	ttl      time.Duration
	client   HTTPClient

	group singleflight.Group

	mu    sync.RWMutex
	entry *keysetEntry
}

// NewKeysetCache creates a key material cache for the given team domain
// (e.g. "example.cloudflareaccess.com"). A bare domain is addressed
// over HTTPS; a domain carrying an explicit scheme is used as-is. The
// TTL defaults to [DefaultKeyCacheTTL] when zero; the HTTP client
// defaults to a client with a 10-second timeout when nil.
//
// A missing team domain is a configuration error, reported with code
// [merr.CodeInternalConfiguration] — distinct from a fetch failure.
func NewKeysetCache(teamDomain string, ttl time.Duration, client HTTPClient) (*KeysetCache, error) {
	if teamDomain == "" {
		return nil, merr.New(merr.CodeInternalConfiguration,
			"auth: team domain is required for key material fetching")
	}
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeysetCache{
		certsURL: teamDomainBase(teamDomain) + certsPath,
		ttl:      ttl,
		client:   client,
	}, nil
}

// teamDomainBase normalizes a team domain into a base URL.
func teamDomainBase(teamDomain string) string {
	if strings.Contains(teamDomain, "://") {
		return strings.TrimSuffix(teamDomain, "/")
	}
	return "https://" + teamDomain
}

// Keys returns the current keyset, keyed by key id. When a non-expired
// cache entry exists and forceRefresh is false, it is returned
// immediately with no I/O. Otherwise the keyset is fetched from the
// certs endpoint; concurrent callers share one fetch.
//
// The returned map is a shared snapshot — callers must treat it as
// read-only.
//
// A fetch failure (transport error, non-200 status, unparsable body, or
// a response with no usable keys) is returned to the caller; the cache
// never silently serves stale or empty key material.
func (c *KeysetCache) Keys(ctx context.Context, forceRefresh bool) (map[string]*rsa.PublicKey, error) {
	if !forceRefresh {
		c.mu.RLock()
		entry := c.entry
		c.mu.RUnlock()
		if entry != nil && time.Now().Before(entry.expiresAt) {
			return entry.keys, nil
		}
	}

	result, err, _ := c.group.Do("keyset", func() (any, error) {
		keys, err := c.fetch(ctx)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		c.mu.Lock()
		c.entry = &keysetEntry{
			keys:      keys,
			fetchedAt: now,
			expiresAt: now.Add(c.ttl),
		}
		c.mu.Unlock()
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]*rsa.PublicKey), nil
}

// jwksResponse represents the JSON structure of the certs endpoint
// response. Only the keys list is consumed; the endpoint's PEM
// convenience fields are ignored.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single published key. Only RSA fields are
// included; the verifier accepts a single RSA algorithm, so other key
// types in the response are skipped.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// fetch performs one GET against the certs endpoint and reconstructs
// the key map. The request carries the caller's context so a hung
// upstream cannot outlive the caller's deadline.
func (c *KeysetCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.certsURL, nil)
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeInternal, "auth: failed to create keyset request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeUnavailableDependency, "auth: keyset fetch failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, merr.Newf(merr.CodeUnavailableDependency,
			"auth: keyset endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeysetResponseSize))
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeUnavailableDependency, "auth: failed to read keyset response")
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, merr.Wrap(err, merr.CodeUnavailableDependency, "auth: failed to parse keyset JSON")
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" || k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue // Skip malformed keys.
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, merr.New(merr.CodeUnavailableDependency,
			"auth: keyset response contains no usable keys")
	}
	return keys, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nEncoded, eEncoded string) (*rsa.PublicKey, error) {
	nBytes, err := DecodeBase64URL(nEncoded)
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeValidationFormat, "auth: failed to decode RSA modulus")
	}
	eBytes, err := DecodeBase64URL(eEncoded)
	if err != nil {
		return nil, merr.Wrap(err, merr.CodeValidationFormat, "auth: failed to decode RSA exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(new(big.Int).SetBytes(eBytes).Int64()),
	}, nil
}
