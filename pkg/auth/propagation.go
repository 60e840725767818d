package auth

import (
	"net/http"
	"strings"
)

// Header constants for principal propagation across service boundaries.
//
// All custom headers use the "x-mnemora-" prefix to distinguish them
// from standard HTTP headers. Only derived, non-reversible identifiers
// are ever propagated; the raw principal identifier and credentials
// stay on the originating service.
const (
	// HeaderPrincipalUserID carries the derived stable user identifier
	// of the authenticated principal.
	HeaderPrincipalUserID = "x-mnemora-user-id"

	// HeaderPrincipalType carries the principal category (person or
	// service). See [PrincipalType] for valid values.
	HeaderPrincipalType = "x-mnemora-principal-type"

	// HeaderAuthMethod carries the credential branch that authenticated
	// the original request. See [Method] for valid values.
	HeaderAuthMethod = "x-mnemora-auth-method"
)

// bearerPrefix is the standard "Bearer " prefix for authorization tokens.
const bearerPrefix = "Bearer "

// ExtractBearerToken extracts the token from an authorization header value.
// It handles the "Bearer " prefix case-insensitively.
// Returns an empty string if the header is empty or does not have a bearer prefix.
func ExtractBearerToken(authHeader string) string {
	if len(authHeader) <= len(bearerPrefix) {
		return ""
	}
	// Case-insensitive comparison for "Bearer " prefix.
	prefix := authHeader[:len(bearerPrefix)]
	if !strings.EqualFold(prefix, bearerPrefix) {
		return ""
	}
	return authHeader[len(bearerPrefix):]
}

// PropagatingRoundTripper wraps an [http.RoundTripper] to carry the
// authenticated principal to outgoing HTTP requests. It reads the
// [AuthContext] from the request context and adds the derived principal
// headers; when configured with a service-identity pair it also
// attaches the pair so the downstream service's resolver authenticates
// the call on its own.
//
// Example:
//
//	client := &http.Client{
//	    Transport: auth.NewPropagatingRoundTripper(http.DefaultTransport, clientID, clientSecret),
//	}
//	// Requests made with this client carry principal and identity headers.
//	resp, err := client.Do(req.WithContext(ctx))
type PropagatingRoundTripper struct {
	// wrapped is the underlying RoundTripper that performs the actual HTTP call.
	wrapped http.RoundTripper

	// clientID and clientSecret, when both set, are attached as the
	// service-identity pair on every outgoing request.
	clientID     string
	clientSecret Secret
}

// NewPropagatingRoundTripper creates a PropagatingRoundTripper that
// wraps the given transport. If transport is nil, [http.DefaultTransport]
// is used. Pass empty credentials to propagate principal headers only.
func NewPropagatingRoundTripper(transport http.RoundTripper, clientID string, clientSecret Secret) *PropagatingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PropagatingRoundTripper{
		wrapped:      transport,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// RoundTrip executes the HTTP request with principal headers injected
// from the request context. If no auth context is present, only the
// service-identity pair (when configured) is attached.
//
// RoundTrip implements the [http.RoundTripper] interface.
func (t *PropagatingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	actx, ok := AuthContextFromContext(r.Context())
	hasIdentityPair := t.clientID != "" && t.clientSecret.IsSet()
	if (!ok || !actx.Authenticated) && !hasIdentityPair {
		return t.wrapped.RoundTrip(r)
	}

	// Clone the request to avoid mutating the original.
	clone := r.Clone(r.Context())
	if ok && actx.Authenticated {
		clone.Header.Set(HeaderPrincipalUserID, actx.UserID)
		clone.Header.Set(HeaderPrincipalType, string(actx.PrincipalType))
		clone.Header.Set(HeaderAuthMethod, string(actx.Method))
	}
	if hasIdentityPair {
		clone.Header.Set(HeaderServiceClientID, t.clientID)
		clone.Header.Set(HeaderServiceClientSecret, t.clientSecret.Value())
	}

	return t.wrapped.RoundTrip(clone)
}
