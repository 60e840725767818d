package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Bearer extraction
// ---------------------------------------------------------------------------

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "standard bearer", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "mixed case scheme", header: "BeArEr abc123", want: "abc123"},
		{name: "empty header", header: "", want: ""},
		{name: "scheme only", header: "Bearer ", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "no scheme", header: "abc123", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractBearerToken(tt.header))
		})
	}
}

// ---------------------------------------------------------------------------
// Outbound propagation
// ---------------------------------------------------------------------------

// propagationTestServer records the headers of the last request it served.
func propagationTestServer(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestPropagatingRoundTripper_CarriesPrincipal(t *testing.T) {
	srv, seen := propagationTestServer(t)

	client := &http.Client{Transport: NewPropagatingRoundTripper(nil, "", "")}
	actx := &AuthContext{
		Authenticated: true,
		Method:        MethodAccessJWT,
		PrincipalType: PrincipalTypePerson,
		PrincipalID:   "person@mnemora.test",
		UserID:        deriveUserID("person@mnemora.test"),
	}
	ctx := ContextWithAuthContext(context.Background(), actx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, actx.UserID, seen.Get(HeaderPrincipalUserID))
	assert.Equal(t, string(PrincipalTypePerson), seen.Get(HeaderPrincipalType))
	assert.Equal(t, string(MethodAccessJWT), seen.Get(HeaderAuthMethod))
	// The raw principal identifier never crosses the wire.
	assert.NotContains(t, seen.Values(HeaderPrincipalUserID), "person@mnemora.test")
}

func TestPropagatingRoundTripper_AttachesServiceIdentityPair(t *testing.T) {
	srv, seen := propagationTestServer(t)

	client := &http.Client{
		Transport: NewPropagatingRoundTripper(nil, resolverTestClientID, Secret(resolverTestClientSecret)),
	}

	// No auth context at all: the identity pair still authenticates the
	// outbound hop.
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, resolverTestClientID, seen.Get(HeaderServiceClientID))
	assert.Equal(t, resolverTestClientSecret, seen.Get(HeaderServiceClientSecret))
	assert.Empty(t, seen.Get(HeaderPrincipalUserID))
}

func TestPropagatingRoundTripper_PassthroughWithoutContext(t *testing.T) {
	srv, seen := propagationTestServer(t)

	client := &http.Client{Transport: NewPropagatingRoundTripper(nil, "", "")}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, seen.Get(HeaderPrincipalUserID))
	assert.Empty(t, seen.Get(HeaderServiceClientID))
}

func TestPropagatingRoundTripper_DoesNotMutateOriginal(t *testing.T) {
	srv, _ := propagationTestServer(t)

	client := &http.Client{Transport: NewPropagatingRoundTripper(nil, "", "")}
	actx := &AuthContext{Authenticated: true, PrincipalID: "p", UserID: "u_0000000000000000"}
	ctx := ContextWithAuthContext(context.Background(), actx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Empty(t, req.Header.Get(HeaderPrincipalUserID))
}
