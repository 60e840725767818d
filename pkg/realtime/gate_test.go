package realtime

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora-core/pkg/auth"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const gateTestSecret = "legacy-shared-secret"

// gateTestServer starts an httptest server fronting a gate with a
// token-mode resolver and the given message handler.
func gateTestServer(t *testing.T, handler MessageHandler) (*httptest.Server, *Gate) {
	t.Helper()
	resolver, err := auth.NewResolver(auth.ResolverConfig{
		Mode:               auth.ModeToken,
		LegacySharedSecret: auth.Secret(gateTestSecret),
	}, nil)
	require.NoError(t, err)

	gate := NewGate(resolver, handler, nil)
	srv := httptest.NewServer(gate)
	t.Cleanup(srv.Close)
	return srv, gate
}

// gateTestDial opens an authenticated client connection via the upgrade
// query parameter.
func gateTestDial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, srv.URL+"?token="+gateTestSecret, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// gateTestExpectPong sends a ping and requires a pong back, proving the
// connection is still alive and processing frames.
func gateTestExpectPong(t *testing.T, ctx context.Context, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, wsjson.Write(ctx, conn, Envelope{Type: MessageTypePing}))
	var env Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	require.Equal(t, MessageTypePong, env.Type)
}

// ---------------------------------------------------------------------------
// Upgrade authentication
// ---------------------------------------------------------------------------

func TestGate_DeniedUpgradeClosesWithPolicyViolation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, gate := gateTestServer(t, nil)

	// The handshake itself succeeds: denial is delivered as a proper
	// WebSocket close, not an HTTP error.
	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
	assert.Equal(t, 0, gate.Registry().Len())
}

func TestGate_WrongCredentialDenied(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := gateTestServer(t, nil)

	conn, _, err := websocket.Dial(ctx, srv.URL+"?token=wrong", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))
}

func TestGate_QueryTokenAdmitsSession(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, gate := gateTestServer(t, nil)
	conn := gateTestDial(t, ctx, srv)

	gateTestExpectPong(t, ctx, conn)
	assert.Equal(t, 1, gate.Registry().Len())
}

func TestGate_SessionRemovedOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, gate := gateTestServer(t, nil)
	conn := gateTestDial(t, ctx, srv)
	gateTestExpectPong(t, ctx, conn)
	require.Equal(t, 1, gate.Registry().Len())

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool {
		return gate.Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// ---------------------------------------------------------------------------
// Line protocol
// ---------------------------------------------------------------------------

func TestGate_MalformedPayloadIgnored(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := gateTestServer(t, nil)
	conn := gateTestDial(t, ctx, srv)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{this is not json")))

	// The connection survives and keeps answering pings.
	gateTestExpectPong(t, ctx, conn)
}

func TestGate_UnknownTypeIgnored(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := gateTestServer(t, nil)
	conn := gateTestDial(t, ctx, srv)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"dance"}`)))
	gateTestExpectPong(t, ctx, conn)
}

func TestGate_TypingProducesNoResponse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := gateTestServer(t, nil)
	conn := gateTestDial(t, ctx, srv)

	require.NoError(t, wsjson.Write(ctx, conn, Envelope{Type: MessageTypeTyping}))

	// The next inbound frame is the pong, not a response to the typing
	// indicator.
	gateTestExpectPong(t, ctx, conn)
}

func TestGate_MessageDelegatesToHandler(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	echo := MessageHandlerFunc(func(_ context.Context, session *Session, text string) (string, error) {
		// The handler sees the authenticated session.
		if session.Auth() == nil || !session.Auth().Authenticated {
			return "", fmt.Errorf("handler reached without authentication")
		}
		return "echo: " + text, nil
	})

	srv, _ := gateTestServer(t, echo)
	conn := gateTestDial(t, ctx, srv)

	require.NoError(t, wsjson.Write(ctx, conn, Envelope{Type: MessageTypeMessage, Text: "hello"}))

	var env Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, MessageTypeMessage, env.Type)
	assert.Equal(t, "echo: hello", env.Text)
}

func TestGate_HandlerFailureSendsErrorEnvelope(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	failing := MessageHandlerFunc(func(context.Context, *Session, string) (string, error) {
		return "", fmt.Errorf("store unavailable")
	})

	srv, _ := gateTestServer(t, failing)
	conn := gateTestDial(t, ctx, srv)

	require.NoError(t, wsjson.Write(ctx, conn, Envelope{Type: MessageTypeMessage, Text: "hello"}))

	var env Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	assert.Equal(t, MessageTypeError, env.Type)
	// The client sees a generic description, not the internal error.
	assert.NotContains(t, env.Text, "store unavailable")

	// The connection stays open after a handler failure.
	gateTestExpectPong(t, ctx, conn)
}

func TestGate_NilHandlerIgnoresMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, _ := gateTestServer(t, nil)
	conn := gateTestDial(t, ctx, srv)

	require.NoError(t, wsjson.Write(ctx, conn, Envelope{Type: MessageTypeMessage, Text: "hello"}))
	gateTestExpectPong(t, ctx, conn)
}
