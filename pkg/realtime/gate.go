package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mnemora/mnemora-core/pkg/auth"
)

// tracerName is the OpenTelemetry instrumentation scope for realtime spans.
const tracerName = "github.com/mnemora/mnemora-core/pkg/realtime"

// maxCloseReason caps the close-frame reason. The WebSocket control
// frame payload limit leaves 123 bytes for the reason text.
const maxCloseReason = 123

// MessageHandler consumes inbound chat text from an open session and
// returns the reply to send back. An empty reply sends nothing.
type MessageHandler interface {
	HandleMessage(ctx context.Context, session *Session, text string) (string, error)
}

// MessageHandlerFunc adapts a function to the [MessageHandler] interface.
type MessageHandlerFunc func(ctx context.Context, session *Session, text string) (string, error)

// HandleMessage implements [MessageHandler].
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, session *Session, text string) (string, error) {
	return f(ctx, session, text)
}

// Gate terminates WebSocket upgrade requests for the platform. It
// implements [http.Handler] and is mounted directly on the upgrade
// route.
//
// The gate re-resolves authentication for every upgrade using the same
// [auth.Resolver] as the HTTP surface — it never trusts a prior
// middleware decision, so mounting it with or without [auth.Middleware]
// yields the same trust boundary. Denied upgrades complete the
// WebSocket handshake and then close with [websocket.StatusPolicyViolation]
// (close code 1008) and a short reason.
type Gate struct {
	resolver *auth.Resolver
	handler  MessageHandler
	registry *Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewGate creates an upgrade gate. The handler receives inbound message
// envelopes and may be nil, in which case messages are ignored.
func NewGate(resolver *auth.Resolver, handler MessageHandler, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		resolver: resolver,
		handler:  handler,
		registry: NewRegistry(),
		logger:   logger.With("component", "realtime"),
		tracer:   otel.Tracer(tracerName),
	}
}

// Registry returns the gate's live session registry.
func (g *Gate) Registry() *Registry { return g.registry }

// ServeHTTP performs the upgrade. Authentication runs before the
// handshake so that resolution cost is paid exactly once; the outcome
// is applied immediately after the handshake completes.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := g.tracer.Start(r.Context(), "realtime.Upgrade")
	defer span.End()

	actx := g.resolver.Resolve(ctx, r)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		// Accept has already written its own HTTP error response.
		g.logger.WarnContext(ctx, "upgrade handshake failed", "error", err)
		return
	}

	session := newSession(conn, actx)
	span.SetAttributes(
		attribute.String("realtime.session_id", session.ID()),
		attribute.Bool("realtime.authenticated", actx.Authenticated),
	)

	if !actx.Authenticated {
		_ = session.transition(StateDenied)
		g.logger.WarnContext(ctx, "upgrade denied",
			"session_id", session.ID(),
			"status", actx.Status,
			"reason", actx.Reason,
		)
		_ = conn.Close(websocket.StatusPolicyViolation, closeReason(actx.Reason))
		return
	}

	_ = session.transition(StateOpen)
	g.registry.Add(session)
	g.logger.InfoContext(ctx, "session opened",
		"session_id", session.ID(),
		"method", actx.Method,
		"fingerprint", auth.Fingerprint(actx),
	)

	defer func() {
		g.registry.Remove(session.ID())
		_ = session.transition(StateClosed)
		_ = conn.Close(websocket.StatusNormalClosure, "")
		g.logger.InfoContext(ctx, "session closed", "session_id", session.ID())
	}()

	g.readLoop(auth.ContextWithAuthContext(ctx, actx), session)
}

// readLoop consumes inbound frames until the connection errors or the
// context ends. Malformed payloads and unknown envelope types are
// silently ignored: a chat client must never be disconnected for
// sending a frame the server does not understand.
func (g *Gate) readLoop(ctx context.Context, session *Session) {
	for {
		_, data, err := session.conn.Read(ctx)
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if !env.Type.knownInbound() {
			continue
		}

		switch env.Type {
		case MessageTypePing:
			_ = session.Send(ctx, Envelope{Type: MessageTypePong})
		case MessageTypeTyping:
			// Liveness only; nothing to do server-side.
		case MessageTypeMessage:
			g.handleMessage(ctx, session, env.Text)
		}
	}
}

// handleMessage delegates chat text to the configured handler and
// relays the reply. Handler failures surface as an error envelope with
// a generic description; the underlying error stays in the logs.
func (g *Gate) handleMessage(ctx context.Context, session *Session, text string) {
	if g.handler == nil {
		return
	}
	reply, err := g.handler.HandleMessage(ctx, session, text)
	if err != nil {
		g.logger.ErrorContext(ctx, "message handling failed",
			"session_id", session.ID(),
			"error", err,
		)
		_ = session.Send(ctx, Envelope{Type: MessageTypeError, Text: "message could not be processed"})
		return
	}
	if reply != "" {
		_ = session.Send(ctx, Envelope{Type: MessageTypeMessage, Text: reply})
	}
}

// closeReason trims a denial reason to fit a WebSocket close frame.
func closeReason(reason string) string {
	if len(reason) > maxCloseReason {
		return reason[:maxCloseReason]
	}
	return reason
}
