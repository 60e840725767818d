package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/mnemora/mnemora-core/pkg/auth"
	merr "github.com/mnemora/mnemora-core/pkg/errors"
)

// Session is one WebSocket connection plus the authentication outcome
// it was admitted under. The outcome is fixed at upgrade time: a
// session never re-authenticates mid-stream.
//
// State reads and writes are protected by a mutex and safe for
// concurrent use. Payload writes go through [Session.Send], which
// serializes envelope encoding onto the connection.
type Session struct {
	id       string
	actx     *auth.AuthContext
	conn     *websocket.Conn
	openedAt time.Time

	mu    sync.Mutex
	state SessionState
}

// newSession wraps an accepted connection. Sessions start in
// [StatePending] until the gate applies the authentication outcome.
func newSession(conn *websocket.Conn, actx *auth.AuthContext) *Session {
	return &Session{
		id:       uuid.NewString(),
		actx:     actx,
		conn:     conn,
		openedAt: time.Now(),
		state:    StatePending,
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Auth returns the authentication outcome the session was admitted
// under. Callers must treat it as read-only.
func (s *Session) Auth() *auth.AuthContext { return s.actx }

// OpenedAt returns when the underlying connection was accepted.
func (s *Session) OpenedAt() time.Time { return s.openedAt }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to the given state, enforcing the
// [validTransitions] matrix. An illegal transition is a programming
// error in the gate and is reported with [merr.CodeConflict].
func (s *Session) transition(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !ValidTransition(s.state, to) {
		return merr.Newf(merr.CodeConflict,
			"realtime: invalid session transition %s -> %s", s.state, to)
	}
	s.state = to
	return nil
}

// Send writes one envelope to the client. Sending on a session that is
// not open is rejected rather than racing the close handshake.
func (s *Session) Send(ctx context.Context, env Envelope) error {
	if s.State() != StateOpen {
		return merr.Newf(merr.CodeConflict, "realtime: cannot send on %s session", s.State())
	}
	if err := wsjson.Write(ctx, s.conn, env); err != nil {
		return merr.Wrap(err, merr.CodeUnavailable, "realtime: envelope write failed")
	}
	return nil
}
