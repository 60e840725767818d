// Package realtime provides the WebSocket session layer for the Mnemora
// memory platform: a fail-closed upgrade gate, a validated session state
// machine, and the line protocol spoken over established connections.
//
// # Upgrade Gate
//
// [Gate] terminates WebSocket upgrade requests. Authentication is
// re-resolved independently for every upgrade — an upgrade request never
// inherits trust from any surrounding HTTP session. A denied upgrade is
// still accepted at the protocol level and then immediately closed with
// close code 1008 (policy violation) and a short reason, so clients
// observe a proper WebSocket close rather than an opaque TCP reset.
//
// # Session Lifecycle
//
// Every connection follows a defined lifecycle managed by a finite state
// machine. The [SessionState] type represents the session's current
// position, and all transitions are validated against the
// [validTransitions] matrix to prevent illegal state changes.
//
// The flow for an authenticated session is:
//
//	Pending → Open → Closed
//
// A session that fails re-verification goes:
//
//	Pending → Denied
//
// # Line Protocol
//
// Established sessions exchange JSON envelopes (see [Envelope]). Inbound
// payloads that are malformed or carry an unknown type are silently
// ignored; the connection stays open. Ping envelopes are answered with
// pong; message envelopes are delegated to the configured
// [MessageHandler].
package realtime

// SessionState represents the lifecycle state of a realtime session.
// States form a finite state machine with validated transitions defined
// by [ValidTransition].
//
// The zero value ("") is not a valid state; sessions are initialized
// with [StatePending] at construction time.
type SessionState string

const (
	// StatePending is the initial state of a session between the HTTP
	// upgrade request arriving and the authentication outcome being
	// applied. No application payload is exchanged in this state.
	StatePending SessionState = "pending"

	// StateOpen indicates the session passed re-verification and is
	// exchanging protocol envelopes. This is the only state in which
	// payloads flow.
	StateOpen SessionState = "open"

	// StateDenied indicates re-verification failed. This is a terminal
	// state: the connection is closed with close code 1008 and the
	// session is never registered.
	StateDenied SessionState = "denied"

	// StateClosed indicates an open session has ended, whether by
	// client disconnect, server shutdown, or read failure. This is a
	// terminal state.
	StateClosed SessionState = "closed"
)

// String returns the string representation of the state.
func (s SessionState) String() string {
	return string(s)
}

// Valid reports whether the state is one of the recognized session
// states. The zero value ("") is not valid.
func (s SessionState) Valid() bool {
	switch s {
	case StatePending, StateOpen, StateDenied, StateClosed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state is a terminal session state.
// Terminal states are [StateDenied] and [StateClosed]. A session in a
// terminal state never exchanges payloads again.
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateDenied, StateClosed:
		return true
	default:
		return false
	}
}

// validTransitions defines the allowed state transitions for the
// session state machine. Each key is a source state, and the value is
// the set of states it may transition to. Transitions not present in
// this map are rejected by [ValidTransition].
//
// Transition matrix:
//
//	Pending → Open, Denied
//	Open    → Closed
var validTransitions = map[SessionState][]SessionState{
	StatePending: {StateOpen, StateDenied},
	StateOpen:    {StateClosed},
}

// ValidTransition reports whether transitioning from state from to
// state to is allowed by the session state machine. Both from and to
// must be valid states, and the transition must be present in the
// [validTransitions] matrix. Same-state transitions (from == to) are
// always rejected.
func ValidTransition(from, to SessionState) bool {
	if from == to {
		return false
	}
	if !from.Valid() || !to.Valid() {
		return false
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
