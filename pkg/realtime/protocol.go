package realtime

// MessageType identifies the kind of protocol envelope exchanged over
// an open session.
type MessageType string

const (
	// MessageTypePing is a client liveness probe; the gate answers with
	// a pong envelope carrying no payload.
	MessageTypePing MessageType = "ping"

	// MessageTypePong is the server's answer to a ping.
	MessageTypePong MessageType = "pong"

	// MessageTypeTyping is a client typing indicator. It carries no
	// payload the server acts on; it exists so clients relaying through
	// the backend share one envelope vocabulary.
	MessageTypeTyping MessageType = "typing"

	// MessageTypeMessage carries chat text in the Text field. Inbound
	// message envelopes are delegated to the gate's [MessageHandler];
	// outbound ones carry the handler's reply.
	MessageTypeMessage MessageType = "message"

	// MessageTypeError is an outbound-only envelope reporting that a
	// message could not be handled. The Text field carries a short,
	// credential-free description.
	MessageTypeError MessageType = "error"
)

// knownInbound reports whether the type is one the gate acts on when
// received from a client. Anything else is silently ignored.
func (m MessageType) knownInbound() bool {
	switch m {
	case MessageTypePing, MessageTypeTyping, MessageTypeMessage:
		return true
	default:
		return false
	}
}

// Envelope is the single JSON frame shape exchanged over a session.
// Unknown fields in inbound frames are ignored by the JSON decoder, so
// newer clients can extend the envelope without breaking older servers.
type Envelope struct {
	// Type discriminates the envelope. See the MessageType constants.
	Type MessageType `json:"type"`

	// Text carries chat text for message envelopes and the description
	// for error envelopes. Empty for ping, pong, and typing.
	Text string `json:"text,omitempty"`
}
