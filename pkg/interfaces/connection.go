package interfaces

// Connection is one participant's live duplex channel. Implementations must
// make WriteJSON safe for concurrent use; the websocket implementation does
// this with a single writer goroutine, and tests substitute an in-memory
// recorder.
type Connection interface {
	// WriteJSON queues a JSON frame for delivery. Frames from one caller are
	// delivered in the order they were written.
	WriteJSON(v interface{}) error

	// Close tears down the transport and releases resources. Idempotent.
	Close() error

	// ConnectionID uniquely identifies this transport instance, so a stale
	// connection can never unregister its replacement.
	ConnectionID() string

	// ParticipantID returns the authenticated participant identity.
	ParticipantID() string

	// Role returns "instructor" or "learner".
	Role() string

	// SessionID returns the session this connection joined.
	SessionID() string
}
