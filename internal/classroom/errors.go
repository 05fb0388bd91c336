package classroom

import "errors"

// Rejection taxonomy for session operations. Each is returned synchronously
// to the originating connection and never mutates shared state.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionOwned    = errors.New("session already owned by another instructor")
	ErrNotAuthorized   = errors.New("operation requires the session instructor")
	ErrInvalidTarget   = errors.New("target is not a learner in this session")
	ErrFrozen          = errors.New("session is frozen for learner edits")
	ErrNotJoined       = errors.New("participant is not a member of this session")
)
