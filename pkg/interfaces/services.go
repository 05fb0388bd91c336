package interfaces

import (
	"context"
	"net/http"

	"lectern/pkg/types"
)

// Identity is a verified participant identity and declared role, produced by
// the fronting authentication layer before a join is accepted.
type Identity struct {
	ParticipantID string
	Role          string
}

// Authenticator verifies the identity behind an incoming connection request.
// Authentication itself is external to the engine; this is the boundary it
// is consumed through.
type Authenticator interface {
	Authenticate(r *http.Request) (Identity, error)
}

// LessonStore is the engine's view of the lesson-content store: starter file
// sets read once at subsession creation, plus durability for chat threads and
// homework submissions.
type LessonStore interface {
	// LessonFiles returns the starter workspace for a lesson. A missing
	// lesson yields ErrLessonNotFound and an empty workspace is used instead.
	LessonFiles(ctx context.Context, lessonID string) (types.Workspace, error)

	// ArchiveChatMessage appends one private message to the durable log.
	ArchiveChatMessage(ctx context.Context, msg *types.ChatMessage) error

	// ChatThread returns the archived messages between two participants in
	// chronological order.
	ChatThread(ctx context.Context, a, b string) ([]types.ChatMessage, error)

	// SaveHomework records a learner's homework workspace when they leave a
	// subsession or the subsession is torn down.
	SaveHomework(ctx context.Context, lessonID, sessionID, learnerID string, ws types.Workspace) error
}
