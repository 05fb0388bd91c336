package types

import "regexp"

var participantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// Per-message caps. A workspace is replaced wholesale on every update, so the
// caps bound both the frame size and the retained session state.
const (
	MaxWorkspaceFiles  = 64
	MaxFileContentSize = 256 * 1024
	MaxChatTextSize    = 4 * 1024
	MaxTerminalChunk   = 16 * 1024
)

// IsValidParticipantID reports whether id is usable as a participant,
// session, or lesson identifier on the wire.
func IsValidParticipantID(id string) bool {
	return participantIDPattern.MatchString(id)
}

// Validate checks a workspace against the wire caps.
func (w Workspace) Validate() error {
	if len(w.Files) > MaxWorkspaceFiles {
		return ErrTooManyFiles
	}
	seen := make(map[string]struct{}, len(w.Files))
	for _, f := range w.Files {
		if f.Name == "" {
			return ErrEmptyFileName
		}
		if len(f.Content) > MaxFileContentSize {
			return ErrFileTooLarge
		}
		if _, dup := seen[f.Name]; dup {
			return ErrDuplicateFileName
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// Validate performs the structural checks that apply to every inbound frame.
// Type-specific payload validation happens in the component that handles it.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return ErrMissingType
	}
	if e.SessionID != "" && !IsValidParticipantID(e.SessionID) {
		return ErrInvalidSessionID
	}
	if e.LessonID != "" && !IsValidParticipantID(e.LessonID) {
		return ErrInvalidLessonID
	}
	if e.To != "" && !IsValidParticipantID(e.To) {
		return ErrInvalidRecipient
	}
	return nil
}
