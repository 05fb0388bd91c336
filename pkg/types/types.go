package types

import (
	"encoding/json"
	"time"

	"github.com/pion/webrtc/v4"
)

// Participant roles. Exactly one instructor owns a session; everyone else
// joins as a learner.
const (
	RoleInstructor = "instructor"
	RoleLearner    = "learner"
)

// Inbound message types. Each maps to one operation on the session state;
// anything else is rejected before it reaches a component.
const (
	MessageTypeJoin             = "join"
	MessageTypeLeave            = "leave"
	MessageTypeWorkspaceUpdate  = "workspace_update"
	MessageTypeTakeControl      = "take_control"
	MessageTypeReleaseControl   = "release_control"
	MessageTypeToggleFreeze     = "toggle_freeze"
	MessageTypeSpotlight        = "spotlight"
	MessageTypeTerminalIn       = "terminal_in"
	MessageTypeTerminalOut      = "terminal_out"
	MessageTypeSignalOffer      = "signal_offer"
	MessageTypeSignalAnswer     = "signal_answer"
	MessageTypeSignalCandidate  = "signal_candidate"
	MessageTypePrivateMessage   = "private_message"
	MessageTypeWhiteboardAppend = "whiteboard_append"
	MessageTypeWhiteboardClear  = "whiteboard_clear"
	MessageTypeHandRaise        = "hand_raise"
	MessageTypeChatRead         = "chat_read"
)

// Outbound message types. Snapshots are complete states; everything else is
// an incremental event applied on top of the last snapshot.
const (
	MessageTypeSnapshot           = "snapshot"
	MessageTypeRoster             = "roster"
	MessageTypeHomeworkRoster     = "homework_roster"
	MessageTypeHomeworkSnapshot   = "homework_snapshot"
	MessageTypeControlChanged     = "control_changed"
	MessageTypeFreezeChanged      = "freeze_changed"
	MessageTypeSpotlightChanged   = "spotlight_changed"
	MessageTypeSpotlightWorkspace = "spotlight_workspace"
	MessageTypeSpotlightTerminal  = "spotlight_terminal"
	MessageTypeSessionEnded       = "session_ended"
	MessageTypeChatHistory        = "chat_history"
	MessageTypeError              = "error"
)

// Wire error codes, one per rejection in the taxonomy. A lost connection has
// no code: it is handled entirely server-side and never reported back.
const (
	CodeInvalidTarget      = "invalid_target"
	CodeFrozen             = "frozen"
	CodeNotAuthorized      = "not_authorized"
	CodeSessionNotFound    = "session_not_found"
	CodeSubsessionNotFound = "subsession_not_found"
	CodeBadRequest         = "bad_request"
	CodeRateLimited        = "rate_limited"
)

// Envelope is the single frame format on the duplex channel. Payload is
// decoded per Type; From and Timestamp are always set server-side.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	LessonID  string          `json:"lesson_id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// File is one editable file in a workspace.
type File struct {
	Name     string `json:"name"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// Workspace is the shared file set. Replaced wholesale on every update;
// there is no merge because each session has one logical writer at a time.
type Workspace struct {
	Files          []File `json:"files"`
	ActiveFileName string `json:"active_file_name"`
}

// Clone returns a deep copy so session state never aliases caller memory.
func (w Workspace) Clone() Workspace {
	cp := Workspace{ActiveFileName: w.ActiveFileName}
	if w.Files != nil {
		cp.Files = make([]File, len(w.Files))
		copy(cp.Files, w.Files)
	}
	return cp
}

// LineSegment is one whiteboard stroke.
type LineSegment struct {
	X1    float64 `json:"x1"`
	Y1    float64 `json:"y1"`
	X2    float64 `json:"x2"`
	Y2    float64 `json:"y2"`
	Color string  `json:"color,omitempty"`
	Width float64 `json:"width,omitempty"`
}

// ChatMessage is one entry in a private thread between an instructor and a
// learner. The thread itself is the durable log.
type ChatMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkspacePayload carries a workspace_update. A non-empty LessonID on the
// envelope targets the sender's homework workspace instead of the session one.
type WorkspacePayload struct {
	Workspace Workspace `json:"workspace"`
}

// ControlPayload names the learner for take_control. LessonID is optional;
// when empty the learner's current homework subsession is used.
type ControlPayload struct {
	LearnerID string `json:"learner_id"`
	LessonID  string `json:"lesson_id,omitempty"`
}

// SpotlightPayload names the learner to mirror; empty clears the spotlight.
type SpotlightPayload struct {
	LearnerID string `json:"learner_id"`
}

// TerminalPayload carries terminal_in / terminal_out text.
type TerminalPayload struct {
	Text string `json:"text"`
}

// ChatPayload carries a private_message.
type ChatPayload struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// ChatReadPayload acknowledges reads in the thread with Peer up to and
// including message index LastRead.
type ChatReadPayload struct {
	Peer     string `json:"peer"`
	LastRead int    `json:"last_read"`
}

// WhiteboardPayload carries a whiteboard_append line.
type WhiteboardPayload struct {
	Line LineSegment `json:"line"`
}

// OfferPayload and AnswerPayload carry opaque SDP blobs; the relay never
// interprets them.
type OfferPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

type AnswerPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// CandidatePayload carries one ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// ErrorPayload is the typed rejection returned to a sender whose message
// failed validation. Nothing was mutated when one of these is sent.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Snapshot is the complete session state sent on join, so a reconnecting
// client never needs incremental replay.
type Snapshot struct {
	SessionID            string        `json:"session_id"`
	InstructorID         string        `json:"instructor_id"`
	Learners             []string      `json:"learners"`
	Workspace            Workspace     `json:"workspace"`
	ControlledLearnerID  string        `json:"controlled_learner_id,omitempty"`
	Frozen               bool          `json:"frozen"`
	SpotlightedLearnerID string        `json:"spotlighted_learner_id,omitempty"`
	Whiteboard           []LineSegment `json:"whiteboard"`
	HandsRaised          []string      `json:"hands_raised"`
}

// Roster is broadcast to every session member on each join and leave.
type Roster struct {
	SessionID    string   `json:"session_id"`
	InstructorID string   `json:"instructor_id"`
	Learners     []string `json:"learners"`
	HandsRaised  []string `json:"hands_raised"`
}

// HomeworkRoster tells the instructor which learners are live in a
// homework subsession.
type HomeworkRoster struct {
	LessonID  string   `json:"lesson_id"`
	SessionID string   `json:"session_id"`
	Learners  []string `json:"learners"`
}

// HomeworkSnapshot is a learner's private homework state, sent when they
// join a subsession.
type HomeworkSnapshot struct {
	LessonID  string    `json:"lesson_id"`
	SessionID string    `json:"session_id"`
	Workspace Workspace `json:"workspace"`
	Terminal  string    `json:"terminal"`
}

// ChatHistory replays one thread to a joining participant, with the
// recipient's unread count derived from their last acknowledged read index.
type ChatHistory struct {
	Peer     string        `json:"peer"`
	Messages []ChatMessage `json:"messages"`
	Unread   int           `json:"unread"`
}
