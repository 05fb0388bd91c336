package hub

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"lectern/internal/chat"
	"lectern/internal/classroom"
	"lectern/internal/homework"
	"lectern/internal/signaling"
	"lectern/pkg/interfaces"
	"lectern/pkg/metrics"
	"lectern/pkg/types"
)

// Directory is the connection lookup the hub fans out through.
type Directory interface {
	Participant(participantID string) (interfaces.Connection, bool)
	SessionMembers(sessionID string) []interfaces.Connection
	SessionInstructor(sessionID string) (interfaces.Connection, bool)
}

// Hub routes every inbound envelope to the component that owns its state
// and sequences cross-component cleanup on disconnect. It holds no session
// state of its own.
type Hub struct {
	classroom *classroom.Manager
	homework  *homework.Manager
	signaling *signaling.Relay
	chat      *chat.Relay
	dir       Directory
	log       *zap.Logger
}

// New wires the hub to its components.
func New(cm *classroom.Manager, hm *homework.Manager, sr *signaling.Relay, cr *chat.Relay, dir Directory, log *zap.Logger) *Hub {
	return &Hub{
		classroom: cm,
		homework:  hm,
		signaling: sr,
		chat:      cr,
		dir:       dir,
		log:       log,
	}
}

// HandleJoin runs the join sequence for a freshly registered connection:
// session membership, the full state snapshot, then private chat replay.
func (h *Hub) HandleJoin(conn interfaces.Connection) {
	snap, err := h.classroom.Join(conn.SessionID(), conn.ParticipantID(), conn.Role())
	if err != nil {
		// CanJoin passed before the upgrade, so this is a race with a
		// concurrent instructor claim. Reject and drop the connection.
		h.reject(conn, err)
		_ = conn.Close()
		return
	}

	if werr := conn.WriteJSON(types.NewEnvelope(types.MessageTypeSnapshot, snap)); werr != nil {
		h.log.Warn("snapshot delivery failed",
			zap.String("participant", conn.ParticipantID()), zap.Error(werr))
		return
	}

	for _, history := range h.chat.HistoryFor(conn.ParticipantID()) {
		if werr := conn.WriteJSON(types.NewEnvelope(types.MessageTypeChatHistory, history)); werr != nil {
			h.log.Warn("chat replay failed",
				zap.String("participant", conn.ParticipantID()), zap.Error(werr))
			return
		}
	}
}

// HandleDisconnect runs the cleanup sequence for a departed connection.
// It is synchronous: by the time it returns, no state references the
// participant (or, for an instructor, the session).
func (h *Hub) HandleDisconnect(conn interfaces.Connection) {
	ctx := context.Background()
	sessionID := conn.SessionID()
	participantID := conn.ParticipantID()

	res, err := h.classroom.Leave(sessionID, participantID, conn.Role())
	if err != nil {
		if !errors.Is(err, classroom.ErrSessionNotFound) {
			h.log.Warn("leave on disconnect failed",
				zap.String("participant", participantID), zap.Error(err))
		}
		return
	}

	if res.SessionEnded {
		h.homework.EndSession(ctx, sessionID)
		h.signaling.ClearSession(sessionID)
		h.chat.ClearParticipant(participantID)
		for _, learnerID := range res.Members {
			h.chat.ClearParticipant(learnerID)
			if member, ok := h.dir.Participant(learnerID); ok && member.SessionID() == sessionID {
				_ = member.Close()
			}
		}
		return
	}

	if key, ok := h.homework.CurrentKey(sessionID, participantID); ok {
		h.homework.LeaveAll(ctx, sessionID, participantID)
		h.broadcastHomeworkRoster(key)
	}
	h.signaling.ClearParticipant(participantID)
}

// Dispatch routes one validated envelope from conn.
func (h *Hub) Dispatch(conn interfaces.Connection, env *types.Envelope) {
	metrics.MessagesProcessed.WithLabelValues(env.Type).Inc()

	var err error
	switch env.Type {
	case types.MessageTypeJoin:
		err = h.handleJoinEnvelope(conn, env)
	case types.MessageTypeLeave:
		err = h.handleLeaveEnvelope(conn, env)
	case types.MessageTypeWorkspaceUpdate:
		err = h.handleWorkspaceUpdate(conn, env)
	case types.MessageTypeTakeControl:
		err = h.handleTakeControl(conn, env)
	case types.MessageTypeReleaseControl:
		err = h.classroom.ReleaseControl(env.SessionID, conn.ParticipantID(), conn.Role())
	case types.MessageTypeToggleFreeze:
		_, err = h.classroom.ToggleFreeze(env.SessionID, conn.ParticipantID(), conn.Role())
	case types.MessageTypeSpotlight:
		err = h.handleSpotlight(conn, env)
	case types.MessageTypeTerminalIn:
		err = h.handleTerminalIn(conn, env)
	case types.MessageTypeTerminalOut:
		err = h.handleTerminalOut(conn, env)
	case types.MessageTypeSignalOffer, types.MessageTypeSignalAnswer, types.MessageTypeSignalCandidate:
		err = h.handleSignal(conn, env)
	case types.MessageTypePrivateMessage:
		err = h.handlePrivateMessage(conn, env)
	case types.MessageTypeChatRead:
		err = h.handleChatRead(conn, env)
	case types.MessageTypeWhiteboardAppend:
		err = h.handleWhiteboardAppend(conn, env)
	case types.MessageTypeWhiteboardClear:
		err = h.classroom.ClearWhiteboard(env.SessionID, conn.ParticipantID(), conn.Role())
	case types.MessageTypeHandRaise:
		err = h.classroom.ToggleHand(env.SessionID, conn.ParticipantID())
	default:
		err = errBadPayload
	}

	if err != nil {
		h.reject(conn, err)
	}
}

var errBadPayload = errors.New("malformed payload")

// handleJoinEnvelope handles an in-band join. With a lesson ID it enters a
// homework subsession; without one it re-sends the session snapshot, which
// lets a client resynchronize without reconnecting.
func (h *Hub) handleJoinEnvelope(conn interfaces.Connection, env *types.Envelope) error {
	if env.LessonID == "" {
		s, err := h.classroom.Get(env.SessionID)
		if err != nil {
			return err
		}
		snap, err := h.classroom.Join(s.ID, conn.ParticipantID(), conn.Role())
		if err != nil {
			return err
		}
		return conn.WriteJSON(types.NewEnvelope(types.MessageTypeSnapshot, snap))
	}

	if conn.Role() != types.RoleLearner {
		return classroom.ErrNotAuthorized
	}

	key := homework.Key{LessonID: env.LessonID, SessionID: env.SessionID}
	snap, _, err := h.homework.Join(context.Background(), key, conn.ParticipantID())
	if err != nil {
		return err
	}
	if werr := conn.WriteJSON(types.NewEnvelope(types.MessageTypeHomeworkSnapshot, snap)); werr != nil {
		h.log.Warn("homework snapshot delivery failed",
			zap.String("participant", conn.ParticipantID()), zap.Error(werr))
	}
	h.broadcastHomeworkRoster(key)
	return nil
}

// handleLeaveEnvelope leaves a homework subsession when a lesson ID is
// present; a bare leave detaches from whatever subsession the learner is in.
// Leaving the session itself is done by closing the connection.
func (h *Hub) handleLeaveEnvelope(conn interfaces.Connection, env *types.Envelope) error {
	key := homework.Key{LessonID: env.LessonID, SessionID: env.SessionID}
	if env.LessonID == "" {
		current, ok := h.homework.CurrentKey(env.SessionID, conn.ParticipantID())
		if !ok {
			return homework.ErrSubsessionNotFound
		}
		key = current
	}

	if _, err := h.homework.Leave(context.Background(), key, conn.ParticipantID()); err != nil {
		return err
	}
	h.broadcastHomeworkRoster(key)
	return nil
}

// handleWorkspaceUpdate applies a workspace replacement. A lesson ID selects
// the sender's homework workspace; otherwise the shared session workspace is
// replaced. Instructor edits are redirected to the controlled learner's
// homework workspace while a control lock is held.
func (h *Hub) handleWorkspaceUpdate(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.WorkspacePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	if err := payload.Workspace.Validate(); err != nil {
		return err
	}

	sessionID := env.SessionID
	senderID := conn.ParticipantID()

	if conn.Role() == types.RoleInstructor {
		s, err := h.classroom.Get(sessionID)
		if err != nil {
			return err
		}
		if controlled := s.ControlledLearner(); controlled != "" {
			return h.redirectToControlled(sessionID, controlled, payload.Workspace)
		}
		return h.classroom.UpdateWorkspace(sessionID, senderID, conn.Role(), payload.Workspace)
	}

	if env.LessonID == "" {
		return h.classroom.UpdateWorkspace(sessionID, senderID, conn.Role(), payload.Workspace)
	}

	key := homework.Key{LessonID: env.LessonID, SessionID: sessionID}
	if err := h.homework.UpdateWorkspace(key, senderID, payload.Workspace); err != nil {
		return err
	}
	return h.mirrorIfSpotlighted(sessionID, senderID, types.MessageTypeSpotlightWorkspace,
		&types.WorkspacePayload{Workspace: payload.Workspace})
}

// redirectToControlled applies an instructor edit to the controlled
// learner's homework workspace and pushes the result to that learner.
func (h *Hub) redirectToControlled(sessionID, learnerID string, ws types.Workspace) error {
	key, ok := h.homework.CurrentKey(sessionID, learnerID)
	if !ok {
		return homework.ErrSubsessionNotFound
	}
	if err := h.homework.UpdateWorkspace(key, learnerID, ws); err != nil {
		return err
	}

	env := types.NewEnvelope(types.MessageTypeWorkspaceUpdate, &types.WorkspacePayload{Workspace: ws})
	env.SessionID = sessionID
	env.LessonID = key.LessonID
	if target, connected := h.dir.Participant(learnerID); connected {
		if err := target.WriteJSON(env); err != nil {
			h.log.Warn("control redirect delivery failed",
				zap.String("learner", learnerID), zap.Error(err))
		}
	}
	return h.mirrorIfSpotlighted(sessionID, learnerID, types.MessageTypeSpotlightWorkspace,
		&types.WorkspacePayload{Workspace: ws})
}

func (h *Hub) handleTakeControl(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.ControlPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	return h.classroom.TakeControl(env.SessionID, conn.ParticipantID(), conn.Role(), payload.LearnerID)
}

// handleSpotlight sets or clears the spotlight. Setting one immediately
// mirrors the learner's current homework state so viewers start from the
// full picture rather than the next delta.
func (h *Hub) handleSpotlight(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.SpotlightPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	if err := h.classroom.SetSpotlight(env.SessionID, conn.ParticipantID(), conn.Role(), payload.LearnerID); err != nil {
		return err
	}
	if payload.LearnerID == "" {
		return nil
	}

	snap, err := h.homework.SnapshotFor(env.SessionID, payload.LearnerID)
	if err != nil {
		if errors.Is(err, homework.ErrSubsessionNotFound) {
			// Spotlighting a learner who has not opened homework is valid;
			// mirroring starts with their first update.
			return nil
		}
		return err
	}

	wsEnv := types.NewEnvelope(types.MessageTypeSpotlightWorkspace, &types.WorkspacePayload{Workspace: snap.Workspace})
	wsEnv.From = payload.LearnerID
	wsEnv.SessionID = env.SessionID
	if err := h.classroom.MirrorSpotlight(env.SessionID, wsEnv); err != nil {
		return err
	}
	if snap.Terminal != "" {
		termEnv := types.NewEnvelope(types.MessageTypeSpotlightTerminal, &types.TerminalPayload{Text: snap.Terminal})
		termEnv.From = payload.LearnerID
		termEnv.SessionID = env.SessionID
		return h.classroom.MirrorSpotlight(env.SessionID, termEnv)
	}
	return nil
}

// handleTerminalIn routes terminal input. An instructor's input goes to the
// controlled learner's terminal; a learner feeds their own homework
// terminal, gated by the freeze like the shared workspace.
func (h *Hub) handleTerminalIn(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.TerminalPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	if len(payload.Text) > types.MaxTerminalChunk {
		return errBadPayload
	}

	sessionID := env.SessionID
	s, err := h.classroom.Get(sessionID)
	if err != nil {
		return err
	}

	if conn.Role() == types.RoleInstructor {
		learnerID := s.ControlledLearner()
		if learnerID == "" {
			return classroom.ErrInvalidTarget
		}
		forward := types.NewEnvelope(types.MessageTypeTerminalIn, &payload)
		forward.From = conn.ParticipantID()
		forward.SessionID = sessionID
		if target, connected := h.dir.Participant(learnerID); connected {
			return target.WriteJSON(forward)
		}
		return classroom.ErrInvalidTarget
	}

	if s.Frozen() {
		return classroom.ErrFrozen
	}
	key, ok := h.homework.CurrentKey(sessionID, conn.ParticipantID())
	if !ok {
		return homework.ErrSubsessionNotFound
	}
	return h.homework.AppendTerminal(key, conn.ParticipantID(), payload.Text)
}

// handleTerminalOut records a learner's terminal output and mirrors it when
// the learner is spotlighted.
func (h *Hub) handleTerminalOut(conn interfaces.Connection, env *types.Envelope) error {
	if conn.Role() != types.RoleLearner {
		return classroom.ErrNotAuthorized
	}
	var payload types.TerminalPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	if len(payload.Text) > types.MaxTerminalChunk {
		return errBadPayload
	}

	senderID := conn.ParticipantID()
	key, ok := h.homework.CurrentKey(env.SessionID, senderID)
	if !ok {
		return homework.ErrSubsessionNotFound
	}
	if err := h.homework.AppendTerminal(key, senderID, payload.Text); err != nil {
		return err
	}
	return h.mirrorIfSpotlighted(env.SessionID, senderID, types.MessageTypeSpotlightTerminal, &payload)
}

// handleSignal relays WebRTC negotiation frames between two session members.
func (h *Hub) handleSignal(conn interfaces.Connection, env *types.Envelope) error {
	from := conn.ParticipantID()
	to := env.To
	if to == "" || to == from {
		return classroom.ErrInvalidTarget
	}
	if err := h.requireMember(env.SessionID, to); err != nil {
		return err
	}

	switch env.Type {
	case types.MessageTypeSignalOffer:
		var payload types.OfferPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return errBadPayload
		}
		return h.signaling.RelayOffer(env.SessionID, from, to, payload.SDP)
	case types.MessageTypeSignalAnswer:
		var payload types.AnswerPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return errBadPayload
		}
		return h.signaling.RelayAnswer(env.SessionID, from, to, payload.SDP)
	default:
		var payload types.CandidatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return errBadPayload
		}
		return h.signaling.RelayCandidate(env.SessionID, from, to, payload.Candidate)
	}
}

// handlePrivateMessage relays a chat message and echoes the accepted copy
// back to the sender so they learn its ID and server timestamp.
func (h *Hub) handlePrivateMessage(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.ChatPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	if err := h.requireMember(env.SessionID, payload.To); err != nil {
		return err
	}

	msg, err := h.chat.Send(context.Background(), conn.ParticipantID(), payload.To, payload.Text)
	if err != nil {
		return err
	}

	echo := types.NewEnvelope(types.MessageTypePrivateMessage, msg)
	echo.SessionID = env.SessionID
	if werr := conn.WriteJSON(echo); werr != nil {
		h.log.Debug("chat echo failed",
			zap.String("participant", conn.ParticipantID()), zap.Error(werr))
	}
	return nil
}

func (h *Hub) handleChatRead(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.ChatReadPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	if payload.Peer == "" {
		return errBadPayload
	}
	h.chat.AckRead(conn.ParticipantID(), payload.Peer, payload.LastRead)
	return nil
}

func (h *Hub) handleWhiteboardAppend(conn interfaces.Connection, env *types.Envelope) error {
	var payload types.WhiteboardPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return errBadPayload
	}
	return h.classroom.AppendWhiteboard(env.SessionID, conn.ParticipantID(), conn.Role(), payload.Line)
}

// requireMember verifies that participantID belongs to the session, as its
// instructor or as a learner.
func (h *Hub) requireMember(sessionID, participantID string) error {
	s, err := h.classroom.Get(sessionID)
	if err != nil {
		return err
	}
	if s.InstructorID == participantID || s.HasLearner(participantID) {
		return nil
	}
	return classroom.ErrInvalidTarget
}

// mirrorIfSpotlighted fans a frame from senderID out to the whole session
// when senderID is the spotlighted learner.
func (h *Hub) mirrorIfSpotlighted(sessionID, senderID, msgType string, payload interface{}) error {
	s, err := h.classroom.Get(sessionID)
	if err != nil {
		return err
	}
	if s.SpotlightedLearner() != senderID {
		return nil
	}
	env := types.NewEnvelope(msgType, payload)
	env.From = senderID
	env.SessionID = sessionID
	return h.classroom.MirrorSpotlight(sessionID, env)
}

// broadcastHomeworkRoster tells the instructor and the subsession's learners
// who is currently present in it.
func (h *Hub) broadcastHomeworkRoster(key homework.Key) {
	presence, err := h.homework.Presence(key)
	if err != nil {
		// Subsession already torn down; an empty roster closes it out.
		presence = nil
	}

	roster := &types.HomeworkRoster{
		LessonID:  key.LessonID,
		SessionID: key.SessionID,
		Learners:  presence,
	}
	env := types.NewEnvelope(types.MessageTypeHomeworkRoster, roster)
	env.SessionID = key.SessionID
	env.LessonID = key.LessonID

	if instructor, ok := h.dir.SessionInstructor(key.SessionID); ok {
		if werr := instructor.WriteJSON(env); werr != nil {
			h.log.Warn("homework roster delivery failed",
				zap.String("session", key.SessionID), zap.Error(werr))
		}
	}
	for _, learnerID := range presence {
		if member, ok := h.dir.Participant(learnerID); ok {
			if werr := member.WriteJSON(env); werr != nil {
				h.log.Warn("homework roster delivery failed",
					zap.String("learner", learnerID), zap.Error(werr))
			}
		}
	}
}

// reject maps an error to its wire code and sends it back to the sender.
func (h *Hub) reject(conn interfaces.Connection, err error) {
	code := codeFor(err)
	metrics.MessagesRejected.WithLabelValues(code).Inc()
	env := types.NewEnvelope(types.MessageTypeError, types.ErrorPayload{Code: code, Message: err.Error()})
	if werr := conn.WriteJSON(env); werr != nil {
		h.log.Debug("rejection delivery failed",
			zap.String("participant", conn.ParticipantID()), zap.Error(werr))
	}
}

// codeFor maps component errors onto the wire rejection taxonomy.
func codeFor(err error) string {
	switch {
	case errors.Is(err, classroom.ErrSessionNotFound):
		return types.CodeSessionNotFound
	case errors.Is(err, classroom.ErrFrozen):
		return types.CodeFrozen
	case errors.Is(err, classroom.ErrNotAuthorized), errors.Is(err, classroom.ErrSessionOwned):
		return types.CodeNotAuthorized
	case errors.Is(err, classroom.ErrInvalidTarget),
		errors.Is(err, classroom.ErrNotJoined),
		errors.Is(err, homework.ErrNotJoined),
		errors.Is(err, signaling.ErrPeerNotConnected),
		errors.Is(err, chat.ErrSelfMessage):
		return types.CodeInvalidTarget
	case errors.Is(err, homework.ErrSubsessionNotFound):
		return types.CodeSubsessionNotFound
	default:
		return types.CodeBadRequest
	}
}
