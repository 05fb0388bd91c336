package classroom

import (
	"sync"

	"go.uber.org/zap"

	"lectern/pkg/interfaces"
	"lectern/pkg/metrics"
	"lectern/pkg/types"
)

// Directory resolves live connections for fan-out. The websocket registry
// implements it; tests substitute an in-memory fake.
type Directory interface {
	// Participant returns the live connection for a participant, if any.
	Participant(participantID string) (interfaces.Connection, bool)

	// SessionMembers returns every live connection in a session, instructor
	// included.
	SessionMembers(sessionID string) []interfaces.Connection
}

// Manager is the session directory: it owns every live Session and performs
// all mutations and their fan-out under the owning session's lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dir      Directory
	log      *zap.Logger
}

// NewManager creates a session directory backed by dir for delivery.
func NewManager(dir Directory, log *zap.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		dir:      dir,
		log:      log,
	}
}

// Get returns the live session or ErrSessionNotFound.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CanJoin validates a join before the transport is upgraded, so rejected
// requests get a proper HTTP status instead of a doomed WebSocket.
func (m *Manager) CanJoin(sessionID, participantID, role string) error {
	m.mu.RLock()
	s, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	switch role {
	case types.RoleInstructor:
		if exists && s.InstructorID != participantID {
			return ErrSessionOwned
		}
		return nil
	case types.RoleLearner:
		if !exists {
			return ErrSessionNotFound
		}
		return nil
	default:
		return ErrNotAuthorized
	}
}

// Join adds a participant to a session, creating the session when an
// instructor joins a new ID. It returns the full state snapshot and
// broadcasts the updated roster to every member.
func (m *Manager) Join(sessionID, participantID, role string) (*types.Snapshot, error) {
	s, err := m.joinSession(sessionID, participantID, role)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if role == types.RoleLearner {
		s.learners[participantID] = struct{}{}
	}
	snap := s.snapshotLocked()
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeRoster, s.rosterLocked()), nil)

	m.log.Info("participant joined",
		zap.String("session", sessionID),
		zap.String("participant", participantID),
		zap.String("role", role))
	return snap, nil
}

func (m *Manager) joinSession(sessionID, participantID, role string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	switch role {
	case types.RoleInstructor:
		if exists {
			if s.InstructorID != participantID {
				return nil, ErrSessionOwned
			}
			return s, nil // instructor reconnect
		}
		s = newSession(sessionID, participantID)
		m.sessions[sessionID] = s
		metrics.ActiveSessions.Inc()
		m.log.Info("session created", zap.String("session", sessionID), zap.String("instructor", participantID))
		return s, nil
	case types.RoleLearner:
		if !exists {
			return nil, ErrSessionNotFound
		}
		return s, nil
	default:
		return nil, ErrNotAuthorized
	}
}

// LeaveResult reports which dependent state a departure cleared, so the
// caller can finish cross-component cleanup.
type LeaveResult struct {
	SessionEnded     bool
	ControlReleased  bool
	SpotlightCleared bool
	Members          []string
}

// Leave removes a participant. A departing instructor tears the session
// down; a departing learner sheds any control lock or spotlight they held.
// Cleanup is synchronous with the disconnect that triggered it.
func (m *Manager) Leave(sessionID, participantID, role string) (LeaveResult, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return LeaveResult{}, err
	}

	if role == types.RoleInstructor && s.InstructorID == participantID {
		return m.teardown(s), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res LeaveResult
	delete(s.learners, participantID)
	delete(s.handsRaised, participantID)

	if s.controlledLearnerID == participantID {
		s.controlledLearnerID = ""
		res.ControlReleased = true
		m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeControlChanged, &types.ControlPayload{}), nil)
	}
	if s.spotlightedLearnerID == participantID {
		s.spotlightedLearnerID = ""
		res.SpotlightCleared = true
		m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeSpotlightChanged, &types.SpotlightPayload{}), nil)
	}
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeRoster, s.rosterLocked()), nil)

	m.log.Info("participant left",
		zap.String("session", sessionID),
		zap.String("participant", participantID))
	return res, nil
}

// teardown ends a session after its instructor disconnects.
func (m *Manager) teardown(s *Session) LeaveResult {
	s.mu.Lock()
	members := sortedKeys(s.learners)
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeSessionEnded, nil), nil)
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
	metrics.ActiveSessions.Dec()

	m.log.Info("session ended", zap.String("session", s.ID))
	return LeaveResult{SessionEnded: true, Members: members}
}

// UpdateWorkspace replaces the shared workspace wholesale (last write wins)
// and fans the new state out. Learner updates are rejected while frozen;
// the spotlighted and controlled learners are skipped because they receive
// their mirrored or redirected state instead.
func (m *Manager) UpdateWorkspace(sessionID, senderID, role string, ws types.Workspace) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if role == types.RoleLearner {
		if s.frozen {
			return ErrFrozen
		}
		if !s.hasLearnerLocked(senderID) {
			return ErrNotJoined
		}
	}

	s.workspace = ws.Clone()

	env := types.NewEnvelope(types.MessageTypeWorkspaceUpdate, &types.WorkspacePayload{Workspace: s.workspace})
	env.From = senderID
	env.SessionID = sessionID
	skip := map[string]struct{}{senderID: {}}
	if s.spotlightedLearnerID != "" {
		skip[s.spotlightedLearnerID] = struct{}{}
	}
	if s.controlledLearnerID != "" {
		skip[s.controlledLearnerID] = struct{}{}
	}
	m.broadcastLocked(s, env, skip)
	return nil
}

// ToggleFreeze flips the freeze gate and returns the new state. Toggling
// twice restores the original acceptance behavior.
func (m *Manager) ToggleFreeze(sessionID, senderID, role string) (bool, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return false, err
	}
	if role != types.RoleInstructor || s.InstructorID != senderID {
		return false, ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = !s.frozen
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeFreezeChanged, map[string]bool{"frozen": s.frozen}), nil)
	return s.frozen, nil
}

// TakeControl grants the instructor exclusive write access to learnerID's
// homework workspace. Only the instructor may call it, so replacing a
// different controlled learner is allowed.
func (m *Manager) TakeControl(sessionID, senderID, role, learnerID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if role != types.RoleInstructor || s.InstructorID != senderID {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLearnerLocked(learnerID) {
		return ErrInvalidTarget
	}
	s.controlledLearnerID = learnerID
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeControlChanged, &types.ControlPayload{LearnerID: learnerID}), nil)
	return nil
}

// ReleaseControl returns the session to the uncontrolled state.
func (m *Manager) ReleaseControl(sessionID, senderID, role string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if role != types.RoleInstructor || s.InstructorID != senderID {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlledLearnerID = ""
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeControlChanged, &types.ControlPayload{}), nil)
	return nil
}

// SetSpotlight mirrors learnerID's homework state to the whole session, or
// clears the mirror when learnerID is empty. At most one spotlight is active
// per session; setting a new one replaces the old.
func (m *Manager) SetSpotlight(sessionID, senderID, role, learnerID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if role != types.RoleInstructor || s.InstructorID != senderID {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if learnerID != "" && !s.hasLearnerLocked(learnerID) {
		return ErrInvalidTarget
	}
	s.spotlightedLearnerID = learnerID
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeSpotlightChanged, &types.SpotlightPayload{LearnerID: learnerID}), nil)
	if learnerID == "" {
		// Revert everyone to the shared workspace view.
		env := types.NewEnvelope(types.MessageTypeWorkspaceUpdate, &types.WorkspacePayload{Workspace: s.workspace.Clone()})
		env.SessionID = sessionID
		m.broadcastLocked(s, env, nil)
	}
	return nil
}

// MirrorSpotlight fans a spotlighted learner's workspace or terminal frame
// out to every session participant as a read-only overlay.
func (m *Manager) MirrorSpotlight(sessionID string, env *types.Envelope) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spotlightedLearnerID == "" {
		return nil
	}
	m.broadcastLocked(s, env, nil)
	return nil
}

// AppendWhiteboard appends one line and broadcasts just that line, keeping
// draw latency independent of log length.
func (m *Manager) AppendWhiteboard(sessionID, senderID, role string, line types.LineSegment) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if role != types.RoleInstructor || s.InstructorID != senderID {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.whiteboard = append(s.whiteboard, line)
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeWhiteboardAppend, &types.WhiteboardPayload{Line: line}), nil)
	return nil
}

// ClearWhiteboard empties the log and broadcasts a clear event.
func (m *Manager) ClearWhiteboard(sessionID, senderID, role string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if role != types.RoleInstructor || s.InstructorID != senderID {
		return ErrNotAuthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.whiteboard = nil
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeWhiteboardClear, nil), nil)
	return nil
}

// ToggleHand raises or lowers a learner's hand and rebroadcasts the roster.
func (m *Manager) ToggleHand(sessionID, participantID string) error {
	s, err := m.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasLearnerLocked(participantID) {
		return ErrNotJoined
	}
	if _, raised := s.handsRaised[participantID]; raised {
		delete(s.handsRaised, participantID)
	} else {
		s.handsRaised[participantID] = struct{}{}
	}
	m.broadcastLocked(s, types.NewEnvelope(types.MessageTypeRoster, s.rosterLocked()), nil)
	return nil
}

// SessionIDs returns the IDs of all live sessions.
func (m *Manager) SessionIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// broadcastLocked delivers env to every session member except those in skip.
// Callers hold the session lock, which is what guarantees per-recipient
// ordering. Delivery continues past individual write failures; a dead
// connection is reaped by its own read loop.
func (m *Manager) broadcastLocked(s *Session, env *types.Envelope, skip map[string]struct{}) {
	for _, conn := range m.dir.SessionMembers(s.ID) {
		if _, skipped := skip[conn.ParticipantID()]; skipped {
			continue
		}
		if err := conn.WriteJSON(env); err != nil {
			m.log.Warn("broadcast delivery failed",
				zap.String("session", s.ID),
				zap.String("participant", conn.ParticipantID()),
				zap.Error(err))
		}
	}
}
