package homework

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"lectern/pkg/interfaces"
	"lectern/pkg/metrics"
	"lectern/pkg/types"
)

// Referencer reports whether any live signaling exchange still references a
// session, which blocks subsession teardown until negotiation finishes.
type Referencer interface {
	PendingForSession(sessionID string) bool
}

// Manager owns every homework subsession. It is transport-free: callers do
// their own fan-out from the values it returns, which keeps the state model
// isolated from delivery concerns.
type Manager struct {
	mu      sync.Mutex
	subs    map[Key]*Subsession
	current map[string]map[string]Key // sessionID -> learnerID -> subsession
	store   interfaces.LessonStore
	refs    Referencer
	termCap int
	log     *zap.Logger
}

// NewManager creates a subsession manager. store provides lesson starter
// files and receives homework archives; termCap bounds each learner's
// retained terminal output in bytes.
func NewManager(store interfaces.LessonStore, refs Referencer, termCap int, log *zap.Logger) *Manager {
	return &Manager{
		subs:    make(map[Key]*Subsession),
		current: make(map[string]map[string]Key),
		store:   store,
		refs:    refs,
		termCap: termCap,
		log:     log,
	}
}

// Join adds a learner to a subsession, creating it on first join. Starter
// files are fetched from the lesson store exactly once, at creation; a
// missing lesson degrades to an empty workspace.
func (m *Manager) Join(ctx context.Context, key Key, learnerID string) (*types.HomeworkSnapshot, []string, error) {
	m.mu.Lock()
	sub, exists := m.subs[key]
	if !exists {
		starter, err := m.store.LessonFiles(ctx, key.LessonID)
		if err != nil && !errors.Is(err, interfaces.ErrLessonNotFound) {
			m.mu.Unlock()
			return nil, nil, err
		}
		sub = newSubsession(key, starter)
		m.subs[key] = sub
		metrics.ActiveSubsessions.Inc()
		m.log.Info("homework subsession created",
			zap.String("lesson", key.LessonID),
			zap.String("session", key.SessionID))
	}
	if m.current[key.SessionID] == nil {
		m.current[key.SessionID] = make(map[string]Key)
	}
	m.current[key.SessionID][learnerID] = key
	m.mu.Unlock()

	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.joinLocked(learnerID)
	return sub.snapshotLocked(learnerID), sub.presenceLocked(), nil
}

// Leave removes a learner, archives their workspace, and tears the
// subsession down once its presence set is empty and no signaling exchange
// still references the session.
func (m *Manager) Leave(ctx context.Context, key Key, learnerID string) ([]string, error) {
	m.mu.Lock()
	sub, exists := m.subs[key]
	if !exists {
		m.mu.Unlock()
		return nil, ErrSubsessionNotFound
	}
	if cur, ok := m.current[key.SessionID][learnerID]; ok && cur == key {
		delete(m.current[key.SessionID], learnerID)
	}
	m.mu.Unlock()

	sub.mu.Lock()
	if _, joined := sub.joined[learnerID]; !joined {
		sub.mu.Unlock()
		return nil, ErrNotJoined
	}
	delete(sub.joined, learnerID)
	ws := sub.workspace[learnerID].Clone()
	presence := sub.presenceLocked()
	empty := len(sub.joined) == 0
	sub.mu.Unlock()

	if err := m.store.SaveHomework(ctx, key.LessonID, key.SessionID, learnerID, ws); err != nil {
		m.log.Warn("homework archive failed",
			zap.String("lesson", key.LessonID),
			zap.String("learner", learnerID),
			zap.Error(err))
	}

	if empty && !m.refs.PendingForSession(key.SessionID) {
		m.remove(key)
	}
	return presence, nil
}

// LeaveAll removes a learner from whatever subsession they are in, used on
// disconnect when no explicit leave arrived.
func (m *Manager) LeaveAll(ctx context.Context, sessionID, learnerID string) {
	m.mu.Lock()
	key, ok := m.current[sessionID][learnerID]
	m.mu.Unlock()
	if !ok {
		return
	}
	if _, err := m.Leave(ctx, key, learnerID); err != nil && !errors.Is(err, ErrSubsessionNotFound) {
		m.log.Warn("homework leave on disconnect failed",
			zap.String("session", sessionID),
			zap.String("learner", learnerID),
			zap.Error(err))
	}
}

// EndSession archives and discards every subsession belonging to a session.
// Called when the owning instructor disconnects.
func (m *Manager) EndSession(ctx context.Context, sessionID string) {
	m.mu.Lock()
	var keys []Key
	for key := range m.subs {
		if key.SessionID == sessionID {
			keys = append(keys, key)
		}
	}
	delete(m.current, sessionID)
	m.mu.Unlock()

	for _, key := range keys {
		m.mu.Lock()
		sub, exists := m.subs[key]
		m.mu.Unlock()
		if !exists {
			continue
		}
		sub.mu.Lock()
		workspaces := make(map[string]types.Workspace, len(sub.workspace))
		for id, ws := range sub.workspace {
			workspaces[id] = ws.Clone()
		}
		sub.mu.Unlock()
		for learnerID, ws := range workspaces {
			if err := m.store.SaveHomework(ctx, key.LessonID, key.SessionID, learnerID, ws); err != nil {
				m.log.Warn("homework archive failed",
					zap.String("lesson", key.LessonID),
					zap.String("learner", learnerID),
					zap.Error(err))
			}
		}
		m.remove(key)
	}
}

// UpdateWorkspace replaces a learner's homework workspace. Sender may be the
// learner themselves or the instructor redirecting edits while holding
// control; the caller enforces which.
func (m *Manager) UpdateWorkspace(key Key, learnerID string, ws types.Workspace) error {
	sub, err := m.get(key)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if _, joined := sub.joined[learnerID]; !joined {
		return ErrNotJoined
	}
	sub.workspace[learnerID] = ws.Clone()
	return nil
}

// AppendTerminal appends output to a learner's terminal buffer.
func (m *Manager) AppendTerminal(key Key, learnerID, text string) error {
	sub, err := m.get(key)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if _, joined := sub.joined[learnerID]; !joined {
		return ErrNotJoined
	}
	sub.appendTerminalLocked(learnerID, text, m.termCap)
	return nil
}

// CurrentKey returns the subsession a learner is presently working in.
func (m *Manager) CurrentKey(sessionID, learnerID string) (Key, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.current[sessionID][learnerID]
	return key, ok
}

// SnapshotFor returns a learner's current homework state, used by the
// spotlight mirror and the control redirect.
func (m *Manager) SnapshotFor(sessionID, learnerID string) (*types.HomeworkSnapshot, error) {
	key, ok := m.CurrentKey(sessionID, learnerID)
	if !ok {
		return nil, ErrSubsessionNotFound
	}
	sub, err := m.get(key)
	if err != nil {
		return nil, err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.snapshotLocked(learnerID), nil
}

// Presence returns the learners currently live in a subsession.
func (m *Manager) Presence(key Key) ([]string, error) {
	sub, err := m.get(key)
	if err != nil {
		return nil, err
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.presenceLocked(), nil
}

func (m *Manager) get(key Key) (*Subsession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, exists := m.subs[key]
	if !exists {
		return nil, ErrSubsessionNotFound
	}
	return sub, nil
}

func (m *Manager) remove(key Key) {
	m.mu.Lock()
	if _, exists := m.subs[key]; exists {
		delete(m.subs, key)
		metrics.ActiveSubsessions.Dec()
		m.log.Info("homework subsession discarded",
			zap.String("lesson", key.LessonID),
			zap.String("session", key.SessionID))
	}
	m.mu.Unlock()
}
