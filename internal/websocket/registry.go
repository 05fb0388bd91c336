package websocket

import (
	"sync"

	"go.uber.org/zap"

	"lectern/pkg/interfaces"
	"lectern/pkg/metrics"
	"lectern/pkg/types"
)

// Registry tracks live connections by participant and by session role. It is
// pure connection bookkeeping: no session semantics live here.
type Registry struct {
	mu                 sync.RWMutex
	participants       map[string]interfaces.Connection            // participantID -> connection
	sessionInstructors map[string]map[string]interfaces.Connection // sessionID -> participantID -> connection
	sessionLearners    map[string]map[string]interfaces.Connection
	log                *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		participants:       make(map[string]interfaces.Connection),
		sessionInstructors: make(map[string]map[string]interfaces.Connection),
		sessionLearners:    make(map[string]map[string]interfaces.Connection),
		log:                log,
	}
}

// Register adds a connection, replacing (and closing) any previous
// connection for the same participant so a reconnect wins immediately.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	participantID := conn.ParticipantID()
	sessionID := conn.SessionID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.participants[participantID]; ok {
		// Close asynchronously: the old connection's cleanup path takes
		// this lock too.
		go func() {
			if err := existing.Close(); err != nil {
				r.log.Warn("failed to close replaced connection",
					zap.String("participant", participantID), zap.Error(err))
			}
		}()
	} else {
		metrics.ActiveConnections.Inc()
	}

	r.participants[participantID] = conn

	byRole := r.sessionLearners
	if conn.Role() == types.RoleInstructor {
		byRole = r.sessionInstructors
	}
	if byRole[sessionID] == nil {
		byRole[sessionID] = make(map[string]interfaces.Connection)
	}
	byRole[sessionID][participantID] = conn
	return nil
}

// Unregister removes a connection. It only removes the exact instance that
// is registered, so a stale connection never evicts its replacement.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	participantID := conn.ParticipantID()

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.participants[participantID]
	if !ok || registered.ConnectionID() != conn.ConnectionID() {
		return
	}

	delete(r.participants, participantID)
	metrics.ActiveConnections.Dec()

	sessionID := conn.SessionID()
	byRole := r.sessionLearners
	if conn.Role() == types.RoleInstructor {
		byRole = r.sessionInstructors
	}
	if members, exists := byRole[sessionID]; exists {
		delete(members, participantID)
		if len(members) == 0 {
			delete(byRole, sessionID)
		}
	}
}

// Participant returns the live connection for a participant.
func (r *Registry) Participant(participantID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.participants[participantID]
	return conn, ok
}

// SessionMembers returns every connection in a session, instructor first.
func (r *Registry) SessionMembers(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.sessionInstructors[sessionID] {
		conns = append(conns, conn)
	}
	for _, conn := range r.sessionLearners[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// SessionInstructor returns the instructor connection for a session, if
// connected.
func (r *Registry) SessionInstructor(sessionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conn := range r.sessionInstructors[sessionID] {
		return conn, true
	}
	return nil, false
}

// SessionLearners returns the learner connections for a session.
func (r *Registry) SessionLearners(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.sessionLearners[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// Stats returns connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make(map[string]struct{})
	for id := range r.sessionInstructors {
		sessions[id] = struct{}{}
	}
	for id := range r.sessionLearners {
		sessions[id] = struct{}{}
	}
	return map[string]int{
		"connections": len(r.participants),
		"sessions":    len(sessions),
	}
}
