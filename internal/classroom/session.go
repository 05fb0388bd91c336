package classroom

import (
	"sort"
	"sync"
	"time"

	"lectern/pkg/types"
)

// Session is the owned state of one live classroom. Every mutation and its
// fan-out happen under mu, so each recipient observes changes in the exact
// order the server applied them. Cross-session operations never share a lock.
type Session struct {
	ID           string
	InstructorID string
	CreatedAt    time.Time

	mu                   sync.Mutex
	learners             map[string]struct{}
	workspace            types.Workspace
	controlledLearnerID  string
	frozen               bool
	spotlightedLearnerID string
	whiteboard           []types.LineSegment
	handsRaised          map[string]struct{}
}

func newSession(id, instructorID string) *Session {
	return &Session{
		ID:           id,
		InstructorID: instructorID,
		CreatedAt:    time.Now(),
		learners:     make(map[string]struct{}),
		handsRaised:  make(map[string]struct{}),
	}
}

// snapshotLocked builds the full join snapshot. Callers hold mu.
func (s *Session) snapshotLocked() *types.Snapshot {
	wb := make([]types.LineSegment, len(s.whiteboard))
	copy(wb, s.whiteboard)
	return &types.Snapshot{
		SessionID:            s.ID,
		InstructorID:         s.InstructorID,
		Learners:             sortedKeys(s.learners),
		Workspace:            s.workspace.Clone(),
		ControlledLearnerID:  s.controlledLearnerID,
		Frozen:               s.frozen,
		SpotlightedLearnerID: s.spotlightedLearnerID,
		Whiteboard:           wb,
		HandsRaised:          sortedKeys(s.handsRaised),
	}
}

func (s *Session) rosterLocked() *types.Roster {
	return &types.Roster{
		SessionID:    s.ID,
		InstructorID: s.InstructorID,
		Learners:     sortedKeys(s.learners),
		HandsRaised:  sortedKeys(s.handsRaised),
	}
}

func (s *Session) hasLearnerLocked(learnerID string) bool {
	_, ok := s.learners[learnerID]
	return ok
}

// ControlledLearner returns the learner currently under instructor control,
// or "" when the session is uncontrolled.
func (s *Session) ControlledLearner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlledLearnerID
}

// SpotlightedLearner returns the learner currently mirrored to the session,
// or "" when no spotlight is active.
func (s *Session) SpotlightedLearner() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spotlightedLearnerID
}

// Frozen reports whether learner-originated edits are currently suspended.
func (s *Session) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// HasLearner reports whether learnerID is currently joined.
func (s *Session) HasLearner(learnerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLearnerLocked(learnerID)
}

// Learners returns the joined learner IDs in stable order.
func (s *Session) Learners() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.learners)
}

// Workspace returns a copy of the current shared workspace.
func (s *Session) Workspace() types.Workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace.Clone()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
