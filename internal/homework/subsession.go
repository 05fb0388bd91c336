package homework

import (
	"sort"
	"sync"
	"time"

	"lectern/pkg/types"
)

// Key identifies a homework subsession: one lesson worked inside one
// instructor session.
type Key struct {
	LessonID  string
	SessionID string
}

// Subsession holds per-learner homework state. Workspaces and terminals are
// private to their learner; they leave the subsession only through the
// spotlight mirror or the control redirect, never through the main session
// workspace.
type Subsession struct {
	Key       Key
	CreatedAt time.Time

	mu        sync.Mutex
	starter   types.Workspace
	joined    map[string]struct{}
	workspace map[string]types.Workspace
	terminal  map[string][]byte
}

func newSubsession(key Key, starter types.Workspace) *Subsession {
	return &Subsession{
		Key:       key,
		CreatedAt: time.Now(),
		starter:   starter,
		joined:    make(map[string]struct{}),
		workspace: make(map[string]types.Workspace),
		terminal:  make(map[string][]byte),
	}
}

// joinLocked adds a learner, seeding their workspace from the lesson starter
// files the first time they appear.
func (s *Subsession) joinLocked(learnerID string) {
	s.joined[learnerID] = struct{}{}
	if _, seeded := s.workspace[learnerID]; !seeded {
		s.workspace[learnerID] = s.starter.Clone()
	}
}

func (s *Subsession) presenceLocked() []string {
	out := make([]string, 0, len(s.joined))
	for id := range s.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// appendTerminalLocked appends output, trimming the front when the buffer
// exceeds cap so only the most recent output survives.
func (s *Subsession) appendTerminalLocked(learnerID, text string, capBytes int) {
	buf := append(s.terminal[learnerID], text...)
	if capBytes > 0 && len(buf) > capBytes {
		buf = buf[len(buf)-capBytes:]
	}
	s.terminal[learnerID] = buf
}

func (s *Subsession) snapshotLocked(learnerID string) *types.HomeworkSnapshot {
	return &types.HomeworkSnapshot{
		LessonID:  s.Key.LessonID,
		SessionID: s.Key.SessionID,
		Workspace: s.workspace[learnerID].Clone(),
		Terminal:  string(s.terminal[learnerID]),
	}
}
