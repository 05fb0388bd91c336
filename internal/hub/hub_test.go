package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lectern/internal/chat"
	"lectern/internal/classroom"
	"lectern/internal/homework"
	"lectern/internal/signaling"
	"lectern/pkg/interfaces"
	"lectern/pkg/types"
)

type fakeConn struct {
	mu            sync.Mutex
	connectionID  string
	participantID string
	role          string
	sessionID     string
	closed        bool
	envelopes     []types.Envelope
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.envelopes = append(c.envelopes, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) ConnectionID() string  { return c.connectionID }
func (c *fakeConn) ParticipantID() string { return c.participantID }
func (c *fakeConn) Role() string          { return c.role }
func (c *fakeConn) SessionID() string     { return c.sessionID }

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) lastOfType(msgType string) (types.Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.envelopes) - 1; i >= 0; i-- {
		if c.envelopes[i].Type == msgType {
			return c.envelopes[i], true
		}
	}
	return types.Envelope{}, false
}

func (c *fakeConn) countOfType(msgType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, env := range c.envelopes {
		if env.Type == msgType {
			n++
		}
	}
	return n
}

// fakeDirectory serves both the classroom fan-out and the hub lookups.
type fakeDirectory struct {
	mu    sync.Mutex
	conns map[string]*fakeConn
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{conns: make(map[string]*fakeConn)}
}

func (d *fakeDirectory) add(conn *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[conn.participantID] = conn
}

func (d *fakeDirectory) remove(participantID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, participantID)
}

func (d *fakeDirectory) Participant(participantID string) (interfaces.Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn, ok := d.conns[participantID]
	return conn, ok
}

func (d *fakeDirectory) SessionMembers(sessionID string) []interfaces.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []interfaces.Connection
	for _, conn := range d.conns {
		if conn.sessionID == sessionID {
			out = append(out, conn)
		}
	}
	return out
}

func (d *fakeDirectory) SessionInstructor(sessionID string) (interfaces.Connection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, conn := range d.conns {
		if conn.sessionID == sessionID && conn.role == types.RoleInstructor {
			return conn, true
		}
	}
	return nil, false
}

type fakeStore struct {
	mu      sync.Mutex
	lessons map[string]types.Workspace
	saved   map[string]types.Workspace
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		lessons: make(map[string]types.Workspace),
		saved:   make(map[string]types.Workspace),
	}
}

func (f *fakeStore) LessonFiles(ctx context.Context, lessonID string) (types.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.lessons[lessonID]
	if !ok {
		return types.Workspace{}, interfaces.ErrLessonNotFound
	}
	return ws.Clone(), nil
}

func (f *fakeStore) ArchiveChatMessage(ctx context.Context, msg *types.ChatMessage) error { return nil }

func (f *fakeStore) ChatThread(ctx context.Context, a, b string) ([]types.ChatMessage, error) {
	return nil, nil
}

func (f *fakeStore) SaveHomework(ctx context.Context, lessonID, sessionID, learnerID string, ws types.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[lessonID+"/"+sessionID+"/"+learnerID] = ws.Clone()
	return nil
}

type testBench struct {
	hub        *Hub
	dir        *fakeDirectory
	store      *fakeStore
	instructor *fakeConn
	learnerA   *fakeConn
	learnerB   *fakeConn
}

func newBench(t *testing.T) *testBench {
	t.Helper()
	dir := newFakeDirectory()
	store := newFakeStore()
	store.lessons["lesson-1"] = types.Workspace{
		Files: []types.File{{Name: "exercise.go", Content: "package main"}},
	}

	signalRelay := signaling.NewRelay(dir, 0, zap.NewNop())
	homeworkMgr := homework.NewManager(store, signalRelay, 1024, zap.NewNop())
	chatRelay := chat.NewRelay(dir, store, zap.NewNop())
	classroomMgr := classroom.NewManager(dir, zap.NewNop())
	h := New(classroomMgr, homeworkMgr, signalRelay, chatRelay, dir, zap.NewNop())

	b := &testBench{
		hub:        h,
		dir:        dir,
		store:      store,
		instructor: &fakeConn{connectionID: "c0", participantID: "teach", role: types.RoleInstructor, sessionID: "s1"},
		learnerA:   &fakeConn{connectionID: "c1", participantID: "ada", role: types.RoleLearner, sessionID: "s1"},
		learnerB:   &fakeConn{connectionID: "c2", participantID: "bob", role: types.RoleLearner, sessionID: "s1"},
	}
	for _, conn := range []*fakeConn{b.instructor, b.learnerA, b.learnerB} {
		dir.add(conn)
		h.HandleJoin(conn)
	}
	return b
}

func envelope(t *testing.T, msgType, sessionID string, payload interface{}) *types.Envelope {
	t.Helper()
	env := types.NewEnvelope(msgType, payload)
	env.SessionID = sessionID
	return env
}

func decodeAs[T any](t *testing.T, env types.Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}

func (b *testBench) joinHomework(t *testing.T, conn *fakeConn, lessonID string) {
	t.Helper()
	env := envelope(t, types.MessageTypeJoin, "s1", nil)
	env.LessonID = lessonID
	b.hub.Dispatch(conn, env)
	_, ok := conn.lastOfType(types.MessageTypeHomeworkSnapshot)
	require.True(t, ok, "expected homework snapshot after join")
}

func TestJoinDeliversSnapshot(t *testing.T) {
	b := newBench(t)

	env, ok := b.learnerA.lastOfType(types.MessageTypeSnapshot)
	require.True(t, ok)
	snap := decodeAs[types.Snapshot](t, env)
	assert.Equal(t, "s1", snap.SessionID)
	assert.Equal(t, "teach", snap.InstructorID)
}

func TestWorkspaceUpdateFansOut(t *testing.T) {
	b := newBench(t)

	ws := types.Workspace{Files: []types.File{{Name: "main.go", Content: "shared edit"}}}
	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))

	env, ok := b.instructor.lastOfType(types.MessageTypeWorkspaceUpdate)
	require.True(t, ok)
	payload := decodeAs[types.WorkspacePayload](t, env)
	assert.Equal(t, "shared edit", payload.Workspace.Files[0].Content)

	_, ok = b.learnerB.lastOfType(types.MessageTypeWorkspaceUpdate)
	assert.True(t, ok)
	assert.Zero(t, b.learnerA.countOfType(types.MessageTypeWorkspaceUpdate))
	assert.Zero(t, b.learnerA.countOfType(types.MessageTypeError))
}

func TestFrozenLearnerUpdateRejected(t *testing.T) {
	b := newBench(t)

	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeToggleFreeze, "s1", nil))
	require.Equal(t, 1, b.learnerA.countOfType(types.MessageTypeFreezeChanged))

	ws := types.Workspace{Files: []types.File{{Name: "main.go", Content: "blocked"}}}
	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))

	env, ok := b.learnerA.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	rejection := decodeAs[types.ErrorPayload](t, env)
	assert.Equal(t, types.CodeFrozen, rejection.Code)
	assert.Zero(t, b.instructor.countOfType(types.MessageTypeWorkspaceUpdate))

	// Unfreeze and the same update goes through.
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeToggleFreeze, "s1", nil))
	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))
	assert.Equal(t, 1, b.instructor.countOfType(types.MessageTypeWorkspaceUpdate))
}

func TestInvalidWorkspaceRejected(t *testing.T) {
	b := newBench(t)

	ws := types.Workspace{Files: []types.File{{Name: "a.go"}, {Name: "a.go"}}}
	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))

	env, ok := b.learnerA.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeBadRequest, decodeAs[types.ErrorPayload](t, env).Code)
}

func TestHomeworkJoinAndRoster(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	env, ok := b.learnerA.lastOfType(types.MessageTypeHomeworkSnapshot)
	require.True(t, ok)
	snap := decodeAs[types.HomeworkSnapshot](t, env)
	assert.Equal(t, "lesson-1", snap.LessonID)
	require.Len(t, snap.Workspace.Files, 1)
	assert.Equal(t, "package main", snap.Workspace.Files[0].Content)

	env, ok = b.instructor.lastOfType(types.MessageTypeHomeworkRoster)
	require.True(t, ok)
	roster := decodeAs[types.HomeworkRoster](t, env)
	assert.Equal(t, []string{"ada"}, roster.Learners)
}

func TestHomeworkUpdateStaysPrivate(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	ws := types.Workspace{Files: []types.File{{Name: "exercise.go", Content: "private work"}}}
	env := envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws})
	env.LessonID = "lesson-1"
	b.hub.Dispatch(b.learnerA, env)

	assert.Zero(t, b.learnerA.countOfType(types.MessageTypeError))
	assert.Zero(t, b.instructor.countOfType(types.MessageTypeWorkspaceUpdate))
	assert.Zero(t, b.learnerB.countOfType(types.MessageTypeWorkspaceUpdate))
}

func TestHomeworkLeaveArchives(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	env := envelope(t, types.MessageTypeLeave, "s1", nil)
	env.LessonID = "lesson-1"
	b.hub.Dispatch(b.learnerA, env)

	b.store.mu.Lock()
	_, saved := b.store.saved["lesson-1/s1/ada"]
	b.store.mu.Unlock()
	assert.True(t, saved)

	roster, ok := b.instructor.lastOfType(types.MessageTypeHomeworkRoster)
	require.True(t, ok)
	assert.Empty(t, decodeAs[types.HomeworkRoster](t, roster).Learners)
}

func TestControlRedirect(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeTakeControl, "s1", &types.ControlPayload{LearnerID: "ada"}))
	require.Equal(t, 1, b.learnerB.countOfType(types.MessageTypeControlChanged))

	// The instructor's edit lands in ada's homework workspace and is pushed
	// only to ada, not broadcast to the session.
	ws := types.Workspace{Files: []types.File{{Name: "exercise.go", Content: "instructor fix"}}}
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))

	env, ok := b.learnerA.lastOfType(types.MessageTypeWorkspaceUpdate)
	require.True(t, ok)
	assert.Equal(t, "lesson-1", env.LessonID)
	payload := decodeAs[types.WorkspacePayload](t, env)
	assert.Equal(t, "instructor fix", payload.Workspace.Files[0].Content)
	assert.Zero(t, b.learnerB.countOfType(types.MessageTypeWorkspaceUpdate))

	// Release restores normal broadcast.
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeReleaseControl, "s1", nil))
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))
	assert.Equal(t, 1, b.learnerB.countOfType(types.MessageTypeWorkspaceUpdate))
}

func TestControlRedirectWithoutSubsession(t *testing.T) {
	b := newBench(t)
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeTakeControl, "s1", &types.ControlPayload{LearnerID: "ada"}))

	ws := types.Workspace{Files: []types.File{{Name: "main.go", Content: "x"}}}
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws}))

	env, ok := b.instructor.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeSubsessionNotFound, decodeAs[types.ErrorPayload](t, env).Code)
}

func TestSpotlightMirrorsHomework(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeSpotlight, "s1", &types.SpotlightPayload{LearnerID: "ada"}))

	// Everyone got the spotlight event and the initial mirror.
	require.Equal(t, 1, b.learnerB.countOfType(types.MessageTypeSpotlightChanged))
	env, ok := b.learnerB.lastOfType(types.MessageTypeSpotlightWorkspace)
	require.True(t, ok)
	assert.Equal(t, "ada", env.From)

	// Subsequent homework edits keep flowing to the whole session.
	ws := types.Workspace{Files: []types.File{{Name: "exercise.go", Content: "live demo"}}}
	edit := envelope(t, types.MessageTypeWorkspaceUpdate, "s1", &types.WorkspacePayload{Workspace: ws})
	edit.LessonID = "lesson-1"
	b.hub.Dispatch(b.learnerA, edit)

	env, ok = b.instructor.lastOfType(types.MessageTypeSpotlightWorkspace)
	require.True(t, ok)
	payload := decodeAs[types.WorkspacePayload](t, env)
	assert.Equal(t, "live demo", payload.Workspace.Files[0].Content)

	// Terminal output is mirrored too.
	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeTerminalOut, "s1", &types.TerminalPayload{Text: "$ go run ."}))
	termEnv, ok := b.learnerB.lastOfType(types.MessageTypeSpotlightTerminal)
	require.True(t, ok)
	assert.Equal(t, "$ go run .", decodeAs[types.TerminalPayload](t, termEnv).Text)

	// Clearing the spotlight stops the mirror.
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeSpotlight, "s1", &types.SpotlightPayload{LearnerID: ""}))
	before := b.learnerB.countOfType(types.MessageTypeSpotlightWorkspace)
	b.hub.Dispatch(b.learnerA, edit)
	assert.Equal(t, before, b.learnerB.countOfType(types.MessageTypeSpotlightWorkspace))
}

func TestTerminalInRouting(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	// No control lock: instructor terminal input has no target.
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeTerminalIn, "s1", &types.TerminalPayload{Text: "ls\n"}))
	env, ok := b.instructor.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeInvalidTarget, decodeAs[types.ErrorPayload](t, env).Code)

	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeTakeControl, "s1", &types.ControlPayload{LearnerID: "ada"}))
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeTerminalIn, "s1", &types.TerminalPayload{Text: "ls\n"}))

	termEnv, ok := b.learnerA.lastOfType(types.MessageTypeTerminalIn)
	require.True(t, ok)
	assert.Equal(t, "ls\n", decodeAs[types.TerminalPayload](t, termEnv).Text)
}

func TestTerminalInFreezeGate(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeToggleFreeze, "s1", nil))

	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeTerminalIn, "s1", &types.TerminalPayload{Text: "make\n"}))
	env, ok := b.learnerA.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeFrozen, decodeAs[types.ErrorPayload](t, env).Code)
}

func TestSignalingScenario(t *testing.T) {
	b := newBench(t)

	offer := types.OfferPayload{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}}
	env := envelope(t, types.MessageTypeSignalOffer, "s1", &offer)
	env.To = "ada"
	b.hub.Dispatch(b.instructor, env)

	got, ok := b.learnerA.lastOfType(types.MessageTypeSignalOffer)
	require.True(t, ok)
	assert.Equal(t, "teach", got.From)

	// Candidates from the instructor buffer until ada answers.
	cand := types.CandidatePayload{Candidate: webrtc.ICECandidateInit{Candidate: "candidate:1"}}
	candEnv := envelope(t, types.MessageTypeSignalCandidate, "s1", &cand)
	candEnv.To = "ada"
	b.hub.Dispatch(b.instructor, candEnv)
	assert.Zero(t, b.learnerA.countOfType(types.MessageTypeSignalCandidate))

	answer := types.AnswerPayload{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}}
	ansEnv := envelope(t, types.MessageTypeSignalAnswer, "s1", &answer)
	ansEnv.To = "teach"
	b.hub.Dispatch(b.learnerA, ansEnv)

	_, ok = b.instructor.lastOfType(types.MessageTypeSignalAnswer)
	require.True(t, ok)
	assert.Equal(t, 1, b.learnerA.countOfType(types.MessageTypeSignalCandidate))
}

func TestSignalRequiresSessionMember(t *testing.T) {
	b := newBench(t)

	offer := types.OfferPayload{SDP: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}}
	env := envelope(t, types.MessageTypeSignalOffer, "s1", &offer)
	env.To = "stranger"
	b.hub.Dispatch(b.instructor, env)

	errEnv, ok := b.instructor.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeInvalidTarget, decodeAs[types.ErrorPayload](t, errEnv).Code)
}

func TestPrivateChatFlow(t *testing.T) {
	b := newBench(t)

	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypePrivateMessage, "s1", &types.ChatPayload{To: "ada", Text: "stuck?"}))

	// Recipient got the message, sender got the echo, bystander got nothing.
	env, ok := b.learnerA.lastOfType(types.MessageTypePrivateMessage)
	require.True(t, ok)
	msg := decodeAs[types.ChatMessage](t, env)
	assert.Equal(t, "stuck?", msg.Text)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, 1, b.instructor.countOfType(types.MessageTypePrivateMessage))
	assert.Zero(t, b.learnerB.countOfType(types.MessageTypePrivateMessage))

	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeChatRead, "s1", &types.ChatReadPayload{Peer: "teach", LastRead: 1}))

	// A reconnect replays the thread with the unread count resolved.
	b.dir.remove("ada")
	rejoined := &fakeConn{connectionID: "c9", participantID: "ada", role: types.RoleLearner, sessionID: "s1"}
	b.dir.add(rejoined)
	b.hub.HandleJoin(rejoined)

	histEnv, ok := rejoined.lastOfType(types.MessageTypeChatHistory)
	require.True(t, ok)
	hist := decodeAs[types.ChatHistory](t, histEnv)
	assert.Equal(t, "teach", hist.Peer)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, 0, hist.Unread)
}

func TestHandRaiseToggles(t *testing.T) {
	b := newBench(t)

	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeHandRaise, "s1", nil))
	env, ok := b.instructor.lastOfType(types.MessageTypeRoster)
	require.True(t, ok)
	assert.Equal(t, []string{"ada"}, decodeAs[types.Roster](t, env).HandsRaised)

	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeHandRaise, "s1", nil))
	env, _ = b.instructor.lastOfType(types.MessageTypeRoster)
	assert.Empty(t, decodeAs[types.Roster](t, env).HandsRaised)
}

func TestWhiteboardFlow(t *testing.T) {
	b := newBench(t)

	line := types.LineSegment{X1: 1, Y1: 1, X2: 2, Y2: 2}
	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeWhiteboardAppend, "s1", &types.WhiteboardPayload{Line: line}))
	assert.Equal(t, 1, b.learnerA.countOfType(types.MessageTypeWhiteboardAppend))

	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeWhiteboardAppend, "s1", &types.WhiteboardPayload{Line: line}))
	env, ok := b.learnerA.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeNotAuthorized, decodeAs[types.ErrorPayload](t, env).Code)

	b.hub.Dispatch(b.instructor, envelope(t, types.MessageTypeWhiteboardClear, "s1", nil))
	assert.Equal(t, 1, b.learnerB.countOfType(types.MessageTypeWhiteboardClear))
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	b := newBench(t)

	b.hub.Dispatch(b.learnerA, envelope(t, "teleport", "s1", nil))
	env, ok := b.learnerA.lastOfType(types.MessageTypeError)
	require.True(t, ok)
	assert.Equal(t, types.CodeBadRequest, decodeAs[types.ErrorPayload](t, env).Code)
}

func TestLearnerDisconnectCleanup(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	b.dir.remove("ada")
	b.hub.HandleDisconnect(b.learnerA)

	b.store.mu.Lock()
	_, saved := b.store.saved["lesson-1/s1/ada"]
	b.store.mu.Unlock()
	assert.True(t, saved)

	env, ok := b.instructor.lastOfType(types.MessageTypeRoster)
	require.True(t, ok)
	assert.Equal(t, []string{"bob"}, decodeAs[types.Roster](t, env).Learners)
}

func TestInstructorDisconnectEndsSession(t *testing.T) {
	b := newBench(t)
	b.joinHomework(t, b.learnerA, "lesson-1")

	b.dir.remove("teach")
	b.hub.HandleDisconnect(b.instructor)

	_, ok := b.learnerA.lastOfType(types.MessageTypeSessionEnded)
	assert.True(t, ok)
	assert.True(t, b.learnerA.isClosed())
	assert.True(t, b.learnerB.isClosed())

	// Homework was archived as part of teardown.
	b.store.mu.Lock()
	_, saved := b.store.saved["lesson-1/s1/ada"]
	b.store.mu.Unlock()
	assert.True(t, saved)
}

func TestResyncJoinWithoutLesson(t *testing.T) {
	b := newBench(t)

	before := b.learnerA.countOfType(types.MessageTypeSnapshot)
	b.hub.Dispatch(b.learnerA, envelope(t, types.MessageTypeJoin, "s1", nil))
	assert.Equal(t, before+1, b.learnerA.countOfType(types.MessageTypeSnapshot))
}
