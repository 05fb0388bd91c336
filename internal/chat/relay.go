package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lectern/pkg/interfaces"
	"lectern/pkg/metrics"
	"lectern/pkg/types"
)

// Sender resolves a live connection for delivery.
type Sender interface {
	Participant(participantID string) (interfaces.Connection, bool)
}

// pairKey identifies a thread by its unordered participant pair.
type pairKey struct {
	A string
	B string
}

func keyFor(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{A: a, B: b}
}

// thread is one private conversation. The message list is the log; unread
// counts are derived from each participant's last acknowledged read index,
// never stored separately.
type thread struct {
	messages []types.ChatMessage
	lastRead map[string]int // participant -> count of messages acknowledged read
}

// Relay is the private messaging channel between an instructor and a
// learner. Messages to an offline recipient stay in the thread and are
// replayed on their next join; every accepted message is also written
// through to the lesson store for durability beyond the session.
type Relay struct {
	mu      sync.Mutex
	threads map[pairKey]*thread
	conns   Sender
	store   interfaces.LessonStore
	log     *zap.Logger
}

// NewRelay creates a messaging relay delivering through conns and archiving
// through store.
func NewRelay(conns Sender, store interfaces.LessonStore, log *zap.Logger) *Relay {
	return &Relay{
		threads: make(map[pairKey]*thread),
		conns:   conns,
		store:   store,
		log:     log,
	}
}

// Send appends a timestamped message to the pair's thread and forwards it to
// the recipient if they are connected. An absent recipient is not an error:
// the thread itself is the durable log.
func (r *Relay) Send(ctx context.Context, from, to, text string) (*types.ChatMessage, error) {
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > types.MaxChatTextSize {
		return nil, ErrMessageTooLarge
	}
	if from == to {
		return nil, ErrSelfMessage
	}

	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: time.Now(),
	}

	r.mu.Lock()
	th := r.threads[keyFor(from, to)]
	if th == nil {
		th = &thread{lastRead: make(map[string]int)}
		r.threads[keyFor(from, to)] = th
	}
	th.messages = append(th.messages, msg)
	// The sender has read everything up to their own message.
	th.lastRead[from] = len(th.messages)
	r.mu.Unlock()

	if err := r.store.ArchiveChatMessage(ctx, &msg); err != nil {
		r.log.Warn("chat archive failed", zap.String("from", from), zap.Error(err))
	}

	if conn, ok := r.conns.Participant(to); ok {
		env := types.NewEnvelope(types.MessageTypePrivateMessage, &msg)
		env.From = from
		env.To = to
		if err := conn.WriteJSON(env); err == nil {
			metrics.ChatMessages.WithLabelValues("delivered").Inc()
			return &msg, nil
		}
	}
	metrics.ChatMessages.WithLabelValues("retained").Inc()
	return &msg, nil
}

// AckRead records that participant has read the thread with peer up to and
// including index lastRead.
func (r *Relay) AckRead(participant, peer string, lastRead int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	th := r.threads[keyFor(participant, peer)]
	if th == nil {
		return
	}
	if lastRead > len(th.messages) {
		lastRead = len(th.messages)
	}
	if lastRead > th.lastRead[participant] {
		th.lastRead[participant] = lastRead
	}
}

// Unread returns the number of messages from peer that participant has not
// acknowledged reading.
func (r *Relay) Unread(participant, peer string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	th := r.threads[keyFor(participant, peer)]
	if th == nil {
		return 0
	}
	return unreadLocked(th, participant, peer)
}

func unreadLocked(th *thread, participant, peer string) int {
	count := 0
	for i := th.lastRead[participant]; i < len(th.messages); i++ {
		if th.messages[i].From == peer {
			count++
		}
	}
	return count
}

// HistoryFor returns every thread involving participant, for replay on join.
// Threads are ordered by peer ID so replay is deterministic.
func (r *Relay) HistoryFor(participant string) []types.ChatHistory {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.ChatHistory
	for key, th := range r.threads {
		var peer string
		switch participant {
		case key.A:
			peer = key.B
		case key.B:
			peer = key.A
		default:
			continue
		}
		msgs := make([]types.ChatMessage, len(th.messages))
		copy(msgs, th.messages)
		out = append(out, types.ChatHistory{
			Peer:     peer,
			Messages: msgs,
			Unread:   unreadLocked(th, participant, peer),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// ClearParticipant drops in-memory threads involving participant, used when
// their session is torn down. The archived copies in the lesson store are
// unaffected.
func (r *Relay) ClearParticipant(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.threads {
		if key.A == participantID || key.B == participantID {
			delete(r.threads, key)
		}
	}
}
