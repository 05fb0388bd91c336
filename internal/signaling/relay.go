package signaling

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"lectern/pkg/interfaces"
	"lectern/pkg/metrics"
	"lectern/pkg/types"
)

// DefaultQueueCap bounds buffered candidates per directed pair. Queues are
// cleared on answer flush or session teardown, so the cap only matters when
// an answer never arrives.
const DefaultQueueCap = 64

// Sender resolves a live connection for message forwarding.
type Sender interface {
	Participant(participantID string) (interfaces.Connection, bool)
}

// pairKey identifies a directed candidate queue: candidates from From that
// To cannot apply yet.
type pairKey struct {
	From string
	To   string
}

// exchangeKey identifies a negotiation between two peers regardless of
// direction.
type exchangeKey struct {
	A string
	B string
}

func keyFor(a, b string) exchangeKey {
	if a > b {
		a, b = b, a
	}
	return exchangeKey{A: a, B: b}
}

type exchange struct {
	sessionID            string
	offerOutstanding     bool
	hasRemoteDescription bool
}

// Relay forwards peer-connection negotiation between exactly two parties.
// It never interprets offer or answer contents; its only state is the
// per-pair FIFO of candidates that arrived before the remote description
// existed to apply them against.
type Relay struct {
	mu        sync.Mutex
	exchanges map[exchangeKey]*exchange
	queues    map[pairKey][]webrtc.ICECandidateInit
	conns     Sender
	queueCap  int
	log       *zap.Logger
}

// NewRelay creates a signaling relay delivering through conns.
func NewRelay(conns Sender, queueCap int, log *zap.Logger) *Relay {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	return &Relay{
		exchanges: make(map[exchangeKey]*exchange),
		queues:    make(map[pairKey][]webrtc.ICECandidateInit),
		conns:     conns,
		queueCap:  queueCap,
		log:       log,
	}
}

// RelayOffer forwards an offer, enforcing that at most one offer is
// outstanding per pair at a time.
func (r *Relay) RelayOffer(sessionID, from, to string, sdp webrtc.SessionDescription) error {
	r.mu.Lock()
	ex := r.exchanges[keyFor(from, to)]
	if ex != nil && ex.offerOutstanding {
		r.mu.Unlock()
		return ErrOfferOutstanding
	}
	if ex == nil {
		ex = &exchange{sessionID: sessionID}
		r.exchanges[keyFor(from, to)] = ex
	}
	ex.offerOutstanding = true
	r.mu.Unlock()

	env := types.NewEnvelope(types.MessageTypeSignalOffer, &types.OfferPayload{SDP: sdp})
	env.From = from
	env.To = to
	if err := r.deliver(to, env); err != nil {
		// Roll back so the sender can retry once the peer connects.
		r.mu.Lock()
		ex.offerOutstanding = false
		r.mu.Unlock()
		return err
	}
	metrics.SignalsRelayed.WithLabelValues("offer").Inc()
	return nil
}

// RelayAnswer forwards an answer and then flushes the buffered candidate
// queues for the pair in arrival order: first the answerer's queue to the
// offerer, then the reverse direction.
func (r *Relay) RelayAnswer(sessionID, from, to string, sdp webrtc.SessionDescription) error {
	r.mu.Lock()
	ex := r.exchanges[keyFor(from, to)]
	if ex == nil || !ex.offerOutstanding {
		r.mu.Unlock()
		return ErrNoOfferOutstanding
	}
	ex.offerOutstanding = false
	ex.hasRemoteDescription = true
	forward := r.takeQueueLocked(pairKey{From: from, To: to})
	reverse := r.takeQueueLocked(pairKey{From: to, To: from})
	r.mu.Unlock()

	env := types.NewEnvelope(types.MessageTypeSignalAnswer, &types.AnswerPayload{SDP: sdp})
	env.From = from
	env.To = to
	if err := r.deliver(to, env); err != nil {
		return err
	}
	metrics.SignalsRelayed.WithLabelValues("answer").Inc()

	r.flush(from, to, forward)
	r.flush(to, from, reverse)
	return nil
}

// RelayCandidate forwards a candidate, or buffers it FIFO while the pair has
// no remote description to apply it against. Candidates sent before any
// offer exists are buffered rather than dropped.
func (r *Relay) RelayCandidate(sessionID, from, to string, cand webrtc.ICECandidateInit) error {
	r.mu.Lock()
	ex := r.exchanges[keyFor(from, to)]
	if ex == nil {
		ex = &exchange{sessionID: sessionID}
		r.exchanges[keyFor(from, to)] = ex
	}
	if !ex.hasRemoteDescription {
		key := pairKey{From: from, To: to}
		if len(r.queues[key]) >= r.queueCap {
			r.mu.Unlock()
			return ErrQueueFull
		}
		r.queues[key] = append(r.queues[key], cand)
		r.mu.Unlock()
		metrics.SignalsRelayed.WithLabelValues("buffered").Inc()
		return nil
	}
	r.mu.Unlock()

	env := types.NewEnvelope(types.MessageTypeSignalCandidate, &types.CandidatePayload{Candidate: cand})
	env.From = from
	env.To = to
	if err := r.deliver(to, env); err != nil {
		return err
	}
	metrics.SignalsRelayed.WithLabelValues("candidate").Inc()
	return nil
}

// PendingForSession reports whether any exchange in a session still has an
// outstanding offer or buffered candidates. Homework teardown waits on this.
func (r *Relay) PendingForSession(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, ex := range r.exchanges {
		if ex.sessionID != sessionID {
			continue
		}
		if ex.offerOutstanding {
			return true
		}
		if len(r.queues[pairKey{From: key.A, To: key.B}]) > 0 ||
			len(r.queues[pairKey{From: key.B, To: key.A}]) > 0 {
			return true
		}
	}
	return false
}

// ClearParticipant discards all exchanges and queues involving a
// disconnected participant.
func (r *Relay) ClearParticipant(participantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.exchanges {
		if key.A == participantID || key.B == participantID {
			delete(r.exchanges, key)
			delete(r.queues, pairKey{From: key.A, To: key.B})
			delete(r.queues, pairKey{From: key.B, To: key.A})
		}
	}
}

// ClearSession discards all signaling state for a torn-down session.
func (r *Relay) ClearSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, ex := range r.exchanges {
		if ex.sessionID == sessionID {
			delete(r.exchanges, key)
			delete(r.queues, pairKey{From: key.A, To: key.B})
			delete(r.queues, pairKey{From: key.B, To: key.A})
		}
	}
}

func (r *Relay) takeQueueLocked(key pairKey) []webrtc.ICECandidateInit {
	queued := r.queues[key]
	delete(r.queues, key)
	return queued
}

// flush delivers previously buffered candidates in their arrival order.
func (r *Relay) flush(from, to string, queued []webrtc.ICECandidateInit) {
	for _, cand := range queued {
		env := types.NewEnvelope(types.MessageTypeSignalCandidate, &types.CandidatePayload{Candidate: cand})
		env.From = from
		env.To = to
		if err := r.deliver(to, env); err != nil {
			r.log.Warn("candidate flush delivery failed",
				zap.String("to", to), zap.Error(err))
			return
		}
		metrics.SignalsRelayed.WithLabelValues("flushed").Inc()
	}
}

func (r *Relay) deliver(to string, env *types.Envelope) error {
	conn, ok := r.conns.Participant(to)
	if !ok {
		return ErrPeerNotConnected
	}
	return conn.WriteJSON(env)
}
