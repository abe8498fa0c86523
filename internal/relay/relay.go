// Package relay forwards WebRTC signaling and ephemeral frames between
// the two participants of a room. Forwarding for one room is serialized
// by a per-room lock, so each sender's frames reach the receiver in send
// order; different rooms proceed in parallel.
package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/metrics"
)

var (
	ErrRoomNotFound = errors.New("no relay for this room")
	ErrNotInRoom    = errors.New("sender is not in this room")
)

// Peer is one attached client connection. Sends are non-blocking; false
// means the peer's outbound buffer overflowed and the frame was not
// delivered.
type Peer interface {
	SendSignal(from uuid.UUID, kind string, payload json.RawMessage) bool
	SendEphemeral(from uuid.UUID, kind string) bool
}

type bufferedFrame struct {
	from    uuid.UUID
	kind    string
	payload json.RawMessage
	expires time.Time
}

type roomRelay struct {
	mu    sync.Mutex
	users [2]uuid.UUID
	peers map[uuid.UUID]Peer
	buf   map[uuid.UUID][]bufferedFrame // keyed by the offline receiver
	// receipts caches the privacy consult for the room's lifetime.
	receipts map[uuid.UUID]bool
}

// Relay owns one roomRelay per open room.
type Relay struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]*roomRelay

	bufSize int
	bufTTL  time.Duration

	// receiptsAllowed consults the user directory's privacy settings.
	receiptsAllowed func(uuid.UUID) bool
	// touch reports activity to the room registry's idle clock.
	touch func(uuid.UUID)

	log zerolog.Logger
	now func() time.Time
}

type Config struct {
	BufferSize int
	BufferTTL  time.Duration
}

func NewRelay(cfg Config, receiptsAllowed func(uuid.UUID) bool) *Relay {
	if receiptsAllowed == nil {
		receiptsAllowed = func(uuid.UUID) bool { return true }
	}
	return &Relay{
		rooms:           make(map[uuid.UUID]*roomRelay),
		bufSize:         cfg.BufferSize,
		bufTTL:          cfg.BufferTTL,
		receiptsAllowed: receiptsAllowed,
		log:             logging.Component("relay"),
		now:             time.Now,
	}
}

// SetTouch wires the registry's idle clock in after construction.
func (r *Relay) SetTouch(touch func(uuid.UUID)) {
	r.touch = touch
}

// Open creates the relay for a new room and caches both participants'
// receipt privacy for the room's lifetime.
func (r *Relay) Open(roomID, a, b uuid.UUID) {
	rr := &roomRelay{
		users: [2]uuid.UUID{a, b},
		peers: make(map[uuid.UUID]Peer, 2),
		buf:   make(map[uuid.UUID][]bufferedFrame, 2),
		receipts: map[uuid.UUID]bool{
			a: r.receiptsAllowed(a),
			b: r.receiptsAllowed(b),
		},
	}
	r.mu.Lock()
	r.rooms[roomID] = rr
	r.mu.Unlock()
}

// Attach connects a peer and flushes any signaling buffered while it was
// offline, in original send order.
func (r *Relay) Attach(roomID, userID uuid.UUID, peer Peer) {
	rr := r.room(roomID)
	if rr == nil {
		return
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()

	rr.peers[userID] = peer
	pending := rr.buf[userID]
	delete(rr.buf, userID)
	now := r.now()
	for _, f := range pending {
		if now.After(f.expires) {
			metrics.FramesDropped.WithLabelValues("expired").Inc()
			continue
		}
		if !peer.SendSignal(f.from, f.kind, f.payload) {
			metrics.FramesDropped.WithLabelValues("overflow").Inc()
		}
	}
}

// Detach disconnects a peer; subsequent signaling toward it is buffered.
func (r *Relay) Detach(roomID, userID uuid.UUID) {
	rr := r.room(roomID)
	if rr == nil {
		return
	}
	rr.mu.Lock()
	delete(rr.peers, userID)
	rr.mu.Unlock()
}

// Close tears the relay down; anything still buffered is dropped.
func (r *Relay) Close(roomID uuid.UUID) {
	r.mu.Lock()
	rr := r.rooms[roomID]
	delete(r.rooms, roomID)
	r.mu.Unlock()
	if rr == nil {
		return
	}
	rr.mu.Lock()
	for _, pending := range rr.buf {
		metrics.FramesDropped.WithLabelValues("room_closed").Add(float64(len(pending)))
	}
	rr.buf = nil
	rr.mu.Unlock()
}

// ForwardSignal relays an offer/answer/ICE frame to the other
// participant, buffering while they are offline.
func (r *Relay) ForwardSignal(roomID, from uuid.UUID, kind string, payload json.RawMessage) error {
	rr := r.room(roomID)
	if rr == nil {
		return ErrRoomNotFound
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()

	to, ok := rr.other(from)
	if !ok {
		return ErrNotInRoom
	}
	if r.touch != nil {
		r.touch(roomID)
	}

	if peer, online := rr.peers[to]; online {
		if peer.SendSignal(from, kind, payload) {
			metrics.FramesRelayed.Inc()
		} else {
			metrics.FramesDropped.WithLabelValues("overflow").Inc()
		}
		return nil
	}

	// Receiver offline: buffer with TTL, dropping oldest on overflow.
	pending := rr.buf[to]
	now := r.now()
	live := pending[:0]
	for _, f := range pending {
		if now.After(f.expires) {
			metrics.FramesDropped.WithLabelValues("expired").Inc()
			continue
		}
		live = append(live, f)
	}
	if len(live) >= r.bufSize {
		metrics.FramesDropped.WithLabelValues("buffer_full").Inc()
		live = live[1:]
	}
	rr.buf[to] = append(live, bufferedFrame{
		from:    from,
		kind:    kind,
		payload: payload,
		expires: now.Add(r.bufTTL),
	})
	return nil
}

// ForwardEphemeral relays typing and read receipts: never buffered,
// never acked, silently dropped if the receiver's privacy settings deny
// receipts or the receiver is offline.
func (r *Relay) ForwardEphemeral(roomID, from uuid.UUID, kind string) error {
	rr := r.room(roomID)
	if rr == nil {
		return ErrRoomNotFound
	}
	rr.mu.Lock()
	defer rr.mu.Unlock()

	to, ok := rr.other(from)
	if !ok {
		return ErrNotInRoom
	}
	if !rr.receipts[to] {
		metrics.FramesDropped.WithLabelValues("privacy").Inc()
		return nil
	}
	if peer, online := rr.peers[to]; online {
		if peer.SendEphemeral(from, kind) {
			metrics.FramesRelayed.Inc()
		}
	}
	return nil
}

func (r *Relay) room(roomID uuid.UUID) *roomRelay {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

func (rr *roomRelay) other(from uuid.UUID) (uuid.UUID, bool) {
	switch from {
	case rr.users[0]:
		return rr.users[1], true
	case rr.users[1]:
		return rr.users[0], true
	}
	return uuid.Nil, false
}
