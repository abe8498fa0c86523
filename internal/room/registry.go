// Package room owns the live two-party rooms: membership, presence,
// grace and idle timers, heart and media state. A single-writer loop
// serializes every transition; the relay and gateway reference rooms by
// id only.
package room

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/events"
	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/metrics"
	"github.com/emberlink/ember/internal/presence"
	"github.com/emberlink/ember/internal/relay"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNotInRoom    = errors.New("user is not in a room")
	ErrUserBusy     = errors.New("user is already in an active room")
	ErrStopped      = errors.New("room registry is stopped")
)

// Requeuer is the queue-store slice used after a skip: both users go
// back with a bumped generation.
type Requeuer interface {
	Rejoin(*domain.QueueEntry)
}

// Notifier pushes room frames to connected clients; sends never block.
type Notifier interface {
	RoomCreated(to uuid.UUID, roomID uuid.UUID, partner uuid.UUID, mode domain.MediaMode)
	RoomEvent(to uuid.UUID, roomID uuid.UUID, kind string)
	RoomEnded(to uuid.UUID, roomID uuid.UUID, reason domain.CloseReason)
}

// Room event kinds broadcast when a control frame lands. The transition
// the registry applied is authoritative, not the client's frame.
const (
	EventHeartRequested = "heart-requested"
	EventHeartMatched   = "heart-matched"
	EventHeartUnmatched = "heart-unmatched"
	EventVideoRequested = "video-requested"
	EventMediaUpgraded  = "media-upgraded"
	EventVideoDeclined  = "video-declined"
)

type liveRoom struct {
	r       domain.Room
	entries map[uuid.UUID]*domain.QueueEntry
	online  map[uuid.UUID]bool

	grace          map[uuid.UUID]*time.Timer
	idle           *time.Timer
	videoRequester uuid.UUID // uuid.Nil when no upgrade in flight
}

// Registry owns every live room. All state is confined to the Run
// loop; public methods enqueue operations onto it.
type Registry struct {
	rooms  map[uuid.UUID]*liveRoom
	byUser map[uuid.UUID]uuid.UUID

	guard    *presence.Guard
	queue    Requeuer
	relay    *relay.Relay
	notifier Notifier
	bus      *events.Bus

	gracePeriod time.Duration
	idleTimeout time.Duration

	ops     chan func()
	stopped chan struct{}
	log     zerolog.Logger
	now     func() time.Time
}

type Config struct {
	GracePeriod time.Duration
	IdleTimeout time.Duration
}

func NewRegistry(cfg Config, guard *presence.Guard, queue Requeuer, rly *relay.Relay, bus *events.Bus) *Registry {
	return &Registry{
		rooms:       make(map[uuid.UUID]*liveRoom),
		byUser:      make(map[uuid.UUID]uuid.UUID),
		guard:       guard,
		queue:       queue,
		relay:       rly,
		bus:         bus,
		gracePeriod: cfg.GracePeriod,
		idleTimeout: cfg.IdleTimeout,
		ops:         make(chan func(), 64),
		stopped:     make(chan struct{}),
		log:         logging.Component("room"),
		now:         time.Now,
	}
}

func (r *Registry) SetNotifier(n Notifier) {
	r.notifier = n
}

func (r *Registry) Run(ctx context.Context) {
	defer close(r.stopped)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-ctx.Done():
			for {
				select {
				case op := <-r.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

func (r *Registry) do(op func()) bool {
	select {
	case r.ops <- op:
		return true
	case <-r.stopped:
		return false
	}
}

// Open creates a room for an accepted match. Called synchronously by
// the match lifecycle; both users arrive holding match claims, and on
// success those are promoted to room claims.
func (r *Registry) Open(matchID uuid.UUID, ea, eb *domain.QueueEntry) (uuid.UUID, error) {
	type reply struct {
		id  uuid.UUID
		err error
	}
	res := make(chan reply, 1)
	ok := r.do(func() {
		// A user in two active rooms is an invariant violation: log it,
		// force-close the stale room, and fail this open.
		for _, e := range []*domain.QueueEntry{ea, eb} {
			if staleID, in := r.byUser[e.UserID]; in {
				r.log.Error().Stringer("user", e.UserID).Stringer("room", staleID).
					Stringer("match", matchID).Msg("user already in an active room")
				if stale, found := r.rooms[staleID]; found {
					r.close(stale, domain.CloseInvariantViolation)
				}
				res <- reply{err: ErrUserBusy}
				return
			}
		}

		a, b := ea, eb
		if a.UserID.String() > b.UserID.String() {
			a, b = b, a
		}

		now := r.now()
		lr := &liveRoom{
			r: domain.Room{
				ID:             uuid.New(),
				MatchID:        matchID,
				UserA:          a.UserID,
				UserB:          b.UserID,
				Status:         domain.RoomActive,
				MediaMode:      domain.MediaVoice,
				HeartState:     domain.HeartIdle,
				StartedAt:      now,
				LastActivityAt: now,
			},
			entries: map[uuid.UUID]*domain.QueueEntry{a.UserID: a, b.UserID: b},
			online:  make(map[uuid.UUID]bool),
			grace:   make(map[uuid.UUID]*time.Timer),
		}
		r.rooms[lr.r.ID] = lr
		r.byUser[a.UserID] = lr.r.ID
		r.byUser[b.UserID] = lr.r.ID
		r.guard.Promote(a.UserID, presence.ClaimRoom)
		r.guard.Promote(b.UserID, presence.ClaimRoom)
		metrics.ActiveRooms.Set(float64(len(r.rooms)))

		roomID := lr.r.ID
		lr.idle = time.AfterFunc(r.idleTimeout, func() {
			r.do(func() { r.idleExpired(roomID) })
		})

		r.relay.Open(roomID, a.UserID, b.UserID)

		ev := events.New(events.RoomCreated, a.UserID, b.UserID)
		ev.RoomID = roomID
		ev.MatchID = matchID
		r.bus.Publish(ev)

		if r.notifier != nil {
			r.notifier.RoomCreated(a.UserID, roomID, b.UserID, lr.r.MediaMode)
			r.notifier.RoomCreated(b.UserID, roomID, a.UserID, lr.r.MediaMode)
		}
		r.log.Info().Stringer("room", roomID).Stringer("match", matchID).Msg("room opened")
		res <- reply{id: roomID}
	})
	if !ok {
		return uuid.Nil, ErrStopped
	}
	rep := <-res
	return rep.id, rep.err
}

// Join attaches a live connection to the room, clearing any disconnect
// grace for that user. Buffered signaling is flushed on attach.
func (r *Registry) Join(roomID, userID uuid.UUID, peer relay.Peer) error {
	res := make(chan error, 1)
	ok := r.do(func() {
		lr, found := r.rooms[roomID]
		if !found {
			res <- ErrRoomNotFound
			return
		}
		if !lr.r.Has(userID) {
			res <- ErrNotInRoom
			return
		}
		if t, pending := lr.grace[userID]; pending {
			t.Stop()
			delete(lr.grace, userID)
		}
		lr.online[userID] = true
		if lr.r.Status == domain.RoomDraining {
			lr.r.Status = domain.RoomActive
		}
		r.touch(lr)
		r.relay.Attach(roomID, userID, peer)
		res <- nil
	})
	if !ok {
		return ErrStopped
	}
	return <-res
}

// Leave detaches a connection and starts the disconnect grace timer.
func (r *Registry) Leave(roomID, userID uuid.UUID) {
	r.do(func() {
		lr, found := r.rooms[roomID]
		if !found || !lr.r.Has(userID) {
			return
		}
		lr.online[userID] = false
		lr.r.Status = domain.RoomDraining
		r.relay.Detach(roomID, userID)

		if t, pending := lr.grace[userID]; pending {
			t.Stop()
		}
		roomID := lr.r.ID
		lr.grace[userID] = time.AfterFunc(r.gracePeriod, func() {
			r.do(func() { r.graceExpired(roomID, userID) })
		})
	})
}

// Disconnected handles a dropped session: resolves the user's room, if
// any, and runs the Leave path.
func (r *Registry) Disconnected(userID uuid.UUID) {
	r.do(func() {
		roomID, in := r.byUser[userID]
		if !in {
			return
		}
		lr := r.rooms[roomID]
		lr.online[userID] = false
		lr.r.Status = domain.RoomDraining
		r.relay.Detach(roomID, userID)
		if t, pending := lr.grace[userID]; pending {
			t.Stop()
		}
		lr.grace[userID] = time.AfterFunc(r.gracePeriod, func() {
			r.do(func() { r.graceExpired(roomID, userID) })
		})
	})
}

// RoomOf reports the user's current room.
func (r *Registry) RoomOf(userID uuid.UUID) (uuid.UUID, bool) {
	type reply struct {
		id uuid.UUID
		in bool
	}
	res := make(chan reply, 1)
	if !r.do(func() {
		id, in := r.byUser[userID]
		res <- reply{id, in}
	}) {
		return uuid.Nil, false
	}
	rep := <-res
	return rep.id, rep.in
}

// Touch resets the idle clock. The relay calls this on every forwarded
// frame while holding its room lock, so the enqueue must never block;
// a dropped touch under load only delays the idle reset.
func (r *Registry) Touch(roomID uuid.UUID) {
	op := func() {
		if lr, found := r.rooms[roomID]; found {
			r.touch(lr)
		}
	}
	select {
	case r.ops <- op:
	default:
	}
}

// Control applies one in-call control transition on behalf of userID and
// broadcasts the authoritative result to both participants.
func (r *Registry) Control(userID uuid.UUID, kind string) error {
	res := make(chan error, 1)
	ok := r.do(func() {
		roomID, in := r.byUser[userID]
		if !in {
			res <- ErrNotInRoom
			return
		}
		lr := r.rooms[roomID]
		r.touch(lr)

		switch kind {
		case "heart-request":
			r.heartRequest(lr, userID)
		case "heart-accept":
			r.heartAccept(lr, userID)
		case "heart-unmatch":
			r.heartUnmatch(lr)
		case "video-request":
			r.videoRequest(lr, userID)
		case "video-accept":
			r.videoAccept(lr, userID)
		case "video-decline":
			r.videoDecline(lr)
		case "skip":
			r.skip(lr)
		case "end":
			r.close(lr, domain.CloseEnd)
		default:
			res <- errors.New("unknown control kind: " + kind)
			return
		}
		res <- nil
	})
	if !ok {
		return ErrStopped
	}
	return <-res
}

// Snapshot returns a copy of the room state, for the gateway's
// reconnect flow and for tests.
func (r *Registry) Snapshot(roomID uuid.UUID) (domain.Room, bool) {
	type reply struct {
		room domain.Room
		ok   bool
	}
	res := make(chan reply, 1)
	if !r.do(func() {
		if lr, found := r.rooms[roomID]; found {
			res <- reply{lr.r, true}
			return
		}
		res <- reply{}
	}) {
		return domain.Room{}, false
	}
	rep := <-res
	return rep.room, rep.ok
}

// DrainAll closes every room with reason shutdown. Must run before the
// registry's Run context is cancelled so clients still get their
// room.ended frames; if the loop stops mid-drain the wait unblocks
// rather than hanging on an operation that will never run.
func (r *Registry) DrainAll() {
	done := make(chan struct{})
	if !r.do(func() {
		for _, lr := range r.rooms {
			r.close(lr, domain.CloseShutdown)
		}
		close(done)
	}) {
		return
	}
	select {
	case <-done:
	case <-r.stopped:
	}
}

// --- transitions, only ever called from the op loop ---

func (r *Registry) heartRequest(lr *liveRoom, userID uuid.UUID) {
	switch lr.r.HeartState {
	case domain.HeartIdle:
		if userID == lr.r.UserA {
			lr.r.HeartState = domain.HeartRequestedByA
		} else {
			lr.r.HeartState = domain.HeartRequestedByB
		}
		r.broadcast(lr, EventHeartRequested)
	case domain.HeartRequestedByA:
		if userID == lr.r.UserB {
			r.heartMatched(lr)
		}
	case domain.HeartRequestedByB:
		if userID == lr.r.UserA {
			r.heartMatched(lr)
		}
	}
}

func (r *Registry) heartAccept(lr *liveRoom, userID uuid.UUID) {
	if (lr.r.HeartState == domain.HeartRequestedByA && userID == lr.r.UserB) ||
		(lr.r.HeartState == domain.HeartRequestedByB && userID == lr.r.UserA) {
		r.heartMatched(lr)
	}
}

func (r *Registry) heartMatched(lr *liveRoom) {
	lr.r.HeartState = domain.HeartMatched
	ev := events.New(events.HeartMatched, lr.r.UserA, lr.r.UserB)
	ev.RoomID = lr.r.ID
	ev.MatchID = lr.r.MatchID
	r.bus.Publish(ev)
	r.broadcast(lr, EventHeartMatched)
	r.log.Info().Stringer("room", lr.r.ID).Msg("heart matched")
}

func (r *Registry) heartUnmatch(lr *liveRoom) {
	if lr.r.HeartState != domain.HeartMatched {
		return
	}
	lr.r.HeartState = domain.HeartIdle
	r.broadcast(lr, EventHeartUnmatched)
}

func (r *Registry) videoRequest(lr *liveRoom, userID uuid.UUID) {
	if lr.r.MediaMode == domain.MediaVideo || lr.videoRequester != uuid.Nil {
		return // already upgraded or one upgrade already in flight
	}
	lr.videoRequester = userID
	r.broadcast(lr, EventVideoRequested)
}

func (r *Registry) videoAccept(lr *liveRoom, userID uuid.UUID) {
	if lr.videoRequester == uuid.Nil || lr.videoRequester == userID {
		return // upgrade completes only on the other party's accept
	}
	lr.videoRequester = uuid.Nil
	lr.r.MediaMode = domain.MediaVideo
	ev := events.New(events.MediaUpgraded, lr.r.UserA, lr.r.UserB)
	ev.RoomID = lr.r.ID
	r.bus.Publish(ev)
	r.broadcast(lr, EventMediaUpgraded)
}

func (r *Registry) videoDecline(lr *liveRoom) {
	if lr.videoRequester == uuid.Nil {
		return
	}
	lr.videoRequester = uuid.Nil
	r.broadcast(lr, EventVideoDeclined)
}

// skip closes the room and immediately requeues both users with their
// last preferences; the store bumps their generation.
func (r *Registry) skip(lr *liveRoom) {
	entries := []*domain.QueueEntry{lr.entries[lr.r.UserA], lr.entries[lr.r.UserB]}
	r.close(lr, domain.CloseSkip)
	for _, e := range entries {
		r.queue.Rejoin(e)
	}
}

func (r *Registry) graceExpired(roomID, userID uuid.UUID) {
	lr, found := r.rooms[roomID]
	if !found {
		return
	}
	if lr.online[userID] {
		return // reconnected inside the grace window
	}
	r.close(lr, domain.ClosePartnerDisconnect)
}

func (r *Registry) idleExpired(roomID uuid.UUID) {
	lr, found := r.rooms[roomID]
	if !found {
		return
	}
	quiet := r.now().Sub(lr.r.LastActivityAt)
	if quiet < r.idleTimeout {
		lr.idle = time.AfterFunc(r.idleTimeout-quiet, func() {
			r.do(func() { r.idleExpired(roomID) })
		})
		return
	}
	r.close(lr, domain.CloseIdle)
}

func (r *Registry) touch(lr *liveRoom) {
	lr.r.LastActivityAt = r.now()
}

func (r *Registry) close(lr *liveRoom, reason domain.CloseReason) {
	if lr.r.Status == domain.RoomClosed {
		return
	}
	now := r.now()
	lr.r.Status = domain.RoomClosed
	lr.r.EndedAt = &now

	if lr.idle != nil {
		lr.idle.Stop()
	}
	for _, t := range lr.grace {
		t.Stop()
	}

	r.relay.Close(lr.r.ID)
	delete(r.rooms, lr.r.ID)
	delete(r.byUser, lr.r.UserA)
	delete(r.byUser, lr.r.UserB)
	r.guard.Release(lr.r.UserA, presence.ClaimRoom)
	r.guard.Release(lr.r.UserB, presence.ClaimRoom)
	metrics.ActiveRooms.Set(float64(len(r.rooms)))
	metrics.RoomsClosed.WithLabelValues(string(reason)).Inc()

	ev := events.New(events.RoomEnded, lr.r.UserA, lr.r.UserB)
	ev.RoomID = lr.r.ID
	ev.MatchID = lr.r.MatchID
	ev.Reason = string(reason)
	ev.DurationSec = now.Sub(lr.r.StartedAt).Seconds()
	r.bus.Publish(ev)

	if r.notifier != nil {
		r.notifier.RoomEnded(lr.r.UserA, lr.r.ID, reason)
		r.notifier.RoomEnded(lr.r.UserB, lr.r.ID, reason)
	}
	r.log.Info().Stringer("room", lr.r.ID).Str("reason", string(reason)).
		Dur("duration", now.Sub(lr.r.StartedAt)).Msg("room closed")
}

func (r *Registry) broadcast(lr *liveRoom, kind string) {
	if r.notifier == nil {
		return
	}
	r.notifier.RoomEvent(lr.r.UserA, lr.r.ID, kind)
	r.notifier.RoomEvent(lr.r.UserB, lr.r.ID, kind)
}
