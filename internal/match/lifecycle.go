// Package match owns MatchAttempt state machines. A single-writer loop
// serializes every transition, so states move monotonically and a
// terminal attempt never changes again.
package match

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
	"github.com/emberlink/ember/internal/scoring"
)

var (
	ErrNotFound = errors.New("match attempt not found")
	ErrRaceLost = errors.New("a participant is no longer available")
	ErrStopped  = errors.New("match lifecycle is stopped")
	ErrNotYours = errors.New("user is not part of this match")
)

// Requeuer is the slice of the queue store the lifecycle needs: putting
// users back without touching their waiting time.
type Requeuer interface {
	Restore(*domain.QueueEntry)
}

// RoomCreator opens a room for an accepted pair. Implemented by the room
// registry.
type RoomCreator interface {
	Open(matchID uuid.UUID, ea, eb *domain.QueueEntry) (uuid.UUID, error)
}

// Notifier pushes match frames to connected clients. Implemented by the
// session gateway; sends must never block.
type Notifier interface {
	MatchPending(to uuid.UUID, n PendingNotice)
	MatchResult(to uuid.UUID, matchID uuid.UUID, state domain.MatchState)
}

// PendingNotice is the payload behind a match.pending frame.
type PendingNotice struct {
	MatchID   uuid.UUID
	Partner   uuid.UUID
	Score     float64
	Reasons   []string
	ExpiresAt time.Time
}

type attempt struct {
	m      domain.MatchAttempt
	score  scoring.Result
	ea, eb *domain.QueueEntry // snapshots for requeue, keyed A/B order
	expiry *time.Timer
}

// Lifecycle owns the pending match attempts. All state is confined to
// the Run loop; public methods enqueue operations onto it.
type Lifecycle struct {
	attempts map[uuid.UUID]*attempt
	byUser   map[uuid.UUID]uuid.UUID // non-terminal attempts only

	guard    *presence.Guard
	queue    Requeuer
	rooms    RoomCreator
	notifier Notifier
	bus      *events.Bus

	ttl    time.Duration // pending acceptance window
	retain time.Duration // terminal attempts kept for idempotent re-acks

	ops     chan func()
	stopped chan struct{}
	log     zerolog.Logger
	now     func() time.Time
}

type Config struct {
	AcceptTimeout time.Duration
	RetainFor     time.Duration
}

func NewLifecycle(cfg Config, guard *presence.Guard, queue Requeuer, rooms RoomCreator, bus *events.Bus) *Lifecycle {
	return &Lifecycle{
		attempts: make(map[uuid.UUID]*attempt),
		byUser:   make(map[uuid.UUID]uuid.UUID),
		guard:    guard,
		queue:    queue,
		rooms:    rooms,
		bus:      bus,
		ttl:      cfg.AcceptTimeout,
		retain:   cfg.RetainFor,
		ops:      make(chan func(), 64),
		stopped:  make(chan struct{}),
		log:      logging.Component("match"),
		now:      time.Now,
	}
}

// SetNotifier wires the session gateway in after construction, mirroring
// the gateway's dependency on the lifecycle.
func (l *Lifecycle) SetNotifier(n Notifier) {
	l.notifier = n
}

func (l *Lifecycle) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case op := <-l.ops:
			op()
		case <-ctx.Done():
			for {
				select {
				case op := <-l.ops:
					op()
				default:
					return
				}
			}
		}
	}
}

func (l *Lifecycle) do(op func()) bool {
	select {
	case l.ops <- op:
		return true
	case <-l.stopped:
		return false
	}
}

// Create opens a PENDING attempt for the two entries handed off by the
// matcher. The queue store took a match claim on both users when it
// removed the pair; Create only verifies the claims are still the
// pairing kind and fails with ErrRaceLost otherwise. The matcher then
// restores both queue entries, which hands the claims back.
func (l *Lifecycle) Create(ea, eb *domain.QueueEntry, score scoring.Result) error {
	res := make(chan error, 1)
	ok := l.do(func() {
		for _, e := range []*domain.QueueEntry{ea, eb} {
			if c, held := l.guard.Claimed(e.UserID); !held || c != presence.ClaimMatch {
				res <- ErrRaceLost
				return
			}
		}

		a, b := ea, eb
		if a.UserID.String() > b.UserID.String() {
			a, b = b, a
		}

		now := l.now()
		at := &attempt{
			m: domain.MatchAttempt{
				ID:        uuid.New(),
				UserA:     a.UserID,
				UserB:     b.UserID,
				State:     domain.MatchPending,
				CreatedAt: now,
				ExpiresAt: now.Add(l.ttl),
			},
			score: score,
			ea:    a,
			eb:    b,
		}
		l.attempts[at.m.ID] = at
		l.byUser[a.UserID] = at.m.ID
		l.byUser[b.UserID] = at.m.ID
		metrics.MatchesCreated.Inc()
		metrics.ActiveMatches.Set(float64(len(l.byUser) / 2))

		id := at.m.ID
		at.expiry = time.AfterFunc(l.ttl, func() {
			l.do(func() { l.expire(id) })
		})

		ev := events.New(events.MatchPending, a.UserID, b.UserID)
		ev.MatchID = at.m.ID
		ev.Score = score.Total
		l.bus.Publish(ev)

		if l.notifier != nil {
			l.notifier.MatchPending(a.UserID, PendingNotice{
				MatchID: at.m.ID, Partner: b.UserID,
				Score: score.Total, Reasons: score.Reasons, ExpiresAt: at.m.ExpiresAt,
			})
			l.notifier.MatchPending(b.UserID, PendingNotice{
				MatchID: at.m.ID, Partner: a.UserID,
				Score: score.Total, Reasons: score.Reasons, ExpiresAt: at.m.ExpiresAt,
			})
		}
		l.log.Info().Stringer("match", at.m.ID).Stringer("user_a", a.UserID).
			Stringer("user_b", b.UserID).Float64("score", score.Total).Msg("match pending")
		res <- nil
	})
	if !ok {
		return ErrStopped
	}
	return <-res
}

// Accept records one side's acceptance. A terminal attempt replies with
// its terminal state and no mutation.
func (l *Lifecycle) Accept(matchID, userID uuid.UUID) (domain.MatchState, error) {
	return l.act(matchID, userID, true)
}

// Decline moves the attempt to DECLINED and requeues both users.
func (l *Lifecycle) Decline(matchID, userID uuid.UUID) (domain.MatchState, error) {
	return l.act(matchID, userID, false)
}

// Busy reports whether the user is inside a non-terminal attempt.
func (l *Lifecycle) Busy(userID uuid.UUID) bool {
	res := make(chan bool, 1)
	if !l.do(func() {
		_, ok := l.byUser[userID]
		res <- ok
	}) {
		return false
	}
	return <-res
}

// Drain expires every non-terminal attempt. Called on shutdown after
// the gateway has stopped accepting frames and before the lifecycle's
// Run context is cancelled; if the loop stops mid-drain the wait
// unblocks rather than hanging on an operation that will never run.
func (l *Lifecycle) Drain() {
	done := make(chan struct{})
	if !l.do(func() {
		for id, at := range l.attempts {
			if !at.m.State.Terminal() {
				l.expire(id)
			}
		}
		close(done)
	}) {
		return
	}
	select {
	case <-done:
	case <-l.stopped:
	}
}

type actReply struct {
	state domain.MatchState
	err   error
}

func (l *Lifecycle) act(matchID, userID uuid.UUID, accept bool) (domain.MatchState, error) {
	res := make(chan actReply, 1)
	ok := l.do(func() {
		at, found := l.attempts[matchID]
		if !found {
			res <- actReply{err: ErrNotFound}
			return
		}
		if userID != at.m.UserA && userID != at.m.UserB {
			res <- actReply{err: ErrNotYours}
			return
		}
		if at.m.State.Terminal() {
			res <- actReply{state: at.m.State}
			return
		}
		if !accept {
			l.finish(at, domain.MatchDeclined)
			res <- actReply{state: domain.MatchDeclined}
			return
		}
		res <- actReply{state: l.accept(at, userID)}
	})
	if !ok {
		return "", ErrStopped
	}
	r := <-res
	return r.state, r.err
}

// accept advances the two-sided acceptance machine; runs on the op loop.
func (l *Lifecycle) accept(at *attempt, userID uuid.UUID) domain.MatchState {
	isA := userID == at.m.UserA

	switch at.m.State {
	case domain.MatchPending:
		if isA {
			at.m.State = domain.MatchAcceptedByA
		} else {
			at.m.State = domain.MatchAcceptedByB
		}
		return at.m.State

	case domain.MatchAcceptedByA:
		if isA {
			return at.m.State // repeated accept, no-op
		}
	case domain.MatchAcceptedByB:
		if !isA {
			return at.m.State
		}
	}

	// Both sides have accepted: open the room.
	roomID, err := l.rooms.Open(at.m.ID, at.ea, at.eb)
	if err != nil {
		l.log.Warn().Err(err).Stringer("match", at.m.ID).Msg("room creation failed, declining match")
		l.finish(at, domain.MatchDeclined)
		return domain.MatchDeclined
	}

	now := l.now()
	at.m.State = domain.MatchAccepted
	at.m.AcceptedAt = &now
	l.settle(at)

	ev := events.New(events.MatchAccepted, at.m.UserA, at.m.UserB)
	ev.MatchID = at.m.ID
	ev.RoomID = roomID
	ev.Score = at.score.Total
	l.bus.Publish(ev)
	metrics.MatchOutcomes.WithLabelValues(string(domain.MatchAccepted)).Inc()

	l.notifyResult(at)
	l.log.Info().Stringer("match", at.m.ID).Stringer("room", roomID).Msg("match accepted")
	return domain.MatchAccepted
}

// finish moves an attempt to DECLINED or EXPIRED and puts both users
// back in the queue with their waiting time intact. The store releases
// their pairing claims as it re-inserts them, so a user is never
// unclaimed while also out of the queue.
func (l *Lifecycle) finish(at *attempt, state domain.MatchState) {
	at.m.State = state
	l.settle(at)

	l.queue.Restore(at.ea)
	l.queue.Restore(at.eb)

	kind := events.MatchDeclined
	if state == domain.MatchExpired {
		kind = events.MatchExpired
	}
	ev := events.New(kind, at.m.UserA, at.m.UserB)
	ev.MatchID = at.m.ID
	l.bus.Publish(ev)
	metrics.MatchOutcomes.WithLabelValues(string(state)).Inc()

	l.notifyResult(at)
}

// settle does the terminal-state bookkeeping shared by every outcome.
func (l *Lifecycle) settle(at *attempt) {
	if at.expiry != nil {
		at.expiry.Stop()
	}
	delete(l.byUser, at.m.UserA)
	delete(l.byUser, at.m.UserB)
	metrics.ActiveMatches.Set(float64(len(l.byUser) / 2))

	id := at.m.ID
	time.AfterFunc(l.retain, func() {
		l.do(func() { delete(l.attempts, id) })
	})
}

func (l *Lifecycle) expire(id uuid.UUID) {
	at, found := l.attempts[id]
	if !found || at.m.State.Terminal() {
		return
	}
	l.log.Info().Stringer("match", id).Msg("match expired")
	l.finish(at, domain.MatchExpired)
}

func (l *Lifecycle) notifyResult(at *attempt) {
	if l.notifier == nil {
		return
	}
	l.notifier.MatchResult(at.m.UserA, at.m.ID, at.m.State)
	l.notifier.MatchResult(at.m.UserB, at.m.ID, at.m.State)
}
