package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/events"
	"github.com/emberlink/ember/internal/presence"
	"github.com/emberlink/ember/internal/scoring"
)

type fakeRequeuer struct {
	guard    *presence.Guard
	mu       sync.Mutex
	restored []*domain.QueueEntry
}

// Restore mirrors the queue store: re-inserting a user hands back the
// pairing claim taken when the pair left the queue.
func (f *fakeRequeuer) Restore(e *domain.QueueEntry) {
	f.guard.Release(e.UserID, presence.ClaimMatch)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, e)
}

func (f *fakeRequeuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.restored)
}

type fakeRooms struct {
	mu     sync.Mutex
	err    error
	roomID uuid.UUID
	opened []uuid.UUID
}

func (f *fakeRooms) Open(matchID uuid.UUID, _, _ *domain.QueueEntry) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	f.opened = append(f.opened, matchID)
	return f.roomID, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	pending []PendingNotice
	results map[uuid.UUID]domain.MatchState
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{results: make(map[uuid.UUID]domain.MatchState)}
}

func (f *fakeNotifier) MatchPending(_ uuid.UUID, n PendingNotice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, n)
}

func (f *fakeNotifier) MatchResult(to uuid.UUID, _ uuid.UUID, state domain.MatchState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[to] = state
}

type fixture struct {
	lc       *Lifecycle
	guard    *presence.Guard
	requeuer *fakeRequeuer
	rooms    *fakeRooms
	notifier *fakeNotifier
	ea, eb   *domain.QueueEntry
	stop     context.CancelFunc
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.AcceptTimeout == 0 {
		cfg.AcceptTimeout = time.Minute
	}
	if cfg.RetainFor == 0 {
		cfg.RetainFor = time.Minute
	}
	guard := presence.NewGuard()
	f := &fixture{
		guard:    guard,
		requeuer: &fakeRequeuer{guard: guard},
		rooms:    &fakeRooms{roomID: uuid.New()},
		notifier: newFakeNotifier(),
	}
	bus := events.NewBus(events.Config{Buffer: 16, RetryLimit: 1})
	t.Cleanup(func() { bus.Close() })

	f.lc = NewLifecycle(cfg, f.guard, f.requeuer, f.rooms, bus)
	f.lc.SetNotifier(f.notifier)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.stop = cancel
	go f.lc.Run(ctx)

	joined := time.Now().Add(-10 * time.Second)
	f.ea = &domain.QueueEntry{UserID: uuid.New(), Gender: domain.GenderFemale, Intent: domain.IntentCasual, JoinedAt: joined}
	f.eb = &domain.QueueEntry{UserID: uuid.New(), Gender: domain.GenderMale, Intent: domain.IntentCasual, JoinedAt: joined}
	return f
}

func (f *fixture) create(t *testing.T) uuid.UUID {
	t.Helper()
	// Mirror the queue store's handoff: RemovePair claims both users
	// before the matcher calls Create.
	require.True(t, f.guard.Acquire(f.ea.UserID, presence.ClaimMatch))
	require.True(t, f.guard.Acquire(f.eb.UserID, presence.ClaimMatch))
	require.NoError(t, f.lc.Create(f.ea, f.eb, scoring.Result{Total: 80}))
	require.Len(t, f.notifier.pending, 2)
	return f.notifier.pending[0].MatchID
}

func TestCreate_NotifiesBothAndHoldsUsers(t *testing.T) {
	f := setup(t, Config{})
	id := f.create(t)

	assert.True(t, f.guard.Busy(f.ea.UserID))
	assert.True(t, f.guard.Busy(f.eb.UserID))
	assert.True(t, f.lc.Busy(f.ea.UserID))

	for _, n := range f.notifier.pending {
		assert.Equal(t, id, n.MatchID)
		assert.Equal(t, 80.0, n.Score)
	}
	partners := map[uuid.UUID]bool{f.notifier.pending[0].Partner: true, f.notifier.pending[1].Partner: true}
	assert.True(t, partners[f.ea.UserID])
	assert.True(t, partners[f.eb.UserID])
}

func TestCreate_RaceLostWithoutPairingClaims(t *testing.T) {
	f := setup(t, Config{})

	// Neither user claimed: the handoff never happened.
	err := f.lc.Create(f.ea, f.eb, scoring.Result{})
	require.ErrorIs(t, err, ErrRaceLost)

	// One user already promoted into a room is not a pairing claim either.
	require.True(t, f.guard.Acquire(f.ea.UserID, presence.ClaimMatch))
	require.True(t, f.guard.Acquire(f.eb.UserID, presence.ClaimRoom))
	err = f.lc.Create(f.ea, f.eb, scoring.Result{})
	require.ErrorIs(t, err, ErrRaceLost)
	assert.False(t, f.lc.Busy(f.ea.UserID), "no attempt was opened")
}

func TestAccept_BothSidesOpensRoom(t *testing.T) {
	f := setup(t, Config{})
	id := f.create(t)

	state, err := f.lc.Accept(id, f.ea.UserID)
	require.NoError(t, err)
	assert.Contains(t, []domain.MatchState{domain.MatchAcceptedByA, domain.MatchAcceptedByB}, state)
	assert.Empty(t, f.rooms.opened)

	state, err = f.lc.Accept(id, f.eb.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchAccepted, state)
	assert.Equal(t, []uuid.UUID{id}, f.rooms.opened)

	// Nothing goes back to the queue on success.
	assert.Zero(t, f.requeuer.count())
	assert.Equal(t, domain.MatchAccepted, f.notifier.results[f.ea.UserID])
}

func TestAccept_RepeatedBySameSideIsNoOp(t *testing.T) {
	f := setup(t, Config{})
	id := f.create(t)

	first, err := f.lc.Accept(id, f.ea.UserID)
	require.NoError(t, err)
	again, err := f.lc.Accept(id, f.ea.UserID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Empty(t, f.rooms.opened)
}

func TestDecline_RequeuesBothWithWaitingTimeIntact(t *testing.T) {
	f := setup(t, Config{})
	id := f.create(t)

	state, err := f.lc.Decline(id, f.eb.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchDeclined, state)

	assert.False(t, f.guard.Busy(f.ea.UserID))
	assert.False(t, f.guard.Busy(f.eb.UserID))
	require.Equal(t, 2, f.requeuer.count())
	for _, e := range f.requeuer.restored {
		assert.Equal(t, f.ea.JoinedAt, e.JoinedAt)
	}

	// Terminal attempts answer later frames with their state, no mutation.
	state, err = f.lc.Accept(id, f.ea.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchDeclined, state)
}

func TestAccept_RoomCreateFailureDeclines(t *testing.T) {
	f := setup(t, Config{})
	f.rooms.err = errors.New("boom")
	id := f.create(t)

	_, err := f.lc.Accept(id, f.ea.UserID)
	require.NoError(t, err)
	state, err := f.lc.Accept(id, f.eb.UserID)
	require.NoError(t, err)

	assert.Equal(t, domain.MatchDeclined, state)
	assert.Equal(t, 2, f.requeuer.count())
	assert.False(t, f.guard.Busy(f.ea.UserID))
}

func TestExpiry_RestoresBoth(t *testing.T) {
	f := setup(t, Config{AcceptTimeout: 30 * time.Millisecond})
	id := f.create(t)

	require.Eventually(t, func() bool {
		return f.requeuer.count() == 2
	}, time.Second, 5*time.Millisecond)

	assert.False(t, f.guard.Busy(f.ea.UserID))
	state, err := f.lc.Accept(id, f.ea.UserID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchExpired, state)
}

func TestAct_Errors(t *testing.T) {
	f := setup(t, Config{})
	id := f.create(t)

	_, err := f.lc.Accept(uuid.New(), f.ea.UserID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.lc.Accept(id, uuid.New())
	assert.ErrorIs(t, err, ErrNotYours)
}

func TestDrain_ExpiresPendingAttempts(t *testing.T) {
	f := setup(t, Config{})
	f.create(t)

	f.lc.Drain()
	assert.Equal(t, 2, f.requeuer.count())
	assert.False(t, f.lc.Busy(f.ea.UserID))
}

func TestDrain_ReturnsAfterLoopStops(t *testing.T) {
	f := setup(t, Config{})
	f.create(t)

	// Wrong-order shutdown: the run context is cancelled first. Drain
	// can no longer expire attempts, but it must return instead of
	// blocking on an operation the loop will never execute.
	f.stop()
	<-f.lc.stopped

	returned := make(chan struct{})
	go func() {
		f.lc.Drain()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked after the loop exited")
	}
}
