package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/events"
	"github.com/emberlink/ember/internal/presence"
	"github.com/emberlink/ember/internal/relay"
)

type fakeRequeuer struct {
	mu       sync.Mutex
	rejoined []*domain.QueueEntry
}

func (f *fakeRequeuer) Rejoin(e *domain.QueueEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejoined = append(f.rejoined, e)
}

func (f *fakeRequeuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rejoined)
}

type notice struct {
	kind   string
	roomID uuid.UUID
	detail string
}

type fakeNotifier struct {
	mu    sync.Mutex
	byDst map[uuid.UUID][]notice
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{byDst: make(map[uuid.UUID][]notice)}
}

func (f *fakeNotifier) RoomCreated(to uuid.UUID, roomID uuid.UUID, partner uuid.UUID, mode domain.MediaMode) {
	f.add(to, notice{kind: "created", roomID: roomID, detail: string(mode)})
}

func (f *fakeNotifier) RoomEvent(to uuid.UUID, roomID uuid.UUID, kind string) {
	f.add(to, notice{kind: kind, roomID: roomID})
}

func (f *fakeNotifier) RoomEnded(to uuid.UUID, roomID uuid.UUID, reason domain.CloseReason) {
	f.add(to, notice{kind: "ended", roomID: roomID, detail: string(reason)})
}

func (f *fakeNotifier) add(to uuid.UUID, n notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byDst[to] = append(f.byDst[to], n)
}

func (f *fakeNotifier) last(to uuid.UUID) (notice, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ns := f.byDst[to]
	if len(ns) == 0 {
		return notice{}, false
	}
	return ns[len(ns)-1], true
}

func (f *fakeNotifier) has(to uuid.UUID, kind string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.byDst[to] {
		if n.kind == kind {
			return true
		}
	}
	return false
}

type fakePeer struct{}

func (fakePeer) SendSignal(uuid.UUID, string, json.RawMessage) bool { return true }
func (fakePeer) SendEphemeral(uuid.UUID, string) bool               { return true }

type fixture struct {
	reg      *Registry
	guard    *presence.Guard
	requeuer *fakeRequeuer
	notifier *fakeNotifier
	ea, eb   *domain.QueueEntry
	stop     context.CancelFunc
}

func setup(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = time.Minute
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}
	f := &fixture{
		guard:    presence.NewGuard(),
		requeuer: &fakeRequeuer{},
		notifier: newFakeNotifier(),
	}
	bus := events.NewBus(events.Config{Buffer: 16, RetryLimit: 1})
	t.Cleanup(func() { bus.Close() })

	rly := relay.NewRelay(relay.Config{BufferSize: 8, BufferTTL: time.Second}, nil)
	f.reg = NewRegistry(cfg, f.guard, f.requeuer, rly, bus)
	f.reg.SetNotifier(f.notifier)
	rly.SetTouch(f.reg.Touch)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f.stop = cancel
	go f.reg.Run(ctx)

	joined := time.Now().Add(-20 * time.Second)
	f.ea = &domain.QueueEntry{UserID: uuid.New(), Gender: domain.GenderFemale, Intent: domain.IntentCasual, JoinedAt: joined}
	f.eb = &domain.QueueEntry{UserID: uuid.New(), Gender: domain.GenderMale, Intent: domain.IntentCasual, JoinedAt: joined}

	// Mirror the lifecycle's handoff: both users arrive claimed by a match.
	require.True(t, f.guard.Acquire(f.ea.UserID, presence.ClaimMatch))
	require.True(t, f.guard.Acquire(f.eb.UserID, presence.ClaimMatch))
	return f
}

func (f *fixture) open(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := f.reg.Open(uuid.New(), f.ea, f.eb)
	require.NoError(t, err)
	return id
}

func TestOpen_CreatesVoiceRoomAndNotifies(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	snap, ok := f.reg.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, domain.RoomActive, snap.Status)
	assert.Equal(t, domain.MediaVoice, snap.MediaMode)
	assert.Equal(t, domain.HeartIdle, snap.HeartState)

	got, in := f.reg.RoomOf(f.ea.UserID)
	require.True(t, in)
	assert.Equal(t, id, got)

	n, ok := f.notifier.last(f.eb.UserID)
	require.True(t, ok)
	assert.Equal(t, "created", n.kind)
	assert.Equal(t, string(domain.MediaVoice), n.detail)
}

func TestOpen_UserAlreadyRoomedFailsAndForceCloses(t *testing.T) {
	f := setup(t, Config{})
	stale := f.open(t)

	ec := &domain.QueueEntry{UserID: uuid.New(), Gender: domain.GenderMale, Intent: domain.IntentCasual}
	require.True(t, f.guard.Acquire(ec.UserID, presence.ClaimMatch))

	_, err := f.reg.Open(uuid.New(), f.ea, ec)
	require.ErrorIs(t, err, ErrUserBusy)

	_, ok := f.reg.Snapshot(stale)
	assert.False(t, ok, "stale room should be force-closed")
}

func TestControl_SkipClosesAndRequeuesBoth(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	require.NoError(t, f.reg.Control(f.ea.UserID, "skip"))

	_, ok := f.reg.Snapshot(id)
	assert.False(t, ok)
	assert.Equal(t, 2, f.requeuer.count())
	assert.False(t, f.guard.Busy(f.ea.UserID))

	n, _ := f.notifier.last(f.eb.UserID)
	assert.Equal(t, "ended", n.kind)
	assert.Equal(t, string(domain.CloseSkip), n.detail)
}

func TestControl_EndClosesWithoutRequeue(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	require.NoError(t, f.reg.Control(f.eb.UserID, "end"))

	_, ok := f.reg.Snapshot(id)
	assert.False(t, ok)
	assert.Zero(t, f.requeuer.count())
	n, _ := f.notifier.last(f.ea.UserID)
	assert.Equal(t, string(domain.CloseEnd), n.detail)
}

func TestControl_HeartMatchNeedsBothSides(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	require.NoError(t, f.reg.Control(f.ea.UserID, "heart-request"))
	assert.True(t, f.notifier.has(f.eb.UserID, EventHeartRequested))

	// The requester accepting their own request does nothing.
	require.NoError(t, f.reg.Control(f.ea.UserID, "heart-accept"))
	snap, _ := f.reg.Snapshot(id)
	assert.NotEqual(t, domain.HeartMatched, snap.HeartState)

	require.NoError(t, f.reg.Control(f.eb.UserID, "heart-accept"))
	snap, _ = f.reg.Snapshot(id)
	assert.Equal(t, domain.HeartMatched, snap.HeartState)
	assert.True(t, f.notifier.has(f.ea.UserID, EventHeartMatched))

	require.NoError(t, f.reg.Control(f.eb.UserID, "heart-unmatch"))
	snap, _ = f.reg.Snapshot(id)
	assert.Equal(t, domain.HeartIdle, snap.HeartState)
}

func TestControl_VideoUpgradeHandshake(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	require.NoError(t, f.reg.Control(f.ea.UserID, "video-request"))
	// Accept by the requester must not complete the upgrade.
	require.NoError(t, f.reg.Control(f.ea.UserID, "video-accept"))
	snap, _ := f.reg.Snapshot(id)
	assert.Equal(t, domain.MediaVoice, snap.MediaMode)

	require.NoError(t, f.reg.Control(f.eb.UserID, "video-accept"))
	snap, _ = f.reg.Snapshot(id)
	assert.Equal(t, domain.MediaVideo, snap.MediaMode)
	assert.True(t, f.notifier.has(f.ea.UserID, EventMediaUpgraded))
}

func TestControl_VideoDeclineClearsPendingUpgrade(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	require.NoError(t, f.reg.Control(f.ea.UserID, "video-request"))
	require.NoError(t, f.reg.Control(f.eb.UserID, "video-decline"))
	assert.True(t, f.notifier.has(f.ea.UserID, EventVideoDeclined))

	// A later accept has nothing to accept.
	require.NoError(t, f.reg.Control(f.eb.UserID, "video-accept"))
	snap, _ := f.reg.Snapshot(id)
	assert.Equal(t, domain.MediaVoice, snap.MediaMode)
}

func TestControl_NotInRoom(t *testing.T) {
	f := setup(t, Config{})
	f.open(t)
	err := f.reg.Control(uuid.New(), "skip")
	assert.ErrorIs(t, err, ErrNotInRoom)
}

func TestLeave_GraceExpiryClosesRoom(t *testing.T) {
	f := setup(t, Config{GracePeriod: 30 * time.Millisecond})
	id := f.open(t)

	f.reg.Leave(id, f.ea.UserID)
	require.Eventually(t, func() bool {
		_, ok := f.reg.Snapshot(id)
		return !ok
	}, time.Second, 5*time.Millisecond)

	n, _ := f.notifier.last(f.eb.UserID)
	assert.Equal(t, string(domain.ClosePartnerDisconnect), n.detail)
	assert.False(t, f.guard.Busy(f.ea.UserID))
}

func TestLeave_ReconnectInsideGraceResumes(t *testing.T) {
	f := setup(t, Config{GracePeriod: 200 * time.Millisecond})
	id := f.open(t)

	require.NoError(t, f.reg.Control(f.ea.UserID, "heart-request"))
	require.NoError(t, f.reg.Control(f.eb.UserID, "heart-accept"))

	f.reg.Disconnected(f.ea.UserID)
	snap, ok := f.reg.Snapshot(id)
	require.True(t, ok)
	assert.Equal(t, domain.RoomDraining, snap.Status)

	require.NoError(t, f.reg.Join(id, f.ea.UserID, fakePeer{}))

	time.Sleep(300 * time.Millisecond)
	snap, ok = f.reg.Snapshot(id)
	require.True(t, ok, "room must survive a reconnect inside the grace window")
	assert.Equal(t, domain.RoomActive, snap.Status)
	assert.Equal(t, domain.HeartMatched, snap.HeartState, "room state resumes intact")
}

func TestIdle_TimeoutClosesQuietRoom(t *testing.T) {
	f := setup(t, Config{IdleTimeout: 40 * time.Millisecond})
	id := f.open(t)

	require.Eventually(t, func() bool {
		_, ok := f.reg.Snapshot(id)
		return !ok
	}, time.Second, 5*time.Millisecond)
	n, _ := f.notifier.last(f.ea.UserID)
	assert.Equal(t, string(domain.CloseIdle), n.detail)
}

func TestDrainAll_ClosesEverythingAsShutdown(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	f.reg.DrainAll()
	_, ok := f.reg.Snapshot(id)
	assert.False(t, ok)
	n, _ := f.notifier.last(f.ea.UserID)
	assert.Equal(t, string(domain.CloseShutdown), n.detail)
}

func TestDrainAll_ReturnsAfterLoopStops(t *testing.T) {
	f := setup(t, Config{})
	f.open(t)

	// Wrong-order shutdown: the run context is cancelled first. DrainAll
	// can no longer close rooms, but it must return instead of blocking
	// on an operation the loop will never execute.
	f.stop()
	<-f.reg.stopped

	returned := make(chan struct{})
	go func() {
		f.reg.DrainAll()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("DrainAll blocked after the loop exited")
	}
}

func TestJoin_Validation(t *testing.T) {
	f := setup(t, Config{})
	id := f.open(t)

	assert.ErrorIs(t, f.reg.Join(uuid.New(), f.ea.UserID, fakePeer{}), ErrRoomNotFound)
	assert.ErrorIs(t, f.reg.Join(id, uuid.New(), fakePeer{}), ErrNotInRoom)
	assert.NoError(t, f.reg.Join(id, f.ea.UserID, fakePeer{}))
}
