package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlink/ember/internal/directory"
	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/events"
	"github.com/emberlink/ember/internal/match"
	"github.com/emberlink/ember/internal/presence"
	"github.com/emberlink/ember/internal/queue"
	"github.com/emberlink/ember/internal/relay"
	"github.com/emberlink/ember/internal/room"
)

func setup(t *testing.T, profiles ...*directory.Profile) *Coordinator {
	t.Helper()

	dir := &directory.Static{Profiles: make(map[uuid.UUID]*directory.Profile)}
	for _, p := range profiles {
		dir.Profiles[p.UserID] = p
	}

	guard := presence.NewGuard()
	bus := events.NewBus(events.Config{Buffer: 16, RetryLimit: 1})
	t.Cleanup(func() { bus.Close() })

	var c *Coordinator
	rly := relay.NewRelay(relay.Config{BufferSize: 8, BufferTTL: time.Second},
		func(id uuid.UUID) bool { return c.ReceiptsAllowed(id) })

	store := queue.NewStore(guard, bus, nil)
	registry := room.NewRegistry(room.Config{
		GracePeriod: time.Minute,
		IdleTimeout: time.Minute,
	}, guard, store, rly, bus)
	rly.SetTouch(registry.Touch)
	lifecycle := match.NewLifecycle(match.Config{
		AcceptTimeout: time.Minute,
		RetainFor:     time.Minute,
	}, guard, store, registry, bus)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go store.Run(ctx)
	go registry.Run(ctx)
	go lifecycle.Run(ctx)

	c = NewCoordinator(dir, store, lifecycle, registry, rly)
	return c
}

func profile(gender domain.Gender, age int) *directory.Profile {
	return &directory.Profile{
		UserID:    uuid.New(),
		Gender:    gender,
		Age:       age,
		Interests: []string{"hiking"},
		Premium:   true,
		Privacy:   directory.Privacy{Online: true, Receipts: false},
		Preferences: domain.Preferences{
			AgeMin: 20,
			AgeMax: 40,
		},
	}
}

func TestLoadProfile_CachesPrivacy(t *testing.T) {
	p := profile(domain.GenderFemale, 28)
	c := setup(t, p)

	// Unknown users default to allowing receipts.
	assert.True(t, c.ReceiptsAllowed(p.UserID))

	got, err := c.LoadProfile(context.Background(), p.UserID)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.False(t, c.ReceiptsAllowed(p.UserID), "privacy now reflects the directory")

	_, err = c.LoadProfile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestJoinQueue_BuildsEntryFromProfileAndOverrides(t *testing.T) {
	p := profile(domain.GenderFemale, 28)
	c := setup(t, p)

	coords := &domain.LatLng{Lat: 52.52, Lng: 13.405}
	prefs := &domain.Preferences{Genders: []domain.Gender{domain.GenderMale}, AgeMin: 25, AgeMax: 35}

	status, err := c.JoinQueue(p, JoinRequest{
		Intent:      domain.IntentSerious,
		Coords:      coords,
		Preferences: prefs,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, status.Depth)
	assert.Zero(t, status.Generation)
	assert.False(t, status.JoinedAt.IsZero())

	snap, ok := c.queue.Snapshot(p.UserID)
	require.True(t, ok)
	assert.Equal(t, domain.IntentSerious, snap.Intent)
	assert.Equal(t, domain.GenderFemale, snap.Gender)
	assert.Equal(t, 28, snap.Age)
	assert.True(t, snap.Premium)
	assert.Equal(t, *coords, *snap.Coords)
	assert.Equal(t, *prefs, snap.Preferences, "request preferences override the directory's")

	// Re-joining replaces the entry in place.
	again, err := c.JoinQueue(p, JoinRequest{Intent: domain.IntentCasual})
	require.NoError(t, err)
	assert.Equal(t, 1, again.Generation)
	assert.Equal(t, status.JoinedAt, again.JoinedAt, "waiting time is kept on replace")
}

func TestJoinQueue_IncompleteProfile(t *testing.T) {
	p := profile("", 28) // directory has no gender on file
	c := setup(t, p)

	_, err := c.JoinQueue(p, JoinRequest{Intent: domain.IntentCasual})
	assert.ErrorIs(t, err, queue.ErrIncompleteProfile)
}

func TestControl_RoutesByKind(t *testing.T) {
	p := profile(domain.GenderFemale, 28)
	c := setup(t, p)

	// Not in any room: both paths report it.
	assert.ErrorIs(t, c.Control(p.UserID, "typing-start"), room.ErrNotInRoom)
	assert.ErrorIs(t, c.Control(p.UserID, "skip"), room.ErrNotInRoom)
	assert.ErrorIs(t, c.Signal(p.UserID, "offer", nil), room.ErrNotInRoom)
}

func TestDisconnected_LeavesQueueAndDropsPrivacy(t *testing.T) {
	p := profile(domain.GenderFemale, 28)
	c := setup(t, p)

	_, err := c.LoadProfile(context.Background(), p.UserID)
	require.NoError(t, err)
	_, err = c.JoinQueue(p, JoinRequest{Intent: domain.IntentCasual})
	require.NoError(t, err)

	c.Disconnected(p.UserID)

	_, ok := c.queue.Snapshot(p.UserID)
	assert.False(t, ok)
	assert.True(t, c.ReceiptsAllowed(p.UserID), "privacy cache cleared on disconnect")
}
