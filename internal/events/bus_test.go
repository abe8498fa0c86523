package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToKindSubscriber(t *testing.T) {
	bus := NewBus(Config{Buffer: 8, RetryLimit: 1})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, MatchAccepted)
	require.NoError(t, err)

	a, b := uuid.New(), uuid.New()
	ev := New(MatchAccepted, a, b)
	ev.MatchID = uuid.New()
	ev.Score = 72.5
	bus.Publish(ev)

	select {
	case msg := <-ch:
		got, err := Unmarshal(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, ev.EventID, msg.UUID, "event id doubles as the message uuid")
		assert.Equal(t, MatchAccepted, got.Kind)
		assert.Equal(t, []uuid.UUID{a, b}, got.UserIDs)
		assert.Equal(t, ev.MatchID, got.MatchID)
		assert.Equal(t, 72.5, got.Score)
		assert.Equal(t, string(MatchAccepted), msg.Metadata.Get("kind"))
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestPublish_KindsAreSeparateTopics(t *testing.T) {
	bus := NewBus(Config{Buffer: 8, RetryLimit: 1})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	joined, err := bus.Subscribe(ctx, QueueJoined)
	require.NoError(t, err)

	bus.Publish(New(QueueLeft, uuid.New()))
	bus.Publish(New(QueueJoined, uuid.New()))

	select {
	case msg := <-joined:
		got, err := Unmarshal(msg.Payload)
		require.NoError(t, err)
		assert.Equal(t, QueueJoined, got.Kind)
		msg.Ack()
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case msg := <-joined:
		t.Fatalf("unexpected cross-topic delivery: %s", msg.Payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNew_StampsIDAndTime(t *testing.T) {
	ev := New(RoomEnded, uuid.New())
	assert.NotEmpty(t, ev.EventID)
	assert.WithinDuration(t, time.Now().UTC(), ev.At, time.Second)

	other := New(RoomEnded)
	assert.NotEqual(t, ev.EventID, other.EventID)
}
