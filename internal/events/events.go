// Package events is the outbound domain event bus. Downstream
// collaborators (notifications, history, analytics, chat persistence)
// subscribe to topics named after the event kind. Delivery is
// at-least-once; consumers dedup on the event id.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind doubles as the watermill topic name.
type Kind string

const (
	QueueJoined   Kind = "queue.joined"
	QueueLeft     Kind = "queue.left"
	MatchPending  Kind = "match.pending"
	MatchAccepted Kind = "match.accepted"
	MatchDeclined Kind = "match.declined"
	MatchExpired  Kind = "match.expired"
	RoomCreated   Kind = "room.created"
	RoomEnded     Kind = "room.ended"
	HeartMatched  Kind = "room.heart.matched"
	MediaUpgraded Kind = "room.media.upgraded"
)

// Event is the envelope published for every significant transition.
// Exactly one event per terminal match/room outcome is published, keyed
// by MatchID/RoomID for consumer-side dedup.
type Event struct {
	EventID string    `json:"event_id"`
	Kind    Kind      `json:"kind"`
	At      time.Time `json:"at"`

	UserIDs []uuid.UUID `json:"user_ids,omitempty"`
	MatchID uuid.UUID   `json:"match_id,omitempty"`
	RoomID  uuid.UUID   `json:"room_id,omitempty"`

	Score       float64 `json:"score,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

// New stamps an envelope with a fresh id and the current time.
func New(kind Kind, users ...uuid.UUID) Event {
	return Event{
		EventID: uuid.New().String(),
		Kind:    kind,
		At:      time.Now().UTC(),
		UserIDs: users,
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func Unmarshal(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}
