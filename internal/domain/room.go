package domain

import (
	"time"

	"github.com/google/uuid"
)

type RoomStatus string

const (
	RoomActive   RoomStatus = "ACTIVE"
	RoomDraining RoomStatus = "DRAINING"
	RoomClosed   RoomStatus = "CLOSED"
)

type MediaMode string

const (
	MediaVoice MediaMode = "voice"
	MediaVideo MediaMode = "video"
)

type HeartState string

const (
	HeartIdle          HeartState = "IDLE"
	HeartRequestedByA  HeartState = "REQUESTED_BY_A"
	HeartRequestedByB  HeartState = "REQUESTED_BY_B"
	HeartMatched       HeartState = "MATCHED"
)

// CloseReason is attached to every room.ended event.
type CloseReason string

const (
	CloseSkip               CloseReason = "skip"
	CloseEnd                CloseReason = "end"
	CloseIdle               CloseReason = "idle"
	ClosePartnerDisconnect  CloseReason = "partner_disconnect"
	CloseShutdown           CloseReason = "shutdown"
	CloseInvariantViolation CloseReason = "invariant_violation"
)

// Room is the live two-party coordination unit created on match
// acceptance. Participants are stored in canonical order.
type Room struct {
	ID      uuid.UUID
	MatchID uuid.UUID

	UserA uuid.UUID
	UserB uuid.UUID

	Status     RoomStatus
	MediaMode  MediaMode
	HeartState HeartState

	StartedAt      time.Time
	LastActivityAt time.Time
	EndedAt        *time.Time
}

// Other returns the partner of id, or uuid.Nil if id is not a participant.
func (r *Room) Other(id uuid.UUID) uuid.UUID {
	switch id {
	case r.UserA:
		return r.UserB
	case r.UserB:
		return r.UserA
	}
	return uuid.Nil
}

// Has reports whether id is one of the two participants.
func (r *Room) Has(id uuid.UUID) bool {
	return id == r.UserA || id == r.UserB
}
