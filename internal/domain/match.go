package domain

import (
	"time"

	"github.com/google/uuid"
)

type MatchState string

const (
	MatchPending     MatchState = "PENDING"
	MatchAcceptedByA MatchState = "ACCEPTED_BY_A"
	MatchAcceptedByB MatchState = "ACCEPTED_BY_B"
	MatchAccepted    MatchState = "ACCEPTED"
	MatchDeclined    MatchState = "DECLINED"
	MatchExpired     MatchState = "EXPIRED"
)

// Terminal reports whether the state admits no further transitions.
func (s MatchState) Terminal() bool {
	switch s {
	case MatchAccepted, MatchDeclined, MatchExpired:
		return true
	}
	return false
}

// MatchAttempt is an offer to pair two queued users, pending mutual
// acceptance. UserA and UserB are stored in canonical order
// (UserA.String() < UserB.String()).
type MatchAttempt struct {
	ID    uuid.UUID
	UserA uuid.UUID
	UserB uuid.UUID

	State MatchState

	CreatedAt  time.Time
	AcceptedAt *time.Time
	ExpiresAt  time.Time
}

// OrderPair returns the two ids in canonical order.
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() > b.String() {
		return b, a
	}
	return a, b
}
