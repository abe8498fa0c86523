// Package service is the seam between the session gateway and the
// coordination actors. The gateway stays protocol-only; everything that
// touches more than one actor goes through the coordinator.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/emberlink/ember/internal/directory"
	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/logging"
	"github.com/emberlink/ember/internal/match"
	"github.com/emberlink/ember/internal/queue"
	"github.com/emberlink/ember/internal/relay"
	"github.com/emberlink/ember/internal/room"
)

var ErrNoProfile = errors.New("no directory profile for user")

// JoinRequest is the queue.join payload after validation: the intent is
// mandatory, preferences override the directory defaults when present.
type JoinRequest struct {
	Intent      domain.Intent
	Coords      *domain.LatLng
	Preferences *domain.Preferences
}

// QueueStatus is echoed back to the client after a successful join.
type QueueStatus struct {
	JoinedAt   time.Time
	Generation int
	Depth      int
}

type Coordinator struct {
	dir     directory.Directory
	queue   *queue.Store
	matches *match.Lifecycle
	rooms   *room.Registry
	relay   *relay.Relay

	// privacy caches directory privacy flags per authenticated user so the
	// relay can consult them without a blocking directory call.
	privacy sync.Map // uuid.UUID -> directory.Privacy

	log zerolog.Logger
}

func NewCoordinator(dir directory.Directory, q *queue.Store, m *match.Lifecycle, r *room.Registry, rl *relay.Relay) *Coordinator {
	return &Coordinator{
		dir:     dir,
		queue:   q,
		matches: m,
		rooms:   r,
		relay:   rl,
		log:     logging.Component("service"),
	}
}

// LoadProfile resolves the authenticated user against the directory and
// caches the privacy flags for the session's lifetime.
func (c *Coordinator) LoadProfile(ctx context.Context, userID uuid.UUID) (*directory.Profile, error) {
	p, err := c.dir.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, ErrNoProfile
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	c.privacy.Store(userID, p.Privacy)
	return p, nil
}

// ReceiptsAllowed is handed to the relay; unknown users default to
// allowing receipts.
func (c *Coordinator) ReceiptsAllowed(userID uuid.UUID) bool {
	v, ok := c.privacy.Load(userID)
	if !ok {
		return true
	}
	return v.(directory.Privacy).Receipts
}

// JoinQueue builds the queue entry from the directory profile plus the
// request's overrides and enqueues it.
func (c *Coordinator) JoinQueue(p *directory.Profile, req JoinRequest) (QueueStatus, error) {
	e := &domain.QueueEntry{
		UserID:           p.UserID,
		Intent:           req.Intent,
		Gender:           p.Gender,
		Age:              p.Age,
		Coords:           p.Coords,
		Interests:        p.Interests,
		Languages:        p.Languages,
		Ethnicity:        p.Ethnicity,
		Education:        p.Education,
		FamilyPlans:      p.FamilyPlans,
		Religion:         p.Religion,
		Politics:         p.Politics,
		Drinking:         p.Drinking,
		Smoking:          p.Smoking,
		Exercise:         p.Exercise,
		RelationshipType: p.RelationshipType,
		Premium:          p.Premium,
		Preferences:      p.Preferences,
	}
	if req.Coords != nil {
		e.Coords = req.Coords
	}
	if req.Preferences != nil {
		e.Preferences = *req.Preferences
	}

	if err := c.queue.Join(e); err != nil {
		return QueueStatus{}, err
	}
	snap, ok := c.queue.Snapshot(p.UserID)
	if !ok {
		// Matched between join and snapshot; report the join as-is.
		return QueueStatus{JoinedAt: time.Now(), Depth: c.queue.Len()}, nil
	}
	return QueueStatus{
		JoinedAt:   snap.JoinedAt,
		Generation: snap.Generation,
		Depth:      c.queue.Len(),
	}, nil
}

func (c *Coordinator) LeaveQueue(userID uuid.UUID) {
	c.queue.Leave(userID)
}

func (c *Coordinator) AcceptMatch(matchID, userID uuid.UUID) (domain.MatchState, error) {
	return c.matches.Accept(matchID, userID)
}

func (c *Coordinator) DeclineMatch(matchID, userID uuid.UUID) (domain.MatchState, error) {
	return c.matches.Decline(matchID, userID)
}

// JoinRoom attaches the connection to its room; used both for the first
// join after match acceptance and for reconnect inside a grace window.
func (c *Coordinator) JoinRoom(roomID, userID uuid.UUID, peer relay.Peer) error {
	return c.rooms.Join(roomID, userID, peer)
}

func (c *Coordinator) LeaveRoom(userID uuid.UUID) {
	roomID, in := c.rooms.RoomOf(userID)
	if !in {
		return
	}
	c.rooms.Leave(roomID, userID)
}

// RoomFor reports the user's active room, if any. The gateway uses it to
// offer resume on reconnect.
func (c *Coordinator) RoomFor(userID uuid.UUID) (domain.Room, bool) {
	roomID, in := c.rooms.RoomOf(userID)
	if !in {
		return domain.Room{}, false
	}
	return c.rooms.Snapshot(roomID)
}

// Signal forwards an offer/answer/ice frame to the sender's room partner.
func (c *Coordinator) Signal(userID uuid.UUID, kind string, payload json.RawMessage) error {
	roomID, in := c.rooms.RoomOf(userID)
	if !in {
		return room.ErrNotInRoom
	}
	return c.relay.ForwardSignal(roomID, userID, kind, payload)
}

// Control routes a room control frame: typing and read receipts go
// through the relay's ephemeral path, everything else is a room state
// transition.
func (c *Coordinator) Control(userID uuid.UUID, kind string) error {
	switch kind {
	case "typing-start", "typing-stop", "read":
		roomID, in := c.rooms.RoomOf(userID)
		if !in {
			return room.ErrNotInRoom
		}
		return c.relay.ForwardEphemeral(roomID, userID, kind)
	default:
		return c.rooms.Control(userID, kind)
	}
}

// Disconnected handles a dropped connection: the user leaves the queue
// and, if in a room, enters the room's grace window.
func (c *Coordinator) Disconnected(userID uuid.UUID) {
	c.privacy.Delete(userID)
	c.queue.Leave(userID)
	c.rooms.Disconnected(userID)
}
