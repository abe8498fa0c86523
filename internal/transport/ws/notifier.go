package ws

import (
	"github.com/google/uuid"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/match"
)

// HubNotifier pushes match and room frames through the Hub. It backs the
// Notifier interfaces of the match lifecycle and the room registry.
type HubNotifier struct {
	hub *Hub
}

func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) MatchPending(to uuid.UUID, notice match.PendingNotice) {
	n.push(to, FrameMatchPending, MatchPendingPayload{
		MatchID:   notice.MatchID,
		Partner:   notice.Partner,
		Score:     notice.Score,
		Reasons:   notice.Reasons,
		ExpiresAt: notice.ExpiresAt,
	})
}

func (n *HubNotifier) MatchResult(to uuid.UUID, matchID uuid.UUID, state domain.MatchState) {
	n.push(to, FrameMatchResult, MatchResultPayload{MatchID: matchID, State: state})
}

func (n *HubNotifier) RoomCreated(to uuid.UUID, roomID uuid.UUID, partner uuid.UUID, mode domain.MediaMode) {
	n.push(to, FrameRoomCreated, RoomCreatedPayload{
		RoomID:    roomID,
		Partner:   partner,
		MediaMode: mode,
	})
}

func (n *HubNotifier) RoomEvent(to uuid.UUID, roomID uuid.UUID, kind string) {
	n.push(to, FrameRoomEvent, RoomEventPayload{RoomID: roomID, Kind: kind})
}

func (n *HubNotifier) RoomEnded(to uuid.UUID, roomID uuid.UUID, reason domain.CloseReason) {
	n.push(to, FrameRoomEnded, RoomEndedPayload{RoomID: roomID, Reason: reason})
}

func (n *HubNotifier) push(to uuid.UUID, frameType string, payload any) {
	frame, err := NewFrame(frameType, payload)
	if err != nil {
		n.hub.log.Error().Err(err).Str("frame", frameType).Msg("marshal error")
		return
	}
	n.hub.Send(to, frame)
}
