package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/emberlink/ember/internal/domain"
)

// Frame types - Client → Server
const (
	FrameAuth         = "auth"
	FrameQueueJoin    = "queue.join"
	FrameQueueLeave   = "queue.leave"
	FrameMatchAccept  = "match.accept"
	FrameMatchDecline = "match.decline"
	FrameRoomJoin     = "room.join"
	FrameRoomLeave    = "room.leave"
	FrameSignal       = "signal"
	FrameControl      = "control"
	FramePing         = "ping"
)

// Frame types - Server → Client
const (
	FrameAuthOK       = "auth.ok"
	FrameAuthErr      = "auth.err"
	FrameQueueStatus  = "queue.status"
	FrameMatchPending = "match.pending"
	FrameMatchResult  = "match.result"
	FrameRoomCreated  = "room.created"
	FrameRoomEvent    = "room.event"
	FrameRoomEnded    = "room.ended"
	FrameReceipt      = "receipt"
	FramePong         = "pong"
	FrameError        = "error"
)

// Signal kinds a client may relay.
var signalKinds = map[string]bool{
	"offer":  true,
	"answer": true,
	"ice":    true,
}

// Control kinds a client may send. Heart/video/skip/end are room state
// transitions; typing and read receipts are ephemeral relays.
var controlKinds = map[string]bool{
	"heart-request": true,
	"heart-accept":  true,
	"heart-unmatch": true,
	"video-request": true,
	"video-accept":  true,
	"video-decline": true,
	"skip":          true,
	"end":           true,
	"typing-start":  true,
	"typing-stop":   true,
	"read":          true,
}

// Frame is the base envelope for all WebSocket messages.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

// --- Client → Server payloads ---

type AuthPayload struct {
	Token string `json:"token"`
}

type QueueJoinPayload struct {
	Intent      string              `json:"intent"`
	Coords      *domain.LatLng      `json:"coords,omitempty"`
	Preferences *domain.Preferences `json:"preferences,omitempty"`
}

type MatchActPayload struct {
	MatchID uuid.UUID `json:"match_id"`
}

type RoomJoinPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

type SignalPayload struct {
	Kind string          `json:"kind"` // "offer" | "answer" | "ice"
	Data json.RawMessage `json:"data"`
}

type ControlPayload struct {
	Kind string `json:"kind"`
}

// --- Server → Client payloads ---

type AuthOKPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

type QueueStatusPayload struct {
	JoinedAt   time.Time `json:"joined_at"`
	Generation int       `json:"generation"`
	Depth      int       `json:"depth"`
}

type MatchPendingPayload struct {
	MatchID   uuid.UUID `json:"match_id"`
	Partner   uuid.UUID `json:"partner"`
	Score     float64   `json:"score"`
	Reasons   []string  `json:"reasons,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

type MatchResultPayload struct {
	MatchID uuid.UUID         `json:"match_id"`
	State   domain.MatchState `json:"state"`
}

type RoomCreatedPayload struct {
	RoomID     uuid.UUID         `json:"room_id"`
	Partner    uuid.UUID         `json:"partner"`
	MediaMode  domain.MediaMode  `json:"media_mode"`
	HeartState domain.HeartState `json:"heart_state,omitempty"`
}

type RoomEventPayload struct {
	RoomID uuid.UUID `json:"room_id"`
	Kind   string    `json:"kind"`
}

// ReceiptPayload carries a typing or read receipt from the room partner.
type ReceiptPayload struct {
	Kind string    `json:"kind"`
	From uuid.UUID `json:"from"`
}

type RoomEndedPayload struct {
	RoomID uuid.UUID          `json:"room_id"`
	Reason domain.CloseReason `json:"reason"`
}

type SignalOutPayload struct {
	Kind string          `json:"kind"`
	From uuid.UUID       `json:"from"`
	Data json.RawMessage `json:"data"`
}

type ErrorPayload struct {
	Code    domain.Code `json:"code"`
	Message string      `json:"message"`
}

// NewFrame creates a server→client frame with the current timestamp.
func NewFrame(frameType string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Type:      frameType,
		Payload:   data,
		Timestamp: time.Now().Unix(),
	}, nil
}
