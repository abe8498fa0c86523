package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/emberlink/ember/internal/directory"
	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/match"
	"github.com/emberlink/ember/internal/queue"
	"github.com/emberlink/ember/internal/relay"
	"github.com/emberlink/ember/internal/room"
	"github.com/emberlink/ember/internal/service"
	"github.com/emberlink/ember/pkg/validator"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4096
)

// Client represents a single authenticated WebSocket connection.
type Client struct {
	hub     *Hub
	svc     *service.Coordinator
	conn    *websocket.Conn
	userID  uuid.UUID
	profile *directory.Profile

	heartbeat time.Duration
	maxMisses int

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	log zerolog.Logger
}

func NewClient(hub *Hub, svc *service.Coordinator, conn *websocket.Conn, profile *directory.Profile, opts Options) *Client {
	return &Client{
		hub:       hub,
		svc:       svc,
		conn:      conn,
		userID:    profile.UserID,
		profile:   profile,
		heartbeat: opts.HeartbeatInterval,
		maxMisses: opts.HeartbeatMisses,
		send:      make(chan []byte, opts.SendBuffer),
		done:      make(chan struct{}),
		log:       hub.log.With().Stringer("user", profile.UserID).Logger(),
	}
}

// ReadPump reads frames from the WebSocket and routes them. On exit the
// user leaves the queue and, if in a room, enters its grace window.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.svc.Disconnected(c.userID)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()
	c.conn.SetReadLimit(maxMessageSize)

	for {
		var frame Frame
		err := wsjson.Read(context.Background(), c.conn, &frame)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				c.log.Debug().Msg("client disconnected")
			} else {
				c.log.Debug().Err(err).Msg("read error")
			}
			return
		}
		c.handleFrame(&frame)
	}
}

// WritePump drains the send channel onto the WebSocket and keeps the
// heartbeat going. Consecutive missed pongs close the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.heartbeat)
	misses := 0
	defer func() {
		ticker.Stop()
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("write error")
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.heartbeat)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				misses++
				if misses >= c.maxMisses {
					c.log.Info().Int("misses", misses).Msg("heartbeat lost, closing")
					return
				}
			} else {
				misses = 0
			}

		case <-c.done:
			return
		}
	}
}

// handleFrame routes one client frame.
func (c *Client) handleFrame(frame *Frame) {
	switch frame.Type {
	case FrameQueueJoin:
		c.handleQueueJoin(frame.Payload)

	case FrameQueueLeave:
		c.svc.LeaveQueue(c.userID)

	case FrameMatchAccept, FrameMatchDecline:
		c.handleMatchAct(frame.Type, frame.Payload)

	case FrameRoomJoin:
		var p RoomJoinPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.sendError(domain.CodeInternal, "invalid room.join payload")
			return
		}
		if err := c.svc.JoinRoom(p.RoomID, c.userID, c); err != nil {
			c.sendServiceError(err)
		}

	case FrameRoomLeave:
		c.svc.LeaveRoom(c.userID)

	case FrameSignal:
		var p SignalPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || !signalKinds[p.Kind] {
			c.sendError(domain.CodeInternal, "invalid signal payload")
			return
		}
		if err := c.svc.Signal(c.userID, p.Kind, p.Data); err != nil {
			c.sendServiceError(err)
		}

	case FrameControl:
		var p ControlPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil || !controlKinds[p.Kind] {
			c.sendError(domain.CodeInternal, "invalid control payload")
			return
		}
		if err := c.svc.Control(c.userID, p.Kind); err != nil {
			c.sendServiceError(err)
		}

	case FramePing:
		c.sendFrame(FramePong, nil)

	default:
		c.sendError(domain.CodeInternal, "unknown frame type: "+frame.Type)
	}
}

func (c *Client) handleQueueJoin(payload json.RawMessage) {
	var p QueueJoinPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(domain.CodeInternal, "invalid queue.join payload")
		return
	}
	if errs := validator.ValidateQueueJoin(p.Intent, p.Coords, p.Preferences); errs.HasErrors() {
		c.sendError(domain.CodeIncompleteProfile, errs.String())
		return
	}
	intent, _ := domain.ParseIntent(p.Intent)

	status, err := c.svc.JoinQueue(c.profile, service.JoinRequest{
		Intent:      intent,
		Coords:      p.Coords,
		Preferences: p.Preferences,
	})
	if err != nil {
		c.sendServiceError(err)
		return
	}
	c.sendFrame(FrameQueueStatus, QueueStatusPayload{
		JoinedAt:   status.JoinedAt,
		Generation: status.Generation,
		Depth:      status.Depth,
	})
}

func (c *Client) handleMatchAct(frameType string, payload json.RawMessage) {
	var p MatchActPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError(domain.CodeInternal, "invalid match payload")
		return
	}
	var state domain.MatchState
	var err error
	if frameType == FrameMatchAccept {
		state, err = c.svc.AcceptMatch(p.MatchID, c.userID)
	} else {
		state, err = c.svc.DeclineMatch(p.MatchID, c.userID)
	}
	if err != nil {
		c.sendServiceError(err)
		return
	}
	c.sendFrame(FrameMatchResult, MatchResultPayload{MatchID: p.MatchID, State: state})
}

// --- relay.Peer ---

func (c *Client) SendSignal(from uuid.UUID, kind string, payload json.RawMessage) bool {
	frame, err := NewFrame(FrameSignal, SignalOutPayload{Kind: kind, From: from, Data: payload})
	if err != nil {
		return false
	}
	return c.trySendFrame(frame)
}

func (c *Client) SendEphemeral(from uuid.UUID, kind string) bool {
	frame, err := NewFrame(FrameReceipt, ReceiptPayload{Kind: kind, From: from})
	if err != nil {
		return false
	}
	return c.trySendFrame(frame)
}

// --- outbound plumbing ---

func (c *Client) sendFrame(frameType string, payload any) {
	frame, err := NewFrame(frameType, payload)
	if err != nil {
		return
	}
	c.trySendFrame(frame)
}

func (c *Client) sendError(code domain.Code, message string) {
	c.sendFrame(FrameError, ErrorPayload{Code: code, Message: message})
}

func (c *Client) sendServiceError(err error) {
	c.sendError(errorCode(err), err.Error())
}

// trySendFrame enqueues without blocking. A full buffer means the client
// cannot keep up; the connection is closed rather than stalling an actor.
func (c *Client) trySendFrame(frame *Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("send buffer overflow, closing connection")
		c.closeWith(websocket.StatusPolicyViolation, string(domain.CodeOverflow))
		return false
	}
}

func (c *Client) closeWith(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close(status, reason)
	})
}

// errorCode maps service errors to the machine codes clients see.
func errorCode(err error) domain.Code {
	switch {
	case errors.Is(err, queue.ErrIncompleteProfile):
		return domain.CodeIncompleteProfile
	case errors.Is(err, queue.ErrAlreadyMatched):
		return domain.CodeAlreadyMatched
	case errors.Is(err, match.ErrNotFound), errors.Is(err, match.ErrNotYours):
		return domain.CodeMatchNotFound
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, relay.ErrRoomNotFound):
		return domain.CodeRoomNotFound
	case errors.Is(err, room.ErrNotInRoom), errors.Is(err, relay.ErrNotInRoom):
		return domain.CodeNotInRoom
	case errors.Is(err, room.ErrUserBusy):
		return domain.CodeAlreadyMatched
	case errors.Is(err, service.ErrNoProfile):
		return domain.CodeUnauth
	default:
		return domain.CodeInternal
	}
}
