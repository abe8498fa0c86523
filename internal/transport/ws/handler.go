package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/emberlink/ember/internal/domain"
	"github.com/emberlink/ember/internal/service"
)

// Options carries the gateway knobs from configuration.
type Options struct {
	JWTSecret         string
	AuthTimeout       time.Duration
	SendBuffer        int
	HeartbeatInterval time.Duration
	HeartbeatMisses   int
}

// ServeWS returns an HTTP handler that upgrades to WebSocket. The token
// comes either from the ?token= query param or from an auth frame sent
// within AuthTimeout; only authenticated connections reach the hub.
func ServeWS(hub *Hub, svc *service.Coordinator, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // origin checking is the proxy's job
		})
		if err != nil {
			hub.log.Debug().Err(err).Msg("accept error")
			return
		}
		conn.SetReadLimit(maxMessageSize)

		ctx, cancel := context.WithTimeout(r.Context(), opts.AuthTimeout)
		defer cancel()

		userID, err := authenticate(ctx, conn, r.URL.Query().Get("token"), opts.JWTSecret)
		if err != nil {
			rejectAuth(ctx, conn, "invalid token")
			return
		}

		profile, err := svc.LoadProfile(ctx, userID)
		if err != nil {
			rejectAuth(ctx, conn, "unknown user")
			return
		}

		authOK, err := NewFrame(FrameAuthOK, AuthOKPayload{UserID: userID})
		if err != nil || wsjson.Write(ctx, conn, authOK) != nil {
			conn.Close(websocket.StatusInternalError, "")
			return
		}

		client := NewClient(hub, svc, conn, profile, opts)
		hub.Register(client)

		go client.WritePump()
		go client.ReadPump()

		// Reconnect inside a grace window: tell the client which room is
		// waiting so it can resume with room.join.
		if room, ok := svc.RoomFor(userID); ok {
			client.sendFrame(FrameRoomCreated, RoomCreatedPayload{
				RoomID:     room.ID,
				Partner:    room.Other(userID),
				MediaMode:  room.MediaMode,
				HeartState: room.HeartState,
			})
		}
	}
}

// authenticate resolves the user id, waiting for an auth frame when no
// query token was supplied.
func authenticate(ctx context.Context, conn *websocket.Conn, queryToken, secret string) (uuid.UUID, error) {
	token := queryToken
	if token == "" {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return uuid.Nil, err
		}
		if frame.Type != FrameAuth {
			return uuid.Nil, jwt.ErrTokenMalformed
		}
		var p AuthPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			return uuid.Nil, err
		}
		token = p.Token
	}
	return validateToken(token, secret)
}

func rejectAuth(ctx context.Context, conn *websocket.Conn, message string) {
	if frame, err := NewFrame(FrameAuthErr, ErrorPayload{Code: domain.CodeUnauth, Message: message}); err == nil {
		_ = wsjson.Write(ctx, conn, frame)
	}
	conn.Close(websocket.StatusPolicyViolation, string(domain.CodeUnauth))
}

func validateToken(tokenStr, secret string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		if err == nil {
			err = jwt.ErrTokenInvalidClaims
		}
		return uuid.Nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, jwt.ErrTokenInvalidClaims
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(sub)
}
