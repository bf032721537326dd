// Package ws is the websocket transport for the session subsystem. Each
// connection must attach with its session token before anything else;
// after that the read loop feeds heartbeats, actions and victory claims
// into the session core, and the client struct doubles as the registry
// transport for pings and opponent broadcasts.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"cassino-live/internal/game"
	"cassino-live/internal/ledger"
	"cassino-live/internal/recovery"
	"cassino-live/internal/registry"
	"cassino-live/internal/session"
)

type Client struct {
	conn *websocket.Conn
	send chan []byte

	attached   bool
	roomID     string
	playerID   string
	remoteAddr string
	userAgent  string
}

// Send marshals v onto the outbound queue. Never blocks the caller; a
// closed queue drops the message.
func (c *Client) Send(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}
	safeSend(c.send, msg)
	return nil
}

func (c *Client) SendPing(ts time.Time) error {
	return c.Send(PingMessage{Type: "ping", TS: ts.UnixMilli()})
}

// Close tears the connection down. A superseded close tells the old
// client why before cutting it off, so it does not auto-reconnect into
// a supersede loop. The write loop flushes the queue and closes the
// socket; closing the channel here only signals it.
func (c *Client) Close(reason string) error {
	if reason == "superseded" {
		_ = c.Send(Superseded{Type: "superseded"})
	}
	safeClose(c.send)
	return nil
}

type Server struct {
	sessions *session.Manager
	ledger   *ledger.Ledger
	recovery *recovery.Service
	engine   game.Engine
	upgrader websocket.Upgrader
}

func NewServer(sessions *session.Manager, led *ledger.Ledger, rec *recovery.Service, engine game.Engine) *Server {
	s := &Server{
		sessions: sessions,
		ledger:   led,
		recovery: rec,
		engine:   engine,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
	sessions.SetEvents(s)
	sessions.Registry().OnTransition(s.connectionTransition)
	return s
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &Client{
		conn:       conn,
		send:       make(chan []byte, 16),
		remoteAddr: r.RemoteAddr,
		userAgent:  r.UserAgent(),
	}

	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		if c.attached {
			// The registry ignores this if a newer connection already
			// superseded us; otherwise it flips the session to
			// disconnected via the dead callback.
			s.sessions.Registry().MarkDead(c.roomID, c.playerID, c)
		}
		safeClose(c.send)
		_ = c.conn.Close()
	}()

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &base); err != nil {
			s.sendError(c, "bad_message")
			continue
		}
		switch base.Type {
		case "attach":
			var attach AttachMessage
			if err := json.Unmarshal(msg, &attach); err != nil {
				s.sendError(c, "bad_message")
				continue
			}
			s.handleAttach(c, attach)
		case "pong":
			if !c.attached {
				continue
			}
			s.sessions.Registry().RecordPong(c.roomID, c.playerID)
			if err := s.sessions.RecordHeartbeat(context.Background(), c.roomID, c.playerID); err != nil {
				log.Debug().Err(err).Str("room_id", c.roomID).Str("player_id", c.playerID).Msg("pong heartbeat failed")
			}
		case "heartbeat":
			if !c.attached {
				s.sendError(c, "not_attached")
				continue
			}
			if err := s.sessions.RecordHeartbeat(context.Background(), c.roomID, c.playerID); err != nil {
				s.sendError(c, "session_not_found")
			}
		case "action_submit":
			if !c.attached {
				s.sendError(c, "not_attached")
				continue
			}
			var action ActionSubmitMessage
			if err := json.Unmarshal(msg, &action); err != nil {
				s.sendError(c, "bad_message")
				continue
			}
			s.handleAction(c, action)
		case "claim_victory":
			if !c.attached {
				s.sendError(c, "not_attached")
				continue
			}
			s.handleClaim(c)
		default:
			s.sendError(c, "unknown_type")
		}
	}
}

func (s *Server) writeLoop(c *Client) {
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		_ = c.conn.WriteMessage(websocket.TextMessage, msg)
	}
	_ = c.conn.Close()
}

func (s *Server) handleAttach(c *Client, attach AttachMessage) {
	if c.attached {
		s.sendAttachResult(c, false, "already_attached", "", "")
		return
	}

	ctx := context.Background()
	rec, err := s.sessions.ValidateAndAttach(ctx, attach.RoomID, attach.Token, c, c.remoteAddr, c.userAgent)
	if err != nil {
		s.sendAttachResult(c, false, attachErrorCode(err), "", "")
		return
	}
	c.attached = true
	c.roomID = rec.RoomID
	c.playerID = rec.PlayerID
	s.sendAttachResult(c, true, "", rec.RoomID, rec.PlayerID)

	payload, err := s.recovery.Build(ctx, rec.RoomID, rec.PlayerID, attach.LastSequence)
	if err != nil {
		if errors.Is(err, recovery.ErrTimeout) {
			s.sendError(c, "recovery_timeout")
		} else {
			log.Warn().Err(err).Str("room_id", rec.RoomID).Str("player_id", rec.PlayerID).Msg("recovery build failed")
			s.sendError(c, "recovery_failed")
		}
		return
	}
	_ = c.Send(RecoveryPayload{Type: "recovery_payload", ProtocolVersion: ProtocolVersion, Payload: *payload})
}

// handleAction runs the dedup gate before the rule engine: the ledger
// assigns the sequence or returns the original one, and only a fresh
// acceptance reaches Apply. The retransmit path acks without replaying.
func (s *Server) handleAction(c *Client, action ActionSubmitMessage) {
	ctx := context.Background()
	seq, duplicate, err := s.ledger.Append(ctx, c.roomID, c.playerID, action.ActionType, action.Payload)
	if err != nil {
		s.sendError(c, "action_failed")
		return
	}
	if !duplicate {
		if _, err := s.engine.Apply(ctx, c.roomID, c.playerID, action.ActionType, action.Payload); err != nil {
			log.Warn().Err(err).Str("room_id", c.roomID).Str("player_id", c.playerID).Str("action_type", action.ActionType).Msg("engine apply failed")
		}
	}
	_ = c.Send(ActionAck{
		Type:           "action_ack",
		ActionID:       ledger.Fingerprint(c.roomID, c.playerID, action.ActionType, action.Payload),
		SequenceNumber: seq,
		Duplicate:      duplicate,
	})
}

func (s *Server) handleClaim(c *Client) {
	out, err := s.sessions.ClaimVictory(context.Background(), c.roomID, c.playerID)
	if err != nil {
		s.sendError(c, claimErrorCode(err))
		return
	}
	closed := RoomClosed{Type: "room_closed", WinnerID: out.WinnerID, Reason: out.Reason}
	s.sessions.Registry().Each(c.roomID, func(_ string, t registry.Transport) {
		_ = t.Send(closed)
	})
}

// Session event fan-out. The manager calls these with the per-session
// lock held, so everything here must stay non-blocking: Send only queues.

func (s *Server) OpponentDisconnected(roomID, playerID string, since time.Time) {
	s.broadcastExcept(roomID, playerID, ConnectionStatus{
		Type: "connection_status", PlayerID: playerID, Status: "disconnected", SinceMS: since.UnixMilli(),
	})
}

func (s *Server) OpponentStillAway(roomID, playerID string, since time.Time) {
	s.broadcastExcept(roomID, playerID, ConnectionStatus{
		Type: "connection_status", PlayerID: playerID, Status: "still_disconnected", SinceMS: since.UnixMilli(),
	})
}

func (s *Server) OpponentReconnected(roomID, playerID string) {
	s.broadcastExcept(roomID, playerID, ConnectionStatus{
		Type: "connection_status", PlayerID: playerID, Status: "reconnected",
	})
}

func (s *Server) SessionAbandoned(roomID, playerID string) {
	s.broadcastExcept(roomID, playerID, AbandonedNotice{
		Type:       "abandoned_notice",
		OpponentID: playerID,
		Options:    []string{"wait", "claim_victory"},
	})
}

func (s *Server) connectionTransition(roomID, playerID string, health registry.Health, since time.Time) {
	s.broadcastExcept(roomID, playerID, ConnectionStatus{
		Type: "connection_status", PlayerID: playerID, Status: string(health), SinceMS: since.UnixMilli(),
	})
}

func (s *Server) broadcastExcept(roomID, exceptPlayerID string, v any) {
	s.sessions.Registry().Each(roomID, func(playerID string, t registry.Transport) {
		if playerID == exceptPlayerID {
			return
		}
		_ = t.Send(v)
	})
}

func (s *Server) sendAttachResult(c *Client, ok bool, errCode, roomID, playerID string) {
	_ = c.Send(AttachResult{
		Type:            "attach_result",
		ProtocolVersion: ProtocolVersion,
		Ok:              ok,
		Error:           errCode,
		RoomID:          roomID,
		PlayerID:        playerID,
	})
}

func (s *Server) sendError(c *Client, code string) {
	_ = c.Send(ErrorMessage{Type: "error", Code: code})
}

func attachErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, session.ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, session.ErrRoomMismatch):
		return "room_mismatch"
	case errors.Is(err, session.ErrRoomClosed):
		return "room_closed"
	default:
		return "attach_failed"
	}
}

func claimErrorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrNotAbandoned):
		return "opponent_not_abandoned"
	case errors.Is(err, session.ErrNoOpponent):
		return "no_opponent"
	case errors.Is(err, session.ErrRoomClosed):
		return "room_closed"
	default:
		return "claim_failed"
	}
}

func safeClose(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func safeSend(ch chan []byte, msg []byte) {
	defer func() {
		_ = recover()
	}()
	select {
	case ch <- msg:
	default:
	}
}
