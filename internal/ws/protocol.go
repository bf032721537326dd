package ws

import (
	"encoding/json"

	"cassino-live/internal/recovery"
)

const ProtocolVersion = "1.0"

// Client to server.

type AttachMessage struct {
	Type         string `json:"type"`
	Token        string `json:"token"`
	RoomID       string `json:"room_id"`
	LastSequence uint64 `json:"last_sequence,omitempty"`
}

type PongMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts,omitempty"`
}

type HeartbeatMessage struct {
	Type string `json:"type"`
}

type ActionSubmitMessage struct {
	Type       string          `json:"type"`
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type ClaimVictoryMessage struct {
	Type string `json:"type"`
}

// Server to client.

type AttachResult struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ok              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	RoomID          string `json:"room_id,omitempty"`
	PlayerID        string `json:"player_id,omitempty"`
}

type PingMessage struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type ConnectionStatus struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Status   string `json:"status"`
	SinceMS  int64  `json:"since_ms,omitempty"`
}

type ActionAck struct {
	Type           string `json:"type"`
	ActionID       string `json:"action_id"`
	SequenceNumber uint64 `json:"sequence_number"`
	Duplicate      bool   `json:"duplicate"`
}

type RecoveryPayload struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	recovery.Payload
}

type AbandonedNotice struct {
	Type       string   `json:"type"`
	OpponentID string   `json:"opponent_id"`
	Options    []string `json:"options"`
}

type RoomClosed struct {
	Type     string `json:"type"`
	WinnerID string `json:"winner_id"`
	Reason   string `json:"reason"`
}

type Superseded struct {
	Type string `json:"type"`
}

type ErrorMessage struct {
	Type string `json:"type"`
	Code string `json:"code"`
}
