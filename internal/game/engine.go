// Package game defines the rule-engine collaborator boundary. The
// session core hands it already-validated actions and reads back
// snapshots; it never inspects or mutates card or score data itself.
package game

import (
	"context"
	"encoding/json"
)

// Snapshot is the authoritative game state for one room as the rule
// engine reports it. Data is opaque to the session core.
type Snapshot struct {
	RoomID       string          `json:"room_id"`
	TurnPlayerID string          `json:"turn_player_id"`
	Phase        string          `json:"phase"`
	Data         json.RawMessage `json:"data,omitempty"`
}

type Engine interface {
	CurrentState(ctx context.Context, roomID string) (*Snapshot, error)
	// Apply executes an action that already passed the dedup gate.
	Apply(ctx context.Context, roomID, playerID, actionType string, payload json.RawMessage) (*Snapshot, error)
}
