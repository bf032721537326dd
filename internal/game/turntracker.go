package game

import (
	"context"
	"encoding/json"
	"sync"
)

// TurnTracker is a minimal Engine that only maintains the turn pointer:
// the first player seen in a room acts first, and every applied action
// passes the turn to the other seat. It backs the server binary and
// tests until a full rule engine is plugged in.
type TurnTracker struct {
	mu    sync.Mutex
	rooms map[string]*trackedRoom
}

type trackedRoom struct {
	players []string
	turnIdx int
	actions int
}

func NewTurnTracker() *TurnTracker {
	return &TurnTracker{rooms: map[string]*trackedRoom{}}
}

func (t *TurnTracker) room(roomID string) *trackedRoom {
	r, ok := t.rooms[roomID]
	if !ok {
		r = &trackedRoom{}
		t.rooms[roomID] = r
	}
	return r
}

func (t *TurnTracker) seat(r *trackedRoom, playerID string) {
	for _, p := range r.players {
		if p == playerID {
			return
		}
	}
	if len(r.players) < 2 {
		r.players = append(r.players, playerID)
	}
}

// Seat registers a player in the room's turn order.
func (t *TurnTracker) Seat(roomID, playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seat(t.room(roomID), playerID)
}

func (t *TurnTracker) CurrentState(_ context.Context, roomID string) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.room(roomID)
	return r.snapshot(roomID), nil
}

func (t *TurnTracker) Apply(_ context.Context, roomID, playerID, _ string, _ json.RawMessage) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.room(roomID)
	t.seat(r, playerID)
	r.actions++
	if len(r.players) == 2 {
		r.turnIdx = 1 - r.turnIdx
	}
	return r.snapshot(roomID), nil
}

func (r *trackedRoom) snapshot(roomID string) *Snapshot {
	turn := ""
	if len(r.players) > r.turnIdx {
		turn = r.players[r.turnIdx]
	}
	phase := "waiting"
	if len(r.players) == 2 {
		phase = "playing"
	}
	data, _ := json.Marshal(map[string]int{"actions_applied": r.actions})
	return &Snapshot{
		RoomID:       roomID,
		TurnPlayerID: turn,
		Phase:        phase,
		Data:         data,
	}
}
