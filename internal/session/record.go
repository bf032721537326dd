package session

import "time"

type Status string

const (
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusAbandoned    Status = "abandoned"
)

// Record is the server-held session state for one player in one room,
// independent of any single live connection. Mutated only by Manager.
type Record struct {
	RoomID     string `json:"room_id"`
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`

	Status          Status     `json:"status"`
	ConnectedAt     time.Time  `json:"connected_at"`
	DisconnectedAt  *time.Time `json:"disconnected_at,omitempty"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
	ConnectionCount int        `json:"connection_count"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// LastAwayFor is how long the most recent disconnect lasted, set
	// when the player reattaches; the recovery payload reports it.
	LastAwayFor time.Duration `json:"last_away_for,omitempty"`

	// TokenExpiresAt is the 24h hard ceiling from the minted token;
	// the record dies with it regardless of activity.
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func (r *Record) DisconnectedFor(now time.Time) time.Duration {
	if r.DisconnectedAt == nil {
		return 0
	}
	return now.Sub(*r.DisconnectedAt)
}

// Outcome is a room's terminal result, written once by ClaimVictory.
type Outcome struct {
	RoomID    string    `json:"room_id"`
	WinnerID  string    `json:"winner_id"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}
