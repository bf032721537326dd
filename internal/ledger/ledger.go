// Package ledger is the append-only, sequence-numbered log of accepted
// actions per room. It is the dedup gate for retransmitted actions and
// the replay source for reconnecting players.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cassino-live/internal/kv"
)

type Entry struct {
	RoomID     string          `json:"room_id"`
	PlayerID   string          `json:"player_id"`
	ActionID   string          `json:"action_id"`
	Sequence   uint64          `json:"sequence"`
	ActionType string          `json:"action_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Fingerprint is the deterministic action id: identical resubmissions
// collide with their prior entry. Callers fold any client idempotency
// material into payload.
func Fingerprint(roomID, playerID, actionType string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(roomID))
	h.Write([]byte{0})
	h.Write([]byte(playerID))
	h.Write([]byte{0})
	h.Write([]byte(actionType))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

type roomLog struct {
	mu       sync.RWMutex
	entries  []Entry
	byAction map[string]uint64
}

// Ledger serializes sequence assignment per room; reads take snapshots
// and never block writers for long.
type Ledger struct {
	store kv.Store
	ttl   time.Duration

	mu    sync.Mutex
	rooms map[string]*roomLog

	now func() time.Time
}

func New(store kv.Store, ttl time.Duration) *Ledger {
	return &Ledger{
		store: store,
		ttl:   ttl,
		rooms: map[string]*roomLog{},
		now:   time.Now,
	}
}

// WithClock overrides the ledger's time source. Test hook.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) room(roomID string) *roomLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rooms[roomID]
	if !ok {
		r = &roomLog{byAction: map[string]uint64{}}
		l.rooms[roomID] = r
	}
	return r
}

// Append accepts an action into the room's log. A resubmission of an
// already-accepted fingerprint returns the original sequence number with
// isDuplicate=true and writes nothing.
func (l *Ledger) Append(ctx context.Context, roomID, playerID, actionType string, payload json.RawMessage) (uint64, bool, error) {
	actionID := Fingerprint(roomID, playerID, actionType, payload)
	r := l.room(roomID)

	r.mu.Lock()
	if seq, ok := r.byAction[actionID]; ok {
		r.mu.Unlock()
		return seq, true, nil
	}
	entry := Entry{
		RoomID:     roomID,
		PlayerID:   playerID,
		ActionID:   actionID,
		Sequence:   uint64(len(r.entries)) + 1,
		ActionType: actionType,
		Payload:    payload,
		AcceptedAt: l.now(),
	}
	r.entries = append(r.entries, entry)
	r.byAction[actionID] = entry.Sequence
	r.mu.Unlock()

	// Write-through for audit; the in-memory log stays authoritative,
	// so a storage hiccup never reorders or drops an accepted action.
	raw, err := json.Marshal(entry)
	if err == nil {
		err = l.store.Put(ctx, entryKey(roomID, entry.Sequence), raw, l.ttl)
	}
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Uint64("sequence", entry.Sequence).Msg("ledger write-through failed")
	}
	return entry.Sequence, false, nil
}

// Since returns the entries with sequence > after, ascending. Re-reading
// the same range is idempotent.
func (l *Ledger) Since(roomID string, after uint64) []Entry {
	r := l.room(roomID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if after >= uint64(len(r.entries)) {
		return nil
	}
	out := make([]Entry, uint64(len(r.entries))-after)
	copy(out, r.entries[after:])
	return out
}

// LatestSequence reports the highest assigned sequence for a room, zero
// if none.
func (l *Ledger) LatestSequence(roomID string) uint64 {
	r := l.room(roomID)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint64(len(r.entries))
}

func entryKey(roomID string, seq uint64) string {
	return fmt.Sprintf("action:%s:%012d", roomID, seq)
}
