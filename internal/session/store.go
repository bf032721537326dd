package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"cassino-live/internal/kv"
)

// storeTimeout bounds every call into the persistence collaborator so a
// slow backend surfaces as an error instead of unbounded blocking.
const storeTimeout = 2 * time.Second

// Store persists session records and room outcomes in the keyed store.
// Record TTL slides on every save but never outlives the token ceiling.
type Store struct {
	kv  kv.Store
	now func() time.Time
}

func NewStore(store kv.Store) *Store {
	return &Store{kv: store, now: time.Now}
}

// WithClock overrides the store's time source. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func recordKey(roomID, playerID string) string {
	return "session:" + roomID + ":" + playerID
}

func roomPrefix(roomID string) string {
	return "session:" + roomID + ":"
}

func outcomeKey(roomID string) string {
	return "outcome:" + roomID
}

func (s *Store) Save(ctx context.Context, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := rec.TokenExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrExpiredToken
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.kv.Put(ctx, recordKey(rec.RoomID, rec.PlayerID), raw, ttl)
}

func (s *Store) Get(ctx context.Context, roomID, playerID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	raw, err := s.kv.Get(ctx, recordKey(roomID, playerID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, roomID, playerID string) error {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.kv.Delete(ctx, recordKey(roomID, playerID))
}

func (s *Store) ListRoom(ctx context.Context, roomID string) ([]*Record, error) {
	return s.list(ctx, roomPrefix(roomID))
}

func (s *Store) ListAll(ctx context.Context) ([]*Record, error) {
	return s.list(ctx, "session:")
}

func (s *Store) list(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	keys, err := s.kv.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	records := make([]*Record, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, "session:") {
			continue
		}
		raw, err := s.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue // expired between List and Get
		}
		if err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// SaveOutcome records the room's terminal result. First writer wins.
func (s *Store) SaveOutcome(ctx context.Context, out *Outcome, ttl time.Duration) error {
	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return s.kv.Put(ctx, outcomeKey(out.RoomID), raw, ttl)
}

func (s *Store) GetOutcome(ctx context.Context, roomID string) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	raw, err := s.kv.Get(ctx, outcomeKey(roomID))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var out Outcome
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
