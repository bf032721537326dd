// Package registry tracks live connections per room and drives the
// per-connection liveness state machine. It is the single source of
// truth for who is online right now; nothing here is ever persisted.
package registry

import (
	"hash/fnv"
	"sync"
	"time"
)

type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthDead      Health = "dead"
)

// Transport is one live bidirectional stream to a client.
type Transport interface {
	Send(v any) error
	SendPing(ts time.Time) error
	Close(reason string) error
}

type handle struct {
	roomID   string
	playerID string
	tr       Transport

	lastPingSentAt       time.Time
	lastPongAt           time.Time
	consecutiveFailures  int
	consecutiveSuccesses int
	pingAwaiting         bool
	health               Health
	healthSince          time.Time
	dead                 bool
}

const shardCount = 16

type shard struct {
	mu    sync.Mutex
	rooms map[string]map[string]*handle
}

type Config struct {
	PingInterval time.Duration
	PongDeadline time.Duration
	DeadAfter    time.Duration
}

// Registry shards its connection map by room so registration and
// removal serialize per key without a process-wide lock.
type Registry struct {
	cfg    Config
	shards [shardCount]*shard

	// onDead fires exactly once per connection, from either a transport
	// close or a heartbeat timeout, whichever lands first.
	onDead func(roomID, playerID string)
	// onTransition announces a health change for broadcast to the
	// opponent. Never called with the lock held.
	onTransition func(roomID, playerID string, health Health, since time.Time)

	now func() time.Time
}

func New(cfg Config) *Registry {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	if cfg.PongDeadline <= 0 {
		cfg.PongDeadline = 15 * time.Second
	}
	if cfg.DeadAfter <= 0 {
		cfg.DeadAfter = 30 * time.Second
	}
	r := &Registry{cfg: cfg, now: time.Now}
	for i := range r.shards {
		r.shards[i] = &shard{rooms: map[string]map[string]*handle{}}
	}
	return r
}

// WithClock overrides the registry's time source. Test hook.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

func (r *Registry) OnDead(fn func(roomID, playerID string)) {
	r.onDead = fn
}

func (r *Registry) OnTransition(fn func(roomID, playerID string, health Health, since time.Time)) {
	r.onTransition = fn
}

func (r *Registry) shard(roomID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(roomID))
	return r.shards[h.Sum32()%shardCount]
}

// Attach registers t as the live connection for (room, player). An
// existing connection for the key is closed with a superseded signal
// before the new one is registered; the swap is atomic under the shard
// lock, so two racing attaches end with exactly one registered.
func (r *Registry) Attach(roomID, playerID string, t Transport) (superseded bool) {
	now := r.now()
	s := r.shard(roomID)

	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		room = map[string]*handle{}
		s.rooms[roomID] = room
	}
	var old Transport
	if prev, ok := room[playerID]; ok {
		prev.dead = true
		old = prev.tr
	}
	room[playerID] = &handle{
		roomID:      roomID,
		playerID:    playerID,
		tr:          t,
		lastPongAt:  now,
		health:      HealthHealthy,
		healthSince: now,
	}
	s.mu.Unlock()

	if old != nil {
		_ = old.Close("superseded")
		return true
	}
	return false
}

// Detach removes the connection only if t is still the registered one,
// so a superseded connection's teardown cannot evict its replacement.
func (r *Registry) Detach(roomID, playerID string, t Transport) bool {
	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	h, ok := room[playerID]
	if !ok || h.tr != t {
		return false
	}
	delete(room, playerID)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
	return true
}

// Remove drops the entry without firing the dead callback. The session
// manager uses it when it already owns the disconnect transition.
func (r *Registry) Remove(roomID, playerID string) {
	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if h, ok := room[playerID]; ok {
		h.dead = true
		delete(room, playerID)
		if len(room) == 0 {
			delete(s.rooms, roomID)
		}
	}
}

// Lookup returns the live transport for (room, player), if any.
func (r *Registry) Lookup(roomID, playerID string) (Transport, bool) {
	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rooms[roomID][playerID]
	if !ok {
		return nil, false
	}
	return h.tr, true
}

// Each calls fn for every live connection in the room. The snapshot is
// taken under the lock; fn runs outside it.
func (r *Registry) Each(roomID string, fn func(playerID string, t Transport)) {
	s := r.shard(roomID)
	s.mu.Lock()
	type pair struct {
		id string
		tr Transport
	}
	snapshot := make([]pair, 0, len(s.rooms[roomID]))
	for id, h := range s.rooms[roomID] {
		snapshot = append(snapshot, pair{id, h.tr})
	}
	s.mu.Unlock()
	for _, p := range snapshot {
		fn(p.id, p.tr)
	}
}

// Health reports the current liveness state for (room, player).
func (r *Registry) Health(roomID, playerID string) (Health, bool) {
	s := r.shard(roomID)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.rooms[roomID][playerID]
	if !ok {
		return HealthDead, false
	}
	return h.health, true
}
