package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cassino-live/internal/registry"
	"cassino-live/internal/token"
)

// Events announces session transitions for delivery to the opponent.
// Implementations must not block; the manager calls them while holding
// the per-session lock.
type Events interface {
	OpponentDisconnected(roomID, playerID string, since time.Time)
	OpponentStillAway(roomID, playerID string, since time.Time)
	OpponentReconnected(roomID, playerID string)
	SessionAbandoned(roomID, playerID string)
}

type noopEvents struct{}

func (noopEvents) OpponentDisconnected(string, string, time.Time) {}
func (noopEvents) OpponentStillAway(string, string, time.Time)    {}
func (noopEvents) OpponentReconnected(string, string)             {}
func (noopEvents) SessionAbandoned(string, string)                {}

type Config struct {
	TokenTTL              time.Duration
	DisconnectNoticeAfter time.Duration
	AbandonAfter          time.Duration
	Heartbeat             registry.Config
}

// sessionTimers are the deferred disconnect checks, held as explicit
// handles so a reconnect cancels them instead of racing a stale closure.
type sessionTimers struct {
	notice  *time.Timer
	abandon *time.Timer
}

func (t *sessionTimers) stop() {
	if t == nil {
		return
	}
	if t.notice != nil {
		t.notice.Stop()
	}
	if t.abandon != nil {
		t.abandon.Stop()
	}
}

// Manager orchestrates session creation, validation, heartbeat updates,
// disconnect/reconnect transitions and abandonment. All mutations of a
// (room, player) session serialize on its keyed mutex.
type Manager struct {
	cfg    Config
	codec  *token.Codec
	store  *Store
	reg    *registry.Registry
	events Events
	now    func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	timers map[string]*sessionTimers
}

func NewManager(cfg Config, codec *token.Codec, store *Store) *Manager {
	m := &Manager{
		cfg:    cfg,
		codec:  codec,
		store:  store,
		events: noopEvents{},
		now:    time.Now,
		locks:  map[string]*sync.Mutex{},
		timers: map[string]*sessionTimers{},
	}
	m.reg = registry.New(cfg.Heartbeat)
	m.reg.OnDead(func(roomID, playerID string) {
		if err := m.MarkDisconnected(context.Background(), roomID, playerID); err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Str("player_id", playerID).Msg("mark disconnected failed")
		}
	})
	return m
}

// WithClock overrides the manager's time source. Timer durations still
// use the real clock. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

func (m *Manager) SetEvents(ev Events) {
	if ev != nil {
		m.events = ev
	}
}

// Registry exposes the connection registry owned by this manager.
func (m *Manager) Registry() *registry.Registry {
	return m.reg
}

func sessionKey(roomID, playerID string) string {
	return roomID + "\x00" + playerID
}

func (m *Manager) lock(roomID, playerID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sessionKey(roomID, playerID)
	l, ok := m.locks[k]
	if !ok {
		l = &sync.Mutex{}
		m.locks[k] = l
	}
	return l
}

// CreateSession mints the session token and writes the initial record.
// Called once per player per room join; reconnects reuse the token.
func (m *Manager) CreateSession(ctx context.Context, roomID, playerID, playerName, ipAddress, userAgent string) (string, error) {
	l := m.lock(roomID, playerID)
	l.Lock()
	defer l.Unlock()

	raw, err := m.codec.Mint(roomID, playerID, playerName)
	if err != nil {
		return "", err
	}
	now := m.now()
	rec := &Record{
		RoomID:          roomID,
		PlayerID:        playerID,
		PlayerName:      playerName,
		Status:          StatusActive,
		ConnectedAt:     now,
		LastHeartbeatAt: now,
		ConnectionCount: 0,
		IPAddress:       ipAddress,
		UserAgent:       userAgent,
		TokenExpiresAt:  now.Add(m.cfg.TokenTTL),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return "", err
	}
	log.Info().Str("room_id", roomID).Str("player_id", playerID).Msg("session created")
	return raw, nil
}

// ValidateAndAttach verifies the token, revives the record and swaps the
// live connection in. Either the whole sequence applies or nothing does:
// rejections happen before any state change, and the supersede-then-
// register swap runs under the per-session lock.
func (m *Manager) ValidateAndAttach(ctx context.Context, roomID, rawToken string, t registry.Transport, ipAddress, userAgent string) (*Record, error) {
	claims, err := m.codec.Verify(rawToken)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.RoomID != roomID {
		return nil, ErrRoomMismatch
	}
	if _, err := m.store.GetOutcome(ctx, roomID); err == nil {
		// Decided rooms reject reattach outright; no spectator rejoin.
		return nil, ErrRoomClosed
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	l := m.lock(roomID, claims.PlayerID)
	l.Lock()
	defer l.Unlock()

	now := m.now()
	rec, err := m.store.Get(ctx, roomID, claims.PlayerID)
	if errors.Is(err, ErrNotFound) {
		rec = &Record{
			RoomID:      roomID,
			PlayerID:    claims.PlayerID,
			PlayerName:  claims.PlayerName,
			ConnectedAt: now,
		}
	} else if err != nil {
		return nil, err
	}
	rec.TokenExpiresAt = claims.ExpiresAt.Time

	wasAway := rec.Status == StatusDisconnected || rec.Status == StatusAbandoned
	m.cancelTimers(roomID, claims.PlayerID)
	rec.LastAwayFor = 0
	if wasAway && rec.DisconnectedAt != nil {
		rec.LastAwayFor = now.Sub(*rec.DisconnectedAt)
	}
	rec.Status = StatusActive
	rec.DisconnectedAt = nil
	rec.ConnectionCount++
	rec.LastHeartbeatAt = now
	rec.IPAddress = ipAddress
	rec.UserAgent = userAgent
	if err := m.store.Save(ctx, rec); err != nil {
		return nil, err
	}

	superseded := m.reg.Attach(roomID, claims.PlayerID, t)
	if wasAway {
		m.events.OpponentReconnected(roomID, claims.PlayerID)
	}
	log.Info().
		Str("room_id", roomID).
		Str("player_id", claims.PlayerID).
		Int("connection_count", rec.ConnectionCount).
		Bool("superseded_previous", superseded).
		Bool("was_away", wasAway).
		Msg("session attached")
	return rec, nil
}

// RecordHeartbeat refreshes liveness and revives a disconnected session,
// cancelling any pending abandonment timers.
func (m *Manager) RecordHeartbeat(ctx context.Context, roomID, playerID string) error {
	l := m.lock(roomID, playerID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Get(ctx, roomID, playerID)
	if err != nil {
		return err
	}
	rec.LastHeartbeatAt = m.now()
	if rec.Status != StatusActive {
		rec.Status = StatusActive
		rec.DisconnectedAt = nil
		m.cancelTimers(roomID, playerID)
		m.events.OpponentReconnected(roomID, playerID)
	}
	return m.store.Save(ctx, rec)
}

// MarkDisconnected flips the session to disconnected and schedules the
// +notice and +abandon checks. The timers are armed inside the same
// critical section that sets the status, so the disconnect always
// happens-before either check fires. Idempotent.
func (m *Manager) MarkDisconnected(ctx context.Context, roomID, playerID string) error {
	l := m.lock(roomID, playerID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Get(ctx, roomID, playerID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != StatusActive {
		return nil
	}

	now := m.now()
	rec.Status = StatusDisconnected
	rec.DisconnectedAt = &now
	if err := m.store.Save(ctx, rec); err != nil {
		return err
	}
	m.reg.Remove(roomID, playerID)
	m.armTimers(roomID, playerID, now)
	m.events.OpponentDisconnected(roomID, playerID, now)
	log.Info().Str("room_id", roomID).Str("player_id", playerID).Msg("session disconnected")
	return nil
}

func (m *Manager) armTimers(roomID, playerID string, since time.Time) {
	k := sessionKey(roomID, playerID)
	m.mu.Lock()
	if old := m.timers[k]; old != nil {
		old.stop()
	}
	t := &sessionTimers{}
	t.notice = time.AfterFunc(m.cfg.DisconnectNoticeAfter, func() {
		m.noticeCheck(roomID, playerID, since)
	})
	t.abandon = time.AfterFunc(m.cfg.AbandonAfter, func() {
		m.abandonCheck(roomID, playerID)
	})
	m.timers[k] = t
	m.mu.Unlock()
}

func (m *Manager) cancelTimers(roomID, playerID string) {
	k := sessionKey(roomID, playerID)
	m.mu.Lock()
	if t := m.timers[k]; t != nil {
		t.stop()
		delete(m.timers, k)
	}
	m.mu.Unlock()
}

func (m *Manager) noticeCheck(roomID, playerID string, since time.Time) {
	l := m.lock(roomID, playerID)
	l.Lock()
	defer l.Unlock()

	rec, err := m.store.Get(context.Background(), roomID, playerID)
	if err != nil || rec.Status != StatusDisconnected {
		return
	}
	m.events.OpponentStillAway(roomID, playerID, since)
}

func (m *Manager) abandonCheck(roomID, playerID string) {
	l := m.lock(roomID, playerID)
	l.Lock()
	defer l.Unlock()

	ctx := context.Background()
	rec, err := m.store.Get(ctx, roomID, playerID)
	if err != nil || rec.Status != StatusDisconnected {
		return
	}
	if rec.DisconnectedFor(m.now()) < m.cfg.AbandonAfter {
		return
	}
	rec.Status = StatusAbandoned
	if err := m.store.Save(ctx, rec); err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Str("player_id", playerID).Msg("abandon save failed")
		return
	}
	m.events.SessionAbandoned(roomID, playerID)
	log.Info().Str("room_id", roomID).Str("player_id", playerID).Msg("session abandoned")
}

// ClaimVictory records the room's terminal outcome for the claimant,
// provided the opponent has been gone past the abandonment window. It
// re-derives abandonment from the record rather than trusting a sweep
// to have run.
func (m *Manager) ClaimVictory(ctx context.Context, roomID, claimingPlayerID string) (*Outcome, error) {
	if _, err := m.store.GetOutcome(ctx, roomID); err == nil {
		return nil, ErrRoomClosed
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	records, err := m.store.ListRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	var opponent *Record
	for _, rec := range records {
		if rec.PlayerID != claimingPlayerID {
			opponent = rec
			break
		}
	}
	if opponent == nil {
		return nil, ErrNoOpponent
	}

	l := m.lock(roomID, opponent.PlayerID)
	l.Lock()
	defer l.Unlock()

	opponent, err = m.store.Get(ctx, roomID, opponent.PlayerID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	abandoned := opponent.Status == StatusAbandoned ||
		(opponent.Status == StatusDisconnected && opponent.DisconnectedFor(now) >= m.cfg.AbandonAfter)
	if !abandoned {
		return nil, ErrNotAbandoned
	}
	if opponent.Status != StatusAbandoned {
		opponent.Status = StatusAbandoned
		if err := m.store.Save(ctx, opponent); err != nil {
			return nil, err
		}
	}

	out := &Outcome{
		RoomID:    roomID,
		WinnerID:  claimingPlayerID,
		Reason:    "opponent_abandoned",
		DecidedAt: now,
	}
	if err := m.store.SaveOutcome(ctx, out, m.cfg.TokenTTL); err != nil {
		return nil, err
	}
	log.Info().Str("room_id", roomID).Str("winner_id", claimingPlayerID).Msg("victory claimed")
	return out, nil
}

// IsAbandoned reports whether the player's session has exceeded the
// abandonment window, derived from the record itself.
func (m *Manager) IsAbandoned(ctx context.Context, roomID, playerID string) bool {
	rec, err := m.store.Get(ctx, roomID, playerID)
	if err != nil {
		return false
	}
	if rec.Status == StatusAbandoned {
		return true
	}
	return rec.Status == StatusDisconnected && rec.DisconnectedFor(m.now()) >= m.cfg.AbandonAfter
}

// GetRecord reads a session record without taking the session lock;
// recovery assembly calls it alongside the rule-engine accessor.
func (m *Manager) GetRecord(ctx context.Context, roomID, playerID string) (*Record, error) {
	return m.store.Get(ctx, roomID, playerID)
}

func (m *Manager) Outcome(ctx context.Context, roomID string) (*Outcome, error) {
	return m.store.GetOutcome(ctx, roomID)
}

// SweepAbandoned promotes sessions disconnected past the window. Safety
// net behind the per-session abandon timers; idempotent.
func (m *Manager) SweepAbandoned(ctx context.Context, now time.Time) int {
	records, err := m.store.ListAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("abandoned sweep list failed")
		return 0
	}
	promoted := 0
	for _, rec := range records {
		if rec.Status != StatusDisconnected || rec.DisconnectedFor(now) < m.cfg.AbandonAfter {
			continue
		}
		m.abandonCheck(rec.RoomID, rec.PlayerID)
		promoted++
	}
	return promoted
}

// SweepExpired drops sessions past their token ceiling and frees their
// locks and timers. The kv TTL already bounds persistence; this prunes
// the in-memory side.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) int {
	records, err := m.store.ListAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("expiry sweep list failed")
		return 0
	}
	removed := 0
	for _, rec := range records {
		if now.Before(rec.TokenExpiresAt) {
			continue
		}
		l := m.lock(rec.RoomID, rec.PlayerID)
		l.Lock()
		m.cancelTimers(rec.RoomID, rec.PlayerID)
		if err := m.store.Delete(ctx, rec.RoomID, rec.PlayerID); err != nil {
			log.Warn().Err(err).Str("room_id", rec.RoomID).Str("player_id", rec.PlayerID).Msg("expiry delete failed")
			l.Unlock()
			continue
		}
		l.Unlock()
		m.mu.Lock()
		delete(m.locks, sessionKey(rec.RoomID, rec.PlayerID))
		m.mu.Unlock()
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("expired sessions swept")
	}
	return removed
}
