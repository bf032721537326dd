package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RecordPong feeds a pong receipt into the state machine. An on-time
// pong counts toward recovery; three in a row bring an unhealthy
// connection back. A late pong still proves the transport is alive and
// resets the dead clock, but does not count as a success.
func (r *Registry) RecordPong(roomID, playerID string) {
	now := r.now()
	s := r.shard(roomID)

	var transition *transitionEvent
	s.mu.Lock()
	h, ok := s.rooms[roomID][playerID]
	if !ok || h.dead {
		s.mu.Unlock()
		return
	}
	onTime := h.pingAwaiting && !now.After(h.lastPingSentAt.Add(r.cfg.PongDeadline))
	h.lastPongAt = now
	h.pingAwaiting = false
	if onTime {
		h.consecutiveFailures = 0
		h.consecutiveSuccesses++
		if h.health == HealthUnhealthy && h.consecutiveSuccesses >= 3 {
			h.health = HealthHealthy
			h.healthSince = now
			transition = &transitionEvent{roomID, playerID, HealthHealthy, now}
		}
	}
	s.mu.Unlock()

	r.emit(transition)
}

// Run drives the ping cadence until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PingInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Tick()
			}
		}
	}()
}

// Tick sends due pings and applies deadline transitions. Sweep does the
// transitions alone; the background scheduler calls it as a safety net
// for ticks lost to scheduling hiccups.
func (r *Registry) Tick() {
	r.sweep(r.now(), true)
}

func (r *Registry) Sweep(now time.Time) {
	r.sweep(now, false)
}

type transitionEvent struct {
	roomID   string
	playerID string
	health   Health
	since    time.Time
}

func (r *Registry) sweep(now time.Time, sendPings bool) {
	var (
		pings       []*handle
		deaths      []*handle
		transitions []*transitionEvent
	)

	for _, s := range r.shards {
		s.mu.Lock()
		for roomID, room := range s.rooms {
			for playerID, h := range room {
				if h.dead {
					continue
				}
				if h.pingAwaiting && now.After(h.lastPingSentAt.Add(r.cfg.PongDeadline)) {
					// Missed pong deadline; the outstanding ping is written off.
					h.pingAwaiting = false
					h.consecutiveSuccesses = 0
					h.consecutiveFailures++
					if h.health == HealthHealthy {
						h.health = HealthUnhealthy
						h.healthSince = now
						transitions = append(transitions, &transitionEvent{roomID, playerID, HealthUnhealthy, now})
					}
				}
				if now.Sub(h.lastPongAt) >= r.cfg.DeadAfter {
					h.dead = true
					deaths = append(deaths, h)
					continue
				}
				if sendPings && !h.pingAwaiting && !now.Before(h.lastPingSentAt.Add(r.cfg.PingInterval)) {
					h.lastPingSentAt = now
					h.pingAwaiting = true
					pings = append(pings, h)
				}
			}
		}
		s.mu.Unlock()
	}

	for _, h := range pings {
		if err := h.tr.SendPing(now); err != nil {
			log.Debug().Err(err).Str("room_id", h.roomID).Str("player_id", h.playerID).Msg("ping send failed")
		}
	}
	for _, t := range transitions {
		r.emit(t)
	}
	for _, h := range deaths {
		r.finishDead(h.roomID, h.playerID, h.tr, now)
	}
}

// MarkDead forces the dead transition, e.g. on a transport-level close.
// A non-nil t restricts the kill to that transport, so a superseded
// connection tearing itself down cannot kill its replacement. Safe to
// call concurrently with a timeout-driven death; the callback still
// fires exactly once.
func (r *Registry) MarkDead(roomID, playerID string, t Transport) {
	now := r.now()
	s := r.shard(roomID)

	s.mu.Lock()
	h, ok := s.rooms[roomID][playerID]
	if !ok || h.dead || (t != nil && h.tr != t) {
		s.mu.Unlock()
		return
	}
	h.dead = true
	s.mu.Unlock()

	r.finishDead(roomID, playerID, h.tr, now)
}

func (r *Registry) finishDead(roomID, playerID string, t Transport, now time.Time) {
	s := r.shard(roomID)
	s.mu.Lock()
	if h, ok := s.rooms[roomID][playerID]; ok && h.tr == t {
		delete(s.rooms[roomID], playerID)
		if len(s.rooms[roomID]) == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	r.emit(&transitionEvent{roomID, playerID, HealthDead, now})
	if r.onDead != nil {
		r.onDead(roomID, playerID)
	}
}

func (r *Registry) emit(t *transitionEvent) {
	if t == nil || r.onTransition == nil {
		return
	}
	r.onTransition(t.roomID, t.playerID, t.health, t.since)
}
