// Package scheduler drives the periodic sweeps that back up the
// event-driven paths: heartbeat deadline checks, abandonment promotion
// and expired-session cleanup. Every transition a sweep applies is also
// reachable through timers or transport events; the sweeps only pick up
// what those missed.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"cassino-live/internal/session"
)

type Config struct {
	HeartbeatSweepInterval time.Duration
	AbandonSweepInterval   time.Duration
	ExpirySweepInterval    time.Duration
}

// Reaper is the optional storage-side cleanup hook; the postgres kv
// backend implements it to prune rows past their expiry.
type Reaper interface {
	ReapExpired(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cfg      Config
	sessions *session.Manager
	reaper   Reaper
	now      func() time.Time
}

func New(cfg Config, sessions *session.Manager, reaper Reaper) *Scheduler {
	if cfg.HeartbeatSweepInterval <= 0 {
		cfg.HeartbeatSweepInterval = 30 * time.Second
	}
	if cfg.AbandonSweepInterval <= 0 {
		cfg.AbandonSweepInterval = time.Minute
	}
	if cfg.ExpirySweepInterval <= 0 {
		cfg.ExpirySweepInterval = 5 * time.Minute
	}
	return &Scheduler{cfg: cfg, sessions: sessions, reaper: reaper, now: time.Now}
}

// WithClock overrides the scheduler's time source. Test hook.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start runs the sweep loops until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	heartbeat := time.NewTicker(s.cfg.HeartbeatSweepInterval)
	abandon := time.NewTicker(s.cfg.AbandonSweepInterval)
	expiry := time.NewTicker(s.cfg.ExpirySweepInterval)
	go func() {
		defer heartbeat.Stop()
		defer abandon.Stop()
		defer expiry.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				s.sessions.Registry().Sweep(s.now())
			case <-abandon.C:
				s.SweepAbandoned(ctx)
			case <-expiry.C:
				s.SweepExpired(ctx)
			}
		}
	}()
}

func (s *Scheduler) SweepAbandoned(ctx context.Context) {
	if n := s.sessions.SweepAbandoned(ctx, s.now()); n > 0 {
		log.Info().Int("promoted", n).Msg("abandonment sweep")
	}
}

func (s *Scheduler) SweepExpired(ctx context.Context) {
	now := s.now()
	s.sessions.SweepExpired(ctx, now)
	if s.reaper == nil {
		return
	}
	if n, err := s.reaper.ReapExpired(ctx); err != nil {
		log.Warn().Err(err).Msg("storage reap failed")
	} else if n > 0 {
		log.Debug().Int64("reaped", n).Msg("storage reap")
	}
}
