// Package recovery assembles the resynchronization bundle for a
// reconnecting player: authoritative state, missed actions, and whose
// turn it is.
package recovery

import (
	"context"
	"errors"
	"time"

	"cassino-live/internal/game"
	"cassino-live/internal/ledger"
	"cassino-live/internal/session"
)

// ErrTimeout means the rule-engine accessor blew its budget. Transient;
// the client may retry the reconnect.
var ErrTimeout = errors.New("recovery_timeout")

const missedSummaryLimit = 5

type Payload struct {
	State             *game.Snapshot `json:"state"`
	MissedActions     []ledger.Entry `json:"missed_actions"`
	MissedSummary     []ledger.Entry `json:"missed_summary"`
	IsYourTurn        bool           `json:"is_your_turn"`
	DisconnectedForMs int64          `json:"disconnected_for_ms"`
}

type Service struct {
	sessions *session.Manager
	ledger   *ledger.Ledger
	engine   game.Engine
	budget   time.Duration
	now      func() time.Time
}

func NewService(sessions *session.Manager, led *ledger.Ledger, engine game.Engine, budget time.Duration) *Service {
	if budget <= 0 {
		budget = 2 * time.Second
	}
	return &Service{sessions: sessions, ledger: led, engine: engine, budget: budget, now: time.Now}
}

// WithClock overrides the service's time source. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Build assembles the payload for one reconnection event. The engine
// accessor runs under its own deadline and outside any session lock, so
// a slow engine cannot wedge attach traffic.
func (s *Service) Build(ctx context.Context, roomID, playerID string, afterSequence uint64) (*Payload, error) {
	rec, err := s.sessions.GetRecord(ctx, roomID, playerID)
	if err != nil {
		return nil, err
	}

	engineCtx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()
	state, err := s.engine.CurrentState(engineCtx, roomID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(engineCtx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}

	missed := s.ledger.Since(roomID, afterSequence)
	summary := missed
	if len(summary) > missedSummaryLimit {
		summary = summary[len(summary)-missedSummaryLimit:]
	}

	// A reconnecting player's record is already active again; the attach
	// recorded how long they were away. A still-disconnected record
	// (e.g. recovery probed out of band) derives it from the clock.
	disconnectedFor := rec.LastAwayFor
	if rec.DisconnectedAt != nil {
		disconnectedFor = s.now().Sub(*rec.DisconnectedAt)
	}

	return &Payload{
		State:             state,
		MissedActions:     missed,
		MissedSummary:     summary,
		IsYourTurn:        state.TurnPlayerID == playerID,
		DisconnectedForMs: disconnectedFor.Milliseconds(),
	}, nil
}
