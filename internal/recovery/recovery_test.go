package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"cassino-live/internal/game"
	"cassino-live/internal/kv"
	"cassino-live/internal/ledger"
	"cassino-live/internal/registry"
	"cassino-live/internal/session"
	"cassino-live/internal/token"
)

type nullTransport struct{}

func (nullTransport) Send(any) error           { return nil }
func (nullTransport) SendPing(time.Time) error { return nil }
func (nullTransport) Close(string) error       { return nil }

// slowEngine blocks until its context dies.
type slowEngine struct{}

func (slowEngine) CurrentState(ctx context.Context, _ string) (*game.Snapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (slowEngine) Apply(context.Context, string, string, string, json.RawMessage) (*game.Snapshot, error) {
	return nil, errors.New("not implemented")
}

func newTestFixture(t *testing.T) (*session.Manager, *ledger.Ledger, *game.TurnTracker) {
	t.Helper()
	cfg := session.Config{
		TokenTTL:              24 * time.Hour,
		DisconnectNoticeAfter: 2 * time.Minute,
		AbandonAfter:          5 * time.Minute,
		Heartbeat:             registry.Config{},
	}
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", cfg.TokenTTL)
	mgr := session.NewManager(cfg, codec, session.NewStore(kv.NewMemory()))
	led := ledger.New(kv.NewMemory(), 24*time.Hour)
	return mgr, led, game.NewTurnTracker()
}

func seedPlayer(t *testing.T, mgr *session.Manager, roomID, playerID string) {
	t.Helper()
	ctx := context.Background()
	raw, err := mgr.CreateSession(ctx, roomID, playerID, playerID, "", "")
	if err != nil {
		t.Fatalf("CreateSession(%s) error = %v", playerID, err)
	}
	if _, err := mgr.ValidateAndAttach(ctx, roomID, raw, nullTransport{}, "", ""); err != nil {
		t.Fatalf("ValidateAndAttach(%s) error = %v", playerID, err)
	}
}

func TestBuildIncludesMissedActionsInOrder(t *testing.T) {
	ctx := context.Background()
	mgr, led, eng := newTestFixture(t)
	seedPlayer(t, mgr, "room-1", "player-a")
	seedPlayer(t, mgr, "room-1", "player-b")
	eng.Seat("room-1", "player-a")
	eng.Seat("room-1", "player-b")

	// Opponent acts while player-a is away; player-a acked through seq 2.
	for i := 0; i < 8; i++ {
		payload, _ := json.Marshal(map[string]int{"n": i})
		if _, _, err := led.Append(ctx, "room-1", "player-b", "trail", payload); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	svc := NewService(mgr, led, eng, 2*time.Second)
	p, err := svc.Build(ctx, "room-1", "player-a", 2)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(p.MissedActions) != 6 {
		t.Fatalf("MissedActions = %d entries, want 6", len(p.MissedActions))
	}
	for i, e := range p.MissedActions {
		if e.Sequence != uint64(3+i) {
			t.Fatalf("MissedActions[%d].Sequence = %d, want %d", i, e.Sequence, 3+i)
		}
	}
	if len(p.MissedSummary) != 5 {
		t.Fatalf("MissedSummary = %d entries, want 5 (display truncation)", len(p.MissedSummary))
	}
	if p.MissedSummary[0].Sequence != 4 || p.MissedSummary[4].Sequence != 8 {
		t.Fatalf("MissedSummary sequences = %d..%d, want 4..8",
			p.MissedSummary[0].Sequence, p.MissedSummary[4].Sequence)
	}
	if p.State == nil || p.State.RoomID != "room-1" {
		t.Fatalf("State = %+v", p.State)
	}
}

func TestBuildReportsTurn(t *testing.T) {
	ctx := context.Background()
	mgr, led, eng := newTestFixture(t)
	seedPlayer(t, mgr, "room-1", "player-a")
	seedPlayer(t, mgr, "room-1", "player-b")
	eng.Seat("room-1", "player-a")
	eng.Seat("room-1", "player-b")

	svc := NewService(mgr, led, eng, 2*time.Second)
	p, err := svc.Build(ctx, "room-1", "player-a", 0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !p.IsYourTurn {
		t.Fatal("IsYourTurn = false for the player to act")
	}

	// After player-a acts, the turn passes.
	if _, err := eng.Apply(ctx, "room-1", "player-a", "trail", nil); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	p, err = svc.Build(ctx, "room-1", "player-a", 0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if p.IsYourTurn {
		t.Fatal("IsYourTurn = true after passing the turn")
	}
}

func TestBuildTimesOutOnSlowEngine(t *testing.T) {
	ctx := context.Background()
	mgr, led, _ := newTestFixture(t)
	seedPlayer(t, mgr, "room-1", "player-a")

	svc := NewService(mgr, led, slowEngine{}, 50*time.Millisecond)
	start := time.Now()
	_, err := svc.Build(ctx, "room-1", "player-a", 0)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Build() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Build() blocked %v, want bounded by budget", elapsed)
	}
}

func TestBuildUnknownSessionFails(t *testing.T) {
	ctx := context.Background()
	mgr, led, eng := newTestFixture(t)
	svc := NewService(mgr, led, eng, time.Second)
	if _, err := svc.Build(ctx, "room-1", "ghost", 0); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("Build() error = %v, want session.ErrNotFound", err)
	}
}
