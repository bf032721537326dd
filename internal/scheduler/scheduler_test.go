package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"cassino-live/internal/kv"
	"cassino-live/internal/registry"
	"cassino-live/internal/session"
	"cassino-live/internal/token"
)

type nullTransport struct{}

func (nullTransport) Send(any) error           { return nil }
func (nullTransport) SendPing(time.Time) error { return nil }
func (nullTransport) Close(string) error       { return nil }

type countingReaper struct {
	calls atomic.Int64
}

func (r *countingReaper) ReapExpired(context.Context) (int64, error) {
	r.calls.Add(1)
	return 0, nil
}

func newManager(t *testing.T) *session.Manager {
	t.Helper()
	cfg := session.Config{
		TokenTTL:              24 * time.Hour,
		DisconnectNoticeAfter: time.Hour,
		AbandonAfter:          5 * time.Minute,
		Heartbeat:             registry.Config{},
	}
	codec := token.NewCodec("0123456789abcdef0123456789abcdef", cfg.TokenTTL)
	return session.NewManager(cfg, codec, session.NewStore(kv.NewMemory()))
}

func TestSweepAbandonedPromotesStaleDisconnects(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)

	past := time.Now().Add(-10 * time.Minute)
	mgr.WithClock(func() time.Time { return past })
	raw, err := mgr.CreateSession(ctx, "room-1", "player-a", "Ada", "", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := mgr.ValidateAndAttach(ctx, "room-1", raw, nullTransport{}, "", ""); err != nil {
		t.Fatalf("ValidateAndAttach() error = %v", err)
	}
	if err := mgr.MarkDisconnected(ctx, "room-1", "player-a"); err != nil {
		t.Fatalf("MarkDisconnected() error = %v", err)
	}
	mgr.WithClock(time.Now)

	s := New(Config{}, mgr, nil)
	s.SweepAbandoned(ctx)

	if !mgr.IsAbandoned(ctx, "room-1", "player-a") {
		t.Fatal("session not abandoned after sweep")
	}
}

func TestSweepExpiredCallsReaper(t *testing.T) {
	ctx := context.Background()
	mgr := newManager(t)
	reaper := &countingReaper{}

	s := New(Config{}, mgr, reaper)
	s.SweepExpired(ctx)

	if got := reaper.calls.Load(); got != 1 {
		t.Fatalf("reaper calls = %d, want 1", got)
	}
}

func TestStartRunsSweepsUntilCancelled(t *testing.T) {
	mgr := newManager(t)
	reaper := &countingReaper{}

	s := New(Config{
		HeartbeatSweepInterval: 5 * time.Millisecond,
		AbandonSweepInterval:   5 * time.Millisecond,
		ExpirySweepInterval:    5 * time.Millisecond,
	}, mgr, reaper)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for reaper.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("expiry sweep never fired twice")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	time.Sleep(20 * time.Millisecond)
	after := reaper.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if got := reaper.calls.Load(); got != after {
		t.Fatalf("sweeps continued after cancel: %d -> %d", after, got)
	}
}
