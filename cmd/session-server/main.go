package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"cassino-live/internal/config"
	"cassino-live/internal/game"
	"cassino-live/internal/kv"
	"cassino-live/internal/ledger"
	"cassino-live/internal/logging"
	"cassino-live/internal/recovery"
	"cassino-live/internal/registry"
	"cassino-live/internal/scheduler"
	"cassino-live/internal/session"
	"cassino-live/internal/token"
	"cassino-live/internal/ws"
)

func main() {
	cfg, err := config.LoadApp()
	if err != nil {
		panic(err)
	}
	logging.Init(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, reaper, err := openStore(ctx, cfg.Server)
	if err != nil {
		log.Fatal().Err(err).Msg("kv backend init failed")
	}

	codec := token.NewCodec(cfg.Server.SessionSecret, cfg.Session.TokenTTL)
	mgr := session.NewManager(session.Config{
		TokenTTL:              cfg.Session.TokenTTL,
		DisconnectNoticeAfter: cfg.Session.DisconnectNoticeAfter,
		AbandonAfter:          cfg.Session.AbandonAfter,
		Heartbeat: registry.Config{
			PingInterval: cfg.Session.PingInterval,
			PongDeadline: cfg.Session.PongDeadline,
			DeadAfter:    cfg.Session.DeadAfter,
		},
	}, codec, session.NewStore(store))

	led := ledger.New(store, cfg.Session.TokenTTL)
	engine := game.NewTurnTracker()
	rec := recovery.NewService(mgr, led, engine, cfg.Session.RecoveryBudget)
	wsServer := ws.NewServer(mgr, led, rec, engine)

	mgr.Registry().Run(ctx)
	scheduler.New(scheduler.Config{
		HeartbeatSweepInterval: cfg.Session.HeartbeatSweepInterval,
		AbandonSweepInterval:   cfg.Session.AbandonSweepInterval,
		ExpirySweepInterval:    cfg.Session.ExpirySweepInterval,
	}, mgr, reaper).Start(ctx)

	r := newRouter(store, mgr, engine, wsServer)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Server.HTTPAddr).Str("kv_backend", cfg.Server.KVBackend).Msg("http listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server shut down")
}

func openStore(ctx context.Context, cfg config.ServerConfig) (kv.Store, scheduler.Reaper, error) {
	switch cfg.KVBackend {
	case "redis":
		r := kv.NewRedis(cfg.RedisAddr)
		if err := r.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	case "postgres":
		p, err := kv.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := p.Ping(ctx); err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return kv.NewMemory(), nil, nil
	}
}
