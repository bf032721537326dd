package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type SessionConfig struct {
	TokenTTL time.Duration `env:"SESSION_TOKEN_TTL" envDefault:"24h"`

	PingInterval time.Duration `env:"HEARTBEAT_PING_INTERVAL" envDefault:"10s"`
	PongDeadline time.Duration `env:"HEARTBEAT_PONG_DEADLINE" envDefault:"15s"`
	DeadAfter    time.Duration `env:"HEARTBEAT_DEAD_AFTER" envDefault:"30s"`

	DisconnectNoticeAfter time.Duration `env:"DISCONNECT_NOTICE_AFTER" envDefault:"2m"`
	AbandonAfter          time.Duration `env:"ABANDON_AFTER" envDefault:"5m"`

	RecoveryBudget time.Duration `env:"RECOVERY_BUDGET" envDefault:"2s"`

	HeartbeatSweepInterval time.Duration `env:"HEARTBEAT_SWEEP_INTERVAL" envDefault:"30s"`
	AbandonSweepInterval   time.Duration `env:"ABANDON_SWEEP_INTERVAL" envDefault:"60s"`
	ExpirySweepInterval    time.Duration `env:"EXPIRY_SWEEP_INTERVAL" envDefault:"5m"`
}

func LoadSession() (SessionConfig, error) {
	var cfg SessionConfig
	err := env.Parse(&cfg)
	return cfg, err
}
