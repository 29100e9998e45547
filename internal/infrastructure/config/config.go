package config

import (
	"errors"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		ListenAddr  string `toml:"listen_addr"`
		LogLevel    string `toml:"log_level"`
		PollEveryMs int    `toml:"poll_every_ms"`
	} `toml:"app"`

	Alerts struct {
		TickEveryMs int `toml:"tick_every_ms"`
		CooldownMs  int `toml:"cooldown_ms"`
	} `toml:"alerts"`

	Exchange struct {
		Bybit struct {
			RestURL     string `toml:"rest_url"`
			WsURL       string `toml:"ws_url"`
			PushEnabled bool   `toml:"push_enabled"`
		} `toml:"bybit"`
	} `toml:"exchange"`

	Telegram struct {
		BotToken string `toml:"bot_token"`
	} `toml:"telegram"`

	Storage struct {
		Backends    []string `toml:"backends"` // any of: sqlite, postgres, redis
		SqlitePath  string   `toml:"sqlite_path"`
		PostgresDSN string   `toml:"postgres_dsn"`
		RedisAddr   string   `toml:"redis_addr"`
		RedisPrefix string   `toml:"redis_prefix"`
		RedisTTLMin int      `toml:"redis_ttl_min"`
	} `toml:"storage"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.App.ListenAddr) == "" {
		cfg.App.ListenAddr = ":4001"
	}
	if cfg.App.PollEveryMs <= 0 {
		cfg.App.PollEveryMs = 1000
	}
	if cfg.Alerts.TickEveryMs <= 0 {
		cfg.Alerts.TickEveryMs = 60_000
	}
	if cfg.Alerts.CooldownMs <= 0 {
		cfg.Alerts.CooldownMs = 3_600_000
	}
	if strings.TrimSpace(cfg.Exchange.Bybit.RestURL) == "" {
		cfg.Exchange.Bybit.RestURL = "https://api.bybit.com"
	}
	if strings.TrimSpace(cfg.Exchange.Bybit.WsURL) == "" {
		cfg.Exchange.Bybit.WsURL = "wss://stream.bybit.com/v5/public/linear"
	}
	if strings.TrimSpace(cfg.Storage.RedisPrefix) == "" {
		cfg.Storage.RedisPrefix = "marketpulse"
	}
	if strings.TrimSpace(cfg.Storage.SqlitePath) == "" {
		cfg.Storage.SqlitePath = "data/marketpulse.db"
	}
}

func validate(cfg *Config) error {
	if cfg.Exchange.Bybit.PushEnabled && strings.TrimSpace(cfg.Exchange.Bybit.WsURL) == "" {
		return errors.New("exchange.bybit.ws_url empty but push enabled")
	}
	for _, b := range cfg.Storage.Backends {
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "sqlite", "postgres", "redis":
		default:
			return errors.New("storage.backends: unknown backend " + b)
		}
	}
	if hasBackend(cfg, "postgres") && strings.TrimSpace(cfg.Storage.PostgresDSN) == "" {
		return errors.New("storage.postgres_dsn required for postgres backend")
	}
	if hasBackend(cfg, "redis") && strings.TrimSpace(cfg.Storage.RedisAddr) == "" {
		return errors.New("storage.redis_addr required for redis backend")
	}
	return nil
}

func hasBackend(cfg *Config, name string) bool {
	for _, b := range cfg.Storage.Backends {
		if strings.EqualFold(strings.TrimSpace(b), name) {
			return true
		}
	}
	return false
}

// HasBackend reports whether a storage backend is enabled by name.
func (c *Config) HasBackend(name string) bool { return hasBackend(c, name) }

func (c *Config) PollEvery() time.Duration { return time.Duration(c.App.PollEveryMs) * time.Millisecond }

func (c *Config) TickEvery() time.Duration {
	return time.Duration(c.Alerts.TickEveryMs) * time.Millisecond
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Alerts.CooldownMs) * time.Millisecond
}

func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.Storage.RedisTTLMin) * time.Minute
}
