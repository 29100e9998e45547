package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"marketpulse/internal/application/port"
	"marketpulse/internal/application/service"
	"marketpulse/internal/infrastructure/config"
	"marketpulse/internal/infrastructure/exchange/bybit"
	"marketpulse/internal/infrastructure/logger"
	"marketpulse/internal/infrastructure/notify/telegram"
	"marketpulse/internal/infrastructure/storage"
	"marketpulse/internal/infrastructure/storage/composite"
	"marketpulse/internal/infrastructure/storage/postgres"
	"marketpulse/internal/infrastructure/storage/redis"
	"marketpulse/internal/infrastructure/storage/sqlite"
	"marketpulse/internal/interfaces/httpapi"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}

	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := buildRepository(cfg)
	defer func() {
		if err := repo.Close(); err != nil {
			log.Warn().Err(err).Msg("repository close failed")
		}
	}()

	market := bybit.NewMarketClient(cfg.Exchange.Bybit.RestURL)

	var push port.PushFeed
	if cfg.Exchange.Bybit.PushEnabled {
		feed := bybit.NewKlineFeed(cfg.Exchange.Bybit.WsURL)
		go feed.Run(ctx)
		push = feed
	} else {
		log.Warn().Msg("upstream push disabled by config, poll only")
	}

	registry := service.NewRegistry(market, push, repo, cfg.PollEvery())
	go registry.Run(ctx)

	notifier, err := telegram.New(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram notifier init failed")
	}

	engine := service.NewEngine(market, notifier, repo, cfg.TickEvery(), cfg.Cooldown())
	go engine.Run(ctx)

	srv := httpapi.New(registry, engine, notifier)

	log.Info().
		Str("config", *configPath).
		Str("listen", cfg.App.ListenAddr).
		Strs("storage", cfg.Storage.Backends).
		Bool("push", cfg.Exchange.Bybit.PushEnabled).
		Bool("telegram", notifier.Enabled()).
		Msg("marketpulse started")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.App.ListenAddr) }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		log.Fatal().Err(err).Str("listen", cfg.App.ListenAddr).Msg("http server exited")
	}
}

// buildRepository assembles the configured persistence backends. With
// none configured, alert events and latest prices are simply not kept.
func buildRepository(cfg *config.Config) port.Repository {
	var repos []port.Repository

	if cfg.HasBackend("sqlite") {
		r, err := sqlite.New(cfg.Storage.SqlitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.SqlitePath).Msg("sqlite init failed")
		}
		repos = append(repos, r)
		log.Info().Str("path", cfg.Storage.SqlitePath).Msg("sqlite storage enabled")
	}

	if cfg.HasBackend("postgres") {
		r, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres init failed")
		}
		repos = append(repos, r)
		log.Info().Msg("postgres storage enabled")
	}

	if cfg.HasBackend("redis") {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Storage.RedisAddr})
		repos = append(repos, redis.New(rdb, cfg.Storage.RedisPrefix, cfg.RedisTTL(), "", ""))
		log.Info().Str("addr", cfg.Storage.RedisAddr).Msg("redis storage enabled")
	}

	switch len(repos) {
	case 0:
		log.Warn().Msg("no storage backends configured")
		return storage.NewNoopRepo()
	case 1:
		return repos[0]
	default:
		return composite.New(repos...)
	}
}
