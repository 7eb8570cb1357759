// Package main is the entry point for the Discord guild bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"discord-guild-bot/internal/config"
	"discord-guild-bot/internal/gateway"
	"discord-guild-bot/internal/handler"
	"discord-guild-bot/internal/pkg/db"
	"discord-guild-bot/internal/pkg/lock"
	"discord-guild-bot/internal/reporter"
	"discord-guild-bot/internal/repository"
	"discord-guild-bot/internal/service"
	"discord-guild-bot/internal/web"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Str("version", cfg.Bot.Version).Msg("Configuration loaded successfully")

	// Cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	policy := db.Policy{
		OpTimeout:       cfg.Storage.OpTimeout,
		Attempts:        cfg.Storage.RetryAttempts,
		InitialInterval: 50 * time.Millisecond,
	}

	// Initialize repositories
	guildRepo := repository.NewGuildRepository(dbPool.Pool)
	memberRepo := repository.NewMemberRepository(dbPool.Pool)
	moderationRepo := repository.NewModerationRepository(dbPool.Pool)
	ticketRepo := repository.NewTicketRepository(dbPool.Pool)
	statsRepo := repository.NewStatsRepository(dbPool.Pool)

	// Initialize services
	settingsService := service.NewSettingsService(guildRepo, cfg.Features, cfg.Bot.Prefix, policy)

	ledgerService, err := service.NewLedgerService(
		memberRepo,
		settingsService,
		lock.NewMemberLock(),
		service.XPRange{Min: cfg.Leveling.XPMin, Max: cfg.Leveling.XPMax},
		policy,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create ledger service")
	}

	moderationService := service.NewModerationService(moderationRepo, policy)
	ticketService := service.NewTicketService(ticketRepo, policy)

	// Initialize gateway
	discord, err := gateway.New(gateway.Options{
		Token:        cfg.Bot.Token,
		IsOwner:      cfg.IsOwner,
		EventTimeout: cfg.Gateway.CommandTimeout,
	}, settingsService)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gateway")
	}

	outbox := handler.NewOutbox(discord, cfg.Gateway.OutboxSize, cfg.Gateway.CommandTimeout)
	dispatcher := handler.NewDispatcher(handler.Deps{
		Settings:   settingsService,
		Ledger:     ledgerService,
		Moderation: moderationService,
		Tickets:    ticketService,
		Gateway:    discord,
		Outbox:     outbox,
		Version:    cfg.Bot.Version,
	})
	discord.Bind(dispatcher)

	statsReporter := reporter.New(statsRepo, discord, discord, cfg.Stats.Interval, policy)

	if cfg.HTTP.StatusToken == "" {
		log.Warn().Msg("http.status_token is empty, /status is served without authentication")
	}
	router := web.NewRouter(web.Sources{
		Status: statsRepo,
		Health: dbPool,
		Guilds: guildRepo.Count,
		Users:  memberRepo.CountDistinctUsers,
	}, web.RouterOptions{
		ReadTimeout: cfg.Storage.OpTimeout,
		StatusToken: cfg.HTTP.StatusToken,
		Version:     cfg.Bot.Version,
	})
	server := web.NewServer(cfg.HTTP, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return discord.Run(gctx) })
	g.Go(func() error { return outbox.Run(gctx) })
	g.Go(func() error { return statsReporter.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	log.Info().Msg("Bot is starting...")
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Bot stopped with error")
		stop()
		dbPool.Close()
		os.Exit(1)
	}
	log.Info().Msg("Bot stopped gracefully")
}
