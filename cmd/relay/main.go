package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"zckyachmd/notifyrelay/internal/auth"
	"zckyachmd/notifyrelay/internal/config"
	"zckyachmd/notifyrelay/internal/directory"
	"zckyachmd/notifyrelay/internal/dispatch"
	"zckyachmd/notifyrelay/internal/handlers"
	"zckyachmd/notifyrelay/internal/security/audit"
	rl "zckyachmd/notifyrelay/internal/security/ratelimit"
	"zckyachmd/notifyrelay/internal/security/throttle"
	"zckyachmd/notifyrelay/internal/server"
	"zckyachmd/notifyrelay/internal/transport/telegram"
	"zckyachmd/notifyrelay/pkg/logger"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("fatal panic: %v", r)
		}
	}()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logg := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := directory.Open(directory.StoreConfig{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path})
	if err != nil {
		logg.Fatal().Err(err).Msg("storage init")
	}
	if store != nil {
		defer store.Close()
	}
	users := directory.New(store)
	if err := users.Load(ctx); err != nil {
		logg.Fatal().Err(err).Msg("load users")
	}
	logg.Info().Int("users", users.Len()).Str("driver", cfg.Storage.Driver).Msg("directory loaded")

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logg.Fatal().Err(err).Msg("telegram init")
	}
	botAPI.Debug = false
	_, _ = botAPI.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: false})

	auditLog := audit.New(cfg.Audit.Path)
	gate := throttle.New(cfg.Retention())
	sender := telegram.NewSender(botAPI, cfg.Telegram.SendRatePerSec)
	relay := dispatch.New(users, sender, gate,
		dispatch.WithAuditor(auditLog),
		dispatch.WithLogger(logg.With().Str("comp", "dispatch").Logger()),
	)

	var opts []server.Option
	if cfg.HTTP.RateLimitPerMin > 0 {
		opts = append(opts, server.WithOutMiddleware(rl.New(cfg.HTTP.RateLimitPerMin, time.Minute).Middleware))
	}
	srv := server.New(cfg.Addr(), relay, cfg.Telegram.SilentByDefault, logg.With().Str("comp", "http").Logger(), opts...)

	bot := handlers.New(botAPI, users, auth.New(cfg.Telegram.AllowedChatIDs), auditLog,
		logg.With().Str("comp", "bot").Logger(), cfg.Telegram.PollTimeout)

	// drop chats whose delivery history has fully expired
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := gate.Sweep(now); n > 0 {
					logg.Debug().Int("chats", n).Msg("throttle sweep")
				}
			}
		}
	}()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logg.Error().Interface("panic", r).Msg("http server panic")
			}
		}()
		if err := srv.Start(); err != nil {
			logg.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	logg.Info().Str("bot", botAPI.Self.UserName).Msg("relay up and running")
	if err := bot.Start(ctx); err != nil {
		logg.Error().Err(err).Msg("bot stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error().Err(err).Msg("http shutdown")
	}
}
