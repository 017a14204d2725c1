package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SandipWaghchaure7/geocluster-connect/internal/config"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/db"
	clog "github.com/SandipWaghchaure7/geocluster-connect/internal/log"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/server"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/service"
	"github.com/SandipWaghchaure7/geocluster-connect/internal/ws"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env 可选，缺失时直接使用进程环境变量。
	_ = godotenv.Load()

	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	hub := ws.NewHub(cfg.TypingTimeout)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		relay := ws.NewRedisRelay(rdb, cfg.RedisChannel)
		hub.SetRelay(relay)
		go relay.Run(ctx, hub)
		log.Info().Str("addr", cfg.RedisAddr).Str("channel", cfg.RedisChannel).Str("origin", relay.Origin()).Msg("redis relay enabled")
	}

	chat := service.NewChatService(
		service.NewMembershipService(gdb),
		service.NewMessageService(gdb, cfg.HistoryDefaultLimit, cfg.HistoryMaxLimit),
		hub,
	)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.SetupRouter(cfg, gdb, chat, hub),
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
