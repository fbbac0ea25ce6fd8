package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-checkin-bot/internal/adapters/mtproto"
	"tg-checkin-bot/internal/adapters/repo"
	"tg-checkin-bot/internal/adapters/web"
	"tg-checkin-bot/internal/infra/config"
	"tg-checkin-bot/internal/infra/db"
	infrahttp "tg-checkin-bot/internal/infra/http"
	"tg-checkin-bot/internal/infra/log"
	"tg-checkin-bot/internal/infra/metrics"
	"tg-checkin-bot/internal/infra/queue"
	"tg-checkin-bot/internal/usecase/checkin"
	"tg-checkin-bot/internal/usecase/sessions"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv).With().Str("service", "tgservice").Logger()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	runNowQueue := queue.NewRedisRunNowQueue(redisClient, cfg.Queues.RunNow)

	dialer := mtproto.NewDialer(mtproto.Options{
		APIID:   cfg.Telegram.APIID,
		APIHash: cfg.Telegram.APIHash,
		Blobs:   repoAdapter,
		Log:     logger,
	})
	healthInterval := time.Duration(cfg.Scheduler.HealthIntervalSec) * time.Second
	manager := sessions.NewManager(dialer, repoAdapter, repoAdapter, healthInterval, logger)

	engine, err := checkin.NewEngine(manager, checkin.Config{
		Timeout: time.Duration(cfg.Checkin.TimeoutSec) * time.Second,
		Grace:   time.Duration(cfg.Checkin.FollowUpGrace * float64(time.Second)),
		Keyword: cfg.Checkin.ButtonKeyword,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("реестр стратегий не прошёл проверку")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	server := infrahttp.NewServer(logger)
	handler := web.NewHandler(manager, engine, repoAdapter, repoAdapter, runNowQueue, logger)
	handler.Routes(server.Router)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := manager.InitializeAll(ctx); err != nil {
			logger.Error().Err(err).Msg("стартовое подключение сессий не удалось")
		}
	}()
	go manager.RunHealthLoop(ctx)

	go func() {
		if err := server.Start(cfg.TGService.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP сервер упал")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка tgservice")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP сервер не остановился чисто")
	}
	manager.DisconnectAll()
}
