package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"tg-checkin-bot/internal/adapters/notifier"
	"tg-checkin-bot/internal/adapters/repo"
	"tg-checkin-bot/internal/adapters/tgclient"
	"tg-checkin-bot/internal/domain"
	"tg-checkin-bot/internal/infra/cache"
	"tg-checkin-bot/internal/infra/config"
	"tg-checkin-bot/internal/infra/db"
	infrahttp "tg-checkin-bot/internal/infra/http"
	"tg-checkin-bot/internal/infra/log"
	"tg-checkin-bot/internal/infra/metrics"
	"tg-checkin-bot/internal/infra/queue"
	"tg-checkin-bot/internal/usecase/runnow"
	"tg-checkin-bot/internal/usecase/schedule"
)

func main() {
	cfg := config.Load()
	logger := log.NewLogger(cfg.AppEnv).With().Str("service", "scheduler").Logger()

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		logger.Warn().Err(err).Str("tz", cfg.TZ).Msg("часовой пояс не распознан, используется локальный")
		loc = time.Local
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("нет подключения к БД")
	}
	defer pool.Close()
	repoAdapter := repo.NewPostgres(pool)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	cacheAdapter := cache.NewRedis(redisClient)
	runNowQueue := queue.NewRedisRunNowQueue(redisClient, cfg.Queues.RunNow)

	tg := tgclient.New(cfg.TGService.URL, logger)

	var operatorNotifier domain.Notifier
	if n, err := notifier.New(cfg.Notifier.BotToken, cfg.Notifier.ChatID, logger); err != nil {
		logger.Warn().Err(err).Msg("нотификатор оператора не поднялся")
	} else if n != nil {
		operatorNotifier = n
	}

	svc := schedule.New(schedule.Config{
		Workers:          cfg.Scheduler.Workers,
		RescheduleHour:   cfg.Scheduler.RescheduleHour,
		RescheduleMinute: cfg.Scheduler.RescheduleMinute,
		Location:         loc,
	}, schedule.Deps{
		Tasks:    repoAdapter,
		Users:    repoAdapter,
		Slots:    repoAdapter,
		Jobs:     repoAdapter,
		Executor: tg,
		Cache:    cacheAdapter,
		Checkins: repoAdapter,
		Notifier: operatorNotifier,
		Sessions: tg,
		Log:      logger,
	})

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		if err := svc.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("планировщик не запустился")
		}
	} else {
		logger.Warn().Msg("планировщик выключен конфигом, доступен только ручной запуск")
	}

	consumer := runnow.NewConsumer(runNowQueue, svc, logger)
	go consumer.Run(ctx)

	server := infrahttp.NewServer(logger)
	server.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"jobs":   svc.InstalledJobIDs(),
		})
	})
	server.Router.Post("/reconcile", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskIDs []string `json:"task_ids"`
		}
		if r.Body != nil {
			// Пустое тело допустимо: полный reconcile без forced-списка.
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		rep, err := svc.Reconcile(r.Context(), req.TaskIDs...)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	})

	go func() {
		if err := server.Start(cfg.Scheduler.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP сервер упал")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("остановка планировщика")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP сервер не остановился чисто")
	}
	if cfg.Scheduler.Enabled {
		svc.Stop()
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
