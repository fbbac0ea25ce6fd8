package runnow

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-checkin-bot/internal/domain"
)

// Runner выполняет один ручной запуск. Реализуется планировщиком.
type Runner interface {
	ExecuteNow(ctx context.Context, req domain.RunNowRequest) domain.Result
}

// Consumer читает очередь ручных запусков и гонит их через общий путь
// выполнения. Ручной запуск сознательно обходит суточный guard.
type Consumer struct {
	queue  domain.RunNowQueue
	runner Runner
	log    zerolog.Logger
}

// NewConsumer создаёт потребителя очереди.
func NewConsumer(queue domain.RunNowQueue, runner Runner, log zerolog.Logger) *Consumer {
	return &Consumer{queue: queue, runner: runner, log: log}
}

// Run крутит цикл потребления до отмены контекста. Ошибка чтения очереди
// не завершает цикл: пауза и новая попытка.
func (c *Consumer) Run(ctx context.Context) {
	for {
		req, err := c.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			c.log.Warn().Err(err).Msg("очередь ручных запусков недоступна")
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		res := c.runner.ExecuteNow(ctx, req)
		c.log.Info().
			Int64("user", req.UserTelegramID).
			Str("target", req.Target.Identifier()).
			Bool("success", res.Success).
			Str("message", res.Message).
			Msg("ручной запуск выполнен")
	}
}
