package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tg-checkin-bot/internal/domain"
)

// RedisRunNowQueue реализует очередь ручных запусков на базе Redis lists.
type RedisRunNowQueue struct {
	client *redis.Client
	key    string
}

// NewRedisRunNowQueue создаёт очередь по указанному ключу.
func NewRedisRunNowQueue(client *redis.Client, key string) *RedisRunNowQueue {
	return &RedisRunNowQueue{client: client, key: key}
}

// Enqueue публикует запрос в очередь.
func (q *RedisRunNowQueue) Enqueue(ctx context.Context, req domain.RunNowRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal запроса: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push запроса: %w", err)
	}
	return nil
}

// Pop блокирующе читает запрос из очереди.
func (q *RedisRunNowQueue) Pop(ctx context.Context) (domain.RunNowRequest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RunNowRequest{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RunNowRequest{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RunNowRequest{}, err
		}
		if len(res) != 2 {
			return domain.RunNowRequest{}, errors.New("redis queue: неожиданный ответ")
		}
		var req domain.RunNowRequest
		if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
			return domain.RunNowRequest{}, fmt.Errorf("decode запроса: %w", err)
		}
		return req, nil
	}
}
