// Package queue provides AlertQueue backends for handing dispatch jobs to
// the external delivery worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"billtracker/internal/domain"
)

// RedisAlertQueue implements the dispatch queue on a Redis list. A nack
// re-pushes the job so delivery retries on the next receive.
type RedisAlertQueue struct {
	client *redis.Client
	key    string
}

var _ domain.AlertQueue = (*RedisAlertQueue)(nil)

// NewRedisAlertQueue creates a queue on the given list key.
func NewRedisAlertQueue(client *redis.Client, key string) *RedisAlertQueue {
	return &RedisAlertQueue{client: client, key: key}
}

// Enqueue publishes a dispatch job.
func (q *RedisAlertQueue) Enqueue(ctx context.Context, job domain.DispatchJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive blocks until a job is available or the context ends.
func (q *RedisAlertQueue) Receive(ctx context.Context) (domain.DispatchJob, domain.AlertQueueAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DispatchJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DispatchJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DispatchJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.DispatchJob{}, nil, errors.New("redis queue: unexpected response")
		}
		payload := []byte(res[1])
		var job domain.DispatchJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return domain.DispatchJob{}, nil, fmt.Errorf("decode job: %w", err)
		}

		ack := func(success bool) error {
			if success {
				return nil
			}
			// requeue at the tail so newer jobs are not starved
			if err := q.client.RPush(context.Background(), q.key, payload).Err(); err != nil {
				return fmt.Errorf("requeue job: %w", err)
			}
			return nil
		}
		return job, ack, nil
	}
}
