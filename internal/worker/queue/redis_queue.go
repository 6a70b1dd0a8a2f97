package queue

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisBlockTimeout = 5 * time.Second

// RedisQueue is a list: LPUSH to enqueue, BRPOP to dequeue. A popped
// message is already gone from the list, so Ack is a no-op.
type RedisQueue struct {
	rdb       *redis.Client
	queueName string
}

func NewRedisQueue(rdb *redis.Client, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

func (q *RedisQueue) Push(ctx context.Context, m Message) error {
	body, err := encode(m)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.queueName, body).Err()
}

// Pop blocks until an element exists (BRPOP) or the block timeout passes.
func (q *RedisQueue) Pop(ctx context.Context) (*Delivery, error) {
	res, err := q.rdb.BRPop(ctx, redisBlockTimeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return &Delivery{Body: []byte(res[1])}, nil
}

func (q *RedisQueue) Ack(context.Context, *Delivery) error { return nil }

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
