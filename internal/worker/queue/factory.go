package queue

import (
	"context"
	"fmt"

	"mvrender/internal/config"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"
)

// New builds the queue selected by QUEUE_BACKEND.
func New(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch cfg.Backend {
	case "", "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedisQueue(rdb, cfg.Name), nil

	case "sqs":
		if cfg.SQSURL == "" {
			return nil, fmt.Errorf("missing env: SQS_QUEUE_URL")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		return NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSURL), nil

	default:
		return nil, fmt.Errorf("unknown queue backend: %s", cfg.Backend)
	}
}
