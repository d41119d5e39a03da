package streams

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher publishes video requests to Redis Streams
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a new Publisher instance
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	return &Publisher{rdb: client}, nil
}

// PublishVideoRequest publishes a video request to the stream
func (p *Publisher) PublishVideoRequest(ctx context.Context, req VideoRequest) (string, error) {
	values, err := encodeMessage(req, time.Now())
	if err != nil {
		return "", err
	}

	result := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamVideoRequests,
		MaxLen: 10000,
		Approx: true,
		ID:     "*", // auto-generate ID
		Values: values,
	})

	if result.Err() != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", result.Err())
	}

	return result.Val(), nil
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}

func encodeMessage(v interface{}, now time.Time) (map[string]interface{}, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return map[string]interface{}{
		"payload":        string(payload),
		"published_at":   now.Unix(),
		"schema_version": SchemaVersionV1,
	}, nil
}
