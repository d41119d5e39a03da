package streams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInvalidMessage is returned for stream entries without a usable payload.
var ErrInvalidMessage = errors.New("invalid stream message")

// ResultConsumer consumes video results from Redis Streams
type ResultConsumer struct {
	rdb          *redis.Client
	groupName    string
	consumerName string
}

// NewResultConsumer creates a new ResultConsumer instance
func NewResultConsumer(redisURL, consumerName string) (*ResultConsumer, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Read timeout must exceed the XReadGroup Block duration (5s)
	opts.ReadTimeout = 10 * time.Second

	client := redis.NewClient(opts)

	// Start ID "0" reads from the beginning when the group is new
	err = client.XGroupCreateMkStream(context.Background(), StreamVideoResults, GroupGoWorkers, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		client.Close()
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &ResultConsumer{
		rdb:          client,
		groupName:    GroupGoWorkers,
		consumerName: consumerName,
	}, nil
}

// ConsumeResults runs a blocking loop consuming results from the stream
func (c *ResultConsumer) ConsumeResults(ctx context.Context, handler func(context.Context, VideoResult) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.groupName,
			Consumer: c.consumerName,
			Streams:  []string{StreamVideoResults, ">"},
			Count:    10,
			Block:    5000, // 5 seconds
		}).Result()

		if errors.Is(err, redis.Nil) {
			continue
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Blocking reads time out when the stream is idle
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			slog.Error("Failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.process(ctx, message, handler)
			}
		}
	}
}

func (c *ResultConsumer) process(ctx context.Context, message redis.XMessage, handler func(context.Context, VideoResult) error) {
	result, err := decodeResult(message.Values)
	if err != nil {
		slog.Error("Dropping stream message", "error", err, "message_id", message.ID)
		c.ack(ctx, message.ID)
		return
	}

	if err := handler(ctx, result); err != nil {
		if errors.Is(err, ErrUnknownStatus) {
			slog.Error("Dropping stream message", "error", err, "message_id", message.ID)
			c.ack(ctx, message.ID)
			return
		}
		// Message stays pending for redelivery
		slog.Error("Handler failed", "error", err, "run_id", result.RunID)
		return
	}

	c.ack(ctx, message.ID)
}

func (c *ResultConsumer) ack(ctx context.Context, id string) {
	if err := c.rdb.XAck(ctx, StreamVideoResults, c.groupName, id).Err(); err != nil {
		slog.Error("Failed to ACK message", "error", err, "message_id", id)
	}
}

func decodeResult(values map[string]interface{}) (VideoResult, error) {
	var result VideoResult

	if v, ok := values["schema_version"].(string); ok && v != SchemaVersionV1 {
		return result, fmt.Errorf("%w: unsupported schema version %q", ErrInvalidMessage, v)
	}

	payload, ok := values["payload"].(string)
	if !ok {
		return result, fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if result.RunID == "" {
		return result, fmt.Errorf("%w: missing run_id", ErrInvalidMessage)
	}
	return result, nil
}

// Close closes the Redis client connection
func (c *ResultConsumer) Close() error {
	return c.rdb.Close()
}

// StartResultConsumer starts the result consumer in a background goroutine
// and returns a stop function.
func StartResultConsumer(redisURL string, runs RunFinisher) (stop func(), err error) {
	consumer, err := NewResultConsumer(redisURL, "go-worker-1")
	if err != nil {
		return nil, fmt.Errorf("failed to create result consumer: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		if err := consumer.ConsumeResults(ctx, HandleVideoResult(runs)); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("Result consumer stopped with error", "error", err)
		}
	}()

	slog.Info("Result consumer started", "stream", StreamVideoResults, "group", GroupGoWorkers)

	return func() {
		cancel()
		<-done
		consumer.Close()
	}, nil
}
