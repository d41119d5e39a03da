package worker

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	TaskGenerateVideo    = "video:generate"
	TaskPurgeSessions    = "maintenance:purge-sessions"
	TaskReconcileFiles   = "maintenance:reconcile-files"
	generateVideoTimeout = 5 * time.Minute
)

// ErrClientNotInitialized is returned when enqueueing before InitClient.
var ErrClientNotInitialized = errors.New("task client not initialized")

// Package-level Asynq client (singleton)
var client *asynq.Client

// InitClient initializes the global Asynq client for task enqueueing.
// Must be called before any EnqueueX functions.
func InitClient(redisURL string) error {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return err
	}

	client = asynq.NewClient(opt)
	return nil
}

// CloseClient closes the Asynq client connection gracefully.
func CloseClient() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

type generateVideoPayload struct {
	RunID string `json:"run_id"`
}

// NewGenerateVideoTask builds the task that renders the given run.
func NewGenerateVideoTask(runID string) (*asynq.Task, error) {
	payload, err := json.Marshal(generateVideoPayload{RunID: runID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskGenerateVideo,
		payload,
		asynq.MaxRetry(3),
		asynq.Timeout(generateVideoTimeout),
		asynq.Retention(24*time.Hour),
	), nil
}

// EnqueueGenerateVideo enqueues generation of the given video run.
func EnqueueGenerateVideo(runID string) error {
	if client == nil {
		return ErrClientNotInitialized
	}

	task, err := NewGenerateVideoTask(runID)
	if err != nil {
		return err
	}

	_, err = client.Enqueue(task)
	return err
}

func newMaintenanceTask(taskType string) *asynq.Task {
	return asynq.NewTask(
		taskType,
		nil,
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
		asynq.Retention(24*time.Hour),
		asynq.Unique(30*time.Minute), // Prevent duplicate if scheduler runs twice
	)
}
