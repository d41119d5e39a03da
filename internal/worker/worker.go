package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/amma-portal/internal/config"
	"github.com/jimdaga/amma-portal/internal/files"
	"github.com/jimdaga/amma-portal/internal/logging"
	"github.com/jimdaga/amma-portal/internal/session"
	"github.com/jimdaga/amma-portal/internal/streams"
	"github.com/jimdaga/amma-portal/internal/videogen"
)

// Video transports
const (
	TransportStub    = "stub"
	TransportWebhook = "webhook"
	TransportStream  = "stream"
)

// Deps are the services task handlers work with.
type Deps struct {
	Runs        *videogen.Runs
	Generator   *videogen.Client
	Publisher   *streams.Publisher // stream transport only
	Sessions    *session.Manager
	Files       *files.Service
	Transport   string
	OrphanGrace time.Duration
}

// asynqLoggerAdapter wraps slog.Logger to implement asynq.Logger interface
type asynqLoggerAdapter struct {
	logger *slog.Logger
}

func (a *asynqLoggerAdapter) Debug(args ...interface{}) {
	a.logger.Debug(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Info(args ...interface{}) {
	a.logger.Info(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Warn(args ...interface{}) {
	a.logger.Warn(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Error(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
}

func (a *asynqLoggerAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	panic(fmt.Sprint(args...))
}

// Run starts the Asynq worker server and blocks until shutdown signal.
// Use this for standalone worker mode.
func Run(cfg *config.Config, deps Deps) error {
	srv, mux, err := newServer(cfg, deps)
	if err != nil {
		return err
	}
	return srv.Run(mux)
}

// Start starts the Asynq worker in non-blocking mode and returns a stop function.
// Use this for embedded mode so the caller can coordinate shutdown.
func Start(cfg *config.Config, deps Deps) (stop func(), err error) {
	srv, mux, err := newServer(cfg, deps)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(mux); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return func() { srv.Shutdown() }, nil
}

func newServer(cfg *config.Config, deps Deps) (*asynq.Server, *asynq.ServeMux, error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency:     5,
			ShutdownTimeout: 30 * time.Second,
			ErrorHandler:    asynq.ErrorHandlerFunc(makeErrorHandler(logger)),
			Logger:          &asynqLoggerAdapter{logger: logger},
		},
	)

	logger.Info("Worker starting", "concurrency", 5, "transport", deps.Transport)
	return srv, newMux(logger, deps), nil
}

func newMux(logger *slog.Logger, deps Deps) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskGenerateVideo, handleGenerateVideo(logger, deps))
	mux.HandleFunc(TaskPurgeSessions, handlePurgeSessions(logger, deps.Sessions))
	mux.HandleFunc(TaskReconcileFiles, handleReconcileFiles(logger, deps.Files, deps.OrphanGrace))
	return mux
}

// handleGenerateVideo renders a video run through the configured transport.
// Stub and webhook runs are completed here; stream runs are completed by the
// result consumer.
func handleGenerateVideo(logger *slog.Logger, deps Deps) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload generateVideoPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.RunID == "" {
			return fmt.Errorf("invalid payload: %w", asynq.SkipRetry)
		}
		runID := payload.RunID

		req, err := deps.Runs.Start(ctx, runID)
		switch {
		case errors.Is(err, videogen.ErrRunNotFound):
			logger.Error("Video run not found", "run_id", runID)
			return fmt.Errorf("video run not found: %w", asynq.SkipRetry)
		case errors.Is(err, videogen.ErrRunFinished):
			logger.Info("Video run already finished", "run_id", runID)
			return nil
		case err != nil:
			return fmt.Errorf("failed to start video run: %w", err)
		}

		logger.Info("Processing video:generate task",
			"run_id", runID,
			"template", req.Template,
			"transport", deps.Transport,
		)

		start := time.Now()
		defer func() {
			videoTaskDuration.WithLabelValues(deps.Transport).Observe(time.Since(start).Seconds())
		}()

		if deps.Transport == TransportStream {
			if err := publishVideoRequest(ctx, logger, deps, req); err != nil {
				videoTasksTotal.WithLabelValues(deps.Transport, "error").Inc()
				return err
			}
			videoTasksTotal.WithLabelValues(deps.Transport, "published").Inc()
			return nil
		}

		result, err := deps.Generator.Generate(ctx, *req)
		if err != nil {
			videoTasksTotal.WithLabelValues(deps.Transport, "error").Inc()
			logger.Error("Video generation failed", "run_id", runID, "error", err.Error())
			failOnLastAttempt(ctx, logger, deps.Runs, runID, err)
			return fmt.Errorf("video generation failed: %w", err)
		}

		if _, err := deps.Runs.Complete(ctx, runID, result.VideoURL); err != nil {
			videoTasksTotal.WithLabelValues(deps.Transport, "error").Inc()
			return fmt.Errorf("failed to complete video run: %w", err)
		}
		videoTasksTotal.WithLabelValues(deps.Transport, "completed").Inc()
		return nil
	}
}

func publishVideoRequest(ctx context.Context, logger *slog.Logger, deps Deps, req *videogen.Request) error {
	if deps.Publisher == nil {
		logger.Warn("Streams publisher not configured", "run_id", req.RunID)
		if err := deps.Runs.Fail(ctx, req.RunID, "streams publisher not configured"); err != nil {
			logger.Error("Failed to mark video run failed", "run_id", req.RunID, "error", err)
		}
		return fmt.Errorf("streams publisher not configured: %w", asynq.SkipRetry)
	}

	msgID, err := deps.Publisher.PublishVideoRequest(ctx, streams.VideoRequest{
		RunID:          req.RunID,
		Template:       req.Template,
		PatientEmail:   req.PatientEmail,
		PatientName:    req.PatientName,
		Prompt:         req.Prompt,
		Parameters:     req.Parameters,
		PlaceholderURL: req.PlaceholderURL,
	})
	if err != nil {
		logger.Error("Failed to publish video request", "run_id", req.RunID, "error", err.Error())
		failOnLastAttempt(ctx, logger, deps.Runs, req.RunID, err)
		// Retryable, the stream may be temporarily unavailable
		return fmt.Errorf("failed to publish to stream: %w", err)
	}

	logger.Info("Video request published to stream", "run_id", req.RunID, "stream_msg_id", msgID)
	return nil
}

// failOnLastAttempt marks the run failed once asynq will not retry the task.
func failOnLastAttempt(ctx context.Context, logger *slog.Logger, runs *videogen.Runs, runID string, cause error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return
	}
	// The task context may already be past its deadline
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := runs.Fail(failCtx, runID, cause.Error()); err != nil {
		logger.Error("Failed to mark video run failed", "run_id", runID, "error", err)
	}
}

func handlePurgeSessions(logger *slog.Logger, sessions *session.Manager) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := sessions.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge sessions: %w", err)
		}
		logger.Info("Purged expired sessions", "count", n)
		return nil
	}
}

func handleReconcileFiles(logger *slog.Logger, fileSvc *files.Service, grace time.Duration) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, _ *asynq.Task) error {
		n, err := fileSvc.ReconcileOrphans(ctx, grace)
		if err != nil {
			return fmt.Errorf("failed to reconcile files: %w", err)
		}
		logger.Info("Reconciled orphaned objects", "deleted", n)
		return nil
	}
}

// makeErrorHandler creates an error handler function with logger closure.
func makeErrorHandler(logger *slog.Logger) func(context.Context, *asynq.Task, error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)

		logger.Error(
			"Task execution failed",
			"task_type", task.Type(),
			"error", err.Error(),
			"retry_count", retried,
			"max_retry", maxRetry,
		)

		if retried >= maxRetry {
			logger.Error(
				"Task moved to dead letter queue (all retries exhausted)",
				"task_type", task.Type(),
				"payload", string(task.Payload()),
			)
		}
	}
}
