package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jimdaga/amma-portal/internal/config"
	"github.com/jimdaga/amma-portal/internal/logging"
)

// StartScheduler creates and starts an Asynq Scheduler for the maintenance
// tasks. Returns a stop function for graceful shutdown.
func StartScheduler(cfg *config.Config) (stop func(), err error) {
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

	scheduler := asynq.NewScheduler(
		redisOpt,
		&asynq.SchedulerOpts{
			Location: time.UTC,
			LogLevel: asynq.InfoLevel,
			Logger:   &asynqLoggerAdapter{logger: logger},
		},
	)

	for _, taskType := range []string{TaskPurgeSessions, TaskReconcileFiles} {
		entryID, err := scheduler.Register(cfg.MaintenanceSchedule, newMaintenanceTask(taskType))
		if err != nil {
			return nil, fmt.Errorf("failed to register %s schedule: %w", taskType, err)
		}
		logger.Info("Registered maintenance task", "task_type", taskType, "entry_id", entryID)
	}

	// Start scheduler (non-blocking)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	slog.Info("Scheduler started", "schedule", cfg.MaintenanceSchedule)

	return func() { scheduler.Shutdown() }, nil
}
