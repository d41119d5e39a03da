package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jimdaga/amma-portal/internal/models"
)

// ErrUnknownStatus is returned for results that are neither completed nor
// failed.
var ErrUnknownStatus = errors.New("unknown result status")

// RunFinisher finishes video runs.
type RunFinisher interface {
	Complete(ctx context.Context, runID, videoURL string) (*models.VideoRun, error)
	Fail(ctx context.Context, runID, msg string) error
}

// HandleVideoResult returns a handler that completes or fails the run named
// by each stream result.
func HandleVideoResult(runs RunFinisher) func(context.Context, VideoResult) error {
	return func(ctx context.Context, result VideoResult) error {
		switch result.Status {
		case ResultStatusCompleted:
			run, err := runs.Complete(ctx, result.RunID, result.VideoURL)
			if err != nil {
				return fmt.Errorf("failed to complete video run: %w", err)
			}
			slog.Info("Video run completed from stream",
				"run_id", result.RunID,
				"file_id", run.FileID,
			)
		case ResultStatusFailed:
			if err := runs.Fail(ctx, result.RunID, result.Error); err != nil {
				return fmt.Errorf("failed to mark video run failed: %w", err)
			}
			slog.Error("Video run failed in renderer",
				"run_id", result.RunID,
				"error", result.Error,
			)
		default:
			return fmt.Errorf("%w: %s", ErrUnknownStatus, result.Status)
		}
		return nil
	}
}
