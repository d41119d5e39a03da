package videogen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/amma-portal/internal/files"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/templates"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrRunNotFound = errors.New("video run not found")
	ErrRunFinished = errors.New("video run already finished")
)

// RunInput asks for a video for one patient.
type RunInput struct {
	PatientEmail string
	RequestedBy  string
	Template     string
	Parameters   map[string]interface{}
}

// Runs manages VideoRun records from request to completion.
type Runs struct {
	db        *gorm.DB
	files     *files.Service
	templates *templates.Registry
	now       func() time.Time
}

// NewRuns creates a Runs service.
func NewRuns(db *gorm.DB, fileSvc *files.Service, registry *templates.Registry) *Runs {
	return &Runs{db: db, files: fileSvc, templates: registry, now: time.Now}
}

// Templates returns the registry runs are validated against.
func (r *Runs) Templates() *templates.Registry {
	return r.templates
}

// Create validates the parameters and records a pending run.
func (r *Runs) Create(ctx context.Context, in RunInput) (*models.VideoRun, error) {
	tmpl, err := r.templates.Get(in.Template)
	if err != nil {
		return nil, err
	}
	if in.Parameters == nil {
		in.Parameters = map[string]interface{}{}
	}
	if err := tmpl.ValidateParameters(in.Parameters); err != nil {
		return nil, err
	}

	run := &models.VideoRun{
		RunID:        uuid.NewString(),
		PatientEmail: strings.ToLower(in.PatientEmail),
		RequestedBy:  strings.ToLower(in.RequestedBy),
		Template:     tmpl.Name,
		Status:       models.VideoRunStatusPending,
		Input:        datatypes.JSONMap(in.Parameters),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create video run: %w", err)
	}

	slog.Info("Video run created", "run_id", run.RunID, "template", run.Template, "patient", run.PatientEmail)
	return run, nil
}

// Get loads a run by its public id.
func (r *Runs) Get(ctx context.Context, runID string) (*models.VideoRun, error) {
	var run models.VideoRun
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load video run: %w", err)
	}
	return &run, nil
}

// ListForPatient returns the patient's runs, newest first.
func (r *Runs) ListForPatient(ctx context.Context, patientEmail string) ([]models.VideoRun, error) {
	var runs []models.VideoRun
	if err := r.db.WithContext(ctx).
		Where("patient_email = ?", strings.ToLower(patientEmail)).
		Order("created_at DESC, id DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list video runs: %w", err)
	}
	return runs, nil
}

// Start marks the run as processing and builds the renderer request.
func (r *Runs) Start(ctx context.Context, runID string) (*Request, error) {
	run, err := r.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if isFinished(run.Status) {
		return nil, ErrRunFinished
	}

	tmpl, err := r.templates.Get(run.Template)
	if err != nil {
		return nil, err
	}

	var patient models.User
	if err := r.db.WithContext(ctx).Where("email = ?", run.PatientEmail).First(&patient).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}

	params := map[string]interface{}(run.Input)
	if params == nil {
		params = map[string]interface{}{}
	}
	promptData := make(map[string]interface{}, len(params)+1)
	for k, v := range params {
		promptData[k] = v
	}
	if _, ok := promptData["patient_name"]; !ok {
		promptData["patient_name"] = patient.DisplayName()
	}
	prompt, err := tmpl.RenderPrompt(promptData)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if err := r.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":     models.VideoRunStatusProcessing,
		"started_at": now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to start video run: %w", err)
	}

	return &Request{
		RunID:          run.RunID,
		Template:       tmpl.Name,
		PatientEmail:   run.PatientEmail,
		PatientName:    patient.DisplayName(),
		Prompt:         prompt,
		Parameters:     params,
		PlaceholderURL: tmpl.PlaceholderURL,
	}, nil
}

// Complete attaches the video to the patient and marks the run completed.
// Completing a completed run is a no-op.
func (r *Runs) Complete(ctx context.Context, runID, videoURL string) (*models.VideoRun, error) {
	run, err := r.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == models.VideoRunStatusCompleted {
		return run, nil
	}

	tmpl, err := r.templates.Get(run.Template)
	if err != nil {
		return nil, err
	}
	if videoURL == "" {
		videoURL = tmpl.PlaceholderURL
	}

	now := r.now().UTC()
	file, err := r.files.RecordVideo(ctx, files.VideoInput{
		PatientEmail:    run.PatientEmail,
		DoctorEmail:     run.RequestedBy,
		Name:            fmt.Sprintf("%s_%d.mp4", tmpl.FilePrefix, now.UnixMilli()),
		URL:             videoURL,
		Template:        tmpl.Name,
		ReplaceExisting: tmpl.SinglePerPatient,
	})
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":        models.VideoRunStatusCompleted,
		"output_url":    videoURL,
		"file_id":       file.ID,
		"error_message": "",
		"completed_at":  now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to complete video run: %w", err)
	}

	slog.Info("Video run completed", "run_id", run.RunID, "file_id", file.ID)
	return r.Get(ctx, runID)
}

// Fail marks the run failed with msg.
func (r *Runs) Fail(ctx context.Context, runID, msg string) error {
	run, err := r.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == models.VideoRunStatusCompleted {
		return ErrRunFinished
	}

	now := r.now().UTC()
	if err := r.db.WithContext(ctx).Model(run).Updates(map[string]interface{}{
		"status":        models.VideoRunStatusFailed,
		"error_message": msg,
		"completed_at":  now,
	}).Error; err != nil {
		return fmt.Errorf("failed to mark video run failed: %w", err)
	}

	slog.Warn("Video run failed", "run_id", runID, "error", msg)
	return nil
}

func isFinished(status string) bool {
	return status == models.VideoRunStatusCompleted || status == models.VideoRunStatusFailed
}
