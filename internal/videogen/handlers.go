package videogen

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/files"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/templates"
	"github.com/samber/lo"
)

// AssistantTemplate is the template used for videos requested from the chat.
const AssistantTemplate = "medication"

// EnqueueFunc schedules generation of a run.
type EnqueueFunc func(runID string) error

type videoRequest struct {
	Template   string                 `json:"template" binding:"required"`
	Parameters map[string]interface{} `json:"parameters"`
}

type assistantVideoRequest struct {
	Question string `json:"question" binding:"max=1000"`
}

// RunView is the JSON shape of a video run.
type RunView struct {
	RunID        string     `json:"run_id"`
	Template     string     `json:"template"`
	Status       string     `json:"status"`
	PatientEmail string     `json:"patient_email"`
	RequestedBy  string     `json:"requested_by"`
	OutputURL    string     `json:"output_url,omitempty"`
	FileID       *uint      `json:"file_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewRunView builds the view of run.
func NewRunView(run models.VideoRun) RunView {
	return RunView{
		RunID:        run.RunID,
		Template:     run.Template,
		Status:       run.Status,
		PatientEmail: run.PatientEmail,
		RequestedBy:  run.RequestedBy,
		OutputURL:    run.OutputURL,
		FileID:       run.FileID,
		Error:        run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		CompletedAt:  run.CompletedAt,
	}
}

type templateView struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Version          string `json:"version"`
	SinglePerPatient bool   `json:"single_per_patient"`
}

// HandleListTemplates lists the available video templates.
func HandleListTemplates(registry *templates.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		views := lo.Map(registry.List(), func(t *templates.Template, _ int) templateView {
			return templateView{
				Name:             t.Name,
				Description:      t.Description,
				Version:          t.Version,
				SinglePerPatient: t.SinglePerPatient,
			}
		})
		apierr.JSON(c, http.StatusOK, views)
	}
}

// HandleRequest lets a doctor request a video for the patient in the path.
// The caller must already have checked the roster link.
func HandleRequest(runs *Runs, enqueue EnqueueFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req videoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		startRun(c, runs, enqueue, RunInput{
			PatientEmail: c.Param("email"),
			RequestedBy:  c.GetString("user_email"),
			Template:     req.Template,
			Parameters:   req.Parameters,
		})
	}
}

// HandleAssistantVideo requests a medication video for the signed-in patient.
func HandleAssistantVideo(runs *Runs, enqueue EnqueueFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req assistantVideoRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				apierr.Abort(c, apierr.FromBinding(err))
				return
			}
		}

		params := map[string]interface{}{}
		if req.Question != "" {
			params["question"] = req.Question
		}

		startRun(c, runs, enqueue, RunInput{
			PatientEmail: c.GetString("user_email"),
			RequestedBy:  models.SystemDoctorEmail,
			Template:     AssistantTemplate,
			Parameters:   params,
		})
	}
}

func startRun(c *gin.Context, runs *Runs, enqueue EnqueueFunc, in RunInput) {
	ctx := c.Request.Context()

	run, err := runs.Create(ctx, in)
	switch {
	case errors.Is(err, templates.ErrUnknownTemplate):
		apierr.Abort(c, apierr.ErrBadRequest.WithMessage("Unknown video template"))
		return
	case errors.Is(err, templates.ErrInvalidParameters):
		apierr.Abort(c, apierr.ErrBadRequest.WithMessage(err.Error()))
		return
	case err != nil:
		slog.Error("Failed to create video run", "error", err)
		apierr.Abort(c, err)
		return
	}

	if err := enqueue(run.RunID); err != nil {
		slog.Error("Failed to enqueue video run", "run_id", run.RunID, "error", err)
		if failErr := runs.Fail(ctx, run.RunID, "could not be queued"); failErr != nil {
			slog.Error("Failed to mark video run failed", "run_id", run.RunID, "error", failErr)
		}
		apierr.Abort(c, apierr.ErrServiceUnavailable.WithMessage("Video generation is unavailable. Please try again."))
		return
	}

	apierr.JSON(c, http.StatusAccepted, gin.H{"run_id": run.RunID, "status": run.Status})
}

// HandleRunStatus returns a run to its patient or to the doctor who asked
// for it.
func HandleRunStatus(runs *Runs) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := runs.Get(c.Request.Context(), c.Param("run_id"))
		if errors.Is(err, ErrRunNotFound) {
			apierr.Abort(c, apierr.NewNotFoundError("Video run"))
			return
		}
		if err != nil {
			slog.Error("Failed to load video run", "error", err)
			apierr.Abort(c, err)
			return
		}

		email := c.GetString("user_email")
		if run.PatientEmail != email && run.RequestedBy != email {
			apierr.Abort(c, apierr.NewNotFoundError("Video run"))
			return
		}
		apierr.JSON(c, http.StatusOK, NewRunView(*run))
	}
}

// HandleListOwnVideos returns the signed-in patient's videos and any runs
// still in progress.
func HandleListOwnVideos(runs *Runs) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		email := c.GetString("user_email")

		videos, err := runs.files.List(ctx, email, models.FileKindVideo)
		if err != nil {
			slog.Error("Failed to list videos", "error", err)
			apierr.Abort(c, err)
			return
		}
		all, err := runs.ListForPatient(ctx, email)
		if err != nil {
			slog.Error("Failed to list video runs", "error", err)
			apierr.Abort(c, err)
			return
		}

		pending := lo.FilterMap(all, func(r models.VideoRun, _ int) (RunView, bool) {
			return NewRunView(r), !isFinished(r.Status)
		})
		apierr.JSON(c, http.StatusOK, gin.H{
			"videos":  lo.Map(videos, func(f models.PatientFile, _ int) files.FileView { return files.NewFileView(f) }),
			"pending": pending,
		})
	}
}
