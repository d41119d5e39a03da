package files

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/samber/lo"
)

// LinkChecker reports whether a doctor has a patient in their roster.
type LinkChecker interface {
	IsLinked(ctx context.Context, doctorEmail, patientEmail string) (bool, error)
}

// FileView is the JSON shape of a patient file.
type FileView struct {
	ID          uint      `json:"id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedBy  string    `json:"uploaded_by"`
	Template    string    `json:"template,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewFileView builds the view of f.
func NewFileView(f models.PatientFile) FileView {
	return FileView{
		ID:          f.ID,
		Kind:        f.Kind,
		Name:        f.Name,
		URL:         f.URL,
		ContentType: f.ContentType,
		SizeBytes:   f.SizeBytes,
		UploadedBy:  f.DoctorEmail,
		Template:    f.Template,
		CreatedAt:   f.CreatedAt,
	}
}

func views(files []models.PatientFile) []FileView {
	return lo.Map(files, func(f models.PatientFile, _ int) FileView { return NewFileView(f) })
}

func kindParam(c *gin.Context) (string, bool) {
	kind := c.Query("kind")
	switch kind {
	case "", models.FileKindDocument, models.FileKindVideo:
		return kind, true
	}
	return "", false
}

// HandleListForPatient lists the files of the patient named in the path.
// The caller must already have checked the roster link.
func HandleListForPatient(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, ok := kindParam(c)
		if !ok {
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("kind must be document or video"))
			return
		}

		files, err := svc.List(c.Request.Context(), c.Param("email"), kind)
		if err != nil {
			slog.Error("Failed to list files", "error", err)
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, views(files))
	}
}

// HandleListOwn lists the signed-in patient's files.
func HandleListOwn(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind, ok := kindParam(c)
		if !ok {
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("kind must be document or video"))
			return
		}

		files, err := svc.List(c.Request.Context(), c.GetString("user_email"), kind)
		if err != nil {
			slog.Error("Failed to list files", "error", err)
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, views(files))
	}
}

// HandleUpload accepts a multipart upload in field "file" for the patient
// named in the path.
func HandleUpload(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Leave room for multipart framing around the file itself
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, svc.MaxBytes()+1<<20)

		header, err := c.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				apierr.Abort(c, apierr.ErrPayloadTooLarge)
				return
			}
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("No file uploaded"))
			return
		}

		f, err := header.Open()
		if err != nil {
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("Could not read uploaded file"))
			return
		}
		defer f.Close()

		file, err := svc.Upload(c.Request.Context(), UploadInput{
			PatientEmail: c.Param("email"),
			DoctorEmail:  c.GetString("user_email"),
			Name:         header.Filename,
			ContentType:  header.Header.Get("Content-Type"),
			Size:         header.Size,
			Body:         f,
		})
		if err != nil {
			abortUpload(c, err)
			return
		}

		apierr.JSON(c, http.StatusCreated, NewFileView(*file))
	}
}

// HandleDelete deletes a file of a patient in the doctor's roster.
func HandleDelete(svc *Service, links LinkChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("Invalid file id"))
			return
		}

		ctx := c.Request.Context()
		file, err := svc.Get(ctx, uint(id))
		if err != nil {
			abortLookup(c, err)
			return
		}

		linked, err := links.IsLinked(ctx, c.GetString("user_email"), file.PatientEmail)
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		if !linked {
			// Don't reveal files of other doctors' patients
			apierr.Abort(c, apierr.NewNotFoundError("File"))
			return
		}

		if err := svc.Delete(ctx, file.ID); err != nil {
			abortLookup(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, gin.H{"deleted": file.ID})
	}
}

func abortUpload(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTooLarge):
		apierr.Abort(c, apierr.ErrPayloadTooLarge)
	case errors.Is(err, ErrEmptyFile):
		apierr.Abort(c, apierr.ErrBadRequest.WithMessage("File is empty"))
	case errors.Is(err, ErrStorageUnavailable):
		slog.Error("Upload failed", "error", err)
		apierr.Abort(c, apierr.ErrServiceUnavailable.WithMessage("File storage is unavailable. Please try again."))
	default:
		slog.Error("Upload failed", "error", err)
		apierr.Abort(c, apierr.ErrInternal.WithMessage("Failed to upload file"))
	}
}

func abortLookup(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		apierr.Abort(c, apierr.NewNotFoundError("File"))
		return
	}
	slog.Error("File operation failed", "error", err)
	apierr.Abort(c, err)
}
