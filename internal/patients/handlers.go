package patients

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patientkey"
	"gorm.io/gorm"
)

type addPatientRequest struct {
	PatientKey string `json:"patient_key" binding:"required,patientkey"`
}

// HandleList returns the signed-in doctor's roster.
func HandleList(roster *Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := roster.List(c.Request.Context(), c.GetString("user_email"))
		if err != nil {
			slog.Error("Failed to load roster", "error", err)
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, entries)
	}
}

// HandleAdd adds a patient to the signed-in doctor's roster by patient key.
func HandleAdd(roster *Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addPatientRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		entry, err := roster.AddByKey(c.Request.Context(), c.GetString("user_email"), req.PatientKey)
		switch {
		case errors.Is(err, ErrInvalidKey):
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("Please enter a valid 9-digit patient ID"))
		case errors.Is(err, ErrPatientNotFound):
			apierr.Abort(c, apierr.NewNotFoundError("Patient"))
		case errors.Is(err, ErrAlreadyLinked):
			apierr.Abort(c, apierr.ErrConflict.WithMessage("This patient is already in your roster"))
		case err != nil:
			slog.Error("Failed to add patient", "error", err)
			apierr.Abort(c, err)
		default:
			apierr.JSON(c, http.StatusCreated, entry)
		}
	}
}

// RequireLinked rejects requests for a patient (path parameter "email") who
// is not in the signed-in doctor's roster.
func RequireLinked(roster *Roster) gin.HandlerFunc {
	return func(c *gin.Context) {
		linked, err := roster.IsLinked(c.Request.Context(), c.GetString("user_email"), c.Param("email"))
		if err != nil {
			slog.Error("Roster check failed", "error", err)
			apierr.Abort(c, err)
			return
		}
		if !linked {
			apierr.Abort(c, apierr.NewNotFoundError("Patient"))
			return
		}
		c.Next()
	}
}

type profileView struct {
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Name           string     `json:"name"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	PatientKey     string     `json:"patient_key"`
	EMRConnected   bool       `json:"emr_connected"`
	LastSynced     *time.Time `json:"last_synced,omitempty"`
	DoctorCount    int64      `json:"doctor_count"`
}

// HandleProfile returns the signed-in patient's profile.
func HandleProfile(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		email := c.GetString("user_email")

		var user models.User
		if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				apierr.Abort(c, apierr.NewNotFoundError("Patient"))
				return
			}
			apierr.Abort(c, err)
			return
		}

		view := profileView{
			Email:          user.Email,
			FirstName:      user.FirstName,
			LastName:       user.LastName,
			Name:           user.DisplayName(),
			ProfilePicture: user.ProfilePicture,
			PatientKey:     patientkey.Format(user.Key()),
		}

		// A synced health record means one of the patient's doctors has
		// connected their EMR
		var snapshot models.HealthSnapshot
		err := db.WithContext(ctx).Where("patient_email = ?", email).
			Order("last_synced DESC").
			First(&snapshot).Error
		if err == nil {
			view.EMRConnected = true
			view.LastSynced = &snapshot.LastSynced
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			slog.Warn("Failed to load health snapshot", "error", err)
		}

		if err := db.WithContext(ctx).Model(&models.DoctorPatient{}).
			Where("patient_email = ?", email).
			Count(&view.DoctorCount).Error; err != nil {
			slog.Warn("Failed to count patient doctors", "error", err)
		}

		apierr.JSON(c, http.StatusOK, view)
	}
}

// HandleRecoveryPlan returns the signed-in patient's recovery plan.
func HandleRecoveryPlan(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		start, err := RecoveryStart(c.Request.Context(), db, c.GetString("user_email"))
		if err != nil {
			slog.Error("Failed to load recovery start", "error", err)
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, BuildRecoveryPlan(start, time.Now()))
	}
}
