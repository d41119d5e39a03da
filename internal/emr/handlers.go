package emr

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"gorm.io/gorm"
)

const stateKey = "emr_state"

// HandleGet returns the doctor's snapshot of the patient in the path.
func HandleGet(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := svc.Get(c.Request.Context(), c.GetString("user_email"), c.Param("email"))
		if err != nil {
			abortSnapshot(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, snapshot)
	}
}

// HandleSync syncs the patient in the path from the EMR.
func HandleSync(svc *Service, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		patientEmail := c.Param("email")

		// The patient's name helps match the EMR record
		var patient models.User
		if err := db.WithContext(ctx).Where("email = ?", patientEmail).First(&patient).Error; err != nil &&
			!errors.Is(err, gorm.ErrRecordNotFound) {
			apierr.Abort(c, err)
			return
		}

		snapshot, err := svc.Sync(ctx, c.GetString("user_email"), patientEmail, patient.DisplayName())
		if err != nil {
			slog.Error("Health record sync failed", "patient", patientEmail, "error", err)
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, snapshot)
	}
}

// HandleGetOwn returns the signed-in patient's latest snapshot.
func HandleGetOwn(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := svc.LatestForPatient(c.Request.Context(), c.GetString("user_email"))
		if err != nil {
			abortSnapshot(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, snapshot)
	}
}

// HandleConnect starts the EMR authorization flow.
func HandleConnect(conn *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if conn == nil {
			apierr.Abort(c, apierr.ErrServiceUnavailable.WithMessage(ErrNotConfigured.Error()))
			return
		}

		state, err := NewState()
		if err != nil {
			apierr.Abort(c, err)
			return
		}

		session := sessions.Default(c)
		session.Set(stateKey, state)
		if err := session.Save(); err != nil {
			slog.Error("Session save error", "error", err)
			apierr.Abort(c, err)
			return
		}

		apierr.JSON(c, http.StatusOK, gin.H{"authorization_url": conn.AuthCodeURL(state)})
	}
}

// HandleCallback completes the EMR authorization flow.
func HandleCallback(conn *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		if conn == nil {
			apierr.Abort(c, apierr.ErrServiceUnavailable.WithMessage(ErrNotConfigured.Error()))
			return
		}

		session := sessions.Default(c)
		expected, _ := session.Get(stateKey).(string)
		session.Delete(stateKey)
		if err := session.Save(); err != nil {
			slog.Error("Session save error", "error", err)
		}

		if errMsg := c.Query("error"); errMsg != "" {
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage("EMR authorization failed: "+errMsg))
			return
		}

		connectedAt, err := conn.Complete(c.Request.Context(), c.GetString("user_email"),
			c.Query("code"), c.Query("state"), expected)
		switch {
		case errors.Is(err, ErrStateMismatch), errors.Is(err, ErrMissingCode):
			apierr.Abort(c, apierr.ErrBadRequest.WithMessage(err.Error()))
		case err != nil:
			slog.Error("EMR callback failed", "error", err)
			apierr.Abort(c, err)
		default:
			apierr.JSON(c, http.StatusOK, gin.H{"connected": true, "connected_at": connectedAt})
		}
	}
}

// HandleStatus reports whether the doctor has connected their EMR.
func HandleStatus(db *gorm.DB, conn *Connector) gin.HandlerFunc {
	return func(c *gin.Context) {
		connectedAt, err := ConnectedAt(c.Request.Context(), db, c.GetString("user_email"))
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, gin.H{
			"configured":   conn != nil,
			"connected":    connectedAt != nil,
			"connected_at": connectedAt,
		})
	}
}

// HandleDisconnect clears the doctor's EMR connection.
func HandleDisconnect(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := Disconnect(c.Request.Context(), db, c.GetString("user_email")); err != nil {
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, gin.H{"connected": false})
	}
}

func abortSnapshot(c *gin.Context, err error) {
	if errors.Is(err, ErrNoSnapshot) {
		apierr.Abort(c, apierr.NewNotFoundError("Health record"))
		return
	}
	slog.Error("Failed to load health record", "error", err)
	apierr.Abort(c, err)
}
