// Package profile serves the doctor settings page.
package profile

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"gorm.io/gorm"
)

// Settings is the editable part of a doctor's profile. Media fields hold a
// URL or a data URL.
type Settings struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name" binding:"required,max=100"`
	LastName       string `json:"last_name" binding:"required,max=100"`
	ClinicName     string `json:"clinic_name" binding:"max=200"`
	ProfilePicture string `json:"profile_picture" binding:"max=7000000"`
	DoctorPhoto    string `json:"doctor_photo" binding:"max=7000000"`
	ClinicLogo     string `json:"clinic_logo" binding:"max=7000000"`
	VoiceClip      string `json:"voice_clip" binding:"max=7000000"`
}

func settingsOf(u *models.User) Settings {
	return Settings{
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		ClinicName:     u.ClinicName,
		ProfilePicture: u.ProfilePicture,
		DoctorPhoto:    u.DoctorPhoto,
		ClinicLogo:     u.ClinicLogo,
		VoiceClip:      u.VoiceClip,
	}
}

func loadUser(c *gin.Context, db *gorm.DB) (*models.User, bool) {
	var user models.User
	err := db.WithContext(c.Request.Context()).Where("email = ?", c.GetString("user_email")).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		apierr.Abort(c, apierr.NewNotFoundError("User"))
		return nil, false
	}
	if err != nil {
		slog.Error("Failed to load user", "error", err)
		apierr.Abort(c, err)
		return nil, false
	}
	return &user, true
}

// HandleGet returns the signed-in doctor's settings.
func HandleGet(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := loadUser(c, db)
		if !ok {
			return
		}
		apierr.JSON(c, http.StatusOK, settingsOf(user))
	}
}

// HandleUpdate replaces the signed-in doctor's settings.
func HandleUpdate(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Settings
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		firstName := strings.TrimSpace(req.FirstName)
		lastName := strings.TrimSpace(req.LastName)
		if firstName == "" || lastName == "" {
			apierr.Abort(c, apierr.NewValidationErrors(map[string]string{
				"FirstName": "is required",
				"LastName":  "is required",
			}))
			return
		}

		user, ok := loadUser(c, db)
		if !ok {
			return
		}

		user.FirstName = firstName
		user.LastName = lastName
		user.ClinicName = strings.TrimSpace(req.ClinicName)
		user.ProfilePicture = req.ProfilePicture
		user.DoctorPhoto = req.DoctorPhoto
		user.ClinicLogo = req.ClinicLogo
		user.VoiceClip = req.VoiceClip

		// Select all columns so cleared fields are written too
		if err := db.WithContext(c.Request.Context()).Model(user).
			Select("first_name", "last_name", "clinic_name", "profile_picture", "doctor_photo", "clinic_logo", "voice_clip").
			Updates(user).Error; err != nil {
			slog.Error("Failed to update settings", "error", err)
			apierr.Abort(c, apierr.ErrInternal.WithMessage("Failed to save settings"))
			return
		}

		slog.Info("Doctor settings updated", "email", user.Email)
		apierr.JSON(c, http.StatusOK, settingsOf(user))
	}
}
