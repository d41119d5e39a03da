// Package marketing records landing page demo requests and contact messages.
package marketing

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"gorm.io/gorm"
)

type demoRequest struct {
	Name         string `json:"name" binding:"required,max=200"`
	Email        string `json:"email" binding:"required,email,max=320"`
	Organization string `json:"organization" binding:"max=200"`
}

type contactRequest struct {
	Name    string `json:"name" binding:"required,max=200"`
	Email   string `json:"email" binding:"required,email,max=320"`
	Subject string `json:"subject" binding:"required,max=200"`
	Message string `json:"message" binding:"required,max=5000"`
}

// HandleDemoRequest records a demo request from the landing page.
func HandleDemoRequest(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req demoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		demo := models.DemoRequest{
			Name:         strings.TrimSpace(req.Name),
			Email:        strings.ToLower(strings.TrimSpace(req.Email)),
			Organization: strings.TrimSpace(req.Organization),
			CreatedAt:    time.Now().UTC(),
		}
		if err := db.WithContext(c.Request.Context()).Create(&demo).Error; err != nil {
			slog.Error("Failed to save demo request", "error", err)
			apierr.Abort(c, apierr.ErrInternal.WithMessage("Failed to submit. Please try again."))
			return
		}

		slog.Info("Demo request received", "id", demo.ID, "organization", demo.Organization)
		apierr.JSON(c, http.StatusCreated, gin.H{"id": demo.ID})
	}
}

// HandleContact records a contact form message.
func HandleContact(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req contactRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		msg := models.ContactMessage{
			Name:      strings.TrimSpace(req.Name),
			Email:     strings.ToLower(strings.TrimSpace(req.Email)),
			Subject:   strings.TrimSpace(req.Subject),
			Message:   strings.TrimSpace(req.Message),
			CreatedAt: time.Now().UTC(),
		}
		if err := db.WithContext(c.Request.Context()).Create(&msg).Error; err != nil {
			slog.Error("Failed to save contact message", "error", err)
			apierr.Abort(c, apierr.ErrInternal.WithMessage("Failed to send message. Please try again."))
			return
		}

		slog.Info("Contact message received", "id", msg.ID)
		apierr.JSON(c, http.StatusCreated, gin.H{"id": msg.ID})
	}
}
