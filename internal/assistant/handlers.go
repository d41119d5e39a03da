package assistant

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
)

type askRequest struct {
	Message string    `json:"message" binding:"required,max=2000"`
	History []Message `json:"history" binding:"max=50"`
}

// HandleChat answers a question from the signed-in patient.
func HandleChat(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req askRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		reply, err := svc.Answer(c.Request.Context(), c.GetString("user_email"), c.GetString("user_name"), req.Message, req.History)
		if err != nil {
			slog.Error("Assistant failed", "error", err)
			apierr.Abort(c, err)
			return
		}
		apierr.JSON(c, http.StatusOK, reply)
	}
}
