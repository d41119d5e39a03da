package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patientkey"
	"github.com/jimdaga/amma-portal/internal/session"
	"github.com/markbates/goth/gothic"
	"gorm.io/gorm"
)

const loginRoleKey = "login_role"

// UserView is the JSON shape of a user returned to the portal.
type UserView struct {
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Name           string     `json:"name"`
	Role           string     `json:"role"`
	ProfilePicture string     `json:"profile_picture,omitempty"`
	PatientKey     string     `json:"patient_key,omitempty"`
	EMRConnectedAt *time.Time `json:"emr_connected_at,omitempty"`
}

// NewUserView builds the view of u. Patient keys are shown formatted.
func NewUserView(u *models.User) UserView {
	return UserView{
		Email:          u.Email,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Name:           u.DisplayName(),
		Role:           u.Role,
		ProfilePicture: u.ProfilePicture,
		PatientKey:     patientkey.Format(u.Key()),
		EMRConnectedAt: u.EMRConnectedAt,
	}
}

type tokenLoginRequest struct {
	Credential string `json:"credential" binding:"required"`
	Role       string `json:"role" binding:"required,oneof=patient doctor"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserView  `json:"user"`
}

// HandleTokenLogin verifies an ID token from the sign-in widget, upserts the
// user and issues a session. The token is returned and also stored in the
// session cookie.
func HandleTokenLogin(bridge *Bridge, verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			apierr.Abort(c, apierr.ErrServiceUnavailable.WithMessage("Sign-in is not configured"))
			return
		}

		var req tokenLoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierr.Abort(c, apierr.FromBinding(err))
			return
		}

		assertion, err := verifier.Verify(c.Request.Context(), req.Credential)
		if err != nil {
			slog.Warn("Rejected identity credential", "error", err)
			apierr.Abort(c, apierr.ErrUnauthorized.WithMessage("Could not verify sign-in credential"))
			return
		}

		result, err := bridge.Login(c.Request.Context(), *assertion, req.Role)
		if err != nil {
			abortLogin(c, err)
			return
		}

		if err := session.SaveToken(c, result.Session.Token); err != nil {
			slog.Error("Session cookie save error", "error", err)
		}

		apierr.JSON(c, http.StatusOK, loginResponse{
			Token:     result.Session.Token,
			ExpiresAt: result.Session.ExpiresAt,
			User:      NewUserView(result.User),
		})
	}
}

// HandleLogin initiates the Google OAuth redirect flow. The requested role is
// kept in the cookie session until the callback.
func HandleLogin(c *gin.Context) {
	role := c.DefaultQuery("role", models.RolePatient)
	if role != models.RolePatient && role != models.RoleDoctor {
		apierr.Abort(c, apierr.ErrBadRequest.WithMessage("role must be patient or doctor"))
		return
	}

	cookie := sessions.Default(c)
	cookie.Set(loginRoleKey, role)
	if err := cookie.Save(); err != nil {
		slog.Error("Session save error", "error", err)
	}

	// Gothic requires the "provider" query parameter
	q := c.Request.URL.Query()
	q.Set("provider", "google")
	c.Request.URL.RawQuery = q.Encode()

	gothic.BeginAuthHandler(c.Writer, c.Request)
}

// HandleCallback completes the OAuth flow and logs the user in through the bridge.
func HandleCallback(bridge *Bridge) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := c.Request.URL.Query()
		q.Set("provider", "google")
		c.Request.URL.RawQuery = q.Encode()

		gothUser, err := gothic.CompleteUserAuth(c.Writer, c.Request)
		if err != nil {
			slog.Warn("OAuth callback failed", "error", err)
			c.Redirect(http.StatusFound, "/login?error=auth_failed")
			return
		}

		cookie := sessions.Default(c)
		role, _ := cookie.Get(loginRoleKey).(string)
		if role == "" {
			role = models.RolePatient
		}
		cookie.Delete(loginRoleKey)

		assertion := Assertion{
			Subject:       gothUser.UserID,
			Email:         gothUser.Email,
			EmailVerified: true,
			Name:          gothUser.Name,
			Picture:       gothUser.AvatarURL,
		}
		result, err := bridge.Login(c.Request.Context(), assertion, role)
		if err != nil {
			slog.Error("Login failed", "email", gothUser.Email, "error", err)
			c.Redirect(http.StatusFound, "/login?error=session_failed")
			return
		}

		if err := session.SaveToken(c, result.Session.Token); err != nil {
			slog.Error("Session save error", "error", err)
			c.Redirect(http.StatusFound, "/login?error=session_failed")
			return
		}

		c.Redirect(http.StatusFound, "/"+result.User.Role)
	}
}

// HandleLogout deletes every session of the current user and clears the cookie.
func HandleLogout(manager *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s, ok := session.Current(c); ok {
			if err := manager.Logout(c.Request.Context(), s.Email); err != nil {
				slog.Error("Logout failed", "email", s.Email, "error", err)
			}
		}

		if err := session.ClearToken(c); err != nil {
			slog.Error("Session clear error", "error", err)
		}

		apierr.JSON(c, http.StatusOK, gin.H{"logged_out": true})
	}
}

// HandleMe returns the current user.
func HandleMe(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := CurrentSession(c)

		var user models.User
		if err := db.WithContext(c.Request.Context()).Where("email = ?", s.Email).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				apierr.Abort(c, apierr.NewNotFoundError("User"))
				return
			}
			apierr.Abort(c, err)
			return
		}

		apierr.JSON(c, http.StatusOK, gin.H{
			"user":       NewUserView(&user),
			"expires_at": s.ExpiresAt,
		})
	}
}

func abortLogin(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRoleMismatch):
		apierr.Abort(c, apierr.ErrForbidden.WithMessage("This account is registered with a different role"))
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrMissingEmail):
		apierr.Abort(c, apierr.ErrBadRequest.WithMessage(err.Error()))
	default:
		slog.Error("Login failed", "error", err)
		apierr.Abort(c, apierr.ErrInternal.WithMessage("Error creating session. Please try again."))
	}
}
