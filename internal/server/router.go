// Package server assembles the HTTP API.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/jimdaga/amma-portal/internal/apierr"
	"github.com/jimdaga/amma-portal/internal/assistant"
	"github.com/jimdaga/amma-portal/internal/auth"
	"github.com/jimdaga/amma-portal/internal/config"
	"github.com/jimdaga/amma-portal/internal/emr"
	"github.com/jimdaga/amma-portal/internal/files"
	"github.com/jimdaga/amma-portal/internal/health"
	"github.com/jimdaga/amma-portal/internal/marketing"
	"github.com/jimdaga/amma-portal/internal/middleware"
	"github.com/jimdaga/amma-portal/internal/models"
	"github.com/jimdaga/amma-portal/internal/patientkey"
	"github.com/jimdaga/amma-portal/internal/patients"
	"github.com/jimdaga/amma-portal/internal/profile"
	"github.com/jimdaga/amma-portal/internal/session"
	"github.com/jimdaga/amma-portal/internal/storage"
	"github.com/jimdaga/amma-portal/internal/videogen"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// MemoryFilesPath is where objects of the in-memory bucket are served.
const MemoryFilesPath = "/files"

// Deps are the services the router exposes. Verifier, Connector, Memory and
// RateCounter may be nil.
type Deps struct {
	Logger      *slog.Logger
	DB          *gorm.DB
	Sessions    *session.Manager
	Bridge      *auth.Bridge
	Verifier    auth.Verifier
	Roster      *patients.Roster
	Files       *files.Service
	Memory      *storage.MemoryBucket
	Snapshots   *emr.Service
	Connector   *emr.Connector
	Runs        *videogen.Runs
	Enqueue     videogen.EnqueueFunc
	Assistant   *assistant.Service
	RateCounter middleware.Counter
	ReadyChecks []health.Check
}

// NewRouter builds the gin engine with every route of the portal API.
func NewRouter(cfg *config.Config, deps Deps) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := patientkey.RegisterBinding(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.Logging(deps.Logger),
		middleware.Metrics(),
		middleware.CORS(cfg.AllowedOrigins),
	)

	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(cfg.SessionCookieName, store))
	r.Use(session.Middleware(deps.Sessions))

	r.GET("/health", gin.WrapF(health.Handler))
	r.GET("/ready", gin.WrapF(health.ReadyHandler(deps.ReadyChecks...)))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Memory != nil {
		r.GET(MemoryFilesPath+"/*key", serveMemoryObject(deps.Memory))
	}

	// Auth
	r.POST("/auth/token", auth.HandleTokenLogin(deps.Bridge, deps.Verifier))
	r.GET("/auth/google", auth.HandleLogin)
	r.GET("/auth/google/callback", auth.HandleCallback(deps.Bridge))
	r.POST("/auth/logout", auth.HandleLogout(deps.Sessions))

	// Public forms
	forms := r.Group("/api")
	forms.Use(middleware.RateLimit(deps.RateCounter, cfg.RateLimitPerMinute))
	{
		forms.POST("/demo-requests", marketing.HandleDemoRequest(deps.DB))
		forms.POST("/contact", marketing.HandleContact(deps.DB))
	}

	api := r.Group("/api")
	api.Use(auth.RequireSession())
	{
		api.GET("/me", auth.HandleMe(deps.DB))
		api.GET("/videos/runs/:run_id", videogen.HandleRunStatus(deps.Runs))
	}

	doctor := api.Group("/doctor")
	doctor.Use(auth.RequireRole(models.RoleDoctor))
	{
		doctor.GET("/patients", patients.HandleList(deps.Roster))
		doctor.POST("/patients", patients.HandleAdd(deps.Roster))

		linked := doctor.Group("/patients/:email")
		linked.Use(patients.RequireLinked(deps.Roster))
		{
			linked.GET("/files", files.HandleListForPatient(deps.Files))
			linked.POST("/files", files.HandleUpload(deps.Files))
			linked.GET("/health-record", emr.HandleGet(deps.Snapshots))
			linked.POST("/health-record/sync", emr.HandleSync(deps.Snapshots, deps.DB))
			linked.POST("/videos", videogen.HandleRequest(deps.Runs, deps.Enqueue))
		}

		doctor.DELETE("/files/:id", files.HandleDelete(deps.Files, deps.Roster))
		doctor.GET("/video-templates", videogen.HandleListTemplates(deps.Runs.Templates()))

		doctor.GET("/emr/connect", emr.HandleConnect(deps.Connector))
		doctor.GET("/emr/callback", emr.HandleCallback(deps.Connector))
		doctor.GET("/emr/status", emr.HandleStatus(deps.DB, deps.Connector))
		doctor.DELETE("/emr", emr.HandleDisconnect(deps.DB))

		doctor.GET("/settings", profile.HandleGet(deps.DB))
		doctor.PUT("/settings", profile.HandleUpdate(deps.DB))
	}

	patient := api.Group("/patient")
	patient.Use(auth.RequireRole(models.RolePatient))
	{
		patient.GET("/profile", patients.HandleProfile(deps.DB))
		patient.GET("/recovery-plan", patients.HandleRecoveryPlan(deps.DB))
		patient.GET("/files", files.HandleListOwn(deps.Files))
		patient.GET("/videos", videogen.HandleListOwnVideos(deps.Runs))
		patient.GET("/health-record", emr.HandleGetOwn(deps.Snapshots))
		patient.POST("/chat", assistant.HandleChat(deps.Assistant))
		patient.POST("/chat/video", videogen.HandleAssistantVideo(deps.Runs, deps.Enqueue))
	}

	r.NoRoute(func(c *gin.Context) {
		apierr.Abort(c, apierr.NewNotFoundError("Route"))
	})

	return r, nil
}

func serveMemoryObject(bucket *storage.MemoryBucket) gin.HandlerFunc {
	return func(c *gin.Context) {
		data, contentType, err := bucket.Open(strings.TrimPrefix(c.Param("key"), "/"))
		if errors.Is(err, storage.ErrObjectNotFound) {
			apierr.Abort(c, apierr.NewNotFoundError("File"))
			return
		}
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		c.Data(http.StatusOK, contentType, data)
	}
}
