package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printrelease/internal/api/handlers"
	"github.com/orrn/printrelease/internal/api/middleware"
	"github.com/orrn/printrelease/internal/archive"
	"github.com/orrn/printrelease/internal/config"
	"github.com/orrn/printrelease/internal/core"
	"github.com/orrn/printrelease/internal/db"
	"github.com/orrn/printrelease/internal/metrics"
)

// Deps is everything the HTTP surface is built from. Archiver and Limiter
// may be nil.
type Deps struct {
	Config    *config.Config
	Service   *core.Service
	Store     *db.Store
	Auth      *middleware.AuthMiddleware
	Sweeper   handlers.Sweeper
	Completer handlers.Completer
	Webhooks  handlers.WebhookTester
	Archiver  *archive.Archiver
	Limiter   middleware.Limiter
	Logger    *zap.Logger
}

// NewRouter wires the public job routes and the operator routes under
// /admin.
func NewRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	httpLogger := logger.Named("http")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.AccessLog(httpLogger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	jobs := handlers.NewJobHandler(d.Service, d.Config.Server.MaxDocumentBytes, httpLogger)
	jobs.RegisterRoutes(r, middleware.RateLimit(d.Limiter, httpLogger))
	r.GET("/jobs/:id/views", d.Auth.RequireAuth(), jobs.ListViews)

	admin := r.Group("/admin")
	admin.POST("/setup", d.Auth.SetupHandler)
	admin.POST("/login", d.Auth.LoginHandler)
	admin.POST("/logout", d.Auth.LogoutHandler)
	admin.GET("/status", d.Auth.StatusHandler)

	operator := admin.Group("")
	operator.Use(d.Auth.RequireAuth())
	operator.PUT("/password", d.Auth.ChangePasswordHandler)
	operator.GET("/jobs", jobs.ListAllJobs)

	handlers.NewWebhookHandler(d.Store.Webhooks, d.Webhooks, httpLogger).RegisterRoutes(operator)
	handlers.NewMaintenanceHandler(d.Sweeper, d.Completer, httpLogger).RegisterRoutes(operator)

	if d.Archiver != nil {
		handlers.NewArchiveHandler(d.Archiver, httpLogger).RegisterRoutes(operator)
		handlers.NewSettingsHandler(d.Store.Settings, d.Archiver, d.Config, httpLogger).RegisterRoutes(operator)
	} else {
		operator.GET("/config", handlers.NewSettingsHandler(d.Store.Settings, nil, d.Config, httpLogger).GetServerConfig)
	}

	return r
}

// NewServer wraps the router in an http.Server using the configured
// timeouts.
func NewServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
