package api

import (
	"context"
	"net/http"
	"os"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/budget"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/config"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/database"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/metrics"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/models"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/queue"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/reconciler"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/scheduler"
	"github.com/Luisdanielgm/sapiens-backend-sub002/pkg/store"
)

// Server is the HTTP layer. It owns no domain logic: handlers validate,
// authorize, delegate to stores/services, and translate errors.
type Server struct {
	echo *echo.Echo
	http *http.Server
	cfg  *config.Config

	dbClient   *database.Client
	contents   *store.ContentStore
	virtual    *store.VirtualStore
	results    *store.ResultStore
	profiles   *store.ProfileStore
	gate       *budget.Gate
	ledger     *budget.Ledger
	queue      *queue.TaskQueue
	workerPool *queue.WorkerPool
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler

	jwtSecret []byte
}

// Dependencies bundles the wired subsystems the server exposes.
type Dependencies struct {
	DB         *database.Client
	Contents   *store.ContentStore
	Virtual    *store.VirtualStore
	Results    *store.ResultStore
	Profiles   *store.ProfileStore
	Gate       *budget.Gate
	Ledger     *budget.Ledger
	Queue      *queue.TaskQueue
	WorkerPool *queue.WorkerPool
	Scheduler  *scheduler.Scheduler
	Reconciler *reconciler.Reconciler
}

// NewServer builds the Echo instance, installs middleware, and registers
// every route. The JWT signing secret is read from the env var named by
// cfg.Auth.JWTSecretEnv.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	e := echo.New()
	e.HTTPErrorHandler = errorHandler

	s := &Server{
		echo:       e,
		cfg:        cfg,
		dbClient:   deps.DB,
		contents:   deps.Contents,
		virtual:    deps.Virtual,
		results:    deps.Results,
		profiles:   deps.Profiles,
		gate:       deps.Gate,
		ledger:     deps.Ledger,
		queue:      deps.Queue,
		workerPool: deps.WorkerPool,
		scheduler:  deps.Scheduler,
		reconciler: deps.Reconciler,
		jwtSecret:  []byte(os.Getenv(cfg.Auth.JWTSecretEnv)),
	}
	s.http = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}

	e.Use(securityHeaders())
	e.Use(requestLogger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.Server.CORSAllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	// Unauthenticated probes.
	e.GET("/health", s.healthHandler)
	e.GET("/metrics", func(c *echo.Context) error {
		metrics.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	api := e.Group("/api/v1")
	api.Use(s.authenticate)

	author := requireRole(models.RoleTeacher, models.RoleInstituteAdmin, models.RoleAdmin)
	student := requireRole(models.RoleStudent, models.RoleAdmin)
	admin := requireRole(models.RoleAdmin)
	monitor := requireRole(models.RoleAdmin, models.RoleInstituteAdmin)

	// Authoring: study plans down to content elements.
	api.POST("/study-plans", s.createStudyPlanHandler, author)
	api.GET("/study-plans", s.listStudyPlansHandler, author)
	api.GET("/study-plans/:id", s.getStudyPlanHandler)
	api.PUT("/study-plans/:id", s.updateStudyPlanHandler, author)
	api.DELETE("/study-plans/:id", s.deleteStudyPlanHandler, author)
	api.GET("/study-plans/:id/modules", s.listModulesHandler)

	api.POST("/modules", s.createModuleHandler, author)
	api.GET("/modules/:id", s.getModuleHandler)
	api.PUT("/modules/:id", s.updateModuleHandler, author)
	api.DELETE("/modules/:id", s.deleteModuleHandler, author)
	api.PUT("/modules/:id/virtualization-settings", s.updateVirtualizationSettingsHandler, author)
	api.GET("/modules/:id/virtualization-readiness", s.moduleReadinessHandler)
	api.GET("/modules/:id/topics", s.listTopicsHandler)

	api.POST("/topics", s.createTopicHandler, author)
	api.GET("/topics/:id", s.getTopicHandler)
	api.PUT("/topics/:id", s.updateTopicHandler, author)
	api.PUT("/topics/:id/publish", s.publishTopicHandler, author)
	api.DELETE("/topics/:id", s.deleteTopicHandler, author)
	api.GET("/topics/:id/contents", s.listContentsHandler)

	api.POST("/contents", s.createContentHandler, author)
	api.PUT("/contents/:id", s.updateContentHandler, author)
	api.DELETE("/contents/:id", s.deleteContentHandler, author)

	// Progressive virtualization: student-facing surface.
	api.POST("/virtual/progressive-generation", s.progressiveGenerationHandler, student)
	api.POST("/virtual/trigger-next-topic", s.triggerNextTopicHandler, student)
	api.GET("/virtual/study-plans/:id/modules", s.listVirtualModulesHandler, student)
	api.GET("/virtual/modules/:id", s.getVirtualModuleHandler, student)
	api.GET("/virtual/topics/:id/contents", s.listVirtualContentsHandler, student)
	api.POST("/content/results", s.recordResultHandler, student)
	api.GET("/virtual/contents/:id/results", s.listResultsHandler, student)

	// Cognitive profiles.
	api.GET("/profiles/:student_id", s.getProfileHandler)
	api.PUT("/profiles/:student_id", s.updateProfileHandler)

	// AI call monitoring and budget administration.
	api.POST("/ai-monitoring/calls", s.registerCallHandler)
	api.PUT("/ai-monitoring/calls/:call_id", s.finalizeCallHandler)
	api.GET("/ai-monitoring/stats", s.usageStatsHandler, monitor)
	api.GET("/ai-monitoring/config", s.getBudgetConfigHandler, admin)
	api.PUT("/ai-monitoring/config", s.updateBudgetConfigHandler, admin)
	api.GET("/ai-monitoring/alerts", s.listAlertsHandler, monitor)
	api.POST("/ai-monitoring/alerts/:id/dismiss", s.dismissAlertHandler, admin)

	// Queue diagnostics.
	api.GET("/queue/health", s.queueHealthHandler, admin)
	api.GET("/queue/stats", s.queueStatsHandler, admin)
	api.GET("/queue/tasks", s.listTasksHandler, admin)
	api.GET("/queue/tasks/:id", s.getTaskHandler, admin)
	api.POST("/queue/tasks/:id/cancel", s.cancelTaskHandler, admin)
	api.POST("/queue/tasks/:id/retry", s.retryTaskHandler, admin)
}

// Start blocks serving HTTP on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
