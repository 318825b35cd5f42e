package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/handler"
	"github.com/noah-isme/sma-timetable-api/internal/middleware"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/internal/service"
	"github.com/noah-isme/sma-timetable-api/internal/solver"
	"github.com/noah-isme/sma-timetable-api/pkg/cache"
	"github.com/noah-isme/sma-timetable-api/pkg/config"
	"github.com/noah-isme/sma-timetable-api/pkg/database"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-timetable-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	calendar := models.CalendarConfig{
		ActiveDays:    cfg.Calendar.ActiveDays,
		PeriodsPerDay: cfg.Calendar.PeriodsPerDay,
		BreakPeriods:  cfg.Calendar.BreakPeriods,
	}
	validate := validator.New()

	scheduleRepo := repository.NewScheduleRepository(db)
	inputRepo := repository.NewInputRepository(db)
	constraintRepo := repository.NewConstraintRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(redisClient, logr)

	events := jobs.NewQueue("timetable-events", func(ctx context.Context, job jobs.Job) error {
		logr.Sugar().Infow("event processed", "type", job.Type, "job_id", job.ID)
		return nil
	}, jobs.QueueConfig{Workers: 2, Logger: logr})

	normalizer := service.NewNormalizerService(logr)
	builder := service.NewBuilderService(logr)
	analyzer := service.NewAnalyzerService(cfg.Analyzer, logr)
	engine := solver.NewHeuristicEngine()

	orchestrator := service.NewOrchestratorService(
		normalizer, builder, analyzer, engine,
		scheduleRepo, constraintRepo, inputRepo,
		cacheSvc, metricsSvc, events, cfg.Solver, validate, logr,
	)
	modifier := service.NewModificationService(
		scheduleRepo, inputRepo, cacheSvc, metricsSvc,
		calendar, cfg.Modifications, cfg.Solver.LateThreshold, validate, logr,
	)
	exporter := service.NewExportService(scheduleRepo, inputRepo, calendar, cfg.Export.Title, logr)

	solves := jobs.NewQueue("timetable-solves", func(ctx context.Context, job jobs.Job) error {
		req, ok := job.Payload.(*dto.GenerateRequest)
		if !ok {
			logr.Sugar().Errorw("discarding solve job with unexpected payload", "job_id", job.ID)
			return nil
		}
		result, err := orchestrator.Generate(ctx, req)
		if err != nil {
			logr.Sugar().Warnw("background solve failed", "job_id", job.ID, "tenant_id", req.TenantID, "error", err)
			return nil
		}
		logr.Sugar().Infow("background solve finished",
			"job_id", job.ID,
			"tenant_id", req.TenantID,
			"schedule_id", result.Schedule.ID,
			"score", result.Schedule.QualityScore,
			"activated", result.Activated,
		)
		return nil
	}, jobs.QueueConfig{Workers: 1, Logger: logr})

	timetableHandler := handler.NewTimetableHandler(orchestrator, scheduleRepo, analyzer, inputRepo, cacheSvc, solves, calendar)
	modificationHandler := handler.NewModificationHandler(modifier)
	constraintHandler := handler.NewConstraintHandler(constraintRepo)
	exportHandler := handler.NewExportHandler(exporter)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT))

	operators := middleware.RequireRoles(models.RoleAdmin, models.RoleOperator)

	timetables := api.Group("/timetables")
	{
		timetables.POST("/generate", operators, middleware.Audit(logr, "generate", "timetable"), timetableHandler.Generate)
		timetables.POST("/generate/async", operators, middleware.Audit(logr, "generate_async", "timetable"), timetableHandler.GenerateAsync)
		timetables.GET("/active", timetableHandler.Active)
		timetables.GET("/versions", timetableHandler.Versions)
		timetables.GET("/:id", timetableHandler.Get)
		timetables.GET("/:id/analysis", timetableHandler.Analyze)
		timetables.DELETE("/:id", operators, middleware.Audit(logr, "archive", "timetable"), timetableHandler.Archive)
	}

	modifications := api.Group("/modifications", operators, middleware.Audit(logr, "modify", "timetable"))
	{
		modifications.POST("/move", modificationHandler.Move)
		modifications.POST("/add", modificationHandler.Add)
		modifications.POST("/remove", modificationHandler.Remove)
		modifications.POST("/fix", modificationHandler.ApplyFix)
	}

	constraints := api.Group("/constraints")
	{
		constraints.GET("", constraintHandler.List)
		constraints.POST("", operators, middleware.Audit(logr, "upsert", "constraint"), constraintHandler.Upsert)
		constraints.DELETE("/:id", operators, middleware.Audit(logr, "delete", "constraint"), constraintHandler.Delete)
	}

	if cfg.Export.Enabled {
		exports := api.Group("/exports")
		exports.GET("/csv", exportHandler.CSV)
		exports.GET("/pdf", exportHandler.PDF)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events.Start(rootCtx)
	defer events.Stop()
	solves.Start(rootCtx)
	defer solves.Stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}
