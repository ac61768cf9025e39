package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/college-events-api/api/swagger"
	"github.com/noah-isme/college-events-api/internal/handler"
	"github.com/noah-isme/college-events-api/internal/middleware"
	"github.com/noah-isme/college-events-api/internal/models"
	"github.com/noah-isme/college-events-api/internal/repository"
	"github.com/noah-isme/college-events-api/internal/service"
	"github.com/noah-isme/college-events-api/pkg/cache"
	"github.com/noah-isme/college-events-api/pkg/config"
	"github.com/noah-isme/college-events-api/pkg/database"
	"github.com/noah-isme/college-events-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/college-events-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/college-events-api/pkg/middleware/requestid"
)

// @title College Events API
// @version 1.0.0
// @description Multi-tenant event scheduling, staffing and account approval for colleges.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

type handlers struct {
	tokens   middleware.TokenValidator
	auth     *handler.AuthHandler
	events   *handler.EventHandler
	staff    *handler.StaffHandler
	approval *handler.ApprovalHandler
	metrics  *handler.MetricsHandler
}

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Listings fall back to the database when the cache is unreachable.
		logr.Warn("redis unavailable, event cache disabled", zap.Error(err))
	}
	var cacheSvc *service.CacheService
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, cleanup := buildHandlers(cfg, db, cacheSvc, metrics, logr)
	if cleanup != nil {
		if err := cleanup.Start(ctx); err != nil {
			logr.Fatal("failed to start registration cleanup", zap.Error(err))
		}
		defer cleanup.Stop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, callerFields))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(metrics))

	registerRoutes(r, cfg, h)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// callerFields tags access logs with the authenticated tenant.
func callerFields(c *gin.Context) []zap.Field {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil
	}
	return []zap.Field{zap.String("user_id", claims.UserID), zap.String("college_id", claims.CollegeID)}
}

func authConfig(cfg *config.Config) service.AuthConfig {
	return service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		Issuer:             cfg.JWT.Issuer,
		VerificationExpiry: cfg.JWT.VerificationExpiration,
	}
}

// buildHandlers wires repositories into services and services into handlers.
// The cleanup service is nil unless enabled.
func buildHandlers(cfg *config.Config, db *sqlx.DB, cacheSvc *service.CacheService, metrics *service.MetricsService, logr *zap.Logger) (*handlers, *service.RegistrationCleanupService) {
	validate := validator.New()
	tx := database.NewTransactor(db, cfg.Database,
		database.WithRetryHook(metrics.RecordTxRetry),
		database.WithLogger(logr),
	)

	userRepo := repository.NewUserRepository(db)
	collegeRepo := repository.NewCollegeRepository(db)
	forumRepo := repository.NewForumRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	eventRepo := repository.NewEventRepository(db)
	staffRepo := repository.NewStaffAssignmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	opts := service.EventServiceOptions{
		CacheTTL: cfg.Cache.TTL,
		Audit:    auditRepo,
		Metrics:  metrics,
	}
	if cacheSvc != nil {
		opts.Cache = cacheSvc
	}

	authSvc := service.NewAuthService(tx, userRepo, collegeRepo, forumRepo, service.NewLogVerificationSender(logr), validate, logr, auditRepo, authConfig(cfg))
	eventSvc := service.NewEventService(tx, eventRepo, venueRepo, forumRepo, staffRepo, userRepo, validate, logr, opts)
	staffSvc := service.NewStaffAssignmentService(tx, eventRepo, userRepo, staffRepo, validate, logr, cfg.Scheduling, auditRepo, metrics)
	approvalSvc := service.NewApprovalService(tx, userRepo, forumRepo, validate, logr, auditRepo, metrics)

	var cleanup *service.RegistrationCleanupService
	if cfg.Cleanup.Enabled {
		cleanup = service.NewRegistrationCleanupService(tx, userRepo, staffRepo, forumRepo, cfg.Cleanup, logr, auditRepo, metrics)
	}

	return &handlers{
		tokens:   authSvc,
		auth:     handler.NewAuthHandler(authSvc),
		events:   handler.NewEventHandler(eventSvc),
		staff:    handler.NewStaffHandler(staffSvc),
		approval: handler.NewApprovalHandler(approvalSvc),
		metrics:  handler.NewMetricsHandler(metrics, db),
	}, cleanup
}

func registerRoutes(r *gin.Engine, cfg *config.Config, h *handlers) {
	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", h.auth.Register)
	auth.POST("/verify-email", h.auth.VerifyEmail)
	auth.POST("/login", h.auth.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(h.tokens))
	secured.GET("/auth/me", h.auth.Me)

	events := secured.Group("/events")
	events.GET("", middleware.RequireCapability(models.CapViewEvents), h.events.List)
	events.GET("/:id", middleware.RequireCapability(models.CapViewEvents), h.events.Get)
	events.POST("", middleware.RequireCapability(models.CapCreateEvent), h.events.Create)
	events.PATCH("/:id", middleware.RequireCapability(models.CapUpdateEvent), h.events.Update)
	events.DELETE("/:id", middleware.RequireCapability(models.CapManageOwnEvent, models.CapManageAnyEvent), h.events.Delete)
	events.POST("/:id/staff", middleware.RequireCapability(models.CapRequestStaff), h.staff.Request)
	events.DELETE("/:id/staff/:assignmentId", middleware.RequireCapability(models.CapManageOwnEvent, models.CapManageAnyEvent), h.events.RemoveStaff)

	staff := secured.Group("/staff/requests")
	staff.Use(middleware.RequireCapability(models.CapRespondStaff))
	staff.GET("/pending", h.staff.Pending)
	staff.GET("/accepted", h.staff.Accepted)
	staff.GET("/accepted/export", h.staff.ExportAccepted)
	staff.POST("/:id/accept", h.staff.Accept)
	staff.POST("/:id/reject", h.staff.Reject)
	staff.POST("/:id/cancel", h.staff.Cancel)

	approvals := secured.Group("/approvals")
	approvals.POST("/teachers/:id/approve", middleware.RequireCapability(models.CapDecideTeacher), h.approval.ApproveTeacher)
	approvals.POST("/teachers/:id/reject", middleware.RequireCapability(models.CapDecideTeacher), h.approval.RejectTeacher)
	forumHeads := approvals.Group("/forum-heads")
	forumHeads.Use(middleware.RequireCapability(models.CapDecideAnyForumHead, models.CapDecidePeerForumHead))
	forumHeads.POST("/:id/approve", h.approval.ApproveForumHead)
	forumHeads.POST("/:id/reject", h.approval.RejectForumHead)
}
