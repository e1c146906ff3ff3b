package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/board-api/api/swagger"
	"github.com/noah-isme/board-api/internal/handler"
	internalmiddleware "github.com/noah-isme/board-api/internal/middleware"
	"github.com/noah-isme/board-api/internal/repository"
	"github.com/noah-isme/board-api/internal/service"
	"github.com/noah-isme/board-api/pkg/cache"
	"github.com/noah-isme/board-api/pkg/config"
	"github.com/noah-isme/board-api/pkg/database"
	"github.com/noah-isme/board-api/pkg/jobs"
	"github.com/noah-isme/board-api/pkg/logger"
	"github.com/noah-isme/board-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/board-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/board-api/pkg/middleware/requestid"
	"github.com/noah-isme/board-api/pkg/security"
)

// @title Board API
// @version 1.0.0
// @description Accounts, token sessions and email verification
// @BasePath /api
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db); err != nil {
			return err
		}
		logr.Info("database migrations applied")
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db).WithObserver(metricsSvc)
	challengeRepo := repository.NewChallengeRepository(redisClient, cfg.Challenge.KeyPrefix)

	tokens, err := service.NewTokenService(service.TokenConfig{
		Secret:     cfg.JWT.Secret,
		Issuer:     cfg.JWT.Issuer,
		AccessTTL:  cfg.JWT.Expiration,
		RefreshTTL: cfg.JWT.RefreshExpiration,
	})
	if err != nil {
		return err
	}

	digest, err := security.NewKeyedDigest(cfg.Challenge.Secret)
	if err != nil {
		return err
	}

	dispatcher := mail.NewDispatcher(mail.New(cfg.Mail, logr), jobs.QueueConfig{
		Workers:    cfg.Mail.Workers,
		MaxRetries: cfg.Mail.Retries,
		RetryDelay: cfg.Mail.RetryDelay,
		JobTimeout: 30 * time.Second,
		Logger:     logr,
	})
	dispatcher.Start(context.Background())
	defer dispatcher.Stop()

	hasher := service.BcryptHasher{}
	credentials := service.NewCredentialService(userRepo, hasher)
	authSvc := service.NewAuthService(userRepo, credentials, tokens, validate, logr).WithObserver(metricsSvc)
	userSvc := service.NewUserService(userRepo, hasher, authSvc, validate, logr)
	challengeSvc := service.NewChallengeService(challengeRepo, digest, dispatcher, cfg.Challenge.TTL, validate, logr).WithObserver(metricsSvc)

	var limiter *internalmiddleware.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = internalmiddleware.NewRateLimiter(cfg.RateLimit, logr, metricsSvc)
		defer limiter.Stop()
	}

	metricsHandler := handler.NewMetricsHandler(metricsSvc, map[string]handler.Pinger{
		"postgres": db.PingContext,
		"redis":    func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	handler.Routes{
		Auth:          handler.NewAuthHandler(authSvc, userSvc),
		Challenges:    handler.NewChallengeHandler(challengeSvc, userSvc),
		Users:         handler.NewUserHandler(userSvc),
		Authenticator: authSvc,
		Limiter:       limiter,
		Audit:         userRepo,
		Logger:        logr,
	}.Register(r.Group(cfg.APIPrefix))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
