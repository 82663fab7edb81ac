package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/careslot/scheduling-api/internal/config"
	"github.com/careslot/scheduling-api/internal/email"
	appointmentHandler "github.com/careslot/scheduling-api/internal/handler/appointment"
	"github.com/careslot/scheduling-api/internal/handler/health"
	promhandler "github.com/careslot/scheduling-api/internal/handler/prometheus"
	sessionHandler "github.com/careslot/scheduling-api/internal/handler/session"
	"github.com/careslot/scheduling-api/internal/middleware"
	"github.com/careslot/scheduling-api/internal/repository/cached"
	"github.com/careslot/scheduling-api/internal/repository/postgres"
	"github.com/careslot/scheduling-api/internal/router"
	appointmentService "github.com/careslot/scheduling-api/internal/service/appointment"
	"github.com/careslot/scheduling-api/internal/service/healthrecord"
	"github.com/careslot/scheduling-api/internal/service/notification"
	"github.com/careslot/scheduling-api/internal/service/payment"
	sessionService "github.com/careslot/scheduling-api/internal/service/session"
	"github.com/careslot/scheduling-api/internal/service/slot"
	"github.com/careslot/scheduling-api/pkg/auth"
	"github.com/careslot/scheduling-api/pkg/lock"
	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/messaging"
	messagingredis "github.com/careslot/scheduling-api/pkg/messaging/redis"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	// Database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Redis backs both the slot locks and the session fan-out. Without it
	// the service still runs single-process on an in-memory lock.
	var (
		broker *messagingredis.RedisBroker
		locker lock.Locker
	)
	if cfg.Redis.URL != "" {
		broker, err = messagingredis.NewRedisBroker(messagingredis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, appLogger.Zerolog())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer broker.Close()
		locker = lock.NewRedisLocker(broker.Client(), cfg.SlotLock.TTL)
	} else {
		appLogger.Warn("redis not configured, using in-process slot locks")
		locker = lock.NewKeyMutex()
	}

	// Metrics share one registry with the HTTP-level collectors.
	promH := promhandler.New()
	m := metrics.NewMetrics(promH.Registry(), "scheduling")

	// Repositories
	appointmentRepo := postgres.NewAppointmentRepository(db)
	userRepo := cached.NewUserRepository(
		postgres.NewUserRepository(db), 5*time.Minute, 15*time.Minute)

	// Services
	ledger := slot.NewLedger(appointmentRepo, locker)
	emailSvc := email.NewSMTPService(email.Config{
		Host:     cfg.Notification.SMTPHost,
		Port:     cfg.Notification.SMTPPort,
		Username: cfg.Notification.SMTPUser,
		Password: cfg.Notification.SMTPPass,
		From:     cfg.Notification.From,
	})
	notifSvc := notification.NewService(emailSvc, notification.Config{
		AdminEmail:  cfg.Notification.AdminEmail,
		MaxFailures: 5,
		Cooldown:    time.Minute,
	}, m, appLogger)
	healthSvc := healthrecord.NewHTTPClient(cfg.HealthRecord.BaseURL, 10*time.Second)
	paySvc := payment.NewHTTPClient(cfg.Payment.BaseURL, cfg.Payment.APIKey, 10*time.Second)

	appointmentSvc := appointmentService.NewService(
		appointmentRepo, userRepo, ledger, notifSvc, healthSvc, paySvc, m, appLogger)

	var hubBroker messaging.Broker
	if broker != nil {
		hubBroker = broker
	}
	hub := sessionService.NewHub(appointmentSvc, hubBroker, m, appLogger, cfg.Session.IdleTTL)

	// Middleware and handlers
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)

	var redisClient *redis.Client
	if broker != nil {
		redisClient = broker.Client()
	}
	healthH := health.NewHandler(db, redisClient)
	appointmentH := appointmentHandler.NewHandler(appointmentSvc)
	sessionH := sessionHandler.NewHandler(hub, appLogger)

	r := router.NewRouter(authMiddleware, appointmentH, sessionH, healthH, promH, router.Config{
		RequestTimeout:   middleware.TimeoutConfig{Duration: cfg.Server.RequestTimeout},
		CORS:             corsConfig(cfg),
		RateLimitEnabled: cfg.RateLimit.Enabled,
		RateLimit: middleware.RateLimiterConfig{
			RPS:   cfg.RateLimit.RPS,
			Burst: cfg.RateLimit.Burst,
		},
	})
	r.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.RunReaper(ctx, cfg.Session.ReaperInterval)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}

func corsConfig(cfg *config.Config) middleware.CORSConfig {
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.CORS.AllowedOrigins) > 0 {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	return corsCfg
}
