package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/kelseyhightower/envconfig"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/careslot/scheduling-api/internal/repository/postgres"
	appointmentService "github.com/careslot/scheduling-api/internal/service/appointment"
	"github.com/careslot/scheduling-api/internal/worker"
	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

// Config is environment-only: the sweeper runs as a sidecar or cron-style
// deployment where a config file is more ceremony than it is worth.
type Config struct {
	DatabaseURL string        `envconfig:"DATABASE_URL" required:"true"`
	Interval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	MetricsPort int           `envconfig:"METRICS_PORT" default:"9091"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("sweeper", &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load sweeper configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, "scheduling_sweeper")

	appointmentRepo := postgres.NewAppointmentRepository(db)

	// The sweeper only drives the expiry path, so the booking-time
	// collaborators are left unset.
	engine := appointmentService.NewService(
		appointmentRepo, nil, nil, nil, nil, nil, m, appLogger)

	sweeper := worker.NewSweeper(engine, cfg.Interval, m, appLogger)

	serveMetrics(cfg.MetricsPort, registry, db, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		appLogger.Info("shutting down sweeper")
		cancel()
	}()

	appLogger.Info("sweeper started", "interval", cfg.Interval.String())
	sweeper.Start(ctx)
}

func serveMetrics(port int, registry *prometheus.Registry, db *sqlx.DB, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
			appLogger.Error(err, "metrics server failed")
			os.Exit(1)
		}
	}()
}
