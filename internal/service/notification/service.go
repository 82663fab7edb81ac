package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/careslot/scheduling-api/internal/email"
	"github.com/careslot/scheduling-api/internal/model"
	"github.com/careslot/scheduling-api/pkg/circuitbreaker"
	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

// Service dispatches best-effort admin notifications. Callers never treat a
// dispatch failure as fatal; under repeated SMTP failures the circuit breaker
// skips sends until the cooldown elapses.
type Service interface {
	NotifyAdmin(ctx context.Context, event string, apt *model.Appointment) error
}

type service struct {
	emailSvc   email.Service
	adminEmail string
	cb         *circuitbreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *logger.Logger
}

type Config struct {
	AdminEmail  string
	MaxFailures int
	Cooldown    time.Duration
}

func NewService(emailSvc email.Service, cfg Config, m *metrics.Metrics, log *logger.Logger) Service {
	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		Name:        "admin-notifications",
		MaxFailures: cfg.MaxFailures,
		Cooldown:    cfg.Cooldown,
	})
	return &service{
		emailSvc:   emailSvc,
		adminEmail: cfg.AdminEmail,
		cb:         cb,
		metrics:    m,
		logger:     log,
	}
}

func (s *service) NotifyAdmin(ctx context.Context, event string, apt *model.Appointment) error {
	subject := fmt.Sprintf("Appointment %s: %s", event, apt.ID)
	body := fmt.Sprintf(
		"Appointment %s (%s) for practitioner %s on %s at %s.",
		apt.ID, event, apt.PractitionerID, apt.Date.Format("2006-01-02"), apt.TimeLabel,
	)

	err := s.cb.Execute(func() error {
		return s.emailSvc.Send(ctx, s.adminEmail, subject, body)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			s.metrics.NotificationsSkipped.Inc()
			s.logger.Debug("admin notification skipped, breaker open", "event", event)
			return nil
		}
		return fmt.Errorf("failed to notify admin: %w", err)
	}
	return nil
}
