package worker

import (
	"context"
	"time"

	"github.com/careslot/scheduling-api/pkg/logger"
	"github.com/careslot/scheduling-api/pkg/metrics"
)

// Expirer is the slice of the appointment service the sweeper drives.
type Expirer interface {
	ExpireOverduePending(ctx context.Context, now time.Time) (int, error)
}

// Sweeper periodically corrects state drift caused by elapsed time: pending
// appointments whose date passed without action are durably demoted.
type Sweeper struct {
	engine   Expirer
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *logger.Logger
}

func NewSweeper(engine Expirer, interval time.Duration, m *metrics.Metrics, log *logger.Logger) *Sweeper {
	return &Sweeper{
		engine:   engine,
		interval: interval,
		metrics:  m,
		logger:   log,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	s.metrics.SweeperRuns.Inc()

	corrected, err := s.engine.ExpireOverduePending(ctx, time.Now())
	if err != nil {
		s.logger.Error(err, "reconciliation sweep failed")
		return
	}
	if corrected > 0 {
		s.logger.Info("reconciliation sweep corrected overdue appointments", "count", corrected)
	}
}
