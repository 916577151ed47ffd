package sweeper

import (
	"context"
	"time"

	"github.com/hoanghamhok/ticket-booking/internal/observability"
)

// Engine is the release entry point the sweeper drives.
type Engine interface {
	ReleaseExpired(ctx context.Context) (bookingsExpired, ticketsReleased int, err error)
}

// Sweeper wakes on a fixed interval and reclaims tickets from holds past
// their deadline. Expiry is data-driven (the deadline lives on the rows),
// so a missed or late pass only delays reclamation, never loses it.
type Sweeper struct {
	engine   Engine
	logger   observability.Logger
	interval time.Duration
}

func New(engine Engine, logger observability.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{engine: engine, logger: logger, interval: interval}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	start := time.Now()
	bookingsExpired, ticketsReleased, err := s.engine.ReleaseExpired(ctx)
	observability.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.WithError(err).Error("sweep failed")
		return
	}
	if bookingsExpired > 0 {
		s.logger.WithField("bookings_expired", bookingsExpired).
			WithField("tickets_released", ticketsReleased).
			Info("released expired holds")
	}
}
