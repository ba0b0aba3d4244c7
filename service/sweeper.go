package service

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
)

// DefaultSweepInterval is how often expiry is enforced
const DefaultSweepInterval = 5 * time.Second

// Sweeper periodically runs AuthService.Sweep. Failures are logged and
// retried on the next tick.
type Sweeper struct {
	auth     *AuthService
	interval time.Duration
	log      watermill.LoggerAdapter
}

// NewSweeper creates a sweeper; a non-positive interval uses DefaultSweepInterval
func NewSweeper(auth *AuthService, interval time.Duration, logger watermill.LoggerAdapter) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Sweeper{
		auth:     auth,
		interval: interval,
		log:      logger.With(watermill.LogFields{"component": "sweeper"}),
	}
}

// Run blocks until ctx is done
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.auth.Sweep(ctx); err != nil {
				s.log.Error("Sweep failed", err, nil)
			}
		}
	}
}
