// Package lifecycle runs the recurring role-lifecycle job.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agorabot/agora/internal/core"
	"github.com/agorabot/agora/pkg/utils"
)

// Worker triggers the daily sweep, anchored to local midnight. One
// catch-up sweep runs immediately at startup so downtime spanning any
// number of periods converges before the bot serves events.
type Worker struct {
	service *core.Service
	logger  *zap.Logger

	// Now is the scheduling clock. Tests override it.
	Now func() time.Time
}

// New creates a lifecycle worker over the core service.
func New(service *core.Service, logger *zap.Logger) *Worker {
	return &Worker{
		service: service,
		logger:  logger.Named("lifecycle"),
		Now:     time.Now,
	}
}

// Start begins the worker's main loop. It blocks until the context is
// canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Lifecycle worker started")

	// Catch-up pass for time spent offline.
	w.service.DailySweep(ctx)

	for {
		next := utils.NextMidnight(w.Now())
		w.logger.Info("Next sweep scheduled", zap.Time("at", next))

		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("Lifecycle worker stopped")

			return ctx.Err()
		case <-timer.C:
			w.service.DailySweep(ctx)
		}
	}
}
