package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/dispatch"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/reconcile"
)

// runner is implemented by queues that consume from a broker.
type runner interface {
	Run(ctx context.Context) error
}

// Worker processes pipeline jobs and runs the stall sweep
type Worker struct {
	Pipeline          *dispatch.Pipeline
	Queue             queue.Queue
	Sweeper           *reconcile.Sweeper
	ReconcileSchedule string
	Log               zerolog.Logger
}

// Constructor
func NewWorker(p *dispatch.Pipeline, q queue.Queue, sweeper *reconcile.Sweeper, schedule string, log zerolog.Logger) *Worker {
	return &Worker{
		Pipeline:          p,
		Queue:             q,
		Sweeper:           sweeper,
		ReconcileSchedule: schedule,
		Log:               log,
	}
}

// Start subscribes the pipeline to its topics and blocks until ctx is
// done or the broker connection fails.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.Pipeline.Register(w.Queue); err != nil {
		return err
	}

	if w.Sweeper != nil && w.ReconcileSchedule != "" {
		if err := w.Sweeper.Start(ctx, w.ReconcileSchedule); err != nil {
			return err
		}
		defer w.Sweeper.Stop()
	}

	w.Log.Info().Msg("worker started")
	if r, ok := w.Queue.(runner); ok {
		return r.Run(ctx)
	}
	<-ctx.Done()
	return nil
}
