// Package reconcile re-triggers completion checks for campaigns that have
// been in progress for too long. A chunk that ran out of retries never
// publishes its completion check, so without the sweep such a campaign
// stays in progress forever.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/dispatch"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

const DefaultStallAfter = 15 * time.Minute

type Sweeper struct {
	Campaigns  repository.CampaignRepositoryInterface
	Logs       repository.DeliveryLogRepositoryInterface
	Queue      queue.Queue
	StallAfter time.Duration
	Log        zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// Sweep publishes a completion check for every campaign dispatched more
// than StallAfter ago that is still in progress. It returns how many
// checks were queued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stallAfter := s.StallAfter
	if stallAfter <= 0 {
		stallAfter = DefaultStallAfter
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	stalled, err := s.Campaigns.ListStalled(ctx, now().Add(-stallAfter))
	if err != nil {
		return 0, fmt.Errorf("list stalled campaigns: %w", err)
	}

	queued := 0
	for _, c := range stalled {
		processed, err := s.Logs.CountByCampaign(ctx, c.ID)
		if err != nil {
			s.Log.Error().Err(err).Int("campaign_id", c.ID).Msg("count delivery logs")
			continue
		}
		ev := s.Log.Warn().
			Int("campaign_id", c.ID).
			Int("processed", processed).
			Int("total", c.RecipientTotal)
		if c.DispatchedAt != nil {
			ev = ev.Time("dispatched_at", *c.DispatchedAt)
		}
		ev.Msg("campaign stalled, re-checking completion")

		if err := s.Queue.Publish(ctx, dispatch.TopicCheckCompletion, dispatch.CompletionJob{CampaignID: c.ID}); err != nil {
			return queued, fmt.Errorf("queue completion check for campaign %d: %w", c.ID, err)
		}
		queued++
	}
	return queued, nil
}

// Start runs Sweep on the given cron schedule until ctx is done or Stop
// is called. Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	logger := cron.PrintfLogger(&s.Log)
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(schedule, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.Sweep(ctx); err != nil {
			s.Log.Error().Err(err).Msg("stall sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	c.Start()
	s.c = c
	s.Log.Info().Str("schedule", schedule).Dur("stall_after", s.StallAfter).Msg("stall sweep started")
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}
