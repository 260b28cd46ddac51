package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

// Dispatcher snapshots the subscribed recipients of a campaign and fans
// them out as chunk jobs. It never waits for the chunks.
type Dispatcher struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Logs       repository.DeliveryLogRepositoryInterface
	Queue      queue.Queue
	ChunkSize  int
	Log        zerolog.Logger
}

// StartDispatch begins sending a Draft or Scheduled campaign. Calling it
// for a campaign that already started is a no-op.
func (d *Dispatcher) StartDispatch(ctx context.Context, campaignID int) error {
	return d.startDispatch(ctx, campaignID, false)
}

// startDispatch with resume set re-emits the chunks of a campaign this job
// already moved to in_progress on an earlier attempt. The audience is the
// snapshot frozen by that attempt, minus every recipient already logged.
func (d *Dispatcher) startDispatch(ctx context.Context, campaignID int, resume bool) error {
	log := d.Log.With().Int("campaign_id", campaignID).Logger()

	campaign, err := d.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if appErrors.IsCampaignNotFound(err) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}

	if resume && campaign.Status == model.CampaignInProgress {
		return d.resumeDispatch(ctx, log, campaignID)
	}
	if !campaign.Status.Sendable() {
		log.Info().Str("status", string(campaign.Status)).Msg("campaign already dispatched, skipping")
		return nil
	}

	ids, err := d.Recipients.ListSubscribedIDs(ctx)
	if err != nil {
		return fmt.Errorf("snapshot recipients: %w", err)
	}

	started, err := d.Campaigns.BeginDispatch(ctx, campaignID, ids)
	if err != nil {
		return fmt.Errorf("begin dispatch: %w", err)
	}
	if !started {
		log.Info().Msg("campaign dispatched concurrently, skipping")
		return nil
	}

	if len(ids) == 0 {
		if _, err := d.Campaigns.MarkCompleted(ctx, campaignID); err != nil {
			return fmt.Errorf("complete empty campaign: %w", err)
		}
		log.Info().Msg("no subscribed recipients, campaign completed")
		return nil
	}

	chunks, err := d.publishChunks(ctx, campaignID, ids)
	if err != nil {
		return err
	}
	log.Info().
		Int("recipients", len(ids)).
		Int("chunks", chunks).
		Int("chunk_size", d.ChunkSize).
		Msg("campaign dispatched")
	return nil
}

func (d *Dispatcher) resumeDispatch(ctx context.Context, log zerolog.Logger, campaignID int) error {
	snapshot, err := d.Campaigns.SnapshotIDs(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	logged, err := d.Logs.LoggedRecipientIDs(ctx, campaignID, snapshot)
	if err != nil {
		return fmt.Errorf("load logged recipients: %w", err)
	}
	pending := make([]int, 0, len(snapshot)-len(logged))
	for _, id := range snapshot {
		if !logged[id] {
			pending = append(pending, id)
		}
	}

	if len(pending) == 0 {
		// Every chunk landed; only the completion check may be missing.
		if err := d.Queue.Publish(ctx, TopicCheckCompletion, CompletionJob{CampaignID: campaignID}); err != nil {
			return fmt.Errorf("trigger completion check: %w", err)
		}
		log.Info().Int("recipients", len(snapshot)).Msg("nothing left to resume")
		return nil
	}

	chunks, err := d.publishChunks(ctx, campaignID, pending)
	if err != nil {
		return err
	}
	log.Info().
		Int("recipients", len(snapshot)).
		Int("pending", len(pending)).
		Int("chunks", chunks).
		Msg("campaign dispatch resumed")
	return nil
}

func (d *Dispatcher) publishChunks(ctx context.Context, campaignID int, ids []int) (int, error) {
	chunks := Partition(ids, d.ChunkSize)
	for i, chunk := range chunks {
		job := ChunkJob{CampaignID: campaignID, Chunk: i + 1, Chunks: len(chunks), RecipientIDs: chunk}
		if err := d.Queue.Publish(ctx, TopicSendChunk, job); err != nil {
			return 0, fmt.Errorf("publish chunk %d/%d: %w", i+1, len(chunks), err)
		}
	}
	return len(chunks), nil
}
