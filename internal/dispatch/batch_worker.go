package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/mailer"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

const reasonRecipientUnsubscribed = "recipient unsubscribed before delivery"

func missingRecipientReason(id int) string {
	return fmt.Sprintf("recipient %d no longer exists", id)
}

// BatchWorker executes one chunk job.
type BatchWorker struct {
	Campaigns   repository.CampaignRepositoryInterface
	Recipients  repository.RecipientRepositoryInterface
	Logs        repository.DeliveryLogRepositoryInterface
	Queue       queue.Queue
	Mailer      mailer.Transport
	Concurrency int
	Log         zerolog.Logger
}

// ProcessChunk sends the campaign to recipientIDs, appends one delivery log
// row per recipient and triggers a completion check. Send failures are
// recorded as failed rows; only infrastructure errors are returned.
func (w *BatchWorker) ProcessChunk(ctx context.Context, campaignID int, recipientIDs []int) error {
	return w.processChunk(ctx, ChunkJob{CampaignID: campaignID, Chunk: 1, Chunks: 1, RecipientIDs: recipientIDs}, 1)
}

func (w *BatchWorker) processChunk(ctx context.Context, job ChunkJob, attempt int) error {
	log := w.Log.With().
		Int("campaign_id", job.CampaignID).
		Int("chunk", job.Chunk).
		Int("chunks", job.Chunks).
		Int("attempt", attempt).
		Logger()

	campaign, err := w.Campaigns.GetByID(ctx, job.CampaignID)
	if err != nil {
		if appErrors.IsCampaignNotFound(err) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("load campaign %d: %w", job.CampaignID, err)
	}

	// A redelivered chunk must not send twice to anyone already logged.
	logged, err := w.Logs.LoggedRecipientIDs(ctx, job.CampaignID, job.RecipientIDs)
	if err != nil {
		return fmt.Errorf("load logged recipients: %w", err)
	}
	pending := make([]int, 0, len(job.RecipientIDs))
	for _, id := range job.RecipientIDs {
		if !logged[id] {
			pending = append(pending, id)
		}
	}

	recipients, err := w.Recipients.GetByIDs(ctx, pending)
	if err != nil {
		return fmt.Errorf("load recipients: %w", err)
	}
	byID := make(map[int]*model.Recipient, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r
	}

	rows := make([]*model.DeliveryLog, 0, len(pending))
	var sends []*model.Recipient
	for _, id := range pending {
		r, ok := byID[id]
		if !ok {
			rows = append(rows, &model.DeliveryLog{
				CampaignID:          campaign.ID,
				SnapshotRecipientID: id,
				Status:              model.DeliveryFailed,
				FailureReason:       missingRecipientReason(id),
			})
			continue
		}
		sends = append(sends, r)
	}

	limit := w.Concurrency
	if limit < 1 {
		limit = 1
	}
	delivered := make([]*model.DeliveryLog, len(sends))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, r := range sends {
		g.Go(func() error {
			delivered[i] = w.deliver(ctx, campaign, r)
			return nil
		})
	}
	_ = g.Wait()
	rows = append(rows, delivered...)

	// Sends cut short by shutdown are not real failures; let the retry redo them.
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	var sent, failed int
	for _, row := range rows {
		row.Attempt = attempt
		row.ProcessedAt = now
		if row.Status == model.DeliverySent {
			sent++
		} else {
			failed++
		}
	}

	if err := w.Logs.BulkInsert(ctx, rows); err != nil {
		return fmt.Errorf("persist delivery logs: %w", err)
	}

	log.Info().
		Int("sent", sent).
		Int("failed", failed).
		Int("skipped", len(job.RecipientIDs)-len(rows)).
		Msg("chunk processed")

	if err := w.Queue.Publish(ctx, TopicCheckCompletion, CompletionJob{CampaignID: job.CampaignID}); err != nil {
		return fmt.Errorf("trigger completion check: %w", err)
	}
	return nil
}

func (w *BatchWorker) deliver(ctx context.Context, campaign *model.Campaign, r *model.Recipient) *model.DeliveryLog {
	id := r.ID
	row := &model.DeliveryLog{
		CampaignID:          campaign.ID,
		RecipientID:         &id,
		SnapshotRecipientID: id,
		RecipientEmail:      r.Email,
	}
	if r.Status != model.Subscribed {
		row.Status = model.DeliveryFailed
		row.FailureReason = reasonRecipientUnsubscribed
		return row
	}

	err := w.Mailer.Send(ctx, mailer.Message{
		To:      r.Email,
		Subject: campaign.Subject,
		Body:    campaign.Body,
		HTML:    true,
	})
	if err != nil {
		w.Log.Debug().Err(err).Int("campaign_id", campaign.ID).Str("to", r.Email).Msg("delivery failed")
		row.Status = model.DeliveryFailed
		row.FailureReason = err.Error()
		return row
	}
	row.Status = model.DeliverySent
	return row
}
