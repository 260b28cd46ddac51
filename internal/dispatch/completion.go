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

// CompletionMonitor finalizes a campaign once every snapshot recipient has
// a delivery row. Safe to call any number of times, concurrently.
type CompletionMonitor struct {
	Campaigns repository.CampaignRepositoryInterface
	Logs      repository.DeliveryLogRepositoryInterface
	Queue     queue.Queue
	Reports   *ReportGenerator
	Log       zerolog.Logger
}

// CheckCompletion reports whether this call moved the campaign to
// completed. Only that call queues the report.
func (m *CompletionMonitor) CheckCompletion(ctx context.Context, campaignID int) (bool, error) {
	log := m.Log.With().Int("campaign_id", campaignID).Logger()

	campaign, err := m.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if appErrors.IsCampaignNotFound(err) {
			return false, queue.Permanent(err)
		}
		return false, fmt.Errorf("load campaign %d: %w", campaignID, err)
	}
	if campaign.Status != model.CampaignInProgress {
		return false, nil
	}

	processed, err := m.Logs.CountByCampaign(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("count delivery logs: %w", err)
	}
	total := campaign.RecipientTotal
	if total > 0 && processed < total {
		log.Debug().Int("processed", processed).Int("total", total).Msg("campaign still in progress")
		return false, nil
	}

	// Two chunks can both see processed >= total; the conditional write
	// lets exactly one of them through.
	completed, err := m.Campaigns.MarkCompleted(ctx, campaignID)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	if !completed {
		return false, nil
	}
	log.Info().Int("processed", processed).Int("total", total).Msg("campaign completed")

	if err := m.Queue.Publish(ctx, TopicReport, ReportJob{CampaignID: campaignID}); err != nil {
		// The transition is already committed, so a retry of this job
		// would never get here again. Build the report inline instead.
		log.Error().Err(err).Msg("failed to queue report, generating inline")
		if m.Reports != nil {
			if err := m.Reports.GenerateReport(ctx, campaignID); err != nil {
				log.Error().Err(err).Msg("inline report failed")
			}
		}
	}
	return true, nil
}
