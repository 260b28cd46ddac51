package dispatch

import (
	"context"
	"fmt"

	"github.com/unclebandit/mailcampaign-backend/internal/queue"
)

const (
	TopicDispatch        = "campaign.dispatch"
	TopicSendChunk       = "campaign.send_chunk"
	TopicCheckCompletion = "campaign.check_completion"
	TopicReport          = "campaign.report"
)

type DispatchJob struct {
	CampaignID int `json:"campaign_id"`
}

type ChunkJob struct {
	CampaignID   int   `json:"campaign_id"`
	Chunk        int   `json:"chunk"`
	Chunks       int   `json:"chunks"`
	RecipientIDs []int `json:"recipient_ids"`
}

type CompletionJob struct {
	CampaignID int `json:"campaign_id"`
}

type ReportJob struct {
	CampaignID int `json:"campaign_id"`
}

// Register subscribes the pipeline stages to their topics on q.
func (p *Pipeline) Register(q queue.Queue) error {
	subs := map[string]queue.Handler{
		TopicDispatch: func(ctx context.Context, job queue.Job) error {
			var j DispatchJob
			if err := job.Decode(&j); err != nil {
				return err
			}
			return p.Dispatcher.startDispatch(ctx, j.CampaignID, job.Attempt > 1)
		},
		TopicSendChunk: func(ctx context.Context, job queue.Job) error {
			var j ChunkJob
			if err := job.Decode(&j); err != nil {
				return err
			}
			return p.Worker.processChunk(ctx, j, job.Attempt)
		},
		TopicCheckCompletion: func(ctx context.Context, job queue.Job) error {
			var j CompletionJob
			if err := job.Decode(&j); err != nil {
				return err
			}
			_, err := p.Monitor.CheckCompletion(ctx, j.CampaignID)
			return err
		},
		TopicReport: func(ctx context.Context, job queue.Job) error {
			var j ReportJob
			if err := job.Decode(&j); err != nil {
				return err
			}
			return p.Reports.GenerateReport(ctx, j.CampaignID)
		},
	}
	for _, topic := range []string{TopicDispatch, TopicSendChunk, TopicCheckCompletion, TopicReport} {
		if err := q.Subscribe(topic, subs[topic]); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}
