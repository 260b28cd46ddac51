package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/mailer"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
)

// DeadLetterNotifier surfaces jobs that ran out of retries. For a chunk job
// that means its recipients stay unprocessed and the campaign will stall.
type DeadLetterNotifier struct {
	Mailer        mailer.Transport
	OperatorEmail string
	Log           zerolog.Logger
}

func (n *DeadLetterNotifier) Handle(ctx context.Context, job queue.Job, jobErr error) {
	n.Log.Error().
		Err(jobErr).
		Str("topic", job.Topic).
		Str("job_id", job.ID).
		Int("attempts", job.Attempt).
		RawJSON("payload", job.Payload).
		Msg("job permanently failed")

	if n.OperatorEmail == "" || n.Mailer == nil {
		return
	}

	// The job context may already be canceled; the alert should still go out.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	body := fmt.Sprintf("A %s job failed permanently after %d attempt(s).\n\nJob: %s\nError: %v\nPayload: %s\n",
		job.Topic, job.Attempt, job.ID, jobErr, job.Payload)
	if job.Topic == TopicSendChunk {
		body += "\nThe recipients in this chunk were not processed; the campaign will not complete on its own.\n"
	}
	if err := n.Mailer.Send(sendCtx, mailer.Message{
		To:      n.OperatorEmail,
		Subject: "Campaign job failed: " + job.Topic,
		Body:    body,
	}); err != nil {
		n.Log.Error().Err(err).Str("job_id", job.ID).Msg("failed to notify operator")
	}
}
