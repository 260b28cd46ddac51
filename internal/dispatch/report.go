package dispatch

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/mailer"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

var reportHeader = []string{"recipient_email", "status", "failure_reason", "processed_at"}

// ReportSummary counts the rows written into one report.
type ReportSummary struct {
	Rows   int
	Sent   int
	Failed int
}

// ReportGenerator builds the delivery CSV of a campaign and mails it to
// the operator, when one is configured.
type ReportGenerator struct {
	Campaigns     repository.CampaignRepositoryInterface
	Logs          repository.DeliveryLogRepositoryInterface
	Mailer        mailer.Transport
	OperatorEmail string
	// TempDir holds the artifact while it is mailed; empty means os.TempDir.
	TempDir string
	Log     zerolog.Logger
}

// WriteReport streams every delivery row of the campaign into w as CSV.
func (g *ReportGenerator) WriteReport(ctx context.Context, campaignID int, w io.Writer) (ReportSummary, error) {
	var summary ReportSummary
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return summary, err
	}
	err := g.Logs.StreamByCampaign(ctx, campaignID, func(l *model.DeliveryLog) error {
		summary.Rows++
		if l.Status == model.DeliverySent {
			summary.Sent++
		} else {
			summary.Failed++
		}
		return cw.Write([]string{
			l.RecipientEmail,
			string(l.Status),
			l.FailureReason,
			l.ProcessedAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return summary, fmt.Errorf("stream delivery logs: %w", err)
	}
	cw.Flush()
	return summary, cw.Error()
}

// GenerateReport writes the report to a temporary file and mails it. A
// failed report mail is logged and not retried.
func (g *ReportGenerator) GenerateReport(ctx context.Context, campaignID int) error {
	log := g.Log.With().Int("campaign_id", campaignID).Logger()

	campaign, err := g.Campaigns.GetByID(ctx, campaignID)
	if err != nil {
		if appErrors.IsCampaignNotFound(err) {
			return queue.Permanent(err)
		}
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}

	f, err := os.CreateTemp(g.TempDir, "campaign-"+strconv.Itoa(campaignID)+"-report-*.csv")
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}()

	summary, err := g.WriteReport(ctx, campaignID, f)
	if err != nil {
		return err
	}
	log = log.With().Int("rows", summary.Rows).Int("sent", summary.Sent).Int("failed", summary.Failed).Logger()

	if g.OperatorEmail == "" {
		log.Info().Msg("report generated, no operator address configured")
		return nil
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind report file: %w", err)
	}

	err = g.Mailer.Send(ctx, mailer.Message{
		To:      g.OperatorEmail,
		Subject: "Campaign Report: " + campaign.Name,
		Body: fmt.Sprintf("Attached campaign report.\n\nTotal: %d\nSent: %d\nFailed: %d\n",
			summary.Rows, summary.Sent, summary.Failed),
		Attachments: []mailer.Attachment{{
			Filename:    campaign.Name + "-report.csv",
			ContentType: "text/csv",
			Content:     f,
		}},
	})
	if err != nil {
		log.Error().Err(err).Str("to", g.OperatorEmail).Msg("report delivery failed")
		return nil
	}
	log.Info().Str("to", g.OperatorEmail).Msg("report delivered")
	return nil
}
