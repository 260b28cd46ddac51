package dispatch

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcampaign-backend/internal/model"
)

var processedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func seedReportRows(t *testing.T, s *fakeStore) {
	t.Helper()
	s.addCampaign(model.Campaign{ID: 1, Name: "Spring", Status: model.CampaignCompleted, RecipientTotal: 3})
	one, two := 1, 2
	rows := []*model.DeliveryLog{
		{CampaignID: 1, RecipientID: &one, SnapshotRecipientID: 1, RecipientEmail: "a@example.com", Status: model.DeliverySent, ProcessedAt: processedAt},
		{CampaignID: 1, RecipientID: &two, SnapshotRecipientID: 2, RecipientEmail: "b@example.com", Status: model.DeliverySent, ProcessedAt: processedAt},
		// recipient row since deleted
		{CampaignID: 1, SnapshotRecipientID: 3, RecipientEmail: "c@example.com", Status: model.DeliveryFailed, FailureReason: "timeout", ProcessedAt: processedAt},
	}
	require.NoError(t, fakeLogs{s}.BulkInsert(context.Background(), rows))
}

func TestWriteReport(t *testing.T) {
	h := newHarness(Config{})
	seedReportRows(t, h.store)

	var buf bytes.Buffer
	summary, err := h.p.Reports.WriteReport(context.Background(), 1, &buf)
	require.NoError(t, err)
	assert.Equal(t, ReportSummary{Rows: 3, Sent: 2, Failed: 1}, summary)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	ts := "2026-03-01T09:30:00Z"
	assert.Equal(t, [][]string{
		{"recipient_email", "status", "failure_reason", "processed_at"},
		{"a@example.com", "sent", "", ts},
		{"b@example.com", "sent", "", ts},
		{"c@example.com", "failed", "timeout", ts},
	}, records)
}

func TestGenerateReport_MailsOperator(t *testing.T) {
	h := newHarness(Config{OperatorEmail: "ops@example.com"})
	h.p.Reports.TempDir = t.TempDir()
	seedReportRows(t, h.store)

	require.NoError(t, h.p.Reports.GenerateReport(context.Background(), 1))

	sent := h.mailer.Sent()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, "ops@example.com", msg.To)
	assert.Equal(t, "Campaign Report: Spring", msg.Subject)
	assert.Contains(t, msg.Body, "Sent: 2")
	assert.Contains(t, msg.Body, "Failed: 1")

	att, ok := msg.AttachmentData["Spring-report.csv"]
	require.True(t, ok)
	records, err := csv.NewReader(bytes.NewReader(att)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestGenerateReport_NoOperatorAddress(t *testing.T) {
	h := newHarness(Config{})
	h.p.Reports.TempDir = t.TempDir()
	seedReportRows(t, h.store)

	require.NoError(t, h.p.Reports.GenerateReport(context.Background(), 1))
	assert.Empty(t, h.mailer.Sent())
}

func TestGenerateReport_DeliveryFailureIsNotRetried(t *testing.T) {
	h := newHarness(Config{OperatorEmail: "ops@example.com"})
	h.p.Reports.TempDir = t.TempDir()
	h.mailer.FailFor["ops@example.com"] = errors.New("relay denied")
	seedReportRows(t, h.store)

	assert.NoError(t, h.p.Reports.GenerateReport(context.Background(), 1))
}
