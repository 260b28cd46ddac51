// internal/service/campaign_service.go
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/dispatch"
	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	logsPageSize    = 25
)

type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	LogRepo       repository.DeliveryLogRepositoryInterface
	Queue         queue.Queue
	Log           zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type CreateCampaignInput struct {
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Result struct for SendCampaign
type SendCampaignResult struct {
	CampaignID int        `json:"campaign_id"`
	Status     string     `json:"status"`
	ExecuteAt  *time.Time `json:"execute_at,omitempty"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

type CampaignDetails struct {
	model.Campaign
	Stats model.DeliveryStats `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CampaignService) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*model.Campaign, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Subject = strings.TrimSpace(in.Subject)
	switch {
	case in.Name == "":
		return nil, appErrors.NewValidation("name", "must not be empty")
	case in.Subject == "":
		return nil, appErrors.NewValidation("subject", "must not be empty")
	case strings.TrimSpace(in.Body) == "":
		return nil, appErrors.NewValidation("body", "must not be empty")
	}

	c := &model.Campaign{
		Name:        in.Name,
		Subject:     in.Subject,
		Body:        in.Body,
		Status:      model.CampaignDraft,
		ScheduledAt: in.ScheduledAt,
	}
	if in.ScheduledAt != nil {
		c.Status = model.CampaignScheduled
	}

	if err := s.CampaignRepo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.Log.Info().Int("campaign_id", c.ID).Str("status", string(c.Status)).Msg("campaign created")

	// A scheduled campaign goes out at its time without a separate send call.
	// Should the publish fail, the campaign stays scheduled and SendCampaign
	// can queue it again.
	if c.ScheduledAt != nil {
		if _, err := s.queueDispatch(ctx, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ListCampaigns fetches campaigns with pagination, newest first
func (s *CampaignService) ListCampaigns(ctx context.Context, page, pageSize int, status string) ([]model.Campaign, Pagination, error) {
	page, pageSize = normalizePage(page, pageSize)
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(ctx, offset, pageSize, status)
	if err != nil {
		return nil, Pagination{}, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}
	return campaigns, newPagination(page, pageSize, total), nil
}

// GetCampaignDetailsWithStats returns the campaign with its delivery counts.
// Before dispatch the total is the current subscribed audience; afterwards
// it is the snapshot frozen at dispatch time.
func (s *CampaignService) GetCampaignDetailsWithStats(ctx context.Context, campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.LogRepo.StatsByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("campaign stats: %w", err)
	}

	stats.Total = campaign.RecipientTotal
	if campaign.Status.Sendable() {
		n, err := s.RecipientRepo.CountSubscribed(ctx)
		if err != nil {
			return nil, fmt.Errorf("count audience: %w", err)
		}
		stats.Total = n
	}

	return &CampaignDetails{Campaign: *campaign, Stats: stats}, nil
}

// SendCampaign queues the dispatch job. A campaign scheduled in the future
// is queued for its scheduled time.
func (s *CampaignService) SendCampaign(ctx context.Context, campaignID int) (*SendCampaignResult, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.Status.Sendable() {
		return nil, appErrors.NewCampaignNotSendable(campaignID, string(campaign.Status))
	}
	return s.queueDispatch(ctx, campaign)
}

// queueDispatch publishes the dispatch job, deferred to ScheduledAt when
// that lies in the future. Duplicate jobs are harmless: only one wins the
// Draft/Scheduled -> InProgress transition.
func (s *CampaignService) queueDispatch(ctx context.Context, campaign *model.Campaign) (*SendCampaignResult, error) {
	campaignID := campaign.ID
	result := &SendCampaignResult{CampaignID: campaignID, Status: "queued"}
	var opts []queue.PublishOption
	if at := campaign.ScheduledAt; at != nil && at.After(s.now()) {
		opts = append(opts, queue.At(*at))
		result.Status = "scheduled"
		result.ExecuteAt = at
	}

	if err := s.Queue.Publish(ctx, dispatch.TopicDispatch, dispatch.DispatchJob{CampaignID: campaignID}, opts...); err != nil {
		return nil, fmt.Errorf("queue dispatch: %w", err)
	}

	s.Log.Info().Int("campaign_id", campaignID).Str("result", result.Status).Msg("campaign send requested")
	return result, nil
}

// ListDeliveryLogs pages through a campaign's delivery rows, newest first.
func (s *CampaignService) ListDeliveryLogs(ctx context.Context, campaignID, page int) ([]model.DeliveryLog, Pagination, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, Pagination{}, err
	}
	page, _ = normalizePage(page, logsPageSize)

	ptrs, total, err := s.LogRepo.ListByCampaign(ctx, campaignID, (page-1)*logsPageSize, logsPageSize)
	if err != nil {
		return nil, Pagination{}, err
	}
	logs := make([]model.DeliveryLog, len(ptrs))
	for i, l := range ptrs {
		logs[i] = *l
	}
	return logs, newPagination(page, logsPageSize, total), nil
}

func normalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func newPagination(page, pageSize, total int) Pagination {
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
}
