package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

type RecipientService struct {
	RecipientRepo repository.RecipientRepositoryInterface
	Log           zerolog.Logger
}

type RecipientInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// AddRecipients validates every entry before writing any of them. Known
// addresses keep their subscription status.
func (s *RecipientService) AddRecipients(ctx context.Context, in []RecipientInput) ([]model.Recipient, error) {
	if len(in) == 0 {
		return nil, appErrors.NewValidation("recipients", "at least one recipient is required")
	}

	recs := make([]*model.Recipient, len(in))
	for i, r := range in {
		addr, err := mail.ParseAddress(strings.TrimSpace(r.Email))
		if err != nil {
			return nil, appErrors.NewValidation(fmt.Sprintf("recipients[%d].email", i), err.Error())
		}
		recs[i] = &model.Recipient{
			Name:   strings.TrimSpace(r.Name),
			Email:  strings.ToLower(addr.Address),
			Status: model.Subscribed,
		}
	}

	out := make([]model.Recipient, 0, len(recs))
	for _, rec := range recs {
		if err := s.RecipientRepo.Create(ctx, rec); err != nil {
			return nil, fmt.Errorf("create recipient %s: %w", rec.Email, err)
		}
		out = append(out, *rec)
	}
	s.Log.Info().Int("count", len(out)).Msg("recipients added")
	return out, nil
}

// Unsubscribe excludes the recipient from future snapshots. Campaigns
// already in progress record it as failed when its chunk runs.
func (s *RecipientService) Unsubscribe(ctx context.Context, id int) error {
	if err := s.RecipientRepo.Unsubscribe(ctx, id); err != nil {
		return err
	}
	s.Log.Info().Int("recipient_id", id).Msg("recipient unsubscribed")
	return nil
}
