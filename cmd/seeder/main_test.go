package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

type stubCampaigns struct {
	repository.CampaignRepositoryInterface
	created []*model.Campaign
}

func (s *stubCampaigns) Create(ctx context.Context, c *model.Campaign) error {
	c.ID = len(s.created) + 1
	s.created = append(s.created, c)
	return nil
}

type stubRecipients struct {
	repository.RecipientRepositoryInterface
	emails []string
	failAt int
}

func (s *stubRecipients) Create(ctx context.Context, r *model.Recipient) error {
	if s.failAt > 0 && len(s.emails)+1 == s.failAt {
		return errors.New("unique violation")
	}
	s.emails = append(s.emails, r.Email)
	return nil
}

func TestSeed(t *testing.T) {
	campaigns := &stubCampaigns{}
	recipients := &stubRecipients{}

	c, err := seed(context.Background(), campaigns, recipients, seedOptions{recipients: 3, campaign: "Welcome"})
	require.NoError(t, err)

	assert.Equal(t, []string{"recipient1@example.com", "recipient2@example.com", "recipient3@example.com"}, recipients.emails)
	assert.Equal(t, model.CampaignDraft, c.Status)
	assert.Equal(t, "Welcome", c.Name)
	assert.Len(t, campaigns.created, 1)
}

func TestSeed_RecipientFailureStops(t *testing.T) {
	campaigns := &stubCampaigns{}
	_, err := seed(context.Background(), campaigns, &stubRecipients{failAt: 2}, seedOptions{recipients: 5, campaign: "x"})
	require.Error(t, err)
	assert.Empty(t, campaigns.created)
}

func TestRootCmd_Flags(t *testing.T) {
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"-n", "25", "--campaign", "Launch"}))

	n, err := cmd.Flags().GetInt("recipients")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	name, err := cmd.Flags().GetString("campaign")
	require.NoError(t, err)
	assert.Equal(t, "Launch", name)
}
