// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/dispatch"
	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/service"
)

// ReportWriter streams a campaign's delivery report as CSV.
type ReportWriter interface {
	WriteReport(ctx context.Context, campaignID int, w io.Writer) (dispatch.ReportSummary, error)
}

type CampaignController struct {
	CampaignService *service.CampaignService
	Reports         ReportWriter
	Log             zerolog.Logger
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body service.CreateCampaignInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}

	campaign, err := c.CampaignService.CreateCampaign(r.Context(), body)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, campaign)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, pagination, err := c.CampaignService.ListCampaigns(
		r.Context(),
		queryInt(r, "page"),
		queryInt(r, "page_size"),
		r.URL.Query().Get("status"),
	)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	details, err := c.CampaignService.GetCampaignDetailsWithStats(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (c *CampaignController) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	result, err := c.CampaignService.SendCampaign(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (c *CampaignController) ListDeliveryLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	logs, pagination, err := c.CampaignService.ListDeliveryLogs(r.Context(), id, queryInt(r, "page"))
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       logs,
		"pagination": pagination,
	})
}

// DownloadReport streams the same CSV the operator receives by mail.
func (c *CampaignController) DownloadReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	campaign, err := c.CampaignService.CampaignRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=`+strconv.Quote(campaign.Name+"-report.csv"))
	if _, err := c.Reports.WriteReport(r.Context(), id, w); err != nil {
		// Headers are already out; all that is left is to cut the body short.
		c.Log.Error().Err(err).Int("campaign_id", id).Msg("report stream aborted")
	}
}
