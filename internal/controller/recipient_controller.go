package controller

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/service"
)

type RecipientController struct {
	RecipientService *service.RecipientService
	Log              zerolog.Logger
}

func (c *RecipientController) AddRecipients(w http.ResponseWriter, r *http.Request) {
	var body []service.RecipientInput
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, c.Log, appErrors.NewValidation("body", err.Error()))
		return
	}

	recipients, err := c.RecipientService.AddRecipients(r.Context(), body)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": recipients})
}

func (c *RecipientController) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, c.Log, err)
		return
	}
	if err := c.RecipientService.Unsubscribe(r.Context(), id); err != nil {
		writeError(w, c.Log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
