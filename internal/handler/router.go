// internal/handler/router.go
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/controller"
)

// NewRouter mounts the campaign and recipient routes.
func NewRouter(campaigns *controller.CampaignController, recipients *controller.RecipientController, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	// Campaign routes
	r.Post("/campaigns", campaigns.CreateCampaign)
	r.Get("/campaigns", campaigns.ListCampaigns)
	r.Get("/campaigns/{id}", campaigns.GetCampaignDetails)
	r.Post("/campaigns/{id}/send", campaigns.SendCampaign)
	r.Get("/campaigns/{id}/logs", campaigns.ListDeliveryLogs)
	r.Get("/campaigns/{id}/report.csv", campaigns.DownloadReport)

	// Recipient routes
	r.Post("/recipients", recipients.AddRecipients)
	r.Post("/recipients/{id}/unsubscribe", recipients.Unsubscribe)

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}
