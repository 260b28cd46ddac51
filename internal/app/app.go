// Package app wires configuration into the concrete stores, transports and
// queue that the binaries share.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/config"
	"github.com/unclebandit/mailcampaign-backend/internal/db"
	"github.com/unclebandit/mailcampaign-backend/internal/dispatch"
	"github.com/unclebandit/mailcampaign-backend/internal/mailer"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/reconcile"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
	"github.com/unclebandit/mailcampaign-backend/internal/service"
)

type App struct {
	Config *config.Config
	Log    zerolog.Logger
	DB     *sql.DB

	Campaigns  *repository.CampaignRepository
	Recipients *repository.RecipientRepository
	Logs       *repository.DeliveryLogRepository

	Mailer   mailer.Transport
	Queue    queue.Queue
	Pipeline *dispatch.Pipeline
	Sweeper  *reconcile.Sweeper

	CampaignService  *service.CampaignService
	RecipientService *service.RecipientService

	closers []func() error
}

// New opens the database and the queue selected by cfg.QueueDriver.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	a.Campaigns = &repository.CampaignRepository{DB: conn}
	a.Recipients = &repository.RecipientRepository{DB: conn}
	a.Logs = &repository.DeliveryLogRepository{DB: conn}
	a.Mailer = NewMailer(cfg.Mail)

	deadLetter := &dispatch.DeadLetterNotifier{
		Mailer:        a.Mailer,
		OperatorEmail: cfg.Dispatch.OperatorEmail,
		Log:           log.With().Str("comp", "dead_letter").Logger(),
	}
	queueLog := log.With().Str("comp", "queue").Logger()

	switch cfg.QueueDriver {
	case "memory":
		q := queue.NewInMemoryQueue(
			queue.WithMaxAttempts(cfg.JobMaxAttempts),
			queue.WithDeadLetter(deadLetter.Handle),
			queue.WithLogger(queueLog),
		)
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	default:
		q, err := queue.DialAMQP(cfg.AMQPURL,
			queue.WithAMQPMaxAttempts(cfg.JobMaxAttempts),
			queue.WithPrefetch(cfg.WorkerConcurrency),
			queue.WithAMQPDeadLetter(deadLetter.Handle),
			queue.WithAMQPLogger(queueLog),
		)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Queue = q
		a.closers = append(a.closers, q.Close)
	}

	a.Pipeline = dispatch.New(dispatch.Deps{
		Campaigns:  a.Campaigns,
		Recipients: a.Recipients,
		Logs:       a.Logs,
		Queue:      a.Queue,
		Mailer:     a.Mailer,
		Log:        log,
	}, dispatch.Config{
		ChunkSize:       cfg.Dispatch.ChunkSize,
		OperatorEmail:   cfg.Dispatch.OperatorEmail,
		SendConcurrency: cfg.Dispatch.SendConcurrency,
	})

	a.Sweeper = &reconcile.Sweeper{
		Campaigns:  a.Campaigns,
		Logs:       a.Logs,
		Queue:      a.Queue,
		StallAfter: cfg.StallAfter,
		Log:        log.With().Str("comp", "reconcile").Logger(),
	}

	a.CampaignService = &service.CampaignService{
		CampaignRepo:  a.Campaigns,
		RecipientRepo: a.Recipients,
		LogRepo:       a.Logs,
		Queue:         a.Queue,
		Log:           log.With().Str("comp", "campaign_service").Logger(),
	}
	a.RecipientService = &service.RecipientService{
		RecipientRepo: a.Recipients,
		Log:           log.With().Str("comp", "recipient_service").Logger(),
	}
	return a, nil
}

// Worker returns a worker running the pipeline and the stall sweep on a.Queue.
func (a *App) Worker() *service.Worker {
	return service.NewWorker(a.Pipeline, a.Queue, a.Sweeper, a.Config.ReconcileSchedule, a.Log.With().Str("comp", "worker").Logger())
}

// NewMailer builds the transport named by cfg.Driver, throttled when a
// rate is configured.
func NewMailer(cfg config.MailConfig) mailer.Transport {
	var t mailer.Transport
	switch cfg.Driver {
	case "mock":
		t = mailer.NewMockTransport(cfg.MockFailureRate, time.Now().UnixNano())
	default:
		t = mailer.NewSMTPTransport(mailer.SMTPConfig{
			Host:     cfg.Host,
			Port:     cfg.Port,
			Username: cfg.Username,
			Password: cfg.Password,
			From:     cfg.From,
		})
	}
	if cfg.RatePerSec > 0 {
		t = mailer.RateLimited(t, cfg.RatePerSec)
	}
	return t
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
