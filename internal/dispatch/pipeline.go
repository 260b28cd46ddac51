package dispatch

import (
	"github.com/rs/zerolog"

	"github.com/unclebandit/mailcampaign-backend/internal/mailer"
	"github.com/unclebandit/mailcampaign-backend/internal/queue"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

const DefaultChunkSize = 500

type Config struct {
	ChunkSize       int
	OperatorEmail   string
	SendConcurrency int
}

type Deps struct {
	Campaigns  repository.CampaignRepositoryInterface
	Recipients repository.RecipientRepositoryInterface
	Logs       repository.DeliveryLogRepositoryInterface
	Queue      queue.Queue
	Mailer     mailer.Transport
	Log        zerolog.Logger
}

type Pipeline struct {
	Dispatcher *Dispatcher
	Worker     *BatchWorker
	Monitor    *CompletionMonitor
	Reports    *ReportGenerator
}

func New(deps Deps, cfg Config) *Pipeline {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.SendConcurrency < 1 {
		cfg.SendConcurrency = 1
	}

	reports := &ReportGenerator{
		Campaigns:     deps.Campaigns,
		Logs:          deps.Logs,
		Mailer:        deps.Mailer,
		OperatorEmail: cfg.OperatorEmail,
		Log:           deps.Log.With().Str("comp", "report").Logger(),
	}
	return &Pipeline{
		Dispatcher: &Dispatcher{
			Campaigns:  deps.Campaigns,
			Recipients: deps.Recipients,
			Logs:       deps.Logs,
			Queue:      deps.Queue,
			ChunkSize:  cfg.ChunkSize,
			Log:        deps.Log.With().Str("comp", "dispatcher").Logger(),
		},
		Worker: &BatchWorker{
			Campaigns:   deps.Campaigns,
			Recipients:  deps.Recipients,
			Logs:        deps.Logs,
			Queue:       deps.Queue,
			Mailer:      deps.Mailer,
			Concurrency: cfg.SendConcurrency,
			Log:         deps.Log.With().Str("comp", "batch_worker").Logger(),
		},
		Monitor: &CompletionMonitor{
			Campaigns: deps.Campaigns,
			Logs:      deps.Logs,
			Queue:     deps.Queue,
			Reports:   reports,
			Log:       deps.Log.With().Str("comp", "completion").Logger(),
		},
		Reports: reports,
	}
}
