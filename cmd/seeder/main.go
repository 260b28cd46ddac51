//cmd/seeder/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/unclebandit/mailcampaign-backend/internal/config"
	"github.com/unclebandit/mailcampaign-backend/internal/db"
	"github.com/unclebandit/mailcampaign-backend/internal/logging"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
	"github.com/unclebandit/mailcampaign-backend/internal/repository"
)

type seedOptions struct {
	dsn        string
	recipients int
	campaign   string
}

func newRootCmd() *cobra.Command {
	opts := &seedOptions{}

	root := &cobra.Command{
		Use:          "seeder",
		Short:        "Create the schema and load sample recipients and a draft campaign",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.recipients < 0 {
				return fmt.Errorf("--recipients must be >= 0")
			}
			conn, err := db.Open(cmd.Context(), opts.dsn)
			if err != nil {
				return err
			}
			defer conn.Close()

			c, err := seed(cmd.Context(),
				&repository.CampaignRepository{DB: conn},
				&repository.RecipientRepository{DB: conn},
				*opts,
			)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d recipients and draft campaign %d (%s)\n", opts.recipients, c.ID, c.Name)
			return nil
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the schema only",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(cmd.Context(), opts.dsn)
			if err != nil {
				return err
			}
			defer conn.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
	root.AddCommand(migrate)

	defaultDSN := os.Getenv("DATABASE_URL")
	if cfg, err := config.Load(); err == nil {
		defaultDSN = cfg.DatabaseURL
	}
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", defaultDSN, "Postgres connection string (default from DATABASE_URL)")
	root.Flags().IntVarP(&opts.recipients, "recipients", "n", 1000, "number of sample recipients")
	root.Flags().StringVar(&opts.campaign, "campaign", "Welcome", "name of the draft campaign")
	return root
}

// seed upserts the sample recipients and creates one draft campaign.
func seed(ctx context.Context, campaigns repository.CampaignRepositoryInterface, recipients repository.RecipientRepositoryInterface, opts seedOptions) (*model.Campaign, error) {
	for i := 1; i <= opts.recipients; i++ {
		r := &model.Recipient{
			Name:   fmt.Sprintf("Sample Recipient %d", i),
			Email:  fmt.Sprintf("recipient%d@example.com", i),
			Status: model.Subscribed,
		}
		if err := recipients.Create(ctx, r); err != nil {
			return nil, fmt.Errorf("seed recipient %d: %w", i, err)
		}
	}

	c := &model.Campaign{
		Name:    opts.campaign,
		Subject: opts.campaign + " to our newsletter",
		Body:    "<h1>" + opts.campaign + "</h1><p>Thanks for subscribing.</p>",
		Status:  model.CampaignDraft,
	}
	if err := campaigns.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("seed campaign: %w", err)
	}
	return c, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log := logging.New("info", false)
		log.Error().Err(err).Msg("seeding failed")
		cancel()
		os.Exit(1)
	}
}
