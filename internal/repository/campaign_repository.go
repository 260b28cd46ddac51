package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)

	// Lifecycle transitions. Both are conditional writes and report
	// whether this call performed the transition.
	BeginDispatch(ctx context.Context, id int, recipientIDs []int) (bool, error)
	MarkCompleted(ctx context.Context, id int) (bool, error)

	// SnapshotIDs returns the recipient ids frozen by BeginDispatch.
	SnapshotIDs(ctx context.Context, id int) ([]int, error)

	ListStalled(ctx context.Context, dispatchedBefore time.Time) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, subject, body, status, scheduled_at, recipient_total, dispatched_at, completed_at, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, subject, body, status, scheduled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, c.Name, c.Subject, c.Body, c.Status, c.ScheduledAt, c.CreatedAt).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	args := []any{}

	if status != "" {
		query += " AND status=$1"
		countQuery += " AND status=$1"
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Lifecycle ======================

// BeginDispatch moves a Draft/Scheduled campaign to InProgress and freezes
// the recipient snapshot in the same transaction. A redelivered dispatch
// loses the race and gets false; nothing is written then.
func (r *CampaignRepository) BeginDispatch(ctx context.Context, id int, recipientIDs []int) (ok bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil || !ok {
			_ = tx.Rollback()
		}
	}()

	query := `
        UPDATE campaigns
        SET status=$1, recipient_total=$2, dispatched_at=NOW(), updated_at=NOW()
        WHERE id=$3 AND status = ANY($4)
    `
	from := pq.Array([]string{string(model.CampaignDraft), string(model.CampaignScheduled)})
	res, err := tx.ExecContext(ctx, query, model.CampaignInProgress, len(recipientIDs), id, from)
	if err != nil {
		return false, err
	}
	if ok, err = affectedOne(res); err != nil || !ok {
		return false, err
	}

	if len(recipientIDs) > 0 {
		stmt, err := tx.PrepareContext(ctx, pq.CopyIn("campaign_snapshots", "campaign_id", "recipient_id"))
		if err != nil {
			return false, fmt.Errorf("prepare snapshot copy: %w", err)
		}
		for _, rid := range recipientIDs {
			if _, err := stmt.ExecContext(ctx, id, rid); err != nil {
				_ = stmt.Close()
				return false, fmt.Errorf("copy snapshot row: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return false, fmt.Errorf("flush snapshot copy: %w", err)
		}
		if err := stmt.Close(); err != nil {
			return false, err
		}
	}
	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *CampaignRepository) SnapshotIDs(ctx context.Context, id int) ([]int, error) {
	query := `SELECT recipient_id FROM campaign_snapshots WHERE campaign_id=$1 ORDER BY recipient_id`
	rows, err := r.DB.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var rid int
		if err := rows.Scan(&rid); err != nil {
			return nil, err
		}
		ids = append(ids, rid)
	}
	return ids, rows.Err()
}

// MarkCompleted is the compare-and-set InProgress -> Completed. Only one
// concurrent caller observes true.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, id int) (bool, error) {
	query := `
        UPDATE campaigns
        SET status=$1, completed_at=NOW(), updated_at=NOW()
        WHERE id=$2 AND status=$3
    `
	res, err := r.DB.ExecContext(ctx, query, model.CampaignCompleted, id, model.CampaignInProgress)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r *CampaignRepository) ListStalled(ctx context.Context, dispatchedBefore time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
        WHERE status=$1 AND dispatched_at < $2
        ORDER BY dispatched_at`
	rows, err := r.DB.QueryContext(ctx, query, model.CampaignInProgress, dispatchedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(&c.ID, &c.Name, &c.Subject, &c.Body, &c.Status, &c.ScheduledAt,
		&c.RecipientTotal, &c.DispatchedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
