package repository

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	appErrors "github.com/unclebandit/mailcampaign-backend/internal/errors"
	"github.com/unclebandit/mailcampaign-backend/internal/model"
)

// RecipientRepositoryInterface defines methods used by the dispatch pipeline
type RecipientRepositoryInterface interface {
	Create(ctx context.Context, r *model.Recipient) error
	GetByIDs(ctx context.Context, ids []int) ([]*model.Recipient, error)
	ListSubscribedIDs(ctx context.Context) ([]int, error)
	CountSubscribed(ctx context.Context) (int, error)
	Unsubscribe(ctx context.Context, id int) error
}

// RecipientRepository is the concrete implementation
type RecipientRepository struct {
	DB *sql.DB
}

// Create inserts a recipient; an existing address keeps its row and status.
func (r *RecipientRepository) Create(ctx context.Context, rec *model.Recipient) error {
	if rec.Status == "" {
		rec.Status = model.Subscribed
	}
	query := `
        INSERT INTO recipients (name, email, status)
        VALUES ($1, $2, $3)
        ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
        RETURNING id, status, created_at
    `
	return r.DB.QueryRowContext(ctx, query, rec.Name, rec.Email, rec.Status).Scan(&rec.ID, &rec.Status, &rec.CreatedAt)
}

// GetByIDs loads the named recipients. Ids without a row are absent from the result.
func (r *RecipientRepository) GetByIDs(ctx context.Context, ids []int) ([]*model.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
        SELECT id, name, email, status, created_at
        FROM recipients
        WHERE id = ANY($1)
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(toInt64s(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := make([]*model.Recipient, 0, len(ids))
	for rows.Next() {
		var rec model.Recipient
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Email, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, &rec)
	}
	return recipients, rows.Err()
}

// ListSubscribedIDs is the dispatch snapshot: every subscribed id, ascending.
func (r *RecipientRepository) ListSubscribedIDs(ctx context.Context) ([]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM recipients WHERE status=$1 ORDER BY id`, model.Subscribed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *RecipientRepository) CountSubscribed(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients WHERE status=$1`, model.Subscribed).Scan(&n)
	return n, err
}

func (r *RecipientRepository) Unsubscribe(ctx context.Context, id int) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE recipients SET status=$1 WHERE id=$2`, model.Unsubscribed, id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.ErrRecipientNotFound
	}
	return nil
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
