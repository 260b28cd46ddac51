package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/mailcampaign-backend/internal/model"
)

type DeliveryLogRepositoryInterface interface {
	BulkInsert(ctx context.Context, logs []*model.DeliveryLog) error
	CountByCampaign(ctx context.Context, campaignID int) (int, error)
	StatsByCampaign(ctx context.Context, campaignID int) (model.DeliveryStats, error)
	LoggedRecipientIDs(ctx context.Context, campaignID int, recipientIDs []int) (map[int]bool, error)
	StreamByCampaign(ctx context.Context, campaignID int, fn func(*model.DeliveryLog) error) error
	ListByCampaign(ctx context.Context, campaignID, offset, limit int) ([]*model.DeliveryLog, int, error)
}

type DeliveryLogRepository struct {
	DB *sql.DB
}

// BulkInsert writes all rows in one transaction. Rows are COPYed into a
// transaction-scoped stage table and then moved over, skipping any
// snapshot entry the campaign already has a row for. Concurrent copies of
// the same chunk therefore never add a second row for a recipient.
func (r *DeliveryLogRepository) BulkInsert(ctx context.Context, logs []*model.DeliveryLog) (err error) {
	if len(logs) == 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stage := `CREATE TEMP TABLE delivery_logs_stage ON COMMIT DROP AS
        SELECT ` + deliveryLogInsertColumns + ` FROM delivery_logs WITH NO DATA`
	if _, err = tx.ExecContext(ctx, stage); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("delivery_logs_stage",
		"campaign_id", "recipient_id", "snapshot_recipient_id", "recipient_email", "status", "failure_reason", "attempt", "processed_at"))
	if err != nil {
		return fmt.Errorf("prepare copy: %w", err)
	}

	now := time.Now()
	for _, l := range logs {
		if l.ProcessedAt.IsZero() {
			l.ProcessedAt = now
		}
		if l.Attempt == 0 {
			l.Attempt = 1
		}
		var recipientID any
		if l.RecipientID != nil {
			recipientID = int64(*l.RecipientID)
		}
		var reason any
		if l.FailureReason != "" {
			reason = l.FailureReason
		}
		if _, err = stmt.ExecContext(ctx, l.CampaignID, recipientID, l.SnapshotRecipientID, l.RecipientEmail,
			string(l.Status), reason, l.Attempt, l.ProcessedAt); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("copy row: %w", err)
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return fmt.Errorf("flush copy: %w", err)
	}
	if err = stmt.Close(); err != nil {
		return err
	}

	move := `INSERT INTO delivery_logs (` + deliveryLogInsertColumns + `)
        SELECT ` + deliveryLogInsertColumns + ` FROM delivery_logs_stage
        ON CONFLICT (campaign_id, snapshot_recipient_id) DO NOTHING`
	if _, err = tx.ExecContext(ctx, move); err != nil {
		return fmt.Errorf("move staged rows: %w", err)
	}
	return tx.Commit()
}

func (r *DeliveryLogRepository) CountByCampaign(ctx context.Context, campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(DISTINCT snapshot_recipient_id) FROM delivery_logs WHERE campaign_id=$1`, campaignID).Scan(&n)
	return n, err
}

func (r *DeliveryLogRepository) StatsByCampaign(ctx context.Context, campaignID int) (model.DeliveryStats, error) {
	query := `SELECT status, COUNT(*) FROM delivery_logs WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return model.DeliveryStats{}, err
	}
	defer rows.Close()

	var stats model.DeliveryStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return model.DeliveryStats{}, err
		}
		switch model.DeliveryStatus(status) {
		case model.DeliverySent:
			stats.Sent = count
		case model.DeliveryFailed:
			stats.Failed = count
		}
		stats.Processed += count
	}
	return stats, rows.Err()
}

// LoggedRecipientIDs returns which of the snapshot ids already have a row
// for the campaign. Deleted recipients still match by their snapshot id.
func (r *DeliveryLogRepository) LoggedRecipientIDs(ctx context.Context, campaignID int, recipientIDs []int) (map[int]bool, error) {
	logged := make(map[int]bool)
	if len(recipientIDs) == 0 {
		return logged, nil
	}
	query := `
        SELECT DISTINCT snapshot_recipient_id FROM delivery_logs
        WHERE campaign_id=$1 AND snapshot_recipient_id = ANY($2)
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID, pq.Array(toInt64s(recipientIDs)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		logged[id] = true
	}
	return logged, rows.Err()
}

// StreamByCampaign walks the rows with a live cursor; nothing is buffered
// beyond the current row. Returning an error from fn stops the walk.
func (r *DeliveryLogRepository) StreamByCampaign(ctx context.Context, campaignID int, fn func(*model.DeliveryLog) error) error {
	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs WHERE campaign_id=$1 ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return err
		}
		if err := fn(l); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (r *DeliveryLogRepository) ListByCampaign(ctx context.Context, campaignID, offset, limit int) ([]*model.DeliveryLog, int, error) {
	total, err := r.CountByCampaign(ctx, campaignID)
	if err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + deliveryLogColumns + ` FROM delivery_logs
        WHERE campaign_id=$1
        ORDER BY processed_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	rows, err := r.DB.QueryContext(ctx, query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []*model.DeliveryLog{}
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

const (
	deliveryLogInsertColumns = `campaign_id, recipient_id, snapshot_recipient_id, recipient_email, status, failure_reason, attempt, processed_at`
	deliveryLogColumns       = `id, ` + deliveryLogInsertColumns
)

func scanDeliveryLog(row rowScanner) (*model.DeliveryLog, error) {
	var (
		l           model.DeliveryLog
		recipientID sql.NullInt64
		reason      sql.NullString
	)
	if err := row.Scan(&l.ID, &l.CampaignID, &recipientID, &l.SnapshotRecipientID, &l.RecipientEmail, &l.Status, &reason, &l.Attempt, &l.ProcessedAt); err != nil {
		return nil, err
	}
	if recipientID.Valid {
		id := int(recipientID.Int64)
		l.RecipientID = &id
	}
	l.FailureReason = reason.String
	return &l, nil
}

var _ DeliveryLogRepositoryInterface = (*DeliveryLogRepository)(nil)
